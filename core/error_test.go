//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Copyright (C) 2025 Aaron Mathis aaron.mathis@gmail.com
//
// This file is part of CallStream.
//
// CallStream is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// CallStream is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with CallStream. If not, see https://www.gnu.org/licenses/.

package core

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInputError_IsInvalidInput(t *testing.T) {
	base := errors.New("field is missing")
	err := &InputError{Field: FieldFrom, Err: base}

	assert.True(t, errors.Is(err, ErrInvalidInput))
	assert.True(t, errors.Is(err, base))
	assert.Contains(t, err.Error(), FieldFrom)

	wrapped := fmt.Errorf("format call: %w", err)
	assert.True(t, errors.Is(wrapped, ErrInvalidInput))

	var inputErr *InputError
	assert.True(t, errors.As(wrapped, &inputErr))
	assert.Equal(t, FieldFrom, inputErr.Field)
}

func TestCallRecord_Record(t *testing.T) {
	rec := CallRecord{From: "1234123401", To: "1234123402", Duration: 42}.Record()

	assert.Equal(t, "1234123401", rec[FieldFrom])
	assert.Equal(t, "1234123402", rec[FieldTo])
	assert.Equal(t, 42, rec[FieldDuration])
}
