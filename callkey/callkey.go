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

// Package callkey derives the canonical pairing key for a call between two endpoints
// and parses comma-joined key lists used by multi-key queries.
package callkey

import (
	"fmt"
	"strings"

	"github.com/aaronlmathis/callstream/core"
)

// Separator joins the two endpoints of a call key.
const Separator = " - "

// ArgsSeparator joins keys in a multi-key query argument.
const ArgsSeparator = ","

// Format returns the call key for an ordered pair of endpoints.
// The key is order dependent: Format(a, b) and Format(b, a) differ unless a == b.
func Format(from, to string) string {
	return from + Separator + to
}

// FromRecord validates the endpoint fields of a record and formats its call key.
// A missing, nil or non-string endpoint fails with an error matching core.ErrInvalidInput.
func FromRecord(record core.Record, fromField, toField string) (string, error) {
	from, err := endpoint(record, fromField)
	if err != nil {
		return "", err
	}
	to, err := endpoint(record, toField)
	if err != nil {
		return "", err
	}
	return Format(from, to), nil
}

func endpoint(record core.Record, field string) (string, error) {
	value, exists := record[field]
	if !exists {
		return "", &core.InputError{Field: field, Err: fmt.Errorf("field is missing")}
	}
	if value == nil {
		return "", &core.InputError{Field: field, Err: fmt.Errorf("field is null")}
	}
	str, ok := value.(string)
	if !ok {
		return "", &core.InputError{Field: field, Err: fmt.Errorf("expected string, got %T", value)}
	}
	return str, nil
}

// SplitArgs splits a comma-joined list of keys, dropping zero-length candidates
// produced by leading, trailing or doubled commas.
func SplitArgs(raw string) []string {
	parts := strings.Split(raw, ArgsSeparator)
	keys := make([]string, 0, len(parts))
	for _, part := range parts {
		if len(part) > 0 {
			keys = append(keys, part)
		}
	}
	return keys
}

// JoinArgs is the inverse of SplitArgs for non-empty keys.
func JoinArgs(keys ...string) string {
	return strings.Join(keys, ArgsSeparator)
}
