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

package writers

import (
	"context"
	"fmt"

	"github.com/aaronlmathis/callstream/core"
)

// Snapshotter is anything that can produce a point-in-time copy of its
// {call, count} table.
type Snapshotter interface {
	Snapshot() []core.Record
}

// ExportSnapshot writes one snapshot of source to sink, then flushes and closes
// the sink. It returns the number of records written.
func ExportSnapshot(ctx context.Context, source Snapshotter, sink core.DataSink) (written int, err error) {
	defer func() {
		if cerr := sink.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close snapshot sink: %w", cerr)
		}
	}()

	for _, record := range source.Snapshot() {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		if err := sink.Write(ctx, record); err != nil {
			return written, fmt.Errorf("write snapshot record %d: %w", written, err)
		}
		written++
	}

	if err := sink.Flush(); err != nil {
		return written, fmt.Errorf("flush snapshot: %w", err)
	}
	return written, nil
}
