// Copyright 2024 The append-fs Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package extent implements the per-inode extent list: read reassembly
// from a data-log reader, and the truncate-trim operation of invariant 4.
// It holds no file descriptors of its own; reading the underlying bytes is
// delegated to a Source so this package stays testable against an
// in-memory fake.
package extent

// Extent is one (logical_offset, data_offset, length) triple, appended in
// flush order. Extents of one inode may overlap in logical range — later
// extents win — and may leave holes.
type Extent struct {
	Logical    uint64
	DataOffset uint64
	Length     uint32
}

// End returns the exclusive logical end of the extent.
func (e Extent) End() uint64 {
	return e.Logical + uint64(e.Length)
}

// Source reads raw bytes out of the data log. datalog.Log satisfies this.
type Source interface {
	ReadAt(buf []byte, offset int64) (int, error)
}

// Read reassembles bytes of a file's logical content starting at offset,
// given its extent list (oldest-first, i.e. flush order) and its recorded
// size, pulling covered bytes from src. It implements §4.4 literally:
//  1. offset >= size: return 0 bytes.
//  2. walk extents oldest-first, overwriting out for each overlap so later
//     (newer) extents win over earlier ones covering the same bytes.
//  3. any logical byte not covered by any extent is zero (out is
//     zero-filled up front, so holes need no special casing).
//  4. the total is capped at size - offset.
func Read(src Source, out []byte, extents []Extent, size uint64, offset uint64) (int, error) {
	if offset >= size {
		return 0, nil
	}

	want := uint64(len(out))
	if offset+want > size {
		want = size - offset
	}
	if want == 0 {
		return 0, nil
	}
	out = out[:want]
	for i := range out {
		out[i] = 0
	}

	reqEnd := offset + want
	for _, e := range extents {
		eEnd := e.End()
		if eEnd <= offset || e.Logical >= reqEnd {
			continue
		}
		start := e.Logical
		if start < offset {
			start = offset
		}
		end := eEnd
		if end > reqEnd {
			end = reqEnd
		}
		if start >= end {
			continue
		}
		n := end - start
		dataOff := int64(e.DataOffset + (start - e.Logical))
		if _, err := src.ReadAt(out[start-offset:start-offset+n], dataOff); err != nil {
			return 0, err
		}
	}

	return int(want), nil
}

// Trim applies invariant 4 after a truncate to newSize: extents wholly at
// or past newSize are dropped, and an extent straddling newSize is
// shortened so logical_offset+length <= newSize.
func Trim(extents []Extent, newSize uint64) []Extent {
	out := extents[:0]
	for _, e := range extents {
		if e.Logical >= newSize {
			continue
		}
		if e.End() > newSize {
			e.Length = uint32(newSize - e.Logical)
		}
		out = append(out, e)
	}
	return out
}
