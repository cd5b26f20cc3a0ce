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

// Package wbuffer implements the per-open-file write-coalescing buffer of
// §4.5: logical writes land in a contiguous in-memory buffer, flushing
// whenever the buffer fills or a non-sequential write arrives, and every
// flush appends exactly one extent plus its EXTENT record.
package wbuffer

import "fmt"

// DefaultSize is the write buffer size used when a filesystem does not
// override it via set_options.
const DefaultSize = 4 << 20

// MinSize is the smallest write buffer size set_options accepts.
const MinSize = 4 << 10

// Sink is where a flush sends its bytes: append them to the data log and
// record the resulting extent/size-growth/EXTENT-record side effects. The
// write buffer itself holds no inode or data-log reference — the caller
// (the root filesystem package, driving one per open file) supplies this
// so wbuffer stays unit-testable against a fake.
type Sink interface {
	// Flush is called with the buffered bytes and the logical offset they
	// start at. It must append the bytes to the data log, add the
	// resulting extent to the owning inode, grow size, and append the
	// EXTENT record, in that order (§4.5 steps 1-5).
	Flush(logicalOffset uint64, data []byte) error
}

// Buffer is one open file's coalescing write buffer.
type Buffer struct {
	sink Sink
	cap  int

	offset uint64 // buffer_offset: logical position of byte 0 of buf
	buf    []byte // buffer_used == len(buf)
}

// New creates a buffer of the given capacity (callers are responsible for
// enforcing MinSize; a filesystem's set_options does that once, up front).
func New(sink Sink, capacity int) *Buffer {
	return &Buffer{sink: sink, cap: capacity, buf: make([]byte, 0, capacity)}
}

// Empty reports whether the buffer currently holds no bytes.
func (b *Buffer) Empty() bool {
	return len(b.buf) == 0
}

// Write implements the write(file, bytes, offset) contract of §4.5: a
// non-sequential write relative to the buffer's current tail forces a
// flush first; the buffer then absorbs as much of p as fits, flushing
// whenever full, until all of p is consumed.
func (b *Buffer) Write(p []byte, offset uint64) error {
	if !b.Empty() && offset != b.offset+uint64(len(b.buf)) {
		if err := b.Flush(); err != nil {
			return err
		}
	}
	if b.Empty() {
		b.offset = offset
	}

	for len(p) > 0 {
		room := b.cap - len(b.buf)
		if room == 0 {
			next := b.offset + uint64(len(b.buf))
			if err := b.Flush(); err != nil {
				return err
			}
			b.offset = next
			room = b.cap
		}
		n := room
		if n > len(p) {
			n = len(p)
		}
		b.buf = append(b.buf, p[:n]...)
		p = p[n:]
	}
	return nil
}

// Flush sends any buffered bytes to the sink and resets the buffer. It is
// a no-op when the buffer is already empty.
func (b *Buffer) Flush() error {
	if b.Empty() {
		return nil
	}
	if err := b.sink.Flush(b.offset, b.buf); err != nil {
		return fmt.Errorf("wbuffer: flush at offset %d: %w", b.offset, err)
	}
	b.buf = b.buf[:0]
	return nil
}
