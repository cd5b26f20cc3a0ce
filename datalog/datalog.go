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

// Package datalog owns the append-only data log file: the flat byte blob
// that extents point into. It never interprets the bytes it stores; extent
// and wbuffer are the ones that know what a data-log offset means.
package datalog

import (
	"os"

	"github.com/detailyang/go-fallocate"
)

// Log is the data log backing file.
type Log struct {
	f   *os.File
	end int64
}

// Open opens (creating if necessary, mode 0644) the data log file at path.
// end is the current length of the file, i.e. the offset the next Append
// will land at — callers recover this from the extent map during replay,
// not from the file's stat size, since a crash can leave garbage bytes
// past the last extent that replay decided to ignore.
func Open(path string, end int64) (*Log, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, err
	}
	return &Log{f: f, end: end}, nil
}

// File returns the backing *os.File, for Fsync.
func (l *Log) File() *os.File {
	return l.f
}

// Close closes the backing file.
func (l *Log) Close() error {
	return l.f.Close()
}

// Append writes data at the log's current end, returning the offset it was
// written at, and advances the end by len(data). That end starts at the
// value given to Open, not at the file's physical size, so any bytes
// lying past it in the file are overwritten; bytes before it never are.
func (l *Log) Append(data []byte) (offset int64, err error) {
	offset = l.end
	if _, err = l.f.WriteAt(data, offset); err != nil {
		return 0, err
	}
	l.end += int64(len(data))
	return offset, nil
}

// ReadAt reads len(buf) bytes starting at the given data-log offset. It is
// a thin pass-through to the backing file's ReadAt (pread semantics: no
// effect on any shared file position).
func (l *Log) ReadAt(buf []byte, offset int64) (int, error) {
	return l.f.ReadAt(buf, offset)
}

// End returns the current logical end of the data log (the offset the next
// Append will use).
func (l *Log) End() int64 {
	return l.end
}

// Reserve asks the filesystem to preallocate n bytes starting at the
// current end of the log, as a best-effort hint ahead of a large sequential
// flush. Fallocate failures (ENOSYS on filesystems that don't support it,
// ENOTSUP, etc.) are swallowed: this is purely an optimization, never
// load-bearing for correctness — an Append that follows a failed Reserve
// still succeeds, it just costs the usual on-demand block allocation.
func (l *Log) Reserve(n int64) {
	if n <= 0 {
		return
	}
	_ = fallocate.Fallocate(l.f, l.end, n)
}
