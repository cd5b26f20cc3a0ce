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

package appendfs

import (
	"io"
	"sort"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/htbegin/append-fs/extent"
	"github.com/htbegin/append-fs/inode"
	"github.com/htbegin/append-fs/record"
	"github.com/htbegin/append-fs/wbuffer"
)

// File is an open-file handle (§4.7): the owning filesystem, the target
// inode, a write-coalescing buffer, and the current file position.
// Directory targets fail OpenFile with EISDIR; there is no directory
// handle in this design (IterateChildren takes a path directly instead).
type File struct {
	fs    *Filesystem
	row   *inode.Row
	buf   *wbuffer.Buffer
	pos   uint64
	flags int
}

// fileSink adapts a *File to wbuffer.Sink. It exists as a distinct type
// because Buffer.Flush() (the no-argument "send what's pending" call
// File itself exposes) and Sink.Flush(offset, data) (the coalescing
// buffer's callback) cannot share one method name on the same receiver.
type fileSink struct {
	f *File
}

// Flush implements wbuffer.Sink, performing the five steps of §4.5's
// flush contract: append to the data log, extend the inode's extent
// list, grow size/mtime, and append the EXTENT record.
func (s fileSink) Flush(logicalOffset uint64, data []byte) error {
	f := s.f
	f.fs.data.Reserve(int64(len(data)))
	dataOffset, err := f.fs.data.Append(data)
	if err != nil {
		return err
	}

	e := extent.Extent{
		Logical:    logicalOffset,
		DataOffset: uint64(dataOffset),
		Length:     uint32(len(data)),
	}
	f.row.Extents = append(f.row.Extents, e)

	newSize := logicalOffset + uint64(len(data))
	if newSize > f.row.Size {
		f.row.Size = newSize
	}
	f.row.Mtime = f.fs.now()

	payload := record.MarshalExtent(record.ExtentFields{
		InodeID:    uint64(f.row.ID),
		Logical:    e.Logical,
		DataOffset: e.DataOffset,
		Length:     e.Length,
		NewSize:    f.row.Size,
	})
	return f.fs.append(record.Extent, payload)
}

// OpenFile opens path for reading and writing (§4.7). O_TRUNC truncates to
// zero before returning; O_APPEND positions the handle at the current
// size. A directory target fails with EISDIR.
func (fs *Filesystem) OpenFile(path string, flags int) (*File, error) {
	path = normalizePath(path)
	r := fs.table.FindLiveByPath(path)
	if r == nil {
		return nil, syscall.ENOENT
	}
	if r.IsDir() {
		return nil, syscall.EISDIR
	}

	if flags&unix.O_TRUNC != 0 {
		if err := fs.Truncate(path, 0); err != nil {
			return nil, err
		}
	}

	f := &File{fs: fs, row: r, flags: flags}
	f.buf = wbuffer.New(fileSink{f}, fs.bufferSize)
	if flags&unix.O_APPEND != 0 {
		f.pos = r.Size
	}
	return f, nil
}

// WriteAt implements the write(file, bytes, offset) contract of §4.5
// directly: it hands off to the coalescing buffer and updates the file
// position to offset+len(p) on success.
func (f *File) WriteAt(p []byte, offset uint64) (int, error) {
	if err := f.buf.Write(p, offset); err != nil {
		return 0, err
	}
	f.pos = offset + uint64(len(p))
	return len(p), nil
}

// Write writes p at the handle's current position, as WriteAt(p, f.pos)
// would, and advances the position by len(p).
func (f *File) Write(p []byte) (int, error) {
	return f.WriteAt(p, f.pos)
}

// ReadAt implements §4.4's read path at an explicit offset: any bytes
// still sitting in the write buffer are flushed first so a read always
// sees its own prior writes, then extent.Read reassembles the result.
func (f *File) ReadAt(p []byte, offset uint64) (int, error) {
	if !f.buf.Empty() {
		if err := f.buf.Flush(); err != nil {
			return 0, err
		}
	}
	return extent.Read(f.fs.data, p, f.row.Extents, f.row.Size, offset)
}

// Read reads from the handle's current position and advances it by the
// number of bytes returned.
func (f *File) Read(p []byte) (int, error) {
	n, err := f.ReadAt(p, f.pos)
	f.pos += uint64(n)
	return n, err
}

// Flush sends any bytes still sitting in the write buffer to the data and
// metadata logs without closing the handle.
func (f *File) Flush() error {
	return f.buf.Flush()
}

// Close flushes the write buffer. The buffer is not released: it stays
// attached to the handle until the handle itself is dropped.
func (f *File) Close() error {
	return f.buf.Flush()
}

// Fsync flushes the write buffer, then fsyncs the data log; if datasync
// is false it also fsyncs the metadata log (§4.7).
func (f *File) Fsync(datasync bool) error {
	if err := f.buf.Flush(); err != nil {
		return err
	}
	if err := f.fs.data.File().Sync(); err != nil {
		return err
	}
	if datasync {
		return nil
	}
	return f.fs.meta.File().Sync()
}

// Seek implements §4.8: SEEK_SET/SEEK_CUR/SEEK_END with standard
// base+offset math, plus SEEK_DATA/SEEK_HOLE. A handle with a non-empty
// write buffer is flushed first, since both the size and the extent list
// that SEEK_END/SEEK_DATA/SEEK_HOLE consult may otherwise be stale.
func (f *File) Seek(offset int64, whence int) (int64, error) {
	if !f.buf.Empty() {
		if err := f.buf.Flush(); err != nil {
			return 0, err
		}
	}

	switch whence {
	case io.SeekStart, io.SeekCurrent, io.SeekEnd:
		var base int64
		switch whence {
		case io.SeekStart:
			base = 0
		case io.SeekCurrent:
			base = int64(f.pos)
		case io.SeekEnd:
			base = int64(f.row.Size)
		}
		newPos := base + offset
		if newPos < 0 {
			return 0, syscall.EINVAL
		}
		f.pos = uint64(newPos)
		return newPos, nil

	case unix.SEEK_DATA:
		return f.seekData(offset)

	case unix.SEEK_HOLE:
		return f.seekHole(offset)

	default:
		return 0, syscall.EINVAL
	}
}

// seekData returns the first position at or after offset that is covered
// by an extent, ENXIO if offset is at or past EOF or no such position
// exists (§4.8).
func (f *File) seekData(offset int64) (int64, error) {
	if offset < 0 {
		return 0, syscall.EINVAL
	}
	start := uint64(offset)
	size := f.row.Size
	if start >= size {
		return 0, syscall.ENXIO
	}

	for _, iv := range mergedCoverage(f.row.Extents, size) {
		if iv[1] <= start {
			continue
		}
		pos := iv[0]
		if pos < start {
			pos = start
		}
		f.pos = pos
		return int64(pos), nil
	}
	return 0, syscall.ENXIO
}

// seekHole returns the first position at or after offset that is not
// covered by any extent, or size if offset's tail is fully covered
// (§4.8).
func (f *File) seekHole(offset int64) (int64, error) {
	if offset < 0 {
		return 0, syscall.EINVAL
	}
	pos := uint64(offset)
	size := f.row.Size
	if pos > size {
		return 0, syscall.ENXIO
	}

	for _, iv := range mergedCoverage(f.row.Extents, size) {
		if iv[1] <= pos {
			continue
		}
		if iv[0] > pos {
			break
		}
		pos = iv[1]
	}
	f.pos = pos
	return int64(pos), nil
}

// mergedCoverage returns the sorted, non-overlapping union of extent
// ranges clipped to [0, size). Overlap resolution for *values* is "last
// flush wins" (extent.Read), but for seek purposes a byte only needs to
// be covered by *some* extent to count as data, so the merge here is a
// plain interval union regardless of flush order.
func mergedCoverage(extents []extent.Extent, size uint64) [][2]uint64 {
	if len(extents) == 0 {
		return nil
	}
	ivals := make([][2]uint64, 0, len(extents))
	for _, e := range extents {
		start, end := e.Logical, e.End()
		if start >= size {
			continue
		}
		if end > size {
			end = size
		}
		if start >= end {
			continue
		}
		ivals = append(ivals, [2]uint64{start, end})
	}
	sort.Slice(ivals, func(i, j int) bool { return ivals[i][0] < ivals[j][0] })

	merged := ivals[:0]
	for _, iv := range ivals {
		if len(merged) > 0 && iv[0] <= merged[len(merged)-1][1] {
			if iv[1] > merged[len(merged)-1][1] {
				merged[len(merged)-1][1] = iv[1]
			}
			continue
		}
		merged = append(merged, iv)
	}
	return merged
}
