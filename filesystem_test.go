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

package appendfs_test

import (
	"os"
	"syscall"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/jacobsa/timeutil"

	. "github.com/jacobsa/ogletest"

	"github.com/htbegin/append-fs"
)

func TestFilesystem(t *testing.T) { RunTests(t) }

type FilesystemTest struct {
	dir   string
	clock timeutil.SimulatedClock
	fs    *appendfs.Filesystem
}

func init() { RegisterTestSuite(&FilesystemTest{}) }

func (t *FilesystemTest) SetUp(ti *TestInfo) {
	var err error
	t.dir, err = os.MkdirTemp("", "appendfs-test")
	AssertEq(nil, err)

	t.clock.SetTime(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))

	t.fs, err = appendfs.Open(t.dir, &t.clock)
	AssertEq(nil, err)
}

func (t *FilesystemTest) TearDown() {
	AssertEq(nil, os.RemoveAll(t.dir))
}

// S1: create-write-reopen-read tail.
func (t *FilesystemTest) CreateWriteReopenReadTail() {
	_, err := t.fs.Mkdir("/demo", 0755)
	AssertEq(nil, err)
	_, err = t.fs.CreateFile("/demo/file.bin", 0644)
	AssertEq(nil, err)

	const size = 4202496
	payload := make([]byte, size)
	for i := range payload {
		payload[i] = byte(i & 0xFF)
	}

	f, err := t.fs.OpenFile("/demo/file.bin", 0)
	AssertEq(nil, err)
	_, err = f.WriteAt(payload, 0)
	AssertEq(nil, err)
	AssertEq(nil, f.Flush())
	AssertEq(nil, f.Close())

	AssertEq(nil, t.fs.Close())
	t.fs, err = appendfs.Open(t.dir, &t.clock)
	AssertEq(nil, err)

	attr, err := t.fs.Stat("/demo/file.bin")
	AssertEq(nil, err)
	ExpectEq(uint64(size), attr.Size)

	f2, err := t.fs.OpenFile("/demo/file.bin", 0)
	AssertEq(nil, err)
	tail := make([]byte, 64)
	n, err := f2.ReadAt(tail, 4202432)
	AssertEq(nil, err)
	AssertEq(64, n)
	for k, b := range tail {
		ExpectEq(byte((4202432+k)&0xFF), b)
	}
}

// S2: hole read.
func (t *FilesystemTest) HoleRead() {
	_, err := t.fs.CreateFile("/h", 0644)
	AssertEq(nil, err)

	aa := make([]byte, 4096)
	for i := range aa {
		aa[i] = 0xAA
	}

	f, err := t.fs.OpenFile("/h", 0)
	AssertEq(nil, err)
	_, err = f.WriteAt(aa, 1048576)
	AssertEq(nil, err)
	AssertEq(nil, f.Flush())

	head := make([]byte, 16)
	n, err := f.ReadAt(head, 0)
	AssertEq(nil, err)
	AssertEq(16, n)
	for _, b := range head {
		ExpectEq(byte(0), b)
	}

	body := make([]byte, 16)
	n, err = f.ReadAt(body, 1048576)
	AssertEq(nil, err)
	AssertEq(16, n)
	for _, b := range body {
		ExpectEq(byte(0xAA), b)
	}
	AssertEq(nil, f.Close())

	attr, err := t.fs.Stat("/h")
	AssertEq(nil, err)
	ExpectEq(uint64(1052672), attr.Size)
}

// S3: overlap, last flush wins.
func (t *FilesystemTest) Overlap() {
	_, err := t.fs.CreateFile("/o", 0644)
	AssertEq(nil, err)

	f, err := t.fs.OpenFile("/o", 0)
	AssertEq(nil, err)

	a := make([]byte, 1024)
	for i := range a {
		a[i] = 0x11
	}
	_, err = f.WriteAt(a, 0)
	AssertEq(nil, err)
	AssertEq(nil, f.Flush())

	b := make([]byte, 512)
	for i := range b {
		b[i] = 0x22
	}
	_, err = f.WriteAt(b, 256)
	AssertEq(nil, err)
	AssertEq(nil, f.Flush())

	out := make([]byte, 1024)
	n, err := f.ReadAt(out, 0)
	AssertEq(nil, err)
	AssertEq(1024, n)

	for i := 0; i < 256; i++ {
		ExpectEq(byte(0x11), out[i])
	}
	for i := 256; i < 768; i++ {
		ExpectEq(byte(0x22), out[i])
	}
	for i := 768; i < 1024; i++ {
		ExpectEq(byte(0x11), out[i])
	}
	AssertEq(nil, f.Close())
}

// S4: subtree rename.
func (t *FilesystemTest) SubtreeRename() {
	_, err := t.fs.Mkdir("/a", 0755)
	AssertEq(nil, err)
	_, err = t.fs.Mkdir("/a/b", 0755)
	AssertEq(nil, err)
	_, err = t.fs.CreateFile("/a/b/c", 0644)
	AssertEq(nil, err)

	f, err := t.fs.OpenFile("/a/b/c", 0)
	AssertEq(nil, err)
	_, err = f.WriteAt([]byte("hi"), 0)
	AssertEq(nil, err)
	AssertEq(nil, f.Flush())
	AssertEq(nil, f.Close())

	AssertEq(nil, t.fs.Rename("/a", "/x"))

	_, err = t.fs.Stat("/a")
	ExpectEq(syscall.ENOENT, err)

	attr, err := t.fs.Stat("/x/b/c")
	AssertEq(nil, err)
	ExpectEq(uint64(2), attr.Size)

	f2, err := t.fs.OpenFile("/x/b/c", 0)
	AssertEq(nil, err)
	buf := make([]byte, 2)
	n, err := f2.ReadAt(buf, 0)
	AssertEq(nil, err)
	AssertEq(2, n)
	ExpectEq("hi", string(buf))
}

// S5: xattr round-trip & rollback (the EEXIST/ENODATA round of the
// durability discipline, not a literal rollback-on-I/O-failure case,
// which would require a failure-injecting metalog).
func (t *FilesystemTest) XattrRoundTrip() {
	_, err := t.fs.CreateFile("/f", 0644)
	AssertEq(nil, err)

	AssertEq(nil, t.fs.SetXattr("/f", "user.k", []byte("v"), unix.XATTR_CREATE))

	err = t.fs.SetXattr("/f", "user.k", []byte("v2"), unix.XATTR_CREATE)
	ExpectEq(syscall.EEXIST, err)

	n, err := t.fs.GetXattr("/f", "user.k", nil)
	AssertEq(nil, err)
	ExpectEq(1, n)

	AssertEq(nil, t.fs.RemoveXattr("/f", "user.k"))

	_, err = t.fs.GetXattr("/f", "user.k", nil)
	ExpectEq(syscall.ENODATA, err)
}

// S6: truncate trims extents, and the result survives a reopen.
func (t *FilesystemTest) TruncateTrimsExtents() {
	_, err := t.fs.CreateFile("/t", 0644)
	AssertEq(nil, err)

	full := make([]byte, 8192)
	for i := range full {
		full[i] = 0xFF
	}
	f, err := t.fs.OpenFile("/t", 0)
	AssertEq(nil, err)
	_, err = f.WriteAt(full, 0)
	AssertEq(nil, err)
	AssertEq(nil, f.Flush())
	AssertEq(nil, f.Close())

	AssertEq(nil, t.fs.Truncate("/t", 100))

	attr, err := t.fs.Stat("/t")
	AssertEq(nil, err)
	ExpectEq(uint64(100), attr.Size)

	f2, err := t.fs.OpenFile("/t", 0)
	AssertEq(nil, err)
	out := make([]byte, 200)
	n, err := f2.ReadAt(out, 0)
	AssertEq(nil, err)
	AssertEq(100, n)
	for i := 0; i < 100; i++ {
		ExpectEq(byte(0xFF), out[i])
	}
	AssertEq(nil, f2.Close())

	AssertEq(nil, t.fs.Close())
	t.fs, err = appendfs.Open(t.dir, &t.clock)
	AssertEq(nil, err)

	attr2, err := t.fs.Stat("/t")
	AssertEq(nil, err)
	ExpectEq(uint64(100), attr2.Size)
}

func (t *FilesystemTest) CreateFileRejectsDuplicateLivePath() {
	_, err := t.fs.CreateFile("/dup", 0644)
	AssertEq(nil, err)
	_, err = t.fs.CreateFile("/dup", 0644)
	ExpectEq(syscall.EEXIST, err)
}

func (t *FilesystemTest) RmdirRejectsNonEmptyDirectory() {
	_, err := t.fs.Mkdir("/d", 0755)
	AssertEq(nil, err)
	_, err = t.fs.CreateFile("/d/child", 0644)
	AssertEq(nil, err)
	err = t.fs.Rmdir("/d")
	ExpectEq(syscall.ENOTEMPTY, err)
}

func (t *FilesystemTest) SymlinkReadlinkRoundTrip() {
	_, err := t.fs.Symlink("/target/path", "/link")
	AssertEq(nil, err)

	buf := make([]byte, 64)
	n, err := t.fs.Readlink("/link", buf)
	AssertEq(nil, err)
	ExpectEq(len("/target/path"), n)
	ExpectEq("/target/path", string(buf[:n]))
}

func (t *FilesystemTest) MkdirsIsIdempotent() {
	_, err := t.fs.Mkdir("/m", 0755)
	AssertEq(nil, err)
	_, err = t.fs.Mkdirs("/m", 0755)
	AssertEq(nil, err)
}
