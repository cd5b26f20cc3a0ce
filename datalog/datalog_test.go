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

package datalog_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/htbegin/append-fs/datalog"

	. "github.com/jacobsa/ogletest"
)

func TestDatalog(t *testing.T) { RunTests(t) }

type DatalogTest struct {
	dir  string
	path string
}

func init() { RegisterTestSuite(&DatalogTest{}) }

func (t *DatalogTest) SetUp(ti *TestInfo) {
	var err error
	t.dir, err = os.MkdirTemp("", "datalog_test")
	AssertEq(nil, err)
	t.path = filepath.Join(t.dir, "data.log")
}

func (t *DatalogTest) TearDown() {
	os.RemoveAll(t.dir)
}

func (t *DatalogTest) AppendReturnsSequentialOffsets() {
	l, err := datalog.Open(t.path, 0)
	AssertEq(nil, err)
	defer l.Close()

	off1, err := l.Append([]byte("hello"))
	AssertEq(nil, err)
	ExpectEq(0, off1)

	off2, err := l.Append([]byte("world!"))
	AssertEq(nil, err)
	ExpectEq(5, off2)

	ExpectEq(11, l.End())
}

func (t *DatalogTest) ReadAtRecoversAppendedBytes() {
	l, err := datalog.Open(t.path, 0)
	AssertEq(nil, err)
	defer l.Close()

	off, err := l.Append([]byte("payload-bytes"))
	AssertEq(nil, err)

	buf := make([]byte, len("payload-bytes"))
	n, err := l.ReadAt(buf, off)
	AssertEq(nil, err)
	ExpectEq(len(buf), n)
	ExpectEq("payload-bytes", string(buf))
}

func (t *DatalogTest) OpenResumesAtGivenEndNotFileSize() {
	l, err := datalog.Open(t.path, 0)
	AssertEq(nil, err)
	_, err = l.Append([]byte("0123456789"))
	AssertEq(nil, err)
	AssertEq(nil, l.Close())

	// Reopen claiming only 4 of the 10 bytes as "real" (the rest being a
	// torn tail past the last replayed extent): the next append must land
	// at 4, overwriting the unclaimed tail bytes rather than appending
	// past the physical file size.
	l2, err := datalog.Open(t.path, 4)
	AssertEq(nil, err)
	defer l2.Close()

	off, err := l2.Append([]byte("XY"))
	AssertEq(nil, err)
	ExpectEq(4, off)

	buf := make([]byte, 2)
	_, err = l2.ReadAt(buf, 4)
	AssertEq(nil, err)
	ExpectEq("XY", string(buf))
}

func (t *DatalogTest) ReserveIsBestEffortAndNeverFails() {
	l, err := datalog.Open(t.path, 0)
	AssertEq(nil, err)
	defer l.Close()

	// Must not panic or otherwise surface an error: Reserve has no return
	// value precisely because failure is swallowed.
	l.Reserve(1 << 20)

	off, err := l.Append([]byte("ok"))
	AssertEq(nil, err)
	ExpectEq(0, off)
}
