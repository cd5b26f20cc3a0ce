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

package metalog_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/htbegin/append-fs/metalog"
	"github.com/htbegin/append-fs/record"

	. "github.com/jacobsa/ogletest"
)

func TestMetalog(t *testing.T) { RunTests(t) }

type MetalogTest struct {
	dir  string
	path string
}

func init() { RegisterTestSuite(&MetalogTest{}) }

func (t *MetalogTest) SetUp(ti *TestInfo) {
	var err error
	t.dir, err = os.MkdirTemp("", "metalog_test")
	AssertEq(nil, err)
	t.path = filepath.Join(t.dir, "meta.log")
}

func (t *MetalogTest) TearDown() {
	os.RemoveAll(t.dir)
}

func (t *MetalogTest) AppendThenReplayRecoversAllRecords() {
	l, err := metalog.Open(t.path)
	AssertEq(nil, err)

	AssertEq(nil, l.Append(record.Create, record.MarshalCreate(record.CreateFields{
		InodeID: 1,
		Mode:    0100644,
		Path:    "/a",
	})))
	AssertEq(nil, l.Append(record.Extent, record.MarshalExtent(record.ExtentFields{
		InodeID: 1,
		Length:  4096,
		NewSize: 4096,
	})))
	AssertEq(nil, l.Close())

	l2, err := metalog.Open(t.path)
	AssertEq(nil, err)

	var got []record.Type
	err = metalog.Replay(l2, func(rt record.Type, payload []byte) {
		got = append(got, rt)
	})
	AssertEq(nil, err)
	ExpectThat(got, ElementsAre(record.Create, record.Extent))

	// The log must be positioned at EOF, ready for further appends.
	off, err := l2.File().Seek(0, os.SEEK_CUR)
	AssertEq(nil, err)
	fi, err := l2.File().Stat()
	AssertEq(nil, err)
	ExpectEq(fi.Size(), off)
}

func (t *MetalogTest) ReplaySkipsRecordWithBadChecksumButKeepsGoing() {
	l, err := metalog.Open(t.path)
	AssertEq(nil, err)

	good := record.MarshalUnlink(record.UnlinkFields{InodeID: 1})
	AssertEq(nil, l.Append(record.Unlink, good))

	// Hand-corrupt a second record's checksum.
	badHeader := record.HeaderFor(record.Unlink, good)
	badHeader.Checksum ^= 0xffffffff
	_, err = l.File().Write(badHeader.Encode())
	AssertEq(nil, err)
	_, err = l.File().Write(good)
	AssertEq(nil, err)

	AssertEq(nil, l.Append(record.Unlink, record.MarshalUnlink(record.UnlinkFields{InodeID: 2})))
	AssertEq(nil, l.Close())

	l2, err := metalog.Open(t.path)
	AssertEq(nil, err)

	var ids []uint64
	err = metalog.Replay(l2, func(rt record.Type, payload []byte) {
		f, decErr := record.UnmarshalUnlink(payload)
		AssertEq(nil, decErr)
		ids = append(ids, f.InodeID)
	})
	AssertEq(nil, err)
	ExpectThat(ids, ElementsAre(uint64(1), uint64(2)))
}

func (t *MetalogTest) ReplayToleratesTornTrailingRecord() {
	l, err := metalog.Open(t.path)
	AssertEq(nil, err)
	AssertEq(nil, l.Append(record.Unlink, record.MarshalUnlink(record.UnlinkFields{InodeID: 1})))

	// Simulate a crash mid-append: a header with no payload behind it.
	torn := record.HeaderFor(record.Unlink, make([]byte, 8))
	_, err = l.File().Write(torn.Encode())
	AssertEq(nil, err)
	AssertEq(nil, l.Close())

	l2, err := metalog.Open(t.path)
	AssertEq(nil, err)

	var n int
	err = metalog.Replay(l2, func(rt record.Type, payload []byte) { n++ })
	AssertEq(nil, err)
	ExpectEq(1, n)
}
