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

package wbuffer_test

import (
	"testing"

	"github.com/htbegin/append-fs/wbuffer"

	. "github.com/jacobsa/oglematchers"
	. "github.com/jacobsa/ogletest"
)

func TestWbuffer(t *testing.T) { RunTests(t) }

type flushCall struct {
	offset uint64
	data   []byte
}

type fakeSink struct {
	calls []flushCall
	err   error
}

func (s *fakeSink) Flush(offset uint64, data []byte) error {
	if s.err != nil {
		return s.err
	}
	cp := append([]byte(nil), data...)
	s.calls = append(s.calls, flushCall{offset, cp})
	return nil
}

type WbufferTest struct {
}

func init() { RegisterTestSuite(&WbufferTest{}) }

func (t *WbufferTest) SequentialWritesCoalesceIntoOneFlush() {
	sink := &fakeSink{}
	b := wbuffer.New(sink, 16)

	AssertEq(nil, b.Write([]byte("abc"), 0))
	AssertEq(nil, b.Write([]byte("def"), 3))
	AssertEq(nil, b.Flush())

	AssertEq(1, len(sink.calls))
	ExpectEq(uint64(0), sink.calls[0].offset)
	ExpectEq("abcdef", string(sink.calls[0].data))
}

func (t *WbufferTest) NonSequentialWriteFlushesFirst() {
	sink := &fakeSink{}
	b := wbuffer.New(sink, 16)

	AssertEq(nil, b.Write([]byte("abc"), 0))
	AssertEq(nil, b.Write([]byte("xyz"), 100)) // not contiguous: forces a flush of "abc"
	AssertEq(nil, b.Flush())

	AssertEq(2, len(sink.calls))
	ExpectEq(uint64(0), sink.calls[0].offset)
	ExpectEq("abc", string(sink.calls[0].data))
	ExpectEq(uint64(100), sink.calls[1].offset)
	ExpectEq("xyz", string(sink.calls[1].data))
}

func (t *WbufferTest) WriteLargerThanCapacityFlushesMidWrite() {
	sink := &fakeSink{}
	b := wbuffer.New(sink, 4)

	AssertEq(nil, b.Write([]byte("0123456789"), 0))
	AssertEq(nil, b.Flush())

	AssertThat(sink.calls, ElementsAre(
		flushCall{0, []byte("0123")},
		flushCall{4, []byte("4567")},
		flushCall{8, []byte("89")},
	))
}

func (t *WbufferTest) FlushOnEmptyBufferIsNoOp() {
	sink := &fakeSink{}
	b := wbuffer.New(sink, 16)
	AssertEq(nil, b.Flush())
	ExpectEq(0, len(sink.calls))
}

func (t *WbufferTest) FlushPropagatesSinkError() {
	sink := &fakeSink{err: fmtErr}
	b := wbuffer.New(sink, 16)
	AssertEq(nil, b.Write([]byte("x"), 0))
	err := b.Flush()
	ExpectNe(nil, err)
}

var fmtErr = errNoSpace{}

type errNoSpace struct{}

func (errNoSpace) Error() string { return "no space" }
