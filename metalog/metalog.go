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

// Package metalog owns the append-only metadata log file: framing records
// on append, and replaying them on open. It knows nothing about what a
// record *means* — that is inode.Table's job, driven through the Apply
// callback passed to Replay.
package metalog

import (
	"io"
	"os"

	"github.com/htbegin/append-fs/internal/crc32check"
	"github.com/htbegin/append-fs/record"
)

// Log is the metadata log backing file, positioned at end-of-file once
// Open (and any Replay) has completed, ready for Append.
type Log struct {
	f *os.File
}

// Open opens (creating if necessary, mode 0644) the metadata log file at
// path. The caller is responsible for calling Replay before any Append if
// prior records should be recovered.
func Open(path string) (*Log, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, err
	}
	return &Log{f: f}, nil
}

// File returns the backing *os.File, for Fsync and similar.
func (l *Log) File() *os.File {
	return l.f
}

// Close closes the backing file.
func (l *Log) Close() error {
	return l.f.Close()
}

// Append writes one framed record (header then payload) to the end of the
// log. Two sequential writes, no combined buffer — matching the reference
// implementation's write_record, which writes the header and payload as
// two separate write() calls.
func (l *Log) Append(t record.Type, payload []byte) error {
	header := record.HeaderFor(t, payload)
	if _, err := l.f.Write(header.Encode()); err != nil {
		return err
	}
	if len(payload) > 0 {
		if _, err := l.f.Write(payload); err != nil {
			return err
		}
	}
	return nil
}

// Apply is invoked by Replay once per record whose checksum validates. t is
// the raw on-disk type byte, which may not correspond to any known
// record.Type (an unrecognized type is not filtered out here — Apply is
// expected to ignore it, exactly as the reference implementation's replay
// switch falls through to `default: break`).
type Apply func(t record.Type, payload []byte)

// Replay reads records from the beginning of the log, invoking apply for
// each one whose checksum matches, and stops at the first sign of a torn
// tail (a short header or short payload read). A single corrupt record in
// the middle of the log — one whose checksum does not match — is skipped,
// not fatal: replay continues with the next header.
//
// This is a deliberately weak tolerance policy (see §4.2/§9 of the design):
// a CRE mismatch only drops the one record, it does not stop the world, and
// it does not truncate the file. After Replay returns, the log is
// positioned at actual end-of-file (whatever bytes are there, including any
// torn tail), exactly as appendfs.c's replay_metadata does with its final
// `lseek(ctx->meta_fd, 0, SEEK_END)` — there is no ftruncate call to discard
// a torn tail. Subsequent Append calls land after that tail.
func Replay(l *Log, apply Apply) error {
	if _, err := l.f.Seek(0, io.SeekStart); err != nil {
		return err
	}

	header := make([]byte, record.HeaderSize)
	for {
		if _, err := io.ReadFull(l.f, header); err != nil {
			// EOF (clean) or a short/torn header: either way, stop normally.
			break
		}

		h, err := record.DecodeHeader(header)
		if err != nil {
			break
		}

		payload := make([]byte, h.Length)
		if h.Length > 0 {
			if _, err := io.ReadFull(l.f, payload); err != nil {
				break
			}
		}

		if crc32check.Checksum(payload) != h.Checksum {
			continue
		}

		apply(h.Type, payload)
	}

	_, err := l.f.Seek(0, io.SeekEnd)
	return err
}
