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
	"syscall"

	"github.com/htbegin/append-fs/wbuffer"
)

// Options holds the tunables of a Filesystem. The only one that exists
// today is WriteBufferSize (§6: "the only tunable is write_buffer_size").
type Options struct {
	// WriteBufferSize is the capacity, in bytes, of every open file's
	// coalescing write buffer. Zero means "use the default"
	// (wbuffer.DefaultSize). Values below wbuffer.MinSize are rejected by
	// SetOptions.
	WriteBufferSize int
}

// SetOptions validates and applies opts. It rejects a WriteBufferSize below
// wbuffer.MinSize, leaving the filesystem's existing options untouched
// (§6: "the setter rejects values below 4 KiB").
func (fs *Filesystem) SetOptions(opts Options) error {
	if opts.WriteBufferSize != 0 && opts.WriteBufferSize < wbuffer.MinSize {
		return syscall.EINVAL
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	if opts.WriteBufferSize == 0 {
		fs.bufferSize = wbuffer.DefaultSize
	} else {
		fs.bufferSize = opts.WriteBufferSize
	}
	return nil
}
