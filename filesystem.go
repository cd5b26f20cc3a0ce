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

// Package appendfs implements the append-only filesystem core: two flat
// backing files (an append-only data log and an append-only, checksummed
// metadata log) and the in-memory directory tree reconstructed by
// replaying the metadata log on Open. See the package-level design notes
// in DESIGN.md for how each piece maps onto the example pack this module
// was grounded on.
package appendfs

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/jacobsa/syncutil"
	"github.com/jacobsa/timeutil"
	"golang.org/x/sys/unix"

	"github.com/htbegin/append-fs/datalog"
	"github.com/htbegin/append-fs/extent"
	"github.com/htbegin/append-fs/inode"
	"github.com/htbegin/append-fs/metalog"
	"github.com/htbegin/append-fs/record"
	"github.com/htbegin/append-fs/wbuffer"
)

const (
	dataFileName = "data"
	metaFileName = "meta"
)

// Filesystem is one open store root: the pair of backing files plus the
// in-memory inode table reconstructed from them. The zero value is not
// usable; construct one with Open.
//
// Not safe for concurrent use (§5): callers MUST serialize access to one
// Filesystem. The InvariantMutex exists to catch a broken invariant or
// accidental re-entrant call loudly, not to provide real concurrency.
type Filesystem struct {
	mu syncutil.InvariantMutex

	clock     timeutil.Clock
	storeRoot string

	meta *metalog.Log
	data *datalog.Log

	table *inode.Table

	bufferSize int // GUARDED_BY(mu); see Options
}

// Open reconstructs (or creates) a store at root, replaying its metadata
// log to rebuild the in-memory inode table. root is created recursively if
// missing (§6, supplemented from the C's ensure_directory; SUPPLEMENTED
// FEATURES item 1).
func Open(root string, clock timeutil.Clock) (*Filesystem, error) {
	if clock == nil {
		clock = timeutil.RealClock()
	}

	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("appendfs: create store root: %w", err)
	}

	meta, err := metalog.Open(filepath.Join(root, metaFileName))
	if err != nil {
		return nil, fmt.Errorf("appendfs: open metadata log: %w", err)
	}

	table := inode.NewTable(clock)
	var dataEnd int64

	replayErr := metalog.Replay(meta, func(t record.Type, payload []byte) {
		switch t {
		case record.Create, record.Mkdir:
			f, err := record.UnmarshalCreate(payload)
			if err != nil {
				return
			}
			table.ApplyCreateOrMkdir(inode.ID(f.InodeID), f.Path, f.Mode, f.Size, time.Unix(int64(f.Ts), 0), f.SymlinkTarget)

		case record.Extent:
			f, err := record.UnmarshalExtent(payload)
			if err != nil {
				return
			}
			table.ApplyExtent(inode.ID(f.InodeID), extent.Extent{
				Logical:    f.Logical,
				DataOffset: f.DataOffset,
				Length:     f.Length,
			}, f.NewSize)
			if end := int64(f.DataOffset) + int64(f.Length); end > dataEnd {
				dataEnd = end
			}

		case record.Truncate:
			f, err := record.UnmarshalTruncate(payload)
			if err != nil {
				return
			}
			table.ApplyTruncate(inode.ID(f.InodeID), f.NewSize)

		case record.Unlink:
			f, err := record.UnmarshalUnlink(payload)
			if err != nil {
				return
			}
			table.ApplyUnlink(inode.ID(f.InodeID))

		case record.Rename:
			f, err := record.UnmarshalRename(payload)
			if err != nil {
				return
			}
			table.ApplyRename(inode.ID(f.InodeID), f.Path)

		case record.SetXattr:
			f, err := record.UnmarshalSetXattr(payload)
			if err != nil {
				return
			}
			table.ApplySetXattr(inode.ID(f.InodeID), f.Name, f.Value)

		case record.RemoveXattr:
			f, err := record.UnmarshalRemoveXattr(payload)
			if err != nil {
				return
			}
			table.ApplyRemoveXattr(inode.ID(f.InodeID), f.Name)

		case record.Times:
			f, err := record.UnmarshalTimes(payload)
			if err != nil {
				return
			}
			table.ApplyTimes(inode.ID(f.InodeID), time.Unix(f.Atime, 0), time.Unix(f.Mtime, 0))

		default:
			// Unrecognized record type: skip, same as a checksum mismatch
			// (§4.2, OPEN QUESTIONS RESOLVED).
		}
	})
	if replayErr != nil {
		meta.Close()
		return nil, fmt.Errorf("appendfs: replay metadata log: %w", replayErr)
	}

	dataFile, err := datalog.Open(filepath.Join(root, dataFileName), dataEnd)
	if err != nil {
		meta.Close()
		return nil, fmt.Errorf("appendfs: open data log: %w", err)
	}

	fs := &Filesystem{
		clock:      clock,
		storeRoot:  root,
		meta:       meta,
		data:       dataFile,
		table:      table,
		bufferSize: wbuffer.DefaultSize,
	}
	fs.mu = syncutil.NewInvariantMutex(fs.checkInvariants)
	return fs, nil
}

func (fs *Filesystem) checkInvariants() {
	if fs.bufferSize < wbuffer.MinSize {
		panic(fmt.Sprintf("appendfs: buffer size below minimum: %d", fs.bufferSize))
	}
}

// Close flushes and closes both backing files. Callers must have released
// every open File handle first (§5: "Closing the filesystem handle closes
// both file descriptors after all open-file handles are released (caller
// responsibility)").
func (fs *Filesystem) Close() error {
	if err := fs.data.File().Sync(); err != nil {
		return err
	}
	if err := fs.data.Close(); err != nil {
		return err
	}
	if err := fs.meta.File().Sync(); err != nil {
		return err
	}
	return fs.meta.Close()
}

// Attr is the result of Stat: the subset of inode state the public API
// exposes (§6: "stat(path) → {mode,size,ctime,mtime,atime,inode_id}").
type Attr struct {
	InodeID inode.ID
	Mode    uint32
	Size    uint64
	Ctime   time.Time
	Mtime   time.Time
	Atime   time.Time
}

// Stat returns the live inode's attributes. Root is not a stored inode
// (§9: "root inode not stored" — serviced by the adapter, not the core),
// so stat("/") is not handled here.
func (fs *Filesystem) Stat(path string) (Attr, error) {
	path = normalizePath(path)
	r := fs.table.FindLiveByPath(path)
	if r == nil {
		return Attr{}, syscall.ENOENT
	}
	return Attr{
		InodeID: r.ID,
		Mode:    r.Mode,
		Size:    r.Size,
		Ctime:   r.Ctime,
		Mtime:   r.Mtime,
		Atime:   r.Atime,
	}, nil
}

// Statfs returns the host statvfs of the store root verbatim (§6, §9
// SUPPLEMENTED FEATURES item 7) — no fabricated capacity model.
func (fs *Filesystem) Statfs() (unix.Statfs_t, error) {
	var buf unix.Statfs_t
	if err := unix.Statfs(fs.storeRoot, &buf); err != nil {
		return unix.Statfs_t{}, err
	}
	return buf, nil
}

// IsDirectoryEmpty reports whether path is a live directory with no live
// immediate children. It is a first-class public operation (SUPPLEMENTED
// FEATURES item 4), not just an internal rename/rmdir helper.
func (fs *Filesystem) IsDirectoryEmpty(path string) (bool, error) {
	path = normalizePath(path)
	r := fs.table.FindLiveByPath(path)
	if r == nil {
		return false, syscall.ENOENT
	}
	if !r.IsDir() {
		return false, syscall.ENOTDIR
	}
	return fs.table.IsDirectoryEmpty(path), nil
}

// FsyncDir fsyncs both backing files. There is no per-directory
// descriptor in this design — exactly as in the C original, which has a
// single data+meta fd pair for the whole store (SUPPLEMENTED FEATURES
// item 5) — so this is the whole-store durability barrier the C exposes
// under appendfs_fsyncdir, not a per-directory primitive.
func (fs *Filesystem) FsyncDir() error {
	if err := fs.data.File().Sync(); err != nil {
		return err
	}
	return fs.meta.File().Sync()
}

func (fs *Filesystem) now() time.Time {
	return fs.clock.Now().Truncate(time.Second)
}
