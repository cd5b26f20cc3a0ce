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

// Package inode implements the in-memory inode table: an arena of rows
// plus a path index, tombstones instead of physical deletion, and the
// apply semantics that replay drives. No inode row is ever removed from
// the arena or has its id reused, so an EXTENT/RENAME record replayed
// later always finds its target (§9, "tombstones instead of physical
// deletion").
package inode

import (
	"time"

	"github.com/jacobsa/syncutil"
	"github.com/jacobsa/timeutil"

	"github.com/htbegin/append-fs/extent"
	"github.com/htbegin/append-fs/internal/modebits"
)

// ID is a stable, never-reused, monotonically assigned inode identifier.
type ID uint64

// Row is one inode's complete state. Extents, xattrs and the symlink
// target belong inline to their owning row — there are no cross-inode
// references, so the table is a plain arena, not a graph (§9).
type Row struct {
	ID      ID
	Path    string
	Mode    uint32
	Size    uint64
	Ctime   time.Time
	Mtime   time.Time
	Atime   time.Time
	Deleted bool

	Extents       []extent.Extent
	SymlinkTarget string
	Xattrs        map[string][]byte
}

func (r *Row) IsDir() bool     { return modebits.IsDir(r.Mode) }
func (r *Row) IsRegular() bool { return modebits.IsRegular(r.Mode) }
func (r *Row) IsSymlink() bool { return modebits.IsSymlink(r.Mode) }

// reset clears everything but ID, used both for a brand new row and for
// resurrecting a tombstoned one at a new path (§3 "Lifecycle": retains id,
// clears content).
func (r *Row) reset() {
	r.Path = ""
	r.Mode = 0
	r.Size = 0
	r.Ctime = time.Time{}
	r.Mtime = time.Time{}
	r.Atime = time.Time{}
	r.Deleted = false
	r.Extents = nil
	r.SymlinkTarget = ""
	r.Xattrs = make(map[string][]byte)
}

// Table is the arena of inode rows plus the auxiliary path index required
// by §4.3. Callers (the root filesystem package) serialize access to one
// Table the same way the core as a whole is single-threaded (§5); the
// InvariantMutex exists to catch a broken invariant loudly during
// development rather than to provide real concurrent access.
type Table struct {
	mu syncutil.InvariantMutex

	clock timeutil.Clock

	rows     []*Row      // GUARDED_BY(mu); arena, indices never reused
	byID     map[ID]*Row // GUARDED_BY(mu)
	livePath map[string]*Row
	nextID   ID
}

// NewTable creates an empty table. clock supplies the wall-clock "now"
// used to stamp ctime/mtime/atime on every mutation, exactly the way
// memfs's inode.newInode uses an injected timeutil.Clock instead of
// time.Now() directly, so tests can pin time.
func NewTable(clock timeutil.Clock) *Table {
	t := &Table{
		clock:    clock,
		byID:     make(map[ID]*Row),
		livePath: make(map[string]*Row),
		nextID:   1,
	}
	t.mu = syncutil.NewInvariantMutex(t.checkInvariants)
	return t
}

func (t *Table) checkInvariants() {
	if len(t.byID) != len(t.rows) {
		panic("inode: byID size diverged from rows arena")
	}
	seen := make(map[string]struct{}, len(t.livePath))
	for path, r := range t.livePath {
		if r.Deleted {
			panic("inode: tombstoned row present in livePath index: " + path)
		}
		if r.Path != path {
			panic("inode: livePath key/row path mismatch: " + path)
		}
		if _, dup := seen[path]; dup {
			panic("inode: duplicate live path: " + path)
		}
		seen[path] = struct{}{}
	}
}

// Now returns the table clock's current time, truncated to whole seconds
// per §3's "second-granularity timestamps".
func (t *Table) Now() time.Time {
	return t.clock.Now().Truncate(time.Second)
}

// FindByID returns the row with the given id, live or tombstoned, or nil.
func (t *Table) FindByID(id ID) *Row {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.byID[id]
}

// FindLiveByPath returns the live inode at path, or nil. path must already
// be normalized (leading '/').
func (t *Table) FindLiveByPath(path string) *Row {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.livePath[path]
}

// FindAnyByPath returns the row at path regardless of tombstone state, or
// nil. This is the helper create_file uses to find a resurrection
// candidate (§4.6); unlike FindLiveByPath it does not filter out deleted
// rows. A live row at path is returned first. Otherwise the first
// tombstoned row in arena (creation) order whose Path equals path is
// returned; tombstoned rows keep their last path, so several of them can
// share one path, and the oldest of those is the one returned.
func (t *Table) FindAnyByPath(path string) *Row {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if r, ok := t.livePath[path]; ok {
		return r
	}
	for _, r := range t.rows {
		if r.Deleted && r.Path == path {
			return r
		}
	}
	return nil
}

// NextID reports the id that the next Create call will assign.
func (t *Table) NextID() ID {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.nextID
}

// Create allocates a brand-new row at path with the given mode, bumping
// the arena's next-id counter. now stamps ctime/mtime/atime.
func (t *Table) Create(path string, mode uint32, now time.Time) *Row {
	t.mu.Lock()
	defer t.mu.Unlock()

	r := &Row{ID: t.nextID}
	r.reset()
	r.Path = path
	r.Mode = mode
	r.Ctime, r.Mtime, r.Atime = now, now, now

	t.rows = append(t.rows, r)
	t.byID[r.ID] = r
	t.livePath[path] = r
	t.nextID++
	return r
}

// Resurrect reuses a tombstoned row at the same path, clearing its
// extents/size/xattrs/symlink target and applying a fresh mode, per §3's
// "may be resurrected from a tombstoned state by creating the same path
// (xattrs/extents cleared)".
func (t *Table) Resurrect(r *Row, mode uint32, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	path := r.Path
	r.reset()
	r.Path = path
	r.Mode = mode
	r.Ctime, r.Mtime, r.Atime = now, now, now
	t.livePath[path] = r
}

// MarkDeleted tombstones r: it remains addressable by id but is removed
// from the path index. Idempotent, matching the UNLINK apply semantics.
func (t *Table) MarkDeleted(r *Row) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if r.Deleted {
		return
	}
	r.Deleted = true
	delete(t.livePath, r.Path)
}

// Rename replaces r's path and clears its tombstone flag (a resurrection
// path for RENAME apply semantics: §4.2 "RENAME: ... clear deleted").
func (t *Table) Rename(r *Row, newPath string, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !r.Deleted {
		delete(t.livePath, r.Path)
	}
	r.Path = newPath
	r.Deleted = false
	r.Mtime = now
	t.livePath[newPath] = r
}

// ApplyCreateOrMkdir implements the CREATE/MKDIR replay apply step of
// §4.2: find by id; if absent allocate a new row with that id (bypassing
// the monotonic Create allocator, since replay dictates the id); otherwise
// reset it in place. Either way set fields from the record and bump
// nextID to keep invariant 2 (next_inode_id persists as max(id)+1).
func (t *Table) ApplyCreateOrMkdir(id ID, path string, mode uint32, size uint64, ts time.Time, symlinkTarget string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	r := t.byID[id]
	if r == nil {
		r = &Row{ID: id}
		r.reset()
		t.rows = append(t.rows, r)
		t.byID[id] = r
	} else if !r.Deleted {
		delete(t.livePath, r.Path)
	}

	r.reset()
	r.Path = path
	r.Mode = mode
	r.Size = size
	r.Ctime, r.Mtime, r.Atime = ts, ts, ts
	if modebits.IsSymlink(mode) {
		r.SymlinkTarget = symlinkTarget
	}
	t.livePath[path] = r

	if id+1 > t.nextID {
		t.nextID = id + 1
	}
}

// ApplyExtent implements the EXTENT replay apply step: look up by id,
// skipping silently if missing (§4.2); append the extent and grow size.
func (t *Table) ApplyExtent(id ID, e extent.Extent, newSize uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r := t.byID[id]
	if r == nil {
		return
	}
	r.Extents = append(r.Extents, e)
	if newSize > r.Size {
		r.Size = newSize
	}
}

// ApplyTruncate implements the TRUNCATE replay apply step.
func (t *Table) ApplyTruncate(id ID, newSize uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r := t.byID[id]
	if r == nil {
		return
	}
	r.Size = newSize
	r.Extents = extent.Trim(r.Extents, newSize)
}

// ApplyUnlink implements the UNLINK replay apply step (idempotent).
func (t *Table) ApplyUnlink(id ID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r := t.byID[id]
	if r == nil {
		return
	}
	if r.Deleted {
		return
	}
	r.Deleted = true
	delete(t.livePath, r.Path)
}

// ApplyRename implements the RENAME replay apply step: skip if the
// referenced id is missing (the failure mode called out in §9, "any
// subsequent EXTENT/RENAME referencing the skipped CREATE will be
// silently dropped").
func (t *Table) ApplyRename(id ID, newPath string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r := t.byID[id]
	if r == nil {
		return
	}
	if !r.Deleted {
		delete(t.livePath, r.Path)
	}
	r.Path = newPath
	r.Deleted = false
	t.livePath[newPath] = r
}

// ApplySetXattr/ApplyRemoveXattr implement the SETXATTR/REMOVEXATTR replay
// apply steps: unconditional, no flag checks (§4.2).
func (t *Table) ApplySetXattr(id ID, name string, value []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r := t.byID[id]
	if r == nil {
		return
	}
	if r.Xattrs == nil {
		r.Xattrs = make(map[string][]byte)
	}
	r.Xattrs[name] = value
}

func (t *Table) ApplyRemoveXattr(id ID, name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r := t.byID[id]
	if r == nil {
		return
	}
	delete(r.Xattrs, name)
}

// ApplyTimes implements the TIMES replay apply step; ctime is not carried
// on the wire (§4.2) so it is left untouched here.
func (t *Table) ApplyTimes(id ID, atime, mtime time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r := t.byID[id]
	if r == nil {
		return
	}
	r.Atime = atime
	r.Mtime = mtime
}

// IterateChildren invokes fn once per live inode that is an immediate
// child of dir (one '/' component deeper), in arena insertion order,
// stopping early if fn returns false (§4.6's "callback returns non-zero to
// stop").
func (t *Table) IterateChildren(dir string, fn func(r *Row) bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	prefix := dir
	if prefix != "/" {
		prefix += "/"
	}
	for _, r := range t.rows {
		if r.Deleted {
			continue
		}
		if !isImmediateChild(prefix, r.Path) {
			continue
		}
		if !fn(r) {
			return
		}
	}
}

// isImmediateChild reports whether childPath is exactly one path component
// below the directory whose path, with trailing slash, is prefix.
func isImmediateChild(prefix, childPath string) bool {
	if len(childPath) <= len(prefix) || childPath[:len(prefix)] != prefix {
		return false
	}
	rest := childPath[len(prefix):]
	for i := 0; i < len(rest); i++ {
		if rest[i] == '/' {
			return false
		}
	}
	return rest != ""
}

// IsDirectoryEmpty reports whether dir (a live directory path) has no live
// immediate children.
func (t *Table) IsDirectoryEmpty(dir string) bool {
	empty := true
	t.IterateChildren(dir, func(r *Row) bool {
		empty = false
		return false
	})
	return empty
}

// Descendants returns every live inode whose path is a strict descendant
// of dir (dir itself excluded), i.e. has dir as a path-prefix with a '/'
// component boundary — the set rename's subtree step walks (§4.6 step 5).
func (t *Table) Descendants(dir string) []*Row {
	t.mu.RLock()
	defer t.mu.RUnlock()

	prefix := dir
	if prefix != "/" {
		prefix += "/"
	}
	var out []*Row
	for _, r := range t.rows {
		if r.Deleted {
			continue
		}
		if len(r.Path) > len(prefix) && r.Path[:len(prefix)] == prefix {
			out = append(out, r)
		}
	}
	return out
}
