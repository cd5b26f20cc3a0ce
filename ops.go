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
	"time"

	"golang.org/x/sys/unix"

	"github.com/htbegin/append-fs/inode"
	"github.com/htbegin/append-fs/internal/modebits"
	"github.com/htbegin/append-fs/record"
)

// append is the common "serialize and append one metadata record" step
// every mutating operation ends with (§2: "(c) appends exactly one
// metadata record describing the change"). Any failure of the metadata log
// append is reported as EIO; the underlying error is not passed on.
func (fs *Filesystem) append(t record.Type, payload []byte) error {
	if err := fs.meta.Append(t, payload); err != nil {
		return syscall.EIO
	}
	return nil
}

// resolveParent validates that path's parent is a live directory, unless
// path is directly under root (§4.6: "Requires parent (unless path is
// directly under root) to be a live directory").
func (fs *Filesystem) resolveParent(path string) error {
	parent := parentOf(path)
	if parent == "" {
		return nil
	}
	pr := fs.table.FindLiveByPath(parent)
	if pr == nil || !pr.IsDir() {
		return syscall.ENOENT
	}
	return nil
}

// CreateFile creates a new regular file at path (§4.6 create_file).
func (fs *Filesystem) CreateFile(path string, mode uint32) (*inode.Row, error) {
	path = normalizePath(path)
	if path == "/" {
		return nil, syscall.EEXIST
	}
	if fs.table.FindLiveByPath(path) != nil {
		return nil, syscall.EEXIST
	}
	if err := fs.resolveParent(path); err != nil {
		return nil, err
	}

	now := fs.now()
	finalMode := modebits.IFREG | (mode & modebits.PermMask)

	r := fs.table.FindAnyByPath(path)
	if r != nil && r.Deleted {
		fs.table.Resurrect(r, finalMode, now)
	} else {
		r = fs.table.Create(path, finalMode, now)
	}

	payload := record.MarshalCreate(record.CreateFields{
		InodeID: uint64(r.ID),
		Mode:    r.Mode,
		Size:    0,
		Ts:      uint64(now.Unix()),
		Path:    path,
	})
	if err := fs.append(record.Create, payload); err != nil {
		return nil, err
	}
	return r, nil
}

// Mkdir creates a new directory at path (§4.6 mkdir).
func (fs *Filesystem) Mkdir(path string, mode uint32) (*inode.Row, error) {
	path = normalizePath(path)
	if path == "/" {
		return nil, syscall.EINVAL
	}
	if fs.table.FindLiveByPath(path) != nil {
		return nil, syscall.EEXIST
	}
	if err := fs.resolveParent(path); err != nil {
		return nil, err
	}

	now := fs.now()
	finalMode := modebits.IFDIR | (mode & 0777)

	r := fs.table.FindAnyByPath(path)
	if r != nil && r.Deleted {
		fs.table.Resurrect(r, finalMode, now)
	} else {
		r = fs.table.Create(path, finalMode, now)
	}

	payload := record.MarshalCreate(record.CreateFields{
		InodeID: uint64(r.ID),
		Mode:    r.Mode,
		Size:    0,
		Ts:      uint64(now.Unix()),
		Path:    path,
	})
	if err := fs.append(record.Mkdir, payload); err != nil {
		return nil, err
	}
	return r, nil
}

// Mkdirs is the idempotent single-directory variant: success if path
// already exists as a live directory, ENOTDIR if a live non-directory
// occupies it, and otherwise the result of Mkdir(path, mode). It does not
// recursively create ancestors (§4.6: "does not recursively create
// ancestors").
func (fs *Filesystem) Mkdirs(path string, mode uint32) (*inode.Row, error) {
	norm := normalizePath(path)
	if r := fs.table.FindLiveByPath(norm); r != nil {
		if !r.IsDir() {
			return nil, syscall.ENOTDIR
		}
		return r, nil
	}
	return fs.Mkdir(path, mode)
}

// Unlink removes a non-directory inode (§4.6 unlink).
func (fs *Filesystem) Unlink(path string) error {
	path = normalizePath(path)
	r := fs.table.FindLiveByPath(path)
	if r == nil {
		return syscall.ENOENT
	}
	if r.IsDir() {
		return syscall.EISDIR
	}
	fs.table.MarkDeleted(r)
	return fs.append(record.Unlink, record.MarshalUnlink(record.UnlinkFields{InodeID: uint64(r.ID)}))
}

// Rmdir removes an empty directory (§4.6 rmdir).
func (fs *Filesystem) Rmdir(path string) error {
	path = normalizePath(path)
	if path == "/" {
		return syscall.EINVAL
	}
	r := fs.table.FindLiveByPath(path)
	if r == nil {
		return syscall.ENOENT
	}
	if !r.IsDir() {
		return syscall.ENOTDIR
	}
	if !fs.table.IsDirectoryEmpty(path) {
		return syscall.ENOTEMPTY
	}
	fs.table.MarkDeleted(r)
	return fs.append(record.Unlink, record.MarshalUnlink(record.UnlinkFields{InodeID: uint64(r.ID)}))
}

// Rename implements the subtree-aware rename algorithm of §4.6 step-by-step,
// following the C original's literal check ordering (SUPPLEMENTED FEATURES
// item 3): locate source, no-op check, destination-parent check,
// destination-collision check, *then* subtree enumeration, *then* record
// emission (ancestor first, descendants after in stable order).
func (fs *Filesystem) Rename(from, to string) error {
	from = normalizePath(from)
	to = normalizePath(to)

	src := fs.table.FindLiveByPath(from)
	if src == nil {
		return syscall.ENOENT
	}

	if from == to {
		return nil
	}

	if toParent := parentOf(to); toParent != "" {
		pr := fs.table.FindLiveByPath(toParent)
		if pr == nil || !pr.IsDir() {
			return syscall.ENOENT
		}
	}

	if dst := fs.table.FindLiveByPath(to); dst != nil {
		if src.IsDir() && !dst.IsDir() {
			return syscall.ENOTDIR
		}
		if !src.IsDir() && dst.IsDir() {
			return syscall.EISDIR
		}
		if src.IsDir() && dst.IsDir() && !fs.table.IsDirectoryEmpty(to) {
			return syscall.ENOTEMPTY
		}

		fs.table.MarkDeleted(dst)
		if err := fs.append(record.Unlink, record.MarshalUnlink(record.UnlinkFields{InodeID: uint64(dst.ID)})); err != nil {
			return err
		}
	}

	var descendants []*inode.Row
	if src.IsDir() {
		descendants = fs.table.Descendants(from)
	}

	now := fs.now()
	fs.table.Rename(src, to, now)
	if err := fs.append(record.Rename, record.MarshalRename(record.RenameFields{InodeID: uint64(src.ID), Path: to})); err != nil {
		// Rename is the acknowledged exception to fail-fast atomicity
		// (§5/§7): the in-memory move already happened and is not rolled
		// back here. Replay reconstructs whatever prefix of RENAME records
		// actually made it to disk.
		return err
	}

	for _, d := range descendants {
		newPath := to + d.Path[len(from):]
		fs.table.Rename(d, newPath, now)
		if err := fs.append(record.Rename, record.MarshalRename(record.RenameFields{InodeID: uint64(d.ID), Path: newPath})); err != nil {
			return err
		}
	}
	return nil
}

// Symlink creates a symlink at linkpath pointing at target (§4.6 symlink).
// It takes no mode argument: the link's mode is always S_IFLNK|0777.
func (fs *Filesystem) Symlink(target, linkpath string) (*inode.Row, error) {
	path := normalizePath(linkpath)
	if path == "/" {
		return nil, syscall.EEXIST
	}
	if fs.table.FindLiveByPath(path) != nil {
		return nil, syscall.EEXIST
	}
	if err := fs.resolveParent(path); err != nil {
		return nil, err
	}

	now := fs.now()
	mode := modebits.IFLNK | 0777

	r := fs.table.FindAnyByPath(path)
	if r != nil && r.Deleted {
		fs.table.Resurrect(r, mode, now)
	} else {
		r = fs.table.Create(path, mode, now)
	}
	r.SymlinkTarget = target
	r.Size = uint64(len(target))

	payload := record.MarshalCreate(record.CreateFields{
		InodeID:       uint64(r.ID),
		Mode:          mode,
		Size:          r.Size,
		Ts:            uint64(now.Unix()),
		Path:          path,
		SymlinkTarget: target,
	})
	if err := fs.append(record.Create, payload); err != nil {
		return nil, err
	}
	return r, nil
}

// Readlink implements §4.6 readlink: size == 0 returns the target length
// without copying; otherwise copies min(target_len, size-1) bytes and
// null-terminates, always returning the full target length. Updates atime.
func (fs *Filesystem) Readlink(path string, buf []byte) (int, error) {
	path = normalizePath(path)
	r := fs.table.FindLiveByPath(path)
	if r == nil {
		return 0, syscall.ENOENT
	}
	if !r.IsSymlink() {
		return 0, syscall.EINVAL
	}
	r.Atime = fs.now()

	target := r.SymlinkTarget
	if len(buf) == 0 {
		return len(target), nil
	}
	n := len(target)
	if n > len(buf)-1 {
		n = len(buf) - 1
	}
	copy(buf, target[:n])
	buf[n] = 0
	return len(target), nil
}

// Truncate implements §4.6 truncate: valid only for regular files and
// symlinks, trims extents per invariant 4, updates mtime.
func (fs *Filesystem) Truncate(path string, newSize uint64) error {
	path = normalizePath(path)
	r := fs.table.FindLiveByPath(path)
	if r == nil {
		return syscall.ENOENT
	}
	if !r.IsRegular() && !r.IsSymlink() {
		return syscall.EINVAL
	}

	fs.table.ApplyTruncate(r.ID, newSize)
	r.Mtime = fs.now()

	payload := record.MarshalTruncate(record.TruncateFields{InodeID: uint64(r.ID), NewSize: newSize})
	return fs.append(record.Truncate, payload)
}

// SetTimes implements §4.6 set_times: times[0] is atime, times[1] is
// mtime. unix.UTIME_NOW means "now", unix.UTIME_OMIT means "leave
// unchanged", otherwise Sec is taken and Nsec ignored beyond the sentinel
// check. ctime is set to now unconditionally.
func (fs *Filesystem) SetTimes(path string, times [2]unix.Timespec) error {
	path = normalizePath(path)
	r := fs.table.FindLiveByPath(path)
	if r == nil {
		return syscall.ENOENT
	}

	now := fs.now()
	atime := fs.resolveTimespec(times[0], r.Atime, now)
	mtime := fs.resolveTimespec(times[1], r.Mtime, now)

	fs.table.ApplyTimes(r.ID, atime, mtime)
	r.Ctime = now

	payload := record.MarshalTimes(record.TimesFields{
		InodeID: uint64(r.ID),
		Atime:   atime.Unix(),
		Mtime:   mtime.Unix(),
	})
	return fs.append(record.Times, payload)
}

func (fs *Filesystem) resolveTimespec(ts unix.Timespec, current, now time.Time) time.Time {
	switch ts.Nsec {
	case unix.UTIME_NOW:
		return now
	case unix.UTIME_OMIT:
		return current
	default:
		return time.Unix(int64(ts.Sec), 0)
	}
}

// IterateChildren invokes fn once per live immediate child of dir, in
// insertion order, stopping early if fn returns false (§4.6
// iterate_children). dir == "/" iterates the implicit root.
func (fs *Filesystem) IterateChildren(dir string, fn func(r *inode.Row) bool) error {
	path := normalizePath(dir)
	if path != "/" {
		r := fs.table.FindLiveByPath(path)
		if r == nil {
			return syscall.ENOENT
		}
		if !r.IsDir() {
			return syscall.ENOTDIR
		}
	}
	fs.table.IterateChildren(path, fn)
	return nil
}

// GetXattr mirrors golang.org/x/sys/unix's Getxattr shape: dest == nil (or
// zero length) returns the required size without copying; a too-small
// dest fails ERANGE (§4.6 getxattr).
func (fs *Filesystem) GetXattr(path, name string, dest []byte) (int, error) {
	path = normalizePath(path)
	r := fs.table.FindLiveByPath(path)
	if r == nil {
		return 0, syscall.ENOENT
	}
	v, ok := r.Xattrs[name]
	if !ok {
		return 0, syscall.ENODATA
	}
	if len(dest) == 0 {
		return len(v), nil
	}
	if len(dest) < len(v) {
		return 0, syscall.ERANGE
	}
	return copy(dest, v), nil
}

// ListXattr produces the name\0-concatenated sequence of §4.6 listxattr:
// dest == nil (or zero length) returns the total length without copying; a
// too-small dest fails ERANGE.
func (fs *Filesystem) ListXattr(path string, dest []byte) (int, error) {
	path = normalizePath(path)
	r := fs.table.FindLiveByPath(path)
	if r == nil {
		return 0, syscall.ENOENT
	}

	total := 0
	for name := range r.Xattrs {
		total += len(name) + 1
	}
	if len(dest) == 0 {
		return total, nil
	}
	if len(dest) < total {
		return 0, syscall.ERANGE
	}

	n := 0
	for name := range r.Xattrs {
		n += copy(dest[n:], name)
		dest[n] = 0
		n++
	}
	return n, nil
}

// SetXattr implements §4.6 setxattr's two flag checks plus the durability
// discipline: snapshot the prior value, apply in-memory, append the
// record, and on append failure restore the prior value.
func (fs *Filesystem) SetXattr(path, name string, value []byte, flags int) error {
	path = normalizePath(path)
	r := fs.table.FindLiveByPath(path)
	if r == nil {
		return syscall.ENOENT
	}

	prev, existed := r.Xattrs[name]
	if flags&unix.XATTR_CREATE != 0 && existed {
		return syscall.EEXIST
	}
	if flags&unix.XATTR_REPLACE != 0 && !existed {
		return syscall.ENODATA
	}

	cp := append([]byte(nil), value...)
	fs.table.ApplySetXattr(r.ID, name, cp)

	payload := record.MarshalSetXattr(record.SetXattrFields{InodeID: uint64(r.ID), Name: name, Value: cp})
	if err := fs.append(record.SetXattr, payload); err != nil {
		if existed {
			fs.table.ApplySetXattr(r.ID, name, prev)
		} else {
			fs.table.ApplyRemoveXattr(r.ID, name)
		}
		return err
	}
	return nil
}

// RemoveXattr implements §4.6 removexattr, with the same snapshot/restore
// durability discipline as SetXattr.
func (fs *Filesystem) RemoveXattr(path, name string) error {
	path = normalizePath(path)
	r := fs.table.FindLiveByPath(path)
	if r == nil {
		return syscall.ENOENT
	}

	prev, existed := r.Xattrs[name]
	if !existed {
		return syscall.ENODATA
	}

	fs.table.ApplyRemoveXattr(r.ID, name)

	payload := record.MarshalRemoveXattr(record.RemoveXattrFields{InodeID: uint64(r.ID), Name: name})
	if err := fs.append(record.RemoveXattr, payload); err != nil {
		fs.table.ApplySetXattr(r.ID, name, prev)
		return err
	}
	return nil
}
