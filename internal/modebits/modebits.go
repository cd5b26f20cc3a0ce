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

// Package modebits centralizes the POSIX mode-bit constants and file-type
// tests shared by the record codec, the inode table and the public API, so
// "is this a directory/symlink/regular file" is answered the same way
// everywhere (§4.6 "Polymorphism by mode bits").
package modebits

import "golang.org/x/sys/unix"

const (
	IFMT  = unix.S_IFMT
	IFREG = unix.S_IFREG
	IFDIR = unix.S_IFDIR
	IFLNK = unix.S_IFLNK

	PermMask = 0007777
)

func IsDir(mode uint32) bool {
	return mode&IFMT == IFDIR
}

func IsRegular(mode uint32) bool {
	return mode&IFMT == IFREG
}

func IsSymlink(mode uint32) bool {
	return mode&IFMT == IFLNK
}
