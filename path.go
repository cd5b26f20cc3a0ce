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

import "strings"

// normalizePath prepends a leading '/' if absent. Trailing slashes are not
// stripped and "." / ".." components are never resolved (§4.6: "All path
// arguments are normalized: a leading '/' is prepended if absent. Trailing
// slashes are not stripped. No '..' or '.' resolution.").
//
// The C original kept two variants of this helper, one allocating
// (normalize_path_copy) and one borrowing (normalize_path_view), purely to
// serve its manual memory ownership rules. A garbage-collected string type
// needs only one.
func normalizePath(path string) string {
	if strings.HasPrefix(path, "/") {
		return path
	}
	return "/" + path
}

// parentOf returns the normalized parent directory of a normalized path,
// or "" if path is directly under root (no parent check required there).
func parentOf(path string) string {
	idx := strings.LastIndexByte(path, '/')
	if idx <= 0 {
		return ""
	}
	return path[:idx]
}
