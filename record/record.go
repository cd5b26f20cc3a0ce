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

// Package record implements the nine-record-type wire format of the
// metadata log: a 9-byte framing header (type, length, CRC-32 of the
// payload) followed by a little-endian payload whose shape depends on the
// record type. Nothing here touches a file descriptor; metalog owns
// framing I/O, record only owns encode/decode.
package record

import (
	"encoding/binary"
	"fmt"

	"github.com/htbegin/append-fs/internal/crc32check"
	"github.com/htbegin/append-fs/internal/modebits"
)

// Type identifies one of the nine record variants. The on-disk byte is
// never 0; an unrecognized value (0, or >= 10) is handled by callers the
// same way a checksum mismatch is: skip the record, keep replaying.
type Type uint8

const (
	Create      Type = 1
	Extent      Type = 2
	Truncate    Type = 3
	Unlink      Type = 4
	Rename      Type = 5
	Mkdir       Type = 6
	SetXattr    Type = 7
	RemoveXattr Type = 8
	Times       Type = 9
)

// HeaderSize is the fixed size, in bytes, of a record's framing header.
const HeaderSize = 9

// Header is the 9-byte frame preceding every record's payload.
type Header struct {
	Type     Type
	Length   uint32
	Checksum uint32
}

// Encode writes h into a fresh HeaderSize-byte slice.
func (h Header) Encode() []byte {
	b := make([]byte, HeaderSize)
	b[0] = byte(h.Type)
	binary.LittleEndian.PutUint32(b[1:5], h.Length)
	binary.LittleEndian.PutUint32(b[5:9], h.Checksum)
	return b
}

// DecodeHeader parses the HeaderSize-byte frame at the start of b.
func DecodeHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, fmt.Errorf("record: short header (%d bytes)", len(b))
	}
	return Header{
		Type:     Type(b[0]),
		Length:   binary.LittleEndian.Uint32(b[1:5]),
		Checksum: binary.LittleEndian.Uint32(b[5:9]),
	}, nil
}

// HeaderFor builds the header that must precede payload when appending a
// record of type t.
func HeaderFor(t Type, payload []byte) Header {
	return Header{
		Type:     t,
		Length:   uint32(len(payload)),
		Checksum: crc32check.Checksum(payload),
	}
}

// CreateFields is the shared payload shape of CREATE and MKDIR records
// (the type byte is all that distinguishes creating-a-file intent from
// creating-a-directory intent; the field layout is identical).
type CreateFields struct {
	InodeID       uint64
	Mode          uint32
	Size          uint64
	Ts            uint64
	Path          string
	SymlinkTarget string // only encoded/decoded when modebits.IsSymlink(Mode)
}

// MarshalCreate encodes f per §4.2's CREATE/MKDIR payload layout.
func MarshalCreate(f CreateFields) []byte {
	pathBytes := []byte(f.Path)
	size := 8 + 4 + 8 + 8 + 4 + len(pathBytes)
	isSymlink := modebits.IsSymlink(f.Mode)
	var targetBytes []byte
	if isSymlink {
		targetBytes = []byte(f.SymlinkTarget)
		size += 4 + len(targetBytes)
	}

	b := make([]byte, size)
	o := 0
	binary.LittleEndian.PutUint64(b[o:], f.InodeID)
	o += 8
	binary.LittleEndian.PutUint32(b[o:], f.Mode)
	o += 4
	binary.LittleEndian.PutUint64(b[o:], f.Size)
	o += 8
	binary.LittleEndian.PutUint64(b[o:], f.Ts)
	o += 8
	binary.LittleEndian.PutUint32(b[o:], uint32(len(pathBytes)))
	o += 4
	o += copy(b[o:], pathBytes)
	if isSymlink {
		binary.LittleEndian.PutUint32(b[o:], uint32(len(targetBytes)))
		o += 4
		copy(b[o:], targetBytes)
	}
	return b
}

// UnmarshalCreate decodes a CREATE/MKDIR payload. The trailing symlink
// target is read only when the decoded mode says symlink; for any other
// mode SymlinkTarget is left empty. A symlink payload whose target bytes
// are missing or cut short decodes without error and with an empty target.
func UnmarshalCreate(payload []byte) (CreateFields, error) {
	const minLen = 8 + 4 + 8 + 8 + 4
	if len(payload) < minLen {
		return CreateFields{}, fmt.Errorf("record: CREATE payload too short (%d bytes)", len(payload))
	}
	var f CreateFields
	o := 0
	f.InodeID = binary.LittleEndian.Uint64(payload[o:])
	o += 8
	f.Mode = binary.LittleEndian.Uint32(payload[o:])
	o += 4
	f.Size = binary.LittleEndian.Uint64(payload[o:])
	o += 8
	f.Ts = binary.LittleEndian.Uint64(payload[o:])
	o += 8
	pathLen := binary.LittleEndian.Uint32(payload[o:])
	o += 4
	if uint64(o)+uint64(pathLen) > uint64(len(payload)) {
		return CreateFields{}, fmt.Errorf("record: CREATE path overruns payload")
	}
	f.Path = string(payload[o : o+int(pathLen)])
	o += int(pathLen)

	if modebits.IsSymlink(f.Mode) {
		if o+4 > len(payload) {
			return f, nil
		}
		targetLen := binary.LittleEndian.Uint32(payload[o:])
		o += 4
		if uint64(o)+uint64(targetLen) > uint64(len(payload)) {
			return f, nil
		}
		f.SymlinkTarget = string(payload[o : o+int(targetLen)])
	}
	return f, nil
}

// ExtentFields is an EXTENT record's payload.
type ExtentFields struct {
	InodeID    uint64
	Logical    uint64
	DataOffset uint64
	Length     uint32
	NewSize    uint64
}

func MarshalExtent(f ExtentFields) []byte {
	b := make([]byte, 8+8+8+4+8)
	o := 0
	binary.LittleEndian.PutUint64(b[o:], f.InodeID)
	o += 8
	binary.LittleEndian.PutUint64(b[o:], f.Logical)
	o += 8
	binary.LittleEndian.PutUint64(b[o:], f.DataOffset)
	o += 8
	binary.LittleEndian.PutUint32(b[o:], f.Length)
	o += 4
	binary.LittleEndian.PutUint64(b[o:], f.NewSize)
	return b
}

func UnmarshalExtent(payload []byte) (ExtentFields, error) {
	const want = 8 + 8 + 8 + 4 + 8
	if len(payload) < want {
		return ExtentFields{}, fmt.Errorf("record: EXTENT payload too short (%d bytes)", len(payload))
	}
	var f ExtentFields
	o := 0
	f.InodeID = binary.LittleEndian.Uint64(payload[o:])
	o += 8
	f.Logical = binary.LittleEndian.Uint64(payload[o:])
	o += 8
	f.DataOffset = binary.LittleEndian.Uint64(payload[o:])
	o += 8
	f.Length = binary.LittleEndian.Uint32(payload[o:])
	o += 4
	f.NewSize = binary.LittleEndian.Uint64(payload[o:])
	return f, nil
}

// TruncateFields is a TRUNCATE record's payload.
type TruncateFields struct {
	InodeID uint64
	NewSize uint64
}

func MarshalTruncate(f TruncateFields) []byte {
	b := make([]byte, 16)
	binary.LittleEndian.PutUint64(b[0:], f.InodeID)
	binary.LittleEndian.PutUint64(b[8:], f.NewSize)
	return b
}

func UnmarshalTruncate(payload []byte) (TruncateFields, error) {
	if len(payload) < 16 {
		return TruncateFields{}, fmt.Errorf("record: TRUNCATE payload too short (%d bytes)", len(payload))
	}
	return TruncateFields{
		InodeID: binary.LittleEndian.Uint64(payload[0:]),
		NewSize: binary.LittleEndian.Uint64(payload[8:]),
	}, nil
}

// UnlinkFields is an UNLINK record's payload.
type UnlinkFields struct {
	InodeID uint64
}

func MarshalUnlink(f UnlinkFields) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, f.InodeID)
	return b
}

func UnmarshalUnlink(payload []byte) (UnlinkFields, error) {
	if len(payload) < 8 {
		return UnlinkFields{}, fmt.Errorf("record: UNLINK payload too short (%d bytes)", len(payload))
	}
	return UnlinkFields{InodeID: binary.LittleEndian.Uint64(payload)}, nil
}

// RenameFields is a RENAME record's payload: it carries exactly one
// inode's new path. A subtree rename is one RENAME record per affected
// inode (§4.6 step 6), not a batch record.
type RenameFields struct {
	InodeID uint64
	Path    string
}

func MarshalRename(f RenameFields) []byte {
	pathBytes := []byte(f.Path)
	b := make([]byte, 8+4+len(pathBytes))
	binary.LittleEndian.PutUint64(b[0:], f.InodeID)
	binary.LittleEndian.PutUint32(b[8:], uint32(len(pathBytes)))
	copy(b[12:], pathBytes)
	return b
}

func UnmarshalRename(payload []byte) (RenameFields, error) {
	if len(payload) < 12 {
		return RenameFields{}, fmt.Errorf("record: RENAME payload too short (%d bytes)", len(payload))
	}
	inodeID := binary.LittleEndian.Uint64(payload[0:])
	pathLen := binary.LittleEndian.Uint32(payload[8:])
	if uint64(12)+uint64(pathLen) > uint64(len(payload)) {
		return RenameFields{}, fmt.Errorf("record: RENAME path overruns payload")
	}
	return RenameFields{
		InodeID: inodeID,
		Path:    string(payload[12 : 12+pathLen]),
	}, nil
}

// SetXattrFields is a SETXATTR record's payload.
type SetXattrFields struct {
	InodeID uint64
	Name    string
	Value   []byte
}

func MarshalSetXattr(f SetXattrFields) []byte {
	nameBytes := []byte(f.Name)
	b := make([]byte, 8+4+4+len(nameBytes)+len(f.Value))
	o := 0
	binary.LittleEndian.PutUint64(b[o:], f.InodeID)
	o += 8
	binary.LittleEndian.PutUint32(b[o:], uint32(len(nameBytes)))
	o += 4
	binary.LittleEndian.PutUint32(b[o:], uint32(len(f.Value)))
	o += 4
	o += copy(b[o:], nameBytes)
	copy(b[o:], f.Value)
	return b
}

func UnmarshalSetXattr(payload []byte) (SetXattrFields, error) {
	if len(payload) < 16 {
		return SetXattrFields{}, fmt.Errorf("record: SETXATTR payload too short (%d bytes)", len(payload))
	}
	inodeID := binary.LittleEndian.Uint64(payload[0:])
	nameLen := binary.LittleEndian.Uint32(payload[8:])
	valueLen := binary.LittleEndian.Uint32(payload[12:])
	o := 16
	if uint64(o)+uint64(nameLen)+uint64(valueLen) > uint64(len(payload)) {
		return SetXattrFields{}, fmt.Errorf("record: SETXATTR name/value overrun payload")
	}
	name := string(payload[o : o+int(nameLen)])
	o += int(nameLen)
	value := append([]byte(nil), payload[o:o+int(valueLen)]...)
	return SetXattrFields{InodeID: inodeID, Name: name, Value: value}, nil
}

// RemoveXattrFields is a REMOVEXATTR record's payload.
type RemoveXattrFields struct {
	InodeID uint64
	Name    string
}

func MarshalRemoveXattr(f RemoveXattrFields) []byte {
	nameBytes := []byte(f.Name)
	b := make([]byte, 8+4+len(nameBytes))
	binary.LittleEndian.PutUint64(b[0:], f.InodeID)
	binary.LittleEndian.PutUint32(b[8:], uint32(len(nameBytes)))
	copy(b[12:], nameBytes)
	return b
}

func UnmarshalRemoveXattr(payload []byte) (RemoveXattrFields, error) {
	if len(payload) < 12 {
		return RemoveXattrFields{}, fmt.Errorf("record: REMOVEXATTR payload too short (%d bytes)", len(payload))
	}
	inodeID := binary.LittleEndian.Uint64(payload[0:])
	nameLen := binary.LittleEndian.Uint32(payload[8:])
	if uint64(12)+uint64(nameLen) > uint64(len(payload)) {
		return RemoveXattrFields{}, fmt.Errorf("record: REMOVEXATTR name overruns payload")
	}
	return RemoveXattrFields{
		InodeID: inodeID,
		Name:    string(payload[12 : 12+nameLen]),
	}, nil
}

// TimesFields is a TIMES record's payload. ctime is never carried on the
// wire (§4.2: "ctime not recorded; derived on next mutation").
type TimesFields struct {
	InodeID uint64
	Atime   int64
	Mtime   int64
}

func MarshalTimes(f TimesFields) []byte {
	b := make([]byte, 24)
	binary.LittleEndian.PutUint64(b[0:], f.InodeID)
	binary.LittleEndian.PutUint64(b[8:], uint64(f.Atime))
	binary.LittleEndian.PutUint64(b[16:], uint64(f.Mtime))
	return b
}

func UnmarshalTimes(payload []byte) (TimesFields, error) {
	if len(payload) < 24 {
		return TimesFields{}, fmt.Errorf("record: TIMES payload too short (%d bytes)", len(payload))
	}
	return TimesFields{
		InodeID: binary.LittleEndian.Uint64(payload[0:]),
		Atime:   int64(binary.LittleEndian.Uint64(payload[8:])),
		Mtime:   int64(binary.LittleEndian.Uint64(payload[16:])),
	}, nil
}
