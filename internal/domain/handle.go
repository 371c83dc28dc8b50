package domain

import (
	"encoding/hex"
	"fmt"
)

// Handle is the result of parsing a broker-facing hex handle: a folder
// reference (64 hex chars) or a file reference (128 hex chars). Lifting
// the length check to this parse boundary means the rest of the tree
// operations branch on a type, not a len() call (SPEC_FULL.md REDESIGN
// FLAGS).
type Handle interface {
	isHandle()
	String() string
}

// FolderHandle is a folder's MetadataKey: 32 raw bytes, 64 hex chars.
type FolderHandle struct {
	MetadataKey [32]byte
}

func (FolderHandle) isHandle() {}

func (h FolderHandle) String() string { return hex.EncodeToString(h.MetadataKey[:]) }

// FileHandle is a file reference: a 32-byte file id concatenated with a
// 32-byte file key, 128 hex chars on the wire. The id is never
// transmitted together with the key except inside this handle, which the
// client holds and the broker never sees whole.
type FileHandle struct {
	FileID  [32]byte
	FileKey [32]byte
}

func (FileHandle) isHandle() {}

func (h FileHandle) String() string {
	return hex.EncodeToString(h.FileID[:]) + hex.EncodeToString(h.FileKey[:])
}

// ParseHandle applies the length discriminant from spec.md section 3: 64
// hex chars is a folder handle, 128 is a file handle, anything else is
// rejected. Apart from the CLI's up-front 128-char check on the download
// command, this is the only place in the codebase that branches on handle
// length.
func ParseHandle(s string) (Handle, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("domain: parse handle: %w", err)
	}
	switch len(raw) {
	case 32:
		var h FolderHandle
		copy(h.MetadataKey[:], raw)
		return h, nil
	case 64:
		var h FileHandle
		copy(h.FileID[:], raw[:32])
		copy(h.FileKey[:], raw[32:])
		return h, nil
	default:
		return nil, fmt.Errorf("%w: handle length %d bytes", ErrInvalidPath, len(raw))
	}
}
