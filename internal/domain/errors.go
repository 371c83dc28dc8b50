// Package domain holds the types and sentinel errors shared across the
// vault client core: the folder tree model, the handle discriminant, and
// the error taxonomy every component reports through.
package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidHandle means the account handle was not 128 hex
	// characters, or the broker returned 404 on account-data. Fatal to
	// the session.
	ErrInvalidHandle = errors.New("invalid account handle")

	// ErrInvalidPath means an upload/download target path did not begin
	// with "/", or a local path was neither a file nor a directory.
	ErrInvalidPath = errors.New("invalid path")

	// ErrDuplicateName means a file name already exists in the
	// destination folder's metadata. Not fatal; the caller skips it.
	ErrDuplicateName = errors.New("duplicate name in folder")

	// ErrUploadIncomplete means the verification/retry loop exhausted
	// its retries with chunks still missing.
	ErrUploadIncomplete = errors.New("upload incomplete after retries")

	// ErrDownloadCorrupt means an AES-GCM open failed while reassembling
	// a downloaded file.
	ErrDownloadCorrupt = errors.New("download failed authentication")

	// ErrAuthFailed is a crypto-primitive level failure: AES-GCM open
	// failed outside the download reassembly path.
	ErrAuthFailed = errors.New("authentication failed")

	// ErrSignFailed is a crypto-primitive level failure during signing.
	ErrSignFailed = errors.New("signing failed")

	// ErrNotFound means a move/delete/rename referenced a handle or name
	// absent from its parent metadata.
	ErrNotFound = errors.New("entry not found")

	// ErrLockHeld means a distributed lock could not be acquired.
	ErrLockHeld = errors.New("lock held by another holder")
)

// BrokerError wraps a non-200 broker response that isn't otherwise
// classified by the taxonomy above.
type BrokerError struct {
	Status int
	Body   string
}

func (e *BrokerError) Error() string {
	return fmt.Sprintf("broker error: status %d: %s", e.Status, e.Body)
}
