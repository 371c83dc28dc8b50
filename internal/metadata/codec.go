// Package metadata implements the canonical encode/decode/seal cycle for
// folder metadata blobs (C6). Canonical JSON here simply means encoding/json's
// own struct-field-declaration order, which is already deterministic and
// matches what the broker's signature-dependent endpoints expect.
package metadata

import (
	"encoding/json"
	"fmt"

	"github.com/opacitylabs/vault/internal/cryptox"
	"github.com/opacitylabs/vault/internal/domain"
)

// Encode marshals a FolderMetaData and seals it with key, ready to hand to
// the broker's metadata/set endpoint (metadata/create carries no blob).
func Encode(meta domain.FolderMetaData, key []byte) ([]byte, error) {
	raw, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("metadata: marshal: %w", err)
	}
	sealed, err := cryptox.Seal(raw, key)
	if err != nil {
		return nil, fmt.Errorf("metadata: seal: %w", err)
	}
	return sealed, nil
}

// Decode opens a sealed metadata blob with key and unmarshals it into a
// FolderMetaData. Open failures are reported as domain.ErrAuthFailed.
func Decode(sealed []byte, key []byte) (domain.FolderMetaData, error) {
	raw, err := cryptox.Open(sealed, key)
	if err != nil {
		return domain.FolderMetaData{}, fmt.Errorf("metadata: %w", err)
	}
	var meta domain.FolderMetaData
	if err := json.Unmarshal(raw, &meta); err != nil {
		return domain.FolderMetaData{}, fmt.Errorf("metadata: unmarshal: %w", err)
	}
	return meta, nil
}

// New builds an empty FolderMetaData for a freshly created folder.
func New(name string, now int64) domain.FolderMetaData {
	return domain.FolderMetaData{
		Name:     name,
		Created:  now,
		Modified: now,
		Folders:  []domain.Folder{},
		Files:    []domain.File{},
	}
}
