// Package keys implements the BIP32-style hierarchical key derivation
// that turns a single account handle into per-folder keys (C2).
package keys

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/tyler-smith/go-bip32"

	"github.com/opacitylabs/vault/internal/cryptox"
	"github.com/opacitylabs/vault/internal/domain"
)

// MasterKey is the session's root key material, split directly out of
// the 128-hex account handle: the first 64 hex chars are the private key,
// the last 64 are the chain code. Unlike a BIP39 seed these are used
// as-is, not re-hashed through HMAC-SHA512, since the handle already
// carries a key/chain-code pair rather than seed entropy.
type MasterKey struct {
	PrivateKey [32]byte
	ChainCode  [32]byte
}

// ParseAccountHandle splits a 128-hex-char account handle into its
// private-key and chain-code halves. Any other length is rejected with
// domain.ErrInvalidHandle (spec.md invariant 1).
func ParseAccountHandle(handle string) (MasterKey, error) {
	if len(handle) != 128 {
		return MasterKey{}, fmt.Errorf("%w: handle must be 128 hex chars, got %d", domain.ErrInvalidHandle, len(handle))
	}
	raw, err := hex.DecodeString(handle)
	if err != nil {
		return MasterKey{}, fmt.Errorf("%w: %v", domain.ErrInvalidHandle, err)
	}
	var mk MasterKey
	copy(mk.PrivateKey[:], raw[:32])
	copy(mk.ChainCode[:], raw[32:])
	return mk, nil
}

// ECDSA returns the master private key as a secp256k1 ecdsa.PrivateKey,
// used directly to sign broker requests (C3).
func (mk MasterKey) ECDSA() (*ecdsa.PrivateKey, error) {
	priv, err := ethcrypto.ToECDSA(mk.PrivateKey[:])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidHandle, err)
	}
	return priv, nil
}

// root builds the bip32 master key node from the handle's two halves,
// matching the private-key/chain-code shape bip32.NewMasterKey would
// otherwise derive from raw seed entropy via HMAC-SHA512.
func (mk MasterKey) root() *bip32.Key {
	return &bip32.Key{
		Key:         append([]byte(nil), mk.PrivateKey[:]...),
		ChainCode:   append([]byte(nil), mk.ChainCode[:]...),
		Version:     bip32.PrivateWalletVersion,
		ChildNumber: []byte{0, 0, 0, 0},
		FingerPrint: []byte{0, 0, 0, 0},
		Depth:       0,
		IsPrivate:   true,
	}
}

// FolderKey is the per-folder derived key (SPEC_FULL.md 4.2): a child HD
// key plus the two broker-facing quantities computed from it.
type FolderKey struct {
	child       *bip32.Key
	MetadataKey [32]byte // public identifier addressing the folder's metadata blob
	KeyString   [32]byte // symmetric AES-GCM key sealing the folder's metadata blob
}

// PrivateKeyHex is the folder's derived private key, lowercase hex. It is
// never sent to the broker; it exists only to compute KeyString, which
// hashes this hex string's ASCII bytes rather than the raw key bytes — a
// wire-compatible quirk that MUST be preserved bit-exact (spec.md 4.2).
func (fk FolderKey) PrivateKeyHex() string {
	return hex.EncodeToString(fk.child.Key)
}

// DeriveFolderKey derives the key for an absolute POSIX-style path,
// deterministically: identical (master, path) always yields an identical
// FolderKey, and distinct paths yield distinct keys with overwhelming
// probability (spec.md invariant 2).
//
// Each path segment is consumed as eight chained hardened-child
// derivations keyed off the Keccak-256 digest of the segment: each
// 32-bit word of the digest becomes one hardened child index with its top
// bit cleared, so 248 of the hash's 256 bits feed the derivation rather
// than a single 31-bit child index.
func DeriveFolderKey(master MasterKey, path string) (FolderKey, error) {
	node := master.root()
	for _, segment := range splitPath(path) {
		digest := cryptox.Keccak256([]byte(segment))
		for i := 0; i < 8; i++ {
			idx := uint32(digest[i*4])<<24 | uint32(digest[i*4+1])<<16 | uint32(digest[i*4+2])<<8 | uint32(digest[i*4+3])
			idx &= 0x7fffffff
			child, err := node.NewChildKey(bip32.FirstHardenedChild + idx)
			if err != nil {
				return FolderKey{}, fmt.Errorf("keys: derive folder key: %w", err)
			}
			node = child
		}
	}

	metadataKey := cryptox.Keccak256(node.Key)
	var mk32 [32]byte
	copy(mk32[:], metadataKey)

	keyString := cryptox.Keccak256([]byte(hex.EncodeToString(node.Key)))
	var ks32 [32]byte
	copy(ks32[:], keyString)

	return FolderKey{child: node, MetadataKey: mk32, KeyString: ks32}, nil
}

// splitPath splits an absolute path into non-empty segments; the root
// path "/" yields a single synthetic "/" segment so root still gets a
// derived key distinct from any named folder (a name never contains "/").
func splitPath(path string) []string {
	if path == "" || path == "/" {
		return []string{"/"}
	}
	var segments []string
	start := 0
	for i := 0; i <= len(path); i++ {
		if i == len(path) || path[i] == '/' {
			if i > start {
				segments = append(segments, path[start:i])
			}
			start = i + 1
		}
	}
	if len(segments) == 0 {
		return []string{"/"}
	}
	return segments
}
