// Package cryptox implements the block-sealing, hashing, and signing
// primitives the rest of the vault core is built on (C1).
package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"

	"github.com/opacitylabs/vault/internal/domain"
)

// IVSize is the AES-GCM nonce size the broker expects per block.
const IVSize = 12

// TagSize is the AES-GCM authentication tag size.
const TagSize = 16

// Overhead is the fixed per-block ciphertext overhead the broker's
// chunk-framing assumes: 12-byte IV, 16-byte tag, 4 bytes of additional
// framing. Implementers MUST match this exactly; it determines every
// size computation in the chunk pipeline (SPEC_FULL.md 4.1).
const Overhead = IVSize + TagSize + 4

// Seal encrypts plaintext with a 32-byte key, producing
// IV ‖ ciphertext ‖ tag ‖ framing. The framing bytes are a zero-valued
// reserved field the broker's wire format carries but does not yet
// interpret; they are appended for byte-length parity with Overhead.
func Seal(plaintext, key []byte) ([]byte, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("cryptox: seal: key must be 32 bytes, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("cryptox: seal: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cryptox: seal: %w", err)
	}
	iv := make([]byte, IVSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, fmt.Errorf("cryptox: seal: iv: %w", err)
	}
	sealed := gcm.Seal(nil, iv, plaintext, nil)
	out := make([]byte, 0, IVSize+len(sealed)+4)
	out = append(out, iv...)
	out = append(out, sealed...)
	out = append(out, 0, 0, 0, 0)
	return out, nil
}

// Open decrypts a blob produced by Seal. Any authentication failure is
// reported as domain.ErrAuthFailed.
func Open(blob, key []byte) ([]byte, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("cryptox: open: key must be 32 bytes, got %d", len(key))
	}
	if len(blob) < IVSize+TagSize+4 {
		return nil, fmt.Errorf("%w: blob too short", domain.ErrAuthFailed)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("cryptox: open: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cryptox: open: %w", err)
	}
	iv := blob[:IVSize]
	sealed := blob[IVSize : len(blob)-4]
	plaintext, err := gcm.Open(nil, iv, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrAuthFailed, err)
	}
	return plaintext, nil
}
