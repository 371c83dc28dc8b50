package cryptox

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/opacitylabs/vault/internal/domain"
)

// SignDigest signs a 32-byte digest with priv and returns the signature
// as a 128-hex-char (r,s) concatenation. The recovery byte ecdsa.Sign
// produces is stripped entirely, per spec.md 4.1 — unlike the teacher's
// order-signing path, this wire contract has no use for it.
func SignDigest(priv *ecdsa.PrivateKey, digest []byte) (string, error) {
	if len(digest) != 32 {
		return "", fmt.Errorf("%w: digest must be 32 bytes, got %d", domain.ErrSignFailed, len(digest))
	}
	sig, err := ethcrypto.Sign(digest, priv)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrSignFailed, err)
	}
	rs := sig[:64]
	out := hex.EncodeToString(rs)
	if len(out) != 128 {
		return "", fmt.Errorf("%w: signature length %d, want 128", domain.ErrSignFailed, len(out))
	}
	return out, nil
}

// CompressedPublicKey returns the 33-byte compressed public key
// corresponding to priv, hex-encoded.
func CompressedPublicKey(priv *ecdsa.PrivateKey) string {
	return hex.EncodeToString(ethcrypto.CompressPubkey(&priv.PublicKey))
}
