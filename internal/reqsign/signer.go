// Package reqsign canonicalizes a broker request body, signs its
// Keccak-256 digest with the master identity, and assembles the signed
// envelope the broker expects (C3).
package reqsign

import (
	"crypto/ecdsa"
	"encoding/json"
	"fmt"

	"github.com/opacitylabs/vault/internal/cryptox"
	"github.com/opacitylabs/vault/internal/keys"
)

// Envelope is the signed JSON-body form of a broker request
// (spec.md 4.3).
type Envelope struct {
	RequestBody string `json:"requestBody"`
	Signature   string `json:"signature"`
	PublicKey   string `json:"publicKey"`
	Hash        string `json:"hash"`
}

// MultipartFields is the signed form-field set for a multipart broker
// request. The hash field is omitted per spec.md 4.3.
type MultipartFields struct {
	RequestBody string
	Signature   string
	PublicKey   string
}

// Signer signs request bodies with one account's master identity.
type Signer struct {
	priv   *ecdsa.PrivateKey
	pubHex string
}

// New builds a Signer from the session's master key.
func New(mk keys.MasterKey) (*Signer, error) {
	priv, err := mk.ECDSA()
	if err != nil {
		return nil, fmt.Errorf("reqsign: %w", err)
	}
	return &Signer{priv: priv, pubHex: cryptox.CompressedPublicKey(priv)}, nil
}

// canonicalize renders body to a JSON string using Go's deterministic
// struct-field-declaration order. body should be a struct, not a map, so
// that field order is stable across calls (spec.md 9, metadata field
// ordering note applies equally to signed request bodies).
func canonicalize(body any) (string, []byte, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return "", nil, fmt.Errorf("reqsign: canonicalize: %w", err)
	}
	digest := cryptox.Keccak256(raw)
	return string(raw), digest, nil
}

// SignJSON builds the full signed envelope for a JSON-body broker
// request.
func (s *Signer) SignJSON(body any) (Envelope, error) {
	reqBody, digest, err := canonicalize(body)
	if err != nil {
		return Envelope{}, err
	}
	sig, err := cryptox.SignDigest(s.priv, digest)
	if err != nil {
		return Envelope{}, fmt.Errorf("reqsign: %w", err)
	}
	return Envelope{
		RequestBody: reqBody,
		Signature:   sig,
		PublicKey:   s.pubHex,
		Hash:        fmt.Sprintf("%x", digest),
	}, nil
}

// SignMultipart builds the signed form-field set for a multipart broker
// request (upload, init-upload, metadata/set with binary payload).
func (s *Signer) SignMultipart(body any) (MultipartFields, error) {
	reqBody, digest, err := canonicalize(body)
	if err != nil {
		return MultipartFields{}, err
	}
	sig, err := cryptox.SignDigest(s.priv, digest)
	if err != nil {
		return MultipartFields{}, fmt.Errorf("reqsign: %w", err)
	}
	return MultipartFields{
		RequestBody: reqBody,
		Signature:   sig,
		PublicKey:   s.pubHex,
	}, nil
}

// PublicKeyHex returns the signer's compressed public key, hex-encoded.
func (s *Signer) PublicKeyHex() string { return s.pubHex }
