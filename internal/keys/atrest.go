package keys

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// handleFilePBKDF2Iterations is the OWASP-recommended minimum for
	// HMAC-SHA256.
	handleFilePBKDF2Iterations = 480_000
	// handleFileSaltLen is the random salt length in bytes.
	handleFileSaltLen = 16
	// handleFileAESKeyLen is the derived AES-256 key length.
	handleFileAESKeyLen = 32
	// handleFileVersion is the encrypted-handle JSON schema version.
	handleFileVersion = 1
	// accountHandleBytes is the raw byte length of a 128-hex-character
	// account handle.
	accountHandleBytes = 64
)

// encryptedHandleJSON is the on-disk format for a password-protected
// account handle.
type encryptedHandleJSON struct {
	Version    int    `json:"version"`
	Salt       string `json:"salt"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// EncryptHandle encrypts a 128-hex-character account handle with a
// password using PBKDF2-HMAC-SHA256 key derivation and AES-256-GCM
// authenticated encryption, returning the JSON blob to write to disk.
func EncryptHandle(handleHex, password string) ([]byte, error) {
	if password == "" {
		return nil, errors.New("keys: password must not be empty")
	}
	raw, err := hex.DecodeString(handleHex)
	if err != nil {
		return nil, fmt.Errorf("keys: invalid handle hex: %w", err)
	}
	if len(raw) != accountHandleBytes {
		return nil, fmt.Errorf("keys: expected %d-byte handle, got %d bytes", accountHandleBytes, len(raw))
	}

	salt := make([]byte, handleFileSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("keys: generating salt: %w", err)
	}
	derivedKey := pbkdf2.Key([]byte(password), salt, handleFilePBKDF2Iterations, handleFileAESKeyLen, sha256.New)

	block, err := aes.NewCipher(derivedKey)
	if err != nil {
		return nil, fmt.Errorf("keys: creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("keys: creating GCM: %w", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("keys: generating nonce: %w", err)
	}
	ciphertext := gcm.Seal(nil, nonce, raw, nil)

	out := encryptedHandleJSON{
		Version:    handleFileVersion,
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(ciphertext),
	}
	return json.MarshalIndent(out, "", "  ")
}

// DecryptHandle decrypts a JSON blob produced by EncryptHandle, returning
// the hex-encoded account handle.
func DecryptHandle(encryptedJSON []byte, password string) (string, error) {
	if password == "" {
		return "", errors.New("keys: password must not be empty")
	}

	var stored encryptedHandleJSON
	if err := json.Unmarshal(encryptedJSON, &stored); err != nil {
		return "", fmt.Errorf("keys: parsing encrypted handle JSON: %w", err)
	}
	if stored.Version != handleFileVersion {
		return "", fmt.Errorf("keys: unsupported version %d", stored.Version)
	}

	salt, err := base64.StdEncoding.DecodeString(stored.Salt)
	if err != nil {
		return "", fmt.Errorf("keys: decoding salt: %w", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(stored.Nonce)
	if err != nil {
		return "", fmt.Errorf("keys: decoding nonce: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(stored.Ciphertext)
	if err != nil {
		return "", fmt.Errorf("keys: decoding ciphertext: %w", err)
	}

	derivedKey := pbkdf2.Key([]byte(password), salt, handleFilePBKDF2Iterations, handleFileAESKeyLen, sha256.New)
	block, err := aes.NewCipher(derivedKey)
	if err != nil {
		return "", fmt.Errorf("keys: creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("keys: creating GCM: %w", err)
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("keys: decryption failed (wrong password?): %w", err)
	}
	return hex.EncodeToString(plaintext), nil
}

// LoadHandle resolves the account handle from a config.HandleConfig-shaped
// trio of fields, in priority order: an inline value, then an encrypted
// file plus password. It is the CLI's job to fall back to an interactive
// prompt when both are empty.
func LoadHandle(value, encryptedPath, password string) (string, error) {
	if value != "" {
		return value, nil
	}
	if encryptedPath != "" {
		data, err := os.ReadFile(encryptedPath)
		if err != nil {
			return "", fmt.Errorf("keys: reading encrypted handle file: %w", err)
		}
		return DecryptHandle(data, password)
	}
	return "", errors.New("keys: no account handle source configured")
}
