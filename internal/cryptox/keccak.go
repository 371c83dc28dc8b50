package cryptox

import (
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Keccak256 hashes data with the Ethereum-style Keccak-256 permutation
// (not NIST SHA3), matching the broker's hashing convention.
func Keccak256(data ...[]byte) []byte {
	return ethcrypto.Keccak256(data...)
}
