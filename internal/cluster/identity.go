package cluster

import (
	"crypto/ecdsa"
	"encoding/hex"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
)

// NodeIDFromPublicKey derives a node's identifier from its secp256k1 public
// key: keccak-256 over the uncompressed key without the format prefix.
func NodeIDFromPublicKey(pub *ecdsa.PublicKey) NodeID {
	raw := crypto.FromECDSAPub(pub)
	return NodeID(hex.EncodeToString(crypto.Keccak256(raw[1:])))
}

// GenerateNodeKey creates a fresh secp256k1 node key.
func GenerateNodeKey() (*ecdsa.PrivateKey, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, errors.Wrap(err, "failed to generate node key")
	}
	return key, nil
}

// LoadNodeKey reads a hex-encoded secp256k1 node key from file.
func LoadNodeKey(path string) (*ecdsa.PrivateKey, error) {
	key, err := crypto.LoadECDSA(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load node key from %s", path)
	}
	return key, nil
}

// SaveNodeKey writes a node key to file, hex-encoded.
func SaveNodeKey(path string, key *ecdsa.PrivateKey) error {
	if err := crypto.SaveECDSA(path, key); err != nil {
		return errors.Wrapf(err, "failed to save node key to %s", path)
	}
	return nil
}
