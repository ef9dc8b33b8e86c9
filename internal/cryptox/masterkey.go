// Package cryptox implements the envelope encryption primitives: the master
// key, per-file key wrapping, and the segmented streaming AEAD used for
// stored blobs.
package cryptox

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/genevault/internal/common"
	"golang.org/x/crypto/argon2"
)

// Sizes shared by the key wrapper and the stream cipher (AES-256-GCM).
const (
	KeySize   = 32
	NonceSize = 12
	TagSize   = 16
)

// MasterKey is the process-wide key that wraps per-file keys. It is built once
// at startup and never mutated afterwards, except by Wipe on shutdown.
type MasterKey struct {
	key []byte
}

// NewMasterKey copies b into a new MasterKey. b must be exactly KeySize bytes.
func NewMasterKey(b []byte) (*MasterKey, error) {
	if len(b) != KeySize {
		return nil, fmt.Errorf("%w: master key must be %d bytes, got %d", common.ErrInvalidKeyLength, KeySize, len(b))
	}
	k := make([]byte, KeySize)
	copy(k, b)
	return &MasterKey{key: k}, nil
}

// ParseMasterKeyHex decodes a 64-character hex string. An empty string means
// no master key is configured and yields (nil, nil).
func ParseMasterKeyHex(s string) (*MasterKey, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("master key is not valid hex: %w", err)
	}
	defer common.WipeByteArray(b)
	return NewMasterKey(b)
}

// DeriveMasterKey stretches an operator passphrase into a master key with
// argon2id. The same passphrase and salt always produce the same key.
func DeriveMasterKey(passphrase, salt []byte) *MasterKey {
	return &MasterKey{key: argon2.IDKey(passphrase, salt, 1, 64*1024, 4, KeySize)}
}

// bytes exposes the raw key to the cipher constructors in this package.
func (m *MasterKey) bytes() []byte {
	return m.key
}

// Wipe zeroes the key. The MasterKey must not be used afterwards.
func (m *MasterKey) Wipe() {
	if m == nil {
		return
	}
	common.WipeByteArray(m.key)
}

// String never reveals key material.
func (m *MasterKey) String() string {
	return "MasterKey(redacted)"
}
