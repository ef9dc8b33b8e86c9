package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/genevault/internal/common"
)

// Mode describes how per-file keys are protected at rest.
type Mode string

const (
	// ModeSealed means per-file keys are encrypted under the master key.
	ModeSealed Mode = "sealed"
	// ModeDegraded means no master key is configured and per-file keys are
	// stored in the clear. It is insecure and must stay visible to operators.
	ModeDegraded Mode = "degraded"
)

// WrappedKeyKind distinguishes sealed keys from keys stored in the clear.
type WrappedKeyKind string

const (
	KindSealed WrappedKeyKind = "sealed"
	KindPlain  WrappedKeyKind = "plain"
)

const wrappedKeyVersion = "v1"

// WrappedKey is a per-file key as persisted in a FileRecord.
//
// For KindSealed, Ciphertext is the AES-256-GCM encryption of the key under the
// master key with Nonce and Tag. For KindPlain, Ciphertext holds the key itself
// and Nonce/Tag are empty.
type WrappedKey struct {
	Kind       WrappedKeyKind
	Nonce      []byte
	Tag        []byte
	Ciphertext []byte
}

// IsPlain reports whether the key was stored without wrapping (degraded mode).
func (w WrappedKey) IsPlain() bool {
	return w.Kind == KindPlain
}

// Encode renders the key as "v1:<kind>:<hex>". Sealed keys are encoded as
// hex(nonce|tag|ciphertext), plain keys as hex(key).
func (w WrappedKey) Encode() string {
	var payload []byte
	switch w.Kind {
	case KindSealed:
		payload = make([]byte, 0, len(w.Nonce)+len(w.Tag)+len(w.Ciphertext))
		payload = append(payload, w.Nonce...)
		payload = append(payload, w.Tag...)
		payload = append(payload, w.Ciphertext...)
	default:
		payload = w.Ciphertext
	}
	return wrappedKeyVersion + ":" + string(w.Kind) + ":" + hex.EncodeToString(payload)
}

// ParseWrappedKey decodes the output of Encode. Malformed input yields
// ErrCorruptKeyMaterial.
func ParseWrappedKey(s string) (WrappedKey, error) {
	parts := strings.SplitN(s, ":", 3)
	if len(parts) != 3 || parts[0] != wrappedKeyVersion {
		return WrappedKey{}, fmt.Errorf("%w: unrecognised wrapped key encoding", common.ErrCorruptKeyMaterial)
	}
	payload, err := hex.DecodeString(parts[2])
	if err != nil {
		return WrappedKey{}, fmt.Errorf("%w: %v", common.ErrCorruptKeyMaterial, err)
	}

	switch WrappedKeyKind(parts[1]) {
	case KindSealed:
		if len(payload) < NonceSize+TagSize {
			return WrappedKey{}, fmt.Errorf("%w: sealed key too short", common.ErrCorruptKeyMaterial)
		}
		return WrappedKey{
			Kind:       KindSealed,
			Nonce:      payload[:NonceSize],
			Tag:        payload[NonceSize : NonceSize+TagSize],
			Ciphertext: payload[NonceSize+TagSize:],
		}, nil
	case KindPlain:
		return WrappedKey{Kind: KindPlain, Ciphertext: payload}, nil
	default:
		return WrappedKey{}, fmt.Errorf("%w: unknown key kind %q", common.ErrCorruptKeyMaterial, parts[1])
	}
}

// KeyWrapper wraps and unwraps per-file keys under a single master key. It
// holds no mutable state and is safe for concurrent use.
type KeyWrapper struct {
	aead        cipher.AEAD
	rejectPlain bool
}

type WrapperOption func(*KeyWrapper)

// RejectPlainKeys makes a sealed wrapper refuse KindPlain records, so a record
// downgraded to a clear key cannot be read as legitimate. It has no effect in
// degraded mode.
func RejectPlainKeys() WrapperOption {
	return func(w *KeyWrapper) { w.rejectPlain = true }
}

// NewKeyWrapper builds a wrapper around master. A nil master key puts the
// wrapper in degraded mode.
func NewKeyWrapper(master *MasterKey, opts ...WrapperOption) (*KeyWrapper, error) {
	w := &KeyWrapper{}
	for _, opt := range opts {
		opt(w)
	}
	if master == nil {
		return w, nil
	}
	aead, err := newGCM(master.bytes())
	if err != nil {
		return nil, err
	}
	w.aead = aead
	return w, nil
}

// Mode reports whether a master key is configured.
func (w *KeyWrapper) Mode() Mode {
	if w.aead == nil {
		return ModeDegraded
	}
	return ModeSealed
}

// Wrap protects a 32-byte per-file key. Every call draws a fresh random nonce.
func (w *KeyWrapper) Wrap(key []byte) (WrappedKey, error) {
	if len(key) != KeySize {
		return WrappedKey{}, fmt.Errorf("%w: per-file key must be %d bytes, got %d", common.ErrInvalidKeyLength, KeySize, len(key))
	}

	if w.aead == nil {
		plain := make([]byte, KeySize)
		copy(plain, key)
		return WrappedKey{Kind: KindPlain, Ciphertext: plain}, nil
	}

	nonce := common.GenerateRandByteArray(NonceSize)
	sealed := w.aead.Seal(nil, nonce, key, nil)
	return WrappedKey{
		Kind:       KindSealed,
		Nonce:      nonce,
		Tag:        sealed[len(sealed)-TagSize:],
		Ciphertext: sealed[:len(sealed)-TagSize],
	}, nil
}

// Unwrap recovers the per-file key. The caller owns the returned slice and
// should wipe it after use.
func (w *KeyWrapper) Unwrap(wk WrappedKey) ([]byte, error) {
	var key []byte

	switch wk.Kind {
	case KindPlain:
		if w.rejectPlain && w.aead != nil {
			return nil, fmt.Errorf("%w: plain key rejected in sealed mode", common.ErrAuthenticationFailure)
		}
		key = make([]byte, len(wk.Ciphertext))
		copy(key, wk.Ciphertext)

	case KindSealed:
		if w.aead == nil {
			return nil, common.ErrMasterKeyMismatch
		}
		if len(wk.Nonce) != NonceSize || len(wk.Tag) != TagSize {
			return nil, fmt.Errorf("%w: bad nonce or tag length", common.ErrAuthenticationFailure)
		}
		sealed := make([]byte, 0, len(wk.Ciphertext)+TagSize)
		sealed = append(sealed, wk.Ciphertext...)
		sealed = append(sealed, wk.Tag...)

		var err error
		key, err = w.aead.Open(nil, wk.Nonce, sealed, nil)
		if err != nil {
			return nil, common.ErrAuthenticationFailure
		}

	default:
		return nil, fmt.Errorf("%w: unknown key kind %q", common.ErrCorruptKeyMaterial, wk.Kind)
	}

	if len(key) != KeySize {
		common.WipeByteArray(key)
		return nil, fmt.Errorf("%w: unwrapped key is %d bytes", common.ErrCorruptKeyMaterial, len(key))
	}
	return key, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: got %d bytes", common.ErrInvalidKeyLength, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
