package cryptox

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/dmitrijs2005/genevault/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMasterKey(t *testing.T) *MasterKey {
	t.Helper()
	mk, err := NewMasterKey(bytes.Repeat([]byte{0x42}, KeySize))
	require.NoError(t, err)
	return mk
}

func TestKeyWrapper_SealedRoundTrip(t *testing.T) {
	w, err := NewKeyWrapper(testMasterKey(t))
	require.NoError(t, err)
	assert.Equal(t, ModeSealed, w.Mode())

	key := common.GenerateRandByteArray(KeySize)
	wk, err := w.Wrap(key)
	require.NoError(t, err)

	assert.Equal(t, KindSealed, wk.Kind)
	assert.Len(t, wk.Nonce, NonceSize)
	assert.Len(t, wk.Tag, TagSize)
	assert.NotEqual(t, key, wk.Ciphertext)
	assert.False(t, strings.Contains(wk.Encode(), strings.ToLower(bytesToHex(key))), "encoded form must not contain the key")

	got, err := w.Unwrap(wk)
	require.NoError(t, err)
	assert.Equal(t, key, got)
}

func TestKeyWrapper_FreshNoncePerWrap(t *testing.T) {
	w, err := NewKeyWrapper(testMasterKey(t))
	require.NoError(t, err)

	key := common.GenerateRandByteArray(KeySize)
	a, err := w.Wrap(key)
	require.NoError(t, err)
	b, err := w.Wrap(key)
	require.NoError(t, err)

	assert.NotEqual(t, a.Nonce, b.Nonce)
	assert.NotEqual(t, a.Ciphertext, b.Ciphertext)
}

func TestKeyWrapper_InvalidKeyLength(t *testing.T) {
	for _, mk := range []*MasterKey{nil, testMasterKey(t)} {
		w, err := NewKeyWrapper(mk)
		require.NoError(t, err)

		for _, n := range []int{0, 16, 31, 33} {
			_, err := w.Wrap(make([]byte, n))
			assert.ErrorIs(t, err, common.ErrInvalidKeyLength, "len=%d mode=%s", n, w.Mode())
		}
	}
}

func TestKeyWrapper_TamperDetected(t *testing.T) {
	w, err := NewKeyWrapper(testMasterKey(t))
	require.NoError(t, err)

	wk, err := w.Wrap(common.GenerateRandByteArray(KeySize))
	require.NoError(t, err)

	flip := func(b []byte, i int) []byte {
		c := append([]byte(nil), b...)
		c[i] ^= 0x01
		return c
	}

	cases := map[string]WrappedKey{
		"ciphertext": {Kind: KindSealed, Nonce: wk.Nonce, Tag: wk.Tag, Ciphertext: flip(wk.Ciphertext, 5)},
		"tag":        {Kind: KindSealed, Nonce: wk.Nonce, Tag: flip(wk.Tag, 0), Ciphertext: wk.Ciphertext},
		"nonce":      {Kind: KindSealed, Nonce: flip(wk.Nonce, 11), Tag: wk.Tag, Ciphertext: wk.Ciphertext},
	}
	for name, bad := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := w.Unwrap(bad)
			assert.ErrorIs(t, err, common.ErrAuthenticationFailure)
		})
	}
}

func TestKeyWrapper_WrongMasterKey(t *testing.T) {
	w1, err := NewKeyWrapper(testMasterKey(t))
	require.NoError(t, err)
	other, err := NewMasterKey(bytes.Repeat([]byte{0x24}, KeySize))
	require.NoError(t, err)
	w2, err := NewKeyWrapper(other)
	require.NoError(t, err)

	wk, err := w1.Wrap(common.GenerateRandByteArray(KeySize))
	require.NoError(t, err)

	_, err = w2.Unwrap(wk)
	assert.ErrorIs(t, err, common.ErrAuthenticationFailure)
}

func TestKeyWrapper_MasterKeyMismatchInDegradedMode(t *testing.T) {
	sealed, err := NewKeyWrapper(testMasterKey(t))
	require.NoError(t, err)
	degraded, err := NewKeyWrapper(nil)
	require.NoError(t, err)

	wk, err := sealed.Wrap(common.GenerateRandByteArray(KeySize))
	require.NoError(t, err)

	_, err = degraded.Unwrap(wk)
	assert.ErrorIs(t, err, common.ErrMasterKeyMismatch)
}

func TestKeyWrapper_DegradedRoundTrip(t *testing.T) {
	w, err := NewKeyWrapper(nil)
	require.NoError(t, err)
	assert.Equal(t, ModeDegraded, w.Mode())

	key := common.GenerateRandByteArray(KeySize)
	wk, err := w.Wrap(key)
	require.NoError(t, err)
	assert.True(t, wk.IsPlain())
	assert.True(t, strings.HasPrefix(wk.Encode(), "v1:plain:"))

	got, err := w.Unwrap(wk)
	require.NoError(t, err)
	assert.Equal(t, key, got)
}

func TestKeyWrapper_RejectPlainKeys(t *testing.T) {
	degraded, err := NewKeyWrapper(nil)
	require.NoError(t, err)
	key := common.GenerateRandByteArray(KeySize)
	plain, err := degraded.Wrap(key)
	require.NoError(t, err)

	lenient, err := NewKeyWrapper(testMasterKey(t))
	require.NoError(t, err)
	got, err := lenient.Unwrap(plain)
	require.NoError(t, err)
	assert.Equal(t, key, got)

	strict, err := NewKeyWrapper(testMasterKey(t), RejectPlainKeys())
	require.NoError(t, err)
	_, err = strict.Unwrap(plain)
	assert.ErrorIs(t, err, common.ErrAuthenticationFailure)

	sealed, err := strict.Wrap(key)
	require.NoError(t, err)
	got, err = strict.Unwrap(sealed)
	require.NoError(t, err)
	assert.Equal(t, key, got)

	// Without a master key every record is plain, so the option cannot apply.
	degradedStrict, err := NewKeyWrapper(nil, RejectPlainKeys())
	require.NoError(t, err)
	_, err = degradedStrict.Unwrap(plain)
	assert.NoError(t, err)
}

func TestKeyWrapper_CorruptKeyMaterial(t *testing.T) {
	w, err := NewKeyWrapper(nil)
	require.NoError(t, err)

	_, err = w.Unwrap(WrappedKey{Kind: KindPlain, Ciphertext: make([]byte, 31)})
	assert.ErrorIs(t, err, common.ErrCorruptKeyMaterial)

	// A sealed wrapping of a truncated key must be rejected after decryption.
	mk := testMasterKey(t)
	sw, err := NewKeyWrapper(mk)
	require.NoError(t, err)
	nonce := common.GenerateRandByteArray(NonceSize)
	sealed := sw.aead.Seal(nil, nonce, make([]byte, 16), nil)
	short := WrappedKey{Kind: KindSealed, Nonce: nonce, Tag: sealed[len(sealed)-TagSize:], Ciphertext: sealed[:len(sealed)-TagSize]}

	_, err = sw.Unwrap(short)
	assert.ErrorIs(t, err, common.ErrCorruptKeyMaterial)
}

func TestWrappedKey_EncodeParse(t *testing.T) {
	w, err := NewKeyWrapper(testMasterKey(t))
	require.NoError(t, err)
	wk, err := w.Wrap(common.GenerateRandByteArray(KeySize))
	require.NoError(t, err)

	parsed, err := ParseWrappedKey(wk.Encode())
	require.NoError(t, err)
	assert.Equal(t, wk, parsed)

	for _, bad := range []string{"", "v2:sealed:00", "v1:sealed:zz", "v1:sealed:0011", "v1:weird:00"} {
		_, err := ParseWrappedKey(bad)
		assert.True(t, errors.Is(err, common.ErrCorruptKeyMaterial), "input %q", bad)
	}
}

func bytesToHex(b []byte) string {
	const digits = "0123456789abcdef"
	out := make([]byte, 0, len(b)*2)
	for _, c := range b {
		out = append(out, digits[c>>4], digits[c&0x0f])
	}
	return string(out)
}
