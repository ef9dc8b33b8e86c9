package common

import "crypto/rand"

// GenerateRandByteArray returns n bytes from crypto/rand. A failing system
// RNG is not recoverable, so it panics.
func GenerateRandByteArray(n int) []byte {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failure: " + err.Error())
	}
	return b
}

// WipeByteArray overwrites b with zeros. Used for per-file keys and
// plaintext buffers once they are no longer needed. Nil is a no-op.
func WipeByteArray(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
