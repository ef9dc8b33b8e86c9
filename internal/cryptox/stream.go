package cryptox

import (
	"crypto/cipher"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/dmitrijs2005/genevault/internal/common"
	"golang.org/x/crypto/hkdf"
)

// DefaultSegmentSize is the plaintext size of every stream segment except the last.
const DefaultSegmentSize = 64 * 1024

const streamInfo = "genevault/stream/v1"

// StreamCipher encrypts and decrypts arbitrarily long byte streams with
// AES-256-GCM applied to fixed-size segments.
//
// Layout: segment i (0-based) is sealed under a subkey derived from the file
// key and nonce, with segment nonce counter(i)||last. Non-final segments keep
// their tag inline. The final segment's tag is removed from the ciphertext
// and handed to the caller as the stream's authentication tag, so it can be
// stored alongside the rest of the file metadata.
type StreamCipher struct {
	segmentSize int
}

// NewStreamCipher returns a codec using segmentSize-byte plaintext segments.
// Non-positive sizes select DefaultSegmentSize.
func NewStreamCipher(segmentSize int) *StreamCipher {
	if segmentSize <= 0 {
		segmentSize = DefaultSegmentSize
	}
	return &StreamCipher{segmentSize: segmentSize}
}

// SegmentSize returns the plaintext segment size.
func (c *StreamCipher) SegmentSize() int {
	return c.segmentSize
}

// EncryptStream returns a reader that yields the ciphertext of src. A fresh
// random nonce is generated and is available via Nonce. The authentication
// tag becomes available via Tag only after the reader returned io.EOF.
func (c *StreamCipher) EncryptStream(src io.Reader, key []byte) (*EncryptingReader, error) {
	nonce := common.GenerateRandByteArray(NonceSize)
	aead, err := streamAEAD(key, nonce)
	if err != nil {
		return nil, err
	}
	return &EncryptingReader{
		src:     src,
		aead:    aead,
		nonce:   nonce,
		segSize: c.segmentSize,
		plain:   make([]byte, c.segmentSize+1),
	}, nil
}

// DecryptStream returns a reader that yields the plaintext of src. Each
// segment is authenticated before any of its bytes are returned; the final
// segment is checked against expectedTag. Any mismatch, truncation, or
// reordering surfaces as ErrTamperedCiphertext from Read.
func (c *StreamCipher) DecryptStream(src io.Reader, key, nonce, expectedTag []byte) (*DecryptingReader, error) {
	if len(nonce) != NonceSize {
		return nil, fmt.Errorf("%w: nonce must be %d bytes, got %d", common.ErrTamperedCiphertext, NonceSize, len(nonce))
	}
	if len(expectedTag) != TagSize {
		return nil, fmt.Errorf("%w: tag must be %d bytes, got %d", common.ErrTamperedCiphertext, TagSize, len(expectedTag))
	}
	aead, err := streamAEAD(key, nonce)
	if err != nil {
		return nil, err
	}
	tag := make([]byte, TagSize)
	copy(tag, expectedTag)
	return &DecryptingReader{
		src:     src,
		aead:    aead,
		tag:     tag,
		segSize: c.segmentSize,
		buf:     make([]byte, c.segmentSize+TagSize+1),
	}, nil
}

// streamAEAD derives the per-stream subkey and builds the segment cipher.
func streamAEAD(key, nonce []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: file key must be %d bytes, got %d", common.ErrInvalidKeyLength, KeySize, len(key))
	}
	sub := make([]byte, KeySize)
	defer common.WipeByteArray(sub)
	if _, err := io.ReadFull(hkdf.New(sha256.New, key, nonce, []byte(streamInfo)), sub); err != nil {
		return nil, fmt.Errorf("derive stream key: %w", err)
	}
	return newGCM(sub)
}

// segmentNonce is an 11-byte big-endian counter followed by the last-segment flag.
func segmentNonce(dst []byte, counter uint64, last bool) []byte {
	for i := range dst[:NonceSize] {
		dst[i] = 0
	}
	binary.BigEndian.PutUint64(dst[3:11], counter)
	if last {
		dst[11] = 1
	}
	return dst[:NonceSize]
}

// EncryptingReader is the ciphertext side of EncryptStream.
type EncryptingReader struct {
	src     io.Reader
	aead    cipher.AEAD
	nonce   []byte
	segSize int

	plain   []byte
	carry   int
	counter uint64
	segN    [NonceSize]byte

	out    []byte
	outPos int

	tag  []byte
	done bool
	err  error
}

// Nonce returns the random stream nonce that must be stored with the ciphertext.
func (r *EncryptingReader) Nonce() []byte {
	n := make([]byte, NonceSize)
	copy(n, r.nonce)
	return n
}

// Tag returns the authentication tag of the whole stream. It fails with
// ErrTagNotReady until the source has been fully drained.
func (r *EncryptingReader) Tag() ([]byte, error) {
	if !r.done || r.outPos < len(r.out) {
		return nil, common.ErrTagNotReady
	}
	t := make([]byte, TagSize)
	copy(t, r.tag)
	return t, nil
}

func (r *EncryptingReader) Read(p []byte) (int, error) {
	for r.outPos >= len(r.out) {
		if r.done {
			return 0, io.EOF
		}
		if r.err != nil {
			return 0, r.err
		}
		if err := r.fill(); err != nil {
			r.err = err
			return 0, err
		}
	}
	n := copy(p, r.out[r.outPos:])
	r.outPos += n
	return n, nil
}

// fill seals the next segment. One byte of look-ahead tells whether the
// segment just read is the last one.
func (r *EncryptingReader) fill() error {
	n, err := io.ReadFull(r.src, r.plain[r.carry:])
	n += r.carry

	switch {
	case err == nil:
		if r.counter == 1<<64-1 {
			return errors.New("stream too long: segment counter exhausted")
		}
		r.out = r.aead.Seal(r.out[:0], segmentNonce(r.segN[:], r.counter, false), r.plain[:r.segSize], nil)
		r.plain[0] = r.plain[r.segSize]
		r.carry = 1
		r.counter++

	case errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF):
		sealed := r.aead.Seal(r.out[:0], segmentNonce(r.segN[:], r.counter, true), r.plain[:n], nil)
		r.tag = make([]byte, TagSize)
		copy(r.tag, sealed[len(sealed)-TagSize:])
		r.out = sealed[:len(sealed)-TagSize]
		r.done = true
		common.WipeByteArray(r.plain)

	default:
		common.WipeByteArray(r.plain)
		return err
	}

	r.outPos = 0
	return nil
}

// DecryptingReader is the plaintext side of DecryptStream.
type DecryptingReader struct {
	src     io.Reader
	aead    cipher.AEAD
	tag     []byte
	segSize int

	buf     []byte
	carry   int
	counter uint64
	segN    [NonceSize]byte

	out    []byte
	outPos int

	done bool
	err  error
}

func (r *DecryptingReader) Read(p []byte) (int, error) {
	for r.outPos >= len(r.out) {
		if r.done {
			return 0, io.EOF
		}
		if r.err != nil {
			return 0, r.err
		}
		if err := r.fill(); err != nil {
			r.err = err
			common.WipeByteArray(r.out)
			r.out, r.outPos = nil, 0
			return 0, err
		}
	}
	n := copy(p, r.out[r.outPos:])
	r.outPos += n
	return n, nil
}

func (r *DecryptingReader) fill() error {
	full := r.segSize + TagSize

	n, err := io.ReadFull(r.src, r.buf[r.carry:])
	n += r.carry

	switch {
	case err == nil:
		plain, oerr := r.aead.Open(r.out[:0], segmentNonce(r.segN[:], r.counter, false), r.buf[:full], nil)
		if oerr != nil {
			return fmt.Errorf("%w: segment %d failed authentication", common.ErrTamperedCiphertext, r.counter)
		}
		r.out = plain
		r.buf[0] = r.buf[full]
		r.carry = 1
		r.counter++

	case errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF):
		if n > r.segSize {
			return fmt.Errorf("%w: truncated stream", common.ErrTamperedCiphertext)
		}
		sealed := make([]byte, 0, n+TagSize)
		sealed = append(sealed, r.buf[:n]...)
		sealed = append(sealed, r.tag...)
		plain, oerr := r.aead.Open(r.out[:0], segmentNonce(r.segN[:], r.counter, true), sealed, nil)
		if oerr != nil {
			return fmt.Errorf("%w: final segment failed authentication", common.ErrTamperedCiphertext)
		}
		r.out = plain
		r.done = true

	default:
		return err
	}

	r.outPos = 0
	return nil
}
