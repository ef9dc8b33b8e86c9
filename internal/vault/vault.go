// Package vault stores plaintext as envelope-encrypted blobs and reads it
// back. Each file gets a fresh random key that is wrapped under the master
// key; the ciphertext goes to a blob.Store and everything needed to read it
// back is returned as a models.FileRecord.
//
// A Vault keeps no mutable state and may be shared. Operations on the same
// record (for example Fetch racing Destroy) are not ordered here; callers
// that allow both must serialize them.
package vault

import (
	"bufio"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"time"

	"github.com/dmitrijs2005/genevault/internal/blob"
	"github.com/dmitrijs2005/genevault/internal/common"
	"github.com/dmitrijs2005/genevault/internal/cryptox"
	"github.com/dmitrijs2005/genevault/internal/logging"
	"github.com/dmitrijs2005/genevault/internal/metrics"
	"github.com/dmitrijs2005/genevault/internal/server/models"
	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
)

// DefaultVerifyBufferLimit is the largest ciphertext Fetch authenticates in
// full before releasing any plaintext.
const DefaultVerifyBufferLimit = 32 << 20

type Options struct {
	// SegmentSize is the stream cipher segment size; zero means the default.
	SegmentSize int
	// VerifyBufferLimit bounds buffered verify-then-release on Fetch.
	// Larger records are streamed and a late integrity failure is returned
	// from Read. Zero disables buffering.
	VerifyBufferLimit int64
	// Compression is applied to plaintext of newly stored files.
	Compression models.Compression
}

type Vault struct {
	wrapper *cryptox.KeyWrapper
	cipher  *cryptox.StreamCipher
	blobs   blob.Store
	log     logging.Logger
	opts    Options
	now     func() time.Time
}

func New(wrapper *cryptox.KeyWrapper, blobs blob.Store, log logging.Logger, opts Options) *Vault {
	if opts.Compression == "" {
		opts.Compression = models.CompressionNone
	}
	return &Vault{
		wrapper: wrapper,
		cipher:  cryptox.NewStreamCipher(opts.SegmentSize),
		blobs:   blobs,
		log:     log,
		opts:    opts,
		now:     time.Now,
	}
}

// Mode reports whether per-file keys are sealed under a master key.
func (v *Vault) Mode() cryptox.Mode {
	return v.wrapper.Mode()
}

type StoreRequest struct {
	OwnerID     string
	Filename    string
	ContentType models.ContentType
}

// Store encrypts src into the blob store and returns the new record. The
// declared content type is sniffed first; a mismatch fails with
// common.ErrValidationFailed before anything is written.
func (v *Vault) Store(ctx context.Context, src io.Reader, req StoreRequest) (rec *models.FileRecord, err error) {
	defer func() { metrics.VaultOps.WithLabelValues("store", metrics.Outcome(err)).Inc() }()

	br := bufio.NewReaderSize(src, sniffWindow)
	head, perr := br.Peek(sniffWindow)
	if perr != nil && !errors.Is(perr, io.EOF) {
		return nil, fmt.Errorf("vault: read input: %w", perr)
	}
	if err := Sniff(req.ContentType, head); err != nil {
		return nil, err
	}

	var plain io.Reader = br
	if v.opts.Compression == models.CompressionZstd {
		pr := compressPipe(br)
		defer pr.Close()
		plain = pr
	}

	key := common.GenerateRandByteArray(cryptox.KeySize)
	defer common.WipeByteArray(key)

	enc, err := v.cipher.EncryptStream(plain, key)
	if err != nil {
		return nil, fmt.Errorf("vault: start encryption: %w", err)
	}

	h := sha256.New()
	var n countWriter
	handle, err := v.blobs.Put(ctx, io.TeeReader(enc, io.MultiWriter(h, &n)))
	if err != nil {
		return nil, fmt.Errorf("vault: put blob: %w", err)
	}

	tag, err := enc.Tag()
	if err != nil {
		v.discard(ctx, handle)
		return nil, fmt.Errorf("vault: finish encryption: %w", err)
	}
	wk, err := v.wrapper.Wrap(key)
	if err != nil {
		v.discard(ctx, handle)
		return nil, fmt.Errorf("vault: wrap key: %w", err)
	}

	rec = &models.FileRecord{
		ID:          uuid.NewString(),
		OwnerID:     req.OwnerID,
		Filename:    req.Filename,
		ContentType: req.ContentType,
		BlobHandle:  string(handle),
		WrappedKey:  wk,
		Nonce:       enc.Nonce(),
		AuthTag:     tag,
		Size:        int64(n),
		Hash:        hex.EncodeToString(h.Sum(nil)),
		Compression: v.opts.Compression,
		CreatedAt:   v.now().UTC(),
	}
	metrics.VaultBytes.WithLabelValues("in").Add(float64(n))
	v.log.Info(ctx, "file stored", "file_id", rec.ID, "owner", rec.OwnerID, "size", rec.Size, "key_kind", wk.Kind)
	return rec, nil
}

func (v *Vault) discard(ctx context.Context, h blob.Handle) {
	if err := v.blobs.Delete(context.WithoutCancel(ctx), h); err != nil {
		v.log.Error(ctx, "failed to remove orphaned blob", "handle", h, "error", err)
	}
}

// Fetch returns the plaintext of rec. Integrity failures keep their identity:
// errors.Is matches common.ErrAuthenticationFailure for a bad wrapped key,
// common.ErrTamperedCiphertext for a bad blob or tag, and
// common.ErrBlobNotFound for a missing blob. The caller must Close the
// reader; Close releases the blob even after a partial read.
func (v *Vault) Fetch(ctx context.Context, rec *models.FileRecord) (rc io.ReadCloser, err error) {
	defer func() {
		metrics.VaultOps.WithLabelValues("fetch", metrics.Outcome(err)).Inc()
		v.observe(ctx, rec, err)
	}()

	if rec.WrappedKey.IsPlain() && v.wrapper.Mode() == cryptox.ModeSealed {
		v.log.Warn(ctx, "reading record stored in degraded mode", "file_id", rec.ID)
	}

	key, err := v.wrapper.Unwrap(rec.WrappedKey)
	if err != nil {
		return nil, fmt.Errorf("vault: unwrap key for %s: %w", rec.ID, err)
	}
	defer common.WipeByteArray(key)

	body, err := v.blobs.Get(ctx, blob.Handle(rec.BlobHandle))
	if err != nil {
		return nil, fmt.Errorf("vault: get blob for %s: %w", rec.ID, err)
	}

	checked := &verifyingReader{r: body, h: sha256.New(), size: rec.Size, hash: rec.Hash}
	dec, err := v.cipher.DecryptStream(checked, key, rec.Nonce, rec.AuthTag)
	if err != nil {
		_ = body.Close()
		return nil, fmt.Errorf("vault: start decryption for %s: %w", rec.ID, err)
	}

	inner := &latchReader{r: dec}
	out := &fetchReader{v: v, ctx: ctx, rec: rec, src: inner, inner: inner, closers: []io.Closer{body}}

	if rec.Size <= v.opts.VerifyBufferLimit {
		buf, err := io.ReadAll(dec)
		_ = body.Close()
		if err != nil {
			common.WipeByteArray(buf)
			return nil, fmt.Errorf("vault: decrypt %s: %w", rec.ID, err)
		}
		out.src, out.inner, out.closers = bytes.NewReader(buf), nil, nil
	}

	switch rec.Compression {
	case models.CompressionZstd:
		zr, err := zstd.NewReader(out.src, zstd.WithDecoderConcurrency(1))
		if err != nil {
			_ = out.Close()
			return nil, fmt.Errorf("vault: open decompressor: %w", err)
		}
		zrc := zr.IOReadCloser()
		out.src = zrc
		out.closers = append([]io.Closer{zrc}, out.closers...)
	case models.CompressionNone, "":
	default:
		_ = out.Close()
		return nil, fmt.Errorf("vault: record %s has unknown compression %q", rec.ID, rec.Compression)
	}

	metrics.VaultBytes.WithLabelValues("out").Add(float64(rec.Size))
	return out, nil
}

// Destroy deletes the blob of rec. Forgetting the record is the caller's
// job. Destroying an already destroyed record succeeds.
func (v *Vault) Destroy(ctx context.Context, rec *models.FileRecord) (err error) {
	defer func() { metrics.VaultOps.WithLabelValues("destroy", metrics.Outcome(err)).Inc() }()

	if err := v.blobs.Delete(ctx, blob.Handle(rec.BlobHandle)); err != nil {
		return fmt.Errorf("vault: delete blob for %s: %w", rec.ID, err)
	}
	v.log.Info(ctx, "file destroyed", "file_id", rec.ID, "owner", rec.OwnerID)
	return nil
}

func (v *Vault) observe(ctx context.Context, rec *models.FileRecord, err error) {
	if err == nil || !common.IsIntegrityError(err) {
		return
	}
	kind := "ciphertext"
	switch {
	case errors.Is(err, common.ErrAuthenticationFailure):
		kind = "wrapped_key"
	case errors.Is(err, common.ErrCorruptKeyMaterial):
		kind = "key_material"
	}
	metrics.IntegrityFailures.WithLabelValues(kind).Inc()
	v.log.Warn(ctx, "integrity check failed", "file_id", rec.ID, "owner", rec.OwnerID, "kind", kind, "error", err)
}

// fetchReader is the reader handed out by Fetch. When plaintext is streamed,
// inner is the decrypted stream below any decompressor: its failure takes
// precedence over whatever the decompressor made of it, and it is drained at
// EOF so the final segment is always authenticated.
type fetchReader struct {
	v       *Vault
	ctx     context.Context
	rec     *models.FileRecord
	src     io.Reader
	inner   *latchReader
	closers []io.Closer
	failed  bool
}

func (r *fetchReader) Read(p []byte) (int, error) {
	n, err := r.src.Read(p)
	if err != nil && r.inner != nil {
		if r.inner.err != nil {
			err = r.inner.err
		} else if err == io.EOF {
			if _, derr := io.Copy(io.Discard, r.inner); derr != nil {
				err = derr
			}
		}
	}
	if err != nil && err != io.EOF && !r.failed {
		r.failed = true
		r.v.observe(r.ctx, r.rec, err)
	}
	return n, err
}

func (r *fetchReader) Close() error {
	var errs []error
	for _, c := range r.closers {
		errs = append(errs, c.Close())
	}
	r.closers = nil
	return errors.Join(errs...)
}

// latchReader remembers the first non-EOF error of r.
type latchReader struct {
	r   io.Reader
	err error
}

func (l *latchReader) Read(p []byte) (int, error) {
	n, err := l.r.Read(p)
	if err != nil && err != io.EOF && l.err == nil {
		l.err = err
	}
	return n, err
}

// verifyingReader checks length and SHA-256 of the ciphertext when the
// underlying reader reaches EOF. Failures are sticky.
type verifyingReader struct {
	r    io.Reader
	h    hash.Hash
	n    int64
	size int64
	hash string
	err  error
}

func (v *verifyingReader) Read(p []byte) (int, error) {
	if v.err != nil {
		return 0, v.err
	}
	n, err := v.r.Read(p)
	v.h.Write(p[:n])
	v.n += int64(n)
	switch {
	case v.n > v.size:
		v.err = fmt.Errorf("%w: blob longer than recorded size", common.ErrTamperedCiphertext)
	case errors.Is(err, io.EOF) && v.n != v.size:
		v.err = fmt.Errorf("%w: blob is %d bytes, recorded %d", common.ErrTamperedCiphertext, v.n, v.size)
	case errors.Is(err, io.EOF) && hex.EncodeToString(v.h.Sum(nil)) != v.hash:
		v.err = fmt.Errorf("%w: ciphertext hash mismatch", common.ErrTamperedCiphertext)
	default:
		return n, err
	}
	return n, v.err
}

type countWriter int64

func (c *countWriter) Write(p []byte) (int, error) {
	*c += countWriter(len(p))
	return len(p), nil
}

// compressPipe zstd-compresses src on a goroutine. Closing the returned
// reader stops the goroutine.
func compressPipe(src io.Reader) *io.PipeReader {
	pr, pw := io.Pipe()
	go func() {
		zw, err := zstd.NewWriter(pw, zstd.WithEncoderConcurrency(1))
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		_, err = io.Copy(zw, src)
		if cerr := zw.Close(); err == nil {
			err = cerr
		}
		pw.CloseWithError(err)
	}()
	return pr
}
