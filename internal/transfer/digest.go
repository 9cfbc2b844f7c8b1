package transfer

import (
	"crypto/md5"
	"encoding/hex"
	"hash"
	"io"
)

// digestReader wraps an io.Reader and folds every byte that passes
// through it into an MD5 digest. The digest is incremental: it is driven
// by the copy loop itself, no extra goroutine involved.
type digestReader struct {
	r io.Reader
	h hash.Hash
	n int64
}

func newDigestReader(r io.Reader) *digestReader {
	return &digestReader{r: r, h: md5.New()}
}

func (d *digestReader) Read(p []byte) (int, error) {
	n, err := d.r.Read(p)
	if n > 0 {
		d.h.Write(p[:n])
		d.n += int64(n)
	}

	return n, err
}

// Sum returns the lowercase hex digest of everything read so far.
func (d *digestReader) Sum() string {
	return hex.EncodeToString(d.h.Sum(nil))
}

// digestWriter is the write-side counterpart: it digests exactly what was
// accepted by the destination, so a short write never inflates the sum.
type digestWriter struct {
	w io.Writer
	h hash.Hash
	n int64
}

func newDigestWriter(w io.Writer) *digestWriter {
	return &digestWriter{w: w, h: md5.New()}
}

func (d *digestWriter) Write(p []byte) (int, error) {
	n, err := d.w.Write(p)
	if n > 0 {
		d.h.Write(p[:n])
		d.n += int64(n)
	}

	return n, err
}

func (d *digestWriter) Sum() string {
	return hex.EncodeToString(d.h.Sum(nil))
}
