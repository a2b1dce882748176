package file

import "io"

var _ io.ReadCloser = (*zeroReadCloser)(nil)

// zeroReadCloser yields up to a fixed count of zero bytes. It is used to
// materialize the holes of a sparse entry, which have no physical backing in
// the archive.
type zeroReadCloser struct {
	remaining int64
}

// NewZeroReadCloser creates a reader that produces exactly size zero bytes
// before reporting EOF.
func NewZeroReadCloser(size int64) io.ReadCloser {
	return &zeroReadCloser{remaining: size}
}

func (z *zeroReadCloser) Read(b []byte) (int, error) {
	if z.remaining <= 0 {
		return 0, io.EOF
	}
	if int64(len(b)) > z.remaining {
		b = b[:z.remaining]
	}
	for i := range b {
		b[i] = 0
	}
	z.remaining -= int64(len(b))
	return len(b), nil
}

func (z *zeroReadCloser) Close() error {
	z.remaining = 0
	return nil
}
