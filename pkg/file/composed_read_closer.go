package file

import (
	"errors"
	"fmt"
	"io"

	"github.com/hashicorp/go-multierror"
)

// ErrTruncatedSource indicates that the sub-sources of a composed reader were
// exhausted before the declared logical length was reached.
var ErrTruncatedSource = errors.New("source truncated before declared length")

var _ io.ReadCloser = (*ComposedReadCloser)(nil)

// ComposedReadCloser presents an ordered collection of sub-sources as a single
// logical stream with a known total length. Reads advance transparently across
// sub-source boundaries; each sub-source is closed as soon as it is exhausted.
type ComposedReadCloser struct {
	sources  []io.ReadCloser
	length   int64 // declared logical length of the whole stream
	consumed int64
	current  int
}

// NewComposedReadCloser creates a composed reader over the given sub-sources
// that is expected to produce exactly length bytes in total.
func NewComposedReadCloser(length int64, sources ...io.ReadCloser) *ComposedReadCloser {
	return &ComposedReadCloser{
		sources: sources,
		length:  length,
	}
}

func (c *ComposedReadCloser) Read(b []byte) (int, error) {
	if c.consumed >= c.length {
		return 0, io.EOF
	}
	for c.current < len(c.sources) {
		n, err := c.sources[c.current].Read(b)
		if n > 0 {
			c.consumed += int64(n)
			// defer EOF handling to the next call so that a short final
			// sub-source is still detected
			return n, nil
		}
		if err == nil {
			continue
		}
		if !errors.Is(err, io.EOF) {
			return 0, err
		}
		if closeErr := c.sources[c.current].Close(); closeErr != nil {
			return 0, closeErr
		}
		c.current++
	}
	if c.consumed < c.length {
		return 0, fmt.Errorf("exhausted after %d of %d declared bytes: %w", c.consumed, c.length, ErrTruncatedSource)
	}
	return 0, io.EOF
}

// Close closes every remaining sub-source, aggregating any failures rather
// than stopping at the first one.
func (c *ComposedReadCloser) Close() error {
	var errs *multierror.Error
	for ; c.current < len(c.sources); c.current++ {
		if err := c.sources[c.current].Close(); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return errs.ErrorOrNil()
}
