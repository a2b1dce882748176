package file

import "io"

var _ io.ReadCloser = (*SectionReadCloser)(nil)

// SectionReadCloser is a bounded view of size bytes starting at a given offset
// over a larger random-access source. Closing the view is a no-op: the
// underlying source commonly backs many views and is closed by its owner.
type SectionReadCloser struct {
	*io.SectionReader
}

// NewSectionReadCloser creates a new bounded view over the given source.
func NewSectionReadCloser(source io.ReaderAt, start, size int64) *SectionReadCloser {
	return &SectionReadCloser{
		SectionReader: io.NewSectionReader(source, start, size),
	}
}

func (s *SectionReadCloser) Close() error {
	return nil
}
