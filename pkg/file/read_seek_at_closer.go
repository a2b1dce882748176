package file

import "io"

// ReadSeekAtCloser is the minimal contract for a random-access byte source
// backing an archive index: sequential reads for the initial scan, seeks and
// offset reads for serving per-entry content afterwards.
type ReadSeekAtCloser interface {
	io.Reader
	io.Seeker
	io.ReaderAt
	io.Closer
}
