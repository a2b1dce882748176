package file

import (
	"errors"
	"os"

	"github.com/spf13/afero"
)

var _ ReadSeekAtCloser = (*LazyReader)(nil)

// LazyReader is a "lazy" random-access source, allocating a file handle for the given path only upon the first use.
type LazyReader struct {
	// fs is the filesystem used to open the path
	fs afero.Fs
	// path is the path to be opened
	path string
	// file is the active file handle for the given path
	file afero.File
}

// NewLazyReader creates a new LazyReader for the given path.
func NewLazyReader(fs afero.Fs, path string) *LazyReader {
	return &LazyReader{
		fs:   fs,
		path: path,
	}
}

func (d *LazyReader) checkOpen() error {
	if d.file == nil {
		var err error
		d.file, err = d.fs.Open(d.path)
		if err != nil {
			return err
		}
	}
	return nil
}

// Read implements the io.Reader interface for the previously loaded path, opening the file upon the first invocation.
func (d *LazyReader) Read(b []byte) (n int, err error) {
	if err = d.checkOpen(); err != nil {
		return 0, err
	}
	return d.file.Read(b)
}

func (d *LazyReader) ReadAt(p []byte, off int64) (n int, err error) {
	if err = d.checkOpen(); err != nil {
		return 0, err
	}
	return d.file.ReadAt(p, off)
}

func (d *LazyReader) Seek(offset int64, whence int) (n int64, err error) {
	if err = d.checkOpen(); err != nil {
		return 0, err
	}
	return d.file.Seek(offset, whence)
}

// Close implements the io.Closer interface for the previously loaded path / opened file.
func (d *LazyReader) Close() error {
	if d.file == nil {
		return nil
	}

	err := d.file.Close()
	if err != nil && errors.Is(err, os.ErrClosed) {
		err = nil
	}
	d.file = nil
	return err
}
