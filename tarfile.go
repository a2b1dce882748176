package tarfile

import (
	"github.com/anchore/go-logger"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"github.com/wagoodman/go-partybus"

	"github.com/anchore/go-tarfile/internal/bus"
	"github.com/anchore/go-tarfile/internal/log"
	"github.com/anchore/go-tarfile/pkg/tar"
)

// Open scans the archive at the given path on the host filesystem and returns
// a random-access view over its entries.
func Open(path string, opts ...tar.Option) (*tar.TarFile, error) {
	return OpenFs(afero.NewOsFs(), path, opts...)
}

// OpenFs is Open against an explicit filesystem abstraction.
func OpenFs(fs afero.Fs, path string, opts ...tar.Option) (*tar.TarFile, error) {
	t, err := tar.OpenPath(fs, path, opts...)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to index archive %q", path)
	}
	return t, nil
}

// SetLogger sets the logger implementation used by the library. The default
// is a no-op logger.
func SetLogger(l logger.Logger) {
	log.Log = l
}

// SetBus sets the event bus that scan progress events are published onto. The
// default is to publish nothing.
func SetBus(b *partybus.Bus) {
	bus.SetPublisher(b)
}
