package tar

import (
	"github.com/wagoodman/go-progress"
)

type options struct {
	lenient  bool
	encoding NameEncoding
	monitor  *progress.Manual
	gnu      bool
}

// Option configures a Reader, Writer, or TarFile.
type Option func(*options)

// WithLenient downgrades illegal numeric values in uid/gid/mode/mtime/device
// fields to UnknownValue instead of failing the parse, and demotes checksum
// mismatches to a warning. Truncation and structural corruption remain fatal.
func WithLenient() Option {
	return func(o *options) {
		o.lenient = true
	}
}

// WithNameEncoding supplies the encoder/decoder used for name-bearing fields.
func WithNameEncoding(enc NameEncoding) Option {
	return func(o *options) {
		o.encoding = enc
	}
}

// WithProgress attaches a manual progress monitor, incremented once per entry
// during a random-access index scan.
func WithProgress(monitor *progress.Manual) Option {
	return func(o *options) {
		o.monitor = monitor
	}
}

// WithGNUExtensions makes the Writer emit GNU long-name/long-link marker
// records and base-256 numerics for overflowing values, instead of the
// default PAX extended headers.
func WithGNUExtensions() Option {
	return func(o *options) {
		o.gnu = true
	}
}

func makeOptions(opts ...Option) options {
	o := options{
		encoding: DefaultNameEncoding(),
	}
	for _, apply := range opts {
		apply(&o)
	}
	return o
}
