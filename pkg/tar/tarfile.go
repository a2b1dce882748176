package tar

import (
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/hashicorp/go-multierror"
	"github.com/scylladb/go-set/strset"
	"github.com/spf13/afero"
	"github.com/wagoodman/go-partybus"
	"github.com/wagoodman/go-progress"

	"github.com/anchore/go-tarfile/internal/bus"
	"github.com/anchore/go-tarfile/internal/log"
	"github.com/anchore/go-tarfile/pkg/event"
	"github.com/anchore/go-tarfile/pkg/file"
)

// TarFile is a random-access view of an archive: one sequential scan captures
// every entry's metadata and data offset, after which any entry's contents
// can be opened independently, in any order, any number of times.
type TarFile struct {
	src  file.ReadSeekAtCloser
	fs   afero.Fs
	path string

	entries []*Entry
	byName  map[string][]*Entry

	// plans is keyed by entry name, so when an archive holds several entries
	// with the same name only the last sparse map survives
	plans map[string]*extentPlan
}

// NewTarFile scans the archive in src and returns a random-access view over
// it. The source must remain open for as long as entry contents are read;
// Close closes it.
func NewTarFile(src file.ReadSeekAtCloser, opts ...Option) (*TarFile, error) {
	if _, err := src.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("unable to seek to start of archive: %w", err)
	}
	t := newTarFile()
	t.src = src
	if err := t.scan(src, "", opts...); err != nil {
		return nil, err
	}
	return t, nil
}

// OpenPath scans the archive at the given path and returns a random-access
// view over it. The scan handle is closed before returning; entry contents
// are served by short-lived per-read handles, so the view holds no open file
// between reads.
func OpenPath(fsys afero.Fs, path string, opts ...Option) (*TarFile, error) {
	f := file.NewLazyReader(fsys, path)
	t := newTarFile()
	t.fs = fsys
	t.path = path
	if err := t.scan(f, path, opts...); err != nil {
		f.Close()
		return nil, fmt.Errorf("unable to scan archive %q: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return nil, err
	}
	return t, nil
}

func newTarFile() *TarFile {
	return &TarFile{
		byName: make(map[string][]*Entry),
		plans:  make(map[string]*extentPlan),
	}
}

func (t *TarFile) scan(r io.Reader, source string, opts ...Option) error {
	o := makeOptions(opts...)
	prog := o.monitor
	if prog == nil {
		prog = progress.NewManual(-1)
	}
	bus.Publish(partybus.Event{
		Type:   event.ReadArchive,
		Source: source,
		Value:  progress.Progressable(prog),
	})
	defer prog.SetCompleted()

	counter := &countingReader{reader: r}
	tr := NewReader(counter, opts...)
	for {
		e, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		// the reader has consumed the header and any extension records, so
		// the counter now sits on the entry's first physical data byte
		e.dataOffset = counter.count

		if len(t.byName[e.Name]) > 0 {
			log.Debugf("duplicate archive entry name=%q", e.Name)
		}
		t.entries = append(t.entries, e)
		t.byName[e.Name] = append(t.byName[e.Name], e)

		if e.IsSparse() {
			plan, err := resolveExtents(e.SparseExtents, e.Size)
			if err != nil {
				return err
			}
			t.plans[e.Name] = plan
		}
		prog.Increment()
	}
	return nil
}

// Entries returns every entry in archive order, including duplicates.
func (t *TarFile) Entries() []*Entry {
	return t.entries
}

// Entry returns the last entry with the given name, matching the convention
// that a later entry supersedes an earlier one of the same name.
func (t *TarFile) Entry(name string) (*Entry, error) {
	matches := t.byName[name]
	if len(matches) == 0 {
		return nil, &EntryNotFoundError{Name: name}
	}
	return matches[len(matches)-1], nil
}

// EntriesByName returns every entry with the given name, in archive order.
func (t *TarFile) EntriesByName(name string) []*Entry {
	return t.byName[name]
}

// Names returns the sorted, deduplicated set of entry names in the archive.
func (t *TarFile) Names() []string {
	names := strset.New()
	for _, e := range t.entries {
		names.Add(e.Name)
	}
	result := names.List()
	sort.Strings(result)
	return result
}

// Glob returns the entries whose names match the given doublestar pattern,
// in archive order.
func (t *TarFile) Glob(pattern string) ([]*Entry, error) {
	var matches []*Entry
	for _, e := range t.entries {
		matched, err := doublestar.Match(pattern, e.Name)
		if err != nil {
			return nil, fmt.Errorf("unable to evaluate glob %q: %w", pattern, err)
		}
		if matched {
			matches = append(matches, e)
		}
	}
	return matches, nil
}

// OpenEntry returns a reader for the entry's logical contents. Dense entries
// read straight from the stored data section; sparse entries are composed
// from their stored extents with holes filled by zeros. The returned reader
// is independent of any other open entry readers.
func (t *TarFile) OpenEntry(e *Entry) (io.ReadCloser, error) {
	// types that never carry data keep whatever the size field claimed, but
	// the archive stores no section for them
	if isHeaderOnlyType(e.Typeflag) {
		return file.NewZeroReadCloser(0), nil
	}
	if e.IsSparse() {
		plan, ok := t.plans[e.Name]
		if !ok {
			return nil, &EntryNotFoundError{Name: e.Name}
		}
		return t.openSparse(e, plan), nil
	}
	return t.openRange(e.dataOffset, e.RealSize()), nil
}

// OpenName opens the contents of the last entry with the given name.
func (t *TarFile) OpenName(name string) (io.ReadCloser, error) {
	e, err := t.Entry(name)
	if err != nil {
		return nil, err
	}
	return t.OpenEntry(e)
}

func (t *TarFile) openSparse(e *Entry, plan *extentPlan) io.ReadCloser {
	sources := make([]io.ReadCloser, 0, len(plan.segments))
	for _, seg := range plan.segments {
		switch seg.kind {
		case segmentHole:
			sources = append(sources, file.NewZeroReadCloser(seg.length))
		case segmentData:
			sources = append(sources, t.openRange(e.dataOffset+seg.physicalStart, seg.length))
		}
	}
	return file.NewComposedReadCloser(plan.logicalSize, sources...)
}

func (t *TarFile) openRange(start, size int64) io.ReadCloser {
	if t.src != nil {
		return file.NewSectionReadCloser(t.src, start, size)
	}
	return file.NewLazyBoundedReadCloser(t.fs, t.path, start, size)
}

// Close releases the underlying archive source, when the view owns one.
// Views produced by OpenPath hold no open source and Close is a no-op for
// them.
func (t *TarFile) Close() error {
	var errs *multierror.Error
	if t.src != nil {
		if err := t.src.Close(); err != nil {
			errs = multierror.Append(errs, err)
		}
		t.src = nil
	}
	return errs.ErrorOrNil()
}

type countingReader struct {
	reader io.Reader
	count  int64
}

func (c *countingReader) Read(b []byte) (int, error) {
	n, err := c.reader.Read(b)
	c.count += int64(n)
	return n, err
}
