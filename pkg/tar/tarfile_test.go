package tar

import (
	"bytes"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wagoodman/go-progress"
)

// memSource adapts an in-memory archive to the source interface the index
// consumes.
type memSource struct {
	*bytes.Reader
	closed bool
}

func newMemSource(b []byte) *memSource {
	return &memSource{Reader: bytes.NewReader(b)}
}

func (m *memSource) Close() error {
	m.closed = true
	return nil
}

func testTarFileFixture(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	tw := NewWriter(&buf)

	entries := []struct {
		name string
		body string
	}{
		{name: "a.txt", body: "first"},
		{name: "docs/readme.md", body: "# readme"},
		{name: "docs/guide.md", body: "guide"},
		{name: "bin/tool", body: "\x7fELF"},
	}
	for _, te := range entries {
		require.NoError(t, tw.WriteHeader(&Entry{
			Name:     te.name,
			Size:     int64(len(te.body)),
			Mode:     0o644,
			Typeflag: TypeReg,
			ModTime:  time.Unix(1350244992, 0),
		}))
		_, err := tw.Write([]byte(te.body))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	return buf.Bytes()
}

func TestTarFile_EntriesAndContents(t *testing.T) {
	src := newMemSource(testTarFileFixture(t))
	tf, err := NewTarFile(src)
	require.NoError(t, err)

	require.Len(t, tf.Entries(), 4)

	e, err := tf.Entry("docs/readme.md")
	require.NoError(t, err)
	assert.Equal(t, int64(8), e.Size)

	// entries open independently and out of archive order
	for name, expected := range map[string]string{
		"bin/tool":       "\x7fELF",
		"a.txt":          "first",
		"docs/readme.md": "# readme",
	} {
		rc, err := tf.OpenName(name)
		require.NoError(t, err)
		content, err := io.ReadAll(rc)
		require.NoError(t, err)
		assert.Equal(t, expected, string(content))
		require.NoError(t, rc.Close())
	}

	// the same entry twice concurrently
	first, err := tf.OpenName("a.txt")
	require.NoError(t, err)
	second, err := tf.OpenName("a.txt")
	require.NoError(t, err)
	b1, err := io.ReadAll(first)
	require.NoError(t, err)
	b2, err := io.ReadAll(second)
	require.NoError(t, err)
	assert.Equal(t, b1, b2)

	require.NoError(t, tf.Close())
	assert.True(t, src.closed)
}

func TestTarFile_OpenPath(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/archive.tar", testTarFileFixture(t), 0o644))

	tf, err := OpenPath(fs, "/archive.tar")
	require.NoError(t, err)
	defer tf.Close()

	rc, err := tf.OpenName("docs/guide.md")
	require.NoError(t, err)
	content, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "guide", string(content))
	require.NoError(t, rc.Close())
}

func TestTarFile_MissingEntry(t *testing.T) {
	tf, err := NewTarFile(newMemSource(testTarFileFixture(t)))
	require.NoError(t, err)
	defer tf.Close()

	_, err = tf.Entry("nope.txt")
	var notFound *EntryNotFoundError
	require.Error(t, err)
	require.True(t, errors.As(err, &notFound))
	assert.Equal(t, "nope.txt", notFound.Name)
}

func TestTarFile_Names(t *testing.T) {
	tf, err := NewTarFile(newMemSource(testTarFileFixture(t)))
	require.NoError(t, err)
	defer tf.Close()

	expected := []string{"a.txt", "bin/tool", "docs/guide.md", "docs/readme.md"}
	if diff := cmp.Diff(expected, tf.Names()); diff != "" {
		t.Errorf("unexpected names (-want +got):\n%s", diff)
	}
}

func TestTarFile_Glob(t *testing.T) {
	tf, err := NewTarFile(newMemSource(testTarFileFixture(t)))
	require.NoError(t, err)
	defer tf.Close()

	matches, err := tf.Glob("docs/*.md")
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "docs/readme.md", matches[0].Name)
	assert.Equal(t, "docs/guide.md", matches[1].Name)

	matches, err = tf.Glob("**/*.md")
	require.NoError(t, err)
	assert.Len(t, matches, 2)

	matches, err = tf.Glob("*.doesnotexist")
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestTarFile_DuplicateNames(t *testing.T) {
	var buf bytes.Buffer
	tw := NewWriter(&buf)
	for _, body := range []string{"old contents", "new"} {
		require.NoError(t, tw.WriteHeader(&Entry{
			Name:     "config.yaml",
			Size:     int64(len(body)),
			Typeflag: TypeReg,
			ModTime:  time.Unix(1350244992, 0),
		}))
		_, err := tw.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())

	tf, err := NewTarFile(newMemSource(buf.Bytes()))
	require.NoError(t, err)
	defer tf.Close()

	// both occurrences are indexed, the last one wins for lookup
	assert.Len(t, tf.Entries(), 2)
	assert.Len(t, tf.EntriesByName("config.yaml"), 2)
	assert.Equal(t, []string{"config.yaml"}, tf.Names())

	rc, err := tf.OpenName("config.yaml")
	require.NoError(t, err)
	content, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "new", string(content))

	// an earlier occurrence can still be opened through its own entry
	rc, err = tf.OpenEntry(tf.EntriesByName("config.yaml")[0])
	require.NoError(t, err)
	content, err = io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "old contents", string(content))
}

func TestTarFile_SparseEntry(t *testing.T) {
	entry := testArchiveEntry(t, "sparse.bin", TypeGNUSparse, []byte("ABCDE"), func(r record) {
		copy(r[257:265], magicGNU)
		require.NoError(t, formatLongOctal(15, r.gnuRealSize(), "realsize"))
		area := r.gnuSparse()
		require.NoError(t, formatLongOctal(0, area[0:12], "offset"))
		require.NoError(t, formatLongOctal(3, area[12:24], "numbytes"))
		require.NoError(t, formatLongOctal(10, area[24:36], "offset"))
		require.NoError(t, formatLongOctal(2, area[36:48], "numbytes"))
	})

	var raw bytes.Buffer
	raw.Write(entry)
	raw.Write(zeroRecord)
	raw.Write(zeroRecord)

	tf, err := NewTarFile(newMemSource(raw.Bytes()))
	require.NoError(t, err)
	defer tf.Close()

	e, err := tf.Entry("sparse.bin")
	require.NoError(t, err)
	assert.Equal(t, int64(15), e.Size)
	assert.Equal(t, int64(BlockSize), e.DataOffset())

	rc, err := tf.OpenEntry(e)
	require.NoError(t, err)
	content, err := io.ReadAll(rc)
	require.NoError(t, err)

	expected := append([]byte("ABC"), make([]byte, 7)...)
	expected = append(expected, 'D', 'E')
	expected = append(expected, make([]byte, 3)...)
	assert.Equal(t, expected, content)
	require.NoError(t, rc.Close())
}

func TestTarFile_HeaderOnlyEntryServesNoData(t *testing.T) {
	// a symlink whose size field claims data; the archive stores none, so
	// serving it by size would leak the following header's bytes
	link := testArchiveEntry(t, "link", TypeSymlink, nil, func(r record) {
		require.NoError(t, formatString("target", r.linkname(), DefaultNameEncoding()))
		require.NoError(t, formatLongOctal(11, r.size(), "size"))
	})
	next := testArchiveEntry(t, "a.txt", TypeReg, []byte("first"), nil)

	var raw bytes.Buffer
	raw.Write(link)
	raw.Write(next)
	raw.Write(zeroRecord)
	raw.Write(zeroRecord)

	tf, err := NewTarFile(newMemSource(raw.Bytes()))
	require.NoError(t, err)
	defer tf.Close()

	e, err := tf.Entry("link")
	require.NoError(t, err)
	rc, err := tf.OpenEntry(e)
	require.NoError(t, err)
	content, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Empty(t, content)
	require.NoError(t, rc.Close())

	rc, err = tf.OpenName("a.txt")
	require.NoError(t, err)
	content, err = io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "first", string(content))
	require.NoError(t, rc.Close())
}

func TestTarFile_DataOffsets(t *testing.T) {
	tf, err := NewTarFile(newMemSource(testTarFileFixture(t)))
	require.NoError(t, err)
	defer tf.Close()

	// fixture entries are all under one block, so offsets advance by two
	// blocks per entry
	for i, e := range tf.Entries() {
		assert.Equal(t, int64((2*i+1)*BlockSize), e.DataOffset(), e.Name)
	}
}

func TestTarFile_Progress(t *testing.T) {
	monitor := progress.NewManual(-1)
	tf, err := NewTarFile(newMemSource(testTarFileFixture(t)), WithProgress(monitor))
	require.NoError(t, err)
	defer tf.Close()

	assert.Equal(t, int64(4), monitor.Current())
}

func TestTarFile_CorruptArchive(t *testing.T) {
	raw := testTarFileFixture(t)
	raw[150] ^= 0x01 // break the first header checksum

	_, err := NewTarFile(newMemSource(raw))
	require.Error(t, err)

	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/bad.tar", raw, 0o644))
	_, err = OpenPath(fs, "/bad.tar")
	require.Error(t, err)
}
