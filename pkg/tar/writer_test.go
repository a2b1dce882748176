package tar

import (
	"bytes"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriter_BlockAlignment(t *testing.T) {
	var buf bytes.Buffer
	tw := NewWriter(&buf)
	require.NoError(t, tw.WriteHeader(&Entry{
		Name:     "a.txt",
		Size:     5,
		Typeflag: TypeReg,
		ModTime:  time.Unix(1350244992, 0),
	}))
	_, err := tw.Write([]byte("hello"))
	require.NoError(t, err)
	require.NoError(t, tw.Close())

	// header + padded data + two end-of-archive records
	assert.Equal(t, 4*BlockSize, buf.Len())
	assert.Zero(t, buf.Len()%BlockSize)
}

func TestWriter_WriteTooLong(t *testing.T) {
	var buf bytes.Buffer
	tw := NewWriter(&buf)
	require.NoError(t, tw.WriteHeader(&Entry{
		Name:     "a.txt",
		Size:     3,
		Typeflag: TypeReg,
		ModTime:  time.Unix(1350244992, 0),
	}))

	n, err := tw.Write([]byte("abcdef"))
	assert.Equal(t, 3, n)
	assert.ErrorIs(t, err, ErrWriteTooLong)

	// the writer remains usable; the declared bytes made it out
	require.NoError(t, tw.Close())

	tr := NewReader(&buf)
	_, err = tr.Next()
	require.NoError(t, err)
	content, err := io.ReadAll(tr)
	require.NoError(t, err)
	assert.Equal(t, "abc", string(content))
}

func TestWriter_UnderWrite(t *testing.T) {
	var buf bytes.Buffer
	tw := NewWriter(&buf)
	require.NoError(t, tw.WriteHeader(&Entry{
		Name:     "a.txt",
		Size:     10,
		Typeflag: TypeReg,
		ModTime:  time.Unix(1350244992, 0),
	}))
	_, err := tw.Write([]byte("abc"))
	require.NoError(t, err)

	assert.Error(t, tw.Close(), "closing with unwritten data bytes must fail")
}

func TestWriter_HeaderOnlyTypesIgnoreSize(t *testing.T) {
	var buf bytes.Buffer
	tw := NewWriter(&buf)
	require.NoError(t, tw.WriteHeader(&Entry{
		Name:     "dir/",
		Size:     1234,
		Typeflag: TypeDir,
		ModTime:  time.Unix(1350244992, 0),
	}))
	require.NoError(t, tw.Close())

	// no data section was expected despite the size field
	assert.Equal(t, 3*BlockSize, buf.Len())
}

func TestWriter_USTARPrefixSplit(t *testing.T) {
	// long but splittable: prefix/name fit USTAR without extensions
	name := strings.Repeat("d", 120) + "/" + strings.Repeat("f", 60)

	var buf bytes.Buffer
	tw := NewWriter(&buf)
	require.NoError(t, tw.WriteHeader(&Entry{
		Name:     name,
		Typeflag: TypeReg,
		ModTime:  time.Unix(1350244992, 0),
	}))
	require.NoError(t, tw.Close())

	// exactly one header record: no PAX header was needed
	assert.Equal(t, 3*BlockSize, buf.Len())

	tr := NewReader(&buf)
	e, err := tr.Next()
	require.NoError(t, err)
	assert.Equal(t, name, e.Name)
	assert.Empty(t, e.PAXRecords)
}

func TestWriter_PAXRecordsPassThrough(t *testing.T) {
	var buf bytes.Buffer
	tw := NewWriter(&buf)
	require.NoError(t, tw.WriteHeader(&Entry{
		Name:     "a.txt",
		Typeflag: TypeReg,
		ModTime:  time.Unix(1350244992, 0),
		PAXRecords: map[string]string{
			"SCHILY.xattr.user.key": "value",
		},
	}))
	require.NoError(t, tw.Close())

	tr := NewReader(&buf)
	e, err := tr.Next()
	require.NoError(t, err)
	assert.Equal(t, "value", e.PAXRecords["SCHILY.xattr.user.key"])
}

func TestWriter_SparseRejected(t *testing.T) {
	tw := NewWriter(&bytes.Buffer{})
	err := tw.WriteHeader(&Entry{
		Name:          "sparse.bin",
		Size:          15,
		Typeflag:      TypeReg,
		ModTime:       time.Unix(1350244992, 0),
		SparseExtents: []SparseExtent{{Offset: 0, NumBytes: 3}},
	})
	assert.Error(t, err)
}

func TestWriter_GNUBinaryNumerics(t *testing.T) {
	var buf bytes.Buffer
	tw := NewWriter(&buf, WithGNUExtensions())
	require.NoError(t, tw.WriteHeader(&Entry{
		Name:     "big.bin",
		Size:     0,
		UID:      1 << 24,
		Typeflag: TypeReg,
		ModTime:  time.Unix(1350244992, 0),
	}))
	require.NoError(t, tw.Close())

	// single record, no extension entries
	assert.Equal(t, 3*BlockSize, buf.Len())

	tr := NewReader(&buf)
	e, err := tr.Next()
	require.NoError(t, err)
	assert.Equal(t, 1<<24, e.UID)
}

func TestWriter_CloseIdempotent(t *testing.T) {
	var buf bytes.Buffer
	tw := NewWriter(&buf)
	require.NoError(t, tw.Close())
	n := buf.Len()
	require.NoError(t, tw.Close())
	assert.Equal(t, n, buf.Len(), "second close must not write another marker")

	assert.Error(t, tw.WriteHeader(&Entry{Name: "late.txt", Typeflag: TypeReg}))
}
