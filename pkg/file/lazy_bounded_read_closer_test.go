package file

import (
	"io"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBackingFile(t *testing.T) afero.Fs {
	t.Helper()
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/backing.bin", []byte("0123456789abcdef"), 0o644))
	return fs
}

func TestLazyBoundedReadCloser_Bounds(t *testing.T) {
	tests := []struct {
		name     string
		start    int64
		size     int64
		expected string
	}{
		{
			name:     "middle section",
			start:    4,
			size:     6,
			expected: "456789",
		},
		{
			name:     "from the start",
			start:    0,
			size:     4,
			expected: "0123",
		},
		{
			name:     "to the end",
			start:    10,
			size:     6,
			expected: "abcdef",
		},
		{
			name:     "empty section",
			start:    5,
			size:     0,
			expected: "",
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			rc := NewLazyBoundedReadCloser(testBackingFile(t), "/backing.bin", test.start, test.size)
			content, err := io.ReadAll(rc)
			require.NoError(t, err)
			assert.Equal(t, test.expected, string(content))
			assert.NoError(t, rc.Close())
		})
	}
}

func TestLazyBoundedReadCloser_NoHandleUntilRead(t *testing.T) {
	// opening a missing path must not fail until a read is attempted
	fs := afero.NewMemMapFs()
	rc := NewLazyBoundedReadCloser(fs, "/does-not-exist", 0, 10)

	_, err := rc.Read(make([]byte, 1))
	assert.Error(t, err)
	assert.NoError(t, rc.Close())
}

func TestLazyBoundedReadCloser_CloseWithoutRead(t *testing.T) {
	rc := NewLazyBoundedReadCloser(testBackingFile(t), "/backing.bin", 0, 4)
	assert.NoError(t, rc.Close())
}

func TestSectionReadCloser(t *testing.T) {
	fs := testBackingFile(t)
	f, err := fs.Open("/backing.bin")
	require.NoError(t, err)
	defer f.Close()

	section := NewSectionReadCloser(f, 4, 6)
	content, err := io.ReadAll(section)
	require.NoError(t, err)
	assert.Equal(t, "456789", string(content))
	require.NoError(t, section.Close())

	// independent sections over the same source do not disturb each other
	a := NewSectionReadCloser(f, 0, 4)
	b := NewSectionReadCloser(f, 10, 6)
	bContent, err := io.ReadAll(b)
	require.NoError(t, err)
	aContent, err := io.ReadAll(a)
	require.NoError(t, err)
	assert.Equal(t, "0123", string(aContent))
	assert.Equal(t, "abcdef", string(bContent))
}
