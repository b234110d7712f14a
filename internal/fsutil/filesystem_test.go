package fsutil

import (
	"io"
	"io/fs"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryFileSystem(t *testing.T) {
	t.Parallel()

	m := NewMemoryFileSystem()
	m.WriteFile("/data/product.N1", []byte("0123456789"))

	f, err := m.Open("/data/product.N1")
	require.NoError(t, err)
	defer f.Close()

	buf := make([]byte, 3)
	_, err = f.ReadAt(buf, 4)
	require.NoError(t, err)
	assert.Equal(t, "456", string(buf))

	info, err := f.Stat()
	require.NoError(t, err)
	assert.Equal(t, int64(10), info.Size())
	assert.Equal(t, "product.N1", info.Name())

	w, err := m.Create("/out/plot.png")
	require.NoError(t, err)
	_, err = io.WriteString(w, "png")
	require.NoError(t, err)
	require.NoError(t, w.Close())

	got, err := m.ReadFile("/out/plot.png")
	require.NoError(t, err)
	assert.Equal(t, "png", string(got))
	assert.Equal(t, []string{"/out/plot.png"}, m.Names("/out"))

	_, err = m.Open("/missing")
	assert.ErrorIs(t, err, fs.ErrNotExist)
	_, err = m.Stat("/missing")
	assert.ErrorIs(t, err, fs.ErrNotExist)

	require.NoError(t, m.MkdirAll("/a/b/c", 0o755))
	for _, dir := range []string{"/a", "/a/b", "/a/b/c"} {
		info, err := m.Stat(dir)
		require.NoError(t, err, dir)
		assert.True(t, info.IsDir())
	}
}

func TestOSFileSystem(t *testing.T) {
	t.Parallel()

	var fsys FileSystem = OSFileSystem{}
	dir := filepath.Join(t.TempDir(), "nested", "dir")
	require.NoError(t, fsys.MkdirAll(dir, 0o755))

	path := filepath.Join(dir, "file.bin")
	w, err := fsys.Create(path)
	require.NoError(t, err)
	_, err = w.Write([]byte{1, 2, 3})
	require.NoError(t, err)
	require.NoError(t, w.Close())

	data, err := fsys.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, data)

	f, err := fsys.Open(path)
	require.NoError(t, err)
	defer f.Close()
	b := make([]byte, 1)
	_, err = f.ReadAt(b, 2)
	require.NoError(t, err)
	assert.Equal(t, byte(3), b[0])
}
