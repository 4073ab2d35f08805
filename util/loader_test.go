package util

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.xml", "a.xml", "c.jpg", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested.xml"), 0o755))

	files, err := FindFiles(dir, AnnotationPattern)
	require.NoError(t, err)

	assert.Equal(t, []string{filepath.Join(dir, "a.xml"), filepath.Join(dir, "b.xml")}, files)
}

func TestFindFilesSkipsHiddenFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.xml", "._a.xml", ".hidden.xml"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
	}

	files, err := FindFiles(dir, AnnotationPattern)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "a.xml")}, files)

	files, err = FindFiles(dir, ".*.xml")
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "._a.xml"), filepath.Join(dir, ".hidden.xml")}, files)
}

func TestFindFilesMissingDirectory(t *testing.T) {
	files, err := FindFiles(filepath.Join(t.TempDir(), "missing"), AnnotationPattern)
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestFindFilesBadPattern(t *testing.T) {
	_, err := FindFiles(t.TempDir(), "[")
	assert.Error(t, err)
}

func TestExists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "weights.gob")

	assert.False(t, Exists(""))
	assert.False(t, Exists(path))

	require.NoError(t, os.WriteFile(path, nil, 0o644))
	assert.True(t, Exists(path))
	assert.True(t, Exists(dir))
}
