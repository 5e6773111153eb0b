package scanner

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path string, contents string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
}

func TestNew_RejectsSymlinkRoot(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "real")
	require.NoError(t, os.Mkdir(target, 0o755))

	link := filepath.Join(dir, "link")
	require.NoError(t, os.Symlink(target, link))

	_, err := New(link)
	assert.Error(t, err)
}

func TestScan_FindsMatchingFilesAndExcludesDirs(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.py"), "print('hi')")
	writeFile(t, filepath.Join(dir, "pkg", "b.py"), "x = 1")
	writeFile(t, filepath.Join(dir, "node_modules", "vendored.py"), "ignored")
	writeFile(t, filepath.Join(dir, "README.md"), "not python")

	s, err := New(dir)
	require.NoError(t, err)

	files, skipped, err := s.Scan(Options{})
	require.NoError(t, err)
	assert.Empty(t, skipped)

	var relPaths []string
	for _, f := range files {
		relPaths = append(relPaths, f.RelPath)
	}
	assert.ElementsMatch(t, []string{"a.py", "pkg/b.py"}, relPaths)
}

func TestScan_RejectsSymlinkedFileByDefault(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "real.py")
	writeFile(t, target, "x = 1")

	link := filepath.Join(dir, "link.py")
	require.NoError(t, os.Symlink(target, link))

	s, err := New(dir)
	require.NoError(t, err)

	files, skipped, err := s.Scan(Options{})
	require.NoError(t, err)

	assert.Len(t, files, 1)
	assert.Equal(t, "real.py", files[0].RelPath)

	require.Len(t, skipped, 1)
	assert.Equal(t, "link.py", filepath.Base(skipped[0].Path))
	assert.Contains(t, skipped[0].Reason, "symbolic link")
}

func TestScan_FollowSymlinksIncludesLinkedFile(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "real.py")
	writeFile(t, target, "x = 1")

	link := filepath.Join(dir, "link.py")
	require.NoError(t, os.Symlink(target, link))

	s, err := New(dir)
	require.NoError(t, err)

	files, skipped, err := s.Scan(Options{FollowSymlinks: true})
	require.NoError(t, err)
	assert.Empty(t, skipped)
	assert.Len(t, files, 2)
}

func TestScan_RejectsOversizedFile(t *testing.T) {
	dir := t.TempDir()
	big := make([]byte, 2*1024*1024)
	writeFile(t, filepath.Join(dir, "big.py"), string(big))
	writeFile(t, filepath.Join(dir, "small.py"), "x = 1")

	s, err := New(dir)
	require.NoError(t, err)

	files, skipped, err := s.Scan(Options{MaxFileSizeMB: 1})
	require.NoError(t, err)

	assert.Len(t, files, 1)
	assert.Equal(t, "small.py", files[0].RelPath)
	require.Len(t, skipped, 1)
	assert.Contains(t, skipped[0].Reason, "too large")
}

func TestScan_ContentHashIsStableAndChangesWithContent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.py")
	writeFile(t, path, "x = 1")

	s, err := New(dir)
	require.NoError(t, err)

	files1, _, err := s.Scan(Options{})
	require.NoError(t, err)
	require.Len(t, files1, 1)
	hash1 := files1[0].Hash

	files2, _, err := s.Scan(Options{})
	require.NoError(t, err)
	assert.Equal(t, hash1, files2[0].Hash, "hash must be stable across scans of unchanged content")

	writeFile(t, path, "x = 2")
	files3, _, err := s.Scan(Options{})
	require.NoError(t, err)
	assert.NotEqual(t, hash1, files3[0].Hash, "hash must change when content changes")
}

func TestScan_CustomPatternMatchesOtherExtensions(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.go"), "package main")
	writeFile(t, filepath.Join(dir, "b.py"), "x = 1")

	s, err := New(dir)
	require.NoError(t, err)

	files, _, err := s.Scan(Options{Patterns: []string{"**/*.go"}})
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "a.go", files[0].RelPath)
}

func TestScan_RelativePathsOnly(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.py"), "x = 1")

	s, err := New(dir)
	require.NoError(t, err)

	files, _, err := s.Scan(Options{})
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.False(t, filepath.IsAbs(files[0].RelPath))
}
