package locator_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/openkraft/categoryassert/internal/adapters/outbound/locator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, dir string, rel string) {
	t.Helper()
	path := filepath.Join(dir, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
}

func rels(t *testing.T, dir string, paths []string) []string {
	t.Helper()
	out := make([]string, len(paths))
	for i, p := range paths {
		rel, err := filepath.Rel(dir, p)
		require.NoError(t, err)
		out[i] = filepath.ToSlash(rel)
	}
	return out
}

func TestGlobLocator_DefaultMatchesTopLevelDLLs(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "b.Tests.dll")
	touch(t, dir, "a.Tests.dll")
	touch(t, dir, "tool.exe")
	touch(t, dir, "nested/c.Tests.dll")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "dir.dll"), 0o755))

	paths, err := locator.New("").Locate(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.Tests.dll", "b.Tests.dll"}, rels(t, dir, paths))
	for _, p := range paths {
		assert.True(t, filepath.IsAbs(p))
	}
}

func TestGlobLocator_RecursivePattern(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "a.Tests.dll")
	touch(t, dir, "nested/deeper/c.Tests.dll")
	touch(t, dir, "nested/helper.dll")

	paths, err := locator.New("**/*.Tests.dll").Locate(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.Tests.dll", "nested/deeper/c.Tests.dll"}, rels(t, dir, paths))
}

func TestGlobLocator_EmptyDirectory(t *testing.T) {
	paths, err := locator.New("*.dll").Locate(t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, paths)
}

func TestGlobLocator_InvalidPattern(t *testing.T) {
	_, err := locator.New("[").Locate(t.TempDir())
	assert.Error(t, err)
}
