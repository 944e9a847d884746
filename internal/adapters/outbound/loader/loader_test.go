package loader_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/openkraft/categoryassert/internal/adapters/outbound/clrmeta/clrmetatest"
	"github.com/openkraft/categoryassert/internal/adapters/outbound/loader"
	"github.com/openkraft/categoryassert/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_MissingDirectory(t *testing.T) {
	_, err := loader.New(filepath.Join(t.TempDir(), "nope"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestResolver_LookupIsCaseInsensitiveAndPrefersDLL(t *testing.T) {
	dir := t.TempDir()
	clrmetatest.New("Shared").Write(t, dir, "Shared.exe")
	clrmetatest.New("Shared").Write(t, dir, "Shared.dll")
	clrmetatest.New("Tool").Write(t, dir, "Tool.EXE")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "Sub.dll"), 0o755))

	r, err := loader.NewResolver(dir)
	require.NoError(t, err)
	assert.Equal(t, 2, r.Len())

	path, ok := r.Lookup("SHARED")
	require.True(t, ok)
	assert.Equal(t, filepath.Join(dir, "Shared.dll"), path)

	path, ok = r.Lookup("tool")
	require.True(t, ok)
	assert.Equal(t, filepath.Join(dir, "Tool.EXE"), path)

	_, ok = r.Lookup("notes")
	assert.False(t, ok)
	_, ok = r.Lookup("Sub")
	assert.False(t, ok)
}

func TestResolver_ResolveCachesImages(t *testing.T) {
	dir := t.TempDir()
	clrmetatest.New("Lib").Write(t, dir, "Lib.dll")

	r, err := loader.NewResolver(dir)
	require.NoError(t, err)

	first, err := r.Resolve("lib")
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, "Lib", first.AssemblyName())

	second, err := r.Resolve("Lib")
	require.NoError(t, err)
	assert.Same(t, first, second)

	missing, err := r.Resolve("Other")
	assert.NoError(t, err)
	assert.Nil(t, missing)
}

func TestResolver_ResolveReportsCorruptDependency(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Bad.dll"), []byte("garbage"), 0o644))

	r, err := loader.NewResolver(dir)
	require.NoError(t, err)
	_, err = r.Resolve("Bad")
	assert.Error(t, err)
}

func TestLoader_LoadWrapsFailures(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "Broken.dll")
	require.NoError(t, os.WriteFile(bad, []byte("MZ but nothing else"), 0o644))

	l, err := loader.New(dir)
	require.NoError(t, err)

	_, err = l.Load(bad)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrLoadFailure)
	var le *domain.LoadError
	require.True(t, errors.As(err, &le))
	assert.Equal(t, bad, le.Path)
}

func TestLoader_LoadFollowsDependenciesInDirectory(t *testing.T) {
	dir := t.TempDir()

	lib := clrmetatest.New("Lib")
	lnu := lib.NUnit(3, 13, 3, 0)
	lib.Type("Lib", "Base").Attribute(lnu.Category, "FromLib")
	lib.Write(t, dir, "Lib.dll")

	app := clrmetatest.New("App")
	nu := app.NUnit(3, 13, 3, 0)
	fx := app.Type("App", "Fixture").Extends(app.TypeRef(app.Reference("Lib", 1, 0, 0, 0), "Lib", "Base"))
	fx.Attribute(nu.TestFixture)
	path := app.Write(t, dir, "App.dll")

	l, err := loader.New(dir)
	require.NoError(t, err)
	bin, err := l.Load(path)
	require.NoError(t, err)
	defer bin.Close()

	assert.Equal(t, "App", bin.Name())
	assert.Equal(t, path, bin.Path())

	types, err := bin.Types()
	require.NoError(t, err)
	require.Len(t, types, 1)
	attrs, err := bin.TypeAttributes(types[0])
	require.NoError(t, err)
	require.Len(t, attrs, 2)
	arg, _ := attrs[1].Arg(0)
	assert.Equal(t, "FromLib", arg)
}
