package clrmeta_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/openkraft/categoryassert/internal/adapters/outbound/clrmeta"
	"github.com/openkraft/categoryassert/internal/adapters/outbound/clrmeta/clrmetatest"
	"github.com/openkraft/categoryassert/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mapResolver map[string]*clrmeta.Image

func (m mapResolver) Resolve(name string) (*clrmeta.Image, error) { return m[name], nil }

func parse(t *testing.T, a *clrmetatest.Assembly, opts ...clrmeta.Option) *clrmeta.Image {
	t.Helper()
	data, err := a.Bytes()
	require.NoError(t, err)
	img, err := clrmeta.Parse(data, opts...)
	require.NoError(t, err)
	return img
}

func TestParse_AssemblyIdentity(t *testing.T) {
	a := clrmetatest.New("Sample.Tests").Version(2, 1, 0, 7)
	a.NUnit(3, 13, 3, 0)

	img := parse(t, a)

	assert.Equal(t, "Sample.Tests", img.AssemblyName())
	assert.Equal(t, domain.Version{Major: 2, Minor: 1, Revision: 7}, img.Version())
	assert.Equal(t, "v4.0.30319", img.RuntimeVersion())
	assert.Equal(t, []domain.AssemblyReference{
		{Name: "mscorlib", Version: domain.Version{Major: 4}},
		{Name: "nunit.framework", Version: domain.Version{Major: 3, Minor: 13, Build: 3}},
	}, img.References())
}

func TestOpen_RecordsPath(t *testing.T) {
	dir := t.TempDir()
	path := clrmetatest.New("OnDisk").Write(t, dir, "OnDisk.dll")

	img, err := clrmeta.Open(path)
	require.NoError(t, err)
	assert.Equal(t, path, img.Path())
	assert.Equal(t, "OnDisk", img.AssemblyName())
}

func TestOpen_MissingFile(t *testing.T) {
	_, err := clrmeta.Open(filepath.Join(t.TempDir(), "absent.dll"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestParse_RejectsMalformedImages(t *testing.T) {
	valid, err := clrmetatest.New("Valid").Bytes()
	require.NoError(t, err)

	cases := map[string][]byte{
		"empty":       {},
		"not a PE":    []byte("this is a text file, not a binary"),
		"truncated":   valid[:len(valid)/3],
		"no metadata": corruptSignature(valid),
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := clrmeta.Parse(data)
			assert.Error(t, err)
		})
	}
}

// corruptSignature overwrites the metadata root signature, which follows
// the 72-byte CLI header at the start of the only section.
func corruptSignature(data []byte) []byte {
	out := append([]byte(nil), data...)
	copy(out[0x200+72:], "XXXX")
	return out
}

func TestBinary_Identity(t *testing.T) {
	bin := clrmeta.NewBinary(parse(t, clrmetatest.New("Named")))
	assert.Equal(t, "Named", bin.Name())
	assert.Empty(t, bin.Path())
	assert.NoError(t, bin.Close())
}
