package stream

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systemshift/modelgraph/internal/model"
)

func TestDigestMap(t *testing.T) {
	m := sampleModel()
	m.AddRoot(model.NewNode(model.RegularNodeID(3), "Baz"))

	digests, err := DigestMap(m)
	require.NoError(t, err)
	assert.Len(t, digests, 3)
	assert.Contains(t, digests, DigestHeader)
	assert.Contains(t, digests, "1")
	assert.Contains(t, digests, "3")
	assert.Len(t, digests["1"], 64)

	// changing one root leaves the other digest alone
	m.Roots[1].SetProperty("name", "changed")
	again, err := DigestMap(m)
	require.NoError(t, err)
	assert.Equal(t, digests["1"], again["1"])
	assert.Equal(t, digests[DigestHeader], again[DigestHeader])
	assert.NotEqual(t, digests["3"], again["3"])
}

func TestHashBytes(t *testing.T) {
	a, err := HashBytes(bytes.NewReader([]byte("abc")))
	require.NoError(t, err)
	b, err := HashBytes(bytes.NewReader([]byte("abd")))
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestFileSourceRoundTrip(t *testing.T) {
	for _, name := range []string{"model.mgb", "model.mgb.zst"} {
		t.Run(name, func(t *testing.T) {
			src := NewFileSource(filepath.Join(t.TempDir(), "nested", name))
			m := sampleModel()

			w, err := src.OpenWriter()
			require.NoError(t, err)
			require.NoError(t, EncodeModel(w, m))
			require.NoError(t, w.Close())

			r, err := src.OpenReader()
			require.NoError(t, err)
			defer r.Close()
			got, err := ReadModel(r)
			require.NoError(t, err)
			assert.Equal(t, m.Header, got.Header)
			assert.Len(t, got.Roots, 1)
		})
	}
}

func TestReadOnlySourcesRefuseWriters(t *testing.T) {
	fs := &FileSource{Path: filepath.Join(t.TempDir(), "ro.mgb"), Readonly: true}
	_, err := fs.OpenWriter()
	assert.Error(t, err)

	ms := NewMemorySource("mem", nil)
	ms.Readonly = true
	_, err = ms.OpenWriter()
	assert.Error(t, err)
}

func TestFileSourceStoreRoot(t *testing.T) {
	dir := t.TempDir()
	a := NewFileSource(filepath.Join(dir, "a.mgb"))
	b := NewFileSource(filepath.Join(dir, "b.mgb.zst"))
	c := NewFileSource(filepath.Join(dir, "sub", "c.mgb"))

	assert.Equal(t, a.StoreRoot(), b.StoreRoot())
	assert.NotEqual(t, a.StoreRoot(), c.StoreRoot())
	assert.True(t, filepath.IsAbs(NewFileSource("rel/m.mgb").StoreRoot()))
}
