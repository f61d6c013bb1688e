package persistence

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/systemshift/modelgraph/internal/executor"
	"github.com/systemshift/modelgraph/internal/model"
	"github.com/systemshift/modelgraph/internal/statement"
	"github.com/systemshift/modelgraph/internal/stream"
)

type recordingBackend struct {
	mu  sync.Mutex
	txs [][]statement.Cypher
}

func (b *recordingBackend) ExecuteWrite(ctx context.Context, stmts []statement.Cypher) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.txs = append(b.txs, stmts)
	return nil
}

func (b *recordingBackend) Query(ctx context.Context, q statement.Cypher) ([]map[string]any, error) {
	return nil, nil
}

type collector struct {
	local, external []model.NodeID
}

func (c *collector) LocalNodeRef(id model.NodeID)    { c.local = append(c.local, id) }
func (c *collector) ExternalNodeRef(id model.NodeID) { c.external = append(c.external, id) }

var (
	module    = model.RegularModuleID(uuid.MustParse("6a1b3c5e-0d2f-4e6a-8b1c-2d3e4f5a6b7c"))
	libraryID = model.ModelIdentity{
		Module: model.RegularModuleID(uuid.MustParse("11111111-2222-4333-8444-555555555555")),
		Model:  model.RegularModelID(uuid.MustParse("99999999-8888-4777-8666-555555555555")),
		Name:   "lib.types",
	}
)

func identity(name string) model.ModelIdentity {
	return model.ModelIdentity{
		Module: module,
		Model:  model.RegularModelID(uuid.NewSHA1(uuid.NameSpaceOID, []byte(name))),
		Name:   name,
	}
}

func sample() *model.Model {
	m := model.NewModel(identity("M1"))
	foo := model.NewNode(model.RegularNodeID(1), "Foo")
	foo.SetProperty("name", "x")
	bar := foo.AddChild("children", model.NewNode(model.RegularNodeID(2), "Bar"))
	foo.AddReference("type", libraryID, model.RegularNodeID(9))
	bar.AddReference("owner", m.Identity(), foo.ID)
	m.AddRoot(foo)
	return m
}

func encoded(t *testing.T, m *model.Model) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, stream.EncodeModel(&buf, m))
	return buf.Bytes()
}

func TestSaveWritesStreamAndGraph(t *testing.T) {
	backend := &recordingBackend{}
	exec := executor.New(backend, zaptest.NewLogger(t))
	defer exec.Close()
	p := New(exec, nil, zaptest.NewLogger(t))

	src := stream.NewMemorySource("m1.mdl", nil)
	ctx := context.Background()
	batch, err := p.Save(ctx, sample(), src)
	require.NoError(t, err)
	require.NoError(t, batch.Wait(ctx))

	// reset, constraint, nodes phase, references phase
	require.Len(t, backend.txs, 4)
	assert.Contains(t, backend.txs[0][0].Query, "DETACH DELETE")
	assert.Contains(t, backend.txs[1][0].Query, "CONSTRAINT")
	assert.Contains(t, backend.txs[2][0].Query, statement.LabelModel)
	assert.Len(t, batch.References.Statements(), 2)

	h, err := p.ReadHeader(src)
	require.NoError(t, err)
	assert.True(t, h.Identity.SameModel(identity("M1")))
}

func TestSaveWithoutReset(t *testing.T) {
	backend := &recordingBackend{}
	exec := executor.New(backend, nil)
	defer exec.Close()
	p := New(exec, nil, nil, WithResetOnSave(false))

	batch, err := p.Save(context.Background(), sample(), stream.NewMemorySource("m1", nil))
	require.NoError(t, err)
	require.NoError(t, batch.Wait(context.Background()))
	require.Len(t, backend.txs, 3)
	assert.Contains(t, backend.txs[0][0].Query, "CONSTRAINT")
}

func TestSaveReadOnlyTarget(t *testing.T) {
	backend := &recordingBackend{}
	exec := executor.New(backend, nil)
	defer exec.Close()
	p := New(exec, nil, nil)

	src := stream.NewMemorySource("ro", nil)
	src.Readonly = true
	_, err := p.Save(context.Background(), sample(), src)
	assert.ErrorIs(t, err, model.ErrReadOnlyTarget)
	assert.Empty(t, src.Bytes())
	assert.Empty(t, backend.txs)
}

func TestSaveLoadedModelRejectsSameStoreReference(t *testing.T) {
	backend := &recordingBackend{}
	exec := executor.New(backend, nil)
	defer exec.Close()

	reg := model.NewRegistry()
	reg.Register(libraryID, "project")
	p := New(exec, reg, nil, WithStoreRoot("project"))

	m, err := p.ReadModel(nil, stream.NewMemorySource("m1", encoded(t, sample())))
	require.NoError(t, err)
	assert.Equal(t, "project", m.Store)
	store, ok := reg.StoreOf(m.Identity())
	require.True(t, ok)
	assert.Equal(t, "project", store)

	src := stream.NewMemorySource("m1", nil)
	_, err = p.Save(context.Background(), m, src)
	assert.ErrorIs(t, err, model.ErrUnsupportedCrossModelReference)
	assert.Empty(t, src.Bytes())
	assert.Empty(t, backend.txs)
}

func TestSaveRegistersFileSourceDirectory(t *testing.T) {
	backend := &recordingBackend{}
	exec := executor.New(backend, nil)
	defer exec.Close()
	reg := model.NewRegistry()
	p := New(exec, reg, nil, WithResetOnSave(false))
	ctx := context.Background()

	dir := t.TempDir()
	lib := model.NewModel(libraryID)
	lib.AddRoot(model.NewNode(model.RegularNodeID(9), "Type"))
	batch, err := p.Save(ctx, lib, stream.NewFileSource(filepath.Join(dir, "lib.mgb")))
	require.NoError(t, err)
	require.NoError(t, batch.Wait(ctx))
	store, ok := reg.StoreOf(libraryID)
	require.True(t, ok)
	assert.Equal(t, dir, store)

	// a model next to lib may not reference it
	plain := New(nil, nil, nil)
	sibling := stream.NewFileSource(filepath.Join(dir, "m1.mgb"))
	_, err = plain.Save(ctx, sample(), sibling)
	require.NoError(t, err)
	m, err := p.ReadModel(nil, sibling)
	require.NoError(t, err)
	_, err = p.Save(ctx, m, sibling)
	assert.ErrorIs(t, err, model.ErrUnsupportedCrossModelReference)

	// in another directory the reference becomes a proxy
	other := stream.NewFileSource(filepath.Join(t.TempDir(), "m1.mgb"))
	batch, err = p.Save(ctx, sample(), other)
	require.NoError(t, err)
	require.NoError(t, batch.Wait(ctx))
	var proxies int
	for _, st := range batch.References.Statements() {
		if _, ok := st.(*statement.CreateProxyEdge); ok {
			proxies++
		}
	}
	assert.Equal(t, 1, proxies)
}

func TestSaveStreamOnly(t *testing.T) {
	p := New(nil, nil, nil)
	src := stream.NewMemorySource("m1", nil)
	batch, err := p.Save(context.Background(), sample(), src)
	require.NoError(t, err)
	assert.Nil(t, batch)
	assert.Equal(t, encoded(t, sample()), src.Bytes())
}

func TestReadModelChecksIdentity(t *testing.T) {
	p := New(nil, nil, nil)
	src := stream.NewMemorySource("m1", encoded(t, sample()))

	h, err := p.ReadHeader(src)
	require.NoError(t, err)
	m, err := p.ReadModel(h, src)
	require.NoError(t, err)
	require.Len(t, m.Roots, 1)
	assert.Equal(t, "Foo", m.Roots[0].Concept)

	_, err = p.ReadModel(model.NewHeader(identity("M2")), src)
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), "intended to read model"))
}

func TestIndexReportsTargets(t *testing.T) {
	p := New(nil, nil, nil)
	c := &collector{}

	h, err := p.Index(bytes.NewReader(encoded(t, sample())), c)
	require.NoError(t, err)
	assert.Equal(t, "M1", h.Identity.Name)
	assert.Equal(t, []model.NodeID{model.RegularNodeID(1)}, c.local)
	assert.Equal(t, []model.NodeID{model.RegularNodeID(9)}, c.external)
}

func TestIndexMalformed(t *testing.T) {
	p := New(nil, nil, nil)
	data := encoded(t, sample())
	_, err := p.Index(bytes.NewReader(data[:len(data)-3]), &collector{})
	assert.ErrorIs(t, err, model.ErrMalformedStream)
}

func TestDigestMapAddsFileKey(t *testing.T) {
	p := New(nil, nil, nil)
	data := encoded(t, sample())
	digests, err := p.DigestMap(stream.NewMemorySource("m1", data))
	require.NoError(t, err)

	file, err := stream.HashBytes(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, file, digests[stream.DigestFile])
	assert.Contains(t, digests, stream.DigestHeader)
	assert.Contains(t, digests, "1")
	assert.Len(t, digests, 3)
}
