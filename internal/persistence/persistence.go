// Package persistence saves and loads models over a stream source and
// mirrors saved models into the graph store.
package persistence

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/systemshift/modelgraph/internal/executor"
	"github.com/systemshift/modelgraph/internal/model"
	"github.com/systemshift/modelgraph/internal/observability"
	"github.com/systemshift/modelgraph/internal/serializer"
	"github.com/systemshift/modelgraph/internal/statement"
	"github.com/systemshift/modelgraph/internal/stream"
)

// IndexCallback receives the reference targets found by Index. Calls come
// in no particular order and may repeat a target.
type IndexCallback interface {
	ExternalNodeRef(id model.NodeID)
	LocalNodeRef(id model.NodeID)
}

// Option configures a Persistence
type Option func(*Persistence)

// WithResetOnSave controls whether Save clears the graph store first
func WithResetOnSave(reset bool) Option {
	return func(p *Persistence) { p.resetOnSave = reset }
}

// WithStoreRoot places every loaded or saved model in root, overriding the
// root a source reports for itself
func WithStoreRoot(root string) Option {
	return func(p *Persistence) { p.storeRoot = root }
}

// Registrar records which store a model lives in. *model.Registry
// implements it.
type Registrar interface {
	Register(id model.ModelIdentity, store string)
}

// rootedSource is a source that knows its store, like stream.FileSource
type rootedSource interface {
	StoreRoot() string
}

// Persistence is the entry point for model I/O
type Persistence struct {
	exec        *executor.Executor
	locator     model.StoreLocator
	logger      *zap.Logger
	resetOnSave bool
	storeRoot   string
}

// New creates a Persistence. exec may be nil, in which case Save only
// writes the stream. When locator is also a Registrar, loaded and saved
// models are registered in it under their store root.
func New(exec *executor.Executor, locator model.StoreLocator, logger *zap.Logger, opts ...Option) *Persistence {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Persistence{exec: exec, locator: locator, logger: logger, resetOnSave: true}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ReadHeader reads only the header of the stream in src
func (p *Persistence) ReadHeader(src stream.Source) (*model.Header, error) {
	rc, err := src.OpenReader()
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", src.Location(), err)
	}
	defer rc.Close()

	h, err := stream.DecodeHeader(rc)
	if err != nil {
		return nil, fmt.Errorf("reading header of %s: %w", src.Location(), err)
	}
	return h, nil
}

// ReadModel loads the model that header announces from src. It fails if
// the stream holds a different model.
func (p *Persistence) ReadModel(header *model.Header, src stream.Source) (*model.Model, error) {
	rc, err := src.OpenReader()
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", src.Location(), err)
	}
	defer rc.Close()

	m, err := stream.ReadModel(rc)
	if err != nil {
		return nil, fmt.Errorf("reading model from %s: %w", src.Location(), err)
	}
	if header != nil && !header.Identity.SameModel(m.Identity()) {
		return nil, fmt.Errorf("intended to read model %s, actually read %s", header.Identity, m.Identity())
	}
	if m.Store = p.rootOf(src); m.Store != "" {
		p.register(m)
	}
	return m, nil
}

// rootOf returns the store a model at src lives in, or "" if unknown
func (p *Persistence) rootOf(src stream.Source) string {
	if p.storeRoot != "" {
		return p.storeRoot
	}
	if r, ok := src.(rootedSource); ok {
		return r.StoreRoot()
	}
	return ""
}

func (p *Persistence) register(m *model.Model) {
	if reg, ok := p.locator.(Registrar); ok {
		reg.Register(m.Identity(), m.Store)
	}
}

// Save writes m to src and, when an executor is configured, submits the
// model's statements to the graph store. The returned batch reports the
// outcome of the graph write; it is nil when no executor is configured.
func (p *Persistence) Save(ctx context.Context, m *model.Model, src stream.Source) (*executor.Batch, error) {
	if src.ReadOnly() {
		return nil, fmt.Errorf("saving %s to %s: %w", m.Identity(), src.Location(), model.ErrReadOnlyTarget)
	}

	if root := p.rootOf(src); root != "" {
		m.Store = root
	}

	// encode both forms before touching the target so a bad tree leaves it intact
	var buf bytes.Buffer
	if err := stream.EncodeModel(&buf, m); err != nil {
		return nil, fmt.Errorf("encoding %s: %w", m.Identity(), err)
	}
	var stmts []statement.Statement
	if p.exec != nil {
		var err error
		if stmts, err = serializer.SerializeModel(m, p.locator); err != nil {
			return nil, err
		}
	}

	if err := writeAll(src, &buf); err != nil {
		return nil, err
	}
	if m.Store != "" {
		p.register(m)
	}
	nodes := 0
	m.Walk(func(*model.Node) { nodes++ })
	p.logger.Info("Model written",
		zap.String("model", m.Identity().String()),
		zap.String("location", src.Location()),
		zap.Int("nodes", nodes))

	if p.exec == nil {
		return nil, nil
	}
	if p.resetOnSave {
		if err := p.exec.ResetStore(ctx); err != nil {
			return nil, err
		}
	}
	if err := p.exec.EnsureConstraints(ctx); err != nil {
		return nil, err
	}

	batch := p.exec.Execute(ctx, stmts)
	observability.ModelsSaved.Inc()
	p.logger.Info("Model submitted to graph store",
		zap.String("model", m.Identity().String()),
		zap.Int("nodes_phase", len(batch.Nodes.Statements())),
		zap.Int("references_phase", len(batch.References.Statements())))
	return batch, nil
}

func writeAll(src stream.Source, data io.Reader) error {
	wc, err := src.OpenWriter()
	if err != nil {
		return fmt.Errorf("opening %s for writing: %w", src.Location(), err)
	}
	if _, err := io.Copy(wc, data); err != nil {
		wc.Close()
		return fmt.Errorf("writing %s: %w", src.Location(), err)
	}
	if err := wc.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", src.Location(), err)
	}
	return nil
}

// Index reads a complete stream from r and reports every reference target
// to cb without building the tree. It returns the header it read.
func (p *Persistence) Index(r io.Reader, cb IndexCallback) (*model.Header, error) {
	sr := stream.NewReader(r)
	h, err := stream.ReadHeader(sr)
	if err != nil {
		return nil, err
	}

	local, external := stream.NodeSet{}, stream.NodeSet{}
	sc := stream.NewScanner(sr, h.Identity)
	sc.CollectLocalTargets(local)
	sc.CollectExternalTargets(external)
	if err := sc.ReadChildren(nil); err != nil {
		return nil, err
	}

	for id := range external {
		cb.ExternalNodeRef(id)
	}
	for id := range local {
		cb.LocalNodeRef(id)
	}
	observability.StreamsIndexed.Inc()
	p.logger.Debug("Stream indexed",
		zap.String("model", h.Identity.String()),
		zap.Int("nodes", sc.NodeCount()),
		zap.Int("local", len(local)),
		zap.Int("external", len(external)))
	return h, nil
}

// DigestMap loads the model in src and returns its root digests plus the
// digest of the raw bytes under stream.DigestFile.
func (p *Persistence) DigestMap(src stream.Source) (map[string]string, error) {
	rc, err := src.OpenReader()
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", src.Location(), err)
	}
	defer rc.Close()

	raw, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", src.Location(), err)
	}
	m, err := stream.ReadModel(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("reading model from %s: %w", src.Location(), err)
	}
	digests, err := stream.DigestMap(m)
	if err != nil {
		return nil, err
	}
	digests[stream.DigestFile], err = stream.HashBytes(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	return digests, nil
}
