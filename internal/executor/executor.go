// Package executor runs statement batches against a transactional graph
// backend on a single ordered worker.
package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/systemshift/modelgraph/internal/observability"
	"github.com/systemshift/modelgraph/internal/statement"
)

// ErrExecutorClosed is reported for submissions after Close
var ErrExecutorClosed = errors.New("executor closed")

// Backend is a transactional graph store
type Backend interface {
	// ExecuteWrite runs all statements in one transaction. Either every
	// statement is committed or none is.
	ExecuteWrite(ctx context.Context, stmts []statement.Cypher) error
	// Query runs a read statement and returns its rows
	Query(ctx context.Context, q statement.Cypher) ([]map[string]any, error)
}

// Phase names
const (
	PhaseNodes      = "nodes"
	PhaseReferences = "references"
	PhaseReset      = "reset"
	PhaseSchema     = "schema"
)

const (
	resetQuery      = "MATCH (n) DETACH DELETE n"
	constraintQuery = "CREATE CONSTRAINT snode_id IF NOT EXISTS FOR (n:" + statement.LabelNode + ") REQUIRE n." + statement.KeyNodeID + " IS UNIQUE"
)

// Phase is the handle of one submitted transaction
type Phase struct {
	name  string
	stmts []statement.Statement
	done  chan struct{}
	err   error
}

func newPhase(name string, stmts []statement.Statement) *Phase {
	return &Phase{name: name, stmts: stmts, done: make(chan struct{})}
}

func (p *Phase) finish(err error) {
	p.err = err
	close(p.done)
}

// Name returns the phase name
func (p *Phase) Name() string { return p.name }

// Statements returns the statements of the phase in submission order
func (p *Phase) Statements() []statement.Statement { return p.stmts }

// Done is closed once the phase committed or failed
func (p *Phase) Done() <-chan struct{} { return p.done }

// Err returns the phase outcome. Only meaningful after Done is closed.
func (p *Phase) Err() error {
	select {
	case <-p.done:
		return p.err
	default:
		return nil
	}
}

// Wait blocks until the phase finished or ctx is done
func (p *Phase) Wait(ctx context.Context) error {
	select {
	case <-p.done:
		return p.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Batch holds the two phases of one Execute call
type Batch struct {
	Nodes      *Phase // Statements that create nodes or link nodes created before them
	References *Phase // Statements that need the nodes phase to have committed
}

// Wait blocks until both phases finished and joins their errors
func (b *Batch) Wait(ctx context.Context) error {
	return errors.Join(b.Nodes.Wait(ctx), b.References.Wait(ctx))
}

type job struct {
	ctx   context.Context
	phase *Phase
	run   func(ctx context.Context) error
}

// Option configures an Executor
type Option func(*Executor)

// WithQueueSize sets how many submissions may wait before Execute blocks
func WithQueueSize(n int) Option {
	return func(e *Executor) {
		if n > 0 {
			e.queueSize = n
		}
	}
}

// Executor owns one worker goroutine that runs submissions strictly in
// the order they were made.
type Executor struct {
	backend   Backend
	logger    *zap.Logger
	queueSize int
	queue     chan *job

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// New creates an executor and starts its worker
func New(backend Backend, logger *zap.Logger, opts ...Option) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Executor{
		backend:   backend,
		logger:    logger,
		queueSize: 256,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.queue = make(chan *job, e.queueSize)

	e.wg.Add(1)
	go e.run()
	return e
}

// Close stops accepting submissions, lets the queued ones finish and
// stops the worker.
func (e *Executor) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	close(e.queue)
	e.mu.Unlock()

	e.wg.Wait()
	e.logger.Info("Executor stopped")
}

func (e *Executor) run() {
	defer e.wg.Done()
	for j := range e.queue {
		observability.QueueDepth.Dec()
		start := time.Now()
		err := j.run(j.ctx)
		observability.PhaseDuration.WithLabelValues(j.phase.name).Observe(time.Since(start).Seconds())
		if err != nil {
			observability.PhaseFailures.WithLabelValues(j.phase.name).Inc()
			e.logger.Error("Phase failed",
				zap.String("phase", j.phase.name),
				zap.Int("statements", len(j.phase.stmts)),
				zap.Error(err))
		} else {
			observability.StatementsExecuted.WithLabelValues(j.phase.name).Add(float64(len(j.phase.stmts)))
			e.logger.Debug("Phase committed",
				zap.String("phase", j.phase.name),
				zap.Int("statements", len(j.phase.stmts)),
				zap.Duration("took", time.Since(start)))
		}
		j.phase.finish(err)
	}
}

// submit enqueues jobs back to back so no other submitter can interleave
func (e *Executor) submit(jobs ...*job) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, j := range jobs {
		if e.closed {
			j.phase.finish(ErrExecutorClosed)
			continue
		}
		observability.QueueDepth.Inc()
		e.queue <- j
	}
}

// Partition splits statements into those that can run first and those that
// need the first group committed. Relative order is kept in both.
func Partition(stmts []statement.Statement) (nodes, refs []statement.Statement) {
	for _, s := range stmts {
		if s.NeedsNodes() {
			refs = append(refs, s)
		} else {
			nodes = append(nodes, s)
		}
	}
	return nodes, refs
}

func (e *Executor) writeJob(ctx context.Context, p *Phase) *job {
	return &job{
		ctx:   context.WithoutCancel(ctx),
		phase: p,
		run: func(ctx context.Context) error {
			cyphers := make([]statement.Cypher, len(p.stmts))
			for i, s := range p.stmts {
				cyphers[i] = s.Cypher()
			}
			if err := e.backend.ExecuteWrite(ctx, cyphers); err != nil {
				return fmt.Errorf("%s phase: %w", p.name, err)
			}
			return nil
		},
	}
}

// Execute submits the batch as two transactions and returns immediately.
// The nodes phase always runs to completion before the references phase
// starts. A failed phase is rolled back on its own; the other phase is
// not affected and nothing is retried.
func (e *Executor) Execute(ctx context.Context, stmts []statement.Statement) *Batch {
	nodes, refs := Partition(stmts)
	b := &Batch{
		Nodes:      newPhase(PhaseNodes, nodes),
		References: newPhase(PhaseReferences, refs),
	}

	var jobs []*job
	for _, p := range []*Phase{b.Nodes, b.References} {
		if len(p.stmts) == 0 {
			p.finish(nil)
			continue
		}
		jobs = append(jobs, e.writeJob(ctx, p))
	}
	e.submit(jobs...)
	return b
}

// runSync submits a single statement through the queue and waits for it
func (e *Executor) runSync(ctx context.Context, name, query string) error {
	p := newPhase(name, nil)
	e.submit(&job{
		ctx:   context.WithoutCancel(ctx),
		phase: p,
		run: func(ctx context.Context) error {
			return e.backend.ExecuteWrite(ctx, []statement.Cypher{{Query: query}})
		},
	})
	if err := p.Wait(ctx); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

// ResetStore deletes every node and relationship. It blocks until done,
// so statements submitted afterwards see an empty store.
func (e *Executor) ResetStore(ctx context.Context) error {
	e.logger.Info("Resetting graph store")
	return e.runSync(ctx, PhaseReset, resetQuery)
}

// EnsureConstraints creates the node identity uniqueness constraint
func (e *Executor) EnsureConstraints(ctx context.Context) error {
	return e.runSync(ctx, PhaseSchema, constraintQuery)
}

// Query runs a read statement directly on the backend
func (e *Executor) Query(ctx context.Context, q statement.Cypher) ([]map[string]any, error) {
	return e.backend.Query(ctx, q)
}
