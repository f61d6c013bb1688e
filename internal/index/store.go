// Package index keeps a SQLite table of the node ids each model stream
// refers to, filled by the reference scanner.
package index

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/systemshift/modelgraph/internal/model"
)

// Kind of a recorded reference target
type Kind string

const (
	KindLocal    Kind = "local"
	KindExternal Kind = "external"
)

// Store is a SQLite-backed reference index
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// Open opens or creates the index database at path
func Open(ctx context.Context, path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}
	// one writer; WAL lets readers proceed
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to sqlite: %w", err)
	}

	for _, pragma := range allPragmas() {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting pragma: %w", err)
		}
	}
	for _, stmt := range allSchemaStatements() {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("creating schema: %w", err)
		}
	}

	logger.Info("Reference index opened", zap.String("path", path))
	return &Store{db: db, logger: logger}, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// Replace swaps every row recorded for modelID for the given targets in
// one transaction.
func (s *Store) Replace(ctx context.Context, modelID string, local, external []model.NodeID) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM refs WHERE model_id = ?`, modelID); err != nil {
		return fmt.Errorf("clearing model %s: %w", modelID, err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO refs (model_id, node_id, kind, indexed_at) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	insert := func(ids []model.NodeID, kind Kind) error {
		for _, id := range ids {
			if _, err := stmt.ExecContext(ctx, modelID, id.String(), string(kind), now); err != nil {
				return fmt.Errorf("inserting %s ref %s: %w", kind, id, err)
			}
		}
		return nil
	}
	if err := insert(local, KindLocal); err != nil {
		return err
	}
	if err := insert(external, KindExternal); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	s.logger.Debug("Indexed model",
		zap.String("model", modelID),
		zap.Int("local", len(local)),
		zap.Int("external", len(external)))
	return nil
}

// Referrers lists the models that refer to nodeID from outside, sorted
func (s *Store) Referrers(ctx context.Context, nodeID model.NodeID) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT model_id FROM refs WHERE node_id = ? AND kind = ?`,
		nodeID.String(), string(KindExternal))
	if err != nil {
		return nil, fmt.Errorf("querying referrers: %w", err)
	}
	defer rows.Close()

	var models []string
	for rows.Next() {
		var m string
		if err := rows.Scan(&m); err != nil {
			return nil, fmt.Errorf("scanning referrer: %w", err)
		}
		models = append(models, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.Strings(models)
	return models, nil
}

// Has reports whether modelID was recorded with nodeID as a target of kind
func (s *Store) Has(ctx context.Context, modelID string, nodeID model.NodeID, kind Kind) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM refs WHERE model_id = ? AND node_id = ? AND kind = ?`,
		modelID, nodeID.String(), string(kind)).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("querying ref: %w", err)
	}
	return n > 0, nil
}

// Recorder collects targets reported by a scan and writes them with Flush.
// Its methods match persistence.IndexCallback.
type Recorder struct {
	store    *Store
	local    []model.NodeID
	external []model.NodeID
}

// Recorder returns an empty recorder
func (s *Store) Recorder() *Recorder {
	return &Recorder{store: s}
}

// LocalNodeRef records a target inside the scanned model
func (r *Recorder) LocalNodeRef(id model.NodeID) { r.local = append(r.local, id) }

// ExternalNodeRef records a target in another model
func (r *Recorder) ExternalNodeRef(id model.NodeID) { r.external = append(r.external, id) }

// Local returns the recorded local targets
func (r *Recorder) Local() []model.NodeID { return r.local }

// External returns the recorded external targets
func (r *Recorder) External() []model.NodeID { return r.external }

// Flush replaces the rows of modelID with what was recorded. The model id
// is usually only known once the scanned header has been read.
func (r *Recorder) Flush(ctx context.Context, modelID string) error {
	return r.store.Replace(ctx, modelID, r.local, r.external)
}
