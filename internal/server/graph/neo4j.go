package graph

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"github.com/systemshift/modelgraph/internal/statement"
)

// Neo4j wraps a Bolt driver and implements executor.Backend
type Neo4j struct {
	driver   neo4j.DriverWithContext
	database string
	logger   *zap.Logger
}

// Config holds Neo4j connection configuration
type Config struct {
	URI      string
	Username string
	Password string
	Database string
}

func authFor(cfg Config) neo4j.AuthToken {
	if cfg.Password == "" {
		return neo4j.NoAuth()
	}
	return neo4j.BasicAuth(cfg.Username, cfg.Password, "")
}

// New connects to Neo4j and verifies the connection
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Neo4j, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	driver, err := neo4j.NewDriverWithContext(cfg.URI, authFor(cfg))
	if err != nil {
		return nil, fmt.Errorf("creating neo4j driver: %w", err)
	}

	// Verify connectivity
	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("connecting to neo4j: %w", err)
	}

	database := cfg.Database
	if database == "" {
		database = "neo4j"
	}
	logger.Info("Connected to Neo4j", zap.String("uri", cfg.URI), zap.String("database", database))
	return &Neo4j{driver: driver, database: database, logger: logger}, nil
}

// Close closes the Neo4j connection
func (r *Neo4j) Close(ctx context.Context) error {
	return r.driver.Close(ctx)
}

func (r *Neo4j) session(ctx context.Context, mode neo4j.AccessMode) neo4j.SessionWithContext {
	return r.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: r.database, AccessMode: mode})
}

// ExecuteWrite runs the statements in one explicit transaction. Any failure
// rolls the whole transaction back. The session is closed on every path.
func (r *Neo4j) ExecuteWrite(ctx context.Context, stmts []statement.Cypher) (err error) {
	session := r.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	tx, err := session.BeginTransaction(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Close(ctx)

	for i, s := range stmts {
		result, err := tx.Run(ctx, s.Query, s.Params)
		if err == nil {
			_, err = result.Consume(ctx)
		}
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				r.logger.Warn("Rollback failed", zap.Error(rbErr))
			}
			return fmt.Errorf("statement %d of %d: %w", i+1, len(stmts), err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// Query runs a read statement and returns every row as a map
func (r *Neo4j) Query(ctx context.Context, q statement.Cypher) ([]map[string]any, error) {
	session := r.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, q.Query, q.Params)
		if err != nil {
			return nil, err
		}

		var rows []map[string]any
		for result.Next(ctx) {
			record := result.Record()
			row := make(map[string]any, len(record.Keys))
			for i, key := range record.Keys {
				row[key] = convert(record.Values[i])
			}
			rows = append(rows, row)
		}
		return rows, result.Err()
	})
	if err != nil {
		return nil, err
	}
	rows, _ := result.([]map[string]any)
	return rows, nil
}

// convert flattens graph values into plain maps and lists
func convert(v any) any {
	switch val := v.(type) {
	case neo4j.Node:
		return val.Props
	case neo4j.Relationship:
		return val.Props
	case neo4j.Path:
		out := make([]any, 0, len(val.Nodes)+len(val.Relationships))
		for i, n := range val.Nodes {
			out = append(out, n.Props)
			if i < len(val.Relationships) {
				out = append(out, val.Relationships[i].Props)
			}
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = convert(e)
		}
		return out
	default:
		return v
	}
}
