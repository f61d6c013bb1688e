package index

// SQLite schema DDL constants

const schemaRefs = `
CREATE TABLE IF NOT EXISTS refs (
    model_id TEXT NOT NULL,
    node_id TEXT NOT NULL,
    kind TEXT NOT NULL,
    indexed_at DATETIME NOT NULL,
    PRIMARY KEY (model_id, node_id, kind)
)`

const indexRefsNode = `CREATE INDEX IF NOT EXISTS idx_refs_node ON refs(node_id, kind)`

// SQLite pragmas
const pragmaWAL = `PRAGMA journal_mode=WAL`
const pragmaBusyTimeout = `PRAGMA busy_timeout=5000`
const pragmaSynchronous = `PRAGMA synchronous=NORMAL`

func allSchemaStatements() []string {
	return []string{
		schemaRefs,
		indexRefsNode,
	}
}

func allPragmas() []string {
	return []string{
		pragmaWAL,
		pragmaBusyTimeout,
		pragmaSynchronous,
	}
}
