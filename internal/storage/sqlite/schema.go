package sqlite

// Timestamps are stored as RFC 3339 text with fixed-width nanoseconds so they
// round-trip exactly and sort lexically.
const schema = `
-- Processed documents handed to discovery
CREATE TABLE IF NOT EXISTS documents (
    id TEXT PRIMARY KEY,
    scope TEXT NOT NULL,
    batch_id TEXT NOT NULL DEFAULT '',
    title TEXT NOT NULL DEFAULT '',
    summary TEXT NOT NULL DEFAULT '',
    doc_date TEXT,
    uploaded_at TEXT NOT NULL,
    processed INTEGER NOT NULL DEFAULT 1,
    uncertainty_signals INTEGER NOT NULL DEFAULT 0 CHECK(uncertainty_signals >= 0),
    systematic_signals INTEGER NOT NULL DEFAULT 0 CHECK(systematic_signals >= 0),
    failure_signals INTEGER NOT NULL DEFAULT 0 CHECK(failure_signals >= 0),
    advancement_signals INTEGER NOT NULL DEFAULT 0 CHECK(advancement_signals >= 0),
    team_members TEXT NOT NULL DEFAULT '[]',
    project_hints TEXT NOT NULL DEFAULT '[]'
);

CREATE INDEX IF NOT EXISTS idx_documents_scope ON documents(scope, processed);
CREATE INDEX IF NOT EXISTS idx_documents_batch ON documents(scope, batch_id);

-- Chunk embeddings as little-endian float32 blobs
CREATE TABLE IF NOT EXISTS chunk_embeddings (
    document_id TEXT NOT NULL,
    chunk_index INTEGER NOT NULL,
    vector BLOB NOT NULL,
    PRIMARY KEY (document_id, chunk_index),
    FOREIGN KEY (document_id) REFERENCES documents(id) ON DELETE CASCADE
);

-- Discovery run audit records
CREATE TABLE IF NOT EXISTS discovery_runs (
    id TEXT PRIMARY KEY,
    scope TEXT NOT NULL,
    status TEXT NOT NULL CHECK(status IN ('pending', 'running', 'completed', 'failed')),
    started_at TEXT NOT NULL,
    completed_at TEXT,
    documents_analyzed INTEGER NOT NULL DEFAULT 0,
    high_count INTEGER NOT NULL DEFAULT 0,
    medium_count INTEGER NOT NULL DEFAULT 0,
    low_count INTEGER NOT NULL DEFAULT 0,
    noise_count INTEGER NOT NULL DEFAULT 0,
    degraded INTEGER NOT NULL DEFAULT 0,
    degraded_reason TEXT NOT NULL DEFAULT '',
    duration_ms INTEGER NOT NULL DEFAULT 0,
    error TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_discovery_runs_scope ON discovery_runs(scope, started_at);

-- Candidate projects produced by discovery runs
CREATE TABLE IF NOT EXISTS projects (
    id TEXT PRIMARY KEY,
    run_id TEXT NOT NULL,
    scope TEXT NOT NULL,
    name TEXT NOT NULL,
    name_source TEXT NOT NULL DEFAULT '',
    summary TEXT NOT NULL DEFAULT '',
    tier TEXT NOT NULL CHECK(tier IN ('high', 'medium', 'low')),
    confidence REAL NOT NULL CHECK(confidence >= 0 AND confidence <= 1),
    eligibility REAL NOT NULL CHECK(eligibility >= 0 AND eligibility <= 1),
    start_date TEXT NOT NULL,
    end_date TEXT NOT NULL,
    team_members TEXT NOT NULL DEFAULT '[]',
    created_at TEXT NOT NULL,
    FOREIGN KEY (run_id) REFERENCES discovery_runs(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_projects_scope ON projects(scope);

-- Membership of documents in projects
CREATE TABLE IF NOT EXISTS document_project_tags (
    document_id TEXT NOT NULL,
    project_id TEXT NOT NULL,
    PRIMARY KEY (document_id, project_id),
    FOREIGN KEY (project_id) REFERENCES projects(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_tags_project ON document_project_tags(project_id);
`
