package sessionstore

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
    id TEXT PRIMARY KEY,
    pipeline_id TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'created',
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    expires_at TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status);
CREATE INDEX IF NOT EXISTS idx_sessions_pipeline ON sessions(pipeline_id);

CREATE TABLE IF NOT EXISTS errors (
    id TEXT PRIMARY KEY,
    session_id TEXT NOT NULL REFERENCES sessions(id),
    category TEXT NOT NULL,
    severity TEXT NOT NULL,
    message TEXT NOT NULL,
    raw_log_excerpt TEXT,
    location_file TEXT,
    location_line INTEGER,
    confidence REAL NOT NULL,
    auto_fixable BOOLEAN NOT NULL DEFAULT FALSE,
    source TEXT NOT NULL,
    detected_at TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_errors_session ON errors(session_id);

CREATE TABLE IF NOT EXISTS patches (
    id TEXT PRIMARY KEY,
    error_id TEXT NOT NULL REFERENCES errors(id),
    session_id TEXT NOT NULL REFERENCES sessions(id),
    type TEXT NOT NULL,
    description TEXT,
    diff TEXT NOT NULL,
    confidence REAL NOT NULL DEFAULT 0,
    is_reversible BOOLEAN NOT NULL DEFAULT FALSE,
    applied BOOLEAN NOT NULL DEFAULT FALSE,
    success BOOLEAN,
    applied_at TIMESTAMP,
    rollback_token TEXT,
    rejected TEXT
);

CREATE INDEX IF NOT EXISTS idx_patches_session ON patches(session_id);
CREATE INDEX IF NOT EXISTS idx_patches_error ON patches(error_id);

CREATE TABLE IF NOT EXISTS rollbacks (
    id TEXT PRIMARY KEY,
    patch_id TEXT NOT NULL REFERENCES patches(id),
    status TEXT NOT NULL,
    snapshot_ref TEXT,
    completed_at TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_rollbacks_patch ON rollbacks(patch_id);

CREATE TABLE IF NOT EXISTS timeline (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT NOT NULL REFERENCES sessions(id),
    event_type TEXT NOT NULL,
    payload TEXT,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_timeline_session ON timeline(session_id);
`
