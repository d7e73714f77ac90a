package store

// SchemaVersion is the version written by a fresh install. Older databases
// are upgraded by the ordered migration list below.
const SchemaVersion = 2

// Schema contains the complete DDL for the netmonitor tables. All statements
// are idempotent; timestamps are UTC unix seconds.
const Schema = `
CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER NOT NULL
);

-- Applications: interned process identities
CREATE TABLE IF NOT EXISTS applications (
    app_id       INTEGER PRIMARY KEY AUTOINCREMENT,
    process_name TEXT NOT NULL,
    bundle_id    TEXT NOT NULL DEFAULT '',
    first_seen   INTEGER NOT NULL,
    last_seen    INTEGER NOT NULL,
    UNIQUE(process_name, bundle_id)
);

-- Domains: interned fqdns with their derived parent domain
CREATE TABLE IF NOT EXISTS domains (
    domain_id     INTEGER PRIMARY KEY AUTOINCREMENT,
    fqdn          TEXT NOT NULL UNIQUE,
    parent_domain TEXT NOT NULL,
    first_seen    INTEGER NOT NULL,
    last_seen     INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_domains_parent ON domains(parent_domain);

-- Raw per-process samples; ts is the end of the sampling interval and the
-- byte fields are deltas for that interval, never cumulative counters.
CREATE TABLE IF NOT EXISTS network_samples (
    ts                 INTEGER NOT NULL,
    app_id             INTEGER NOT NULL REFERENCES applications(app_id),
    bytes_out          INTEGER NOT NULL DEFAULT 0,
    bytes_in           INTEGER NOT NULL DEFAULT 0,
    packets_out        INTEGER NOT NULL DEFAULT 0,
    packets_in         INTEGER NOT NULL DEFAULT 0,
    active_connections INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (ts, app_id)
);
CREATE INDEX IF NOT EXISTS idx_samples_ts ON network_samples(ts);

-- Active-tab observations from the browser agent. Byte columns exist for
-- schema symmetry with network_samples and are always written as zero.
CREATE TABLE IF NOT EXISTS browser_domain_samples (
    ts        INTEGER NOT NULL,
    domain_id INTEGER NOT NULL REFERENCES domains(domain_id),
    app_id    INTEGER NOT NULL REFERENCES applications(app_id),
    bytes_out INTEGER NOT NULL DEFAULT 0,
    bytes_in  INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (ts, domain_id, app_id)
);
CREATE INDEX IF NOT EXISTS idx_browser_samples_ts ON browser_domain_samples(ts);

CREATE TABLE IF NOT EXISTS hourly_aggregates (
    hour_start             INTEGER NOT NULL,
    app_id                 INTEGER NOT NULL,
    bytes_out              INTEGER NOT NULL DEFAULT 0,
    bytes_in               INTEGER NOT NULL DEFAULT 0,
    packets_out            INTEGER NOT NULL DEFAULT 0,
    packets_in             INTEGER NOT NULL DEFAULT 0,
    max_active_connections INTEGER NOT NULL DEFAULT 0,
    sample_count           INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (hour_start, app_id)
);

CREATE TABLE IF NOT EXISTS daily_aggregates (
    day_start              INTEGER NOT NULL,
    app_id                 INTEGER NOT NULL,
    bytes_out              INTEGER NOT NULL DEFAULT 0,
    bytes_in               INTEGER NOT NULL DEFAULT 0,
    packets_out            INTEGER NOT NULL DEFAULT 0,
    packets_in             INTEGER NOT NULL DEFAULT 0,
    max_active_connections INTEGER NOT NULL DEFAULT 0,
    sample_count           INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (day_start, app_id)
);

CREATE TABLE IF NOT EXISTS browser_domain_hourly (
    hour_start   INTEGER NOT NULL,
    domain_id    INTEGER NOT NULL,
    app_id       INTEGER NOT NULL,
    bytes_out    INTEGER NOT NULL DEFAULT 0,
    bytes_in     INTEGER NOT NULL DEFAULT 0,
    sample_count INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (hour_start, domain_id, app_id)
);

CREATE TABLE IF NOT EXISTS browser_domain_daily (
    day_start    INTEGER NOT NULL,
    domain_id    INTEGER NOT NULL,
    app_id       INTEGER NOT NULL,
    bytes_out    INTEGER NOT NULL DEFAULT 0,
    bytes_in     INTEGER NOT NULL DEFAULT 0,
    sample_count INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (day_start, domain_id, app_id)
);

-- Runtime key/value configuration
CREATE TABLE IF NOT EXISTS config (
    key        TEXT PRIMARY KEY,
    value      TEXT NOT NULL,
    updated_at INTEGER NOT NULL
);

-- Audit log written by aggregation and retention
CREATE TABLE IF NOT EXISTS retention_log (
    log_id           INTEGER PRIMARY KEY AUTOINCREMENT,
    operation        TEXT NOT NULL,
    ts               INTEGER NOT NULL,
    records_affected INTEGER NOT NULL DEFAULT 0,
    details          TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_retention_log_ts ON retention_log(ts DESC);

-- Supervisor liveness probes (feeds /health)
CREATE TABLE IF NOT EXISTS heartbeats (
    worker_name  TEXT NOT NULL,
    pid          INTEGER NOT NULL,
    ts           INTEGER NOT NULL,
    goroutines   INTEGER NOT NULL DEFAULT 0,
    mem_alloc_mb REAL NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_heartbeats_name_ts ON heartbeats(worker_name, ts DESC);
`

type migration struct {
	version int
	sql     string
}

// migrations upgrade databases created before the current schema. Each entry
// brings the schema to its version; the list is applied in order inside one
// transaction by Open.
var migrations = []migration{
	{
		// v2 introduced heartbeat persistence for the health endpoint.
		version: 2,
		sql: `
CREATE TABLE IF NOT EXISTS heartbeats (
    worker_name  TEXT NOT NULL,
    pid          INTEGER NOT NULL,
    ts           INTEGER NOT NULL,
    goroutines   INTEGER NOT NULL DEFAULT 0,
    mem_alloc_mb REAL NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_heartbeats_name_ts ON heartbeats(worker_name, ts DESC);
`,
	},
}
