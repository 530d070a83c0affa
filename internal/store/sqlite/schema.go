package sqlite

// schemaSQL creates the operational tables. The two UNIQUE constraints are
// load-bearing: identity_links prevents two profiles from claiming the same
// fragment, events makes ingestion idempotent per dedupe key.
const schemaSQL = `
CREATE TABLE IF NOT EXISTS tenants (
	id                  TEXT PRIMARY KEY,
	name                TEXT NOT NULL,
	webhook_secret      TEXT NOT NULL DEFAULT '',
	default_credentials TEXT NOT NULL DEFAULT '{}',
	created_at          TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS api_keys (
	key          TEXT PRIMARY KEY,
	tenant_id    TEXT NOT NULL REFERENCES tenants(id),
	capabilities TEXT NOT NULL DEFAULT '[]',
	revoked_at   TIMESTAMP,
	created_at   TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS profiles (
	id            TEXT PRIMARY KEY,
	tenant_id     TEXT NOT NULL,
	primary_email TEXT NOT NULL DEFAULT '',
	emails        TEXT NOT NULL DEFAULT '[]',
	phone         TEXT NOT NULL DEFAULT '',
	customer_ids  TEXT NOT NULL DEFAULT '[]',
	anonymous_ids TEXT NOT NULL DEFAULT '[]',
	traits        TEXT NOT NULL DEFAULT '{}',
	computed      TEXT NOT NULL DEFAULT '{}',
	first_seen_at TIMESTAMP NOT NULL,
	last_seen_at  TIMESTAMP NOT NULL,
	merged_into   TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_profiles_tenant_last_seen
	ON profiles(tenant_id, last_seen_at);

CREATE TABLE IF NOT EXISTS identity_links (
	tenant_id      TEXT NOT NULL,
	fragment_type  TEXT NOT NULL,
	fragment_value TEXT NOT NULL,
	profile_id     TEXT NOT NULL,
	source         TEXT NOT NULL DEFAULT '',
	confidence     REAL NOT NULL DEFAULT 1.0,
	created_at     TIMESTAMP NOT NULL,
	UNIQUE(tenant_id, fragment_type, fragment_value)
);
CREATE INDEX IF NOT EXISTS idx_identity_links_profile
	ON identity_links(profile_id);

CREATE TABLE IF NOT EXISTS events (
	id           TEXT PRIMARY KEY,
	tenant_id    TEXT NOT NULL,
	profile_id   TEXT NOT NULL DEFAULT '',
	event_type   TEXT NOT NULL,
	event_name   TEXT NOT NULL,
	properties   TEXT NOT NULL DEFAULT '{}',
	context      TEXT NOT NULL DEFAULT '{}',
	anonymous_id TEXT NOT NULL DEFAULT '',
	session_id   TEXT NOT NULL DEFAULT '',
	source       TEXT NOT NULL,
	status       TEXT NOT NULL,
	dedupe_key   TEXT NOT NULL,
	event_time   TIMESTAMP NOT NULL,
	processed_at TIMESTAMP NOT NULL,
	UNIQUE(tenant_id, dedupe_key)
);
CREATE INDEX IF NOT EXISTS idx_events_orphans
	ON events(tenant_id, anonymous_id) WHERE profile_id = '';

CREATE TABLE IF NOT EXISTS sync_jobs (
	id             TEXT PRIMARY KEY,
	tenant_id      TEXT NOT NULL,
	destination_id TEXT NOT NULL,
	profile_id     TEXT NOT NULL DEFAULT '',
	event_id       TEXT NOT NULL DEFAULT '',
	job_type       TEXT NOT NULL,
	status         TEXT NOT NULL,
	attempts       INTEGER NOT NULL DEFAULT 0,
	scheduled_at   TIMESTAMP NOT NULL,
	last_error     TEXT NOT NULL DEFAULT '',
	payload        TEXT NOT NULL DEFAULT '{}',
	created_at     TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sync_jobs_due
	ON sync_jobs(status, scheduled_at);

CREATE TABLE IF NOT EXISTS predictive_signals (
	tenant_id           TEXT NOT NULL,
	profile_id          TEXT NOT NULL,
	signal_type         TEXT NOT NULL,
	confidence          INTEGER NOT NULL,
	payload             TEXT NOT NULL DEFAULT '{}',
	should_trigger_flow INTEGER NOT NULL DEFAULT 0,
	flow_triggered_at   TIMESTAMP,
	expires_at          TIMESTAMP NOT NULL,
	created_at          TIMESTAMP NOT NULL,
	UNIQUE(tenant_id, profile_id, signal_type)
);
CREATE INDEX IF NOT EXISTS idx_predictive_signals_expiry
	ON predictive_signals(expires_at);

CREATE TABLE IF NOT EXISTS destinations (
	id          TEXT PRIMARY KEY,
	tenant_id   TEXT NOT NULL REFERENCES tenants(id),
	kind        TEXT NOT NULL,
	name        TEXT NOT NULL,
	enabled     INTEGER NOT NULL DEFAULT 1,
	credentials TEXT NOT NULL DEFAULT '{}',
	last_error  TEXT NOT NULL DEFAULT '',
	updated_at  TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_destinations_tenant
	ON destinations(tenant_id, enabled);

CREATE TABLE IF NOT EXISTS usage_counters (
	tenant_id    TEXT NOT NULL,
	period       TEXT NOT NULL,
	events_count INTEGER NOT NULL DEFAULT 0,
	UNIQUE(tenant_id, period)
);
`
