package postgres

// migration is one ordered schema step. Steps are idempotent so Migrate
// can run on every start.
type migration struct {
	name string
	sql  string
}

var migrations = []migration{
	{
		name: "create_hookpipe_rules",
		sql: `
CREATE TABLE IF NOT EXISTS hookpipe_rules (
    id            TEXT PRIMARY KEY,
    tenant_id     TEXT NOT NULL DEFAULT '',
    name          TEXT NOT NULL DEFAULT '',
    event_type    TEXT NOT NULL,
    url           TEXT NOT NULL,
    method        TEXT NOT NULL DEFAULT 'POST',
    content_type  TEXT NOT NULL DEFAULT 'application/json',
    headers       JSONB NOT NULL DEFAULT '{}',
    auth          JSONB NOT NULL DEFAULT '{}',
    transform     JSONB NOT NULL DEFAULT '{}',
    mode          JSONB NOT NULL DEFAULT '{}',
    retry         JSONB NOT NULL DEFAULT '{}',
    secrets       JSONB NOT NULL DEFAULT '[]',
    schema        JSONB,
    rate_limit    JSONB,
    active        BOOLEAN NOT NULL DEFAULT TRUE,
    version       INT NOT NULL DEFAULT 1,
    created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_hookpipe_rules_match
    ON hookpipe_rules (tenant_id, event_type) WHERE active;
`,
	},
	{
		name: "create_hookpipe_events",
		sql: `
CREATE TABLE IF NOT EXISTS hookpipe_events (
    source_id   BIGSERIAL PRIMARY KEY,
    tenant_id   TEXT NOT NULL,
    event_type  TEXT NOT NULL,
    payload     JSONB NOT NULL DEFAULT '{}',
    occurred_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_hookpipe_events_tenant
    ON hookpipe_events (tenant_id, source_id);
`,
	},
	{
		name: "create_hookpipe_checkpoints",
		sql: `
CREATE TABLE IF NOT EXISTS hookpipe_checkpoints (
    worker_id         TEXT PRIMARY KEY,
    last_processed_id BIGINT NOT NULL DEFAULT 0,
    updated_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`,
	},
	{
		name: "create_hookpipe_dedup",
		sql: `
CREATE TABLE IF NOT EXISTS hookpipe_dedup (
    tenant_id  TEXT NOT NULL,
    source_id  BIGINT NOT NULL,
    expires_at TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (tenant_id, source_id)
);
`,
	},
	{
		name: "create_hookpipe_attempts",
		sql: `
CREATE TABLE IF NOT EXISTS hookpipe_attempts (
    id                  TEXT PRIMARY KEY,
    rule_id             TEXT NOT NULL,
    tenant_id           TEXT NOT NULL,
    event_type          TEXT NOT NULL DEFAULT '',
    source_id           BIGINT NOT NULL DEFAULT 0,
    schedule_id         TEXT NOT NULL DEFAULT '',
    message_id          TEXT NOT NULL,
    payload             JSONB,
    transformed_payload JSONB,
    request_headers     JSONB,
    status              TEXT NOT NULL DEFAULT 'pending',
    attempt_count       INT NOT NULL DEFAULT 0,
    max_attempts        INT NOT NULL DEFAULT 5,
    category            TEXT NOT NULL DEFAULT '',
    last_status_code    INT NOT NULL DEFAULT 0,
    last_error          TEXT NOT NULL DEFAULT '',
    last_response       TEXT NOT NULL DEFAULT '',
    last_latency_ms     INT NOT NULL DEFAULT 0,
    next_attempt_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    completed_at        TIMESTAMPTZ,
    created_at          TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at          TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_hookpipe_attempts_pairing
    ON hookpipe_attempts (rule_id, tenant_id, source_id) WHERE source_id <> 0;

CREATE INDEX IF NOT EXISTS idx_hookpipe_attempts_due
    ON hookpipe_attempts (next_attempt_at) WHERE status IN ('pending', 'retrying');
`,
	},
	{
		name: "create_hookpipe_dlq",
		sql: `
CREATE TABLE IF NOT EXISTS hookpipe_dlq (
    id               TEXT PRIMARY KEY,
    attempt_log_id   TEXT NOT NULL,
    rule_id          TEXT NOT NULL,
    tenant_id        TEXT NOT NULL,
    event_type       TEXT NOT NULL DEFAULT '',
    source_id        BIGINT NOT NULL DEFAULT 0,
    url              TEXT NOT NULL DEFAULT '',
    payload          JSONB,
    category         TEXT NOT NULL DEFAULT '',
    error            TEXT NOT NULL DEFAULT '',
    attempt_count    INT NOT NULL DEFAULT 0,
    last_status_code INT NOT NULL DEFAULT 0,
    replayed_at      TIMESTAMPTZ,
    failed_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_hookpipe_dlq_failed_at ON hookpipe_dlq (failed_at);
`,
	},
	{
		name: "create_hookpipe_schedules",
		sql: `
CREATE TABLE IF NOT EXISTS hookpipe_schedules (
    id              TEXT PRIMARY KEY,
    rule_id         TEXT NOT NULL,
    tenant_id       TEXT NOT NULL,
    event_type      TEXT NOT NULL DEFAULT '',
    source_id       BIGINT NOT NULL DEFAULT 0,
    payload         JSONB,
    transformed     BOOLEAN NOT NULL DEFAULT FALSE,
    scheduled_for   TIMESTAMPTZ NOT NULL,
    status          TEXT NOT NULL DEFAULT 'pending',
    spec            TEXT NOT NULL DEFAULT '',
    occurrence      INT NOT NULL DEFAULT 0,
    max_occurrences INT NOT NULL DEFAULT 0,
    created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_hookpipe_schedules_pairing
    ON hookpipe_schedules (rule_id, tenant_id, source_id) WHERE source_id <> 0;

CREATE INDEX IF NOT EXISTS idx_hookpipe_schedules_due
    ON hookpipe_schedules (scheduled_for) WHERE status = 'pending';
`,
	},
	{
		name: "create_hookpipe_lookup_tables",
		sql: `
CREATE TABLE IF NOT EXISTS hookpipe_lookup_tables (
    tenant_id     TEXT NOT NULL,
    name          TEXT NOT NULL,
    entries       JSONB NOT NULL DEFAULT '{}',
    on_unmapped   TEXT NOT NULL DEFAULT 'passthrough',
    default_value TEXT NOT NULL DEFAULT '',
    created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (tenant_id, name)
);
`,
	},
}
