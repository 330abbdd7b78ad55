// Package db provides SQLite-based storage for the suggestion policy engine.
package db

// SchemaVersion is the current supported schema version.
// The server will refuse to run if the DB schema version exceeds this.
const SchemaVersion = 1

// schemaV1 creates the policy engine schema.
//
// Tables:
//  1. user_settings        - Per-user override and rollout bucket
//  2. team_default_preset  - Per-role presets, "default" row is the fallback
//  3. suggestion_blocklist - Never-show-again values per user and category
//  4. visibility_state     - Throttle state per (user, surface)
//  5. suggestion_feedback  - Append-only accept/reject log
//  6. schema_migrations    - Migration version tracking
const schemaV1 = `
-- 1. User settings. mode/frequency/confidence_threshold are NULL unless
-- user_override = 1.
CREATE TABLE IF NOT EXISTS user_settings (
  user_id               TEXT PRIMARY KEY,
  mode                  TEXT,
  frequency             TEXT,
  confidence_threshold  REAL,
  user_override         INTEGER NOT NULL DEFAULT 0,
  rollout_source        TEXT NOT NULL,
  rollout_variant       TEXT NOT NULL,
  created_at_ms         INTEGER NOT NULL,
  updated_at_ms         INTEGER NOT NULL
);

-- 2. Team default presets
CREATE TABLE IF NOT EXISTS team_default_preset (
  role                  TEXT PRIMARY KEY,
  mode                  TEXT NOT NULL,
  frequency             TEXT NOT NULL,
  confidence_threshold  REAL NOT NULL,
  updated_at_ms         INTEGER NOT NULL,
  updated_by            TEXT
);

INSERT OR IGNORE INTO team_default_preset (role, mode, frequency, confidence_threshold, updated_at_ms, updated_by)
VALUES ('default', 'balanced', 'normal', 0.45, 0, 'migration');

-- 3. Blocklist (set semantics via primary key)
CREATE TABLE IF NOT EXISTS suggestion_blocklist (
  user_id        TEXT NOT NULL,
  category       TEXT NOT NULL CHECK (category IN ('projects', 'descriptions', 'caseIds')),
  value          TEXT NOT NULL,
  created_at_ms  INTEGER NOT NULL,
  PRIMARY KEY(user_id, category, value)
);

-- 4. Visibility throttle state
CREATE TABLE IF NOT EXISTS visibility_state (
  user_id             TEXT NOT NULL,
  surface             TEXT NOT NULL,
  scope_key           TEXT NOT NULL,
  status              TEXT NOT NULL CHECK (status IN ('eligible', 'shown', 'dismissed', 'accepted')),
  last_transition_ms  INTEGER NOT NULL,
  impressions         INTEGER NOT NULL DEFAULT 0,
  PRIMARY KEY(user_id, surface)
);

-- 5. Feedback log
CREATE TABLE IF NOT EXISTS suggestion_feedback (
  id               TEXT PRIMARY KEY,
  user_id          TEXT NOT NULL,
  user_role        TEXT NOT NULL DEFAULT '',
  suggestion_type  TEXT NOT NULL,
  outcome          TEXT NOT NULL CHECK (outcome IN ('accepted', 'rejected')),
  suggested_value  TEXT,
  chosen_value     TEXT,
  period           TEXT,
  metadata_json    TEXT,
  ts_ms            INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_feedback_user_ts ON suggestion_feedback(user_id, ts_ms);
CREATE INDEX IF NOT EXISTS idx_feedback_role_ts ON suggestion_feedback(user_role, ts_ms);

-- 6. Schema migrations tracking
CREATE TABLE IF NOT EXISTS schema_migrations (
  version    INTEGER PRIMARY KEY,
  applied_ts INTEGER NOT NULL
);
`

// AllTables lists every table the schema must contain.
var AllTables = []string{
	"user_settings",
	"team_default_preset",
	"suggestion_blocklist",
	"visibility_state",
	"suggestion_feedback",
	"schema_migrations",
}

// AllIndexes lists every explicit index the schema must contain.
var AllIndexes = []string{
	"idx_feedback_user_ts",
	"idx_feedback_role_ts",
}
