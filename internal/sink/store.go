package sink

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/glebarez/go-sqlite"
)

// Store is the SQLite-backed persistence handle for LoggedEvents, modeled
// on the teacher's WAL-mode sqlite index: a database/sql connection pool,
// parameterized statements, busy-timeout tolerant of concurrent proxy
// writes and dashboard-API reads.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the events database at path, applying WAL mode
// and a 5s busy timeout so concurrent inserts and reads don't lock each
// other out.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sink: opening database %s: %w", path, err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sink: creating schema: %w", err)
	}

	return &Store{db: db}, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS events (
	id                 TEXT PRIMARY KEY,
	ts                 TEXT NOT NULL,
	tenant_id          TEXT NOT NULL,
	agent_id           TEXT NOT NULL DEFAULT '',
	model              TEXT NOT NULL DEFAULT '',
	prompt_tokens      INTEGER NOT NULL DEFAULT 0,
	completion_tokens  INTEGER NOT NULL DEFAULT 0,
	cost_usd           REAL NOT NULL DEFAULT 0,
	latency_ms         INTEGER NOT NULL DEFAULT 0,
	tool_names         TEXT NOT NULL DEFAULT '[]',
	request_sha256     TEXT NOT NULL DEFAULT '',
	response_preview   TEXT NOT NULL DEFAULT '',
	risk_score         INTEGER NOT NULL DEFAULT 0,
	blocked            INTEGER NOT NULL DEFAULT 0,
	flags              TEXT NOT NULL DEFAULT '[]',
	raw_request        BLOB,
	raw_response       TEXT
);
CREATE INDEX IF NOT EXISTS idx_events_tenant ON events(tenant_id);
CREATE INDEX IF NOT EXISTS idx_events_ts ON events(ts);

CREATE TABLE IF NOT EXISTS policy_rules (
	id        TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	name      TEXT NOT NULL,
	condition TEXT NOT NULL,
	action    TEXT NOT NULL,
	severity  TEXT NOT NULL,
	enabled   INTEGER NOT NULL DEFAULT 1
);
CREATE INDEX IF NOT EXISTS idx_policy_rules_tenant ON policy_rules(tenant_id);

CREATE TABLE IF NOT EXISTS blocked_agents (
	tenant_id TEXT NOT NULL,
	agent_id  TEXT NOT NULL,
	PRIMARY KEY (tenant_id, agent_id)
);

CREATE TABLE IF NOT EXISTS tenants (
	id                TEXT PRIMARY KEY,
	api_key           TEXT NOT NULL UNIQUE,
	monthly_event_cap INTEGER NOT NULL DEFAULT 0,
	blocked           INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_tenants_api_key ON tenants(api_key);
`

// Insert stores a freshly-built LoggedEvent with risk=0/blocked=false and
// returns nothing further: ev.ID must already be populated by the caller
// (the Interceptor mints it before calling Insert).
func (s *Store) Insert(ev *LoggedEvent) error {
	tools, _ := json.Marshal(ev.ToolNames)
	flags, _ := json.Marshal(ev.Flags)

	_, err := s.db.Exec(
		`INSERT INTO events (id, ts, tenant_id, agent_id, model, prompt_tokens, completion_tokens,
			cost_usd, latency_ms, tool_names, request_sha256, response_preview, risk_score, blocked,
			flags, raw_request, raw_response)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.Timestamp.Format(time.RFC3339), ev.TenantID, ev.AgentID, ev.Model,
		ev.PromptTokens, ev.CompletionTokens, ev.CostUSD, ev.LatencyMS, string(tools),
		ev.RequestSHA256, ev.ResponsePreview, ev.RiskScore, boolToInt(ev.Blocked), string(flags),
		ev.RawRequest, string(ev.RawResponse),
	)
	if err != nil {
		return fmt.Errorf("sink: inserting event %s: %w", ev.ID, err)
	}
	return nil
}

// UpdateSecurityResult applies the post-analysis mutation: risk_score,
// blocked, and flags, exactly once per event.
func (s *Store) UpdateSecurityResult(eventID string, riskScore int, blocked bool, flags []string) error {
	flagsJSON, _ := json.Marshal(flags)
	_, err := s.db.Exec(
		`UPDATE events SET risk_score = ?, blocked = ?, flags = ? WHERE id = ?`,
		riskScore, boolToInt(blocked), string(flagsJSON), eventID,
	)
	if err != nil {
		return fmt.Errorf("sink: updating security result for %s: %w", eventID, err)
	}
	return nil
}

// CountEventsInCurrentMonth counts tenantID's events since the first of the
// current calendar month, for the QUOTA_CHECK gate.
func (s *Store) CountEventsInCurrentMonth(tenantID string, now time.Time) (int, error) {
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	var count int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM events WHERE tenant_id = ? AND ts >= ?`,
		tenantID, monthStart.Format(time.RFC3339),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("sink: counting monthly events for %s: %w", tenantID, err)
	}
	return count, nil
}

// IsAgentBlocked reports whether (tenantID, agentID) is on the block list.
func (s *Store) IsAgentBlocked(tenantID, agentID string) (bool, error) {
	var one int
	err := s.db.QueryRow(
		`SELECT 1 FROM blocked_agents WHERE tenant_id = ? AND agent_id = ?`,
		tenantID, agentID,
	).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("sink: checking block list for %s/%s: %w", tenantID, agentID, err)
	}
	return true, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
