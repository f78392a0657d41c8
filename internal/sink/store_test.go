package sink

import (
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "events.db")
	s, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestInsertAndUpdateSecurityResult(t *testing.T) {
	s := newTestStore(t)

	ev := &LoggedEvent{
		ID:        "evt-1",
		Timestamp: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		TenantID:  "tenant-a",
		Model:     "gpt-4o",
		ToolNames: []string{"file_read"},
		Flags:     nil,
	}
	if err := s.Insert(ev); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	if err := s.UpdateSecurityResult("evt-1", 72, true, []string{"burst_spike", "ignore_all_previous"}); err != nil {
		t.Fatalf("UpdateSecurityResult: %v", err)
	}

	count, err := s.CountEventsInCurrentMonth("tenant-a", time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("CountEventsInCurrentMonth: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 event counted, got %d", count)
	}
}

func TestCountEventsExcludesPriorMonths(t *testing.T) {
	s := newTestStore(t)

	s.Insert(&LoggedEvent{ID: "old", Timestamp: time.Date(2025, 12, 20, 0, 0, 0, 0, time.UTC), TenantID: "tenant-a"})
	s.Insert(&LoggedEvent{ID: "new", Timestamp: time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC), TenantID: "tenant-a"})

	count, err := s.CountEventsInCurrentMonth("tenant-a", time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("CountEventsInCurrentMonth: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected only the January event counted, got %d", count)
	}
}

func TestIsAgentBlocked(t *testing.T) {
	s := newTestStore(t)

	blocked, err := s.IsAgentBlocked("tenant-a", "agent-1")
	if err != nil {
		t.Fatalf("IsAgentBlocked: %v", err)
	}
	if blocked {
		t.Fatalf("expected unblocked by default")
	}

	if _, err := s.db.Exec(`INSERT INTO blocked_agents (tenant_id, agent_id) VALUES (?, ?)`, "tenant-a", "agent-1"); err != nil {
		t.Fatalf("seeding blocked_agents: %v", err)
	}

	blocked, err = s.IsAgentBlocked("tenant-a", "agent-1")
	if err != nil {
		t.Fatalf("IsAgentBlocked: %v", err)
	}
	if !blocked {
		t.Fatalf("expected agent-1 to be blocked")
	}
}

func TestLoadEnabledRulesSkipsDisabled(t *testing.T) {
	s := newTestStore(t)

	_, err := s.db.Exec(
		`INSERT INTO policy_rules (id, tenant_id, name, condition, action, severity, enabled) VALUES
		 ('r1', 'tenant-a', 'expensive-call', 'cost > 0.5', 'BLOCK', 'LOW', 1),
		 ('r2', 'tenant-a', 'disabled-rule', 'true', 'BLOCK', 'CRITICAL', 0)`,
	)
	if err != nil {
		t.Fatalf("seeding policy_rules: %v", err)
	}

	rules, err := s.LoadEnabledRules("tenant-a")
	if err != nil {
		t.Fatalf("LoadEnabledRules: %v", err)
	}
	if len(rules) != 1 || rules[0].Name != "expensive-call" {
		t.Fatalf("expected only the enabled rule, got %+v", rules)
	}
}
