package policy

import (
	"testing"
	"time"
)

type fakeStore struct {
	rules map[string][]Rule
	calls int
}

func (f *fakeStore) LoadEnabledRules(tenantID string) ([]Rule, error) {
	f.calls++
	return f.rules[tenantID], nil
}

func TestPolicyBlockScenario(t *testing.T) {
	store := &fakeStore{rules: map[string][]Rule{
		"tenant-a": {
			{ID: "r1", Name: "expensive-call", Condition: "cost > 0.50", Action: ActionBlock, Severity: SeverityLow, Enabled: true},
		},
	}}
	eng := New(store)

	res, err := eng.Evaluate("tenant-a", EvalContext{Cost: 0.75})
	if err != nil {
		t.Fatalf("Evaluate returned error: %v", err)
	}
	if res.Action != ActionBlock {
		t.Fatalf("expected ActionBlock, got %s", res.Action)
	}
	if len(res.Violations) != 1 || res.Violations[0].Name != "expensive-call" {
		t.Fatalf("expected one violation for expensive-call, got %+v", res.Violations)
	}
	if res.Score != 10 {
		t.Fatalf("expected score 10 (LOW severity), got %d", res.Score)
	}
}

func TestDisabledRuleNeverEvaluated(t *testing.T) {
	store := &fakeStore{rules: map[string][]Rule{
		"tenant-a": {
			{ID: "r1", Name: "disabled-rule", Condition: "true", Action: ActionBlock, Severity: SeverityCritical, Enabled: false},
		},
	}}
	eng := New(store)

	res, err := eng.Evaluate("tenant-a", EvalContext{})
	if err != nil {
		t.Fatalf("Evaluate returned error: %v", err)
	}
	if res.Action != ActionAllow || len(res.Violations) != 0 {
		t.Fatalf("expected disabled rule to never fire, got %+v", res)
	}
}

func TestSandboxAbuseNeverStarvesEvaluation(t *testing.T) {
	store := &fakeStore{rules: map[string][]Rule{
		"tenant-a": {
			{ID: "r1", Name: "infinite-loop", Condition: "while(true){}", Action: ActionBlock, Severity: SeverityHigh, Enabled: true},
			{ID: "r2", Name: "always-allow", Condition: "false", Action: ActionAlert, Severity: SeverityLow, Enabled: true},
		},
	}}
	eng := New(store)

	start := time.Now()
	res, err := eng.Evaluate("tenant-a", EvalContext{})
	elapsed := time.Since(start)

	if err != nil {
		t.Fatalf("Evaluate returned error: %v", err)
	}
	if elapsed > 200*time.Millisecond {
		t.Fatalf("sandbox abuse should not block evaluation, took %v", elapsed)
	}
	if res.Action != ActionAllow {
		t.Fatalf("infinite loop condition must not match, got %+v", res)
	}
}

func TestRuleCacheReloadsAfterTTL(t *testing.T) {
	store := &fakeStore{rules: map[string][]Rule{"tenant-a": {}}}
	eng := New(store)
	eng.cache.now = func() time.Time { return time.Unix(0, 0) }

	if _, err := eng.Evaluate("tenant-a", EvalContext{}); err != nil {
		t.Fatal(err)
	}
	if _, err := eng.Evaluate("tenant-a", EvalContext{}); err != nil {
		t.Fatal(err)
	}
	if store.calls != 1 {
		t.Fatalf("expected single load within TTL, got %d loads", store.calls)
	}

	eng.cache.now = func() time.Time { return time.Unix(0, 0).Add(cacheTTL + time.Second) }
	if _, err := eng.Evaluate("tenant-a", EvalContext{}); err != nil {
		t.Fatal(err)
	}
	if store.calls != 2 {
		t.Fatalf("expected reload after TTL expiry, got %d loads", store.calls)
	}
}
