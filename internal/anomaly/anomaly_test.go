package anomaly

import (
	"testing"
	"time"

	"github.com/redteamingai/proxy/internal/slidingwindow"
)

func TestCredentialAccessHardBlocks(t *testing.T) {
	store := slidingwindow.New()
	w := store.Window("tenant-a", "bot")
	res := Evaluate(w, Event{ToolNames: []string{"read_api_key"}}, time.Now())

	if !res.ShouldBlock {
		t.Fatalf("expected ShouldBlock=true for credential_access")
	}
	if !containsFlag(res.Flags, "credential_access") {
		t.Fatalf("expected flag credential_access, got %v", res.Flags)
	}
}

func TestBurstSpikeOnSixthCallWithinTenSeconds(t *testing.T) {
	store := slidingwindow.New()
	w := store.Window("tenant-a", "bot")
	now := time.Now()

	var last Result
	for i := 0; i < 6; i++ {
		last = Evaluate(w, Event{}, now.Add(time.Duration(i)*time.Second))
	}
	if !containsFlag(last.Flags, "burst_spike") {
		t.Fatalf("expected burst_spike on 6th call within 10s, got %v", last.Flags)
	}
}

func TestLargePayloadFlag(t *testing.T) {
	store := slidingwindow.New()
	w := store.Window("tenant-a", "bot")
	res := Evaluate(w, Event{RawRequestLen: 51201}, time.Now())
	if !containsFlag(res.Flags, "large_payload") {
		t.Fatalf("expected large_payload flag, got %v", res.Flags)
	}
}

func TestScoreCappedAt100(t *testing.T) {
	store := slidingwindow.New()
	w := store.Window("tenant-a", "bot")
	res := Evaluate(w, Event{
		RawRequestLen: 100000,
		CostUSD:       1.0,
		ToolNames:     []string{"read_api_key", "http_fetch", "spawn_agent"},
	}, time.Now())
	if res.Score > 100 {
		t.Fatalf("score must be capped at 100, got %d", res.Score)
	}
}

func TestIsErrorResponse(t *testing.T) {
	cases := []struct {
		body string
		want bool
	}{
		{`{"error": "rate limited"}`, true},
		{`{"ok": true}`, false},
		{`Operation failed unexpectedly`, true},
		{`all good here`, false},
	}
	for _, c := range cases {
		if got := IsErrorResponse([]byte(c.body)); got != c.want {
			t.Errorf("IsErrorResponse(%q) = %v, want %v", c.body, got, c.want)
		}
	}
}

func containsFlag(flags []string, name string) bool {
	for _, f := range flags {
		if f == name {
			return true
		}
	}
	return false
}
