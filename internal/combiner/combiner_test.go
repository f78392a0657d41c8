package combiner

import (
	"testing"

	"github.com/redteamingai/proxy/internal/anomaly"
	"github.com/redteamingai/proxy/internal/policy"
	"github.com/redteamingai/proxy/internal/scanner"
)

func TestWeightedBlend(t *testing.T) {
	a := anomaly.Result{Score: 40}
	s := scanner.Result{Confidence: 60}
	p := policy.Result{Score: 20}

	d := Combine(a, s, p)

	// 0.35*40 + 0.45*60 + 0.20*20 = 14 + 27 + 4 = 45
	if d.Risk != 45 {
		t.Fatalf("expected risk 45, got %d", d.Risk)
	}
	if d.Blocked {
		t.Fatalf("expected not blocked")
	}
}

func TestAnomalyHardBlockForcesBlockedRegardlessOfRisk(t *testing.T) {
	a := anomaly.Result{Score: 10, ShouldBlock: true, Flags: []string{"credential_access"}}
	s := scanner.Result{Confidence: 0}
	p := policy.Result{Score: 0, Action: policy.ActionAllow}

	d := Combine(a, s, p)

	if !d.Blocked {
		t.Fatalf("expected blocked due to anomaly hard-block override")
	}
	if d.Risk >= 50 {
		t.Fatalf("expected low blended risk despite block, got %d", d.Risk)
	}
}

func TestScannerConfidenceAtThresholdForcesBlock(t *testing.T) {
	a := anomaly.Result{}
	s := scanner.Result{Confidence: 80, Matches: []scanner.MatchedPattern{{Name: "ignore_all_previous"}}}
	p := policy.Result{Action: policy.ActionAllow}

	d := Combine(a, s, p)

	if !d.Blocked {
		t.Fatalf("expected blocked, scanner confidence hit the standalone-block threshold")
	}
}

func TestPolicyBlockActionForcesBlock(t *testing.T) {
	a := anomaly.Result{}
	s := scanner.Result{}
	p := policy.Result{Action: policy.ActionBlock, Violations: []policy.Violation{{Name: "expensive-call"}}}

	d := Combine(a, s, p)

	if !d.Blocked {
		t.Fatalf("expected blocked due to policy engine BLOCK action")
	}
}

func TestRiskClampedTo100(t *testing.T) {
	a := anomaly.Result{Score: 100}
	s := scanner.Result{Confidence: 100}
	p := policy.Result{Score: 100}

	d := Combine(a, s, p)

	if d.Risk != 100 {
		t.Fatalf("expected risk clamped at 100, got %d", d.Risk)
	}
}

func TestFlagsDeduplicatedPreservingFirstSeenOrder(t *testing.T) {
	a := anomaly.Result{Flags: []string{"burst_spike", "large_payload"}}
	s := scanner.Result{Matches: []scanner.MatchedPattern{{Name: "large_payload"}, {Name: "ignore_all_previous"}}}
	p := policy.Result{Violations: []policy.Violation{{Name: "burst_spike"}}}

	d := Combine(a, s, p)

	want := []string{"burst_spike", "large_payload", "ignore_all_previous"}
	if len(d.Flags) != len(want) {
		t.Fatalf("expected %v, got %v", want, d.Flags)
	}
	for i, f := range want {
		if d.Flags[i] != f {
			t.Fatalf("expected %v, got %v", want, d.Flags)
		}
	}
}

func TestAllClearProducesZeroRiskAndNoBlock(t *testing.T) {
	d := Combine(anomaly.Result{}, scanner.Result{}, policy.Result{Action: policy.ActionAllow})

	if d.Risk != 0 || d.Blocked || len(d.Flags) != 0 {
		t.Fatalf("expected a clean decision, got %+v", d)
	}
}
