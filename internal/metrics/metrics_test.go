package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestBlockedTotalIncrements(t *testing.T) {
	before := testutil.ToFloat64(BlockedTotal)
	BlockedTotal.Inc()
	after := testutil.ToFloat64(BlockedTotal)
	if after != before+1 {
		t.Fatalf("expected BlockedTotal to increment by 1, got %v -> %v", before, after)
	}
}

func TestRequestsTotalLabeled(t *testing.T) {
	RequestsTotal.WithLabelValues("blocked").Inc()
	got := testutil.ToFloat64(RequestsTotal.WithLabelValues("blocked"))
	if got < 1 {
		t.Fatalf("expected at least one blocked-labeled request counted, got %v", got)
	}
}
