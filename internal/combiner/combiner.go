// Package combiner blends the three engines' scores into one risk score
// and a disjunctive block decision.
package combiner

import (
	"math"

	"github.com/redteamingai/proxy/internal/anomaly"
	"github.com/redteamingai/proxy/internal/policy"
	"github.com/redteamingai/proxy/internal/scanner"
)

const (
	weightAnomaly  = 0.35
	weightScanner  = 0.45
	weightPolicy   = 0.20
	blockThreshold = 80 // scanner confidence threshold for a standalone block.
)

// Decision is the Combiner's output, projected into a LoggedEvent update.
type Decision struct {
	Risk    int
	Blocked bool
	Flags   []string
}

// Combine normalizes each engine's score into [0,100] (clamping; non-finite
// inputs become 0), computes the weighted blend, and derives the block
// decision disjunctively and independently of the numeric score. Flags is
// the deduplicated union of anomaly flags, scanner pattern names, and
// violated rule names, preserving first-seen order.
func Combine(a anomaly.Result, s scanner.Result, p policy.Result) Decision {
	anomalyScore := clamp(a.Score)
	scannerScore := clamp(s.Confidence)
	policyScore := clamp(p.Score)

	blended := weightAnomaly*float64(anomalyScore) + weightScanner*float64(scannerScore) + weightPolicy*float64(policyScore)
	risk := clamp(int(math.Round(blended)))

	blocked := a.ShouldBlock || s.Confidence >= blockThreshold || p.Action == policy.ActionBlock

	return Decision{
		Risk:    risk,
		Blocked: blocked,
		Flags:   dedupFlags(a, s, p),
	}
}

func clamp(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

func dedupFlags(a anomaly.Result, s scanner.Result, p policy.Result) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(name string) {
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	for _, f := range a.Flags {
		add(f)
	}
	for _, m := range s.Matches {
		add(m.Name)
	}
	for _, v := range p.Violations {
		add(v.Name)
	}
	return out
}
