// Package anomaly implements the heuristic Anomaly Engine: ten additive
// scoring rules evaluated against an event and its agent's sliding window.
package anomaly

import (
	"regexp"
	"time"

	"github.com/redteamingai/proxy/internal/slidingwindow"
)

// Event is the subset of a request/response cycle the Anomaly Engine scores.
type Event struct {
	RawRequestLen   int
	CostUSD         float64
	ToolNames       []string // tool names requested/invoked by this call.
	ResponseIsError bool
}

// Result is the Anomaly Engine's output: additive score capped at 100, the
// flags that fired, and whether any flag demands a hard block.
type Result struct {
	Score       int
	Flags       []string
	ShouldBlock bool
}

var (
	externalNetworkRe  = regexp.MustCompile(`(?i)http|fetch|request|webhook`)
	credentialAccessRe = regexp.MustCompile(`(?i)secret|password|api.?key|token|credential`)
	recursiveSpawnRe   = regexp.MustCompile(`(?i)agent|delegate|spawn`)
)

const (
	exfiltrationTool1 = "file_read"
	exfiltrationTool2 = "list_directory"
)

type rule struct {
	name      string
	score     int
	hardBlock bool
	fires     func(w *slidingwindow.AgentWindow, ev Event, now time.Time) bool
}

var rules = []rule{
	{
		name:  "high_frequency",
		score: 40,
		fires: func(w *slidingwindow.AgentWindow, ev Event, now time.Time) bool {
			return w.CallsSince(now, 5*time.Minute) > 20
		},
	},
	{
		name:  "burst_spike",
		score: 35,
		fires: func(w *slidingwindow.AgentWindow, ev Event, now time.Time) bool {
			return w.CallsSince(now, 10*time.Second) > 5
		},
	},
	{
		name:  "large_payload",
		score: 25,
		fires: func(w *slidingwindow.AgentWindow, ev Event, now time.Time) bool {
			return ev.RawRequestLen > 51200
		},
	},
	{
		name:  "excessive_cost",
		score: 30,
		fires: func(w *slidingwindow.AgentWindow, ev Event, now time.Time) bool {
			return ev.CostUSD > 0.50
		},
	},
	{
		name:      "file_exfiltration",
		score:     50,
		hardBlock: true,
		fires: func(w *slidingwindow.AgentWindow, ev Event, now time.Time) bool {
			count := 0
			for _, n := range ev.ToolNames {
				if n == exfiltrationTool1 || n == exfiltrationTool2 {
					count++
				}
			}
			return count > 10
		},
	},
	{
		name:  "external_network",
		score: 45,
		fires: func(w *slidingwindow.AgentWindow, ev Event, now time.Time) bool {
			return anyMatch(ev.ToolNames, externalNetworkRe)
		},
	},
	{
		name:      "credential_access",
		score:     60,
		hardBlock: true,
		fires: func(w *slidingwindow.AgentWindow, ev Event, now time.Time) bool {
			return anyMatch(ev.ToolNames, credentialAccessRe)
		},
	},
	{
		name:  "recursive_spawn",
		score: 35,
		fires: func(w *slidingwindow.AgentWindow, ev Event, now time.Time) bool {
			return anyMatch(ev.ToolNames, recursiveSpawnRe)
		},
	},
	{
		name:  "repeated_failures",
		score: 30,
		fires: func(w *slidingwindow.AgentWindow, ev Event, now time.Time) bool {
			return w.ErrorsSince(now, 10*time.Minute) > 5
		},
	},
	{
		name:  "tool_enumeration",
		score: 45,
		fires: func(w *slidingwindow.AgentWindow, ev Event, now time.Time) bool {
			return w.DistinctTools() > 8
		},
	},
}

func anyMatch(names []string, re *regexp.Regexp) bool {
	for _, n := range names {
		if re.MatchString(n) {
			return true
		}
	}
	return false
}

// Evaluate records the event into the agent's window (call timestamp,
// observed tools, and an error timestamp when applicable) and then scores
// every rule against the now-updated window. Recording happens before
// scoring so that e.g. tool_enumeration sees this call's tools.
func Evaluate(w *slidingwindow.AgentWindow, ev Event, now time.Time) Result {
	w.RecordCall(now)
	w.RecordTools(ev.ToolNames)
	if ev.ResponseIsError {
		w.RecordError(now)
	}

	var res Result
	for _, r := range rules {
		if r.fires(w, ev, now) {
			res.Flags = append(res.Flags, r.name)
			res.Score += r.score
			if r.hardBlock {
				res.ShouldBlock = true
			}
		}
	}
	if res.Score > 100 {
		res.Score = 100
	}
	if res.Score >= 80 {
		res.ShouldBlock = true
	}
	return res
}

// IsErrorResponse classifies a raw response body as an error per the spec:
// case-insensitive match on error|fail(ed|ure)?|exception, OR valid JSON
// with an "error" field.
func IsErrorResponse(raw []byte) bool {
	if looksLikeJSONError(raw) {
		return true
	}
	return errorTextRe.MatchString(string(raw))
}

var errorTextRe = regexp.MustCompile(`(?i)error|fail(ed|ure)?|exception`)
