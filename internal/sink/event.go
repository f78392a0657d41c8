// Package sink implements the Event Sink: SQLite-backed persistence for
// LoggedEvents, and a per-tenant websocket broadcaster with heartbeat-driven
// subscriber liveness.
package sink

import "time"

// LoggedEvent is one intercepted call, created once by the Interceptor and
// mutated exactly once via UpdateSecurityResult.
type LoggedEvent struct {
	ID              string
	Timestamp       time.Time
	TenantID        string
	AgentID         string
	Model           string
	PromptTokens    int
	CompletionTokens int
	CostUSD         float64
	LatencyMS       int64
	ToolNames       []string
	RequestSHA256   string
	ResponsePreview string // first 256 chars of raw response.
	RiskScore       int
	Blocked         bool
	Flags           []string
	RawRequest      []byte
	RawResponse     []byte
}
