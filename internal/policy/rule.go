// Package policy implements the per-tenant Policy Engine: a TTL-cached
// rule set evaluated against a sandboxed condition expression per event.
package policy

import "time"

// Action is a PolicyRule's disposition when its condition matches.
type Action string

const (
	ActionAllow Action = "ALLOW"
	ActionBlock Action = "BLOCK"
	ActionAlert Action = "ALERT"
)

// Severity is a PolicyRule's weight class, converted to a numeric score
// when the rule matches.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

var severityScore = map[Severity]int{
	SeverityLow:      10,
	SeverityMedium:   20,
	SeverityHigh:     30,
	SeverityCritical: 40,
}

// Rule is a tenant-owned PolicyRule, as described in the data model.
type Rule struct {
	ID          string
	TenantID    string
	Name        string
	Description string
	Condition   string
	Action      Action
	Severity    Severity
	Enabled     bool
	HitCount    int
	CreatedAt   time.Time
}

// Store is the narrow external-collaborator interface the Policy Engine
// reads enabled rules through. The core never writes through this
// interface — rule CRUD lives in the out-of-scope HTTP read/write API.
type Store interface {
	LoadEnabledRules(tenantID string) ([]Rule, error)
}
