package policy

// Violation is a rule that matched during evaluation.
type Violation struct {
	RuleID   string
	Name     string
	Action   Action
	Severity Severity
}

// Result is the Policy Engine's output for one event.
type Result struct {
	Action     Action
	Score      int
	Violations []Violation
}

// Engine evaluates a tenant's enabled rules against an event's bound
// context, under the Rule Cache's TTL.
type Engine struct {
	cache *Cache
}

// New creates a Policy Engine backed by store, with its own Rule Cache.
func New(store Store) *Engine {
	return &Engine{cache: NewCache(store)}
}

// Evaluate loads tenantID's enabled rules (from cache, reloading if stale)
// and evaluates each one's condition in the sandbox. A rule matches iff
// its condition returns boolean true. Disabled rules are filtered out by
// the Store per the invariant that they are never evaluated.
func (e *Engine) Evaluate(tenantID string, ctx EvalContext) (Result, error) {
	rules, err := e.cache.Rules(tenantID)
	if err != nil {
		return Result{Action: ActionAllow}, err
	}

	var res Result
	score := 0
	blocked, alerted := false, false

	for _, r := range rules {
		if !r.Enabled {
			continue
		}
		if !evaluateCondition(r.Condition, ctx) {
			continue
		}

		res.Violations = append(res.Violations, Violation{
			RuleID:   r.ID,
			Name:     r.Name,
			Action:   r.Action,
			Severity: r.Severity,
		})
		score += severityScore[r.Severity]

		switch r.Action {
		case ActionBlock:
			blocked = true
		case ActionAlert:
			alerted = true
		}
	}

	switch {
	case blocked:
		res.Action = ActionBlock
	case alerted:
		res.Action = ActionAlert
	default:
		res.Action = ActionAllow
	}

	if score > 100 {
		score = 100
	}
	res.Score = score
	return res, nil
}

// InvalidateTenant forces the next Evaluate call for tenantID to reload
// rules from the store, used when a PolicyRule CRUD write happens on the
// out-of-scope read/write API.
func (e *Engine) InvalidateTenant(tenantID string) {
	e.cache.Invalidate(tenantID)
}
