package sink

import (
	"fmt"

	"github.com/redteamingai/proxy/internal/policy"
)

// LoadEnabledRules implements policy.Store, reading a tenant's enabled
// PolicyRules from the events database. Rule CRUD itself is out of scope
// for this core — some external collaborator writes policy_rules; this is
// a read-only narrow view onto it.
func (s *Store) LoadEnabledRules(tenantID string) ([]policy.Rule, error) {
	rows, err := s.db.Query(
		`SELECT id, tenant_id, name, condition, action, severity FROM policy_rules
		 WHERE tenant_id = ? AND enabled = 1`,
		tenantID,
	)
	if err != nil {
		return nil, fmt.Errorf("sink: loading enabled rules for %s: %w", tenantID, err)
	}
	defer rows.Close()

	var out []policy.Rule
	for rows.Next() {
		var r policy.Rule
		if err := rows.Scan(&r.ID, &r.TenantID, &r.Name, &r.Condition, &r.Action, &r.Severity); err != nil {
			return nil, fmt.Errorf("sink: scanning policy rule row: %w", err)
		}
		r.Enabled = true
		out = append(out, r)
	}
	return out, rows.Err()
}
