package sink

import (
	"database/sql"
	"fmt"
)

// TenantRow is the raw tenants-table projection this core reads. Kept
// primitive (no dependency on the interceptor package's Tenant type) so
// this package never needs to import back up the dependency graph.
type TenantRow struct {
	ID              string
	APIKey          string
	MonthlyEventCap int
	Blocked         bool
}

// TenantByAPIKey reads a tenant by its API key. The tenants table itself is
// owned by an external collaborator; this core only ever reads it.
func (s *Store) TenantByAPIKey(apiKey string) (TenantRow, bool, error) {
	var row TenantRow
	var blocked int
	err := s.db.QueryRow(
		`SELECT id, api_key, monthly_event_cap, blocked FROM tenants WHERE api_key = ?`,
		apiKey,
	).Scan(&row.ID, &row.APIKey, &row.MonthlyEventCap, &blocked)
	if err == sql.ErrNoRows {
		return TenantRow{}, false, nil
	}
	if err != nil {
		return TenantRow{}, false, fmt.Errorf("sink: looking up tenant by key: %w", err)
	}
	row.Blocked = blocked != 0
	return row, true, nil
}
