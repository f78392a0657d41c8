package interceptor

import "github.com/redteamingai/proxy/internal/sink"

// SinkTenantLookup adapts a *sink.Store to the TenantLookup interface,
// translating its primitive TenantRow projection into this package's
// Tenant type.
type SinkTenantLookup struct {
	Store *sink.Store
}

func (s SinkTenantLookup) LookupByKey(apiKey string) (Tenant, bool, error) {
	row, ok, err := s.Store.TenantByAPIKey(apiKey)
	if err != nil || !ok {
		return Tenant{}, ok, err
	}
	return Tenant{
		ID:              row.ID,
		APIKey:          row.APIKey,
		MonthlyEventCap: row.MonthlyEventCap,
		Blocked:         row.Blocked,
	}, true, nil
}
