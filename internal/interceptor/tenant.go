package interceptor

// Tenant is the read-only projection of the tenants table the Interceptor
// needs for AUTH and QUOTA_CHECK. Row ownership lives with an external
// collaborator; this core only ever reads it.
type Tenant struct {
	ID              string
	APIKey          string
	MonthlyEventCap int
	Blocked         bool
}

// TenantLookup is the narrow external-collaborator interface AUTH reads
// through.
type TenantLookup interface {
	LookupByKey(apiKey string) (Tenant, bool, error)
}
