package interceptor

// clientError is a disposition the Interceptor produces directly. Every
// other component in this system converts its own failures into a
// non-match or a local log instead of reaching the client.
type clientError struct {
	status int
	code   string
	detail string
}

func (e *clientError) Error() string { return e.code + ": " + e.detail }

func errAuthRequired() *clientError {
	return &clientError{status: 401, code: "AUTH_REQUIRED", detail: "missing tenant key"}
}

func errAuthInvalid() *clientError {
	return &clientError{status: 401, code: "AUTH_INVALID", detail: "tenant key not recognized or tenant blocked"}
}

func errAgentBlocked() *clientError {
	return &clientError{status: 403, code: "AGENT_BLOCKED", detail: "this agent is on the tenant's block list"}
}

func errPlanLimit() *clientError {
	return &clientError{status: 429, code: "PLAN_LIMIT", detail: "monthly event limit reached"}
}

func errUnsupportedProvider() *clientError {
	return &clientError{status: 502, code: "PROXY_ERROR", detail: "unsupported provider path"}
}

func errProxyError() *clientError {
	return &clientError{status: 502, code: "PROXY_ERROR", detail: "upstream call failed"}
}
