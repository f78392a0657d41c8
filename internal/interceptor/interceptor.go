// Package interceptor implements the Interceptor: the request state
// machine that sits in front of every proxied call, wiring together
// authentication, quota enforcement, upstream forwarding, the
// anomaly/scanner/policy pipeline, persistence, and live publication.
package interceptor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/redteamingai/proxy/internal/anomaly"
	"github.com/redteamingai/proxy/internal/combiner"
	"github.com/redteamingai/proxy/internal/forwarder"
	"github.com/redteamingai/proxy/internal/metrics"
	"github.com/redteamingai/proxy/internal/policy"
	"github.com/redteamingai/proxy/internal/pricing"
	"github.com/redteamingai/proxy/internal/sink"
	"github.com/redteamingai/proxy/internal/slidingwindow"
)

const (
	maxBodyBytes    = 10 << 20 // 10 MB
	keyHeaderName   = "X-RedTeamingAI-Key"
	agentHeaderName = "X-Agent-ID"
	eventIDHeader   = "X-RedTeamingAI-Event-ID"
	riskScoreHeader = "X-RedTeamingAI-Risk-Score"
	anonymousAgent  = "anonymous"
)

// AgentBlockChecker is the narrow AGENT_CHECK interface over the block
// list, satisfied by *sink.Store.
type AgentBlockChecker interface {
	IsAgentBlocked(tenantID, agentID string) (bool, error)
}

// QuotaCounter is the narrow QUOTA_CHECK interface over event counts,
// satisfied by *sink.Store.
type QuotaCounter interface {
	CountEventsInCurrentMonth(tenantID string, now time.Time) (int, error)
}

// EventStore is the narrow PERSIST_INITIAL/PERSIST_FINAL interface,
// satisfied by *sink.Store.
type EventStore interface {
	Insert(ev *sink.LoggedEvent) error
	UpdateSecurityResult(eventID string, riskScore int, blocked bool, flags []string) error
}

// Publisher is the narrow PUBLISH interface, satisfied by *sink.Broadcaster.
type Publisher interface {
	Publish(tenantID string, ev *sink.LoggedEvent)
}

// Options holds every dependency the Interceptor wires together. All
// fields are required except Now and IDGen, which default to time.Now and
// uuid.NewString respectively, overridable for deterministic testing.
type Options struct {
	Tenants     TenantLookup
	AgentBlocks AgentBlockChecker
	Quota       QuotaCounter
	Events      EventStore
	Publisher   Publisher
	Windows     *slidingwindow.Store
	Policy      *policy.Engine
	Forwarder   *forwarder.Forwarder
	Now         func() time.Time
	IDGen       func() string
}

// Interceptor is the http.Handler mounted on the two proxied paths.
type Interceptor struct {
	tenants     TenantLookup
	agentBlocks AgentBlockChecker
	quota       QuotaCounter
	events      EventStore
	publisher   Publisher
	windows     *slidingwindow.Store
	policy      *policy.Engine
	forwarder   *forwarder.Forwarder
	now         func() time.Time
	idGen       func() string
	quotaFast   *quotaLimiters
}

// New builds an Interceptor from opts, applying defaults for Now and IDGen.
func New(opts Options) *Interceptor {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	idGen := opts.IDGen
	if idGen == nil {
		idGen = uuid.NewString
	}
	return &Interceptor{
		tenants:     opts.Tenants,
		agentBlocks: opts.AgentBlocks,
		quota:       opts.Quota,
		events:      opts.Events,
		publisher:   opts.Publisher,
		windows:     opts.Windows,
		policy:      opts.Policy,
		forwarder:   opts.Forwarder,
		now:         now,
		idGen:       idGen,
		quotaFast:   newQuotaLimiters(),
	}
}

// ServeHTTP implements the full AUTH -> ... -> RESPOND state machine
// described for the proxied request surface.
func (ic *Interceptor) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := ic.now()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		slog.Error("interceptor: reading request body", "error", err)
		writeClientError(w, errProxyError())
		return
	}
	defer r.Body.Close()

	// --- AUTH ---
	tenant, cerr := ic.authenticate(r, body)
	if cerr != nil {
		writeClientError(w, cerr)
		metrics.RequestsTotal.WithLabelValues("auth_rejected").Inc()
		return
	}

	agentID := r.Header.Get(agentHeaderName)

	// --- AGENT_CHECK ---
	if agentID != "" {
		blocked, err := ic.agentBlocks.IsAgentBlocked(tenant.ID, agentID)
		if err != nil {
			slog.Warn("interceptor: agent block check failed, failing open", "error", err)
		} else if blocked {
			writeClientError(w, errAgentBlocked())
			metrics.RequestsTotal.WithLabelValues("agent_blocked").Inc()
			return
		}
	}

	// --- QUOTA_CHECK ---
	if !ic.quotaFast.allow(tenant.ID) {
		writeQuotaExceeded(w)
		metrics.RequestsTotal.WithLabelValues("quota_exceeded").Inc()
		return
	}
	if tenant.MonthlyEventCap > 0 {
		count, err := ic.quota.CountEventsInCurrentMonth(tenant.ID, start)
		if err != nil {
			slog.Warn("interceptor: quota check failed, failing open", "error", err)
		} else if count >= tenant.MonthlyEventCap {
			writeQuotaExceeded(w)
			metrics.RequestsTotal.WithLabelValues("quota_exceeded").Inc()
			return
		}
	}

	if agentID == "" {
		agentID = anonymousAgent
	}

	// --- FORWARD ---
	path := r.URL.Path
	clientSink := &httpSink{w: w}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	result, err := ic.forwarder.Forward(ctx, path, r.Header, body, clientSink)
	if err != nil {
		if errors.Is(err, forwarder.ErrUnsupportedProvider) {
			writeClientError(w, errUnsupportedProvider())
		} else {
			slog.Error("interceptor: forward failed", "error", err)
			writeClientError(w, errProxyError())
		}
		metrics.RequestsTotal.WithLabelValues("upstream_error").Inc()
		return
	}

	// --- ACCOUNT / PERSIST_INITIAL / ANALYZE / PERSIST_FINAL / PUBLISH ---
	ev, decision, pipelineErr := ic.accountAndAnalyze(tenant.ID, agentID, path, body, result, start)
	if pipelineErr != nil {
		if !clientSink.headersSent {
			// Fail-open: re-run the upstream call without analysis and relay
			// it raw, rather than failing a request upstream already
			// answered successfully just because our own bookkeeping broke.
			slog.Error("interceptor: pipeline failed before headers were sent, falling open", "error", pipelineErr)
			ic.failOpen(ctx, w, r, path, body)
			metrics.RequestsTotal.WithLabelValues("fail_open").Inc()
			return
		}
		slog.Error("interceptor: pipeline failed after headers were sent", "error", pipelineErr)
		metrics.RequestsTotal.WithLabelValues("ok_unanalyzed").Inc()
		return
	}

	// --- RESPOND ---
	if !result.Streamed {
		respondBuffered(w, result, ev.ID, decision)
	}

	metrics.RequestsTotal.WithLabelValues("ok").Inc()
}

// failOpen re-issues the upstream call with no client sink wired to
// analysis, buffering the whole response and relaying it verbatim.
func (ic *Interceptor) failOpen(ctx context.Context, w http.ResponseWriter, r *http.Request, path string, body []byte) {
	result, err := ic.forwarder.Forward(ctx, path, r.Header, body, nil)
	if err != nil {
		writeClientError(w, errProxyError())
		return
	}
	writeRaw(w, result)
}

// authenticate implements AUTH: tenant key from header, falling back to
// the body's apiKey field; lookup; blocked-tenant rejection.
func (ic *Interceptor) authenticate(r *http.Request, body []byte) (Tenant, *clientError) {
	key := r.Header.Get(keyHeaderName)
	if key == "" {
		key = gjson.GetBytes(body, "apiKey").String()
	}
	if key == "" {
		return Tenant{}, errAuthRequired()
	}

	tenant, ok, err := ic.tenants.LookupByKey(key)
	if err != nil {
		slog.Error("interceptor: tenant lookup failed", "error", err)
		return Tenant{}, errAuthInvalid()
	}
	if !ok || tenant.Blocked {
		return Tenant{}, errAuthInvalid()
	}
	return tenant, nil
}

// accountAndAnalyze runs ACCOUNT through PUBLISH and returns the persisted
// event and its final security decision. A non-nil error means a
// PersistenceFault: the caller decides whether it's still safe to fail
// open based on whether headers have already reached the client.
func (ic *Interceptor) accountAndAnalyze(tenantID, agentID, path string, reqBody []byte, result forwarder.Result, start time.Time) (*sink.LoggedEvent, combiner.Decision, error) {
	model := gjson.GetBytes(reqBody, "model").String()
	u := parseUsage(result.RawResponse)
	costUSD := pricing.Cost(model, u.PromptTokens, u.CompletionTokens)
	toolNames := extractToolNames(reqBody)

	ev := &sink.LoggedEvent{
		ID:               ic.idGen(),
		Timestamp:        start,
		TenantID:         tenantID,
		AgentID:          agentID,
		Model:            model,
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		CostUSD:          costUSD,
		LatencyMS:        result.LatencyMS,
		ToolNames:        toolNames,
		RequestSHA256:    sha256Hex(reqBody),
		ResponsePreview:  previewResponse(result.RawResponse),
		RawRequest:       reqBody,
		RawResponse:      result.RawResponse,
	}

	if err := ic.events.Insert(ev); err != nil {
		return nil, combiner.Decision{}, err
	}

	provider := "openai"
	if path == "/v1/messages" {
		provider = "anthropic"
	}
	metrics.UpstreamLatency.WithLabelValues(provider).Observe(float64(result.LatencyMS) / 1000)

	analyzeStart := time.Now()
	decision := runPipeline(ic.windows, ic.policy, analysisInput{
		TenantID:        tenantID,
		AgentID:         agentID,
		Model:           model,
		RawRequest:      reqBody,
		RawResponse:     result.RawResponse,
		CostUSD:         costUSD,
		ToolNames:       toolNames,
		ResponseIsError: anomaly.IsErrorResponse(result.RawResponse),
	}, start)
	metrics.PipelineLatency.Observe(time.Since(analyzeStart).Seconds())

	if err := ic.events.UpdateSecurityResult(ev.ID, decision.Risk, decision.Blocked, decision.Flags); err != nil {
		return nil, combiner.Decision{}, err
	}

	ev.RiskScore = decision.Risk
	ev.Blocked = decision.Blocked
	ev.Flags = decision.Flags
	ic.publisher.Publish(tenantID, ev)

	if decision.Blocked {
		metrics.BlockedTotal.Inc()
	}

	return ev, decision, nil
}
