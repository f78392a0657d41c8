package interceptor

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/redteamingai/proxy/internal/combiner"
	"github.com/redteamingai/proxy/internal/forwarder"
)

// writeClientError is the only place a *clientError reaches the wire.
func writeClientError(w http.ResponseWriter, err *clientError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":  err.code,
		"detail": err.detail,
	})
}

// writeQuotaExceeded writes the 429/PLAN_LIMIT response, including the
// upgrade link the spec's QUOTA_CHECK response carries.
func writeQuotaExceeded(w http.ResponseWriter) {
	err := errPlanLimit()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":      err.code,
		"detail":     err.detail,
		"upgradeUrl": "https://redteamingai.com/billing/upgrade",
	})
}

// respondBuffered writes a buffered forwarder.Result to the client. A
// blocked decision replaces the upstream body with a 403 JSON envelope;
// an allowed decision relays the upstream status/body verbatim and adds
// the event-id/risk-score headers.
func respondBuffered(w http.ResponseWriter, result forwarder.Result, eventID string, decision combiner.Decision) {
	if decision.Blocked {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set(eventIDHeader, eventID)
		w.Header().Set(riskScoreHeader, strconv.Itoa(decision.Risk))
		w.WriteHeader(http.StatusForbidden)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error":     "BLOCKED",
			"eventId":   eventID,
			"riskScore": decision.Risk,
			"flags":     decision.Flags,
		})
		return
	}

	for k, vs := range result.Headers {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.Header().Set(eventIDHeader, eventID)
	w.Header().Set(riskScoreHeader, strconv.Itoa(decision.Risk))
	w.WriteHeader(result.Status)
	_, _ = w.Write(result.RawResponse)
}

// writeRaw relays a forwarder.Result verbatim, with no security headers.
// Used on the fail-open path, where no analysis ever ran.
func writeRaw(w http.ResponseWriter, result forwarder.Result) {
	for k, vs := range result.Headers {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(result.Status)
	_, _ = w.Write(result.RawResponse)
}
