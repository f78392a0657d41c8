package interceptor

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/redteamingai/proxy/internal/anomaly"
	"github.com/redteamingai/proxy/internal/combiner"
	"github.com/redteamingai/proxy/internal/policy"
	"github.com/redteamingai/proxy/internal/scanner"
	"github.com/redteamingai/proxy/internal/slidingwindow"
)

// analysisInput bundles everything the three engines need, already parsed
// once so no engine re-derives it.
type analysisInput struct {
	TenantID        string
	AgentID         string
	Model           string
	RawRequest      []byte
	RawResponse     []byte
	CostUSD         float64
	ToolNames       []string
	ResponseIsError bool
}

// runPipeline fans the anomaly, scanner, and policy engines out
// concurrently (the design permits this at the implementer's discretion)
// and blends their results with the Combiner. now is the Sliding-Window
// Store's clock.
func runPipeline(windows *slidingwindow.Store, policyEngine *policy.Engine, in analysisInput, now time.Time) combiner.Decision {
	var (
		wg            sync.WaitGroup
		anomalyResult anomaly.Result
		scannerResult scanner.Result
		policyResult  policy.Result
	)

	wg.Add(3)

	go func() {
		defer wg.Done()
		window := windows.Window(in.TenantID, in.AgentID)
		anomalyResult = anomaly.Evaluate(window, anomaly.Event{
			RawRequestLen:   len(in.RawRequest),
			CostUSD:         in.CostUSD,
			ToolNames:       in.ToolNames,
			ResponseIsError: in.ResponseIsError,
		}, now)
	}()

	go func() {
		defer wg.Done()
		scannerResult = scanner.Scan(in.RawRequest)
	}()

	go func() {
		defer wg.Done()
		var event map[string]any
		_ = json.Unmarshal(in.RawRequest, &event) // malformed payload -> nil event, never fatal.

		res, err := policyEngine.Evaluate(in.TenantID, policy.EvalContext{
			Event:   event,
			Tools:   in.ToolNames,
			Model:   in.Model,
			Cost:    in.CostUSD,
			AgentID: in.AgentID,
		})
		if err != nil {
			// A Store failure degrades to "no rules evaluated", matching the
			// fail-open contract: policy absence never blocks a request.
			res = policy.Result{Action: policy.ActionAllow}
		}
		policyResult = res
	}()

	wg.Wait()

	return combiner.Combine(anomalyResult, scannerResult, policyResult)
}
