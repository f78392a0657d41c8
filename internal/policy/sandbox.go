package policy

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dop251/goja"
	"github.com/gobwas/glob"

	"github.com/redteamingai/proxy/internal/metrics"
)

// globCache memoizes compiled glob patterns across condition evaluations —
// the same compiled-once-at-load idiom the teacher's rule matcher uses for
// its path globs, adapted here since a condition's pattern argument is a
// runtime string rather than something loaded once from YAML.
var globCache sync.Map

func compiledGlob(pattern string) (glob.Glob, error) {
	if g, ok := globCache.Load(pattern); ok {
		return g.(glob.Glob), nil
	}
	g, err := glob.Compile(pattern)
	if err != nil {
		return nil, err
	}
	globCache.Store(pattern, g)
	return g, nil
}

// globMatch is bound into the sandbox as matchGlob(pattern, value), letting
// a condition test tool names (or any string) against a glob pattern
// without the sandbox itself gaining filesystem access.
func globMatch(pattern, value string) bool {
	g, err := compiledGlob(pattern)
	if err != nil {
		return false
	}
	return g.Match(value)
}

// conditionTimeout is the strict CPU-time cap every rule condition is
// evaluated under (design doc Section 4.5 / Section 9's "Sandbox" entry).
const conditionTimeout = 10 * time.Millisecond

// EvalContext is the bound context a condition is evaluated against:
// event, tools, model, cost, agentId, exactly as listed in the spec.
type EvalContext struct {
	Event   map[string]any
	Tools   []string
	Model   string
	Cost    float64
	AgentID string
}

// TestCondition exposes the sandbox to the CLI's `rules test` command, so a
// condition can be smoke-tested against a hand-built context without first
// persisting it as a PolicyRule.
func TestCondition(source string, ctx EvalContext) bool {
	return evaluateCondition(source, ctx)
}

// evaluateCondition runs source inside a fresh goja VM with only the bound
// context as globals, no I/O/filesystem/network surface, and a hard
// wall-clock cap enforced by interrupting the VM from a timer goroutine.
// Any error — parse failure, timeout, thrown exception — is converted to
// "did not match" and logged; it is never propagated to the caller.
func evaluateCondition(source string, ctx EvalContext) bool {
	vm := goja.New()
	vm.SetMaxCallStackSize(256)

	vm.Set("event", ctx.Event)
	vm.Set("tools", ctx.Tools)
	vm.Set("model", ctx.Model)
	vm.Set("cost", ctx.Cost)
	vm.Set("agentId", ctx.AgentID)
	vm.Set("matchGlob", globMatch)

	timer := time.AfterFunc(conditionTimeout, func() {
		metrics.SandboxTimeoutsTotal.Inc()
		vm.Interrupt("condition exceeded 10ms CPU budget")
	})
	defer timer.Stop()

	value, err := safeRun(vm, source)
	if err != nil {
		slog.Warn("policy condition sandbox fault", "error", err)
		return false
	}

	if value == nil {
		return false
	}
	matched, ok := value.Export().(bool)
	return ok && matched
}

// safeRun recovers from goja panics (e.g. stack overflow) in addition to
// returning its own errors, so a hostile condition can never crash the
// evaluating goroutine.
func safeRun(vm *goja.Runtime, source string) (v goja.Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("condition panicked: %v", r)
		}
	}()
	return vm.RunString(source)
}
