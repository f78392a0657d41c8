// Package main is the CLI entry point for redteamproxy — an inline security
// proxy for LLM traffic. It sits between an agent's HTTP client and the
// upstream LLM provider (OpenAI/Anthropic), relays and inspects every
// call against an anomaly/injection/policy pipeline, persists a full audit
// trail, and streams live decisions to subscribed dashboards over
// WebSocket.
//
// Architecture overview:
//
//	agent --> redteamproxy (:PORT)        --> LLM provider (OpenAI/Anthropic)
//	              |                             |
//	              +-- AUTH / AGENT_CHECK / QUOTA_CHECK
//	              |-- FORWARD (buffered or streamed passthrough)
//	              |-- ACCOUNT / PERSIST_INITIAL
//	              |-- ANALYZE (anomaly + injection scanner + policy, blended)
//	              |-- PERSIST_FINAL / PUBLISH (live subscribers on :API_PORT)
//	              +-- RESPOND (allow verbatim, or replace with 403 BLOCKED)
//
// CLI commands (cobra):
//
//	redteamproxy serve         - Run the proxy in the foreground
//	redteamproxy start [-d]    - Start the proxy (foreground or daemon)
//	redteamproxy stop          - Stop a running proxy
//	redteamproxy status        - Show whether the proxy is running
//	redteamproxy rules test    - Smoke-test a policy condition against a JSON event
//	redteamproxy rules list    - List a tenant's policy rules
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/redteamingai/proxy/internal/config"
	"github.com/redteamingai/proxy/internal/forwarder"
	"github.com/redteamingai/proxy/internal/interceptor"
	"github.com/redteamingai/proxy/internal/policy"
	"github.com/redteamingai/proxy/internal/sink"
	"github.com/redteamingai/proxy/internal/slidingwindow"
)

// Build-time variables injected via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123 -X main.buildDate=2026-02-10"
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

// defaultConfigDir returns the path to ~/.redteamproxy/ where the watched
// YAML override files (pricing.yaml, injection_dictionary.yaml) and the
// PID/log files for daemon mode live.
func defaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".redteamproxy"
	}
	return filepath.Join(home, ".redteamproxy")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// ============================================================================
// Root command
// ============================================================================

// configDir is the global flag for the watched override directory and
// daemon state (PID file, log file). The operational server settings
// themselves (PORT, API_PORT, DATABASE_PATH, provider keys) come from the
// environment per the Environment configuration contract, not this flag.
var configDir string

var rootCmd = &cobra.Command{
	Use:   "redteamproxy",
	Short: "redteamproxy — inline security proxy for LLM traffic",
	Long: `redteamproxy is a transparent HTTP proxy that sits between an agent's
HTTP client and the upstream LLM provider. It relays and inspects every
call against an anomaly/injection/policy pipeline, blocks the ones that
cross the line, and audits everything.

Run 'redteamproxy serve' to run in the foreground, or 'redteamproxy start -d'
to run as a background daemon.`,
	Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&configDir,
		"config-dir",
		defaultConfigDir(),
		"Path to the watched override directory and daemon state",
	)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(rulesCmd)
}

// ============================================================================
// redteamproxy serve / start — run the proxy
// ============================================================================

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the proxy in the foreground",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

var daemonMode bool

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the proxy (foreground by default, background with -d)",
	Long: `Start the proxy. By default runs in the foreground exactly like 'serve'.
Use -d to fork into the background as a daemon, logging to
<config-dir>/redteamproxy.log and tracked via <config-dir>/redteamproxy.pid.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if daemonMode && os.Getenv("REDTEAMPROXY_DAEMON") != "1" {
			return spawnDaemon()
		}
		return runServe()
	},
}

func init() {
	startCmd.Flags().BoolVarP(&daemonMode, "daemon", "d", false, "Run in daemon/background mode")
}

// runServe wires together every component named in the system overview and
// blocks until SIGINT/SIGTERM or the loopback-only /internal/shutdown
// endpoint fires.
//
//  1. Load server config from the environment (PORT, API_PORT, DATABASE_PATH,
//     provider keys)
//  2. Open the Event Sink's SQLite store and start the YAML override watcher
//  3. Wire the Sliding-Window Store, Policy Engine, Forwarder, Broadcaster
//  4. Build the Interceptor and mount it on the two proxied routes
//  5. Mount /health on the proxy port; /metrics, /ws, /internal/shutdown on
//     the API port
//  6. Schedule the Sliding-Window Store's eviction sweep via cron
//  7. Write the PID file, start both listeners, and block on shutdown
func runServe() error {
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory %s: %w", configDir, err)
	}

	cfg, err := config.LoadServerConfig()
	if err != nil {
		return fmt.Errorf("failed to load server config: %w", err)
	}

	watcher, err := config.NewWatcher(configDir)
	if err != nil {
		return fmt.Errorf("failed to start override watcher: %w", err)
	}
	defer watcher.Close()

	store, err := sink.Open(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to open event store: %w", err)
	}
	defer store.Close()

	windows := slidingwindow.New()
	policyEngine := policy.New(store)
	broadcaster := sink.NewBroadcaster()

	upstreamTransport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     120 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		ForceAttemptHTTP2:   true,
	}
	upstreamClient := &http.Client{
		Transport: upstreamTransport,
		// No Timeout — streaming responses can run for minutes. The
		// Forwarder relays bytes as they arrive; it never buffers a whole
		// slow stream before the client sees anything.
	}

	fwd := forwarder.New(upstreamClient, forwarder.Config{
		OpenAIAPIKey:    cfg.OpenAIAPIKey,
		AnthropicAPIKey: cfg.AnthropicAPIKey,
	})

	ic := interceptor.New(interceptor.Options{
		Tenants:     interceptor.SinkTenantLookup{Store: store},
		AgentBlocks: store,
		Quota:       store,
		Events:      store,
		Publisher:   broadcaster,
		Windows:     windows,
		Policy:      policyEngine,
		Forwarder:   fwd,
	})

	// --- Proxy listener: the two proxied routes only ---
	proxyMux := http.NewServeMux()
	proxyMux.Handle("/v1/chat/completions", ic)
	proxyMux.Handle("/v1/messages", ic)
	proxyMux.HandleFunc("/health", healthHandler)

	proxyServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           proxyMux,
		ReadHeaderTimeout: 10 * time.Second,
		// No WriteTimeout/ReadTimeout — a buffered analysis call can take
		// as long as the upstream provider takes, and a streamed one can
		// run for minutes.
	}

	// --- API listener: subscriber channel, metrics, loopback shutdown ---
	apiMux := http.NewServeMux()
	tenantLookup := interceptor.SinkTenantLookup{Store: store}
	apiMux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		handleSubscribe(w, r, tenantLookup, broadcaster)
	})
	apiMux.Handle("/metrics", promhttp.Handler())

	shutdownCh := make(chan struct{}, 1)
	apiMux.HandleFunc("/internal/shutdown", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST only", http.StatusMethodNotAllowed)
			return
		}
		if !isLoopback(r.RemoteAddr) {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, `{"status":"shutting_down"}`)
		select {
		case shutdownCh <- struct{}{}:
		default:
		}
	})

	apiServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.APIPort),
		Handler:           apiMux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// --- Sliding-Window Store eviction sweep ---
	// Scheduled as a cron expression rather than a raw ticker so operators
	// have a single place to retune the cadence without a code change.
	sweeper := cron.New()
	if _, err := sweeper.AddFunc("@every 1m", func() { windows.Evict(time.Now()) }); err != nil {
		return fmt.Errorf("failed to schedule eviction sweep: %w", err)
	}
	sweeper.Start()
	defer sweeper.Stop()

	pidFile := filepath.Join(configDir, "redteamproxy.pid")
	if err := writePIDFile(pidFile); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}
	defer removePIDFile(pidFile)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 2)
	go func() {
		fmt.Printf("[redteamproxy] Proxy listening on :%d\n", cfg.Port)
		errCh <- proxyServer.ListenAndServe()
	}()
	go func() {
		fmt.Printf("[redteamproxy] API listening on :%d\n", cfg.APIPort)
		errCh <- apiServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		fmt.Println("\n[redteamproxy] Shutting down (signal received)...")
	case <-shutdownCh:
		fmt.Println("[redteamproxy] Shutting down (stop command received)...")
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := proxyServer.Shutdown(shutdownCtx); err != nil {
		fmt.Fprintf(os.Stderr, "[redteamproxy] Proxy shutdown error: %v\n", err)
	}
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		fmt.Fprintf(os.Stderr, "[redteamproxy] API shutdown error: %v\n", err)
	}

	fmt.Println("[redteamproxy] Stopped")
	return nil
}

// healthHandler implements GET /health.
func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"ok","uptime":%d}`, int64(time.Since(processStart).Seconds()))
}

var processStart = time.Now()

// handleSubscribe authenticates the tenant key query parameter, then hands
// the connection to the Broadcaster's websocket upgrade.
func handleSubscribe(w http.ResponseWriter, r *http.Request, tenants interceptor.TenantLookup, b *sink.Broadcaster) {
	key := r.URL.Query().Get("key")
	if key == "" {
		http.Error(w, "missing key", http.StatusUnauthorized)
		return
	}
	tenant, ok, err := tenants.LookupByKey(key)
	if err != nil || !ok || tenant.Blocked {
		http.Error(w, "invalid key", http.StatusUnauthorized)
		return
	}
	b.HandleWebSocket(tenant.ID, w, r)
}

// spawnDaemon re-executes the redteamproxy binary as a detached background
// process, the same re-exec-plus-env-sentinel pattern used for every Go
// daemon in this codebase's lineage: Go can't fork() safely because its
// runtime is multi-threaded, so a clean process restart stands in for fork.
func spawnDaemon() error {
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	exePath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to find executable path: %w", err)
	}

	logPath := filepath.Join(configDir, "redteamproxy.log")
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open log file %s: %w", logPath, err)
	}
	defer logFile.Close()

	daemonArgs := []string{"start"}
	if configDir != defaultConfigDir() {
		daemonArgs = append(daemonArgs, "--config-dir", configDir)
	}

	child := exec.Command(exePath, daemonArgs...)
	child.Stdout = logFile
	child.Stderr = logFile
	child.Env = append(os.Environ(), "REDTEAMPROXY_DAEMON=1")

	if err := child.Start(); err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	fmt.Printf("[redteamproxy] Started in background (PID %d)\n", child.Process.Pid)
	fmt.Printf("[redteamproxy] Log file: %s\n", logPath)
	fmt.Println("[redteamproxy] Use 'redteamproxy stop' to stop it")

	if err := child.Process.Release(); err != nil {
		fmt.Fprintf(os.Stderr, "[redteamproxy] Warning: failed to release child process: %v\n", err)
	}
	return nil
}

func writePIDFile(path string) error {
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func removePIDFile(path string) {
	os.Remove(path)
}

// isLoopback reports whether remoteAddr ("ip:port") is a loopback address.
// Used to restrict /internal/shutdown to local-only callers.
func isLoopback(remoteAddr string) bool {
	host := remoteAddr
	if idx := strings.LastIndex(remoteAddr, ":"); idx != -1 {
		host = remoteAddr[:idx]
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	return host == "127.0.0.1" || host == "::1" || strings.HasPrefix(host, "127.")
}

// ============================================================================
// redteamproxy stop — stop the proxy server
// ============================================================================

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop a running redteamproxy",
	Long: `Stop a running proxy. Tries HTTP shutdown first (cross-platform),
then falls back to PID file + SIGTERM on Unix systems.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStop()
	},
}

func runStop() error {
	cfg, err := config.LoadServerConfig()
	if err != nil {
		return fmt.Errorf("failed to load server config: %w", err)
	}

	addr := fmt.Sprintf("http://127.0.0.1:%d", cfg.APIPort)
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Post(addr+"/internal/shutdown", "application/json", nil)
	if err == nil {
		defer resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			fmt.Println("[redteamproxy] Stop signal sent")
			os.Remove(filepath.Join(configDir, "redteamproxy.pid"))
			return nil
		}
	}

	if runtime.GOOS == "windows" {
		return fmt.Errorf("proxy is not responding at %s — cannot stop", addr)
	}

	pidFile := filepath.Join(configDir, "redteamproxy.pid")
	pidBytes, err := os.ReadFile(pidFile)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("proxy is not running (no PID file and HTTP unreachable)")
		}
		return fmt.Errorf("failed to read PID file: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(pidBytes)))
	if err != nil {
		return fmt.Errorf("invalid PID in %s: %w", pidFile, err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("failed to find process %d: %w", pid, err)
	}
	if err := process.Signal(syscall.SIGTERM); err != nil {
		os.Remove(pidFile)
		return fmt.Errorf("failed to stop proxy (PID %d): %w", pid, err)
	}

	os.Remove(pidFile)
	fmt.Printf("[redteamproxy] Sent stop signal (PID %d)\n", pid)
	return nil
}

// ============================================================================
// redteamproxy status — show proxy status
// ============================================================================

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether the proxy is running",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStatus()
	},
}

func runStatus() error {
	cfg, err := config.LoadServerConfig()
	if err != nil {
		return fmt.Errorf("failed to load server config: %w", err)
	}

	addr := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Port)
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(addr)
	if err != nil {
		fmt.Println("[redteamproxy] Status: NOT RUNNING")
		fmt.Printf("[redteamproxy] Expected at: %s\n", addr)
		return nil
	}
	defer resp.Body.Close()

	fmt.Println("[redteamproxy] Status: RUNNING")
	fmt.Printf("[redteamproxy] Proxy port: %d, API port: %d\n", cfg.Port, cfg.APIPort)
	return nil
}

// ============================================================================
// redteamproxy rules — policy condition admin commands
// ============================================================================

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Inspect and smoke-test policy conditions",
	Long: `PolicyRule CRUD itself lives outside this core (an external collaborator's
read/write API owns it). These commands only read the persisted rule set
and smoke-test a condition expression against a hand-built context, the
same sandbox every live request is evaluated under.`,
}

func init() {
	rulesCmd.AddCommand(rulesTestCmd)
	rulesCmd.AddCommand(rulesListCmd)
}

var (
	rulesTestEvent   string
	rulesTestTools   string
	rulesTestModel   string
	rulesTestCost    float64
	rulesTestAgentID string
)

var rulesTestCmd = &cobra.Command{
	Use:   "test <condition>",
	Short: "Smoke-test a policy condition against a hand-built event context",
	Long: `Evaluate a condition expression (the same ECMAScript subset a PolicyRule's
condition field holds) against a bound context, without ever persisting it
as a PolicyRule.

Example:
  redteamproxy rules test 'cost > 1.0 && tools.includes("exec")' \
    --event '{"model":"gpt-4"}' --tools exec,read_file --cost 1.5`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var event map[string]any
		if rulesTestEvent != "" {
			if err := json.Unmarshal([]byte(rulesTestEvent), &event); err != nil {
				return fmt.Errorf("invalid --event JSON: %w", err)
			}
		}

		var tools []string
		if rulesTestTools != "" {
			tools = strings.Split(rulesTestTools, ",")
		}

		matched := policy.TestCondition(args[0], policy.EvalContext{
			Event:   event,
			Tools:   tools,
			Model:   rulesTestModel,
			Cost:    rulesTestCost,
			AgentID: rulesTestAgentID,
		})

		if matched {
			fmt.Println("[redteamproxy] MATCHED")
		} else {
			fmt.Println("[redteamproxy] no match")
		}
		return nil
	},
}

func init() {
	rulesTestCmd.Flags().StringVar(&rulesTestEvent, "event", "", "JSON object bound as the `event` global")
	rulesTestCmd.Flags().StringVar(&rulesTestTools, "tools", "", "Comma-separated tool names bound as `tools`")
	rulesTestCmd.Flags().StringVar(&rulesTestModel, "model", "", "Model name bound as `model`")
	rulesTestCmd.Flags().Float64Var(&rulesTestCost, "cost", 0, "Cost in USD bound as `cost`")
	rulesTestCmd.Flags().StringVar(&rulesTestAgentID, "agent-id", "", "Agent ID bound as `agentId`")
}

var rulesListTenant string

var rulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List a tenant's enabled policy rules",
	RunE: func(cmd *cobra.Command, args []string) error {
		if rulesListTenant == "" {
			return fmt.Errorf("--tenant is required")
		}

		cfg, err := config.LoadServerConfig()
		if err != nil {
			return fmt.Errorf("failed to load server config: %w", err)
		}

		store, err := sink.Open(cfg.DatabasePath)
		if err != nil {
			return fmt.Errorf("failed to open event store: %w", err)
		}
		defer store.Close()

		rules, err := store.LoadEnabledRules(rulesListTenant)
		if err != nil {
			return fmt.Errorf("failed to load rules: %w", err)
		}
		if len(rules) == 0 {
			fmt.Println("No enabled rules for this tenant.")
			return nil
		}

		fmt.Printf("%-20s %-25s %-8s %-10s %s\n", "ID", "NAME", "ACTION", "SEVERITY", "CONDITION")
		fmt.Printf("%-20s %-25s %-8s %-10s %s\n", "--", "----", "------", "--------", "---------")
		for _, r := range rules {
			fmt.Printf("%-20s %-25s %-8s %-10s %s\n", r.ID, r.Name, r.Action, r.Severity, r.Condition)
		}
		return nil
	},
}

func init() {
	rulesListCmd.Flags().StringVar(&rulesListTenant, "tenant", "", "Tenant ID whose rules to list")
}
