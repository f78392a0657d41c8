// Package forwarder implements the Upstream Forwarder: dispatch-by-path
// relay to the OpenAI or Anthropic API, with byte-accurate streaming or
// buffered passthrough.
package forwarder

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// hopByHopHeaders must never be copied across a proxy hop.
var hopByHopHeaders = map[string]bool{
	"Connection":          true,
	"Keep-Alive":          true,
	"Proxy-Authenticate":  true,
	"Proxy-Authorization": true,
	"Te":                  true,
	"Trailers":            true,
	"Transfer-Encoding":   true,
	"Upgrade":             true,
}

// ErrUnsupportedProvider is returned when the request path matches neither
// dispatch target.
var ErrUnsupportedProvider = fmt.Errorf("forwarder: unsupported provider path")

// Config carries the upstream credentials, read once at startup from the
// environment.
type Config struct {
	OpenAIAPIKey    string
	AnthropicAPIKey string

	// Overrides redirects a dispatch path to an arbitrary upstream URL with
	// no auth header applied, bypassing the built-in provider table. Used by
	// tests that stand a local httptest.Server in for the real provider; the
	// zero value leaves the built-in dispatch table untouched.
	Overrides map[string]string
}

// Sink is the minimal surface the Forwarder needs to stream bytes to the
// client as they arrive.
type Sink interface {
	// WriteHeader flushes status and headers; called at most once, before
	// any WriteChunk call.
	WriteHeader(status int, headers http.Header)
	WriteChunk(p []byte) (int, error)
}

// Result is the Forwarder's contract output.
type Result struct {
	Status     int
	Headers    http.Header
	RawRequest []byte
	RawResponse []byte
	LatencyMS  int64
	Streamed   bool
}

type dispatchTarget struct {
	upstreamURL string
	applyAuth   func(h http.Header, cfg Config)
}

var dispatchTable = map[string]dispatchTarget{
	"/v1/chat/completions": {
		upstreamURL: "https://api.openai.com/v1/chat/completions",
		applyAuth: func(h http.Header, cfg Config) {
			h.Set("Authorization", "Bearer "+cfg.OpenAIAPIKey)
		},
	},
	"/v1/messages": {
		upstreamURL: "https://api.anthropic.com/v1/messages",
		applyAuth: func(h http.Header, cfg Config) {
			h.Set("x-api-key", cfg.AnthropicAPIKey)
			h.Set("anthropic-version", "2023-06-01")
		},
	},
}

// Forwarder relays one request to its upstream LLM provider.
type Forwarder struct {
	client *http.Client
	cfg    Config
}

// New builds a Forwarder with the given upstream client (the caller
// controls timeouts/transport) and provider credentials.
func New(client *http.Client, cfg Config) *Forwarder {
	return &Forwarder{client: client, cfg: cfg}
}

// Forward dispatches path to its upstream target, sends body verbatim, and
// relays the response either streamed through sink or fully buffered.
// sink may be nil, which forces buffered handling regardless of the
// upstream's own streaming decision.
func (f *Forwarder) Forward(ctx context.Context, path string, headers http.Header, body []byte, sink Sink) (Result, error) {
	target, ok := dispatchTable[path]
	if url, overridden := f.cfg.Overrides[path]; overridden {
		target = dispatchTarget{upstreamURL: url, applyAuth: func(http.Header, Config) {}}
		ok = true
	}
	if !ok {
		return Result{}, ErrUnsupportedProvider
	}

	start := time.Now()

	upstreamReq, err := http.NewRequestWithContext(ctx, http.MethodPost, target.upstreamURL, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("forwarder: building upstream request: %w", err)
	}
	copyHeaders(upstreamReq.Header, headers)
	target.applyAuth(upstreamReq.Header, f.cfg)
	upstreamReq.ContentLength = int64(len(body))

	resp, err := f.client.Do(upstreamReq)
	if err != nil {
		return Result{}, fmt.Errorf("forwarder: calling upstream %s: %w", target.upstreamURL, err)
	}
	defer resp.Body.Close()

	respHeaders := make(http.Header)
	copyResponseHeaders(respHeaders, resp.Header)

	shouldStream := sink != nil && wantsStreaming(resp, body)

	if shouldStream {
		return f.relayStreamed(resp, respHeaders, sink, start)
	}
	return f.relayBuffered(resp, respHeaders, start)
}

// wantsStreaming implements the streaming decision: the upstream declares
// an event-stream content type, or the caller's own request body asked
// for stream:true.
func wantsStreaming(resp *http.Response, requestBody []byte) bool {
	if strings.Contains(resp.Header.Get("Content-Type"), "text/event-stream") {
		return true
	}
	return gjson.GetBytes(requestBody, "stream").Bool()
}

func (f *Forwarder) relayStreamed(resp *http.Response, headers http.Header, sink Sink, start time.Time) (Result, error) {
	sink.WriteHeader(resp.StatusCode, headers)

	var buf bytes.Buffer
	chunk := make([]byte, 32*1024)
	firstByteAt := time.Time{}

	for {
		n, readErr := resp.Body.Read(chunk)
		if n > 0 {
			if firstByteAt.IsZero() {
				firstByteAt = time.Now()
			}
			buf.Write(chunk[:n])
			if _, werr := sink.WriteChunk(chunk[:n]); werr != nil {
				// Headers are already flushed; the copy stops and the write
				// error is not returned, so the bytes read so far are still
				// analyzed and persisted.
				break
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			break
		}
	}

	latency := int64(0)
	if !firstByteAt.IsZero() {
		latency = firstByteAt.Sub(start).Milliseconds()
	} else {
		latency = time.Since(start).Milliseconds()
	}

	return Result{
		Status:      resp.StatusCode,
		Headers:     headers,
		RawResponse: buf.Bytes(),
		LatencyMS:   latency,
		Streamed:    true,
	}, nil
}

func (f *Forwarder) relayBuffered(resp *http.Response, headers http.Header, start time.Time) (Result, error) {
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, fmt.Errorf("forwarder: reading upstream body: %w", err)
	}
	return Result{
		Status:      resp.StatusCode,
		Headers:     headers,
		RawResponse: raw,
		LatencyMS:   time.Since(start).Milliseconds(),
		Streamed:    false,
	}, nil
}

func copyHeaders(dst, src http.Header) {
	for key, values := range src {
		if hopByHopHeaders[key] || strings.EqualFold(key, "Host") {
			continue
		}
		for _, v := range values {
			dst.Add(key, v)
		}
	}
}

func copyResponseHeaders(dst, src http.Header) {
	for key, values := range src {
		if hopByHopHeaders[key] || strings.EqualFold(key, "Transfer-Encoding") {
			continue
		}
		for _, v := range values {
			dst.Add(key, v)
		}
	}
}
