package forwarder

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

type fakeSink struct {
	status  int
	headers http.Header
	chunks  [][]byte
}

func (f *fakeSink) WriteHeader(status int, headers http.Header) {
	f.status = status
	f.headers = headers
}

func (f *fakeSink) WriteChunk(p []byte) (int, error) {
	cp := make([]byte, len(p))
	copy(cp, p)
	f.chunks = append(f.chunks, cp)
	return len(p), nil
}

func TestUnsupportedProviderPath(t *testing.T) {
	f := New(http.DefaultClient, Config{})
	_, err := f.Forward(context.Background(), "/v1/unknown", http.Header{}, nil, nil)
	if err != ErrUnsupportedProvider {
		t.Fatalf("expected ErrUnsupportedProvider, got %v", err)
	}
}

func TestBufferedPassthrough(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Upstream", "yes")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"choices":[{"message":{"content":"hi"}}]}`))
	}))
	defer upstream.Close()

	dispatchTable["/v1/chat/completions"] = dispatchTarget{
		upstreamURL: upstream.URL,
		applyAuth:   dispatchTable["/v1/chat/completions"].applyAuth,
	}

	f := New(upstream.Client(), Config{OpenAIAPIKey: "sk-test"})
	res, err := f.Forward(context.Background(), "/v1/chat/completions", http.Header{}, []byte(`{"model":"gpt-4o"}`), nil)
	if err != nil {
		t.Fatalf("Forward returned error: %v", err)
	}
	if res.Streamed {
		t.Fatalf("expected buffered relay, got streamed")
	}
	if res.Status != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Status)
	}
	if string(res.RawResponse) != `{"choices":[{"message":{"content":"hi"}}]}` {
		t.Fatalf("unexpected body: %s", res.RawResponse)
	}
}

func TestStreamingDecisionOnContentType(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		fl, _ := w.(http.Flusher)
		w.Write([]byte("data: chunk1\n\n"))
		fl.Flush()
		w.Write([]byte("data: chunk2\n\n"))
		fl.Flush()
		w.Write([]byte("data: chunk3\n\n"))
	}))
	defer upstream.Close()

	dispatchTable["/v1/messages"] = dispatchTarget{
		upstreamURL: upstream.URL,
		applyAuth:   dispatchTable["/v1/messages"].applyAuth,
	}

	f := New(upstream.Client(), Config{AnthropicAPIKey: "test"})
	sink := &fakeSink{}
	res, err := f.Forward(context.Background(), "/v1/messages", http.Header{}, []byte(`{"model":"claude"}`), sink)
	if err != nil {
		t.Fatalf("Forward returned error: %v", err)
	}
	if !res.Streamed {
		t.Fatalf("expected streamed relay")
	}
	if sink.status != http.StatusOK {
		t.Fatalf("expected sink header flushed with 200, got %d", sink.status)
	}
	if len(sink.chunks) == 0 {
		t.Fatalf("expected at least one chunk written to sink")
	}
	want := "data: chunk1\n\ndata: chunk2\n\ndata: chunk3\n\n"
	if string(res.RawResponse) != want {
		t.Fatalf("expected raw_response %q, got %q", want, res.RawResponse)
	}
}

func TestStreamingDecisionOnRequestBodyStreamField(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fl, _ := w.(http.Flusher)
		w.Write([]byte("partial"))
		fl.Flush()
	}))
	defer upstream.Close()

	dispatchTable["/v1/chat/completions"] = dispatchTarget{
		upstreamURL: upstream.URL,
		applyAuth:   dispatchTable["/v1/chat/completions"].applyAuth,
	}

	f := New(upstream.Client(), Config{OpenAIAPIKey: "sk-test"})
	sink := &fakeSink{}
	res, err := f.Forward(context.Background(), "/v1/chat/completions", http.Header{}, []byte(`{"model":"gpt-4o","stream":true}`), sink)
	if err != nil {
		t.Fatalf("Forward returned error: %v", err)
	}
	if !res.Streamed {
		t.Fatalf("expected streamed relay triggered by request body stream:true")
	}
}

func TestNoSinkForcesBuffered(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("data: x\n\n"))
	}))
	defer upstream.Close()

	dispatchTable["/v1/messages"] = dispatchTarget{
		upstreamURL: upstream.URL,
		applyAuth:   dispatchTable["/v1/messages"].applyAuth,
	}

	f := New(upstream.Client(), Config{AnthropicAPIKey: "test"})
	res, err := f.Forward(context.Background(), "/v1/messages", http.Header{}, []byte(`{}`), nil)
	if err != nil {
		t.Fatalf("Forward returned error: %v", err)
	}
	if res.Streamed {
		t.Fatalf("expected buffered relay when no client sink is supplied")
	}
}

func TestHopByHopHeadersNotForwarded(t *testing.T) {
	var gotConnection string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotConnection = r.Header.Get("Connection")
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	dispatchTable["/v1/chat/completions"] = dispatchTarget{
		upstreamURL: upstream.URL,
		applyAuth:   dispatchTable["/v1/chat/completions"].applyAuth,
	}

	f := New(upstream.Client(), Config{OpenAIAPIKey: "sk-test"})
	reqHeaders := http.Header{"Connection": []string{"keep-alive"}}
	_, err := f.Forward(context.Background(), "/v1/chat/completions", reqHeaders, []byte(`{}`), nil)
	if err != nil {
		t.Fatalf("Forward returned error: %v", err)
	}
	if gotConnection != "" {
		t.Fatalf("expected Connection header stripped, upstream saw %q", gotConnection)
	}
}
