package interceptor

import "net/http"

// httpSink adapts an http.ResponseWriter to forwarder.Sink, tracking
// whether headers have already been flushed so the fail-open path knows
// whether it is still safe to replace the response with a raw relay.
type httpSink struct {
	w           http.ResponseWriter
	headersSent bool
}

func (s *httpSink) WriteHeader(status int, headers http.Header) {
	dst := s.w.Header()
	for k, vs := range headers {
		dst[k] = vs
	}
	s.w.WriteHeader(status)
	s.headersSent = true
	if f, ok := s.w.(http.Flusher); ok {
		f.Flush()
	}
}

func (s *httpSink) WriteChunk(p []byte) (int, error) {
	n, err := s.w.Write(p)
	if f, ok := s.w.(http.Flusher); ok {
		f.Flush()
	}
	return n, err
}
