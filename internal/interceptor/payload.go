package interceptor

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/tidwall/gjson"
)

// extractToolNames reads the requested tool names out of the raw request
// body, recognizing both the OpenAI shape (tools[].function.name) and the
// Anthropic shape (tools[].name). Repeated names are kept, so the Anomaly
// Engine can count them. The result is shared between the Anomaly Engine
// and the Policy Engine's bound context; the Scanner walks the raw request
// on its own.
func extractToolNames(raw []byte) []string {
	var names []string
	add := func(name string) {
		if name != "" {
			names = append(names, name)
		}
	}

	for _, t := range gjson.GetBytes(raw, "tools").Array() {
		if fn := t.Get("function.name"); fn.Exists() {
			add(fn.String())
			continue
		}
		if n := t.Get("name"); n.Exists() {
			add(n.String())
		}
	}
	return names
}

// usage is the parsed prompt/completion token counts out of an upstream
// response, tolerant of both OpenAI and Anthropic field names. Malformed
// or absent usage data resolves to zero, never an error.
type usage struct {
	PromptTokens     int
	CompletionTokens int
}

func parseUsage(raw []byte) usage {
	prompt := gjson.GetBytes(raw, "usage.prompt_tokens")
	if !prompt.Exists() {
		prompt = gjson.GetBytes(raw, "usage.input_tokens")
	}
	completion := gjson.GetBytes(raw, "usage.completion_tokens")
	if !completion.Exists() {
		completion = gjson.GetBytes(raw, "usage.output_tokens")
	}
	return usage{
		PromptTokens:     int(prompt.Int()),
		CompletionTokens: int(completion.Int()),
	}
}

// sha256Hex returns the hex-encoded SHA-256 digest of raw, used for the
// LoggedEvent's request_sha256 field.
func sha256Hex(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// previewResponse truncates raw to its first 256 characters (bytes, for
// this ASCII/UTF-8-safe-enough purpose) for the LoggedEvent's response
// preview field.
func previewResponse(raw []byte) string {
	const maxLen = 256
	if len(raw) <= maxLen {
		return string(raw)
	}
	return string(raw[:maxLen])
}
