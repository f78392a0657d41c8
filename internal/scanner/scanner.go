// Package scanner implements the stateless Prompt-Injection Scanner: a
// phrase/regex/structural scan over every string leaf of a request payload,
// plus a handful of whole-request checks. Traversal of the nested JSON
// payload uses gjson rather than unmarshaling into map[string]any, avoiding
// an extra allocation pass on the hot path.
package scanner

import (
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
)

// MatchedPattern is one hit from any of the three scan layers.
type MatchedPattern struct {
	Name        string
	Layer       string // "phrase" | "regex" | "structural"
	Confidence  int
	MatchedText string // truncated to 180 chars.
}

// Result is the scanner's output for one request.
type Result struct {
	Matches           []MatchedPattern
	Confidence        int
	InjectionDetected bool
}

const maxMatchedTextLen = 180
const detectionThreshold = 40

var (
	ignoreAllPreviousRe = regexp.MustCompile(`(?i)ignore\s+all\s+previous`)
	youAreNowRe         = regexp.MustCompile(`(?i)\byou\s+are\s+now\b`)
	youAreNowSelfRefRe  = regexp.MustCompile(`(?i)\byou\s+are\s+now\s+(chatting|talking|connected|speaking)\s+with\b`)
	newInstructionsRe   = regexp.MustCompile(`(?i)\b(new|updated)\s+instructions\b`)
	systemTagRe         = regexp.MustCompile(`(?i)<\|im_start\|>|<\s*system\s*>|<\s*instructions\s*>`)
	bracketTagRe        = regexp.MustCompile(`(?i)\[SYSTEM\]|\[INST\]|\[SYS\]`)
	base64BlockRe       = regexp.MustCompile(`base64:[A-Za-z0-9+/]{20,}`)
	controlCharRe       = regexp.MustCompile(`[\x{0000}\x{2028}\x{2029}]`)
	scriptOrMarkerRe    = regexp.MustCompile(`(?i)@--.*?--|<script`)

	numberedImperativeRe = regexp.MustCompile(`(?mi)^1\.\s+(ignore|reveal|print|exfiltrate|dump|extract|bypass|override|do)\b`)
	systemRoleFieldRe    = regexp.MustCompile(`"role"\s*:\s*"system"`)
)

type regexRule struct {
	name   string
	score  int
	re     *regexp.Regexp
	negate *regexp.Regexp // if non-nil and it matches the same text, skip.
}

var regexRules = []regexRule{
	{name: "ignore_all_previous", score: 35, re: ignoreAllPreviousRe},
	{name: "you_are_now_override", score: 30, re: youAreNowRe, negate: youAreNowSelfRefRe},
	{name: "new_or_updated_instructions", score: 25, re: newInstructionsRe},
	{name: "system_tag_injection", score: 40, re: systemTagRe},
	{name: "bracketed_system_tag", score: 40, re: bracketTagRe},
	{name: "base64_payload", score: 20, re: base64BlockRe},
	{name: "control_char_injection", score: 15, re: controlCharRe},
	{name: "script_or_marker_injection", score: 20, re: scriptOrMarkerRe},
}

// Scan parses raw as JSON; on parse failure it treats raw as its sole
// string input. Every string leaf is scanned through the phrase, regex,
// and structural layers; the raw text is also scanned once as a whole for
// the whole-request structural and regex checks.
func Scan(raw []byte) Result {
	var res Result

	leaves := extractStringLeaves(raw)
	if len(leaves) == 0 {
		leaves = []string{string(raw)}
	}

	for _, leaf := range leaves {
		scanLeaf(leaf, &res)
	}

	// Whole-request checks (not leaf-scoped).
	text := string(raw)
	if m := numberedImperativeRe.FindString(text); m != "" {
		addMatch(&res, "numbered_imperative_instruction", "structural", 25, m)
	}
	if systemRoleFieldRe.MatchString(text) {
		addMatch(&res, "system_role_field", "structural", 45, `"role":"system"`)
	}

	res.Confidence = clamp100(res.Confidence)
	res.InjectionDetected = res.Confidence >= detectionThreshold
	return res
}

func scanLeaf(leaf string, res *Result) {
	lower := strings.ToLower(leaf)
	for _, p := range phrases {
		if strings.Contains(lower, p) {
			addMatch(res, "phrase:"+p, "phrase", phraseScore, p)
		}
	}
	for _, p := range currentExtraPhrases() {
		if strings.Contains(lower, p) {
			addMatch(res, "phrase:"+p, "phrase", phraseScore, p)
		}
	}

	for _, r := range regexRules {
		loc := r.re.FindStringIndex(leaf)
		if loc == nil {
			continue
		}
		matched := leaf[loc[0]:loc[1]]
		if r.negate != nil && r.negate.MatchString(matched) {
			continue
		}
		addMatch(res, r.name, "regex", r.score, matched)
	}

	if len(leaf) > 5000 {
		addMatch(res, "oversized_string_payload", "structural", 15, leaf[:min(len(leaf), maxMatchedTextLen)])
	}
}

func addMatch(res *Result, name, layer string, score int, matchedText string) {
	if len(matchedText) > maxMatchedTextLen {
		matchedText = matchedText[:maxMatchedTextLen]
	}
	res.Matches = append(res.Matches, MatchedPattern{
		Name:        name,
		Layer:       layer,
		Confidence:  score,
		MatchedText: matchedText,
	})
	res.Confidence += score
}

func clamp100(v int) int {
	if v > 100 {
		return 100
	}
	if v < 0 {
		return 0
	}
	return v
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// extractStringLeaves recursively walks a JSON document (objects and
// arrays traversed, non-string/non-container leaves ignored) and returns
// every string leaf found. Returns nil if raw does not parse as JSON.
func extractStringLeaves(raw []byte) []string {
	if !gjson.ValidBytes(raw) {
		return nil
	}
	root := gjson.ParseBytes(raw)
	var out []string
	walk(root, &out)
	return out
}

func walk(v gjson.Result, out *[]string) {
	switch {
	case v.IsObject():
		v.ForEach(func(_, val gjson.Result) bool {
			walk(val, out)
			return true
		})
	case v.IsArray():
		v.ForEach(func(_, val gjson.Result) bool {
			walk(val, out)
			return true
		})
	case v.Type == gjson.String:
		*out = append(*out, v.Str)
	}
}
