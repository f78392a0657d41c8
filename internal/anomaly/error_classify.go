package anomaly

import "encoding/json"

// looksLikeJSONError reports whether raw parses as a JSON object carrying
// a top-level "error" field, per the spec's error-classification contract.
func looksLikeJSONError(raw []byte) bool {
	var probe struct {
		Error any `json:"error"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return false
	}
	return probe.Error != nil
}
