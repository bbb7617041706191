package propaganda

import "encoding/json"

// Result is the raw payload returned by the detection service: a map from
// technique category to detected instances, wrapped in a data envelope.
type Result struct {
	Data map[string][]Finding `json:"data"`
}

// Finding is one detected instance of a persuasion technique. The service
// returns more fields than we consume; unknown ones are dropped on decode.
type Finding struct {
	Name          string `json:"name,omitempty"`
	Explanation   string `json:"explanation,omitempty"`
	Location      string `json:"location,omitempty"`
	Contextualize string `json:"contextualize,omitempty"`
}

// Empty reports whether no propaganda information is available. Callers treat
// an empty result as "nothing detected", never as a hard failure.
func (r Result) Empty() bool {
	return len(r.Data) == 0
}

// NormalizedFinding is the projection embedded into prompts and persisted
// records: explanation, location and contextualization only.
type NormalizedFinding struct {
	Explanation   string `json:"explanation,omitempty"`
	Location      string `json:"location,omitempty"`
	Contextualize string `json:"contextualize,omitempty"`
}

// Normalize reduces each finding to the prompt-relevant fields, keyed by
// category.
func (r Result) Normalize() map[string][]NormalizedFinding {
	if r.Empty() {
		return map[string][]NormalizedFinding{}
	}

	out := make(map[string][]NormalizedFinding, len(r.Data))
	for category, findings := range r.Data {
		reduced := make([]NormalizedFinding, 0, len(findings))
		for _, f := range findings {
			reduced = append(reduced, NormalizedFinding{
				Explanation:   f.Explanation,
				Location:      f.Location,
				Contextualize: f.Contextualize,
			})
		}
		out[category] = reduced
	}
	return out
}

// NormalizedJSON renders the normalized findings for prompt interpolation.
func (r Result) NormalizedJSON() string {
	encoded, err := json.Marshal(r.Normalize())
	if err != nil {
		return "{}"
	}
	return string(encoded)
}
