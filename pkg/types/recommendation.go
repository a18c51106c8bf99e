package types

// Recommendation is a playbook augmented with a relevance score and the
// human-readable reasons behind it. Recommendations are computed fresh per
// request and are only meaningful for the lifetime of that request.
type Recommendation struct {
	Playbook

	Score   float64  `json:"recommendationScore"`
	Reasons []string `json:"recommendationReasons"`
}
