package model

import "encoding/json"

// UserWritingProfile is accumulated style guidance derived from past user
// feedback. The pipeline reads it as opaque input to the Writer (and the
// avoid-list to the Analyst); its internal structure is owned elsewhere.
type UserWritingProfile struct {
	AvoidTopics    []string        `json:"avoidTopics,omitempty"`
	AvoidPatterns  []string        `json:"avoidPatterns,omitempty"`
	PreferPatterns []string        `json:"preferPatterns,omitempty"`
	Rules          json.RawMessage `json:"rules,omitempty"`
	Keywords       []string        `json:"keywords,omitempty"`
	ExcludeWords   []string        `json:"excludeWords,omitempty"`
}
