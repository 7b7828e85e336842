package model

import "time"

// GeneratedScript is the durable artifact of a successful run. Created by
// Delivery on the first PASS/NEEDS_REVIEW; each accepted revision appends
// a version row and rewrites the head in place. Never created on FAIL.
type GeneratedScript struct {
	ID         string     `json:"id"`
	UserID     string     `json:"userId"`
	ItemID     string     `json:"itemId"`
	SourceID   string     `json:"sourceId"`
	SourceType SourceType `json:"sourceType"`
	Title      string     `json:"title"`

	Scenes   []Scene `json:"scenes"`
	FullText string  `json:"fullText"`

	Scores        *QCResult    `json:"scores,omitempty"`
	Decision      GateDecision `json:"decision"`
	Status        ScriptStatus `json:"status"`
	RevisionCount int          `json:"revisionCount"`
	ArchiveKey    string       `json:"archiveKey,omitempty"`

	RejectCategory string `json:"rejectCategory,omitempty"`
	RejectNote     string `json:"rejectNote,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ScriptVersion is one append-only version row for a script.
type ScriptVersion struct {
	Version   int          `json:"version"`
	ItemID    string       `json:"itemId"`
	Scenes    []Scene      `json:"scenes"`
	FullText  string       `json:"fullText"`
	Scores    *QCResult    `json:"scores,omitempty"`
	Decision  GateDecision `json:"decision"`
	Feedback  string       `json:"feedback,omitempty"`
	CreatedAt time.Time    `json:"createdAt"`
}
