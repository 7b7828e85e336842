package model

import "time"

// ProcessItemRequest submits one specific source item for a full run.
type ProcessItemRequest struct {
	SourceType  SourceType `json:"sourceType" validate:"required,oneof=news social"`
	SourceID    string     `json:"sourceId" validate:"required"`
	Title       string     `json:"title" validate:"required,min=3,max=500"`
	Body        string     `json:"body" validate:"required,min=1"`
	URL         string     `json:"url,omitempty" validate:"omitempty,url"`
	ImageURL    string     `json:"imageUrl,omitempty" validate:"omitempty,url"`
	PublishedAt *time.Time `json:"publishedAt,omitempty"`
}

// ProcessItemResponse acknowledges an enqueued run.
type ProcessItemResponse struct {
	ItemID    string     `json:"itemId"`
	Status    ItemStatus `json:"status"`
	CreatedAt time.Time  `json:"createdAt"`
}

// BatchTriggerResponse acknowledges a scheduled batch trigger.
type BatchTriggerResponse struct {
	UserID   string `json:"userId"`
	Enqueued bool   `json:"enqueued"`
}

// ItemStatusResponse reports one item's progress.
type ItemStatusResponse struct {
	ItemID       string        `json:"itemId"`
	Status       ItemStatus    `json:"status"`
	CurrentStage int           `json:"currentStage"`
	StageName    string        `json:"stageName,omitempty"`
	TotalCost    float64       `json:"totalCost"`
	RetryCount   int           `json:"retryCount"`
	ErrorStage   int           `json:"errorStage,omitempty"`
	ErrorMessage string        `json:"errorMessage,omitempty"`
	FailureKind  FailureKind   `json:"failureKind,omitempty"`
	Retryable    bool          `json:"retryable"`
	StageHistory []StageRecord `json:"stageHistory,omitempty"`
	StartedAt    time.Time     `json:"startedAt"`
	CompletedAt  *time.Time    `json:"completedAt,omitempty"`
}

// RetryItemResponse acknowledges an operator-triggered retry.
type RetryItemResponse struct {
	ItemID     string     `json:"itemId"`
	RetryCount int        `json:"retryCount"`
	Status     ItemStatus `json:"status"`
}

// CancelItemResponse acknowledges a cancellation.
type CancelItemResponse struct {
	ItemID string     `json:"itemId"`
	Status ItemStatus `json:"status"`
}

// RejectScriptRequest records a user rejection with a category.
type RejectScriptRequest struct {
	Category string `json:"category" validate:"required,oneof=off_tone inaccurate boring wrong_format other"`
	Note     string `json:"note,omitempty" validate:"max=2000"`
}

// RevisionRequest asks for a new version of a delivered script.
type RevisionRequest struct {
	Feedback string   `json:"feedback" validate:"required,min=3,max=5000"`
	SceneIDs []string `json:"sceneIds,omitempty" validate:"omitempty,dive,required"`
}

// RevisionResponse acknowledges a forked revision run.
type RevisionResponse struct {
	ItemID   string `json:"itemId"`
	ScriptID string `json:"scriptId"`
	Attempt  int    `json:"attempt"`
}

// ScriptResponse is the review-queue view of a script.
type ScriptResponse struct {
	ID            string       `json:"id"`
	Title         string       `json:"title"`
	Scenes        []Scene      `json:"scenes"`
	FullText      string       `json:"fullText"`
	Scores        *QCResult    `json:"scores,omitempty"`
	Decision      GateDecision `json:"decision"`
	Status        ScriptStatus `json:"status"`
	RevisionCount int          `json:"revisionCount"`
	CreatedAt     time.Time    `json:"createdAt"`
	UpdatedAt     time.Time    `json:"updatedAt"`
}
