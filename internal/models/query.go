package models

import (
	"fmt"
	"time"
)

// QueryRecord is the immutable usage record appended for every answered query.
type QueryRecord struct {
	ID               string    `json:"id" db:"id"`
	TenantID         string    `json:"tenant_id" db:"tenant_id"`
	Query            string    `json:"query" db:"query"`
	Answer           string    `json:"answer" db:"answer"`
	PromptTokens     int       `json:"prompt_tokens" db:"prompt_tokens"`
	CompletionTokens int       `json:"completion_tokens" db:"completion_tokens"`
	Cost             float64   `json:"cost_usd" db:"cost_usd"`
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
}

// ChatTurn is one earlier exchange passed along as conversation history.
type ChatTurn struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// QueryRequest is a tenant question with optional history.
type QueryRequest struct {
	TenantID string     `json:"-"`
	Message  string     `json:"message"`
	History  []ChatTurn `json:"history,omitempty"`
}

// maxHistoryTurns caps how much history is forwarded to the model.
const maxHistoryTurns = 6

// Validate ensures the query has a message and trims history to the most recent turns.
func (q *QueryRequest) Validate() error {
	if q.TenantID == "" {
		return fmt.Errorf("tenant id is required")
	}
	if q.Message == "" {
		return fmt.Errorf("message cannot be empty")
	}
	if len(q.History) > maxHistoryTurns {
		q.History = q.History[len(q.History)-maxHistoryTurns:]
	}
	return nil
}

// QueryResponse is what the end user sees.
type QueryResponse struct {
	Answer     string `json:"answer"`
	AnswerHTML string `json:"answer_html,omitempty"`
}

// EntitlementSnapshot is the externally owned view of what a tenant may do. Read-only to the core.
type EntitlementSnapshot struct {
	MaxSites           int  `json:"max_sites"`
	MaxDocuments       int  `json:"max_documents"`
	CanUploadDocs      bool `json:"can_upload_docs"`
	SubscriptionActive bool `json:"subscription_active"`
	// PendingCancellation is set when cancellation was requested but the paid period has not ended.
	PendingCancellation bool `json:"pending_cancellation"`
}

// Unlimited marks a limit with no ceiling.
const Unlimited = -1
