package session

import (
	"errors"
	"time"

	"github.com/finsight-lab/finsight/internal/models"
)

var (
	// ErrSessionNotFound reports an unknown session ID.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionExpired reports a session past its TTL.
	ErrSessionExpired = errors.New("session expired")
)

// Session is the unit of conversation continuity. State carries the ordered
// turns plus the flags and data produced by the most recent pipeline run, so
// a follow-up request starts from what the previous one learned.
type Session struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	ExpiresAt time.Time `json:"expires_at"`

	State models.PipelineState `json:"state"`

	// Conversation-lifetime accounting.
	TotalTokensUsed int64   `json:"total_tokens_used"`
	TotalCostUSD    float64 `json:"total_cost_usd"`
}

// IsExpired reports whether the session's TTL has passed.
func (s *Session) IsExpired() bool {
	return time.Now().After(s.ExpiresAt)
}

// Turns returns the conversation history.
func (s *Session) Turns() []models.Turn {
	return s.State.Messages
}

// UpdateTokenUsage folds one turn's token and cost totals into the
// session's lifetime counters.
func (s *Session) UpdateTokenUsage(tokens int64, cost float64) {
	s.TotalCostUSD += cost
	s.TotalTokensUsed += tokens
	s.UpdatedAt = time.Now()
}
