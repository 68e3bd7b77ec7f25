// Package session persists conversation state across requests. A Store
// keeps durable SessionData; the Manager layers id allocation, activity
// tracking and history compression on top of any Store.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/BaSui01/llmguard/llm"
)

// ErrSessionNotFound is returned for unknown, expired or unreadable
// sessions. Malformed persisted records are treated as absent rather than
// surfaced, since session storage is optimization-layer bookkeeping.
var ErrSessionNotFound = errors.New("session not found")

// DefaultTTL bounds session lifetime measured from LastActivityAt.
// A zero TTL means sessions never expire.
const DefaultTTL = 7 * 24 * time.Hour

// SessionData is one persisted conversation.
type SessionData struct {
	ID             string            `json:"id"`
	CreatedAt      time.Time         `json:"created_at"`
	LastActivityAt time.Time         `json:"last_activity_at"`
	History        []llm.Content     `json:"history"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	Model          string            `json:"model,omitempty"`
	TotalTokens    int               `json:"total_tokens,omitempty"`
}

// Store is the durable session backend.
type Store interface {
	// Load returns the session or ErrSessionNotFound.
	Load(ctx context.Context, id string) (*SessionData, error)
	// Save persists the session wholesale.
	Save(ctx context.Context, data *SessionData) error
	// Delete removes the session; deleting an absent session is not an
	// error.
	Delete(ctx context.Context, id string) error
	// Cleanup removes expired sessions and reports how many were removed.
	Cleanup(ctx context.Context) (int, error)
}
