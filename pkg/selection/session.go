package selection

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/harun/docrelay/pkg/backend"
	"github.com/harun/docrelay/pkg/chat"
)

// ErrSessionNotFound is returned when no session exists for a key.
var ErrSessionNotFound = errors.New("selection: session not found")

// Session correlates a candidate list message with its source document.
type Session struct {
	ListMessageID           string              `json:"list_msg_id"`
	Owner                   string              `json:"sender"`
	ChatID                  string              `json:"chat_id,omitempty"`
	QuotedDocumentMessageID string              `json:"quoted_pdf_msg_id"`
	Attachment              chat.Attachment     `json:"media"`
	Candidates              []backend.Candidate `json:"approvedRequests"`
	CreatedAt               time.Time           `json:"created_at"`
}

// Candidate returns the candidate for a 1-based choice.
func (s *Session) Candidate(choice int) (backend.Candidate, bool) {
	if choice < 1 || choice > len(s.Candidates) {
		return backend.Candidate{}, false
	}
	return s.Candidates[choice-1], true
}

// Store persists sessions.
type Store interface {
	Put(ctx context.Context, s *Session) error
	Get(ctx context.Context, listMessageID string) (*Session, error)
	// Take returns and removes the session in one step.
	Take(ctx context.Context, listMessageID string) (*Session, error)
	Delete(ctx context.Context, listMessageID string) error
	List(ctx context.Context) ([]*Session, error)
	Close() error
}

// ValidateKey rejects keys that cannot be used as a storage name.
func ValidateKey(key string) error {
	if key == "" {
		return fmt.Errorf("session key cannot be empty")
	}
	if strings.Contains(key, "..") {
		return fmt.Errorf("session key cannot contain '..'")
	}
	if strings.ContainsAny(key, "/\\") {
		return fmt.Errorf("session key cannot contain path separators")
	}
	if strings.Contains(key, "\x00") {
		return fmt.Errorf("session key cannot contain null bytes")
	}
	return nil
}

func validateSession(s *Session) error {
	if s == nil {
		return fmt.Errorf("session is nil")
	}
	return ValidateKey(s.ListMessageID)
}

func sortSessions(list []*Session) {
	sort.Slice(list, func(i, j int) bool {
		if list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].ListMessageID < list[j].ListMessageID
		}
		return list[i].CreatedAt.Before(list[j].CreatedAt)
	})
}
