package storage

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// State keys for per-community poll records.
const (
	StateLastPoll       = "last_poll"
	StateLastSuccessful = "last_successful"
	StateOnDemand       = "ondemand"
)

// Poll content types.
const (
	PollTypeTrivia   = "trivia"
	PollTypeOnDemand = "ondemand"
)

// PollRecord is the durable description of one posted poll. It is the
// typed form of every poll_state row; malformed rows are rejected at
// load time instead of leaking zero values into the lifecycle logic.
type PollRecord struct {
	Question     string    `json:"question"`
	Options      []string  `json:"options"`
	CorrectIndex int       `json:"correct_index"`
	Explanation  string    `json:"explanation"`
	Type         string    `json:"type"`
	MessageID    string    `json:"message_id"`
	ChannelID    string    `json:"channel_id"`
	CreatedAt    time.Time `json:"created_at"`
	IsFallback   bool      `json:"is_fallback,omitempty"`
}

// Validate checks the invariants every persisted poll record must hold.
func (r PollRecord) Validate() error {
	if r.Question == "" {
		return fmt.Errorf("empty question")
	}
	if len(r.Options) < 2 {
		return fmt.Errorf("got %d options, want at least 2", len(r.Options))
	}
	if r.CorrectIndex < 0 || r.CorrectIndex >= len(r.Options) {
		return fmt.Errorf("correct_index %d out of range for %d options", r.CorrectIndex, len(r.Options))
	}
	return nil
}

// Standing is one leaderboard row.
type Standing struct {
	UserID string
	Score  int
}

// KnowledgeDoc is one free-text grounding document for a community.
type KnowledgeDoc struct {
	ID          string
	CommunityID string
	Content     string
	CreatedAt   time.Time
}
