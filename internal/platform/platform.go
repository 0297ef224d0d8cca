// Package platform defines the chat-platform collaborator boundary: the
// operations the core needs from the hosting chat service and the failure
// shapes it must distinguish.
package platform

import (
	"context"
	"errors"
)

// ErrMessageNotFound is returned when a referenced message or poll no
// longer exists on the platform (deleted, or the channel is gone).
var ErrMessageNotFound = errors.New("message not found")

// ErrForbidden is returned when the bot lacks permission for the
// requested platform operation.
var ErrForbidden = errors.New("forbidden")

// Voter identifies one account that voted for a poll option.
type Voter struct {
	ID  string
	Bot bool
}

// PollAnswer is one option of a live platform poll.
type PollAnswer struct {
	ID   int
	Text string
}

// PollSnapshot is the poll content read back from a live message.
type PollSnapshot struct {
	Question string
	Answers  []PollAnswer
}

// Message is a platform message as observed through the client.
type Message struct {
	ID        string
	ChannelID string
	Content   string
	Poll      *PollSnapshot
}

// Client is the full platform surface the core consumes. Implementations
// must map platform-level "not found" and "permission" failures onto
// ErrMessageNotFound and ErrForbidden so callers can tell them apart.
type Client interface {
	// SendMessage posts plain content to a channel and returns the new
	// message's ID.
	SendMessage(ctx context.Context, channelID, content string) (string, error)

	// SendPoll posts a single-select poll and returns the new message's ID.
	SendPoll(ctx context.Context, channelID, question string, options []string) (string, error)

	// FetchMessage reads a message, including its poll snapshot if present.
	FetchMessage(ctx context.Context, channelID, messageID string) (Message, error)

	// AnswerVoters lists the accounts that voted for the given answer ID.
	AnswerVoters(ctx context.Context, channelID, messageID string, answerID int) ([]Voter, error)
}
