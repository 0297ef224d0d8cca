package poll

import (
	"context"
	"errors"
	"fmt"

	"github.com/ArhamBafna/discord-poll-bot/internal/platform"
	"github.com/ArhamBafna/discord-poll-bot/internal/storage"
)

// Relink repoints the last-poll record at an externally observed poll
// message, reconstructing the record from the live message. This is the
// manual repair path for "poll deleted" or "duplicate poll" operator
// errors. correctOption is 1-based, as a human reads the options.
func (s *Service) Relink(ctx context.Context, communityID, channelID, messageID string, correctOption int) error {
	msg, err := s.client.FetchMessage(ctx, channelID, messageID)
	if errors.Is(err, platform.ErrMessageNotFound) {
		return fmt.Errorf("message %s not found in that channel: %w", messageID, err)
	}
	if err != nil {
		return fmt.Errorf("fetching message %s: %w", messageID, err)
	}
	if msg.Poll == nil {
		return fmt.Errorf("message %s does not contain a poll", messageID)
	}
	if correctOption < 1 || correctOption > len(msg.Poll.Answers) {
		return fmt.Errorf("correct option %d out of range: the poll has %d options", correctOption, len(msg.Poll.Answers))
	}

	options := make([]string, len(msg.Poll.Answers))
	for i, a := range msg.Poll.Answers {
		options[i] = a.Text
	}
	correctIndex := correctOption - 1

	// The original explanation is lost with the original record, so
	// generate a fresh one. Resolution still works without it.
	explanation := ""
	if out := s.gen.Explain(ctx, msg.Poll.Question, options, correctIndex); out.OK() {
		explanation = out.Value
	} else {
		s.logger.Warn("generating relink explanation failed", "community", communityID, "error", out.Err)
	}

	rec := &storage.PollRecord{
		Question:     msg.Poll.Question,
		Options:      options,
		CorrectIndex: correctIndex,
		Explanation:  explanation,
		Type:         storage.PollTypeTrivia,
		MessageID:    messageID,
		ChannelID:    channelID,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.store.SetPollState(communityID, storage.StateLastPoll, rec); err != nil {
		return fmt.Errorf("persisting relinked poll state: %w", err)
	}

	s.logger.Info("relinked poll state", "community", communityID, "message_id", messageID, "correct_option", correctOption)
	return nil
}
