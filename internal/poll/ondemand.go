package poll

import (
	"context"
	"errors"
	"fmt"

	"github.com/ArhamBafna/discord-poll-bot/internal/storage"
)

// StartOnDemand posts an operator-triggered poll outside the scoring
// cycle. At most one on-demand poll may be live per community; the
// slot is the invariant, not a convenience.
func (s *Service) StartOnDemand(ctx context.Context, communityID, channelID string) error {
	if _, err := s.store.GetPollState(communityID, storage.StateOnDemand); err == nil {
		return ErrOnDemandActive
	} else if !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("checking on-demand slot: %w", err)
	}

	recent, err := s.store.RecentQuestions(communityID, recentQuestionCount)
	if err != nil {
		s.logger.Error("loading question history failed", "community", communityID, "error", err)
	}
	question, isFallback := s.generateOrFallback(ctx, communityID, recent)

	messageID, err := s.client.SendPoll(ctx, channelID, question.Question, question.Options)
	if err != nil {
		return fmt.Errorf("posting on-demand poll: %w", err)
	}

	rec := &storage.PollRecord{
		Question:     question.Question,
		Options:      question.Options,
		CorrectIndex: question.CorrectIndex,
		Explanation:  question.Explanation,
		Type:         storage.PollTypeOnDemand,
		MessageID:    messageID,
		ChannelID:    channelID,
		CreatedAt:    s.now().UTC(),
		IsFallback:   isFallback,
	}
	if err := s.store.SetPollState(communityID, storage.StateOnDemand, rec); err != nil {
		return fmt.Errorf("persisting on-demand poll state: %w", err)
	}
	return nil
}

// RevealOnDemand announces the active on-demand poll's answer and
// clears the slot. On-demand polls never touch the leaderboard or the
// question history.
func (s *Service) RevealOnDemand(ctx context.Context, communityID string) error {
	rec, err := s.store.GetPollState(communityID, storage.StateOnDemand)
	if errors.Is(err, storage.ErrNotFound) {
		return ErrNoOnDemand
	}
	if err != nil {
		return fmt.Errorf("loading on-demand poll: %w", err)
	}

	msg := fmt.Sprintf("The answer was **%s**!", rec.Options[rec.CorrectIndex])
	if rec.Explanation != "" {
		msg += " " + rec.Explanation
	}
	if _, err := s.client.SendMessage(ctx, rec.ChannelID, msg); err != nil {
		return fmt.Errorf("announcing on-demand answer: %w", err)
	}

	if err := s.store.DeletePollState(communityID, storage.StateOnDemand); err != nil {
		return fmt.Errorf("clearing on-demand slot: %w", err)
	}
	return nil
}
