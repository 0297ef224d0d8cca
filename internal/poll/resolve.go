package poll

import (
	"context"
	"errors"
	"fmt"

	"github.com/ArhamBafna/discord-poll-bot/internal/platform"
	"github.com/ArhamBafna/discord-poll-bot/internal/storage"
)

// ResolveStatus classifies the outcome of a resolution attempt so
// callers (and tests) can act on the failure shape instead of parsing
// log lines.
type ResolveStatus int

const (
	// ResolveNothing means there was no trivia poll to resolve. Nothing
	// to do is not an error.
	ResolveNothing ResolveStatus = iota
	// ResolveDone means votes were tallied and points awarded.
	ResolveDone
	// ResolveMessageGone means the recorded poll message no longer
	// exists; an operator needs to relink.
	ResolveMessageGone
	// ResolveForbidden means the bot lacks permission to read the poll.
	ResolveForbidden
	// ResolveFailed covers all other failures.
	ResolveFailed
)

// ResolveResult is the outcome of one resolution attempt.
type ResolveResult struct {
	Status        ResolveStatus
	CorrectVoters int
	Err           error
}

// ResolveLastPoll tallies the previous trivia poll's correct votes,
// awards one point to each distinct non-bot correct voter in a single
// batch, and announces the answer. It never panics past the caller:
// every failure shape comes back in the result.
func (s *Service) ResolveLastPoll(ctx context.Context, communityID string) ResolveResult {
	rec, err := s.store.GetPollState(communityID, storage.StateLastPoll)
	if errors.Is(err, storage.ErrNotFound) {
		return ResolveResult{Status: ResolveNothing}
	}
	if err != nil {
		// Malformed state: nothing resolvable. Report it rather than
		// treating it as a clean no-op.
		return ResolveResult{Status: ResolveFailed, Err: fmt.Errorf("loading last poll: %w", err)}
	}
	if rec.Type != storage.PollTypeTrivia || rec.MessageID == "" {
		return ResolveResult{Status: ResolveNothing}
	}

	msg, err := s.client.FetchMessage(ctx, rec.ChannelID, rec.MessageID)
	if err != nil {
		return classifyPlatformErr(fmt.Errorf("fetching poll message %s: %w", rec.MessageID, err))
	}
	if msg.Poll == nil || rec.CorrectIndex >= len(msg.Poll.Answers) {
		return ResolveResult{Status: ResolveFailed, Err: fmt.Errorf("message %s no longer carries a matching poll", rec.MessageID)}
	}

	answerID := msg.Poll.Answers[rec.CorrectIndex].ID
	voters, err := s.client.AnswerVoters(ctx, rec.ChannelID, rec.MessageID, answerID)
	if err != nil {
		return classifyPlatformErr(fmt.Errorf("fetching voters for answer %d: %w", answerID, err))
	}

	winners := distinctHumanVoters(voters)
	if err := s.store.IncrementScores(communityID, winners); err != nil {
		// Scores stay authoritative in the store; a failed batch is
		// reported, not silently dropped.
		return ResolveResult{Status: ResolveFailed, Err: fmt.Errorf("awarding points: %w", err)}
	}

	announcement := formatResolution(rec, len(winners))
	if _, err := s.client.SendMessage(ctx, rec.ChannelID, announcement); err != nil {
		s.logger.Warn("announcing resolution failed", "community", communityID, "error", err)
	}

	return ResolveResult{Status: ResolveDone, CorrectVoters: len(winners)}
}

// ForceResolve runs the resolution transition in isolation and then
// clears the last-poll record, returning the state machine to "no
// poll" without waiting for the next scheduled cycle. Designed to be
// chained after a relink.
func (s *Service) ForceResolve(ctx context.Context, communityID string) (ResolveResult, error) {
	lock := s.communityLock(communityID)
	if !lock.TryLock() {
		return ResolveResult{}, fmt.Errorf("daily cycle in flight for %s, try again shortly", communityID)
	}
	defer lock.Unlock()

	res := s.ResolveLastPoll(ctx, communityID)
	if err := s.store.DeletePollState(communityID, storage.StateLastPoll); err != nil {
		return res, fmt.Errorf("clearing poll state: %w", err)
	}
	return res, nil
}

func classifyPlatformErr(err error) ResolveResult {
	switch {
	case errors.Is(err, platform.ErrMessageNotFound):
		return ResolveResult{Status: ResolveMessageGone, Err: err}
	case errors.Is(err, platform.ErrForbidden):
		return ResolveResult{Status: ResolveForbidden, Err: err}
	default:
		return ResolveResult{Status: ResolveFailed, Err: err}
	}
}

// distinctHumanVoters filters bot accounts and duplicate IDs.
func distinctHumanVoters(voters []platform.Voter) []string {
	seen := make(map[string]bool, len(voters))
	var ids []string
	for _, v := range voters {
		if v.Bot || seen[v.ID] {
			continue
		}
		seen[v.ID] = true
		ids = append(ids, v.ID)
	}
	return ids
}

func formatResolution(rec *storage.PollRecord, correct int) string {
	msg := fmt.Sprintf("The correct answer was **%s**!", rec.Options[rec.CorrectIndex])
	if rec.Explanation != "" {
		msg += " " + rec.Explanation
	}
	switch correct {
	case 0:
		msg += "\nNobody got it this time — better luck tomorrow!"
	case 1:
		msg += "\n1 person got it right and earns a point!"
	default:
		msg += fmt.Sprintf("\n%d people got it right and each earn a point!", correct)
	}
	return msg
}
