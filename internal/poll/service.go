// Package poll implements the per-community poll lifecycle: the daily
// resolve/generate/post/persist cycle, manual repair transitions
// (relink, force-resolve), and the non-scoring on-demand poll slot.
package poll

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ArhamBafna/discord-poll-bot/internal/platform"
	"github.com/ArhamBafna/discord-poll-bot/internal/resilience"
	"github.com/ArhamBafna/discord-poll-bot/internal/storage"
	"github.com/ArhamBafna/discord-poll-bot/internal/trivia"
)

// ErrOnDemandActive is returned when a community already has a live
// on-demand poll; the slot holds at most one.
var ErrOnDemandActive = errors.New("an on-demand poll is already active")

// ErrNoOnDemand is returned when there is no on-demand poll to reveal.
var ErrNoOnDemand = errors.New("no active on-demand poll")

// recentQuestionCount is how many history entries bias generation away
// from repeats.
const recentQuestionCount = 50

// Store is the persistence surface the lifecycle consumes.
type Store interface {
	GetPollState(communityID, key string) (*storage.PollRecord, error)
	SetPollState(communityID, key string, rec *storage.PollRecord) error
	DeletePollState(communityID, key string) error
	IncrementScores(communityID string, userIDs []string) error
	TopScores(communityID string, limit int) ([]storage.Standing, error)
	AppendQuestion(communityID, question, normalized string) error
	RecentQuestions(communityID string, limit int) ([]string, error)
}

// Generator produces trivia content through the resilience layer.
type Generator interface {
	Generate(ctx context.Context, recent []string) resilience.Outcome[trivia.Question]
	Explain(ctx context.Context, question string, options []string, correctIndex int) resilience.Outcome[string]
}

// Service drives the poll state machine for every configured community.
type Service struct {
	store    Store
	client   platform.Client
	gen      Generator
	fallback []trivia.Question
	logger   *slog.Logger
	now      func() time.Time

	// One lock per community serializes the daily cycle. TryLock, not
	// Lock: the cron tick, a manual trigger, and the startup catch-up
	// check can race, and the losers must no-op instead of queueing a
	// duplicate post behind the winner.
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewService creates the lifecycle service. A nil fallback pool falls
// back to the built-in static questions.
func NewService(store Store, client platform.Client, gen Generator, fallback []trivia.Question) *Service {
	if fallback == nil {
		fallback = staticPolls
	}
	return &Service{
		store:    store,
		client:   client,
		gen:      gen,
		fallback: fallback,
		logger:   slog.Default(),
		now:      time.Now,
		locks:    make(map[string]*sync.Mutex),
	}
}

func (s *Service) communityLock(communityID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[communityID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[communityID] = l
	}
	return l
}

// PerformDailyPost runs one daily cycle for a community: resolve the
// previous poll, generate new content (falling back on failure), post
// it, and persist the new record. A concurrent invocation for the same
// community observes the lock and no-ops.
func (s *Service) PerformDailyPost(ctx context.Context, communityID, channelID string, catchUp bool) error {
	lock := s.communityLock(communityID)
	if !lock.TryLock() {
		s.logger.Info("daily cycle already in flight, skipping", "community", communityID)
		return nil
	}
	defer lock.Unlock()

	// Step 1: resolve the previous cycle. A broken previous cycle must
	// not block the community's pipeline, so failures are logged and
	// the cycle continues.
	res := s.ResolveLastPoll(ctx, communityID)
	switch res.Status {
	case ResolveDone:
		s.logger.Info("resolved previous poll", "community", communityID, "correct_voters", res.CorrectVoters)
	case ResolveNothing:
	case ResolveMessageGone:
		s.logger.Warn("previous poll message is gone; use relink to repair", "community", communityID, "error", res.Err)
	case ResolveForbidden:
		s.logger.Warn("missing permission to read previous poll; fix bot permissions", "community", communityID, "error", res.Err)
	default:
		s.logger.Error("resolving previous poll failed", "community", communityID, "error", res.Err)
	}

	// Step 2-4: generate, with fallback priority on any non-success.
	recent, err := s.store.RecentQuestions(communityID, recentQuestionCount)
	if err != nil {
		s.logger.Error("loading question history failed", "community", communityID, "error", err)
	}

	question, isFallback := s.generateOrFallback(ctx, communityID, recent)

	// Step 5: post, with catch-up framing when the missed-schedule
	// check triggered this run.
	if catchUp {
		if _, err := s.client.SendMessage(ctx, channelID, "Catching up on today's missed trivia — here it comes!"); err != nil {
			s.logger.Warn("sending catch-up preamble failed", "community", communityID, "error", err)
		}
	}

	messageID, err := s.client.SendPoll(ctx, channelID, question.Question, question.Options)
	if err != nil {
		return fmt.Errorf("posting daily poll: %w", err)
	}

	// Step 6: persist the new record.
	rec := &storage.PollRecord{
		Question:     question.Question,
		Options:      question.Options,
		CorrectIndex: question.CorrectIndex,
		Explanation:  question.Explanation,
		Type:         storage.PollTypeTrivia,
		MessageID:    messageID,
		ChannelID:    channelID,
		CreatedAt:    s.now().UTC(),
		IsFallback:   isFallback,
	}
	if err := s.store.SetPollState(communityID, storage.StateLastPoll, rec); err != nil {
		// Availability over consistency: the poll is posted, so keep
		// running and accept the stale record until the next write.
		s.logger.Error("persisting poll state failed", "community", communityID, "error", err)
	}

	// Step 7: only genuine AI output feeds the fallback source and the
	// dedupe history. Fallback content re-entering either would erode
	// both over time.
	if !isFallback {
		if err := s.store.SetPollState(communityID, storage.StateLastSuccessful, rec); err != nil {
			s.logger.Error("persisting last successful poll failed", "community", communityID, "error", err)
		}
		if err := s.store.AppendQuestion(communityID, question.Question, trivia.Normalize(question.Question)); err != nil {
			s.logger.Error("appending question history failed", "community", communityID, "error", err)
		}
	}

	return nil
}

// generateOrFallback asks the AI for a fresh question; on any
// non-success outcome it falls back to the last AI-generated poll for
// this community, else to the static pool.
func (s *Service) generateOrFallback(ctx context.Context, communityID string, recent []string) (trivia.Question, bool) {
	out := s.gen.Generate(ctx, recent)
	if out.OK() {
		return out.Value, false
	}

	switch {
	case out.CircuitOpen:
		s.logger.Warn("trivia generation short-circuited, using fallback", "community", communityID)
	case out.Permanent:
		s.logger.Warn("trivia generation returned unusable content, using fallback", "community", communityID, "error", out.Err)
	default:
		s.logger.Warn("trivia generation failed, using fallback", "community", communityID, "error", out.Err)
	}

	return s.pickFallback(communityID), true
}
