// Package schedule fires the daily poll cycle and the weekly summary at
// fixed local times, and reconciles missed slots after a restart. All
// slot arithmetic happens in one configured timezone so daylight-saving
// shifts move the posting time with the community, not against it.
package schedule

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ArhamBafna/discord-poll-bot/internal/storage"
)

// Community is one guild/channel pair the scheduler drives.
type Community struct {
	ID        string
	ChannelID string
}

// Poster runs the scheduled work. Implemented by the poll service.
type Poster interface {
	PerformDailyPost(ctx context.Context, communityID, channelID string, catchUp bool) error
	PostWeeklySummary(ctx context.Context, communityID, channelID string) error
}

// StateReader exposes the last-poll record the catch-up check needs.
type StateReader interface {
	GetPollState(communityID, key string) (*storage.PollRecord, error)
}

// Scheduler owns the timing loop. Construct with New, then Run.
type Scheduler struct {
	poster      Poster
	store       StateReader
	communities []Community
	loc         *time.Location

	dailyHour   int
	dailyMinute int

	weeklyDay    time.Weekday
	weeklyHour   int
	weeklyMinute int

	settle time.Duration
	logger *slog.Logger
	now    func() time.Time
}

// Options configures slot times. Zero values mean midnight Sunday, so
// callers normally set everything explicitly from config.
type Options struct {
	Location     *time.Location
	DailyHour    int
	DailyMinute  int
	WeeklyDay    time.Weekday
	WeeklyHour   int
	WeeklyMinute int
	SettleDelay  time.Duration
}

func New(poster Poster, store StateReader, communities []Community, opts Options) *Scheduler {
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}
	return &Scheduler{
		poster:       poster,
		store:        store,
		communities:  communities,
		loc:          loc,
		dailyHour:    opts.DailyHour,
		dailyMinute:  opts.DailyMinute,
		weeklyDay:    opts.WeeklyDay,
		weeklyHour:   opts.WeeklyHour,
		weeklyMinute: opts.WeeklyMinute,
		settle:       opts.SettleDelay,
		logger:       slog.Default(),
		now:          time.Now,
	}
}

// Run blocks, firing each slot as it arrives, until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		now := s.now()
		nextDaily := nextDailyAfter(now, s.loc, s.dailyHour, s.dailyMinute)
		nextWeekly := nextWeeklyAfter(now, s.loc, s.weeklyDay, s.weeklyHour, s.weeklyMinute)

		next, weekly := nextDaily, false
		if nextWeekly.Before(nextDaily) {
			next, weekly = nextWeekly, true
		}

		timer := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		if weekly {
			s.runWeekly(ctx)
		} else {
			s.runDaily(ctx, false)
		}
	}
}

// CatchUp posts today's poll for every community whose slot already
// passed without a post. It waits out the settle delay first: right
// after startup the platform session may not be ready, and a restart
// loop must not hammer the API.
func (s *Scheduler) CatchUp(ctx context.Context) error {
	if s.settle > 0 {
		timer := time.NewTimer(s.settle)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	now := s.now()
	for _, c := range s.communities {
		var last time.Time
		rec, err := s.store.GetPollState(c.ID, storage.StateLastPoll)
		switch {
		case err == nil:
			last = rec.CreatedAt
		case errors.Is(err, storage.ErrNotFound):
			// Never posted: the slot still counts as missed.
		default:
			// Unreadable state reads as missed rather than skipped; a
			// duplicate post beats a silent day.
			s.logger.Warn("reading last poll for catch-up failed", "community", c.ID, "error", err)
		}

		if !needsCatchUp(last, now, s.loc, s.dailyHour, s.dailyMinute) {
			continue
		}
		s.logger.Info("missed daily slot, catching up", "community", c.ID)
		if err := s.poster.PerformDailyPost(ctx, c.ID, c.ChannelID, true); err != nil {
			s.logger.Error("catch-up post failed", "community", c.ID, "error", err)
		}
	}
	return nil
}

func (s *Scheduler) runDaily(ctx context.Context, catchUp bool) {
	for _, c := range s.communities {
		if err := s.poster.PerformDailyPost(ctx, c.ID, c.ChannelID, catchUp); err != nil {
			s.logger.Error("daily post failed", "community", c.ID, "error", err)
		}
	}
}

func (s *Scheduler) runWeekly(ctx context.Context) {
	for _, c := range s.communities {
		if err := s.poster.PostWeeklySummary(ctx, c.ID, c.ChannelID); err != nil {
			s.logger.Error("weekly summary failed", "community", c.ID, "error", err)
		}
	}
}

// needsCatchUp reports whether today's slot passed without a post since
// it. The comparison is by calendar day in loc, not by elapsed hours: a
// poll posted yesterday evening does not cover today's morning slot.
func needsCatchUp(last, now time.Time, loc *time.Location, hour, minute int) bool {
	local := now.In(loc)
	slot := time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, loc)
	if local.Before(slot) {
		return false
	}
	if last.IsZero() {
		return true
	}
	ly, lm, ld := last.In(loc).Date()
	ny, nm, nd := local.Date()
	return time.Date(ly, lm, ld, 0, 0, 0, 0, loc).Before(time.Date(ny, nm, nd, 0, 0, 0, 0, loc))
}

func nextDailyAfter(now time.Time, loc *time.Location, hour, minute int) time.Time {
	local := now.In(loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, loc)
	if !next.After(local) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

func nextWeeklyAfter(now time.Time, loc *time.Location, day time.Weekday, hour, minute int) time.Time {
	local := now.In(loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, loc)
	for next.Weekday() != day || !next.After(local) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
