package poll

import (
	"context"
	"fmt"
	"strings"
)

// weeklyTopCount is how many standings the summary shows.
const weeklyTopCount = 10

// PostWeeklySummary posts the community's current top standings. Scores
// are cumulative; the weekly cadence is just a reminder, not a reset.
func (s *Service) PostWeeklySummary(ctx context.Context, communityID, channelID string) error {
	standings, err := s.store.TopScores(communityID, weeklyTopCount)
	if err != nil {
		return fmt.Errorf("loading leaderboard: %w", err)
	}

	var b strings.Builder
	b.WriteString("**Weekly Trivia Standings**\n")
	if len(standings) == 0 {
		b.WriteString("No points on the board yet — today's poll is a fresh start!")
	} else {
		for i, st := range standings {
			fmt.Fprintf(&b, "%s <@%s> — %d point", rankMedal(i), st.UserID, st.Score)
			if st.Score != 1 {
				b.WriteString("s")
			}
			b.WriteString("\n")
		}
	}

	if _, err := s.client.SendMessage(ctx, channelID, b.String()); err != nil {
		return fmt.Errorf("posting weekly summary: %w", err)
	}
	return nil
}

func rankMedal(i int) string {
	switch i {
	case 0:
		return "🥇"
	case 1:
		return "🥈"
	case 2:
		return "🥉"
	default:
		return fmt.Sprintf("%d.", i+1)
	}
}
