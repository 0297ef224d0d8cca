package poll

import (
	"errors"
	"math/rand"

	"github.com/ArhamBafna/discord-poll-bot/internal/storage"
	"github.com/ArhamBafna/discord-poll-bot/internal/trivia"
)

// staticPolls is the built-in last-resort pool. Evergreen questions
// only: they may repeat across outages, so nothing time-sensitive.
var staticPolls = []trivia.Question{
	{
		Question:     "Which planet has the most moons in our solar system?",
		Options:      []string{"Jupiter", "Saturn", "Uranus", "Neptune"},
		CorrectIndex: 1,
		Explanation:  "Saturn leads with well over 100 confirmed moons, overtaking Jupiter after a wave of discoveries in 2023.",
	},
	{
		Question:     "What is the only letter that does not appear in any U.S. state name?",
		Options:      []string{"Q", "X", "Z", "J"},
		CorrectIndex: 0,
		Explanation:  "Every other letter shows up somewhere — even Z (Arizona) and X (Texas, New Mexico) — but no state name contains a Q.",
	},
	{
		Question:     "Which element has the chemical symbol 'Au'?",
		Options:      []string{"Silver", "Aluminum", "Gold", "Argon"},
		CorrectIndex: 2,
		Explanation:  "Au comes from 'aurum', the Latin word for gold.",
	},
	{
		Question:     "How many hearts does an octopus have?",
		Options:      []string{"One", "Two", "Three", "Four"},
		CorrectIndex: 2,
		Explanation:  "Two pump blood through the gills and a third circulates it to the rest of the body.",
	},
	{
		Question:     "Which country invented paper money?",
		Options:      []string{"Italy", "China", "Egypt", "Greece"},
		CorrectIndex: 1,
		Explanation:  "Paper currency first appeared in Tang dynasty China and became official under the Song dynasty.",
	},
	{
		Question:     "What is the largest desert on Earth?",
		Options:      []string{"Sahara", "Gobi", "Arabian", "Antarctic"},
		CorrectIndex: 3,
		Explanation:  "Deserts are defined by precipitation, not heat — Antarctica is the largest desert on the planet.",
	},
}

// pickFallback returns the last successfully AI-generated poll for the
// community when one exists, otherwise a random question from the
// static pool. The last-successful record is preferred because it is
// known to suit this community's audience.
func (s *Service) pickFallback(communityID string) trivia.Question {
	rec, err := s.store.GetPollState(communityID, storage.StateLastSuccessful)
	if err == nil {
		q := trivia.Question{
			Question:     rec.Question,
			Options:      rec.Options,
			CorrectIndex: rec.CorrectIndex,
			Explanation:  rec.Explanation,
		}
		if q.Validate() == nil {
			return q
		}
		s.logger.Warn("stored last successful poll is unusable, using static pool", "community", communityID)
	} else if !errors.Is(err, storage.ErrNotFound) {
		s.logger.Warn("loading last successful poll failed, using static pool", "community", communityID, "error", err)
	}

	return s.fallback[rand.Intn(len(s.fallback))]
}
