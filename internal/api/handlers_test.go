package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ArhamBafna/discord-poll-bot/internal/converse"
	"github.com/ArhamBafna/discord-poll-bot/internal/poll"
	"github.com/ArhamBafna/discord-poll-bot/internal/storage"
)

type stubLifecycle struct {
	daily   []string
	resolve poll.ResolveResult
}

func (s *stubLifecycle) PerformDailyPost(ctx context.Context, communityID, channelID string, catchUp bool) error {
	s.daily = append(s.daily, communityID+":"+channelID)
	return nil
}

func (s *stubLifecycle) ForceResolve(ctx context.Context, communityID string) (poll.ResolveResult, error) {
	return s.resolve, nil
}

func (s *stubLifecycle) Relink(ctx context.Context, communityID, channelID, messageID string, correctOption int) error {
	return nil
}

func (s *stubLifecycle) StartOnDemand(ctx context.Context, communityID, channelID string) error {
	return nil
}

func (s *stubLifecycle) RevealOnDemand(ctx context.Context, communityID string) error {
	return poll.ErrNoOnDemand
}

func (s *stubLifecycle) PostWeeklySummary(ctx context.Context, communityID, channelID string) error {
	return nil
}

type stubAsker struct{}

func (stubAsker) Ask(ctx context.Context, req converse.Request) string {
	return "answer to: " + req.Prompt
}

type stubScores struct {
	scores map[string]int
}

func (s *stubScores) key(c, u string) string { return c + "/" + u }

func (s *stubScores) AddScore(c, u string, points int) error {
	s.scores[s.key(c, u)] += points
	return nil
}

func (s *stubScores) RemoveScore(c, u string, points int) error {
	s.scores[s.key(c, u)] = max(0, s.scores[s.key(c, u)]-points)
	return nil
}

func (s *stubScores) SetScore(c, u string, score int) error {
	s.scores[s.key(c, u)] = score
	return nil
}

func (s *stubScores) GetScore(c, u string) (int, error) {
	return s.scores[s.key(c, u)], nil
}

func (s *stubScores) TopScores(c string, limit int) ([]storage.Standing, error) {
	return nil, nil
}

func (s *stubScores) SaveKnowledgeDoc(doc storage.KnowledgeDoc) error { return nil }

func (s *stubScores) ListKnowledgeDocs(c string, limit int) ([]storage.KnowledgeDoc, error) {
	return nil, nil
}

func (s *stubScores) DeleteKnowledgeDoc(id string) error { return storage.ErrNotFound }

func testHandler(lc *stubLifecycle) http.Handler {
	return NewHandler(Deps{
		Polls:    lc,
		Converse: stubAsker{},
		Store:    &stubScores{scores: make(map[string]int)},
		Token:    "secret",
		Channels: map[string]string{"guild": "chan"},
	})
}

func doRequest(t *testing.T, h http.Handler, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body != "" {
		reader = strings.NewReader(body)
	} else {
		reader = strings.NewReader("")
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestHealthNeedsNoAuth(t *testing.T) {
	w := doRequest(t, testHandler(&stubLifecycle{}), http.MethodGet, "/health", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("health status = %d", w.Code)
	}
}

func TestAdminRoutesRequireAuth(t *testing.T) {
	h := testHandler(&stubLifecycle{})
	w := doRequest(t, h, http.MethodPost, "/communities/guild/daily", "", "")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated status = %d, want 401", w.Code)
	}
	w = doRequest(t, h, http.MethodPost, "/communities/guild/daily", "wrong", "")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("bad token status = %d, want 401", w.Code)
	}
}

func TestDailyUsesConfiguredChannel(t *testing.T) {
	lc := &stubLifecycle{}
	w := doRequest(t, testHandler(lc), http.MethodPost, "/communities/guild/daily", "secret", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	if len(lc.daily) != 1 || lc.daily[0] != "guild:chan" {
		t.Fatalf("daily calls = %v", lc.daily)
	}
}

func TestUnknownCommunityIs404(t *testing.T) {
	w := doRequest(t, testHandler(&stubLifecycle{}), http.MethodPost, "/communities/nope/daily", "secret", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestResolveReportsStatus(t *testing.T) {
	lc := &stubLifecycle{resolve: poll.ResolveResult{Status: poll.ResolveDone, CorrectVoters: 4}}
	w := doRequest(t, testHandler(lc), http.MethodPost, "/communities/guild/resolve", "secret", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp["status"] != "resolved" || resp["correct_voters"] != float64(4) {
		t.Fatalf("resp = %v", resp)
	}
}

func TestScoreActions(t *testing.T) {
	h := testHandler(&stubLifecycle{})

	w := doRequest(t, h, http.MethodPost, "/communities/guild/score", "secret",
		`{"user_id":"alice","action":"add","amount":3}`)
	if w.Code != http.StatusOK {
		t.Fatalf("add status = %d: %s", w.Code, w.Body.String())
	}
	var resp map[string]any
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["score"] != float64(3) {
		t.Fatalf("score after add = %v", resp["score"])
	}

	w = doRequest(t, h, http.MethodPost, "/communities/guild/score", "secret",
		`{"user_id":"alice","action":"frobnicate"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad action status = %d", w.Code)
	}
}

func TestRevealWithoutActivePollIs404(t *testing.T) {
	w := doRequest(t, testHandler(&stubLifecycle{}), http.MethodPost, "/communities/guild/ondemand/reveal", "secret", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestAskReturnsReply(t *testing.T) {
	w := doRequest(t, testHandler(&stubLifecycle{}), http.MethodPost, "/ask", "secret",
		`{"community_id":"guild","channel_id":"chan","author_id":"alice","prompt":"hi"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	var resp map[string]string
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["reply"] != "answer to: hi" {
		t.Fatalf("reply = %q", resp["reply"])
	}
}
