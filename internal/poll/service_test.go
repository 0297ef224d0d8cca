package poll

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ArhamBafna/discord-poll-bot/internal/platform"
	"github.com/ArhamBafna/discord-poll-bot/internal/resilience"
	"github.com/ArhamBafna/discord-poll-bot/internal/storage"
	"github.com/ArhamBafna/discord-poll-bot/internal/trivia"
)

type memStore struct {
	mu        sync.Mutex
	state     map[string]*storage.PollRecord
	scores    map[string]int
	history   []string
	setErr    error
	getErr    error
	increment [][]string
}

func newMemStore() *memStore {
	return &memStore{
		state:  make(map[string]*storage.PollRecord),
		scores: make(map[string]int),
	}
}

func stateKey(communityID, key string) string { return communityID + "/" + key }

func (m *memStore) GetPollState(communityID, key string) (*storage.PollRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	rec, ok := m.state[stateKey(communityID, key)]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (m *memStore) SetPollState(communityID, key string, rec *storage.PollRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.setErr != nil {
		return m.setErr
	}
	cp := *rec
	m.state[stateKey(communityID, key)] = &cp
	return nil
}

func (m *memStore) DeletePollState(communityID, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.state, stateKey(communityID, key))
	return nil
}

func (m *memStore) IncrementScores(communityID string, userIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.increment = append(m.increment, userIDs)
	for _, id := range userIDs {
		m.scores[communityID+"/"+id]++
	}
	return nil
}

func (m *memStore) TopScores(communityID string, limit int) ([]storage.Standing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []storage.Standing
	for key, score := range m.scores {
		id, ok := strings.CutPrefix(key, communityID+"/")
		if !ok || score == 0 {
			continue
		}
		out = append(out, storage.Standing{UserID: id, Score: score})
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) AppendQuestion(communityID, question, normalized string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = append(m.history, question)
	return nil
}

func (m *memStore) RecentQuestions(communityID string, limit int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.history...), nil
}

type fakeClient struct {
	mu        sync.Mutex
	messages  []string
	polls     []string
	pollCount atomic.Int32

	fetchMsg  platform.Message
	fetchErr  error
	voters    []platform.Voter
	votersErr error
}

func (f *fakeClient) SendMessage(ctx context.Context, channelID, content string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, content)
	return fmt.Sprintf("msg-%d", len(f.messages)), nil
}

func (f *fakeClient) SendPoll(ctx context.Context, channelID, question string, options []string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polls = append(f.polls, question)
	n := f.pollCount.Add(1)
	return fmt.Sprintf("poll-%d", n), nil
}

func (f *fakeClient) FetchMessage(ctx context.Context, channelID, messageID string) (platform.Message, error) {
	if f.fetchErr != nil {
		return platform.Message{}, f.fetchErr
	}
	return f.fetchMsg, nil
}

func (f *fakeClient) AnswerVoters(ctx context.Context, channelID, messageID string, answerID int) ([]platform.Voter, error) {
	if f.votersErr != nil {
		return nil, f.votersErr
	}
	return f.voters, nil
}

func (f *fakeClient) sentMessages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.messages...)
}

type fakeGen struct {
	calls    atomic.Int32
	question trivia.Question
	outcome  *resilience.Outcome[trivia.Question]
	block    chan struct{} // when set, Generate waits until closed
}

func (g *fakeGen) Generate(ctx context.Context, recent []string) resilience.Outcome[trivia.Question] {
	g.calls.Add(1)
	if g.block != nil {
		<-g.block
	}
	if g.outcome != nil {
		return *g.outcome
	}
	return resilience.Outcome[trivia.Question]{Value: g.question}
}

func (g *fakeGen) Explain(ctx context.Context, question string, options []string, correctIndex int) resilience.Outcome[string] {
	return resilience.Outcome[string]{Value: "because it is"}
}

func testQuestion() trivia.Question {
	return trivia.Question{
		Question:     "What is the capital of France?",
		Options:      []string{"Paris", "Lyon", "Nice", "Lille"},
		CorrectIndex: 0,
		Explanation:  "Paris has been the capital since the 10th century.",
	}
}

func pollMessage(rec trivia.Question) platform.Message {
	answers := make([]platform.PollAnswer, len(rec.Options))
	for i, opt := range rec.Options {
		answers[i] = platform.PollAnswer{ID: i + 1, Text: opt}
	}
	return platform.Message{
		ID:        "poll-1",
		ChannelID: "chan",
		Poll:      &platform.PollSnapshot{Question: rec.Question, Answers: answers},
	}
}

func TestPerformDailyPostPostsAndPersists(t *testing.T) {
	store := newMemStore()
	client := &fakeClient{}
	gen := &fakeGen{question: testQuestion()}
	svc := NewService(store, client, gen, nil)

	if err := svc.PerformDailyPost(context.Background(), "guild", "chan", false); err != nil {
		t.Fatalf("PerformDailyPost: %v", err)
	}

	rec, err := store.GetPollState("guild", storage.StateLastPoll)
	if err != nil {
		t.Fatalf("last poll record missing: %v", err)
	}
	if rec.MessageID != "poll-1" || rec.Type != storage.PollTypeTrivia || rec.IsFallback {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if _, err := store.GetPollState("guild", storage.StateLastSuccessful); err != nil {
		t.Fatalf("last successful record missing: %v", err)
	}
	if len(store.history) != 1 {
		t.Fatalf("history entries = %d, want 1", len(store.history))
	}
}

func TestPerformDailyPostConcurrentRunsPostOnce(t *testing.T) {
	store := newMemStore()
	client := &fakeClient{}
	gen := &fakeGen{question: testQuestion(), block: make(chan struct{})}
	svc := NewService(store, client, gen, nil)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = svc.PerformDailyPost(context.Background(), "guild", "chan", false)
	}()

	// Wait until the first run holds the lock inside generation.
	deadline := time.Now().Add(time.Second)
	for gen.calls.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("first run never reached generation")
		}
		time.Sleep(time.Millisecond)
	}

	// The loser must observe the lock and no-op, not wait its turn.
	if err := svc.PerformDailyPost(context.Background(), "guild", "chan", false); err != nil {
		t.Fatalf("concurrent run: %v", err)
	}
	if got := client.pollCount.Load(); got != 0 {
		t.Fatalf("polls posted while winner in flight = %d, want 0", got)
	}

	close(gen.block)
	wg.Wait()

	if got := client.pollCount.Load(); got != 1 {
		t.Fatalf("total polls posted = %d, want 1", got)
	}
}

func TestResolveNothingWhenNoRecord(t *testing.T) {
	svc := NewService(newMemStore(), &fakeClient{}, &fakeGen{question: testQuestion()}, nil)
	res := svc.ResolveLastPoll(context.Background(), "guild")
	if res.Status != ResolveNothing {
		t.Fatalf("status = %v, want ResolveNothing", res.Status)
	}
}

func TestResolveAwardsOnePointPerDistinctHuman(t *testing.T) {
	store := newMemStore()
	q := testQuestion()
	client := &fakeClient{
		fetchMsg: pollMessage(q),
		voters: []platform.Voter{
			{ID: "alice"},
			{ID: "bob"},
			{ID: "alice"},          // duplicate
			{ID: "bot", Bot: true}, // bot account
		},
	}
	svc := NewService(store, client, &fakeGen{question: q}, nil)

	rec := &storage.PollRecord{
		Question: q.Question, Options: q.Options, CorrectIndex: q.CorrectIndex,
		Type: storage.PollTypeTrivia, MessageID: "poll-1", ChannelID: "chan",
		CreatedAt: time.Now().UTC(),
	}
	if err := store.SetPollState("guild", storage.StateLastPoll, rec); err != nil {
		t.Fatal(err)
	}

	res := svc.ResolveLastPoll(context.Background(), "guild")
	if res.Status != ResolveDone {
		t.Fatalf("status = %v (err %v), want ResolveDone", res.Status, res.Err)
	}
	if res.CorrectVoters != 2 {
		t.Fatalf("correct voters = %d, want 2", res.CorrectVoters)
	}
	if store.scores["guild/alice"] != 1 || store.scores["guild/bob"] != 1 {
		t.Fatalf("scores = %v, want alice=1 bob=1", store.scores)
	}
	if store.scores["guild/bot"] != 0 {
		t.Fatal("bot voter was awarded a point")
	}
}

func TestResolveClassifiesMessageGone(t *testing.T) {
	store := newMemStore()
	q := testQuestion()
	client := &fakeClient{fetchErr: platform.ErrMessageNotFound}
	svc := NewService(store, client, &fakeGen{question: q}, nil)

	rec := &storage.PollRecord{
		Question: q.Question, Options: q.Options, CorrectIndex: q.CorrectIndex,
		Type: storage.PollTypeTrivia, MessageID: "poll-1", ChannelID: "chan",
		CreatedAt: time.Now().UTC(),
	}
	if err := store.SetPollState("guild", storage.StateLastPoll, rec); err != nil {
		t.Fatal(err)
	}

	res := svc.ResolveLastPoll(context.Background(), "guild")
	if res.Status != ResolveMessageGone {
		t.Fatalf("status = %v, want ResolveMessageGone", res.Status)
	}
}

func TestFallbackPrefersLastSuccessful(t *testing.T) {
	store := newMemStore()
	q := testQuestion()
	last := &storage.PollRecord{
		Question: "Stored question?", Options: []string{"yes", "no"}, CorrectIndex: 0,
		Type: storage.PollTypeTrivia, MessageID: "old", ChannelID: "chan",
		CreatedAt: time.Now().UTC(),
	}
	if err := store.SetPollState("guild", storage.StateLastSuccessful, last); err != nil {
		t.Fatal(err)
	}

	gen := &fakeGen{question: q, outcome: &resilience.Outcome[trivia.Question]{Err: errors.New("down")}}
	client := &fakeClient{}
	svc := NewService(store, client, gen, nil)

	if err := svc.PerformDailyPost(context.Background(), "guild", "chan", false); err != nil {
		t.Fatalf("PerformDailyPost: %v", err)
	}
	if len(client.polls) != 1 || client.polls[0] != "Stored question?" {
		t.Fatalf("posted polls = %v, want the stored question", client.polls)
	}

	rec, err := store.GetPollState("guild", storage.StateLastPoll)
	if err != nil {
		t.Fatal(err)
	}
	if !rec.IsFallback {
		t.Fatal("fallback poll not tagged IsFallback")
	}
	// Fallback content must not feed the success record or history.
	stored, _ := store.GetPollState("guild", storage.StateLastSuccessful)
	if stored.MessageID != "old" {
		t.Fatal("fallback overwrote the last successful record")
	}
	if len(store.history) != 0 {
		t.Fatalf("fallback entered the history: %v", store.history)
	}
}

func TestFallbackUsesStaticPoolWhenNoHistory(t *testing.T) {
	gen := &fakeGen{outcome: &resilience.Outcome[trivia.Question]{Err: errors.New("down")}}
	client := &fakeClient{}
	svc := NewService(newMemStore(), client, gen, nil)

	if err := svc.PerformDailyPost(context.Background(), "guild", "chan", false); err != nil {
		t.Fatalf("PerformDailyPost: %v", err)
	}
	if len(client.polls) != 1 {
		t.Fatalf("polls posted = %d, want 1", len(client.polls))
	}
	found := false
	for _, sp := range staticPolls {
		if sp.Question == client.polls[0] {
			found = true
		}
	}
	if !found {
		t.Fatalf("posted question %q is not from the static pool", client.polls[0])
	}
}

func TestRelinkThenForceResolve(t *testing.T) {
	store := newMemStore()
	q := testQuestion()
	client := &fakeClient{
		fetchMsg: pollMessage(q),
		voters:   []platform.Voter{{ID: "carol"}},
	}
	svc := NewService(store, client, &fakeGen{question: q}, nil)

	if err := svc.Relink(context.Background(), "guild", "chan", "poll-1", 1); err != nil {
		t.Fatalf("Relink: %v", err)
	}
	rec, err := store.GetPollState("guild", storage.StateLastPoll)
	if err != nil {
		t.Fatalf("relinked record missing: %v", err)
	}
	if rec.CorrectIndex != 0 || rec.MessageID != "poll-1" {
		t.Fatalf("unexpected relinked record: %+v", rec)
	}

	res, err := svc.ForceResolve(context.Background(), "guild")
	if err != nil {
		t.Fatalf("ForceResolve: %v", err)
	}
	if res.Status != ResolveDone || res.CorrectVoters != 1 {
		t.Fatalf("result = %+v, want ResolveDone with 1 voter", res)
	}
	if _, err := store.GetPollState("guild", storage.StateLastPoll); !errors.Is(err, storage.ErrNotFound) {
		t.Fatal("force-resolve did not clear the last-poll record")
	}
}

func TestRelinkRejectsOutOfRangeOption(t *testing.T) {
	q := testQuestion()
	client := &fakeClient{fetchMsg: pollMessage(q)}
	svc := NewService(newMemStore(), client, &fakeGen{question: q}, nil)

	if err := svc.Relink(context.Background(), "guild", "chan", "poll-1", 5); err == nil {
		t.Fatal("expected out-of-range error")
	}
	if err := svc.Relink(context.Background(), "guild", "chan", "poll-1", 0); err == nil {
		t.Fatal("expected out-of-range error for option 0")
	}
}

func TestOnDemandSingleSlot(t *testing.T) {
	store := newMemStore()
	q := testQuestion()
	client := &fakeClient{}
	svc := NewService(store, client, &fakeGen{question: q}, nil)

	if err := svc.StartOnDemand(context.Background(), "guild", "chan"); err != nil {
		t.Fatalf("StartOnDemand: %v", err)
	}
	if err := svc.StartOnDemand(context.Background(), "guild", "chan"); !errors.Is(err, ErrOnDemandActive) {
		t.Fatalf("second start err = %v, want ErrOnDemandActive", err)
	}

	if err := svc.RevealOnDemand(context.Background(), "guild"); err != nil {
		t.Fatalf("RevealOnDemand: %v", err)
	}
	if err := svc.RevealOnDemand(context.Background(), "guild"); !errors.Is(err, ErrNoOnDemand) {
		t.Fatalf("second reveal err = %v, want ErrNoOnDemand", err)
	}

	// The scoring surfaces stay untouched.
	if len(store.increment) != 0 {
		t.Fatal("on-demand lifecycle touched the leaderboard")
	}
	if len(store.history) != 0 {
		t.Fatal("on-demand lifecycle touched the question history")
	}
}

func TestWeeklySummaryListsStandings(t *testing.T) {
	store := newMemStore()
	store.scores["guild/alice"] = 3
	client := &fakeClient{}
	svc := NewService(store, client, &fakeGen{question: testQuestion()}, nil)

	if err := svc.PostWeeklySummary(context.Background(), "guild", "chan"); err != nil {
		t.Fatalf("PostWeeklySummary: %v", err)
	}
	msgs := client.sentMessages()
	if len(msgs) != 1 {
		t.Fatalf("messages sent = %d, want 1", len(msgs))
	}
	if !strings.Contains(msgs[0], "alice") || !strings.Contains(msgs[0], "3 points") {
		t.Fatalf("summary missing standings: %q", msgs[0])
	}
}
