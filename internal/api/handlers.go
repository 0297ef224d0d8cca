// Package api is the local admin HTTP surface. The CLI's management
// commands talk to a running bot through these routes; everything
// except the health check sits behind bearer auth.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/ArhamBafna/discord-poll-bot/internal/converse"
	"github.com/ArhamBafna/discord-poll-bot/internal/poll"
	"github.com/ArhamBafna/discord-poll-bot/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB

// Lifecycle is the poll-service surface the API drives.
type Lifecycle interface {
	PerformDailyPost(ctx context.Context, communityID, channelID string, catchUp bool) error
	ForceResolve(ctx context.Context, communityID string) (poll.ResolveResult, error)
	Relink(ctx context.Context, communityID, channelID, messageID string, correctOption int) error
	StartOnDemand(ctx context.Context, communityID, channelID string) error
	RevealOnDemand(ctx context.Context, communityID string) error
	PostWeeklySummary(ctx context.Context, communityID, channelID string) error
}

// Asker serves conversational requests.
type Asker interface {
	Ask(ctx context.Context, req converse.Request) string
}

// ScoreStore is the leaderboard surface for admin corrections.
type ScoreStore interface {
	AddScore(communityID, userID string, points int) error
	RemoveScore(communityID, userID string, points int) error
	SetScore(communityID, userID string, score int) error
	GetScore(communityID, userID string) (int, error)
	TopScores(communityID string, limit int) ([]storage.Standing, error)
	SaveKnowledgeDoc(doc storage.KnowledgeDoc) error
	ListKnowledgeDocs(communityID string, limit int) ([]storage.KnowledgeDoc, error)
	DeleteKnowledgeDoc(id string) error
}

type Deps struct {
	Polls    Lifecycle
	Converse Asker
	Store    ScoreStore
	Token    string
	// Channels maps community (guild) ID to its trivia channel.
	Channels map[string]string
}

func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Post("/communities/{community}/daily", handleDaily(deps))
		r.Post("/communities/{community}/resolve", handleResolve(deps))
		r.Post("/communities/{community}/relink", handleRelink(deps))
		r.Post("/communities/{community}/ondemand/start", handleOnDemandStart(deps))
		r.Post("/communities/{community}/ondemand/reveal", handleOnDemandReveal(deps))
		r.Post("/communities/{community}/weekly", handleWeekly(deps))
		r.Get("/communities/{community}/leaderboard", handleLeaderboard(deps))
		r.Post("/communities/{community}/score", handleScore(deps))
		r.Get("/communities/{community}/knowledge", handleListKnowledge(deps))
		r.Post("/communities/{community}/knowledge", handleAddKnowledge(deps))
		r.Delete("/communities/{community}/knowledge/{id}", handleDeleteKnowledge(deps))
		r.Post("/ask", handleAsk(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// communityChannel resolves the configured channel for a community,
// writing the error response itself when the community is unknown.
func communityChannel(deps Deps, w http.ResponseWriter, r *http.Request) (community, channel string, ok bool) {
	community = chi.URLParam(r, "community")
	channel, found := deps.Channels[community]
	if !found {
		httpError(w, http.StatusNotFound, "not_found", "unknown community %q", community)
		return "", "", false
	}
	return community, channel, true
}

func handleDaily(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		community, channel, ok := communityChannel(deps, w, r)
		if !ok {
			return
		}
		if err := deps.Polls.PerformDailyPost(r.Context(), community, channel, false); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "daily post failed: %v", err)
			return
		}
		writeJSON(w, map[string]string{"status": "posted"})
	}
}

func handleResolve(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		community := chi.URLParam(r, "community")
		res, err := deps.Polls.ForceResolve(r.Context(), community)
		if err != nil {
			httpError(w, http.StatusConflict, "api_error", "force resolve failed: %v", err)
			return
		}
		writeJSON(w, map[string]any{
			"status":         resolveStatusString(res.Status),
			"correct_voters": res.CorrectVoters,
		})
	}
}

func resolveStatusString(s poll.ResolveStatus) string {
	switch s {
	case poll.ResolveDone:
		return "resolved"
	case poll.ResolveNothing:
		return "nothing_to_resolve"
	case poll.ResolveMessageGone:
		return "message_gone"
	case poll.ResolveForbidden:
		return "forbidden"
	default:
		return "failed"
	}
}

type relinkRequest struct {
	ChannelID     string `json:"channel_id"`
	MessageID     string `json:"message_id"`
	CorrectOption int    `json:"correct_option"`
}

func handleRelink(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		community := chi.URLParam(r, "community")

		var req relinkRequest
		if err := decodeBody(w, r, &req); err != nil {
			return
		}
		if req.MessageID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "message_id is required")
			return
		}
		if req.ChannelID == "" {
			req.ChannelID = deps.Channels[community]
		}
		if req.ChannelID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "channel_id is required for unknown community %q", community)
			return
		}

		if err := deps.Polls.Relink(r.Context(), community, req.ChannelID, req.MessageID, req.CorrectOption); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "relink failed: %v", err)
			return
		}
		writeJSON(w, map[string]string{"status": "relinked"})
	}
}

func handleOnDemandStart(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		community, channel, ok := communityChannel(deps, w, r)
		if !ok {
			return
		}
		err := deps.Polls.StartOnDemand(r.Context(), community, channel)
		if errors.Is(err, poll.ErrOnDemandActive) {
			httpError(w, http.StatusConflict, "invalid_request_error", "%v", err)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "starting on-demand poll failed: %v", err)
			return
		}
		writeJSON(w, map[string]string{"status": "started"})
	}
}

func handleOnDemandReveal(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		community := chi.URLParam(r, "community")
		err := deps.Polls.RevealOnDemand(r.Context(), community)
		if errors.Is(err, poll.ErrNoOnDemand) {
			httpError(w, http.StatusNotFound, "not_found", "%v", err)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "revealing on-demand poll failed: %v", err)
			return
		}
		writeJSON(w, map[string]string{"status": "revealed"})
	}
}

func handleWeekly(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		community, channel, ok := communityChannel(deps, w, r)
		if !ok {
			return
		}
		if err := deps.Polls.PostWeeklySummary(r.Context(), community, channel); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "weekly summary failed: %v", err)
			return
		}
		writeJSON(w, map[string]string{"status": "posted"})
	}
}

func handleLeaderboard(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		community := chi.URLParam(r, "community")
		limit := parseIntParam(r, "limit", 10, 100)

		standings, err := deps.Store.TopScores(community, limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "loading leaderboard: %v", err)
			return
		}
		if standings == nil {
			standings = []storage.Standing{}
		}
		writeJSON(w, standings)
	}
}

type scoreRequest struct {
	UserID string `json:"user_id"`
	Action string `json:"action"` // add, remove, set
	Amount int    `json:"amount"`
}

func handleScore(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		community := chi.URLParam(r, "community")

		var req scoreRequest
		if err := decodeBody(w, r, &req); err != nil {
			return
		}
		if req.UserID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "user_id is required")
			return
		}

		var err error
		switch req.Action {
		case "add":
			err = deps.Store.AddScore(community, req.UserID, req.Amount)
		case "remove":
			err = deps.Store.RemoveScore(community, req.UserID, req.Amount)
		case "set":
			err = deps.Store.SetScore(community, req.UserID, req.Amount)
		default:
			httpError(w, http.StatusBadRequest, "invalid_request_error", "unknown action %q, want add, remove, or set", req.Action)
			return
		}
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "adjusting score: %v", err)
			return
		}

		score, err := deps.Store.GetScore(community, req.UserID)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "reading score back: %v", err)
			return
		}
		writeJSON(w, map[string]any{"user_id": req.UserID, "score": score})
	}
}

type knowledgeRequest struct {
	Content string `json:"content"`
}

func handleAddKnowledge(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		community := chi.URLParam(r, "community")

		var req knowledgeRequest
		if err := decodeBody(w, r, &req); err != nil {
			return
		}
		if req.Content == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "content is required")
			return
		}

		doc := storage.KnowledgeDoc{
			ID:          uuid.NewString(),
			CommunityID: community,
			Content:     req.Content,
			CreatedAt:   time.Now().UTC(),
		}
		if err := deps.Store.SaveKnowledgeDoc(doc); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "saving knowledge doc: %v", err)
			return
		}
		writeJSON(w, map[string]string{"id": doc.ID})
	}
}

func handleListKnowledge(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		community := chi.URLParam(r, "community")
		limit := parseIntParam(r, "limit", 20, 100)

		docs, err := deps.Store.ListKnowledgeDocs(community, limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "listing knowledge docs: %v", err)
			return
		}
		if docs == nil {
			docs = []storage.KnowledgeDoc{}
		}
		writeJSON(w, docs)
	}
}

func handleDeleteKnowledge(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		err := deps.Store.DeleteKnowledgeDoc(id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "knowledge doc not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "deleting knowledge doc: %v", err)
			return
		}
		writeJSON(w, map[string]string{"status": "deleted"})
	}
}

type askRequest struct {
	CommunityID string   `json:"community_id"`
	ChannelID   string   `json:"channel_id"`
	AuthorID    string   `json:"author_id"`
	Prompt      string   `json:"prompt"`
	ReplyChain  []string `json:"reply_chain"`
}

func handleAsk(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req askRequest
		if err := decodeBody(w, r, &req); err != nil {
			return
		}
		if req.Prompt == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "prompt is required")
			return
		}

		reply := deps.Converse.Ask(r.Context(), converse.Request{
			CommunityID: req.CommunityID,
			ChannelID:   req.ChannelID,
			AuthorID:    req.AuthorID,
			Prompt:      req.Prompt,
			ReplyChain:  req.ReplyChain,
		})
		writeJSON(w, map[string]string{"reply": reply})
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, out any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}
