// Package converse answers free-form chat requests through the AI
// service. When the service is overloaded it defers the request into
// the queue instead of dropping it, and a background drain delivers the
// answer once capacity returns.
package converse

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/ArhamBafna/discord-poll-bot/internal/deferq"
	"github.com/ArhamBafna/discord-poll-bot/internal/genai"
	"github.com/ArhamBafna/discord-poll-bot/internal/resilience"
	"github.com/ArhamBafna/discord-poll-bot/internal/storage"
	"github.com/ArhamBafna/discord-poll-bot/internal/trivia"
)

const defaultPersona = "You are a friendly, concise trivia-bot assistant for a chat community. Answer helpfully in a couple of short paragraphs at most."

// Request is one user question, with the conversational context the
// caller collected.
type Request struct {
	CommunityID string
	ChannelID   string
	AuthorID    string
	Prompt      string
	ReplyChain  []string
}

// Chatter is the AI call the handler makes.
type Chatter interface {
	Chat(ctx context.Context, messages []genai.Message, jsonSchema *genai.Schema) (string, error)
}

// maxKnowledgeDocs bounds how many community notes the system prompt
// carries.
const maxKnowledgeDocs = 20

// DocLister provides the community knowledge base folded into the
// system prompt.
type DocLister interface {
	ListKnowledgeDocs(communityID string, limit int) ([]storage.KnowledgeDoc, error)
}

// Deferrals accepts jobs the handler could not serve immediately.
type Deferrals interface {
	Enqueue(job deferq.Job) (position int, ok bool)
}

// Messenger delivers deferred replies. Implemented by the platform
// client.
type Messenger interface {
	SendMessage(ctx context.Context, channelID, content string) (string, error)
}

// Handler serves conversational requests with overload deferral.
type Handler struct {
	client  Chatter
	caller  *resilience.Caller
	opts    resilience.Options
	docs    DocLister
	queue   Deferrals
	sender  Messenger
	persona string
	logger  *slog.Logger
}

func NewHandler(client Chatter, caller *resilience.Caller, opts resilience.Options, docs DocLister, queue Deferrals, sender Messenger) *Handler {
	return &Handler{
		client:  client,
		caller:  caller,
		opts:    opts,
		docs:    docs,
		queue:   queue,
		sender:  sender,
		persona: defaultPersona,
		logger:  slog.Default(),
	}
}

// Ask answers the request, or defers it when the AI service is
// overloaded. The returned string is always a user-facing reply: either
// the answer, a queued acknowledgement, or an apology. The user is
// never left without a response.
func (h *Handler) Ask(ctx context.Context, req Request) string {
	system := h.systemPrompt(req.CommunityID, req.ReplyChain)
	out := h.chat(ctx, system, req.Prompt)
	if out.OK() {
		return out.Value
	}

	if out.Permanent {
		h.logger.Warn("conversational request failed permanently", "community", req.CommunityID, "error", out.Err)
		return "Sorry, I couldn't come up with an answer for that one."
	}

	// Transient failure or open circuit: hold the question instead of
	// losing it. The context is frozen now because the channel may have
	// moved on by the time the drain runs.
	job := deferq.Job{
		ID:           uuid.NewString(),
		Key:          req.ChannelID + ":" + req.AuthorID,
		CommunityID:  req.CommunityID,
		ChannelID:    req.ChannelID,
		AuthorID:     req.AuthorID,
		Prompt:       req.Prompt,
		ReplyChain:   append([]string(nil), req.ReplyChain...),
		SystemPrompt: system,
	}
	position, ok := h.queue.Enqueue(job)
	if !ok {
		return "I'm overloaded right now and your queue is full — please try again in a few minutes."
	}
	h.logger.Info("deferred conversational request", "community", req.CommunityID, "job", job.ID, "position", position)
	return fmt.Sprintf("I'm a bit overloaded right now — I've queued your question (position %d) and will answer as soon as I can.", position)
}

// HandleDeferred runs one drained job: a single service attempt, then a
// reply either way. A job never goes back in the queue — failing twice
// means the user gets a failure notice, not another silent wait.
func (h *Handler) HandleDeferred(ctx context.Context, job deferq.Job) {
	out := h.chat(ctx, job.SystemPrompt, job.Prompt)

	reply := fmt.Sprintf("<@%s> %s", job.AuthorID, out.Value)
	if !out.OK() {
		h.logger.Warn("deferred request failed", "job", job.ID, "error", out.Err)
		reply = fmt.Sprintf("<@%s> Sorry — I still couldn't answer your earlier question. Please ask again later.", job.AuthorID)
	}

	if _, err := h.sender.SendMessage(ctx, job.ChannelID, reply); err != nil {
		h.logger.Error("delivering deferred reply failed", "job", job.ID, "error", err)
	}
}

func (h *Handler) chat(ctx context.Context, system, prompt string) resilience.Outcome[string] {
	messages := []genai.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: prompt},
	}
	return resilience.Call(ctx, h.caller, trivia.ServiceKey, h.opts, func(ctx context.Context) (string, error) {
		reply, err := h.client.Chat(ctx, messages, nil)
		if err != nil {
			return "", err
		}
		reply = strings.TrimSpace(reply)
		if reply == "" {
			return "", fmt.Errorf("empty reply")
		}
		return reply, nil
	})
}

// systemPrompt folds the community knowledge base and the captured
// reply chain into the instructions so the model answers with local
// context.
func (h *Handler) systemPrompt(communityID string, replyChain []string) string {
	var b strings.Builder
	b.WriteString(h.persona)

	if h.docs != nil {
		docs, err := h.docs.ListKnowledgeDocs(communityID, maxKnowledgeDocs)
		if err != nil {
			h.logger.Warn("loading knowledge docs failed", "community", communityID, "error", err)
		}
		if len(docs) > 0 {
			b.WriteString("\n\nCommunity notes you should treat as ground truth:")
			for _, d := range docs {
				b.WriteString("\n- ")
				b.WriteString(d.Content)
			}
		}
	}

	if len(replyChain) > 0 {
		b.WriteString("\n\nEarlier messages in this conversation, oldest first:")
		for _, m := range replyChain {
			b.WriteString("\n> ")
			b.WriteString(m)
		}
	}
	return b.String()
}
