// Package trivia generates daily trivia content through the external
// AI service and validates the structured responses before they reach
// the poll lifecycle.
package trivia

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ArhamBafna/discord-poll-bot/internal/genai"
	"github.com/ArhamBafna/discord-poll-bot/internal/resilience"
)

// ServiceKey names the generative-AI dependency in the breaker table.
// All AI traffic — trivia, explanations, conversation — shares one
// breaker: an outage affects the whole dependency, not one prompt.
const ServiceKey = "genai"

// Question is a validated trivia item.
type Question struct {
	Question     string   `json:"question"`
	Options      []string `json:"options"`
	CorrectIndex int      `json:"correct_index"`
	Explanation  string   `json:"explanation"`
}

// Chatter is the AI surface the generator consumes.
type Chatter interface {
	Chat(ctx context.Context, messages []genai.Message, jsonSchema *genai.Schema) (string, error)
}

// Generator produces trivia questions and answer explanations.
type Generator struct {
	client Chatter
	caller *resilience.Caller
	opts   resilience.Options
}

// NewGenerator creates a Generator calling the AI service through the
// given resilience caller.
func NewGenerator(client Chatter, caller *resilience.Caller, opts resilience.Options) *Generator {
	return &Generator{client: client, caller: caller, opts: opts}
}

const triviaSystemPrompt = `You write one daily trivia question for a community chat server. Your output must be ONLY a single valid JSON object that conforms to the provided schema. Do not include any other text, prose, or markdown.

Rules:
- The question must have 2 to 10 answer options with exactly one correct answer.
- correct_index is the zero-based index of the correct option.
- The explanation is one or two sentences teaching why the answer is correct.
- Do not repeat any question listed under [Recently Asked].`

// Generate requests a fresh trivia question, biasing away from the
// given recently asked questions. Malformed or out-of-shape responses
// are permanent failures; the caller falls back rather than retrying.
func (g *Generator) Generate(ctx context.Context, recent []string) resilience.Outcome[Question] {
	messages := buildTriviaPrompt(recent)

	return resilience.Call(ctx, g.caller, ServiceKey, g.opts, func(ctx context.Context) (Question, error) {
		raw, err := g.client.Chat(ctx, messages, questionSchema())
		if err != nil {
			return Question{}, err
		}
		return parseQuestion(raw)
	})
}

// Explain generates a short answer explanation for an existing
// question, used when an operator relinks a poll whose record was lost.
func (g *Generator) Explain(ctx context.Context, question string, options []string, correctIndex int) resilience.Outcome[string] {
	prompt := fmt.Sprintf(
		"Explain in one or two sentences why %q is the correct answer to the trivia question %q. Reply with the explanation only.",
		options[correctIndex], question,
	)
	messages := []genai.Message{
		{Role: "user", Content: prompt},
	}

	return resilience.Call(ctx, g.caller, ServiceKey, g.opts, func(ctx context.Context) (string, error) {
		raw, err := g.client.Chat(ctx, messages, nil)
		if err != nil {
			return "", err
		}
		text := strings.TrimSpace(raw)
		if text == "" {
			return "", fmt.Errorf("empty explanation")
		}
		return text, nil
	})
}

func buildTriviaPrompt(recent []string) []genai.Message {
	var sb strings.Builder
	sb.WriteString(triviaSystemPrompt)

	if len(recent) > 0 {
		sb.WriteString("\n\n[Recently Asked]\n")
		for _, q := range recent {
			fmt.Fprintf(&sb, "- %s\n", q)
		}
	}

	return []genai.Message{
		{Role: "system", Content: sb.String()},
		{Role: "user", Content: "Write today's trivia question."},
	}
}

func questionSchema() *genai.Schema {
	return &genai.Schema{
		Type: "object",
		Properties: map[string]genai.SchemaProperty{
			"question":      {Type: "string", Description: "The trivia question text"},
			"options":       {Type: "array", Description: "2-10 answer options", Items: &genai.SchemaProperty{Type: "string"}},
			"correct_index": {Type: "integer", Description: "Zero-based index of the correct option"},
			"explanation":   {Type: "string", Description: "Why the correct answer is correct"},
		},
		Required: []string{"question", "options", "correct_index", "explanation"},
	}
}

// parseQuestion decodes and validates a structured response. Any
// violation is a plain (permanent) error: a response the model already
// got wrong is not worth a retry budget.
func parseQuestion(raw string) (Question, error) {
	var q Question
	if err := json.Unmarshal([]byte(raw), &q); err != nil {
		return Question{}, fmt.Errorf("parsing trivia response: %w", err)
	}
	if err := q.Validate(); err != nil {
		return Question{}, fmt.Errorf("invalid trivia response: %w", err)
	}
	return q, nil
}

// Validate checks the structural invariants of a trivia question.
func (q Question) Validate() error {
	if strings.TrimSpace(q.Question) == "" {
		return fmt.Errorf("empty question")
	}
	if len(q.Options) < 2 || len(q.Options) > 10 {
		return fmt.Errorf("got %d options, want 2-10", len(q.Options))
	}
	for i, opt := range q.Options {
		if strings.TrimSpace(opt) == "" {
			return fmt.Errorf("option %d is empty", i)
		}
	}
	if q.CorrectIndex < 0 || q.CorrectIndex >= len(q.Options) {
		return fmt.Errorf("correct_index %d out of range for %d options", q.CorrectIndex, len(q.Options))
	}
	return nil
}

// Normalize reduces a question to its dedupe form: lower-cased with
// whitespace collapsed. Exact-match over the bounded history is an
// accepted approximation of semantic novelty.
func Normalize(question string) string {
	return strings.Join(strings.Fields(strings.ToLower(question)), " ")
}
