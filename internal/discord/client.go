// Package discord is the REST implementation of the platform client
// against the Discord v10 HTTP API. Only the endpoints the bot needs
// are covered: posting messages, posting polls, fetching a message, and
// listing an answer's voters.
package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ArhamBafna/discord-poll-bot/internal/platform"
)

const defaultBaseURL = "https://discord.com/api/v10"

// pollDurationHours is how long posted polls accept votes. The daily
// cycle resolves them after 24h anyway, so the vote window matches.
const pollDurationHours = 24

// Client talks to the Discord REST API with a bot token.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func New(token string) *Client {
	return &Client{
		baseURL:    defaultBaseURL,
		token:      token,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// NewWithBaseURL creates a client pointing at a custom base URL (for testing).
func NewWithBaseURL(token, baseURL string) *Client {
	c := New(token)
	c.baseURL = strings.TrimRight(baseURL, "/")
	return c
}

type apiMessage struct {
	ID        string   `json:"id"`
	ChannelID string   `json:"channel_id"`
	Content   string   `json:"content"`
	Poll      *apiPoll `json:"poll,omitempty"`
}

type apiPoll struct {
	Question apiPollMedia `json:"question"`
	Answers  []apiAnswer  `json:"answers"`
}

type apiPollMedia struct {
	Text string `json:"text"`
}

type apiAnswer struct {
	AnswerID  int          `json:"answer_id,omitempty"`
	PollMedia apiPollMedia `json:"poll_media"`
}

type createPoll struct {
	Question         apiPollMedia `json:"question"`
	Answers          []apiAnswer  `json:"answers"`
	Duration         int          `json:"duration"`
	AllowMultiselect bool         `json:"allow_multiselect"`
}

type apiUser struct {
	ID  string `json:"id"`
	Bot bool   `json:"bot"`
}

// SendMessage posts a plain text message and returns its ID.
func (c *Client) SendMessage(ctx context.Context, channelID, content string) (string, error) {
	body := map[string]string{"content": content}
	var msg apiMessage
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/channels/%s/messages", channelID), body, &msg); err != nil {
		return "", fmt.Errorf("sending message: %w", err)
	}
	return msg.ID, nil
}

// SendPoll posts a single-select poll and returns the message ID.
func (c *Client) SendPoll(ctx context.Context, channelID, question string, options []string) (string, error) {
	answers := make([]apiAnswer, len(options))
	for i, opt := range options {
		answers[i] = apiAnswer{PollMedia: apiPollMedia{Text: opt}}
	}
	body := map[string]createPoll{"poll": {
		Question: apiPollMedia{Text: question},
		Answers:  answers,
		Duration: pollDurationHours,
	}}
	var msg apiMessage
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/channels/%s/messages", channelID), body, &msg); err != nil {
		return "", fmt.Errorf("sending poll: %w", err)
	}
	return msg.ID, nil
}

// FetchMessage retrieves one message, including its poll if it has one.
func (c *Client) FetchMessage(ctx context.Context, channelID, messageID string) (platform.Message, error) {
	var msg apiMessage
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/channels/%s/messages/%s", channelID, messageID), nil, &msg); err != nil {
		return platform.Message{}, fmt.Errorf("fetching message: %w", err)
	}

	out := platform.Message{ID: msg.ID, ChannelID: msg.ChannelID, Content: msg.Content}
	if msg.Poll != nil {
		snap := &platform.PollSnapshot{Question: msg.Poll.Question.Text}
		for _, a := range msg.Poll.Answers {
			snap.Answers = append(snap.Answers, platform.PollAnswer{ID: a.AnswerID, Text: a.PollMedia.Text})
		}
		out.Poll = snap
	}
	return out, nil
}

// AnswerVoters lists the users who voted for one poll answer.
func (c *Client) AnswerVoters(ctx context.Context, channelID, messageID string, answerID int) ([]platform.Voter, error) {
	var result struct {
		Users []apiUser `json:"users"`
	}
	path := fmt.Sprintf("/channels/%s/polls/%s/answers/%d", channelID, messageID, answerID)
	if err := c.do(ctx, http.MethodGet, path, nil, &result); err != nil {
		return nil, fmt.Errorf("fetching voters: %w", err)
	}

	voters := make([]platform.Voter, len(result.Users))
	for i, u := range result.Users {
		voters[i] = platform.Voter{ID: u.ID, Bot: u.Bot}
	}
	return voters, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bot "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return platform.ErrMessageNotFound
	case resp.StatusCode == http.StatusForbidden:
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return platform.ErrForbidden
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}
