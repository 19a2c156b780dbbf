// Package llm streams chat completions from any OpenAI-compatible endpoint
// (OpenAI, Cerebras, a local gateway).
package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/chadiek/voice-bridge/internal/config"
)

// Role constants for messages.
const (
	RoleSystem    = "system"
	RoleAssistant = "assistant"
	RoleUser      = "user"
)

// Message is a single turn in a conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Params are the fixed generation settings sent with every request.
type Params struct {
	Model            string
	Temperature      float32
	TopP             float32
	FrequencyPenalty float32
	PresencePenalty  float32
	MaxTokens        int
}

func ParamsFromConfig(cfg config.LLMConfig) Params {
	return Params{
		Model:            cfg.Model,
		Temperature:      cfg.Temperature,
		TopP:             cfg.TopP,
		FrequencyPenalty: cfg.FrequencyPenalty,
		PresencePenalty:  cfg.PresencePenalty,
		MaxTokens:        cfg.MaxTokens,
	}
}

// Stream event types.
const (
	EventDelta = "delta"
	EventDone  = "done"
	EventError = "error"
)

// StreamEvent is a chunk from a streaming completion. A stream ends with
// exactly one done or error event, unless the context was cancelled, in
// which case the channel is simply closed.
type StreamEvent struct {
	Type    string
	Content string // text delta, or the full reply on done
	Err     error
}

type Client struct {
	HTTPClient *http.Client
	APIKey     string
	BaseURL    string
	Params     Params
}

func NewClient(baseURL, apiKey string, params Params) *Client {
	return &Client{
		// no overall timeout: a streamed reply stays open while tokens arrive
		HTTPClient: &http.Client{Transport: http.DefaultTransport},
		APIKey:     apiKey,
		BaseURL:    baseURL,
		Params:     params,
	}
}

func (c *Client) api() *openai.Client {
	cfg := openai.DefaultConfig(c.APIKey)
	if c.BaseURL != "" {
		cfg.BaseURL = strings.TrimSuffix(c.BaseURL, "/")
	}
	if c.HTTPClient != nil {
		cfg.HTTPClient = c.HTTPClient
	}
	return openai.NewClientWithConfig(cfg)
}

// Stream opens a streaming completion over messages. Errors opening the
// stream are returned directly; failures after that arrive as an error event.
func (c *Client) Stream(ctx context.Context, messages []Message) (<-chan StreamEvent, error) {
	if c.APIKey == "" {
		return nil, fmt.Errorf("llm: api key missing")
	}
	if len(messages) == 0 {
		return nil, fmt.Errorf("llm: no messages")
	}

	req := openai.ChatCompletionRequest{
		Model:            c.Params.Model,
		Messages:         make([]openai.ChatCompletionMessage, 0, len(messages)),
		Temperature:      c.Params.Temperature,
		TopP:             c.Params.TopP,
		FrequencyPenalty: c.Params.FrequencyPenalty,
		PresencePenalty:  c.Params.PresencePenalty,
		MaxTokens:        c.Params.MaxTokens,
		Stream:           true,
	}
	for _, m := range messages {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	stream, err := c.api().CreateChatCompletionStream(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("llm: open stream: %w", err)
	}

	out := make(chan StreamEvent, 16)
	go func() {
		defer close(out)
		defer stream.Close()

		var full strings.Builder
		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				send(ctx, out, StreamEvent{Type: EventDone, Content: full.String()})
				return
			}
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				send(ctx, out, StreamEvent{Type: EventError, Err: fmt.Errorf("llm: stream: %w", err)})
				return
			}
			if len(resp.Choices) == 0 {
				continue
			}
			delta := resp.Choices[0].Delta.Content
			if delta == "" {
				continue
			}
			full.WriteString(delta)
			if !send(ctx, out, StreamEvent{Type: EventDelta, Content: delta}) {
				return
			}
		}
	}()
	return out, nil
}

func send(ctx context.Context, out chan<- StreamEvent, ev StreamEvent) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
