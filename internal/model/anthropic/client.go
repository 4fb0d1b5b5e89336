// Package anthropic implements model.Client against the Anthropic Messages
// API via github.com/anthropics/anthropic-sdk-go.
package anthropic

import (
	"context"
	"errors"
	"fmt"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/dagrun/dagrun/internal/model"
)

// MessagesClient is the subset of the SDK's message service this adapter
// needs, narrowed for testability (a fake can satisfy it without a live
// client).
type MessagesClient interface {
	New(ctx context.Context, params sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// Options configures the adapter.
type Options struct {
	DefaultModel string
	MaxTokens    int
	Temperature  float64
}

// Client adapts MessagesClient to model.Client.
type Client struct {
	msg          MessagesClient
	defaultModel string
	maxTokens    int
	temperature  float64
}

// New constructs a Client from a pre-built MessagesClient.
func New(msg MessagesClient, opts Options) *Client {
	maxTokens := opts.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}
	return &Client{msg: msg, defaultModel: opts.DefaultModel, maxTokens: maxTokens, temperature: opts.Temperature}
}

// NewFromAPIKey constructs a Client wired to a real Anthropic API key.
func NewFromAPIKey(apiKey, defaultModel string) *Client {
	c := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(&c.Messages, Options{DefaultModel: defaultModel})
}

// Chat implements model.Client.
func (c *Client) Chat(ctx context.Context, req model.Request) (model.Response, error) {
	params, err := c.prepareRequest(req)
	if err != nil {
		return model.Response{}, err
	}
	msg, err := c.msg.New(ctx, params)
	if err != nil {
		if isRateLimited(err) {
			return model.Response{}, fmt.Errorf("anthropic: %w: %w", model.ErrRateLimited, err)
		}
		return model.Response{}, fmt.Errorf("anthropic: chat: %w", err)
	}
	return translateResponse(msg), nil
}

// ValidateToolSupport reports every configured Anthropic model as
// supporting the Chat contract; tool-calling validation is Claude-specific
// and not modeled by the narrowed capability described in model.Client.
func (c *Client) ValidateToolSupport(ctx context.Context, modelName string) (model.SupportCheck, error) {
	return model.SupportCheck{Supported: true}, nil
}

func (c *Client) prepareRequest(req model.Request) (sdk.MessageNewParams, error) {
	if len(req.Messages) == 0 {
		return sdk.MessageNewParams{}, errors.New("anthropic: request has no messages")
	}
	modelID := req.Model
	if modelID == "" {
		modelID = c.defaultModel
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = c.maxTokens
	}
	temperature := req.Temperature
	if temperature == 0 {
		temperature = c.temperature
	}

	var system []sdk.TextBlockParam
	var messages []sdk.MessageParam
	for _, m := range req.Messages {
		switch m.Role {
		case model.RoleSystem:
			system = append(system, sdk.TextBlockParam{Text: m.Content})
		case model.RoleUser:
			messages = append(messages, sdk.NewUserMessage(sdk.NewTextBlock(m.Content)))
		case model.RoleAssistant:
			messages = append(messages, sdk.NewAssistantMessage(sdk.NewTextBlock(m.Content)))
		}
	}

	params := sdk.MessageNewParams{
		Model:       sdk.Model(modelID),
		MaxTokens:   int64(maxTokens),
		Temperature: sdk.Float(temperature),
		Messages:    messages,
		System:      system,
	}
	return params, nil
}

func translateResponse(msg *sdk.Message) model.Response {
	var content string
	for _, block := range msg.Content {
		if block.Type == "text" {
			content += block.Text
		}
	}
	return model.Response{
		Content: content,
		Usage: model.TokenUsage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
			TotalTokens:  int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
		},
		GenerationStats: &model.GenerationStats{StopReason: string(msg.StopReason)},
	}
}

func isRateLimited(err error) bool {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429
	}
	return false
}
