// Package openai implements model.Client against the Chat Completions API
// via the official github.com/openai/openai-go SDK.
package openai

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/dagrun/dagrun/internal/model"
)

// ChatClient is the subset of the SDK's chat completion service this
// adapter needs.
type ChatClient interface {
	New(ctx context.Context, params openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// Options configures the adapter.
type Options struct {
	DefaultModel string
	MaxTokens    int
	Temperature  float64
}

// Client adapts ChatClient to model.Client.
type Client struct {
	chat         ChatClient
	defaultModel string
	maxTokens    int
	temperature  float64
}

// New constructs a Client from a pre-built ChatClient.
func New(chat ChatClient, opts Options) *Client {
	model := opts.DefaultModel
	if model == "" {
		model = "gpt-4o"
	}
	return &Client{chat: chat, defaultModel: model, maxTokens: opts.MaxTokens, temperature: opts.Temperature}
}

// NewFromAPIKey constructs a Client wired to a real OpenAI API key.
func NewFromAPIKey(apiKey, defaultModel string) *Client {
	c := openai.NewClient(option.WithAPIKey(apiKey))
	return New(&c.Chat.Completions, Options{DefaultModel: defaultModel})
}

// Chat implements model.Client.
func (c *Client) Chat(ctx context.Context, req model.Request) (model.Response, error) {
	params, err := c.prepareRequest(req)
	if err != nil {
		return model.Response{}, err
	}
	resp, err := c.chat.New(ctx, params)
	if err != nil {
		if isRateLimited(err) {
			return model.Response{}, fmt.Errorf("openai: %w: %w", model.ErrRateLimited, err)
		}
		return model.Response{}, fmt.Errorf("openai: chat: %w", err)
	}
	return translateResponse(resp), nil
}

// ValidateToolSupport reports every configured OpenAI chat model as
// supporting the Chat contract.
func (c *Client) ValidateToolSupport(ctx context.Context, modelName string) (model.SupportCheck, error) {
	return model.SupportCheck{Supported: true}, nil
}

func (c *Client) prepareRequest(req model.Request) (openai.ChatCompletionNewParams, error) {
	if len(req.Messages) == 0 {
		return openai.ChatCompletionNewParams{}, errors.New("openai: request has no messages")
	}
	modelID := req.Model
	if modelID == "" {
		modelID = c.defaultModel
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = c.maxTokens
	}

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case model.RoleSystem:
			messages = append(messages, openai.SystemMessage(m.Content))
		case model.RoleUser:
			messages = append(messages, openai.UserMessage(m.Content))
		case model.RoleAssistant:
			messages = append(messages, openai.AssistantMessage(m.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    modelID,
		Messages: messages,
	}
	if maxTokens > 0 {
		params.MaxTokens = openai.Int(int64(maxTokens))
	}
	temperature := req.Temperature
	if temperature == 0 {
		temperature = c.temperature
	}
	if temperature > 0 {
		params.Temperature = openai.Float(temperature)
	}
	if req.Seed != nil {
		params.Seed = openai.Int(*req.Seed)
	}
	return params, nil
}

func translateResponse(resp *openai.ChatCompletion) model.Response {
	var content string
	var stopReason string
	if len(resp.Choices) > 0 {
		content = resp.Choices[0].Message.Content
		stopReason = string(resp.Choices[0].FinishReason)
	}
	return model.Response{
		Content: content,
		Usage: model.TokenUsage{
			InputTokens:  int(resp.Usage.PromptTokens),
			OutputTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:  int(resp.Usage.TotalTokens),
		},
		GenerationStats: &model.GenerationStats{StopReason: stopReason},
	}
}

func isRateLimited(err error) bool {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429
	}
	return false
}
