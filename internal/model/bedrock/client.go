// Package bedrock implements model.Client against the AWS Bedrock Converse
// API, narrowed to single-shot, non-streaming calls since the Chat
// capability's contract has no streaming surface.
package bedrock

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"github.com/dagrun/dagrun/internal/model"
)

// RuntimeClient is the subset of the Bedrock runtime client this adapter
// needs.
type RuntimeClient interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, opts ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// Options configures the adapter.
type Options struct {
	DefaultModel string
	MaxTokens    int
	Temperature  float32
}

// Client adapts RuntimeClient to model.Client.
type Client struct {
	runtime      RuntimeClient
	defaultModel string
	maxTokens    int32
	temperature  float32
}

// New constructs a Client from a pre-built RuntimeClient.
func New(runtime RuntimeClient, opts Options) *Client {
	maxTokens := opts.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}
	return &Client{runtime: runtime, defaultModel: opts.DefaultModel, maxTokens: int32(maxTokens), temperature: opts.Temperature}
}

// Chat implements model.Client.
func (c *Client) Chat(ctx context.Context, req model.Request) (model.Response, error) {
	if len(req.Messages) == 0 {
		return model.Response{}, errors.New("bedrock: request has no messages")
	}
	modelID := req.Model
	if modelID == "" {
		modelID = c.defaultModel
	}
	maxTokens := int32(req.MaxTokens)
	if maxTokens == 0 {
		maxTokens = c.maxTokens
	}
	temperature := float32(req.Temperature)
	if temperature == 0 {
		temperature = c.temperature
	}

	var system []brtypes.SystemContentBlock
	var messages []brtypes.Message
	for _, m := range req.Messages {
		block := &brtypes.ContentBlockMemberText{Value: m.Content}
		switch m.Role {
		case model.RoleSystem:
			system = append(system, &brtypes.SystemContentBlockMemberText{Value: m.Content})
		case model.RoleUser:
			messages = append(messages, brtypes.Message{Role: brtypes.ConversationRoleUser, Content: []brtypes.ContentBlock{block}})
		case model.RoleAssistant:
			messages = append(messages, brtypes.Message{Role: brtypes.ConversationRoleAssistant, Content: []brtypes.ContentBlock{block}})
		}
	}

	out, err := c.runtime.Converse(ctx, &bedrockruntime.ConverseInput{
		ModelId:  aws.String(modelID),
		System:   system,
		Messages: messages,
		InferenceConfig: &brtypes.InferenceConfiguration{
			MaxTokens:   aws.Int32(maxTokens),
			Temperature: aws.Float32(temperature),
		},
	})
	if err != nil {
		if isRateLimited(err) {
			return model.Response{}, fmt.Errorf("bedrock: %w: %w", model.ErrRateLimited, err)
		}
		return model.Response{}, fmt.Errorf("bedrock: converse: %w", err)
	}
	return translateResponse(out), nil
}

// ValidateToolSupport reports every configured Bedrock model as supporting
// the Chat contract.
func (c *Client) ValidateToolSupport(ctx context.Context, modelName string) (model.SupportCheck, error) {
	return model.SupportCheck{Supported: true}, nil
}

func translateResponse(out *bedrockruntime.ConverseOutput) model.Response {
	var content string
	var stopReason string
	if msgOutput, ok := out.Output.(*brtypes.ConverseOutputMemberMessage); ok {
		for _, block := range msgOutput.Value.Content {
			if text, ok := block.(*brtypes.ContentBlockMemberText); ok {
				content += text.Value
			}
		}
	}
	stopReason = string(out.StopReason)
	usage := model.TokenUsage{}
	if out.Usage != nil {
		usage = model.TokenUsage{
			InputTokens:  int(aws.ToInt32(out.Usage.InputTokens)),
			OutputTokens: int(aws.ToInt32(out.Usage.OutputTokens)),
			TotalTokens:  int(aws.ToInt32(out.Usage.TotalTokens)),
		}
	}
	return model.Response{
		Content:         content,
		Usage:           usage,
		GenerationStats: &model.GenerationStats{StopReason: stopReason},
	}
}

func isRateLimited(err error) bool {
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) {
		return respErr.HTTPStatusCode() == 429
	}
	return false
}
