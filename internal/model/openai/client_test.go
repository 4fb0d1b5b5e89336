package openai

import (
	"context"
	"errors"
	"testing"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/stretchr/testify/require"

	"github.com/dagrun/dagrun/internal/model"
)

type stubChatClient struct {
	lastParams openai.ChatCompletionNewParams
	resp       *openai.ChatCompletion
	err        error
}

func (s *stubChatClient) New(_ context.Context, params openai.ChatCompletionNewParams, _ ...option.RequestOption) (*openai.ChatCompletion, error) {
	s.lastParams = params
	return s.resp, s.err
}

func TestChatTranslatesTextResponse(t *testing.T) {
	t.Parallel()

	stub := &stubChatClient{resp: &openai.ChatCompletion{
		Choices: []openai.ChatCompletionChoice{
			{
				FinishReason: "stop",
				Message:      openai.ChatCompletionMessage{Content: "hello back"},
			},
		},
		Usage: openai.CompletionUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}}

	c := New(stub, Options{DefaultModel: "gpt-4o"})
	resp, err := c.Chat(context.Background(), model.Request{
		Messages: []model.Message{{Role: model.RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)
	require.Equal(t, "hello back", resp.Content)
	require.Equal(t, 10, resp.Usage.InputTokens)
	require.Equal(t, 5, resp.Usage.OutputTokens)
	require.Equal(t, 15, resp.Usage.TotalTokens)
	require.Equal(t, "stop", resp.GenerationStats.StopReason)
}

func TestChatDefaultsModelWhenUnset(t *testing.T) {
	t.Parallel()

	stub := &stubChatClient{resp: &openai.ChatCompletion{}}
	c := New(stub, Options{})

	_, err := c.Chat(context.Background(), model.Request{
		Messages: []model.Message{{Role: model.RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)
	require.Equal(t, "gpt-4o", stub.lastParams.Model)
}

func TestChatRejectsEmptyMessages(t *testing.T) {
	t.Parallel()

	c := New(&stubChatClient{}, Options{})
	_, err := c.Chat(context.Background(), model.Request{})
	require.Error(t, err)
}

func TestChatBuildsOneMessagePerRole(t *testing.T) {
	t.Parallel()

	stub := &stubChatClient{resp: &openai.ChatCompletion{}}
	c := New(stub, Options{DefaultModel: "gpt-4o"})

	_, err := c.Chat(context.Background(), model.Request{
		Messages: []model.Message{
			{Role: model.RoleSystem, Content: "be terse"},
			{Role: model.RoleUser, Content: "hi"},
			{Role: model.RoleAssistant, Content: "hello"},
		},
	})
	require.NoError(t, err)
	require.Len(t, stub.lastParams.Messages, 3)
}

func TestChatWrapsGenericError(t *testing.T) {
	t.Parallel()

	stub := &stubChatClient{err: errors.New("network blip")}
	c := New(stub, Options{DefaultModel: "gpt-4o"})

	_, err := c.Chat(context.Background(), model.Request{
		Messages: []model.Message{{Role: model.RoleUser, Content: "hi"}},
	})
	require.Error(t, err)
	require.NotErrorIs(t, err, model.ErrRateLimited)
}

func TestValidateToolSupportAlwaysReportsSupported(t *testing.T) {
	t.Parallel()

	c := New(&stubChatClient{}, Options{})
	check, err := c.ValidateToolSupport(context.Background(), "gpt-4o")
	require.NoError(t, err)
	require.True(t, check.Supported)
}
