package anthropic

import (
	"context"
	"errors"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/require"

	"github.com/dagrun/dagrun/internal/model"
)

type stubMessagesClient struct {
	lastParams sdk.MessageNewParams
	resp       *sdk.Message
	err        error
}

func (s *stubMessagesClient) New(_ context.Context, body sdk.MessageNewParams, _ ...option.RequestOption) (*sdk.Message, error) {
	s.lastParams = body
	return s.resp, s.err
}

func TestChatTranslatesTextResponse(t *testing.T) {
	t.Parallel()

	stub := &stubMessagesClient{resp: &sdk.Message{
		Content:    []sdk.ContentBlockUnion{{Type: "text", Text: "hello back"}},
		StopReason: sdk.StopReasonEndTurn,
		Usage:      sdk.Usage{InputTokens: 10, OutputTokens: 5},
	}}

	c := New(stub, Options{DefaultModel: "claude-3.5-sonnet"})
	resp, err := c.Chat(context.Background(), model.Request{
		Messages: []model.Message{{Role: model.RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)
	require.Equal(t, "hello back", resp.Content)
	require.Equal(t, 10, resp.Usage.InputTokens)
	require.Equal(t, 5, resp.Usage.OutputTokens)
	require.Equal(t, 15, resp.Usage.TotalTokens)
	require.Equal(t, string(sdk.StopReasonEndTurn), resp.GenerationStats.StopReason)
}

func TestChatSplitsSystemMessages(t *testing.T) {
	t.Parallel()

	stub := &stubMessagesClient{resp: &sdk.Message{}}
	c := New(stub, Options{DefaultModel: "claude-3.5-sonnet"})

	_, err := c.Chat(context.Background(), model.Request{
		Messages: []model.Message{
			{Role: model.RoleSystem, Content: "be terse"},
			{Role: model.RoleUser, Content: "hi"},
		},
	})
	require.NoError(t, err)
	require.Len(t, stub.lastParams.System, 1)
	require.Equal(t, "be terse", stub.lastParams.System[0].Text)
	require.Len(t, stub.lastParams.Messages, 1)
}

func TestChatRejectsEmptyMessages(t *testing.T) {
	t.Parallel()

	c := New(&stubMessagesClient{}, Options{})
	_, err := c.Chat(context.Background(), model.Request{})
	require.Error(t, err)
}

func TestChatUsesRequestModelOverDefault(t *testing.T) {
	t.Parallel()

	stub := &stubMessagesClient{resp: &sdk.Message{}}
	c := New(stub, Options{DefaultModel: "claude-3.5-sonnet"})

	_, err := c.Chat(context.Background(), model.Request{
		Model:    "claude-3-opus",
		Messages: []model.Message{{Role: model.RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)
	require.Equal(t, sdk.Model("claude-3-opus"), stub.lastParams.Model)
}

func TestChatWrapsGenericError(t *testing.T) {
	t.Parallel()

	stub := &stubMessagesClient{err: errors.New("network blip")}
	c := New(stub, Options{DefaultModel: "claude-3.5-sonnet"})

	_, err := c.Chat(context.Background(), model.Request{
		Messages: []model.Message{{Role: model.RoleUser, Content: "hi"}},
	})
	require.Error(t, err)
	require.NotErrorIs(t, err, model.ErrRateLimited)
}

func TestValidateToolSupportAlwaysReportsSupported(t *testing.T) {
	t.Parallel()

	c := New(&stubMessagesClient{}, Options{})
	check, err := c.ValidateToolSupport(context.Background(), "claude-3.5-sonnet")
	require.NoError(t, err)
	require.True(t, check.Supported)
}
