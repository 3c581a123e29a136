package anthropic

import (
	"context"
	"errors"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goagent.dev/mobileagent/model"
)

type fakeMessages struct {
	resp *sdk.Message
	err  error
	last sdk.MessageNewParams
}

func (f *fakeMessages) New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error) {
	f.last = body
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

func TestCompleteTranslatesTextResponse(t *testing.T) {
	fake := &fakeMessages{resp: &sdk.Message{
		Content: []sdk.ContentBlockUnion{{Type: "text", Text: "do tap_element(text=确认)"}},
		Usage:   sdk.Usage{InputTokens: 10, OutputTokens: 5},
	}}
	c, err := New(fake, Options{DefaultModel: "claude-test"})
	require.NoError(t, err)

	resp, err := c.Complete(context.Background(), &model.Request{Prompt: "what next?", MaxTokens: 100})
	require.NoError(t, err)
	assert.Equal(t, "do tap_element(text=确认)", resp.Text)
	assert.Equal(t, 15, resp.Usage.TotalTokens)
	assert.Equal(t, sdk.Model("claude-test"), fake.last.Model)
}

func TestCompleteRequiresPrompt(t *testing.T) {
	c, err := New(&fakeMessages{}, Options{DefaultModel: "claude-test", MaxTokens: 100})
	require.NoError(t, err)
	_, err = c.Complete(context.Background(), &model.Request{})
	assert.Error(t, err)
}

func TestCompleteUsesHighModelClass(t *testing.T) {
	fake := &fakeMessages{resp: &sdk.Message{}}
	c, err := New(fake, Options{DefaultModel: "default", HighModel: "high", MaxTokens: 100})
	require.NoError(t, err)
	_, err = c.Complete(context.Background(), &model.Request{Prompt: "p", Class: model.ClassHighReasoning})
	require.NoError(t, err)
	assert.Equal(t, sdk.Model("high"), fake.last.Model)
}

func TestCompleteWrapsRateLimitError(t *testing.T) {
	fake := &fakeMessages{err: errors.New("received 429 too many requests")}
	c, err := New(fake, Options{DefaultModel: "claude-test", MaxTokens: 100})
	require.NoError(t, err)
	_, err = c.Complete(context.Background(), &model.Request{Prompt: "p"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrRateLimited))
}

func TestNewRejectsMissingDefaultModel(t *testing.T) {
	_, err := New(&fakeMessages{}, Options{})
	assert.Error(t, err)
}
