package bedrock

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goagent.dev/mobileagent/model"
)

type fakeRuntime struct {
	out  *bedrockruntime.ConverseOutput
	err  error
	last *bedrockruntime.ConverseInput
}

func (f *fakeRuntime) Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error) {
	f.last = params
	if f.err != nil {
		return nil, f.err
	}
	return f.out, nil
}

func TestCompleteTranslatesResponse(t *testing.T) {
	fake := &fakeRuntime{out: &bedrockruntime.ConverseOutput{
		Output: &brtypes.ConverseOutputMemberMessage{Value: brtypes.Message{
			Role:    brtypes.ConversationRoleAssistant,
			Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: "swipe up"}},
		}},
		Usage: &brtypes.TokenUsage{InputTokens: aws.Int32(6), OutputTokens: aws.Int32(3), TotalTokens: aws.Int32(9)},
	}}
	c, err := New(fake, Options{DefaultModel: "anthropic.claude-test"})
	require.NoError(t, err)

	resp, err := c.Complete(context.Background(), &model.Request{Prompt: "what next?"})
	require.NoError(t, err)
	assert.Equal(t, "swipe up", resp.Text)
	assert.Equal(t, 9, resp.Usage.TotalTokens)
	require.NotNil(t, fake.last.ModelId)
	assert.Equal(t, "anthropic.claude-test", *fake.last.ModelId)
}

func TestCompleteRequiresPrompt(t *testing.T) {
	c, err := New(&fakeRuntime{}, Options{DefaultModel: "m"})
	require.NoError(t, err)
	_, err = c.Complete(context.Background(), &model.Request{})
	assert.Error(t, err)
}

func TestNewRequiresDefaultModel(t *testing.T) {
	_, err := New(&fakeRuntime{}, Options{})
	assert.Error(t, err)
}

func TestCompletePropagatesError(t *testing.T) {
	c, err := New(&fakeRuntime{err: errors.New("boom")}, Options{DefaultModel: "m"})
	require.NoError(t, err)
	_, err = c.Complete(context.Background(), &model.Request{Prompt: "p"})
	assert.Error(t, err)
}
