package jobengine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rakunlabs/shinkai/internal/llm"
	"github.com/rakunlabs/shinkai/internal/storage/memstore"
)

type fakeProvider struct {
	reply string
}

func (f fakeProvider) Chat(ctx context.Context, model string, messages []llm.Message, tools []llm.Tool) (*llm.Response, error) {
	return &llm.Response{Content: f.reply, Finished: true}, nil
}

func fakeEmbed(ctx context.Context, text string) ([]float32, error) {
	// Deterministic stub: embed by first-byte so qa vs summary descriptions
	// separate cleanly in tests.
	if len(text) == 0 {
		return []float32{0, 0}, nil
	}
	return []float32{float32(text[0]), 1}, nil
}

func TestRouterDispatchPicksClosestChain(t *testing.T) {
	ctx := context.Background()
	router, err := NewRouter(ctx, fakeEmbed, QAChain{}, SummaryChain{})
	require.NoError(t, err)

	cc := ChainContext{Provider: fakeProvider{reply: "42"}, Model: "test-model", Embed: fakeEmbed}
	vec, err := fakeEmbed(ctx, QAChain{}.Description())
	require.NoError(t, err)

	chain, prompt, err := router.Dispatch(ctx, cc, "what is the answer?", vec)
	require.NoError(t, err)
	require.Equal(t, "qa", chain.Name())
	require.Equal(t, "42", lastAssistantContent(prompt))
}

func TestSheetChainRetriesMalformedJSONWithinMaxIterations(t *testing.T) {
	provider := &flakyJSONProvider{failUntil: 1, validJSON: `{"value": "42"}`}
	chain := SheetChain{Columns: []SheetColumn{{Name: "answer", Prompt: "compute: {{.input}}"}}}
	cc := ChainContext{Provider: provider, Model: "test-model", MaxIterations: 2}

	prompt, err := chain.Run(t.Context(), cc, "2+2")
	require.NoError(t, err)
	require.Equal(t, 2, provider.calls)
	require.Contains(t, lastAssistantContent(prompt), "42")
}

func TestSheetChainSurfacesErrorWhenIterationsExhausted(t *testing.T) {
	provider := &flakyJSONProvider{failUntil: 100, validJSON: `{"value": "unreachable"}`}
	chain := SheetChain{Columns: []SheetColumn{{Name: "answer", Prompt: "compute: {{.input}}"}}}
	cc := ChainContext{Provider: provider, Model: "test-model", MaxIterations: 2}

	_, err := chain.Run(t.Context(), cc, "2+2")
	require.Error(t, err)
	require.Equal(t, 2, provider.calls)
}

func TestQueuePushPopFIFO(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	q := NewQueue(store)

	require.NoError(t, q.Push(ctx, "job-1", []byte("first")))
	require.NoError(t, q.Push(ctx, "job-1", []byte("second")))

	n, err := q.Len(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, 2, n)

	first, ok, err := q.Pop(ctx, "job-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("first"), first)

	second, ok, err := q.Pop(ctx, "job-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("second"), second)

	_, ok, err = q.Pop(ctx, "job-1")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestJobAddStepHistoryPreservesRevisions(t *testing.T) {
	job := NewJob("job-1", "@@alice.shinkai", "job_inbox::job-1::false", JobScope{})

	job.AddStepHistory("hash-1", Prompt{SubPrompts: []SubPrompt{{Role: RoleAssistant, Content: "v1"}}})
	job.AddStepHistory("hash-1", Prompt{SubPrompts: []SubPrompt{{Role: RoleAssistant, Content: "v2"}}})

	require.Len(t, job.StepHistory, 1)
	require.Equal(t, "v2", lastAssistantContent(job.StepHistory[0].Prompt))
	require.Len(t, job.StepHistory[0].PriorRevisions, 1)
	require.Equal(t, "v1", lastAssistantContent(job.StepHistory[0].PriorRevisions[0]))
}
