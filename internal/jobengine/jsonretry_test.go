package jobengine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rakunlabs/shinkai/internal/llm"
)

// flakyJSONProvider replies with malformed JSON until the given attempt
// number, then replies with validJSON, so tests can pin down exactly how
// many retries ChatJSON needed.
type flakyJSONProvider struct {
	failUntil int // 0-indexed attempt at which a valid reply is returned
	validJSON string
	calls     int
}

func (f *flakyJSONProvider) Chat(ctx context.Context, model string, messages []llm.Message, tools []llm.Tool) (*llm.Response, error) {
	attempt := f.calls
	f.calls++
	if attempt < f.failUntil {
		return &llm.Response{Content: "not json at all", Finished: true}, nil
	}
	return &llm.Response{Content: f.validJSON, Finished: true}, nil
}

func TestChatJSONRetriesUntilValid(t *testing.T) {
	p := &flakyJSONProvider{failUntil: 2, validJSON: `{"value": "ok"}`}
	var out sheetColumnValue
	err := ChatJSON(t.Context(), p, "test-model", []llm.Message{{Role: "user", Content: "go"}}, &out, 3)

	require.NoError(t, err)
	require.Equal(t, "ok", out.Value)
	require.Equal(t, 3, p.calls)
}

func TestChatJSONGivesUpAtMaxRetries(t *testing.T) {
	p := &flakyJSONProvider{failUntil: 100, validJSON: `{"value": "unreachable"}`}
	var out sheetColumnValue
	err := ChatJSON(t.Context(), p, "test-model", []llm.Message{{Role: "user", Content: "go"}}, &out, 2)

	require.Error(t, err)
	require.Equal(t, 2, p.calls)
}

func TestChatJSONNormalizesSnakeCaseKeys(t *testing.T) {
	type wideShape struct {
		FileCount string `json:"fileCount"`
	}
	p := &flakyJSONProvider{failUntil: 0, validJSON: `{"file_count": "3"}`}
	var out wideShape
	err := ChatJSON(t.Context(), p, "test-model", []llm.Message{{Role: "user", Content: "go"}}, &out, 1)

	require.NoError(t, err)
	require.Equal(t, "3", out.FileCount)
}
