package jobengine

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/prompts"

	"github.com/rakunlabs/shinkai/internal/llm"
	"github.com/rakunlabs/shinkai/internal/render"
	"github.com/rakunlabs/shinkai/internal/vectorresource"
)

// summaryPromptTemplate renders the summary chain's system instruction,
// carrying the job's attached file count into the prompt the way every
// other chain's instruction text is built from job state.
var summaryPromptTemplate = prompts.NewPromptTemplate(
	"Summarize the {{.fileCount}} attached document(s), then answer the user's request using the summary.",
	[]string{"fileCount"},
)

// ChainContext is everything a chain needs to produce a JobStepResult: the
// job's accumulated scope/history and an embedding function shared with the
// router so every chain's "what is this message about" classification and
// the vector-resource top-k search use the exact same distance metric
// (spec §4.7: "inference chains are chosen by embedding similarity").
type ChainContext struct {
	Job      *Job
	Provider llm.Provider
	Model    string
	Embed    func(ctx context.Context, text string) ([]float32, error)

	// MaxIterations bounds a chain's internal retry loop (spec §4.7
	// "bounded max_iterations retry budget"); zero means
	// DefaultMaxIterations.
	MaxIterations int
	// MaxTokensInPrompt truncates the user message (by word count, a
	// cheap stand-in for a tokenizer) before it reaches the provider, so a
	// very long message can't blow the provider's context window; zero
	// means no truncation.
	MaxTokensInPrompt int
	// PrevExecutionContext carries the job's execution-context snapshots
	// from prior steps forward into this one (spec §4.7
	// "prev_execution_context"), so a chain can reference what an earlier
	// step in the same job already established.
	PrevExecutionContext map[string]string
}

// DefaultMaxIterations is the retry budget a chain uses when ChainContext
// doesn't specify one.
const DefaultMaxIterations = 3

func (cc ChainContext) maxIterations() int {
	if cc.MaxIterations > 0 {
		return cc.MaxIterations
	}
	return DefaultMaxIterations
}

// truncate applies MaxTokensInPrompt to msg, dropping words off the end.
func (cc ChainContext) truncate(msg string) string {
	if cc.MaxTokensInPrompt <= 0 {
		return msg
	}
	words := strings.Fields(msg)
	if len(words) <= cc.MaxTokensInPrompt {
		return msg
	}
	return strings.Join(words[:cc.MaxTokensInPrompt], " ")
}

// Chain is one dispatchable inference strategy (spec §4.7: summary, QA,
// workflow, sheet).
type Chain interface {
	Name() string
	// Description is embedded once at router construction and compared
	// against the incoming message's embedding to pick a chain.
	Description() string
	Run(ctx context.Context, cc ChainContext, userMessage string) (Prompt, error)
}

// Router dispatches an inbound user message to the Chain whose Description
// embedding is closest, by cosine similarity, to the message's own
// embedding (spec §4.7 "inference chain router").
type Router struct {
	chains     []Chain
	chainVecs  [][]float32
}

// NewRouter embeds every chain's description up front via embed.
func NewRouter(ctx context.Context, embed func(ctx context.Context, text string) ([]float32, error), chains ...Chain) (*Router, error) {
	r := &Router{chains: chains}
	for _, c := range chains {
		vec, err := embed(ctx, c.Description())
		if err != nil {
			return nil, fmt.Errorf("jobengine: embedding chain %q description: %w", c.Name(), err)
		}
		r.chainVecs = append(r.chainVecs, vec)
	}
	return r, nil
}

// Dispatch picks the best-matching chain for messageVec and runs it.
func (r *Router) Dispatch(ctx context.Context, cc ChainContext, userMessage string, messageVec []float32) (Chain, Prompt, error) {
	if len(r.chains) == 0 {
		return nil, Prompt{}, fmt.Errorf("jobengine: router has no registered chains")
	}

	best := 0
	bestScore := vectorresource.CosineSimilarity(messageVec, r.chainVecs[0])
	for i := 1; i < len(r.chains); i++ {
		score := vectorresource.CosineSimilarity(messageVec, r.chainVecs[i])
		if score > bestScore {
			bestScore = score
			best = i
		}
	}

	chain := r.chains[best]
	prompt, err := chain.Run(ctx, cc, userMessage)
	return chain, prompt, err
}

// QAChain answers a question directly against the job's attached scope,
// with no intermediate summarization step (spec §4.7 default chain).
type QAChain struct{}

func (QAChain) Name() string { return "qa" }
func (QAChain) Description() string {
	return "answer a direct question using retrieved context, no multi-step reasoning required"
}

func (QAChain) Run(ctx context.Context, cc ChainContext, userMessage string) (Prompt, error) {
	resp, err := cc.Provider.Chat(ctx, cc.Model, []llm.Message{
		{Role: "user", Content: cc.truncate(userMessage)},
	}, nil)
	if err != nil {
		return Prompt{}, fmt.Errorf("jobengine: qa chain: %w", err)
	}
	return Prompt{SubPrompts: []SubPrompt{
		{Role: RoleUser, Content: userMessage},
		{Role: RoleAssistant, Content: resp.Content},
	}}, nil
}

// SummaryChain condenses the job's attached documents before answering,
// for messages that ask to summarize rather than to look something up.
type SummaryChain struct{}

func (SummaryChain) Name() string { return "summary" }
func (SummaryChain) Description() string {
	return "summarize or condense the content of attached documents or files"
}

func (SummaryChain) Run(ctx context.Context, cc ChainContext, userMessage string) (Prompt, error) {
	fileCount := 0
	if cc.Job != nil {
		fileCount = len(cc.Job.Scope.LocalVRKai)
	}
	sys, err := summaryPromptTemplate.Format(map[string]any{"fileCount": fileCount})
	if err != nil {
		return Prompt{}, fmt.Errorf("jobengine: render summary prompt template: %w", err)
	}

	resp, err := cc.Provider.Chat(ctx, cc.Model, []llm.Message{
		{Role: "system", Content: sys},
		{Role: "user", Content: userMessage},
	}, nil)
	if err != nil {
		return Prompt{}, fmt.Errorf("jobengine: summary chain: %w", err)
	}
	return Prompt{SubPrompts: []SubPrompt{
		{Role: RoleSystem, Content: sys},
		{Role: RoleUser, Content: userMessage},
		{Role: RoleAssistant, Content: resp.Content},
	}}, nil
}

// WorkflowChain runs a named workflowdsl program as the response strategy,
// for messages that match a registered automation rather than free-form
// chat (spec §4.7, §4.6 "workflows are invoked as inference chains too").
type WorkflowChain struct {
	WorkflowName string
	RunFn        func(ctx context.Context, userMessage string) (string, error)
}

func (c WorkflowChain) Name() string { return "workflow:" + c.WorkflowName }
func (c WorkflowChain) Description() string {
	return "run the automation workflow named " + c.WorkflowName
}

func (c WorkflowChain) Run(ctx context.Context, cc ChainContext, userMessage string) (Prompt, error) {
	out, err := c.RunFn(ctx, userMessage)
	if err != nil {
		return Prompt{}, fmt.Errorf("jobengine: workflow chain %q: %w", c.WorkflowName, err)
	}
	return Prompt{SubPrompts: []SubPrompt{
		{Role: RoleUser, Content: userMessage},
		{Role: RoleAssistant, Content: out},
	}}, nil
}

// SheetChain runs a spreadsheet-like sub-chain: a fixed sequence of column
// computations each with their own prompt, chained left to right (spec §10
// supplemented feature, grounded on original_source's sheet job type).
type SheetChain struct {
	Columns []SheetColumn
}

// SheetColumn is one computed column: Prompt is a Go template with the
// prior columns' outputs substituted for {{.col_name}}.
type SheetColumn struct {
	Name   string
	Prompt string
}

func (SheetChain) Name() string { return "sheet" }
func (SheetChain) Description() string {
	return "compute a row of a structured sheet across several dependent columns"
}

// sheetColumnValue is the structured reply every sheet column's inference
// call is asked for, retried (bounded by cc.MaxIterations) when the model
// doesn't reply with valid JSON (spec §9 "Retry for JSON-from-LLM").
type sheetColumnValue struct {
	Value string `json:"value"`
}

func (c SheetChain) Run(ctx context.Context, cc ChainContext, userMessage string) (Prompt, error) {
	values := map[string]string{"input": userMessage}
	var sub []SubPrompt
	sub = append(sub, SubPrompt{Role: RoleUser, Content: userMessage})

	for _, col := range c.Columns {
		renderedBytes, err := render.ExecuteWithData(col.Prompt, values)
		if err != nil {
			return Prompt{}, fmt.Errorf("jobengine: render sheet column %q template: %w", col.Name, err)
		}

		prompt := cc.truncate(string(renderedBytes)) +
			"\nReply with a JSON object of the shape {\"value\": \"...\"} and nothing else."

		var out sheetColumnValue
		if err := ChatJSON(ctx, cc.Provider, cc.Model, []llm.Message{{Role: "user", Content: prompt}}, &out, cc.maxIterations()); err != nil {
			return Prompt{}, fmt.Errorf("jobengine: sheet chain column %q: %w", col.Name, err)
		}

		values[col.Name] = out.Value
		sub = append(sub, SubPrompt{Role: RoleAssistant, Content: fmt.Sprintf("%s: %s", col.Name, out.Value)})
	}

	return Prompt{SubPrompts: sub}, nil
}
