// Package jobengine implements the queue-driven async job executor (C7):
// Job/JobScope/JobStepResult state, the persistent per-job FIFO queue, the
// inference chain router, and file ingestion into vector resources.
package jobengine

import (
	"time"

	"github.com/rakunlabs/shinkai/internal/vectorresource"
)

// JobScope enumerates what knowledge a job sees (spec §3.4).
type JobScope struct {
	LocalVRKai     []string // paths/ids of attached local VRKais
	LocalVRPack    []string
	VectorFSItems  []string
	VectorFSFolders []string
	NetworkFolders []string
}

// PromptRole tags a sub-prompt within a Prompt (spec §3.4).
type PromptRole string

const (
	RoleUser      PromptRole = "User"
	RoleAssistant PromptRole = "Assistant"
	RoleSystem    PromptRole = "System"
)

// SubPrompt is one role-tagged entry in a Prompt.
type SubPrompt struct {
	Role    PromptRole
	Content string
}

// Prompt is an ordered sequence of role-tagged sub-prompts.
type Prompt struct {
	SubPrompts []SubPrompt
}

// JobStepResult wraps an ordered Prompt and the history of prior revisions,
// enabling re-try without losing history (spec §3.4).
type JobStepResult struct {
	MessageHash string
	Prompt      Prompt
	PriorRevisions []Prompt
}

// Job is the durable per-conversation state the queue worker mutates (spec
// §3.4).
type Job struct {
	JobID               string
	ParentAgentID        string
	Scope               JobScope
	IsFinished           bool
	IsHidden             bool
	CreatedAt            time.Time
	ConversationInbox    string // InboxName.Format()
	StepHistory          []JobStepResult
	UnprocessedMessages  []string
	ExecutionContext     map[string]string
}

// NewJob constructs a fresh, unfinished Job.
func NewJob(jobID, parentAgentID, conversationInbox string, scope JobScope) *Job {
	return &Job{
		JobID:             jobID,
		ParentAgentID:     parentAgentID,
		Scope:             scope,
		ConversationInbox: conversationInbox,
		CreatedAt:         time.Now().UTC(),
		ExecutionContext:  map[string]string{},
	}
}

// AddStepHistory appends a JobStepResult keyed by the user-message hash,
// preserving any prior revision of the same message hash in PriorRevisions
// so a re-try never loses history (spec §3.4/§4.7).
func (j *Job) AddStepHistory(messageHash string, prompt Prompt) {
	for i, existing := range j.StepHistory {
		if existing.MessageHash == messageHash {
			j.StepHistory[i].PriorRevisions = append(j.StepHistory[i].PriorRevisions, existing.Prompt)
			j.StepHistory[i].Prompt = prompt
			return
		}
	}
	j.StepHistory = append(j.StepHistory, JobStepResult{MessageHash: messageHash, Prompt: prompt})
}

// SetExecutionContext snapshots context after processing messageHash.
func (j *Job) SetExecutionContext(messageHash string, ctx map[string]string) {
	// Each message produces exactly one snapshot; later calls for the same
	// hash overwrite it (spec §3.4).
	for k, v := range ctx {
		j.ExecutionContext[messageHash+"."+k] = v
	}
}

// PushUnprocessed enqueues a raw message body awaiting ingestion before the
// job is considered fully answered (original_source supplement, see
// SPEC_FULL.md §10).
func (j *Job) PushUnprocessed(raw string) {
	j.UnprocessedMessages = append(j.UnprocessedMessages, raw)
}

// DrainUnprocessed removes and returns every queued unprocessed message.
func (j *Job) DrainUnprocessed() []string {
	out := j.UnprocessedMessages
	j.UnprocessedMessages = nil
	return out
}

// Finish marks the job as finished; a finished job accepts no further
// processing per spec §3.4 "closed when explicitly finished".
func (j *Job) Finish() { j.IsFinished = true }

// AttachVRKai records an ingested file's packaged VRKai into scope (spec
// §4.7 step 2: "Ingest any attached files ... wrap as VRKai/VRPack and
// attach to JobScope").
func (j *Job) AttachVRKai(kai vectorresource.VRKai, ref string) {
	j.Scope.LocalVRKai = append(j.Scope.LocalVRKai, ref)
}
