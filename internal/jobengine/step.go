package jobengine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/rakunlabs/shinkai/internal/envelope"
	"github.com/rakunlabs/shinkai/internal/identity"
)

// Notifier is called after every processed step so the websocket
// broadcaster (C9) can push the new assistant message to subscribed
// clients (spec §4.7 step 6 "notify websocket subscribers").
type Notifier interface {
	Notify(jobID string, prompt Prompt)
}

// NoopNotifier discards notifications; used where no broadcaster is wired.
type NoopNotifier struct{}

func (NoopNotifier) Notify(string, Prompt) {}

// Outbox signs and persists the assistant's reply as a ShinkaiMessage into
// the job's conversation inbox (spec §4.7 step 5 "add_message_to_job_inbox").
type Outbox interface {
	Deliver(ctx context.Context, inboxName string, msg envelope.Message) error
}

// StepRunner wires a Router, signing identity, and an Outbox/Notifier into
// the single-message processing function Manager.RunWorkers drives.
type StepRunner struct {
	router   *Router
	self     identity.NodeName
	keys     identity.SigningKeypair
	outbox   Outbox
	notifier Notifier
}

// NewStepRunner constructs a StepRunner. notifier may be nil, in which case
// step results are still persisted but no websocket push happens.
func NewStepRunner(router *Router, self identity.NodeName, keys identity.SigningKeypair, outbox Outbox, notifier Notifier) *StepRunner {
	if notifier == nil {
		notifier = NoopNotifier{}
	}
	return &StepRunner{router: router, self: self, keys: keys, outbox: outbox, notifier: notifier}
}

// Process decodes raw as a ShinkaiMessage, dispatches it through the
// router, records the step, and delivers the signed reply — the full
// per-message pipeline described in spec §4.7 steps 3-6.
func (s *StepRunner) Process(ctx context.Context, cc ChainContext, job *Job, raw []byte) error {
	var inbound envelope.Message
	if err := json.Unmarshal(raw, &inbound); err != nil {
		return s.fail(ctx, job, "", fmt.Errorf("jobengine: decode inbound message for job %q: %w", job.JobID, err))
	}
	if inbound.Body.Unencrypted == nil {
		return s.fail(ctx, job, inbound.ExternalMetadata.Sender, fmt.Errorf("jobengine: job %q: inbound message has no readable body to process", job.JobID))
	}

	userMessage := inbound.Body.Unencrypted.Content
	messageHash := envelope.HashForPagination(inbound)

	cc.Job = job
	cc.PrevExecutionContext = job.ExecutionContext

	vec, err := cc.Embed(ctx, userMessage)
	if err != nil {
		return s.fail(ctx, job, inbound.ExternalMetadata.Sender, fmt.Errorf("jobengine: embed inbound message for job %q: %w", job.JobID, err))
	}

	_, prompt, err := s.router.Dispatch(ctx, cc, userMessage, vec)
	if err != nil {
		return s.fail(ctx, job, inbound.ExternalMetadata.Sender, fmt.Errorf("jobengine: dispatch for job %q: %w", job.JobID, err))
	}

	job.AddStepHistory(messageHash, prompt)
	job.SetExecutionContext(messageHash, map[string]string{"chain_dispatched": "true"})

	assistantContent := lastAssistantContent(prompt)
	reply := envelope.NewUnencryptedMessage(
		assistantContent,
		envelope.InternalMetadata{Inbox: job.ConversationInbox, SchemaType: "JobMessage"},
		envelope.ExternalMetadata{Sender: s.self.Format(), Recipient: inbound.ExternalMetadata.Sender},
	)
	reply = envelope.SignOuter(reply, s.keys.Private)

	if s.outbox != nil {
		if err := s.outbox.Deliver(ctx, job.ConversationInbox, reply); err != nil {
			return s.fail(ctx, job, inbound.ExternalMetadata.Sender, fmt.Errorf("jobengine: deliver reply for job %q: %w", job.JobID, err))
		}
	}

	s.notifier.Notify(job.JobID, prompt)
	return nil
}

// fail converts a step error into a user-visible error message, signed and
// posted to the job's own conversation inbox, and marks the job not-finished
// (spec §4.7 "any error at any step is converted to a user-visible error
// message and posted to the job inbox with the job marked not-finished").
// The original cause is still returned so the caller keeps logging/retrying
// exactly as before; posting the error message is best-effort on top of
// that, not a replacement for it.
func (s *StepRunner) fail(ctx context.Context, job *Job, recipient string, cause error) error {
	job.IsFinished = false

	if s.outbox != nil {
		errMsg := envelope.NewUnencryptedMessage(
			fmt.Sprintf("error processing message: %s", cause),
			envelope.InternalMetadata{Inbox: job.ConversationInbox, SchemaType: "JobMessageError"},
			envelope.ExternalMetadata{Sender: s.self.Format(), Recipient: recipient},
		)
		errMsg = envelope.SignOuter(errMsg, s.keys.Private)

		if deliverErr := s.outbox.Deliver(ctx, job.ConversationInbox, errMsg); deliverErr != nil {
			slog.Error("jobengine: failed to post error message to job inbox", "job_id", job.JobID, "cause", cause, "error", deliverErr)
		}
	}

	return cause
}

func lastAssistantContent(p Prompt) string {
	for i := len(p.SubPrompts) - 1; i >= 0; i-- {
		if p.SubPrompts[i].Role == RoleAssistant {
			return p.SubPrompts[i].Content
		}
	}
	return ""
}
