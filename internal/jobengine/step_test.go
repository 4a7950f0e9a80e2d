package jobengine

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rakunlabs/shinkai/internal/envelope"
	"github.com/rakunlabs/shinkai/internal/identity"
)

type fakeOutbox struct {
	delivered []envelope.Message
}

func (f *fakeOutbox) Deliver(_ context.Context, _ string, msg envelope.Message) error {
	f.delivered = append(f.delivered, msg)
	return nil
}

func newTestStepRunner(t *testing.T, outbox Outbox) *StepRunner {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	self, err := identity.ParseNodeName("@@alice.shinkai")
	require.NoError(t, err)

	router, err := NewRouter(t.Context(), fakeEmbed, QAChain{})
	require.NoError(t, err)

	return NewStepRunner(router, self, identity.SigningKeypair{Public: pub, Private: priv}, outbox, nil)
}

func TestProcessDecodeFailurePostsErrorToInboxAndMarksUnfinished(t *testing.T) {
	outbox := &fakeOutbox{}
	runner := newTestStepRunner(t, outbox)

	job := NewJob("job-1", "agent-1", "@@alice.shinkai/job_inbox::job-1::false", JobScope{})
	job.IsFinished = true

	cc := ChainContext{Provider: fakeProvider{reply: "unused"}, Model: "test-model", Embed: fakeEmbed}
	err := runner.Process(t.Context(), cc, job, []byte("not valid json"))

	require.Error(t, err)
	require.False(t, job.IsFinished)
	require.Len(t, outbox.delivered, 1)
	require.Contains(t, outbox.delivered[0].Body.Unencrypted.Content, "error processing message")
	require.Equal(t, job.ConversationInbox, outbox.delivered[0].Body.Unencrypted.InternalMetadata.Inbox)
}

func TestProcessSuccessNeverTouchesOutboxErrorPath(t *testing.T) {
	outbox := &fakeOutbox{}
	runner := newTestStepRunner(t, outbox)

	job := NewJob("job-2", "agent-1", "@@alice.shinkai/job_inbox::job-2::false", JobScope{})
	inbound := envelope.NewUnencryptedMessage("hello",
		envelope.InternalMetadata{Inbox: job.ConversationInbox},
		envelope.ExternalMetadata{Sender: "@@bob.shinkai"},
	)
	raw, err := json.Marshal(inbound)
	require.NoError(t, err)

	cc := ChainContext{Provider: fakeProvider{reply: "42"}, Model: "test-model", Embed: fakeEmbed}
	err = runner.Process(t.Context(), cc, job, raw)

	require.NoError(t, err)
	require.False(t, job.IsFinished)
	require.Len(t, outbox.delivered, 1)
	require.NotContains(t, outbox.delivered[0].Body.Unencrypted.Content, "error processing message")
}
