package channel

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/unclebandit/outreach-scheduler/internal/errors"
	"github.com/unclebandit/outreach-scheduler/internal/model"
	"github.com/unclebandit/outreach-scheduler/internal/queue"
)

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, string, string, []byte) error {
	return errors.New("broker unreachable")
}

func newRequest(stepType model.StepType, lead *model.Lead) Request {
	return Request{
		IdempotencyKey: "key-1",
		Assignment:     &model.Assignment{ID: 7, CampaignID: 3, TenantID: "acme", LeadID: lead.ID},
		Step: model.Step{
			Order:   0,
			Type:    stepType,
			Title:   "Intro",
			Subject: "Hi {first_name}",
			Content: "Hello {first_name} from {company}",
		},
		Lead: lead,
	}
}

func TestRenderTemplate(t *testing.T) {
	out := RenderTemplate("Hi {first_name}, how is {company}? {unknown}", map[string]string{
		"first_name": "Alice",
		"company":    "Initech",
	})
	assert.Equal(t, "Hi Alice, how is Initech? {unknown}", out)
}

func TestEmailChannelPublishesRenderedPayload(t *testing.T) {
	q := queue.NewInMemoryQueue(nil)
	reg := NewDefaultRegistry(q)
	lead := &model.Lead{ID: 11, Name: "Alice Smith", Email: "alice@initech.test", Company: "Initech"}

	ch, err := reg.For(model.StepEmail)
	require.NoError(t, err)

	ref, err := ch.Send(context.Background(), newRequest(model.StepEmail, lead))
	require.NoError(t, err)
	assert.Equal(t, "drip.email/key-1", ref)

	msgs := q.Messages("drip.email")
	require.Len(t, msgs, 1)
	assert.Equal(t, "key-1", msgs[0].IdempotencyKey)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(msgs[0].Body, &payload))
	assert.Equal(t, "alice@initech.test", payload["to"])
	assert.Equal(t, "Hi Alice", payload["subject"])
	assert.Equal(t, "Hello Alice from Initech", payload["body"])
	assert.EqualValues(t, 7, payload["assignment_id"])
}

func TestChannelsRejectMissingContactPermanently(t *testing.T) {
	reg := NewDefaultRegistry(queue.NewInMemoryQueue(nil))
	lead := &model.Lead{ID: 11, Name: "Bob"}

	for _, st := range []model.StepType{model.StepEmail, model.StepCall, model.StepLinkedIn} {
		ch, err := reg.For(st)
		require.NoError(t, err)

		_, err = ch.Send(context.Background(), newRequest(st, lead))
		assert.True(t, appErrors.IsPermanent(err), "step type %s", st)
	}
}

func TestTaskChannelNeedsNoContactField(t *testing.T) {
	q := queue.NewInMemoryQueue(nil)
	ch, err := NewDefaultRegistry(q).For(model.StepTask)
	require.NoError(t, err)

	_, err = ch.Send(context.Background(), newRequest(model.StepTask, &model.Lead{ID: 11, Name: "Bob"}))
	require.NoError(t, err)
	assert.Len(t, q.Messages("drip.task"), 1)
}

func TestPublisherFailureIsTransient(t *testing.T) {
	ch, err := NewDefaultRegistry(failingPublisher{}).For(model.StepCall)
	require.NoError(t, err)

	_, err = ch.Send(context.Background(), newRequest(model.StepCall, &model.Lead{ID: 1, Phone: "+254700000000"}))
	var transient *appErrors.TransientExecutionError
	assert.ErrorAs(t, err, &transient)
	assert.False(t, appErrors.IsPermanent(err))
}

func TestRegistryUnknownTypeIsPermanent(t *testing.T) {
	_, err := NewRegistry().For(model.StepEmail)
	assert.True(t, appErrors.IsPermanent(err))
}
