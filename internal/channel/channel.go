package channel

import (
	"context"
	"encoding/json"
	"fmt"

	appErrors "github.com/unclebandit/outreach-scheduler/internal/errors"
	"github.com/unclebandit/outreach-scheduler/internal/model"
	"github.com/unclebandit/outreach-scheduler/internal/queue"
)

// Request is everything a channel needs to perform one drip step.
type Request struct {
	IdempotencyKey string
	Assignment     *model.Assignment
	Step           model.Step
	Lead           *model.Lead
}

// Channel performs the external action for one step type. Send returns an
// artifact reference on success. Errors wrapped as PermanentExecutionError
// fail the assignment immediately; anything else is retried.
type Channel interface {
	Type() model.StepType
	Send(ctx context.Context, req Request) (string, error)
}

// Registry selects the channel for a step type.
type Registry struct {
	channels map[model.StepType]Channel
}

func NewRegistry(channels ...Channel) *Registry {
	r := &Registry{channels: map[model.StepType]Channel{}}
	for _, c := range channels {
		r.channels[c.Type()] = c
	}
	return r
}

// NewDefaultRegistry wires the four built-in channels onto one publisher.
func NewDefaultRegistry(pub queue.Publisher) *Registry {
	return NewRegistry(
		&EmailChannel{Publisher: pub},
		&CallChannel{Publisher: pub},
		&TaskChannel{Publisher: pub},
		&LinkedInChannel{Publisher: pub},
	)
}

func (r *Registry) For(t model.StepType) (Channel, error) {
	c, ok := r.channels[t]
	if !ok {
		return nil, appErrors.NewPermanent(fmt.Sprintf("no channel for step type %q", t), nil)
	}
	return c, nil
}

// Topic is the queue a step type publishes to.
func Topic(t model.StepType) string {
	return "drip." + string(t)
}

func publish(ctx context.Context, pub queue.Publisher, t model.StepType, key string, payload any) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", appErrors.NewPermanent("encode payload", err)
	}
	topic := Topic(t)
	if err := pub.Publish(ctx, topic, key, body); err != nil {
		return "", appErrors.NewTransient(err)
	}
	return topic + "/" + key, nil
}

type envelope struct {
	IdempotencyKey string `json:"idempotency_key"`
	TenantID       string `json:"tenant_id"`
	CampaignID     int64  `json:"campaign_id"`
	AssignmentID   int64  `json:"assignment_id"`
	LeadID         int64  `json:"lead_id"`
	StepIndex      int    `json:"step_index"`
}

func newEnvelope(req Request) envelope {
	return envelope{
		IdempotencyKey: req.IdempotencyKey,
		TenantID:       req.Assignment.TenantID,
		CampaignID:     req.Assignment.CampaignID,
		AssignmentID:   req.Assignment.ID,
		LeadID:         req.Lead.ID,
		StepIndex:      req.Step.Order,
	}
}

// ====================== Email ======================

type EmailChannel struct {
	Publisher queue.Publisher
}

type emailPayload struct {
	envelope
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

func (c *EmailChannel) Type() model.StepType { return model.StepEmail }

func (c *EmailChannel) Send(ctx context.Context, req Request) (string, error) {
	if req.Lead.Email == "" {
		return "", appErrors.NewPermanent("lead has no email address", nil)
	}
	data := req.Lead.Placeholders()
	subject := req.Step.Subject
	if subject == "" {
		subject = req.Step.Title
	}
	return publish(ctx, c.Publisher, c.Type(), req.IdempotencyKey, emailPayload{
		envelope: newEnvelope(req),
		To:       req.Lead.Email,
		Subject:  RenderTemplate(subject, data),
		Body:     RenderTemplate(req.Step.Content, data),
	})
}

// ====================== Call ======================

type CallChannel struct {
	Publisher queue.Publisher
}

type callPayload struct {
	envelope
	Phone  string `json:"phone"`
	Script string `json:"script"`
}

func (c *CallChannel) Type() model.StepType { return model.StepCall }

func (c *CallChannel) Send(ctx context.Context, req Request) (string, error) {
	if req.Lead.Phone == "" {
		return "", appErrors.NewPermanent("lead has no phone number", nil)
	}
	return publish(ctx, c.Publisher, c.Type(), req.IdempotencyKey, callPayload{
		envelope: newEnvelope(req),
		Phone:    req.Lead.Phone,
		Script:   RenderTemplate(req.Step.Content, req.Lead.Placeholders()),
	})
}

// ====================== Task ======================

// TaskChannel creates a manual follow-up task; it needs no contact field.
type TaskChannel struct {
	Publisher queue.Publisher
}

type taskPayload struct {
	envelope
	Title string `json:"title"`
	Notes string `json:"notes"`
}

func (c *TaskChannel) Type() model.StepType { return model.StepTask }

func (c *TaskChannel) Send(ctx context.Context, req Request) (string, error) {
	data := req.Lead.Placeholders()
	title := req.Step.Title
	if title == "" {
		title = "Follow up with {name}"
	}
	return publish(ctx, c.Publisher, c.Type(), req.IdempotencyKey, taskPayload{
		envelope: newEnvelope(req),
		Title:    RenderTemplate(title, data),
		Notes:    RenderTemplate(req.Step.Content, data),
	})
}

// ====================== LinkedIn ======================

type LinkedInChannel struct {
	Publisher queue.Publisher
}

type linkedInPayload struct {
	envelope
	ProfileURL string `json:"profile_url"`
	Message    string `json:"message"`
}

func (c *LinkedInChannel) Type() model.StepType { return model.StepLinkedIn }

func (c *LinkedInChannel) Send(ctx context.Context, req Request) (string, error) {
	if req.Lead.LinkedInURL == "" {
		return "", appErrors.NewPermanent("lead has no linkedin profile", nil)
	}
	return publish(ctx, c.Publisher, c.Type(), req.IdempotencyKey, linkedInPayload{
		envelope:   newEnvelope(req),
		ProfileURL: req.Lead.LinkedInURL,
		Message:    RenderTemplate(req.Step.Content, req.Lead.Placeholders()),
	})
}
