package app

import (
	"context"
	"log/slog"

	"github.com/wargadesa/desaflow/internal/domain"
)

// TransitionEvent describes one applied (or just-created) lifecycle point.
// FromStatus is empty for creation events.
type TransitionEvent struct {
	Request    domain.Request
	FromStatus domain.Status
	ToStatus   domain.Status
	Actor      domain.Actor
}

// RecipientResolver maps a request to the identities that should hear
// about a lifecycle point. A resolver may return any number of recipients
// (broadcast-style rules return many).
type RecipientResolver func(r domain.Request) []string

// DispatchRule couples a template with the audience for one target status.
type DispatchRule struct {
	TemplateID string
	Recipients RecipientResolver
}

// NotificationPolicy decides, per kind and reached status, who gets told
// with which template, and hands deliveries to the notification queue.
// Dispatch is best effort: a failed enqueue is logged, never propagated,
// because the state transition has already committed.
type NotificationPolicy struct {
	queue  domain.NotificationQueue
	logger *slog.Logger
	rules  map[domain.Kind]map[domain.Status]DispatchRule
}

// NewNotificationPolicy builds the default rule set. admins is the
// identity group told about new asset-loan requests awaiting approval.
func NewNotificationPolicy(queue domain.NotificationQueue, logger *slog.Logger, admins []string) *NotificationPolicy {
	requester := func(r domain.Request) []string { return []string{r.RequesterID} }
	adminGroup := func(domain.Request) []string { return admins }

	return &NotificationPolicy{
		queue:  queue,
		logger: logger,
		rules: map[domain.Kind]map[domain.Status]DispatchRule{
			domain.KindAssetLoan: {
				domain.StatusWaitingApproval: {TemplateID: "loan.requested", Recipients: adminGroup},
				domain.StatusOnLoan:          {TemplateID: "loan.approved", Recipients: requester},
				domain.StatusRejected:        {TemplateID: "loan.rejected", Recipients: requester},
				domain.StatusReturned:        {TemplateID: "loan.returned", Recipients: requester},
			},
			domain.KindAidRecipient: {
				domain.StatusNotCollected: {TemplateID: "aid.registered", Recipients: requester},
				domain.StatusCollected:    {TemplateID: "aid.collected", Recipients: requester},
			},
		},
	}
}

// SetRule replaces the rule for one (kind, status) pair. Used by
// deployments that want a different audience, e.g. broadcasting new aid
// programs to every citizen.
func (p *NotificationPolicy) SetRule(kind domain.Kind, to domain.Status, rule DispatchRule) {
	if p.rules[kind] == nil {
		p.rules[kind] = make(map[domain.Status]DispatchRule)
	}
	p.rules[kind][to] = rule
}

// Dispatch resolves the rule for the event and enqueues one delivery per
// distinct recipient. Each recipient is attempted independently; at most
// one delivery per (request, status, recipient) is enqueued per call.
func (p *NotificationPolicy) Dispatch(ctx context.Context, ev TransitionEvent) {
	rule, ok := p.rules[ev.Request.Kind][ev.ToStatus]
	if !ok {
		return
	}

	seen := make(map[string]bool)
	for _, recipient := range rule.Recipients(ev.Request) {
		if recipient == "" || seen[recipient] {
			continue
		}
		seen[recipient] = true

		err := p.queue.Enqueue(ctx, domain.Notification{
			RequestID:  ev.Request.ID,
			Kind:       ev.Request.Kind,
			ToStatus:   ev.ToStatus,
			Recipient:  recipient,
			TemplateID: rule.TemplateID,
			Context: map[string]string{
				"request_id":  ev.Request.ID,
				"subject_id":  ev.Request.SubjectID,
				"from_status": string(ev.FromStatus),
				"to_status":   string(ev.ToStatus),
				"note":        ev.Request.Note,
			},
		})
		if err != nil {
			p.logger.ErrorContext(ctx, "notification enqueue failed",
				"request_id", ev.Request.ID,
				"to_status", ev.ToStatus,
				"recipient", recipient,
				"template", rule.TemplateID,
				"error", err,
			)
		}
	}
}
