package river

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/riverqueue/river"

	"github.com/wargadesa/desaflow/internal/domain"
)

// Compile-time check: Publisher implements domain.NotificationQueue.
var _ domain.NotificationQueue = (*Publisher)(nil)

// NotificationJobArgs carries one pending delivery. River serializes this
// as JSON into its job queue table; the args hold everything the worker
// needs, so delivery never re-reads the request.
type NotificationJobArgs struct {
	RequestID        string            `json:"request_id"`
	NotificationKind string            `json:"kind"`
	ToStatus         string            `json:"to_status"`
	Recipient        string            `json:"recipient"`
	TemplateID       string            `json:"template_id"`
	Context          map[string]string `json:"context,omitempty"`
}

// Kind returns the unique job type identifier used by River's job routing.
func (NotificationJobArgs) Kind() string { return "notification.send" }

// Client is the River client type parameterized for SQLite (*sql.Tx).
type Client = river.Client[*sql.Tx]

// Publisher implements domain.NotificationQueue by enqueuing River jobs.
type Publisher struct {
	client *Client
}

// NewPublisher creates a publisher backed by the given River client.
func NewPublisher(client *Client) *Publisher {
	return &Publisher{client: client}
}

// Enqueue inserts one delivery job into the queue.
func (p *Publisher) Enqueue(ctx context.Context, n domain.Notification) error {
	_, err := p.client.Insert(ctx, NotificationJobArgs{
		RequestID:        n.RequestID,
		NotificationKind: string(n.Kind),
		ToStatus:         string(n.ToStatus),
		Recipient:        n.Recipient,
		TemplateID:       n.TemplateID,
		Context:          n.Context,
	}, nil)
	if err != nil {
		return fmt.Errorf("enqueuing notification job: %w", err)
	}
	return nil
}
