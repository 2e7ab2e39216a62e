package river

import (
	"context"
	"log/slog"

	"github.com/riverqueue/river"
)

// NotificationWorker processes delivery jobs from the River queue. It
// renders the template and hands the message to the delivery log, which is
// where the mail transport collaborator plugs in. Rendering errors fail
// the job so River retries it; they never reach the transition caller.
type NotificationWorker struct {
	river.WorkerDefaults[NotificationJobArgs]

	templates *TemplateCatalog
}

// NewNotificationWorker creates a worker rendering from the given catalog.
func NewNotificationWorker(templates *TemplateCatalog) *NotificationWorker {
	return &NotificationWorker{templates: templates}
}

// Work processes a single delivery job.
func (w *NotificationWorker) Work(ctx context.Context, job *river.Job[NotificationJobArgs]) error {
	msg, err := w.templates.Render(job.Args.TemplateID, job.Args.Context)
	if err != nil {
		return err
	}

	slog.InfoContext(ctx, "delivering notification",
		"recipient", job.Args.Recipient,
		"template", job.Args.TemplateID,
		"subject", msg.Subject,
		"body", msg.Body,
		"request_id", job.Args.RequestID,
		"to_status", job.Args.ToStatus,
		"job_id", job.ID,
		"attempt", job.Attempt,
	)
	return nil
}
