package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/nobhad/no-bhad-codes-sub015/internal/jobs"
	"github.com/nobhad/no-bhad-codes-sub015/internal/notify"
)

// Sender delivers a rendered email.
type Sender interface {
	Send(ctx context.Context, e notify.Email) error
}

// MailJob drains the mail queue.
type MailJob struct {
	sender  Sender
	logger  *slog.Logger
	metrics *jobmetrics.Metrics
}

// NewMailJob constructs the mail:send handler.
func NewMailJob(sender Sender, logger *slog.Logger, metrics *jobmetrics.Metrics) *MailJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &MailJob{sender: sender, logger: logger, metrics: metrics}
}

// Handler returns the worker registration for mail:send.
func (m *MailJob) Handler() TaskHandler {
	return TaskHandler{Type: TaskTypeSendEmail, Handler: m.Handle}
}

// Handle sends one queued email. Relay errors are retried by asynq.
func (m *MailJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	var payload SendEmailPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}
	if !strings.Contains(payload.To, "@") {
		return fmt.Errorf("%w: invalid recipient %q", asynq.SkipRetry, payload.To)
	}
	if m.sender == nil {
		return fmt.Errorf("mail: sender not configured")
	}

	tracker := m.metrics.Track(t.Type())
	defer func() {
		resultErr = tracker.End(resultErr)
	}()
	if err := m.sender.Send(ctx, notify.Email{To: payload.To, Subject: payload.Subject, Body: payload.Body}); err != nil {
		m.logger.Warn("email delivery failed", slog.String("to", payload.To), slog.Any("error", err))
		return err
	}
	m.logger.Info("email delivered", slog.String("to", payload.To), slog.String("subject", payload.Subject))
	return nil
}
