package jobs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// QueueMail carries outbound email so a slow relay never delays sweeps.
	QueueMail = "mail"

	// TaskTypeSendEmail is the task type for sending transactional emails.
	TaskTypeSendEmail = "mail:send"

	TaskRecurringGenerate  = "ledger:recurring_generate"
	TaskScheduledFire      = "ledger:scheduled_fire"
	TaskReminderSweep      = "ledger:reminder_sweep"
	TaskLateFeeSweep       = "ledger:late_fee_sweep"
	TaskMilestoneCompleted = "ledger:milestone_completed"
	TaskIdempotencyCleanup = "ledger:idempotency_cleanup"
)

// SendEmailPayload describes the information required to send an email.
type SendEmailPayload struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// SweepPayload pins a sweep to a calendar date. An empty AsOf means today.
type SweepPayload struct {
	AsOf string `json:"as_of,omitempty"`
}

// MilestonePayload reports a completed project milestone.
type MilestonePayload struct {
	MilestoneID int64 `json:"milestone_id"`
}

// CleanupPayload bounds how old an idempotency key must be before removal.
type CleanupPayload struct {
	OlderThan string `json:"older_than,omitempty"`
}

// NewSendEmailTask constructs an Asynq task.
func NewSendEmailTask(payload SendEmailPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeSendEmail, data, asynq.Queue(QueueMail), asynq.MaxRetry(5)), nil
}

// NewSweepTask builds one of the date-driven sweep tasks. asOf may be zero.
func NewSweepTask(taskType string, asOf time.Time) (*asynq.Task, error) {
	switch taskType {
	case TaskRecurringGenerate, TaskScheduledFire, TaskReminderSweep, TaskLateFeeSweep:
	default:
		return nil, fmt.Errorf("jobs: %s is not a sweep task", taskType)
	}
	payload := SweepPayload{}
	if !asOf.IsZero() {
		payload.AsOf = asOf.Format(time.DateOnly)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(taskType, data, asynq.Queue(QueueDefault)), nil
}

// NewMilestoneCompletedTask builds the milestone trigger task.
func NewMilestoneCompletedTask(milestoneID int64) (*asynq.Task, error) {
	if milestoneID <= 0 {
		return nil, fmt.Errorf("jobs: milestone id must be positive")
	}
	data, err := json.Marshal(MilestonePayload{MilestoneID: milestoneID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskMilestoneCompleted, data, asynq.Queue(QueueDefault)), nil
}

// NewIdempotencyCleanupTask builds the key retention task.
func NewIdempotencyCleanupTask(olderThan time.Duration) (*asynq.Task, error) {
	data, err := json.Marshal(CleanupPayload{OlderThan: olderThan.String()})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, data, asynq.Queue(QueueDefault)), nil
}

// NewTask builds a task by name with default payload, for manual triggers.
func NewTask(name string, asOf time.Time) (*asynq.Task, error) {
	switch name {
	case TaskRecurringGenerate, TaskScheduledFire, TaskReminderSweep, TaskLateFeeSweep:
		return NewSweepTask(name, asOf)
	case TaskIdempotencyCleanup:
		return NewIdempotencyCleanupTask(0)
	default:
		return nil, fmt.Errorf("jobs: unsupported job %s", name)
	}
}

func (p SweepPayload) date(fallback time.Time) (time.Time, error) {
	if p.AsOf == "" {
		return fallback, nil
	}
	d, err := time.Parse(time.DateOnly, p.AsOf)
	if err != nil {
		return time.Time{}, fmt.Errorf("jobs: as_of %q: %w", p.AsOf, err)
	}
	return d, nil
}
