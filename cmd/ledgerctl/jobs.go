package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"

	"github.com/nobhad/no-bhad-codes-sub015/jobs"
)

type taskEnqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

type queueInspector interface {
	GetQueueInfo(queue string) (*asynq.QueueInfo, error)
	ListScheduledTasks(queue string, opts ...asynq.ListOption) ([]*asynq.TaskInfo, error)
}

// JobsCLI wraps manual management helpers for the ledger queues.
type JobsCLI struct {
	client    taskEnqueuer
	inspector queueInspector
	closers   []func() error
}

// NewJobsCLI initialises the CLI helpers against one Redis instance.
func NewJobsCLI(opts asynq.RedisClientOpt) *JobsCLI {
	client := asynq.NewClient(opts)
	inspector := asynq.NewInspector(opts)
	return &JobsCLI{client: client, inspector: inspector, closers: []func() error{inspector.Close, client.Close}}
}

// Close releases underlying resources.
func (c *JobsCLI) Close() error {
	var errs []error
	for _, closeFn := range c.closers {
		errs = append(errs, closeFn())
	}
	return errors.Join(errs...)
}

// Trigger enqueues a supported job by name with its default payload.
func (c *JobsCLI) Trigger(ctx context.Context, name string, asOf time.Time) (*asynq.TaskInfo, error) {
	if c == nil || c.client == nil {
		return nil, errors.New("jobs cli: client not configured")
	}
	if name == jobs.TaskMilestoneCompleted {
		return nil, fmt.Errorf("jobs cli: use `jobs milestone <id>` for %s", name)
	}
	task, err := jobs.NewTask(name, asOf)
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(ctx, task, asynq.MaxRetry(3))
}

// Milestone enqueues a milestone completion for the worker.
func (c *JobsCLI) Milestone(ctx context.Context, milestoneID int64) (*asynq.TaskInfo, error) {
	if c == nil || c.client == nil {
		return nil, errors.New("jobs cli: client not configured")
	}
	task, err := jobs.NewMilestoneCompletedTask(milestoneID)
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(ctx, task)
}

// QueueStats summarises the current queue state.
type QueueStats struct {
	Queue     string
	Pending   int
	Active    int
	Scheduled int
	Retry     int
	Archived  int
}

// InspectQueues reports metrics for the default and mail queues. Queues that
// have never received a task report zeros.
func (c *JobsCLI) InspectQueues() ([]QueueStats, error) {
	if c == nil || c.inspector == nil {
		return nil, errors.New("jobs cli: inspector not configured")
	}
	var out []QueueStats
	for _, queue := range []string{jobs.QueueDefault, jobs.QueueMail} {
		stats := QueueStats{Queue: queue}
		info, err := c.inspector.GetQueueInfo(queue)
		if err != nil && !errors.Is(err, asynq.ErrQueueNotFound) {
			return nil, err
		}
		if info != nil {
			stats.Pending = info.Pending
			stats.Active = info.Active
			stats.Scheduled = info.Scheduled
			stats.Retry = info.Retry
			stats.Archived = info.Archived
		}
		out = append(out, stats)
	}
	return out, nil
}

// ListScheduled returns scheduled task infos for observability.
func (c *JobsCLI) ListScheduled(size int) ([]*asynq.TaskInfo, error) {
	if c == nil || c.inspector == nil {
		return nil, errors.New("jobs cli: inspector not configured")
	}
	if size <= 0 {
		size = 10
	}
	return c.inspector.ListScheduledTasks(jobs.QueueDefault, asynq.PageSize(size), asynq.Page(1))
}

func newJobsCmd(rt *runtime) *cobra.Command {
	var cli *JobsCLI
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Trigger and inspect queued ledger jobs",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if root := cmd.Root(); root.PersistentPreRunE != nil {
				if err := root.PersistentPreRunE(cmd, args); err != nil {
					return err
				}
			}
			cli = NewJobsCLI(asynq.RedisClientOpt{Addr: rt.cfg.RedisAddr, Password: rt.cfg.RedisPassword, DB: rt.cfg.RedisDB})
			return nil
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			if cli == nil {
				return nil
			}
			return cli.Close()
		},
	}

	var pin bool
	trigger := &cobra.Command{
		Use:   "trigger <task>",
		Short: "Enqueue a sweep, e.g. " + jobs.TaskReminderSweep,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var asOf time.Time
			if cmd.Flags().Changed("as-of") || pin {
				asOf = rt.asOf
			}
			info, err := cli.Trigger(cmd.Context(), args[0], asOf)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "enqueued %s id=%s queue=%s\n", info.Type, info.ID, info.Queue)
			return nil
		},
	}
	trigger.Flags().BoolVar(&pin, "pin-date", false, "pin the task to today instead of the worker's clock")

	milestone := &cobra.Command{
		Use:   "milestone <milestone-id>",
		Short: "Report a completed project milestone to the worker",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("milestone id must be an integer")
			}
			info, err := cli.Milestone(cmd.Context(), id)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "enqueued %s id=%s\n", info.Type, info.ID)
			return nil
		},
	}

	inspect := &cobra.Command{
		Use:   "inspect",
		Short: "Show queue depth",
		RunE: func(cmd *cobra.Command, _ []string) error {
			stats, err := cli.InspectQueues()
			if err != nil {
				return err
			}
			for _, s := range stats {
				fmt.Fprintf(cmd.OutOrStdout(), "%-8s pending=%d active=%d scheduled=%d retry=%d archived=%d\n",
					s.Queue, s.Pending, s.Active, s.Scheduled, s.Retry, s.Archived)
			}
			return nil
		},
	}

	var size int
	scheduled := &cobra.Command{
		Use:   "scheduled",
		Short: "List tasks scheduled for later processing",
		RunE: func(cmd *cobra.Command, _ []string) error {
			tasks, err := cli.ListScheduled(size)
			if err != nil {
				return err
			}
			for _, t := range tasks {
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s next=%s\n", t.ID, t.Type, t.NextProcessAt.Format(time.RFC3339))
			}
			return nil
		},
	}
	scheduled.Flags().IntVar(&size, "size", 10, "page size")

	cmd.AddCommand(trigger, milestone, inspect, scheduled)
	return cmd
}
