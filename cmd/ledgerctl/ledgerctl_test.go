package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/nobhad/no-bhad-codes-sub015/internal/aging"
	"github.com/nobhad/no-bhad-codes-sub015/jobs"
)

type fakeClient struct {
	tasks []*asynq.Task
}

func (f *fakeClient) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	f.tasks = append(f.tasks, task)
	return &asynq.TaskInfo{ID: "abc", Type: task.Type(), Queue: jobs.QueueDefault}, nil
}

type fakeInspector struct{}

func (fakeInspector) GetQueueInfo(queue string) (*asynq.QueueInfo, error) {
	if queue == jobs.QueueMail {
		return nil, asynq.ErrQueueNotFound
	}
	return &asynq.QueueInfo{Queue: queue, Pending: 4, Retry: 1}, nil
}

func (fakeInspector) ListScheduledTasks(string, ...asynq.ListOption) ([]*asynq.TaskInfo, error) {
	return nil, nil
}

func TestParseAsOf(t *testing.T) {
	now := time.Date(2026, 4, 9, 17, 45, 0, 0, time.UTC)
	d, err := parseAsOf("", now)
	require.NoError(t, err)
	require.Equal(t, time.Date(2026, 4, 9, 0, 0, 0, 0, time.UTC), d)

	d, err = parseAsOf("2026-01-31", now)
	require.NoError(t, err)
	require.Equal(t, time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC), d)

	_, err = parseAsOf("31.01.2026", now)
	require.Error(t, err)
}

func TestLoadEnvKeepsExistingValues(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("LEDGERCTL_TEST_A=from-file\nLEDGERCTL_TEST_B=from-file\n"), 0o600))
	t.Setenv("LEDGERCTL_TEST_A", "from-env")

	require.NoError(t, loadEnv(path))
	require.Equal(t, "from-env", os.Getenv("LEDGERCTL_TEST_A"))
	require.Equal(t, "from-file", os.Getenv("LEDGERCTL_TEST_B"))
	os.Unsetenv("LEDGERCTL_TEST_B")

	require.NoError(t, loadEnv(filepath.Join(dir, "missing.env")))
}

func TestJobsCLITrigger(t *testing.T) {
	client := &fakeClient{}
	cli := &JobsCLI{client: client, inspector: fakeInspector{}}
	ctx := context.Background()

	info, err := cli.Trigger(ctx, jobs.TaskRecurringGenerate, time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Equal(t, jobs.TaskRecurringGenerate, info.Type)
	var payload jobs.SweepPayload
	require.NoError(t, json.Unmarshal(client.tasks[0].Payload(), &payload))
	require.Equal(t, "2026-06-01", payload.AsOf)

	_, err = cli.Trigger(ctx, jobs.TaskMilestoneCompleted, time.Time{})
	require.Error(t, err)
	_, err = cli.Trigger(ctx, "ledger:bogus", time.Time{})
	require.Error(t, err)

	_, err = cli.Milestone(ctx, 12)
	require.NoError(t, err)
	require.Equal(t, jobs.TaskMilestoneCompleted, client.tasks[1].Type())
}

func TestJobsCLIInspectQueues(t *testing.T) {
	cli := &JobsCLI{inspector: fakeInspector{}}
	stats, err := cli.InspectQueues()
	require.NoError(t, err)
	require.Equal(t, []QueueStats{
		{Queue: jobs.QueueDefault, Pending: 4, Retry: 1},
		{Queue: jobs.QueueMail},
	}, stats)
}

func TestWriteReport(t *testing.T) {
	due := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	report := aging.Report{
		AsOf: time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC),
		Buckets: []aging.Bucket{
			{Name: aging.BucketCurrent, Total: decimal.Zero},
			{Name: aging.Bucket1to30, Count: 1, Total: decimal.RequireFromString("250.5"), Invoices: []aging.Entry{
				{Number: "INV-000009", ClientID: 3, Currency: "USD", DueDate: &due, DaysOverdue: 10, Outstanding: decimal.RequireFromString("250.5")},
			}},
		},
		InvoiceCount:     1,
		TotalOutstanding: decimal.RequireFromString("250.5"),
		ByCurrency:       map[string]decimal.Decimal{"USD": decimal.RequireFromString("250.5")},
	}

	var buf bytes.Buffer
	require.NoError(t, writeReport(&buf, report, true))
	out := buf.String()
	require.Contains(t, out, "Aging as of 2026-03-11")
	require.Contains(t, out, "250.50")
	require.Contains(t, out, "INV-000009")
	require.Contains(t, out, "10 days")

	buf.Reset()
	require.NoError(t, writeReport(&buf, report, false))
	require.NotContains(t, buf.String(), "INV-000009")
}
