package workflow

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBusDispatchesToAllHandlers(t *testing.T) {
	bus := NewBus(nil)
	var calls []string
	bus.Subscribe(EventMilestoneCompleted, func(ctx context.Context, payload map[string]any) error {
		calls = append(calls, "first")
		return errors.New("boom")
	})
	bus.Subscribe(EventMilestoneCompleted, func(ctx context.Context, payload map[string]any) error {
		calls = append(calls, "second")
		return nil
	})

	err := bus.Emit(context.Background(), EventMilestoneCompleted, map[string]any{"milestone_id": int64(7)})
	require.Error(t, err)
	require.Equal(t, []string{"first", "second"}, calls)
}

func TestBusWithoutSubscribers(t *testing.T) {
	bus := NewBus(nil)
	require.NoError(t, bus.Emit(context.Background(), EventInvoicePaid, nil))
	require.Error(t, bus.Emit(context.Background(), "", nil))
}

func TestMilestoneID(t *testing.T) {
	cases := []struct {
		name    string
		payload map[string]any
		want    int64
		wantErr bool
	}{
		{name: "int64", payload: map[string]any{"milestone_id": int64(3)}, want: 3},
		{name: "json number", payload: map[string]any{"milestone_id": float64(12)}, want: 12},
		{name: "string", payload: map[string]any{"milestone_id": "44"}, want: 44},
		{name: "fraction", payload: map[string]any{"milestone_id": 1.5}, wantErr: true},
		{name: "missing", payload: map[string]any{}, wantErr: true},
		{name: "zero", payload: map[string]any{"milestone_id": 0}, wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := MilestoneID(tc.payload)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}
