package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseIntervalDuration(t *testing.T) {
	cases := []struct {
		in   string
		want time.Duration
		ok   bool
	}{
		{"15m", 15 * time.Minute, true},
		{"1h", time.Hour, true},
		{"1h30m", 90 * time.Minute, true},
		{"3600s", time.Hour, true},
		{"1d", 24 * time.Hour, true},
		{"2w", 14 * 24 * time.Hour, true},
		{"", 0, false},
		{"0h", 0, false},
		{"-5m", 0, false},
		{"xd", 0, false},
		{"5y", 0, false},
	}
	for _, tc := range cases {
		got, ok := ParseIntervalDuration(tc.in)
		assert.Equal(t, tc.ok, ok, tc.in)
		if tc.ok {
			assert.Equal(t, tc.want, got, tc.in)
		}
	}
}

func TestNextWait_Aligned(t *testing.T) {
	s := &Scheduler{Interval: time.Hour, Offset: 30 * time.Second, Align: true}
	now := time.Date(2026, 1, 1, 10, 15, 0, 0, time.UTC)
	assert.Equal(t, 45*time.Minute+30*time.Second, s.nextWait(now))

	onBoundary := time.Date(2026, 1, 1, 10, 0, 30, 0, time.UTC)
	assert.Equal(t, time.Hour, s.nextWait(onBoundary))

	s.Align = false
	assert.Equal(t, time.Hour, s.nextWait(now))
}

func TestRun_RepeatsUntilCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var runs atomic.Int32
	s := New("test", 5*time.Millisecond)

	err := s.Run(ctx, func(context.Context) {
		if runs.Add(1) == 3 {
			cancel()
		}
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(3), runs.Load())
}

func TestRun_RejectsBadSetup(t *testing.T) {
	require.Error(t, New("bad", 0).Run(context.Background(), func(context.Context) {}))
	require.Error(t, New("nil", time.Second).Run(context.Background(), nil))
}
