package cron

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bnema/zerowrap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bnema/odoobackup/internal/domain"
)

var midnightHCM = domain.ScheduleSpec{TimeOfDay: "00:00", Timezone: "Asia/Ho_Chi_Minh"}

func newTestScheduler(now time.Time) *Scheduler {
	s := NewScheduler(time.Millisecond, zerowrap.Default())
	s.nowFn = func() time.Time { return now }
	return s
}

func TestParseSpecHonoursZone(t *testing.T) {
	tests := []struct {
		name     string
		spec     domain.ScheduleSpec
		now      time.Time
		expected time.Time
	}{
		{
			name:     "utc default",
			spec:     domain.ScheduleSpec{TimeOfDay: "02:30"},
			now:      time.Date(2026, 2, 7, 12, 0, 0, 0, time.UTC),
			expected: time.Date(2026, 2, 8, 2, 30, 0, 0, time.UTC),
		},
		{
			name:     "later today",
			spec:     domain.ScheduleSpec{TimeOfDay: "23:15"},
			now:      time.Date(2026, 2, 7, 12, 0, 0, 0, time.UTC),
			expected: time.Date(2026, 2, 7, 23, 15, 0, 0, time.UTC),
		},
		{
			name:     "midnight in utc+7",
			spec:     midnightHCM,
			now:      time.Date(2026, 2, 7, 12, 0, 0, 0, time.UTC),
			expected: time.Date(2026, 2, 7, 17, 0, 0, 0, time.UTC),
		},
		{
			name:     "exactly at trigger moves to next day",
			spec:     midnightHCM,
			now:      time.Date(2026, 2, 7, 17, 0, 0, 0, time.UTC),
			expected: time.Date(2026, 2, 8, 17, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sched, err := ParseSpec(tt.spec)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, sched.Next(tt.now).UTC())
		})
	}
}

func TestParseSpecRejectsInvalid(t *testing.T) {
	for _, spec := range []domain.ScheduleSpec{
		{TimeOfDay: "24:00"},
		{TimeOfDay: "7am"},
		{TimeOfDay: "00:00", Timezone: "Mars/Olympus"},
	} {
		_, err := ParseSpec(spec)
		assert.ErrorIs(t, err, domain.ErrInvalidSchedule, spec.String())
	}
}

func TestSchedulerAddListAndRunNow(t *testing.T) {
	now := time.Date(2026, 2, 7, 12, 0, 0, 0, time.UTC)
	s := newTestScheduler(now)

	runs := 0
	err := s.Add("backup-daily", "daily backup", domain.ScheduleSpec{TimeOfDay: "02:00"}, func(context.Context) error {
		runs++
		return nil
	})
	require.NoError(t, err)

	err = s.Add("backup-daily", "again", domain.ScheduleSpec{TimeOfDay: "02:00"}, func(context.Context) error { return nil })
	assert.Error(t, err)

	entries := s.List()
	require.Len(t, entries, 1)
	assert.Equal(t, "backup-daily", entries[0].ID)
	assert.Equal(t, "daily backup", entries[0].Name)

	require.NoError(t, s.RunNow(context.Background(), "backup-daily"))
	assert.Equal(t, 1, runs)

	entries = s.List()
	require.Len(t, entries, 1)
	assert.Equal(t, now, entries[0].LastRun)
	assert.Equal(t, time.Date(2026, 2, 8, 2, 0, 0, 0, time.UTC), entries[0].NextRun.UTC())
}

func TestSchedulerReplaceKeepsOneEntry(t *testing.T) {
	s := newTestScheduler(time.Date(2026, 2, 7, 12, 0, 0, 0, time.UTC))

	var first, second atomic.Int32
	require.NoError(t, s.Replace("backup", "backup", domain.ScheduleSpec{TimeOfDay: "01:00"}, func(context.Context) error {
		first.Add(1)
		return nil
	}))
	require.NoError(t, s.Replace("backup", "backup", midnightHCM, func(context.Context) error {
		second.Add(1)
		return nil
	}))

	entries := s.List()
	require.Len(t, entries, 1)
	assert.Equal(t, midnightHCM, entries[0].Schedule)
	assert.Equal(t, time.Date(2026, 2, 7, 17, 0, 0, 0, time.UTC), entries[0].NextRun.UTC())

	require.NoError(t, s.RunNow(context.Background(), "backup"))
	assert.Equal(t, int32(0), first.Load())
	assert.Equal(t, int32(1), second.Load())
}

func TestSchedulerReplaceRejectsInvalidSpec(t *testing.T) {
	s := newTestScheduler(time.Now())
	err := s.Replace("backup", "backup", domain.ScheduleSpec{TimeOfDay: "25:00"}, func(context.Context) error { return nil })
	require.ErrorIs(t, err, domain.ErrInvalidSchedule)
	assert.Empty(t, s.List())
}

func TestSchedulerRunNowUnknown(t *testing.T) {
	s := newTestScheduler(time.Now())
	assert.Error(t, s.RunNow(context.Background(), "nope"))
}

func TestSchedulerRecordsJobError(t *testing.T) {
	s := newTestScheduler(time.Date(2026, 2, 7, 12, 0, 0, 0, time.UTC))
	require.NoError(t, s.Add("backup", "backup", domain.ScheduleSpec{TimeOfDay: "02:00"}, func(context.Context) error {
		return domain.ErrUpstreamUnavailable
	}))

	err := s.RunNow(context.Background(), "backup")
	require.ErrorIs(t, err, domain.ErrUpstreamUnavailable)
	assert.Equal(t, domain.ErrUpstreamUnavailable.Error(), s.List()[0].LastError)
}

func TestSchedulerRunNowDoesNotMoveNextRun(t *testing.T) {
	s := newTestScheduler(time.Date(2026, 2, 7, 12, 0, 0, 0, time.UTC))
	require.NoError(t, s.Add("backup", "backup", domain.ScheduleSpec{TimeOfDay: "02:00"}, func(context.Context) error { return nil }))
	before := s.List()[0].NextRun

	s.nowFn = func() time.Time { return time.Date(2026, 2, 8, 3, 0, 0, 0, time.UTC) }
	require.NoError(t, s.RunNow(context.Background(), "backup"))
	assert.Equal(t, before, s.List()[0].NextRun)
}

func TestSchedulerRemoveRejectsRunningJob(t *testing.T) {
	s := newTestScheduler(time.Now())

	started := make(chan struct{})
	release := make(chan struct{})
	require.NoError(t, s.Add("backup", "backup", domain.ScheduleSpec{TimeOfDay: "02:00"}, func(context.Context) error {
		close(started)
		<-release
		return nil
	}))

	runErrCh := make(chan error, 1)
	go func() {
		runErrCh <- s.RunNow(context.Background(), "backup")
	}()

	<-started
	err := s.Remove("backup")
	require.ErrorIs(t, err, ErrJobRunning)

	close(release)
	require.NoError(t, <-runErrCh)
	require.NoError(t, s.Remove("backup"))
	assert.Empty(t, s.List())
}

func TestSchedulerRunNowRejectsConcurrentRun(t *testing.T) {
	s := newTestScheduler(time.Now())

	started := make(chan struct{})
	release := make(chan struct{})
	require.NoError(t, s.Add("backup", "backup", domain.ScheduleSpec{TimeOfDay: "02:00"}, func(context.Context) error {
		close(started)
		<-release
		return nil
	}))

	var wg sync.WaitGroup
	firstErrCh := make(chan error, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		firstErrCh <- s.RunNow(context.Background(), "backup")
	}()

	<-started
	assert.Error(t, s.RunNow(context.Background(), "backup"))
	assert.True(t, s.List()[0].Running)

	close(release)
	wg.Wait()
	require.NoError(t, <-firstErrCh)
}

func TestSchedulerRunNowRecoversFromPanics(t *testing.T) {
	s := newTestScheduler(time.Now())
	require.NoError(t, s.Add("panic-job", "panic job", domain.ScheduleSpec{TimeOfDay: "02:00"}, func(context.Context) error {
		panic("boom")
	}))

	err := s.RunNow(context.Background(), "panic-job")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panic")

	entries := s.List()
	require.Len(t, entries, 1)
	assert.False(t, entries[0].Running)
	assert.False(t, entries[0].LastRun.IsZero())
}

func TestSchedulerLoopRunsDueJobsSequentially(t *testing.T) {
	now := time.Date(2026, 2, 7, 12, 0, 0, 0, time.UTC)
	s := newTestScheduler(now)

	var (
		mu       sync.Mutex
		inFlight int
		overlap  bool
		runs     atomic.Int32
	)
	job := func(context.Context) error {
		mu.Lock()
		inFlight++
		overlap = overlap || inFlight > 1
		mu.Unlock()

		time.Sleep(5 * time.Millisecond)
		runs.Add(1)

		mu.Lock()
		inFlight--
		mu.Unlock()
		return errors.New("failing jobs keep the loop alive")
	}
	require.NoError(t, s.Add("a", "a", domain.ScheduleSpec{TimeOfDay: "02:00"}, job))
	require.NoError(t, s.Add("b", "b", domain.ScheduleSpec{TimeOfDay: "02:00"}, job))

	s.mu.Lock()
	for _, e := range s.entries {
		e.nextRun = now.Add(-time.Minute)
	}
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	require.Eventually(t, func() bool { return runs.Load() == 2 }, time.Second, time.Millisecond)
	s.Stop()

	mu.Lock()
	defer mu.Unlock()
	assert.False(t, overlap)
	for _, e := range s.List() {
		assert.Equal(t, time.Date(2026, 2, 8, 2, 0, 0, 0, time.UTC), e.NextRun.UTC())
	}
	// Each entry moved past now, so nothing ran twice.
	assert.Equal(t, int32(2), runs.Load())
}

func TestSchedulerStartNoOpWhenStopped(t *testing.T) {
	now := time.Date(2026, 2, 7, 12, 0, 0, 0, time.UTC)
	s := newTestScheduler(now)

	var runs atomic.Int32
	require.NoError(t, s.Add("stopped-job", "stopped job", domain.ScheduleSpec{TimeOfDay: "02:00"}, func(context.Context) error {
		runs.Add(1)
		return nil
	}))

	s.mu.Lock()
	s.entries["stopped-job"].nextRun = now.Add(-time.Minute)
	s.mu.Unlock()

	s.Stop()
	s.Start(context.Background())

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(0), runs.Load())
	assert.False(t, s.started.Load())
}

func TestSchedulerStartNoOpWhenContextAlreadyCanceled(t *testing.T) {
	now := time.Date(2026, 2, 7, 12, 0, 0, 0, time.UTC)
	s := newTestScheduler(now)

	var runs atomic.Int32
	require.NoError(t, s.Add("canceled-job", "canceled job", domain.ScheduleSpec{TimeOfDay: "02:00"}, func(context.Context) error {
		runs.Add(1)
		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s.Start(ctx)
	time.Sleep(20 * time.Millisecond)

	assert.Equal(t, int32(0), runs.Load())
	assert.False(t, s.started.Load())
	s.Stop()
}
