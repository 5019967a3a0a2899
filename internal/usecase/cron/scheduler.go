// Package cron triggers the backup cycle at a fixed daily wall-clock time.
package cron

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bnema/zerowrap"
	robfig "github.com/robfig/cron/v3"

	"github.com/bnema/odoobackup/internal/boundaries/in"
	"github.com/bnema/odoobackup/internal/domain"
)

// DefaultPollInterval is how often the loop checks for due entries.
const DefaultPollInterval = time.Second

// ErrJobRunning is returned when an entry cannot change while its job runs.
var ErrJobRunning = errors.New("job is running")

var _ in.ScheduleService = (*Scheduler)(nil)

// Job is the work bound to a schedule entry.
type Job func(ctx context.Context) error

// Scheduler runs recurring jobs from a single goroutine.
type Scheduler struct {
	entries map[string]*entry
	mu      sync.RWMutex
	stopCh  chan struct{}
	doneCh  chan struct{}
	started atomic.Bool
	poll    time.Duration
	log     zerowrap.Logger
	nowFn   func() time.Time
}

type entry struct {
	id       string
	name     string
	spec     domain.ScheduleSpec
	schedule robfig.Schedule
	job      Job
	lastRun  time.Time
	nextRun  time.Time
	lastErr  string
	running  atomic.Bool
}

// NewScheduler creates a scheduler polling every poll interval. A zero
// interval uses DefaultPollInterval.
func NewScheduler(poll time.Duration, log zerowrap.Logger) *Scheduler {
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	return &Scheduler{
		entries: make(map[string]*entry),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
		poll:    poll,
		log:     log,
		nowFn:   time.Now,
	}
}

// ParseSpec turns a daily spec into a cron schedule pinned to its zone.
func ParseSpec(spec domain.ScheduleSpec) (robfig.Schedule, error) {
	expr, err := spec.CronExpression()
	if err != nil {
		return nil, err
	}
	sched, err := robfig.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidSchedule, err)
	}
	return sched, nil
}

// Add registers a new scheduled job.
func (s *Scheduler) Add(id, name string, spec domain.ScheduleSpec, job Job) error {
	e, err := s.newEntry(id, name, spec, job)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[id]; exists {
		return fmt.Errorf("schedule %q already exists", id)
	}
	s.entries[id] = e
	return nil
}

// Replace registers job under id, dropping whatever was there before.
// Calling it repeatedly leaves exactly one entry for id.
func (s *Scheduler) Replace(id, name string, spec domain.ScheduleSpec, job Job) error {
	e, err := s.newEntry(id, name, spec, job)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if old, exists := s.entries[id]; exists {
		e.lastRun = old.lastRun
		e.lastErr = old.lastErr
	}
	s.entries[id] = e

	s.log.Info().
		Str("schedule_id", id).
		Str("spec", spec.String()).
		Time("next_run", e.nextRun).
		Msg("schedule registered")
	return nil
}

func (s *Scheduler) newEntry(id, name string, spec domain.ScheduleSpec, job Job) (*entry, error) {
	if id == "" {
		return nil, fmt.Errorf("id is required")
	}
	if job == nil {
		return nil, fmt.Errorf("job is required")
	}

	sched, err := ParseSpec(spec)
	if err != nil {
		return nil, err
	}

	return &entry{
		id:       id,
		name:     name,
		spec:     spec,
		schedule: sched,
		job:      job,
		nextRun:  sched.Next(s.nowFn()),
	}, nil
}

// Remove unregisters a scheduled job. A running job cannot be removed.
func (s *Scheduler) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entries[id]; ok && e.running.Load() {
		return fmt.Errorf("schedule %q: %w", id, ErrJobRunning)
	}
	delete(s.entries, id)
	return nil
}

// Start begins the scheduler loop. Due jobs run inline, one at a time.
// It does nothing once stopped or when ctx is already done.
func (s *Scheduler) Start(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	select {
	case <-s.stopCh:
		return
	default:
	}
	if !s.started.CompareAndSwap(false, true) {
		return
	}

	ticker := time.NewTicker(s.poll)
	go func() {
		defer close(s.doneCh)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			case <-ticker.C:
				s.runDue(ctx)
			}
		}
	}()
}

// Stop stops the scheduler loop and waits for a running job to return.
func (s *Scheduler) Stop() {
	select {
	case <-s.stopCh:
	default:
		close(s.stopCh)
	}
	if s.started.Load() {
		<-s.doneCh
	}
}

// List returns current scheduler entries ordered by id.
func (s *Scheduler) List() []domain.CronEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]domain.CronEntry, 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, domain.CronEntry{
			ID:        e.id,
			Name:      e.name,
			Schedule:  e.spec,
			LastRun:   e.lastRun,
			NextRun:   e.nextRun,
			Running:   e.running.Load(),
			LastError: e.lastErr,
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })

	return entries
}

// RunNow triggers a registered job immediately.
func (s *Scheduler) RunNow(ctx context.Context, id string) error {
	e := s.getEntry(id)
	if e == nil {
		return fmt.Errorf("schedule %q not found", id)
	}

	return s.executeEntry(ctx, e, false)
}

func (s *Scheduler) runDue(ctx context.Context) {
	now := s.nowFn()
	for _, e := range s.snapshotEntries() {
		if now.Before(e.nextRun) {
			continue
		}
		if err := s.executeEntry(ctx, e, true); err != nil {
			s.log.Warn().Err(err).Str("schedule_id", e.id).Msg("scheduled job failed")
		}
	}
}

// executeEntry runs e once. Scheduled runs advance nextRun from the time the
// job started; on-demand runs leave it alone.
func (s *Scheduler) executeEntry(ctx context.Context, e *entry, scheduled bool) error {
	if !e.running.CompareAndSwap(false, true) {
		return fmt.Errorf("schedule %q is already running", e.id)
	}
	defer e.running.Store(false)

	now := s.nowFn()
	log := s.log.With().Str("schedule_id", e.id).Bool("scheduled", scheduled).Logger()
	log.Info().Msg("running job")

	err := runJob(ctx, e.job)

	s.mu.Lock()
	e.lastRun = now
	e.lastErr = ""
	if err != nil {
		e.lastErr = err.Error()
	}
	if scheduled {
		e.nextRun = e.schedule.Next(now)
	}
	s.mu.Unlock()

	if err == nil {
		log.Info().Dur(zerowrap.FieldDuration, s.nowFn().Sub(now)).Msg("job finished")
	}
	return err
}

func runJob(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return job(ctx)
}

func (s *Scheduler) getEntry(id string) *entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entries[id]
}

func (s *Scheduler) snapshotEntries() []*entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]*entry, 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].id < entries[j].id })
	return entries
}
