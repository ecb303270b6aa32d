package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/R3E-Network/kernel/pkg/clockutil"
	"github.com/R3E-Network/kernel/pkg/kernelerrors"
	"github.com/R3E-Network/kernel/pkg/logging"
	"github.com/R3E-Network/kernel/pkg/metrics"
)

// Options configures a Scheduler. Zero values fall back to sane
// defaults in New.
type Options struct {
	TickInterval   time.Duration
	MaxInFlight    int
	DefaultTimeout time.Duration
	Clock          clockutil.Clock
	Recorder       *metrics.Recorder
}

// Scheduler dispatches due ScheduledEvents with bounded concurrency,
// serializing re-fires of the same event and recording every
// Execution.
type Scheduler struct {
	store     *Store
	functions *FunctionRegistry
	clock     clockutil.Clock
	log       *logging.Logger
	recorder  *metrics.Recorder

	tickInterval   time.Duration
	maxInFlight    int
	defaultTimeout time.Duration

	sem chan struct{}

	mu      sync.Mutex
	running map[string]bool
	missed  map[string]int

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New builds a Scheduler over store and functions.
func New(store *Store, functions *FunctionRegistry, log *logging.Logger, opts Options) *Scheduler {
	if opts.TickInterval <= 0 {
		opts.TickInterval = time.Second
	}
	if opts.MaxInFlight <= 0 {
		opts.MaxInFlight = 10
	}
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = 5 * time.Minute
	}
	if opts.Clock == nil {
		opts.Clock = clockutil.System
	}
	if opts.Recorder == nil {
		opts.Recorder = metrics.Default
	}
	return &Scheduler{
		store:          store,
		functions:      functions,
		clock:          opts.Clock,
		log:            log,
		recorder:       opts.Recorder,
		tickInterval:   opts.TickInterval,
		maxInFlight:    opts.MaxInFlight,
		defaultTimeout: opts.DefaultTimeout,
		sem:            make(chan struct{}, opts.MaxInFlight),
		running:        make(map[string]bool),
		missed:         make(map[string]int),
		stopCh:         make(chan struct{}),
	}
}

// Schedule creates a new event from spec and computes its first
// next_fire_at.
func (s *Scheduler) Schedule(ctx context.Context, spec EventSpec) (*ScheduledEvent, error) {
	if _, err := s.functions.Lookup(spec.FunctionName); err != nil {
		return nil, err
	}

	now := s.clock.Now().UTC()
	ev := &ScheduledEvent{
		Name:           spec.Name,
		Description:    spec.Description,
		FunctionName:   spec.FunctionName,
		ModuleID:       spec.ModuleID,
		Parameters:     spec.Parameters,
		TriggerKind:    spec.TriggerKind,
		IntervalUnit:   spec.IntervalUnit,
		IntervalAmount: spec.IntervalAmount,
		CronExpression: spec.CronExpression,
		CreatedAt:      now,
		Status:         StatusPending,
		Recurring:      spec.Recurring,
		TimeoutSeconds: spec.TimeoutSeconds,
	}
	if ev.Parameters == nil {
		ev.Parameters = []byte("{}")
	}

	next, err := s.firstFire(now, spec)
	if err != nil {
		return nil, err
	}
	ev.NextFireAt = &next

	if err := s.store.Insert(ctx, ev); err != nil {
		return nil, err
	}
	return ev, nil
}

func (s *Scheduler) firstFire(now time.Time, spec EventSpec) (time.Time, error) {
	switch spec.TriggerKind {
	case TriggerOnce:
		if spec.NextExecution.IsZero() {
			return time.Time{}, kernelerrors.New(kernelerrors.CodeParameterInvalid, "ONCE trigger requires next_execution")
		}
		return spec.NextExecution.UTC(), nil
	case TriggerInterval:
		if !spec.NextExecution.IsZero() {
			return spec.NextExecution.UTC(), nil
		}
		return nextIntervalFire(now, spec.IntervalUnit, spec.IntervalAmount)
	case TriggerCron:
		return nextCronFire(spec.CronExpression, now)
	default:
		return time.Time{}, kernelerrors.New(kernelerrors.CodeParameterInvalid,
			fmt.Sprintf("unknown trigger kind %q", spec.TriggerKind))
	}
}

// Get returns an event by ID.
func (s *Scheduler) Get(ctx context.Context, id string) (*ScheduledEvent, error) {
	ev, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if ev == nil {
		return nil, kernelerrors.New(kernelerrors.CodeNotFound, fmt.Sprintf("no scheduled event %q", id))
	}
	return ev, nil
}

// List returns events matching f.
func (s *Scheduler) List(ctx context.Context, f Filters, limit int) ([]*ScheduledEvent, error) {
	return s.store.List(ctx, f, limit)
}

// Update edits the mutable fields of a non-RUNNING event.
func (s *Scheduler) Update(ctx context.Context, id string, fields UpdateFields) (*ScheduledEvent, error) {
	ev, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if ev.Status == StatusRunning {
		return nil, kernelerrors.New(kernelerrors.CodeAlreadyRunning,
			fmt.Sprintf("event %q is currently running and cannot be edited", id))
	}

	if fields.Description != nil {
		ev.Description = *fields.Description
	}
	if fields.Parameters != nil {
		ev.Parameters = fields.Parameters
	}
	if fields.TriggerKind != "" {
		ev.TriggerKind = fields.TriggerKind
	}
	if fields.IntervalUnit != "" {
		ev.IntervalUnit = fields.IntervalUnit
	}
	if fields.IntervalAmount != 0 {
		ev.IntervalAmount = fields.IntervalAmount
	}
	if fields.CronExpression != "" {
		ev.CronExpression = fields.CronExpression
	}
	if fields.TimeoutSeconds != 0 {
		ev.TimeoutSeconds = fields.TimeoutSeconds
	}

	if ev.Status == StatusPending {
		next, err := s.recomputeNextFire(ev)
		if err != nil {
			return nil, err
		}
		ev.NextFireAt = &next
	}

	if err := s.store.UpdateEvent(ctx, ev); err != nil {
		return nil, err
	}
	return ev, nil
}

func (s *Scheduler) recomputeNextFire(ev *ScheduledEvent) (time.Time, error) {
	base := s.clock.Now().UTC()
	switch ev.TriggerKind {
	case TriggerOnce:
		if ev.NextFireAt != nil {
			return *ev.NextFireAt, nil
		}
		return base, nil
	case TriggerInterval:
		return nextIntervalFire(base, ev.IntervalUnit, ev.IntervalAmount)
	case TriggerCron:
		return nextCronFire(ev.CronExpression, base)
	default:
		return time.Time{}, kernelerrors.New(kernelerrors.CodeParameterInvalid, "unknown trigger kind")
	}
}

// Pause moves a PENDING event to PAUSED, halting future fires until Resume.
func (s *Scheduler) Pause(ctx context.Context, id string) (*ScheduledEvent, error) {
	return s.transition(ctx, id, func(ev *ScheduledEvent) error {
		if ev.Status != StatusPending {
			return kernelerrors.New(kernelerrors.CodeParameterInvalid,
				fmt.Sprintf("event %q is %s, not PENDING", id, ev.Status))
		}
		ev.Status = StatusPaused
		return nil
	})
}

// Resume moves a PAUSED event back to PENDING, recomputing next_fire_at
// from the current time.
func (s *Scheduler) Resume(ctx context.Context, id string) (*ScheduledEvent, error) {
	return s.transition(ctx, id, func(ev *ScheduledEvent) error {
		if ev.Status != StatusPaused {
			return kernelerrors.New(kernelerrors.CodeParameterInvalid,
				fmt.Sprintf("event %q is %s, not PAUSED", id, ev.Status))
		}
		next, err := s.recomputeNextFire(ev)
		if err != nil {
			return err
		}
		ev.NextFireAt = &next
		ev.Status = StatusPending
		return nil
	})
}

// Cancel moves any non-RUNNING event to CANCELLED permanently.
func (s *Scheduler) Cancel(ctx context.Context, id string) (*ScheduledEvent, error) {
	return s.transition(ctx, id, func(ev *ScheduledEvent) error {
		if ev.Status == StatusRunning {
			return kernelerrors.New(kernelerrors.CodeAlreadyRunning,
				fmt.Sprintf("event %q is currently running and cannot be cancelled", id))
		}
		ev.Status = StatusCancelled
		ev.NextFireAt = nil
		return nil
	})
}

func (s *Scheduler) transition(ctx context.Context, id string, mutate func(*ScheduledEvent) error) (*ScheduledEvent, error) {
	ev, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := mutate(ev); err != nil {
		return nil, err
	}
	if err := s.store.UpdateEvent(ctx, ev); err != nil {
		return nil, err
	}
	return ev, nil
}

// RunNow fires id immediately, outside its normal schedule. It fails
// with ALREADY_RUNNING if the event is currently executing.
func (s *Scheduler) RunNow(ctx context.Context, id string) error {
	ev, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if ev.Status == StatusRunning {
		return kernelerrors.New(kernelerrors.CodeAlreadyRunning,
			fmt.Sprintf("event %q is already running", id))
	}
	s.dispatch(ctx, ev, true)
	return nil
}

// Start launches the tick loop in a background goroutine after running
// crash recovery once.
func (s *Scheduler) Start(ctx context.Context) error {
	if err := s.recoverCrashed(ctx); err != nil {
		return err
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.tickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-s.stopCh:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.tick(ctx)
			}
		}
	}()
	return nil
}

// Stop halts the tick loop and waits until every in-flight fire has
// finished, each bounded by its own timeout. ctx is not consulted.
func (s *Scheduler) Stop(ctx context.Context) error {
	close(s.stopCh)
	s.wg.Wait()
	return nil
}

// tick runs one dispatch pass: load due events, skip any already
// running (counting a missed fire), otherwise dispatch with bounded
// concurrency.
func (s *Scheduler) tick(ctx context.Context) {
	due, err := s.store.DueEvents(ctx, s.clock.Now().UTC())
	if err != nil {
		s.log.WithContext(ctx).WithField("error", err.Error()).Warnf("scheduler: failed to load due events")
		return
	}
	for _, ev := range due {
		s.dispatch(ctx, ev, false)
	}
	s.mu.Lock()
	s.recorder.SetSchedulerRunning(len(s.running))
	s.mu.Unlock()
}

// dispatch fires ev in its own goroutine, bounded by the concurrency
// semaphore, serialized per event via the running set. manual is true
// for RunNow calls; they go through the same semaphore and per-event
// exclusion as ticked fires.
func (s *Scheduler) dispatch(ctx context.Context, ev *ScheduledEvent, manual bool) {
	s.mu.Lock()
	if s.running[ev.ID] {
		s.missed[ev.ID]++
		s.recorder.IncSchedulerMissed()
		s.mu.Unlock()
		return
	}
	s.running[ev.ID] = true
	s.mu.Unlock()

	ev.Status = StatusRunning
	now := s.clock.Now().UTC()
	ev.LastFiredAt = &now
	if err := s.store.UpdateEvent(ctx, ev); err != nil {
		s.log.WithContext(ctx).WithField("error", err.Error()).Warnf("scheduler: failed to mark event running")
	}

	exec := &Execution{EventID: ev.ID, StartedAt: now}
	if err := s.store.InsertExecution(ctx, exec); err != nil {
		s.log.WithContext(ctx).WithField("error", err.Error()).Warnf("scheduler: failed to insert execution")
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.sem <- struct{}{}
		defer func() { <-s.sem }()
		s.runOne(ctx, ev, exec)
	}()
}

func (s *Scheduler) runOne(ctx context.Context, ev *ScheduledEvent, exec *Execution) {
	defer func() {
		s.mu.Lock()
		delete(s.running, ev.ID)
		s.mu.Unlock()
	}()

	timeout := s.defaultTimeout
	if ev.TimeoutSeconds > 0 {
		timeout = time.Duration(ev.TimeoutSeconds) * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	fn, err := s.functions.Lookup(ev.FunctionName)
	if err != nil {
		s.finish(ctx, ev, exec, nil, OutcomeFailure, err)
		return
	}

	type result struct {
		out map[string]interface{}
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := fn(runCtx, ev.Parameters)
		done <- result{out, err}
	}()

	select {
	case <-runCtx.Done():
		s.finish(ctx, ev, exec, nil, OutcomeTimeout, runCtx.Err())
	case r := <-done:
		if r.err != nil {
			s.finish(ctx, ev, exec, nil, OutcomeFailure, r.err)
		} else {
			s.finish(ctx, ev, exec, r.out, OutcomeSuccess, nil)
		}
	}
}

func (s *Scheduler) finish(ctx context.Context, ev *ScheduledEvent, exec *Execution, out map[string]interface{}, outcome Outcome, runErr error) {
	ended := s.clock.Now().UTC()
	exec.EndedAt = &ended
	exec.Outcome = outcome
	if runErr != nil {
		exec.ErrorMessage = runErr.Error()
		if ke := kernelerrors.As(runErr); ke != nil {
			exec.ErrorKind = string(ke.Code)
		}
	}
	if out != nil {
		if encoded, err := marshalResult(out); err == nil {
			exec.ResultSummary = encoded
		}
	}
	s.recorder.IncSchedulerFire(string(outcome))

	if outcome == OutcomeSuccess {
		ev.Status = StatusCompleted
	} else {
		ev.Status = StatusFailed
	}

	if ev.Recurring && outcome != OutcomeCancelled {
		next, err := s.recomputeNextFire(ev)
		if err == nil {
			ev.NextFireAt = &next
			ev.Status = StatusPending
		}
	} else {
		ev.NextFireAt = nil
	}

	if err := s.store.FinishExecution(ctx, []*Execution{exec}, ev); err != nil {
		s.log.WithContext(ctx).WithField("error", err.Error()).Warnf("scheduler: failed to persist execution outcome and event state")
	}
}

func marshalResult(out map[string]interface{}) (json.RawMessage, error) {
	return json.Marshal(out)
}

// recoverCrashed runs once at Start, for events left RUNNING by a prior
// process: their open executions (no ended_at) are closed as FAILURE
// with CRASH_RECOVERY; a recurring such event returns to PENDING with
// next_fire_at fast forwarded past the restart instant, and a one-shot
// one becomes FAILED. Events in any other status are left unchanged,
// including a PENDING recurring event whose next_fire_at is in the past.
func (s *Scheduler) recoverCrashed(ctx context.Context) error {
	events, err := s.store.NonTerminalEvents(ctx)
	if err != nil {
		return err
	}
	now := s.clock.Now().UTC()

	for _, ev := range events {
		if ev.Status != StatusRunning {
			continue
		}
		open, err := s.store.OpenExecutionsFor(ctx, ev.ID)
		if err != nil {
			return err
		}
		for _, exec := range open {
			exec.EndedAt = &now
			exec.Outcome = OutcomeFailure
			exec.ErrorKind = string(kernelerrors.CodeCrashRecovery)
			exec.ErrorMessage = "scheduler restarted while this execution was running"
		}

		if ev.Recurring {
			step := func(t time.Time) (time.Time, error) {
				switch ev.TriggerKind {
				case TriggerInterval:
					return nextIntervalFire(t, ev.IntervalUnit, ev.IntervalAmount)
				case TriggerCron:
					return nextCronFire(ev.CronExpression, t)
				default:
					return time.Time{}, kernelerrors.New(kernelerrors.CodeParameterInvalid, "recurring ONCE event is invalid")
				}
			}
			base := now
			if ev.NextFireAt != nil {
				base = *ev.NextFireAt
			}
			next, skipped, err := advancePastDue(base, now, step)
			if err != nil {
				return err
			}
			if skipped > 0 {
				s.log.WithContext(ctx).WithField("event_id", ev.ID).WithField("skipped", skipped).
					Warnf("scheduler: crash recovery skipped overdue fires")
			}
			ev.NextFireAt = &next
			ev.Status = StatusPending
		} else {
			ev.Status = StatusFailed
			ev.NextFireAt = nil
		}

		if err := s.store.FinishExecution(ctx, open, ev); err != nil {
			return err
		}
	}
	return nil
}
