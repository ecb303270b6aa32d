package scheduler

import (
	"context"
	"database/sql"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/R3E-Network/kernel/pkg/clockutil"
	"github.com/R3E-Network/kernel/pkg/kernelerrors"
	"github.com/R3E-Network/kernel/pkg/logging"
	"github.com/R3E-Network/kernel/pkg/metrics"
)

func openSchedulerDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", "file:"+t.TempDir()+"/framework.db?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	for _, table := range Schema.Tables {
		if _, err := db.Exec(table.CreateSQL); err != nil {
			t.Fatalf("create table %s: %v", table.Name, err)
		}
	}
	return db
}

func testRecorder() *metrics.Recorder {
	return metrics.NewRecorder(prometheus.NewRegistry())
}

func testLogger() *logging.Logger {
	return logging.New("scheduler-test", "error", "text")
}

// TestScenarioS3IntervalEventCrashRecovery mirrors the interval-event
// crash recovery scenario: an event was left RUNNING by a simulated
// crash, and a fresh Scheduler's Start must mark the stuck execution
// FAILED with CRASH_RECOVERY, flip the event back to PENDING, and
// advance next_fire_at past the restart instant without running it.
func TestScenarioS3IntervalEventCrashRecovery(t *testing.T) {
	db := openSchedulerDB(t)
	store := NewStore(db)
	functions := NewFunctionRegistry()

	ran := int32(0)
	functions.Register("noop", func(ctx context.Context, params json.RawMessage) (map[string]interface{}, error) {
		atomic.AddInt32(&ran, 1)
		return map[string]interface{}{"ok": true}, nil
	})

	ctx := context.Background()
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	overdue := start.Add(-10 * time.Minute)

	ev := &ScheduledEvent{
		Name:           "interval-event",
		FunctionName:   "noop",
		ModuleID:       "test.module",
		Parameters:     []byte("{}"),
		TriggerKind:    TriggerInterval,
		IntervalUnit:   UnitMinutes,
		IntervalAmount: 5,
		NextFireAt:     &overdue,
		CreatedAt:      start,
		Status:         StatusRunning,
		Recurring:      true,
	}
	if err := store.Insert(ctx, ev); err != nil {
		t.Fatalf("insert: %v", err)
	}
	stuck := &Execution{EventID: ev.ID, StartedAt: overdue}
	if err := store.InsertExecution(ctx, stuck); err != nil {
		t.Fatalf("insert execution: %v", err)
	}

	fakeClock := clockutil.NewFake(start)
	sched := New(store, functions, testLogger(), Options{Clock: fakeClock, Recorder: testRecorder()})

	if err := sched.recoverCrashed(ctx); err != nil {
		t.Fatalf("recoverCrashed: %v", err)
	}

	recovered, err := store.Get(ctx, ev.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if recovered.Status != StatusPending {
		t.Fatalf("status = %s, want PENDING", recovered.Status)
	}
	if recovered.NextFireAt == nil || !recovered.NextFireAt.After(start) {
		t.Fatalf("next_fire_at not advanced past restart instant: %+v", recovered.NextFireAt)
	}

	open, err := store.OpenExecutionsFor(ctx, ev.ID)
	if err != nil {
		t.Fatalf("open executions: %v", err)
	}
	if len(open) != 0 {
		t.Fatalf("expected no open executions after recovery, got %d", len(open))
	}

	executions, err := store.ExecutionsForEvent(ctx, ev.ID)
	if err != nil {
		t.Fatalf("executions for event: %v", err)
	}
	if len(executions) != 1 || executions[0].Outcome != OutcomeFailure || executions[0].ErrorKind != string(kernelerrors.CodeCrashRecovery) {
		t.Fatalf("unexpected execution record: %+v", executions)
	}
	if atomic.LoadInt32(&ran) != 0 {
		t.Fatalf("crash recovery must not invoke the function, ran=%d", ran)
	}
}

// TestScenarioS4ConcurrencyBoundAndSerialization exercises both halves
// of the concurrency invariant: total in-flight fires never exceed
// max_in_flight, and RunNow on an event that is already running is
// rejected with ALREADY_RUNNING rather than run concurrently.
func TestScenarioS4ConcurrencyBoundAndSerialization(t *testing.T) {
	db := openSchedulerDB(t)
	store := NewStore(db)
	functions := NewFunctionRegistry()

	var mu sync.Mutex
	inFlight := 0
	maxSeen := 0
	release := make(chan struct{})
	started := make(chan struct{}, 10)

	functions.Register("slow", func(ctx context.Context, params json.RawMessage) (map[string]interface{}, error) {
		mu.Lock()
		inFlight++
		if inFlight > maxSeen {
			maxSeen = inFlight
		}
		mu.Unlock()
		started <- struct{}{}
		<-release
		mu.Lock()
		inFlight--
		mu.Unlock()
		return map[string]interface{}{}, nil
	})

	ctx := context.Background()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	fakeClock := clockutil.NewFake(now)
	sched := New(store, functions, testLogger(), Options{Clock: fakeClock, MaxInFlight: 2, Recorder: testRecorder()})

	var ids []string
	for i := 0; i < 5; i++ {
		due := now.Add(-time.Minute)
		ev := &ScheduledEvent{
			Name:         "slow-event",
			FunctionName: "slow",
			ModuleID:     "test.module",
			Parameters:   []byte("{}"),
			TriggerKind:  TriggerOnce,
			NextFireAt:   &due,
			CreatedAt:    now,
			Status:       StatusPending,
		}
		if err := store.Insert(ctx, ev); err != nil {
			t.Fatalf("insert: %v", err)
		}
		ids = append(ids, ev.ID)
	}

	sched.tick(ctx)

	for i := 0; i < 2; i++ {
		select {
		case <-started:
		case <-time.After(2 * time.Second):
			t.Fatalf("expected a fire to start")
		}
	}
	select {
	case <-started:
		t.Fatalf("a third fire started concurrently, exceeding max_in_flight=2")
	case <-time.After(100 * time.Millisecond):
	}

	close(release)
	sched.wg.Wait()

	mu.Lock()
	got := maxSeen
	mu.Unlock()
	if got > 2 {
		t.Fatalf("max concurrent fires = %d, want <= 2", got)
	}

	// Re-run dispatch against the same already-RUNNING event to prove
	// per-event serialization: RunNow while the event is still marked
	// RUNNING must fail with ALREADY_RUNNING rather than double-fire.
	ev, err := store.Get(ctx, ids[0])
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	ev.Status = StatusRunning
	if err := store.UpdateEvent(ctx, ev); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := sched.RunNow(ctx, ids[0]); !kernelerrors.Is(err, kernelerrors.CodeAlreadyRunning) {
		t.Fatalf("RunNow against a RUNNING event: err = %v, want ALREADY_RUNNING", err)
	}
}

func TestScheduleRejectsUnknownFunction(t *testing.T) {
	db := openSchedulerDB(t)
	sched := New(NewStore(db), NewFunctionRegistry(), testLogger(), Options{Recorder: testRecorder()})

	_, err := sched.Schedule(context.Background(), EventSpec{
		Name:          "bad",
		FunctionName:  "does-not-exist",
		TriggerKind:   TriggerOnce,
		NextExecution: time.Now().Add(time.Hour),
	})
	if !kernelerrors.Is(err, kernelerrors.CodeFunctionNotFound) {
		t.Fatalf("err = %v, want FUNCTION_NOT_FOUND", err)
	}
}

func TestPauseResumeCancelLifecycle(t *testing.T) {
	db := openSchedulerDB(t)
	store := NewStore(db)
	functions := NewFunctionRegistry()
	functions.Register("noop", func(ctx context.Context, params json.RawMessage) (map[string]interface{}, error) {
		return nil, nil
	})

	ctx := context.Background()
	clock := clockutil.NewFake(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	sched := New(store, functions, testLogger(), Options{Clock: clock, Recorder: testRecorder()})

	ev, err := sched.Schedule(ctx, EventSpec{
		Name:           "paused-event",
		FunctionName:   "noop",
		TriggerKind:    TriggerInterval,
		IntervalUnit:   UnitHours,
		IntervalAmount: 1,
		Recurring:      true,
	})
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}

	if _, err := sched.Pause(ctx, ev.ID); err != nil {
		t.Fatalf("pause: %v", err)
	}
	paused, err := sched.Get(ctx, ev.ID)
	if err != nil || paused.Status != StatusPaused {
		t.Fatalf("status after pause = %v, err = %v", paused, err)
	}

	if _, err := sched.Resume(ctx, ev.ID); err != nil {
		t.Fatalf("resume: %v", err)
	}
	resumed, err := sched.Get(ctx, ev.ID)
	if err != nil || resumed.Status != StatusPending {
		t.Fatalf("status after resume = %v, err = %v", resumed, err)
	}

	if _, err := sched.Cancel(ctx, ev.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	cancelled, err := sched.Get(ctx, ev.ID)
	if err != nil || cancelled.Status != StatusCancelled {
		t.Fatalf("status after cancel = %v, err = %v", cancelled, err)
	}
}
