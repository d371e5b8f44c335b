package task_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"homekeep/internal/storage"
	"homekeep/internal/task"
	logx "homekeep/pkg/logx"
)

// seed writes a task straight to the store, bypassing service validation.
func seed(t *testing.T, st task.Store, id, homeID string, status task.Status, due *time.Time, days *int) {
	t.Helper()
	_, err := st.Create(context.Background(), task.Task{
		ID:             id,
		HomeID:         homeID,
		Title:          id,
		Status:         status,
		DueDate:        due,
		RecurrenceDays: days,
		CreatedAt:      utc(2023, 12, 1, 0, 0),
	})
	require.NoError(t, err)
}

func tp(t time.Time) *time.Time { return &t }

func status(t *testing.T, st task.Store, id string) task.Status {
	t.Helper()
	got, err := st.Get(context.Background(), id)
	require.NoError(t, err)
	return got.Status
}

func TestSweepWeeklyScenario(t *testing.T) {
	ctx := context.Background()
	svc, st, _ := newService(t, utc(2024, 1, 1, 10, 0))
	due := utc(2024, 1, 1, 0, 0)
	created, err := svc.Create(ctx, task.NewTask{HomeID: "h1", Title: "Sheets", DueDate: &due, RecurrenceDays: intp(7)})
	require.NoError(t, err)

	done, err := svc.SetStatus(ctx, created.ID, task.StatusCompleted, "u1")
	require.NoError(t, err)
	assert.Equal(t, utc(2024, 1, 8, 0, 0), done.DueDate.UTC())

	for _, d := range []int{2, 5, 7} {
		rep, err := svc.SweepAt(ctx, []string{"h1"}, utc(2024, 1, d, 0, 5))
		require.NoError(t, err)
		assert.Empty(t, rep.Reactivated, "Jan %d is before the next due date", d)
		assert.Equal(t, task.StatusCompleted, status(t, st, created.ID))
	}

	rep, err := svc.SweepAt(ctx, []string{"h1"}, utc(2024, 1, 8, 0, 5))
	require.NoError(t, err)
	assert.Equal(t, []string{created.ID}, rep.Reactivated)

	got, err := st.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusPending, got.Status)
	assert.Equal(t, utc(2024, 1, 8, 0, 0), got.DueDate.UTC(), "sweep only writes status")
	require.NotNil(t, got.CompletedAt)
}

func TestSweepComparesCalendarDates(t *testing.T) {
	ctx := context.Background()
	svc, st, _ := newService(t, time.Time{})
	seed(t, st, "late", "h1", task.StatusCompleted, tp(utc(2024, 1, 8, 23, 59)), intp(7))

	rep, err := svc.SweepAt(ctx, []string{"h1"}, utc(2024, 1, 7, 23, 59))
	require.NoError(t, err)
	assert.Empty(t, rep.Reactivated)

	rep, err = svc.SweepAt(ctx, []string{"h1"}, utc(2024, 1, 8, 0, 0))
	require.NoError(t, err)
	assert.Equal(t, []string{"late"}, rep.Reactivated, "due later today still counts as today")
}

func TestSweepUsesConfiguredLocation(t *testing.T) {
	ctx := context.Background()
	st := storage.NewMemory().Tasks()
	tokyo := time.FixedZone("JST", 9*3600)
	svc := task.NewService(st, task.Config{Location: tokyo}, logx.Nop(), nil)

	// 2024-01-08 00:00 JST.
	seed(t, st, "a", "h1", task.StatusCompleted, tp(utc(2024, 1, 7, 15, 0)), intp(7))

	rep, err := svc.SweepAt(ctx, []string{"h1"}, utc(2024, 1, 7, 14, 0))
	require.NoError(t, err)
	assert.Empty(t, rep.Reactivated, "still Jan 7 in Tokyo")

	rep, err = svc.SweepAt(ctx, []string{"h1"}, utc(2024, 1, 7, 15, 30))
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, rep.Reactivated)
}

func TestSweepSelectsOnlyDueCompletedRecurringTasks(t *testing.T) {
	ctx := context.Background()
	svc, st, _ := newService(t, time.Time{})
	past := tp(utc(2024, 1, 1, 0, 0))
	future := tp(utc(2024, 2, 1, 0, 0))

	seed(t, st, "due", "h1", task.StatusCompleted, past, intp(7))
	seed(t, st, "future", "h1", task.StatusCompleted, future, intp(7))
	seed(t, st, "oneoff", "h1", task.StatusCompleted, past, nil)
	seed(t, st, "nodue", "h1", task.StatusCompleted, nil, intp(7))
	seed(t, st, "pending", "h1", task.StatusPending, past, intp(7))
	seed(t, st, "working", "h1", task.StatusInProgress, past, intp(7))
	seed(t, st, "otherhome", "h2", task.StatusCompleted, past, intp(7))

	rep, err := svc.SweepAt(ctx, []string{"h1"}, utc(2024, 1, 10, 0, 1))
	require.NoError(t, err)
	assert.Equal(t, []string{"due"}, rep.Reactivated)
	assert.Equal(t, 4, rep.Scanned)

	assert.Equal(t, task.StatusCompleted, status(t, st, "future"))
	assert.Equal(t, task.StatusCompleted, status(t, st, "oneoff"))
	assert.Equal(t, task.StatusCompleted, status(t, st, "nodue"))
	assert.Equal(t, task.StatusInProgress, status(t, st, "working"))
	assert.Equal(t, task.StatusCompleted, status(t, st, "otherhome"), "outside sweep scope")
}

func TestSweepIsIdempotent(t *testing.T) {
	ctx := context.Background()
	svc, st, _ := newService(t, time.Time{})
	seed(t, st, "a", "h1", task.StatusCompleted, tp(utc(2024, 1, 1, 0, 0)), intp(1))
	now := utc(2024, 1, 5, 0, 5)

	first, err := svc.SweepAt(ctx, []string{"h1"}, now)
	require.NoError(t, err)
	assert.Len(t, first.Reactivated, 1)

	second, err := svc.SweepAt(ctx, []string{"h1"}, now)
	require.NoError(t, err)
	assert.Empty(t, second.Reactivated)
	assert.Zero(t, second.Scanned)
}

func TestSweepEmptyScopeIsNoop(t *testing.T) {
	ctx := context.Background()
	svc, st, _ := newService(t, time.Time{})
	seed(t, st, "a", "h1", task.StatusCompleted, tp(utc(2024, 1, 1, 0, 0)), intp(1))

	rep, err := svc.SweepAt(ctx, []string{" ", ""}, utc(2024, 2, 1, 0, 0))
	require.NoError(t, err)
	assert.Empty(t, rep.Reactivated)
	assert.Equal(t, task.StatusCompleted, status(t, st, "a"))
}

// flakyStore fails status writes for chosen ids.
type flakyStore struct {
	task.Store
	mu      sync.Mutex
	failIDs map[string]bool
	calls   int
}

func (f *flakyStore) UpdateStatus(ctx context.Context, id string, s task.Status) error {
	f.mu.Lock()
	f.calls++
	fail := f.failIDs[id]
	f.mu.Unlock()
	if fail {
		return errors.New("write rejected")
	}
	return f.Store.UpdateStatus(ctx, id, s)
}

func TestSweepPartialFailureLeavesOthersReactivated(t *testing.T) {
	ctx := context.Background()
	inner := storage.NewMemory().Tasks()
	st := &flakyStore{Store: inner, failIDs: map[string]bool{"b": true}}
	svc := task.NewService(st, task.Config{Location: time.UTC, Concurrency: 2}, logx.Nop(), nil)

	past := tp(utc(2024, 1, 1, 0, 0))
	for _, id := range []string{"a", "b", "c"} {
		seed(t, inner, id, "h1", task.StatusCompleted, past, intp(7))
	}

	rep, err := svc.SweepAt(ctx, []string{"h1"}, utc(2024, 1, 2, 0, 0))
	require.NoError(t, err, "per-task failures are not a sweep error")
	assert.Equal(t, []string{"a", "c"}, rep.Reactivated)
	require.Len(t, rep.Failures, 1)
	assert.Equal(t, "b", rep.Failures[0].TaskID)
	assert.False(t, rep.OK())
	assert.ErrorContains(t, rep.Err(), "task b")
	assert.Equal(t, 3, st.calls)

	assert.Equal(t, task.StatusCompleted, status(t, inner, "b"), "retried on the next pass")
	st.failIDs = nil
	rep, err = svc.SweepAt(ctx, []string{"h1"}, utc(2024, 1, 3, 0, 0))
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, rep.Reactivated)
}

func TestSweepSnapshotFailureKeepsTaskCompleted(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(dir, "state.json")}, logx.Nop())
	require.NoError(t, err)
	defer store.Close()
	st := store.Tasks()
	svc := task.NewService(st, task.Config{Location: time.UTC}, logx.Nop(), nil)
	seed(t, st, "a", "h1", task.StatusCompleted, tp(utc(2024, 1, 1, 0, 0)), intp(7))

	snap := filepath.Join(dir, "state.snapshot.json")
	require.NoError(t, os.Remove(snap))
	require.NoError(t, os.Mkdir(snap, 0o755))

	rep, err := svc.SweepAt(ctx, []string{"h1"}, utc(2024, 1, 2, 0, 0))
	require.NoError(t, err)
	assert.Empty(t, rep.Reactivated)
	require.Len(t, rep.Failures, 1)
	assert.Equal(t, task.StatusCompleted, status(t, st, "a"), "memory matches disk after a failed write")

	require.NoError(t, os.Remove(snap))
	rep, err = svc.SweepAt(ctx, []string{"h1"}, utc(2024, 1, 3, 0, 0))
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Scanned)
	assert.Equal(t, []string{"a"}, rep.Reactivated)
}

// brokenQuery fails the scan.
type brokenQuery struct{ task.Store }

func (brokenQuery) QueryByHomesAndStatus(context.Context, []string, task.Status) ([]task.Task, error) {
	return nil, errors.New("backend unavailable")
}

func TestSweepQueryFailureIsReturned(t *testing.T) {
	svc := task.NewService(brokenQuery{storage.NewMemory().Tasks()}, task.Config{}, logx.Nop(), nil)
	_, err := svc.SweepAt(context.Background(), []string{"h1"}, time.Now())
	assert.ErrorContains(t, err, "backend unavailable")
}

func TestSweepPublishesReactivations(t *testing.T) {
	ctx := context.Background()
	svc, st, bus := newService(t, time.Time{})
	ch, unsub := bus.Subscribe(4, task.EventReactivated, task.EventSweepFinished)
	defer unsub()
	seed(t, st, "a", "h1", task.StatusCompleted, tp(utc(2024, 1, 1, 0, 0)), intp(7))

	_, err := svc.SweepAt(ctx, []string{"h1"}, utc(2024, 1, 1, 6, 0))
	require.NoError(t, err)

	ev := <-ch
	require.Equal(t, task.EventReactivated, ev.Type)
	re, ok := ev.Data.(task.ReactivatedEvent)
	require.True(t, ok)
	assert.Equal(t, "a", re.Task.ID)
	assert.Equal(t, task.StatusPending, re.Task.Status)

	ev = <-ch
	assert.Equal(t, task.EventSweepFinished, ev.Type)
}
