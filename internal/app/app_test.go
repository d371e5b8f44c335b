package app

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"homekeep/internal/config"
	"homekeep/internal/eventbus"
	"homekeep/internal/habit"
	"homekeep/internal/notifier"
	"homekeep/internal/task"
)

type recordingSender struct {
	mu    sync.Mutex
	texts []string
}

func (s *recordingSender) Send(_ context.Context, _ notifier.Target, text string) error {
	s.mu.Lock()
	s.texts = append(s.texts, text)
	s.mu.Unlock()
	return nil
}

func (s *recordingSender) sent() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.texts...)
}

type clock struct{ ns atomic.Int64 }

func newClock(t time.Time) *clock {
	c := &clock{}
	c.set(t)
	return c
}

func (c *clock) set(t time.Time) { c.ns.Store(t.UnixNano()) }
func (c *clock) now() time.Time  { return time.Unix(0, c.ns.Load()).UTC() }

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	p := filepath.Join(dir, "homekeep.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

const baseConfig = `
logging:
  level: error
storage:
  driver: file
  path: %DIR%/state.json
sweep:
  schedule: "@every 1h"
  timezone: UTC
http:
  enabled: true
  addr: 127.0.0.1:0
notifier:
  enabled: true
  telegram:
    token: test
  default_chat_id: 42
`

func newTestApp(t *testing.T, clk *clock, sender notifier.Sender) (*App, string) {
	t.Helper()
	dir := t.TempDir()
	path := writeConfig(t, dir, strings.ReplaceAll(baseConfig, "%DIR%", dir))
	a, err := New(path, WithClock(clk.now), WithSender(sender))
	require.NoError(t, err)
	return a, dir
}

func day(y int, m time.Month, d int) time.Time { return time.Date(y, m, d, 0, 0, 0, 0, time.UTC) }

func TestAppRecurringLifecycle(t *testing.T) {
	clk := newClock(day(2024, 1, 1).Add(9 * time.Hour))
	sender := &recordingSender{}
	a, _ := newTestApp(t, clk, sender)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, a.Start(ctx))
	defer func() {
		stopCtx, c := context.WithTimeout(context.Background(), 5*time.Second)
		defer c()
		require.NoError(t, a.Stop(stopCtx, StopUnknown))
	}()

	h, err := a.Homes().Create(ctx, "Flat", "u1")
	require.NoError(t, err)
	due := day(2024, 1, 1)
	every := 7
	tk, err := a.Tasks().Create(ctx, task.NewTask{
		HomeID: h.ID, Title: "Water plants", CreatedBy: "u1", DueDate: &due, RecurrenceDays: &every,
	})
	require.NoError(t, err)

	done, err := a.Tasks().SetStatus(ctx, tk.ID, task.StatusCompleted, "u1")
	require.NoError(t, err)
	require.NotNil(t, done.DueDate)
	assert.True(t, day(2024, 1, 8).Equal(*done.DueDate))

	// Not yet due: the sweep leaves it alone.
	require.NoError(t, a.Scheduler().RunNow(ctx, sweepJobName))
	got, err := a.Tasks().Get(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusCompleted, got.Status)

	clk.set(day(2024, 1, 8).Add(time.Minute))
	require.NoError(t, a.Scheduler().RunNow(ctx, sweepJobName))
	got, err = a.Tasks().Get(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusPending, got.Status)
	assert.True(t, day(2024, 1, 8).Equal(*got.DueDate))

	assert.Eventually(t, func() bool { return len(sender.sent()) == 1 }, 3*time.Second, 20*time.Millisecond)
	assert.Contains(t, sender.sent()[0], "Water plants")

	resp, err := http.Get("http://" + a.HTTPAddr() + "/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSweepOnceWritesAudit(t *testing.T) {
	clk := newClock(day(2024, 3, 10).Add(8 * time.Hour))
	a, dir := newTestApp(t, clk, &recordingSender{})
	ctx := context.Background()

	h, err := a.Homes().Create(ctx, "Flat", "u1")
	require.NoError(t, err)
	due := day(2024, 3, 3)
	every := 7
	tk, err := a.Tasks().Create(ctx, task.NewTask{HomeID: h.ID, Title: "Bins", CreatedBy: "u1", DueDate: &due, RecurrenceDays: &every})
	require.NoError(t, err)
	_, err = a.Tasks().SetStatus(ctx, tk.ID, task.StatusCompleted, "u1")
	require.NoError(t, err)

	rep, err := a.SweepOnce(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{tk.ID}, rep.Reactivated)
	require.NoError(t, a.Close())

	b, err := os.ReadFile(filepath.Join(dir, "state.audit.jsonl"))
	require.NoError(t, err)
	assert.Contains(t, string(b), `"action":"sweep"`)
	assert.Contains(t, string(b), tk.ID)
}

func TestHabitCompletionIsAudited(t *testing.T) {
	clk := newClock(day(2024, 3, 10).Add(8 * time.Hour))
	a, dir := newTestApp(t, clk, &recordingSender{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, a.Start(ctx))

	h, err := a.Homes().Create(ctx, "Flat", "u1")
	require.NoError(t, err)
	hb, err := a.Habits().Create(ctx, habit.NewHabit{HomeID: h.ID, Title: "Stretch", CreatedBy: "u1"})
	require.NoError(t, err)
	done, err := a.Habits().Complete(ctx, hb.ID, "u1")
	require.NoError(t, err)
	assert.True(t, done.CompletedAt.Equal(clk.now()))

	auditPath := filepath.Join(dir, "state.audit.jsonl")
	require.Eventually(t, func() bool {
		b, err := os.ReadFile(auditPath)
		return err == nil && strings.Contains(string(b), `"action":"habit.complete"`)
	}, 2*time.Second, 20*time.Millisecond)

	stopCtx, c := context.WithTimeout(context.Background(), 5*time.Second)
	defer c()
	require.NoError(t, a.Stop(stopCtx, StopUnknown))
}

func TestSweepJobLogsFailuresOnce(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "homekeep.log")
	body := strings.ReplaceAll(baseConfig, "%DIR%", dir)
	body = strings.Replace(body, "  level: error\n", "  level: warn\n  file:\n    enabled: true\n    path: "+logPath+"\n", 1)
	clk := newClock(day(2024, 3, 10).Add(8 * time.Hour))
	a, err := New(writeConfig(t, dir, body), WithClock(clk.now), WithSender(&recordingSender{}))
	require.NoError(t, err)
	ctx := context.Background()

	h, err := a.Homes().Create(ctx, "Flat", "u1")
	require.NoError(t, err)
	due := day(2024, 3, 3)
	every := 7
	tk, err := a.Tasks().Create(ctx, task.NewTask{HomeID: h.ID, Title: "Bins", CreatedBy: "u1", DueDate: &due, RecurrenceDays: &every})
	require.NoError(t, err)
	_, err = a.Tasks().SetStatus(ctx, tk.ID, task.StatusCompleted, "u1")
	require.NoError(t, err)

	snap := filepath.Join(dir, "state.snapshot.json")
	require.NoError(t, os.Remove(snap))
	require.NoError(t, os.Mkdir(snap, 0o755))

	require.NoError(t, a.sweepJob(ctx))
	require.NoError(t, a.Close())

	b, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(string(b), "sweep finished with failures"))
}

func TestApplyConfigSweepTimezone(t *testing.T) {
	a, _ := newTestApp(t, newClock(day(2024, 1, 1)), &recordingSender{})
	defer a.Close()

	oldCfg := a.cfgm.Get()
	next := *oldCfg
	next.Sweep.Timezone = "Asia/Tokyo"
	next.Sweep.Schedule = "daily:00:10"

	a.applyConfig(context.Background(), oldCfg, &next)

	assert.Equal(t, "Asia/Tokyo", a.Tasks().Location().String())
	snap := a.Scheduler().Snapshot()
	assert.Equal(t, "Asia/Tokyo", snap.Timezone)
	require.Len(t, snap.Schedules, 1)
	assert.Equal(t, sweepJobName, snap.Schedules[0].Name)
}

func TestApplyConfigDisablesSweep(t *testing.T) {
	a, _ := newTestApp(t, newClock(day(2024, 1, 1)), &recordingSender{})
	defer a.Close()
	require.NoError(t, a.applySweepSchedule(a.cfgm.Get()))
	require.Len(t, a.Scheduler().Snapshot().Schedules, 1)

	off := false
	next := *a.cfgm.Get()
	next.Sweep.Enabled = &off
	a.applyConfig(context.Background(), a.cfgm.Get(), &next)
	assert.Empty(t, a.Scheduler().Snapshot().Schedules)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "sweep:\n  timezone: Mars/Base\n")
	_, err := New(path)
	assert.Error(t, err)

	path = writeConfig(t, dir, "bogus: true\n")
	_, err = New(path)
	assert.Error(t, err)
}

func TestAuditFor(t *testing.T) {
	t.Parallel()
	prev := day(2024, 1, 1)
	next := day(2024, 1, 8)
	at := day(2024, 1, 2)

	e, ok := auditFor(eventbus.Event{Type: task.EventStatusChanged, Time: at, Data: task.StatusChangedEvent{
		Task:        task.Task{ID: "t1", HomeID: "h1", Status: task.StatusCompleted, DueDate: &next},
		From:        task.StatusPending,
		Actor:       "u1",
		PrevDueDate: &prev,
	}})
	require.True(t, ok)
	assert.Equal(t, "task.status.completed", e.Action)
	assert.Equal(t, "u1", e.Actor)
	assert.Contains(t, e.MetaJSON, "nextDue")

	e, ok = auditFor(eventbus.Event{Time: at, Data: task.SweepReport{
		HomeIDs:     []string{"h1"},
		Scanned:     3,
		Reactivated: []string{"a", "b"},
		Failures:    []task.SweepFailure{{TaskID: "c", Err: assert.AnError}},
	}})
	require.True(t, ok)
	assert.Equal(t, "sweep", e.Action)
	assert.Equal(t, 2, e.OK)
	assert.Equal(t, 1, e.Fail)
	assert.Equal(t, "h1", e.HomeID)
	assert.Equal(t, "a,b", e.Target)
	assert.NotEmpty(t, e.Error)

	e, ok = auditFor(eventbus.Event{Time: at, Data: habit.Completion{ID: "c1", HabitID: "x", HomeID: "h1", CompletedBy: "u2"}})
	require.True(t, ok)
	assert.Equal(t, "habit.complete", e.Action)
	assert.Equal(t, "u2", e.Actor)
	assert.Equal(t, "x", e.Target)

	_, ok = auditFor(eventbus.Event{Data: "noise"})
	assert.False(t, ok)
}

func TestMapNotifierConfig(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{
		Sweep: config.SweepConfig{Timezone: "UTC"},
		Notifier: &config.NotifierConfig{
			Enabled:     true,
			DedupWindow: "24h",
			HomeChats:   map[string]int64{"h1": 7},
			Telegram:    config.TelegramConfig{PollTimeout: "5s"},
		},
	}
	n, poll, err := mapNotifierConfig(cfg)
	require.NoError(t, err)
	assert.True(t, n.Enabled)
	assert.Equal(t, 24*time.Hour, n.DedupWindow)
	assert.Equal(t, 5*time.Second, poll)
	assert.Equal(t, time.UTC, n.Location)

	cfg.Notifier.HomeChats["h2"] = 8
	assert.NotContains(t, n.HomeChats, "h2")

	n, _, err = mapNotifierConfig(&config.Config{})
	require.NoError(t, err)
	assert.False(t, n.Enabled)
}
