package notifier

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"homekeep/internal/eventbus"
	"homekeep/internal/storage"
	"homekeep/internal/task"
	logx "homekeep/pkg/logx"
)

type fakeSender struct {
	mu   sync.Mutex
	sent []string
	to   []Target
	err  error
}

func (f *fakeSender) Send(_ context.Context, to Target, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, text)
	f.to = append(f.to, to)
	return nil
}

func (f *fakeSender) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

type names map[string]string

func (n names) DisplayName(_ context.Context, id string) string {
	if v, ok := n[id]; ok {
		return v
	}
	return id
}

func reactivated(id, homeID string) task.Task {
	due := time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC)
	return task.Task{ID: id, HomeID: homeID, Title: "Vacuum", AssignedTo: "u1", Status: task.StatusPending, DueDate: &due}
}

func newTestService(t *testing.T, cfg Config, sender Sender) (*Service, eventbus.Bus) {
	t.Helper()
	bus := eventbus.New()
	cfg.Enabled = true
	cfg.RatePerSec = 100
	cfg.Location = time.UTC
	s := New(cfg, sender, names{"u1": "Ana"}, storage.NewMemory(), logx.Nop(), bus)
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s, bus
}

func TestComposeUsesHomeChatAndAssignee(t *testing.T) {
	s := New(Config{
		Enabled:       true,
		DefaultChatID: 100,
		HomeChats:     map[string]int64{"h2": 200},
		ThreadID:      7,
		Location:      time.UTC,
	}, &fakeSender{}, names{"u1": "Ana"}, nil, logx.Nop(), nil)

	n, err := s.Compose(context.Background(), reactivated("t1", "h1"))
	require.NoError(t, err)
	assert.Equal(t, Target{ChatID: 100, ThreadID: 7}, n.Target)
	assert.Equal(t, "“Vacuum” is due again (Mon 8 Jan) · Ana", n.Text)
	assert.Contains(t, n.DedupKey, "t1")

	n, err = s.Compose(context.Background(), reactivated("t1", "h2"))
	require.NoError(t, err)
	assert.Equal(t, int64(200), n.Target.ChatID)

	s.Apply(Config{Enabled: true})
	_, err = s.Compose(context.Background(), reactivated("t1", "h1"))
	assert.ErrorIs(t, err, ErrNoTarget)
}

func TestReactivationIsAnnouncedOnce(t *testing.T) {
	sender := &fakeSender{}
	s, bus := newTestService(t, Config{DefaultChatID: 42}, sender)

	tk := reactivated("t1", "h1")
	for i := 0; i < 3; i++ {
		bus.Publish(eventbus.Event{Type: task.EventReactivated, Data: task.ReactivatedEvent{Task: tk}})
	}

	require.Eventually(t, func() bool { return len(sender.texts()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool { return s.Snapshot().Deduped == 2 }, time.Second, 10*time.Millisecond)

	next := tk
	later := tk.DueDate.AddDate(0, 0, 7)
	next.DueDate = &later
	bus.Publish(eventbus.Event{Type: task.EventReactivated, Data: task.ReactivatedEvent{Task: next}})
	require.Eventually(t, func() bool { return len(sender.texts()) == 2 }, 2*time.Second, 10*time.Millisecond)
}

func TestLargeSweepBurstIsNotDropped(t *testing.T) {
	sender := &fakeSender{}
	_, bus := newTestService(t, Config{DefaultChatID: 42}, sender)

	const n = 150
	for i := 0; i < n; i++ {
		tk := reactivated(fmt.Sprintf("t%d", i), "h1")
		bus.Publish(eventbus.Event{Type: task.EventReactivated, Data: task.ReactivatedEvent{Task: tk}})
	}
	assert.Zero(t, bus.Dropped())
	require.Eventually(t, func() bool { return len(sender.texts()) == n }, 10*time.Second, 20*time.Millisecond)
}

func TestDedupSurvivesRestartThroughStore(t *testing.T) {
	store := storage.NewMemory()
	sender := &fakeSender{}
	cfg := Config{Enabled: true, DefaultChatID: 1, RatePerSec: 100}

	first := New(cfg, sender, nil, store, logx.Nop(), nil)
	first.Start(context.Background())
	n, err := first.Compose(context.Background(), reactivated("t1", "h1"))
	require.NoError(t, err)
	require.NoError(t, first.Notify(context.Background(), n))
	first.Stop(context.Background())

	second := New(cfg, sender, nil, store, logx.Nop(), nil)
	second.Start(context.Background())
	defer second.Stop(context.Background())
	require.NoError(t, second.Notify(context.Background(), n))
	assert.Equal(t, uint64(1), second.Snapshot().Deduped)
	assert.Len(t, sender.texts(), 1)
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	sender := &fakeSender{err: errors.New("telegram down")}
	s, _ := newTestService(t, Config{DefaultChatID: 1, BreakerFailures: 2, BreakerCooldown: time.Hour}, sender)

	for i := 0; i < 4; i++ {
		n := Notice{Target: Target{ChatID: 1}, Text: "x", TaskID: "t"}
		require.NoError(t, s.Notify(context.Background(), n))
	}
	require.Eventually(t, func() bool { return s.Snapshot().Failed == 4 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "open", s.Snapshot().Breaker)
}

func TestDisabledNotifier(t *testing.T) {
	s := New(Config{}, &fakeSender{}, nil, nil, logx.Nop(), nil)
	s.Start(context.Background())
	assert.False(t, s.Enabled())
	assert.ErrorIs(t, s.Notify(context.Background(), Notice{Text: "x"}), ErrDisabled)

	s = New(Config{Enabled: true}, nil, nil, nil, logx.Nop(), nil)
	assert.False(t, s.Enabled(), "no sender")
}

func TestNotifyAfterStop(t *testing.T) {
	s := New(Config{Enabled: true, DefaultChatID: 1}, &fakeSender{}, nil, nil, logx.Nop(), nil)
	s.Start(context.Background())
	s.Stop(context.Background())
	assert.ErrorIs(t, s.Notify(context.Background(), Notice{Text: "x"}), ErrStopped)
}
