package eventbus

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "homekeep/pkg/logx"
)

func TestSubscribeFiltersByType(t *testing.T) {
	t.Parallel()
	b := New()
	all, unsubAll := b.Subscribe(4)
	defer unsubAll()
	only, unsubOnly := b.Subscribe(4, "task.reactivated")
	defer unsubOnly()

	b.Publish(Event{Type: "task.completed"})
	b.Publish(Event{Type: "task.reactivated", Data: "t1"})

	require.Len(t, all, 2)
	require.Len(t, only, 1)
	e := <-only
	assert.Equal(t, "t1", e.Data)
	assert.False(t, e.Time.IsZero())
}

func TestPublishDropsWhenFull(t *testing.T) {
	t.Parallel()
	b := New()
	_, unsub := b.Subscribe(1)
	defer unsub()

	b.Publish(Event{Type: "a"})
	b.Publish(Event{Type: "b"})
	assert.EqualValues(t, 1, b.Dropped())
}

func TestPublishDropIsLogged(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bus.log")
	svc, log := logx.New(logx.Config{Level: "warn", File: logx.FileConfig{Enabled: true, Path: path}})
	b := New(WithLogger(log))
	_, unsub := b.Subscribe(1, "task.reactivated")
	defer unsub()

	b.Publish(Event{Type: "task.reactivated"})
	b.Publish(Event{Type: "task.reactivated"})
	require.NoError(t, svc.Close())

	out, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(out), "event dropped")
	assert.Contains(t, string(out), `"type":"task.reactivated"`)
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(1)
	unsub()
	unsub()
	_, ok := <-ch
	assert.False(t, ok)
	b.Publish(Event{Type: "after"})
}
