package storage

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"homekeep/internal/habit"
	"homekeep/internal/home"
	"homekeep/internal/profile"
	"homekeep/internal/task"
	logx "homekeep/pkg/logx"
)

func drivers(t *testing.T) map[string]func(t *testing.T) Store {
	t.Helper()
	open := func(driver string) func(t *testing.T) Store {
		return func(t *testing.T) Store {
			st, err := Open(Config{Driver: driver, Path: filepath.Join(t.TempDir(), "homekeep.db")}, logx.Nop())
			require.NoError(t, err)
			t.Cleanup(func() { _ = st.Close() })
			return st
		}
	}
	return map[string]func(t *testing.T) Store{
		"memory": open("memory"),
		"file":   open("file"),
		"sqlite": open("sqlite"),
	}
}

func intp(n int) *int { return &n }

func day(y int, m time.Month, d int) time.Time { return time.Date(y, m, d, 0, 0, 0, 0, time.UTC) }

func sampleTask(id, homeID string, status task.Status, created time.Time) task.Task {
	due := day(2024, 1, 1)
	return task.Task{
		ID:             id,
		HomeID:         homeID,
		Title:          "Water plants " + id,
		CreatedBy:      "u1",
		Status:         status,
		DueDate:        &due,
		RecurrenceDays: intp(7),
		CreatedAt:      created,
	}
}

func TestStoreTasks(t *testing.T) {
	ctx := context.Background()
	for name, open := range drivers(t) {
		t.Run(name, func(t *testing.T) {
			st := open(t)
			tasks := st.Tasks()
			base := time.UnixMilli(1_700_000_000_000)

			_, err := tasks.Create(ctx, sampleTask("a", "h1", task.StatusCompleted, base))
			require.NoError(t, err)
			_, err = tasks.Create(ctx, sampleTask("b", "h1", task.StatusPending, base.Add(time.Minute)))
			require.NoError(t, err)
			_, err = tasks.Create(ctx, sampleTask("c", "h2", task.StatusCompleted, base.Add(2*time.Minute)))
			require.NoError(t, err)

			got, err := tasks.Get(ctx, "a")
			require.NoError(t, err)
			assert.Equal(t, "h1", got.HomeID)
			require.NotNil(t, got.DueDate)
			assert.True(t, got.DueDate.Equal(day(2024, 1, 1)))
			require.NotNil(t, got.RecurrenceDays)
			assert.Equal(t, 7, *got.RecurrenceDays)
			assert.Nil(t, got.CompletedAt)

			_, err = tasks.Get(ctx, "missing")
			assert.ErrorIs(t, err, task.ErrNotFound)

			list, err := tasks.ListByHomes(ctx, []string{"h1"})
			require.NoError(t, err)
			require.Len(t, list, 2)
			assert.Equal(t, "b", list[0].ID, "newest first")

			done, err := tasks.QueryByHomesAndStatus(ctx, []string{"h1", "h2"}, task.StatusCompleted)
			require.NoError(t, err)
			ids := []string{}
			for _, d := range done {
				ids = append(ids, d.ID)
			}
			assert.ElementsMatch(t, []string{"a", "c"}, ids)

			none, err := tasks.QueryByHomesAndStatus(ctx, nil, task.StatusCompleted)
			require.NoError(t, err)
			assert.Empty(t, none)
		})
	}
}

func TestStoreTaskUpdates(t *testing.T) {
	ctx := context.Background()
	for name, open := range drivers(t) {
		t.Run(name, func(t *testing.T) {
			tasks := open(t).Tasks()
			_, err := tasks.Create(ctx, sampleTask("a", "h1", task.StatusPending, time.UnixMilli(1_700_000_000_000)))
			require.NoError(t, err)

			completed := task.StatusCompleted
			at := time.UnixMilli(1_704_153_600_000)
			next := day(2024, 1, 8)
			title := "  Mop floors "
			got, err := tasks.Update(ctx, "a", task.Patch{Status: &completed, CompletedAt: &at, DueDate: &next, Title: &title})
			require.NoError(t, err)
			assert.Equal(t, task.StatusCompleted, got.Status)
			assert.Equal(t, "Mop floors", got.Title)
			require.NotNil(t, got.CompletedAt)
			assert.True(t, got.CompletedAt.Equal(at))

			require.NoError(t, tasks.UpdateStatus(ctx, "a", task.StatusPending))
			require.NoError(t, tasks.UpdateDueDate(ctx, "a", day(2024, 1, 15)))
			got, err = tasks.Get(ctx, "a")
			require.NoError(t, err)
			assert.Equal(t, task.StatusPending, got.Status)
			assert.True(t, got.DueDate.Equal(day(2024, 1, 15)))
			assert.True(t, got.CompletedAt.Equal(at), "status write leaves completedAt alone")

			got, err = tasks.Update(ctx, "a", task.Patch{ClearDueDate: true, ClearRecurrence: true})
			require.NoError(t, err)
			assert.Nil(t, got.DueDate)
			assert.Nil(t, got.RecurrenceDays)

			assert.ErrorIs(t, tasks.UpdateStatus(ctx, "missing", task.StatusPending), task.ErrNotFound)
			_, err = tasks.Update(ctx, "missing", task.Patch{Title: &title})
			assert.ErrorIs(t, err, task.ErrNotFound)

			require.NoError(t, tasks.Delete(ctx, "a"))
			assert.ErrorIs(t, tasks.Delete(ctx, "a"), task.ErrNotFound)
		})
	}
}

func TestStoreHabits(t *testing.T) {
	ctx := context.Background()
	base := time.UnixMilli(1_700_000_000_000)
	for name, open := range drivers(t) {
		t.Run(name, func(t *testing.T) {
			habits := open(t).Habits()
			_, err := habits.Create(ctx, habit.Habit{ID: "x", HomeID: "h1", Title: "Stretch", CreatedBy: "u1", CreatedAt: base})
			require.NoError(t, err)
			_, err = habits.Create(ctx, habit.Habit{ID: "y", HomeID: "h1", Title: "Read", RoomID: "den", CreatedBy: "u1", CreatedAt: base.Add(time.Minute)})
			require.NoError(t, err)
			_, err = habits.Create(ctx, habit.Habit{ID: "z", HomeID: "h2", Title: "Walk dog", CreatedBy: "u2", CreatedAt: base.Add(2 * time.Minute)})
			require.NoError(t, err)

			list, err := habits.ListByHomes(ctx, []string{"h1"})
			require.NoError(t, err)
			require.Len(t, list, 2)
			assert.Equal(t, "y", list[0].ID, "newest first")
			assert.Equal(t, "den", list[0].RoomID)

			desc := "ten minutes"
			h, err := habits.Update(ctx, "x", habit.Patch{Description: &desc})
			require.NoError(t, err)
			assert.Equal(t, "ten minutes", h.Description)
			assert.Equal(t, "Stretch", h.Title)

			_, ok, err := habits.LastCompletion(ctx, "x")
			require.NoError(t, err)
			assert.False(t, ok)

			for i, id := range []string{"c1", "c2", "c3"} {
				_, err := habits.AddCompletion(ctx, habit.Completion{
					ID: id, HabitID: "x", HomeID: "h1", CompletedBy: "u1", CompletedAt: base.Add(time.Duration(i) * time.Hour),
				})
				require.NoError(t, err)
			}
			_, err = habits.AddCompletion(ctx, habit.Completion{ID: "c4", HabitID: "missing", CompletedBy: "u1", CompletedAt: base})
			assert.ErrorIs(t, err, habit.ErrNotFound)

			cs, err := habits.Completions(ctx, "x")
			require.NoError(t, err)
			require.Len(t, cs, 3)
			assert.Equal(t, "c3", cs[0].ID, "most recent first")
			assert.Equal(t, "h1", cs[0].HomeID)

			last, ok, err := habits.LastCompletion(ctx, "x")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, "c3", last.ID)
			assert.True(t, last.CompletedAt.Equal(base.Add(2*time.Hour)))

			require.NoError(t, habits.Delete(ctx, "x"))
			assert.ErrorIs(t, habits.Delete(ctx, "x"), habit.ErrNotFound)
			_, err = habits.Get(ctx, "x")
			assert.ErrorIs(t, err, habit.ErrNotFound)
			cs, err = habits.Completions(ctx, "x")
			require.NoError(t, err)
			assert.Empty(t, cs, "history goes with the habit")
		})
	}
}

func TestStoreHomes(t *testing.T) {
	ctx := context.Background()
	for name, open := range drivers(t) {
		t.Run(name, func(t *testing.T) {
			homes := open(t).Homes()
			_, err := homes.Create(ctx, home.Home{ID: "h2", Name: "Cabin", CreatedBy: "u2", CreatedAt: time.UnixMilli(1), Members: []string{"u2"}})
			require.NoError(t, err)
			_, err = homes.Create(ctx, home.Home{ID: "h1", Name: "Flat", CreatedBy: "u1", CreatedAt: time.UnixMilli(2), Members: []string{"u1"}})
			require.NoError(t, err)

			h, err := homes.AddMember(ctx, "h2", "u1")
			require.NoError(t, err)
			assert.Equal(t, []string{"u2", "u1"}, h.Members)

			h, err = homes.AddMember(ctx, "h2", "u1")
			require.NoError(t, err)
			assert.Equal(t, []string{"u2", "u1"}, h.Members, "idempotent")

			_, err = homes.AddMember(ctx, "missing", "u1")
			assert.ErrorIs(t, err, home.ErrNotFound)

			mine, err := homes.ListByMember(ctx, "u1")
			require.NoError(t, err)
			require.Len(t, mine, 2)
			assert.Equal(t, "h1", mine[0].ID)

			ids, err := homes.ListIDs(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"h1", "h2"}, ids)

			_, err = homes.Get(ctx, "nope")
			assert.ErrorIs(t, err, home.ErrNotFound)
		})
	}
}

func TestStoreUsers(t *testing.T) {
	ctx := context.Background()
	for name, open := range drivers(t) {
		t.Run(name, func(t *testing.T) {
			users := open(t).Users()
			created := time.UnixMilli(1_700_000_000_000)
			_, err := users.Upsert(ctx, profile.User{ID: "u1", Email: "ana@example.com", CreatedAt: created})
			require.NoError(t, err)

			u, err := users.Upsert(ctx, profile.User{ID: "u1", Email: "ana@example.com", Name: "Ana"})
			require.NoError(t, err)
			assert.Equal(t, "Ana", u.Name)
			assert.True(t, u.CreatedAt.Equal(created), "createdAt survives upsert")

			_, err = users.Get(ctx, "u2")
			assert.ErrorIs(t, err, profile.ErrNotFound)
		})
	}
}

func TestStoreDedup(t *testing.T) {
	ctx := context.Background()
	for name, open := range drivers(t) {
		t.Run(name, func(t *testing.T) {
			st := open(t)
			until := time.Now().Add(time.Hour).Truncate(time.Millisecond)
			require.NoError(t, st.PutDedup(ctx, "k1", until))

			got, ok, err := st.GetDedup(ctx, "k1")
			require.NoError(t, err)
			require.True(t, ok)
			assert.True(t, got.Equal(until))

			_, ok, err = st.GetDedup(ctx, "k2")
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, st.AppendAudit(ctx, AuditEntry{Action: "sweep", OK: 2}))
		})
	}
}

func TestFileStoreReloadsSnapshot(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.json")

	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	require.NoError(t, err)
	_, err = st.Tasks().Create(ctx, sampleTask("a", "h1", task.StatusCompleted, time.UnixMilli(1_700_000_000_000)))
	require.NoError(t, err)
	_, err = st.Habits().Create(ctx, habit.Habit{ID: "x", HomeID: "h1", Title: "Stretch", CreatedBy: "u1"})
	require.NoError(t, err)
	_, err = st.Habits().AddCompletion(ctx, habit.Completion{ID: "c1", HabitID: "x", HomeID: "h1", CompletedBy: "u1", CompletedAt: time.UnixMilli(1_700_000_000_000)})
	require.NoError(t, err)
	require.NoError(t, st.AppendAudit(ctx, AuditEntry{Action: "task.completed", Target: "a", OK: 1}))
	require.NoError(t, st.Close())

	st, err = Open(Config{Driver: "file", Path: path}, logx.Nop())
	require.NoError(t, err)
	defer st.Close()

	got, err := st.Tasks().Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, task.StatusCompleted, got.Status)

	last, ok, err := st.Habits().LastCompletion(ctx, "x")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "c1", last.ID)

	b, err := os.ReadFile(filepath.Join(filepath.Dir(path), "state.audit.jsonl"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	require.Len(t, lines, 1)
	var e AuditEntry
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &e))
	assert.Equal(t, "task.completed", e.Action)
	assert.Equal(t, "a", e.Target)
}

// breakSnapshot makes the next snapshot rename fail by putting a directory
// where the snapshot file lives. The returned func restores it.
func breakSnapshot(t *testing.T, path string) func() {
	t.Helper()
	snap := strings.TrimSuffix(path, filepath.Ext(path)) + ".snapshot.json"
	require.NoError(t, os.Remove(snap))
	require.NoError(t, os.Mkdir(snap, 0o755))
	return func() { require.NoError(t, os.Remove(snap)) }
}

func TestFileStoreRollsBackOnSnapshotFailure(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.json")
	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	require.NoError(t, err)
	defer st.Close()

	_, err = st.Tasks().Create(ctx, sampleTask("a", "h1", task.StatusCompleted, time.UnixMilli(1_700_000_000_000)))
	require.NoError(t, err)
	_, err = st.Homes().Create(ctx, home.Home{ID: "h1", Name: "Flat", Members: []string{"u1"}})
	require.NoError(t, err)
	_, err = st.Habits().Create(ctx, habit.Habit{ID: "x", HomeID: "h1", Title: "Stretch", CreatedBy: "u1"})
	require.NoError(t, err)

	restore := breakSnapshot(t, path)

	_, err = st.Habits().AddCompletion(ctx, habit.Completion{ID: "c1", HabitID: "x", HomeID: "h1", CompletedBy: "u1", CompletedAt: time.Now()})
	assert.Error(t, err)
	cs, err := st.Habits().Completions(ctx, "x")
	require.NoError(t, err)
	assert.Empty(t, cs)

	assert.Error(t, st.Habits().Delete(ctx, "x"))
	_, err = st.Habits().Get(ctx, "x")
	assert.NoError(t, err)

	assert.Error(t, st.Tasks().UpdateStatus(ctx, "a", task.StatusPending))
	got, err := st.Tasks().Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, task.StatusCompleted, got.Status)

	_, err = st.Tasks().Create(ctx, sampleTask("b", "h1", task.StatusPending, time.UnixMilli(1_700_000_000_000)))
	assert.Error(t, err)
	_, err = st.Tasks().Get(ctx, "b")
	assert.ErrorIs(t, err, task.ErrNotFound)

	assert.Error(t, st.Tasks().Delete(ctx, "a"))
	_, err = st.Tasks().Get(ctx, "a")
	assert.NoError(t, err)

	_, err = st.Homes().AddMember(ctx, "h1", "u2")
	assert.Error(t, err)
	h, err := st.Homes().Get(ctx, "h1")
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, h.Members)

	_, err = st.Users().Upsert(ctx, profile.User{ID: "u1", Name: "Ana"})
	assert.Error(t, err)
	_, err = st.Users().Get(ctx, "u1")
	assert.ErrorIs(t, err, profile.ErrNotFound)

	assert.Error(t, st.PutDedup(ctx, "k", time.Now().Add(time.Hour)))
	_, ok, err := st.GetDedup(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	restore()
	require.NoError(t, st.Tasks().UpdateStatus(ctx, "a", task.StatusPending))
	got, err = st.Tasks().Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, task.StatusPending, got.Status)
}

func TestMemoryAuditIsCapped(t *testing.T) {
	st := NewMemory().(*memStore)
	for i := 0; i < maxMemoryAudit+5; i++ {
		require.NoError(t, st.AppendAudit(context.Background(), AuditEntry{Action: "x", OK: i}))
	}
	audit := st.st.auditCopy()
	require.Len(t, audit, maxMemoryAudit)
	assert.Equal(t, 5, audit[0].OK)
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(Config{Driver: "postgres"}, logx.Nop())
	assert.Error(t, err)
}
