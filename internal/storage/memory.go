package storage

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"homekeep/internal/habit"
	"homekeep/internal/home"
	"homekeep/internal/profile"
	"homekeep/internal/task"
)

const maxMemoryAudit = 1000

// memState is shared by the memory and file drivers. One RWMutex guards
// every map, which makes each single-record write atomic.
type memState struct {
	mu sync.RWMutex

	tasks  map[string]task.Task
	habits map[string]habit.Habit
	homes  map[string]home.Home
	users  map[string]profile.User
	dedup  map[string]time.Time
	audit  []AuditEntry

	// completions is keyed by habit id, in append order.
	completions map[string][]habit.Completion

	// onChange runs with mu held for writing after every mutation.
	onChange func() error
}

func newMemState() *memState {
	return &memState{
		tasks:       map[string]task.Task{},
		habits:      map[string]habit.Habit{},
		completions: map[string][]habit.Completion{},
		homes:       map[string]home.Home{},
		users:       map[string]profile.User{},
		dedup:       map[string]time.Time{},
	}
}

func (s *memState) changed() error {
	if s.onChange == nil {
		return nil
	}
	return s.onChange()
}

// commit persists the mutation just applied, running undo when that fails so
// memory never runs ahead of disk. Caller holds mu for writing.
func (s *memState) commit(undo func()) error {
	err := s.changed()
	if err != nil {
		undo()
	}
	return err
}

type memStore struct {
	st *memState
}

// NewMemory returns a process-local store.
func NewMemory() Store { return &memStore{st: newMemState()} }

func (m *memStore) Tasks() task.Store    { return memTasks{m.st} }
func (m *memStore) Habits() habit.Store  { return memHabits{m.st} }
func (m *memStore) Homes() home.Store    { return memHomes{m.st} }
func (m *memStore) Users() profile.Store { return memUsers{m.st} }
func (m *memStore) Close() error         { return nil }

func (m *memStore) AppendAudit(_ context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	m.st.audit = append(m.st.audit, e)
	if over := len(m.st.audit) - maxMemoryAudit; over > 0 {
		m.st.audit = append([]AuditEntry(nil), m.st.audit[over:]...)
	}
	return nil
}

func (s *memState) auditCopy() []AuditEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]AuditEntry(nil), s.audit...)
}

func (m *memStore) PutDedup(_ context.Context, key string, until time.Time) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	prev, had := m.st.dedup[key]
	m.st.dedup[key] = until
	pruneDedup(m.st.dedup, time.Now())
	return m.st.commit(func() {
		if had {
			m.st.dedup[key] = prev
		} else {
			delete(m.st.dedup, key)
		}
	})
}

func (m *memStore) GetDedup(_ context.Context, key string) (time.Time, bool, error) {
	m.st.mu.RLock()
	defer m.st.mu.RUnlock()
	until, ok := m.st.dedup[strings.TrimSpace(key)]
	return until, ok, nil
}

func pruneDedup(m map[string]time.Time, now time.Time) {
	for k, v := range m {
		if v.Before(now) {
			delete(m, k)
		}
	}
}

// ---- tasks ----

type memTasks struct{ st *memState }

func (r memTasks) Create(_ context.Context, t task.Task) (task.Task, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	if _, ok := r.st.tasks[t.ID]; ok {
		return task.Task{}, fmt.Errorf("task %s already exists", t.ID)
	}
	r.st.tasks[t.ID] = t.Clone()
	if err := r.st.commit(func() { delete(r.st.tasks, t.ID) }); err != nil {
		return task.Task{}, err
	}
	return t.Clone(), nil
}

func (r memTasks) Get(_ context.Context, id string) (task.Task, error) {
	r.st.mu.RLock()
	defer r.st.mu.RUnlock()
	t, ok := r.st.tasks[id]
	if !ok {
		return task.Task{}, task.ErrNotFound
	}
	return t.Clone(), nil
}

func (r memTasks) Update(_ context.Context, id string, p task.Patch) (task.Task, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	t, ok := r.st.tasks[id]
	if !ok {
		return task.Task{}, task.ErrNotFound
	}
	prev := t
	t = t.Clone()
	p.Apply(&t)
	r.st.tasks[id] = t
	if err := r.st.commit(func() { r.st.tasks[id] = prev }); err != nil {
		return task.Task{}, err
	}
	return t.Clone(), nil
}

func (r memTasks) Delete(_ context.Context, id string) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	prev, ok := r.st.tasks[id]
	if !ok {
		return task.ErrNotFound
	}
	delete(r.st.tasks, id)
	return r.st.commit(func() { r.st.tasks[id] = prev })
}

func (r memTasks) ListByHomes(_ context.Context, homeIDs []string) ([]task.Task, error) {
	return r.filter(homeIDs, func(task.Task) bool { return true }), nil
}

func (r memTasks) QueryByHomesAndStatus(_ context.Context, homeIDs []string, status task.Status) ([]task.Task, error) {
	return r.filter(homeIDs, func(t task.Task) bool { return t.Status == status }), nil
}

func (r memTasks) filter(homeIDs []string, keep func(task.Task) bool) []task.Task {
	r.st.mu.RLock()
	defer r.st.mu.RUnlock()
	out := make([]task.Task, 0)
	for _, t := range r.st.tasks {
		if slices.Contains(homeIDs, t.HomeID) && keep(t) {
			out = append(out, t.Clone())
		}
	}
	sortNewestFirst(out)
	return out
}

func sortNewestFirst(ts []task.Task) {
	sort.Slice(ts, func(i, j int) bool {
		if !ts[i].CreatedAt.Equal(ts[j].CreatedAt) {
			return ts[i].CreatedAt.After(ts[j].CreatedAt)
		}
		return ts[i].ID < ts[j].ID
	})
}

func (r memTasks) UpdateStatus(ctx context.Context, id string, status task.Status) error {
	_, err := r.Update(ctx, id, task.Patch{Status: &status})
	return err
}

func (r memTasks) UpdateDueDate(ctx context.Context, id string, due time.Time) error {
	_, err := r.Update(ctx, id, task.Patch{DueDate: &due})
	return err
}

// ---- habits ----

type memHabits struct{ st *memState }

func (r memHabits) Create(_ context.Context, h habit.Habit) (habit.Habit, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	if _, ok := r.st.habits[h.ID]; ok {
		return habit.Habit{}, fmt.Errorf("habit %s already exists", h.ID)
	}
	r.st.habits[h.ID] = h
	if err := r.st.commit(func() { delete(r.st.habits, h.ID) }); err != nil {
		return habit.Habit{}, err
	}
	return h, nil
}

func (r memHabits) Get(_ context.Context, id string) (habit.Habit, error) {
	r.st.mu.RLock()
	defer r.st.mu.RUnlock()
	h, ok := r.st.habits[id]
	if !ok {
		return habit.Habit{}, habit.ErrNotFound
	}
	return h, nil
}

func (r memHabits) Update(_ context.Context, id string, p habit.Patch) (habit.Habit, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	prev, ok := r.st.habits[id]
	if !ok {
		return habit.Habit{}, habit.ErrNotFound
	}
	h := prev
	p.Apply(&h)
	r.st.habits[id] = h
	if err := r.st.commit(func() { r.st.habits[id] = prev }); err != nil {
		return habit.Habit{}, err
	}
	return h, nil
}

func (r memHabits) Delete(_ context.Context, id string) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	prev, ok := r.st.habits[id]
	if !ok {
		return habit.ErrNotFound
	}
	prevCompletions, hadCompletions := r.st.completions[id]
	delete(r.st.habits, id)
	delete(r.st.completions, id)
	return r.st.commit(func() {
		r.st.habits[id] = prev
		if hadCompletions {
			r.st.completions[id] = prevCompletions
		}
	})
}

func (r memHabits) ListByHomes(_ context.Context, homeIDs []string) ([]habit.Habit, error) {
	r.st.mu.RLock()
	defer r.st.mu.RUnlock()
	out := make([]habit.Habit, 0)
	for _, h := range r.st.habits {
		if slices.Contains(homeIDs, h.HomeID) {
			out = append(out, h)
		}
	}
	sortHabitsNewestFirst(out)
	return out, nil
}

func sortHabitsNewestFirst(hs []habit.Habit) {
	sort.Slice(hs, func(i, j int) bool {
		if !hs[i].CreatedAt.Equal(hs[j].CreatedAt) {
			return hs[i].CreatedAt.After(hs[j].CreatedAt)
		}
		return hs[i].ID < hs[j].ID
	})
}

func (r memHabits) AddCompletion(_ context.Context, c habit.Completion) (habit.Completion, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	if _, ok := r.st.habits[c.HabitID]; !ok {
		return habit.Completion{}, habit.ErrNotFound
	}
	prev := r.st.completions[c.HabitID]
	r.st.completions[c.HabitID] = append(slices.Clip(prev), c)
	undo := func() {
		if len(prev) == 0 {
			delete(r.st.completions, c.HabitID)
		} else {
			r.st.completions[c.HabitID] = prev
		}
	}
	if err := r.st.commit(undo); err != nil {
		return habit.Completion{}, err
	}
	return c, nil
}

func (r memHabits) Completions(_ context.Context, habitID string) ([]habit.Completion, error) {
	r.st.mu.RLock()
	out := append([]habit.Completion{}, r.st.completions[habitID]...)
	r.st.mu.RUnlock()
	habit.SortCompletions(out)
	return out, nil
}

func (r memHabits) LastCompletion(ctx context.Context, habitID string) (habit.Completion, bool, error) {
	cs, _ := r.Completions(ctx, habitID)
	if len(cs) == 0 {
		return habit.Completion{}, false, nil
	}
	return cs[0], true, nil
}

// ---- homes ----

type memHomes struct{ st *memState }

func (r memHomes) Create(_ context.Context, h home.Home) (home.Home, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	if _, ok := r.st.homes[h.ID]; ok {
		return home.Home{}, fmt.Errorf("home %s already exists", h.ID)
	}
	r.st.homes[h.ID] = h.Clone()
	if err := r.st.commit(func() { delete(r.st.homes, h.ID) }); err != nil {
		return home.Home{}, err
	}
	return h.Clone(), nil
}

func (r memHomes) Get(_ context.Context, id string) (home.Home, error) {
	r.st.mu.RLock()
	defer r.st.mu.RUnlock()
	h, ok := r.st.homes[id]
	if !ok {
		return home.Home{}, home.ErrNotFound
	}
	return h.Clone(), nil
}

func (r memHomes) AddMember(_ context.Context, homeID, userID string) (home.Home, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	h, ok := r.st.homes[homeID]
	if !ok {
		return home.Home{}, home.ErrNotFound
	}
	if h.HasMember(userID) {
		return h.Clone(), nil
	}
	prev := h
	h = h.Clone()
	h.Members = append(h.Members, userID)
	r.st.homes[homeID] = h
	if err := r.st.commit(func() { r.st.homes[homeID] = prev }); err != nil {
		return home.Home{}, err
	}
	return h.Clone(), nil
}

func (r memHomes) ListByMember(_ context.Context, userID string) ([]home.Home, error) {
	r.st.mu.RLock()
	defer r.st.mu.RUnlock()
	out := make([]home.Home, 0)
	for _, h := range r.st.homes {
		if h.HasMember(userID) {
			out = append(out, h.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r memHomes) ListIDs(_ context.Context) ([]string, error) {
	r.st.mu.RLock()
	defer r.st.mu.RUnlock()
	ids := make([]string, 0, len(r.st.homes))
	for id := range r.st.homes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// ---- users ----

type memUsers struct{ st *memState }

func (r memUsers) Upsert(_ context.Context, u profile.User) (profile.User, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	now := time.Now()
	if prev, ok := r.st.users[u.ID]; ok && u.CreatedAt.IsZero() {
		u.CreatedAt = prev.CreatedAt
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	if u.LastLoginAt.IsZero() {
		u.LastLoginAt = now
	}
	prev, had := r.st.users[u.ID]
	r.st.users[u.ID] = u
	undo := func() {
		if had {
			r.st.users[u.ID] = prev
		} else {
			delete(r.st.users, u.ID)
		}
	}
	if err := r.st.commit(undo); err != nil {
		return profile.User{}, err
	}
	return u, nil
}

func (r memUsers) Get(_ context.Context, id string) (profile.User, error) {
	r.st.mu.RLock()
	defer r.st.mu.RUnlock()
	u, ok := r.st.users[id]
	if !ok {
		return profile.User{}, profile.ErrNotFound
	}
	return u, nil
}
