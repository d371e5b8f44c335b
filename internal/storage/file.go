package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"homekeep/internal/habit"
	"homekeep/internal/home"
	"homekeep/internal/profile"
	"homekeep/internal/task"
	logx "homekeep/pkg/logx"
)

const snapshotVersion = 1

// fileStore is the memory driver made durable.
//
// Files:
//   - <prefix>.snapshot.json (full state, rewritten atomically on every change)
//   - <prefix>.audit.jsonl   (append-only JSON Lines)
type fileStore struct {
	*memStore
	log logx.Logger

	snapshotPath string

	auditMu   sync.Mutex
	auditFile *os.File
}

type snapshot struct {
	Version int                  `json:"version"`
	SavedAt time.Time            `json:"savedAt"`
	Tasks   []task.Task          `json:"tasks"`
	Habits  []habit.Habit        `json:"habits,omitempty"`
	Homes   []home.Home          `json:"homes"`
	Users   []profile.User       `json:"users"`
	Dedup   map[string]time.Time `json:"dedup,omitempty"`

	// Completions holds habit history in append order.
	Completions []habit.Completion `json:"habitCompletions,omitempty"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	st := newMemState()
	snapPath := prefix + ".snapshot.json"
	if err := loadSnapshot(snapPath, st); err != nil {
		return nil, fmt.Errorf("load snapshot %s: %w", snapPath, err)
	}

	af, err := os.OpenFile(prefix+".audit.jsonl", os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}

	fs := &fileStore{
		memStore:     &memStore{st: st},
		log:          log,
		snapshotPath: snapPath,
		auditFile:    af,
	}
	st.onChange = fs.saveLocked
	log.Debug("file store opened",
		logx.String("snapshot", snapPath),
		logx.Int("tasks", len(st.tasks)),
		logx.Int("homes", len(st.homes)),
	)
	return fs, nil
}

func loadSnapshot(path string, st *memState) error {
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	var snap snapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		return err
	}
	if snap.Version > snapshotVersion {
		return fmt.Errorf("unsupported snapshot version %d", snap.Version)
	}
	for _, t := range snap.Tasks {
		st.tasks[t.ID] = t
	}
	for _, h := range snap.Habits {
		st.habits[h.ID] = h
	}
	for _, c := range snap.Completions {
		st.completions[c.HabitID] = append(st.completions[c.HabitID], c)
	}
	for _, h := range snap.Homes {
		st.homes[h.ID] = h
	}
	for _, u := range snap.Users {
		st.users[u.ID] = u
	}
	for k, v := range snap.Dedup {
		st.dedup[k] = v
	}
	pruneDedup(st.dedup, time.Now())
	return nil
}

// saveLocked writes the snapshot via tmp+rename. Caller holds st.mu.
func (s *fileStore) saveLocked() error {
	st := s.st
	snap := snapshot{
		Version: snapshotVersion,
		SavedAt: time.Now(),
		Tasks:   make([]task.Task, 0, len(st.tasks)),
		Homes:   make([]home.Home, 0, len(st.homes)),
		Users:   make([]profile.User, 0, len(st.users)),
		Dedup:   st.dedup,
	}
	for _, t := range st.tasks {
		snap.Tasks = append(snap.Tasks, t)
	}
	sortNewestFirst(snap.Tasks)
	for _, h := range st.habits {
		snap.Habits = append(snap.Habits, h)
	}
	sortHabitsNewestFirst(snap.Habits)
	completionIDs := make([]string, 0, len(st.completions))
	for id := range st.completions {
		completionIDs = append(completionIDs, id)
	}
	slices.Sort(completionIDs)
	for _, id := range completionIDs {
		snap.Completions = append(snap.Completions, st.completions[id]...)
	}
	for _, h := range st.homes {
		snap.Homes = append(snap.Homes, h)
	}
	for _, u := range st.users {
		snap.Users = append(snap.Users, u)
	}

	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(snap); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		s.log.Warn("snapshot rename failed", logx.String("path", s.snapshotPath), logx.Err(err))
		return err
	}
	return nil
}

func (s *fileStore) AppendAudit(_ context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	s.auditMu.Lock()
	defer s.auditMu.Unlock()
	if s.auditFile == nil {
		return errors.New("audit file closed")
	}
	return json.NewEncoder(s.auditFile).Encode(e)
}

func (s *fileStore) Close() error {
	s.auditMu.Lock()
	defer s.auditMu.Unlock()
	if s.auditFile == nil {
		return nil
	}
	err := s.auditFile.Close()
	s.auditFile = nil
	return err
}
