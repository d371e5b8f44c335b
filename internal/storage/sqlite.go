package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"homekeep/internal/habit"
	"homekeep/internal/home"
	"homekeep/internal/profile"
	"homekeep/internal/task"
	logx "homekeep/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger

	opCount    atomic.Uint64
	pruneEvery uint64
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One connection: SQLite serializes writers anyway, and every query below
	// finishes reading its rows before issuing the next one.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = time.Second
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")
	_, _ = db.Exec("PRAGMA foreign_keys = ON")

	st := &sqliteStore{db: db, log: log, pruneEvery: 500}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Debug("sqlite store opened", logx.String("path", path), logx.Duration("busy_timeout", busy))
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) Tasks() task.Store    { return sqliteTasks{s.db} }
func (s *sqliteStore) Habits() habit.Store  { return sqliteHabits{s.db} }
func (s *sqliteStore) Homes() home.Store    { return sqliteHomes{s.db} }
func (s *sqliteStore) Users() profile.Store { return sqliteUsers{s.db} }

func (s *sqliteStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit(at, actor, action, home_id, target, ok, fail, err, took_ms, meta)
		 VALUES(?,?,?,?,?,?,?,?,?,?)`,
		e.At.Format(time.RFC3339Nano), nullStr(e.Actor), e.Action, nullStr(e.HomeID), nullStr(e.Target),
		e.OK, e.Fail, nullStr(e.Error), e.TookMS, nullStr(e.MetaJSON),
	)
	return err
}

func (s *sqliteStore) PutDedup(ctx context.Context, key string, until time.Time) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO dedup(key, until) VALUES(?,?)
		 ON CONFLICT(key) DO UPDATE SET until=excluded.until`,
		key, until.UnixMilli(),
	)
	if err == nil && s.opCount.Add(1)%s.pruneEvery == 0 {
		pctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		_, _ = s.db.ExecContext(pctx, `DELETE FROM dedup WHERE until < ?`, time.Now().UnixMilli())
		cancel()
	}
	return err
}

func (s *sqliteStore) GetDedup(ctx context.Context, key string) (time.Time, bool, error) {
	if s == nil || s.db == nil {
		return time.Time{}, false, ErrDisabled
	}
	var ms int64
	err := s.db.QueryRowContext(ctx, `SELECT until FROM dedup WHERE key = ?`, strings.TrimSpace(key)).Scan(&ms)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return time.UnixMilli(ms), true, nil
}

// ---- tasks ----

type sqliteTasks struct{ db *sql.DB }

const taskColumns = `id, home_id, title, description, room_id, group_id, assigned_to, created_by,
	status, due_date, recurrence_days, created_at, completed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(r rowScanner) (task.Task, error) {
	var (
		t                           task.Task
		desc, room, group, assigned sql.NullString
		status                      string
		due, recur, completedAt     sql.NullInt64
		createdAt                   int64
	)
	err := r.Scan(&t.ID, &t.HomeID, &t.Title, &desc, &room, &group, &assigned, &t.CreatedBy,
		&status, &due, &recur, &createdAt, &completedAt)
	if err != nil {
		return task.Task{}, err
	}
	t.Description = desc.String
	t.RoomID = room.String
	t.GroupID = group.String
	t.AssignedTo = assigned.String
	t.Status = task.Status(status)
	t.DueDate = fromMillis(due)
	if recur.Valid {
		n := int(recur.Int64)
		t.RecurrenceDays = &n
	}
	t.CreatedAt = time.UnixMilli(createdAt)
	t.CompletedAt = fromMillis(completedAt)
	return t, nil
}

func (r sqliteTasks) Create(ctx context.Context, t task.Task) (task.Task, error) {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO tasks(`+taskColumns+`) VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.HomeID, t.Title, nullStr(t.Description), nullStr(t.RoomID), nullStr(t.GroupID),
		nullStr(t.AssignedTo), t.CreatedBy, string(t.Status), toMillis(t.DueDate), nullInt(t.RecurrenceDays),
		t.CreatedAt.UnixMilli(), toMillis(t.CompletedAt),
	)
	if err != nil {
		return task.Task{}, err
	}
	return r.Get(ctx, t.ID)
}

func (r sqliteTasks) Get(ctx context.Context, id string) (task.Task, error) {
	t, err := scanTask(r.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return task.Task{}, task.ErrNotFound
	}
	return t, err
}

// Update reads, patches and writes the row inside one transaction.
func (r sqliteTasks) Update(ctx context.Context, id string, p task.Patch) (task.Task, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return task.Task{}, err
	}
	defer func() { _ = tx.Rollback() }()

	t, err := scanTask(tx.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return task.Task{}, task.ErrNotFound
	}
	if err != nil {
		return task.Task{}, err
	}
	p.Apply(&t)
	_, err = tx.ExecContext(ctx,
		`UPDATE tasks SET title=?, description=?, room_id=?, group_id=?, assigned_to=?, status=?,
		 due_date=?, recurrence_days=?, completed_at=? WHERE id=?`,
		t.Title, nullStr(t.Description), nullStr(t.RoomID), nullStr(t.GroupID), nullStr(t.AssignedTo),
		string(t.Status), toMillis(t.DueDate), nullInt(t.RecurrenceDays), toMillis(t.CompletedAt), id,
	)
	if err != nil {
		return task.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return task.Task{}, err
	}
	return t, nil
}

func (r sqliteTasks) Delete(ctx context.Context, id string) error {
	return execOne(ctx, r.db, task.ErrNotFound, `DELETE FROM tasks WHERE id = ?`, id)
}

func (r sqliteTasks) ListByHomes(ctx context.Context, homeIDs []string) ([]task.Task, error) {
	if len(homeIDs) == 0 {
		return []task.Task{}, nil
	}
	q := `SELECT ` + taskColumns + ` FROM tasks WHERE home_id IN (` + placeholders(len(homeIDs)) + `)
		ORDER BY created_at DESC, id ASC`
	return r.query(ctx, q, stringArgs(homeIDs)...)
}

func (r sqliteTasks) QueryByHomesAndStatus(ctx context.Context, homeIDs []string, status task.Status) ([]task.Task, error) {
	if len(homeIDs) == 0 {
		return []task.Task{}, nil
	}
	q := `SELECT ` + taskColumns + ` FROM tasks WHERE home_id IN (` + placeholders(len(homeIDs)) + `)
		AND status = ? ORDER BY created_at DESC, id ASC`
	args := append(stringArgs(homeIDs), string(status))
	return r.query(ctx, q, args...)
}

func (r sqliteTasks) query(ctx context.Context, q string, args ...any) ([]task.Task, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]task.Task, 0)
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r sqliteTasks) UpdateStatus(ctx context.Context, id string, status task.Status) error {
	return execOne(ctx, r.db, task.ErrNotFound, `UPDATE tasks SET status = ? WHERE id = ?`, string(status), id)
}

func (r sqliteTasks) UpdateDueDate(ctx context.Context, id string, due time.Time) error {
	return execOne(ctx, r.db, task.ErrNotFound, `UPDATE tasks SET due_date = ? WHERE id = ?`, due.UnixMilli(), id)
}

// ---- habits ----

type sqliteHabits struct{ db *sql.DB }

const habitColumns = `id, home_id, title, description, room_id, group_id, created_by, created_at`

func scanHabit(r rowScanner) (habit.Habit, error) {
	var (
		h                 habit.Habit
		desc, room, group sql.NullString
		createdAt         int64
	)
	if err := r.Scan(&h.ID, &h.HomeID, &h.Title, &desc, &room, &group, &h.CreatedBy, &createdAt); err != nil {
		return habit.Habit{}, err
	}
	h.Description = desc.String
	h.RoomID = room.String
	h.GroupID = group.String
	h.CreatedAt = time.UnixMilli(createdAt)
	return h, nil
}

func (r sqliteHabits) Create(ctx context.Context, h habit.Habit) (habit.Habit, error) {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO habits(`+habitColumns+`) VALUES(?,?,?,?,?,?,?,?)`,
		h.ID, h.HomeID, h.Title, nullStr(h.Description), nullStr(h.RoomID), nullStr(h.GroupID),
		h.CreatedBy, h.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return habit.Habit{}, err
	}
	return r.Get(ctx, h.ID)
}

func (r sqliteHabits) Get(ctx context.Context, id string) (habit.Habit, error) {
	h, err := scanHabit(r.db.QueryRowContext(ctx, `SELECT `+habitColumns+` FROM habits WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return habit.Habit{}, habit.ErrNotFound
	}
	return h, err
}

func (r sqliteHabits) Update(ctx context.Context, id string, p habit.Patch) (habit.Habit, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return habit.Habit{}, err
	}
	defer func() { _ = tx.Rollback() }()

	h, err := scanHabit(tx.QueryRowContext(ctx, `SELECT `+habitColumns+` FROM habits WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return habit.Habit{}, habit.ErrNotFound
	}
	if err != nil {
		return habit.Habit{}, err
	}
	p.Apply(&h)
	_, err = tx.ExecContext(ctx,
		`UPDATE habits SET title=?, description=?, room_id=?, group_id=? WHERE id=?`,
		h.Title, nullStr(h.Description), nullStr(h.RoomID), nullStr(h.GroupID), id,
	)
	if err != nil {
		return habit.Habit{}, err
	}
	if err := tx.Commit(); err != nil {
		return habit.Habit{}, err
	}
	return h, nil
}

// Delete removes the habit and its completions in one transaction.
func (r sqliteHabits) Delete(ctx context.Context, id string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM habit_completions WHERE habit_id = ?`, id); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM habits WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return habit.ErrNotFound
	}
	return tx.Commit()
}

func (r sqliteHabits) ListByHomes(ctx context.Context, homeIDs []string) ([]habit.Habit, error) {
	if len(homeIDs) == 0 {
		return []habit.Habit{}, nil
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+habitColumns+` FROM habits WHERE home_id IN (`+placeholders(len(homeIDs))+`)
		 ORDER BY created_at DESC, id ASC`, stringArgs(homeIDs)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]habit.Habit, 0)
	for rows.Next() {
		h, err := scanHabit(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func (r sqliteHabits) AddCompletion(ctx context.Context, c habit.Completion) (habit.Completion, error) {
	// INSERT ... SELECT writes nothing when the habit is gone.
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO habit_completions(id, habit_id, home_id, completed_by, completed_at)
		 SELECT ?, id, ?, ?, ? FROM habits WHERE id = ?`,
		c.ID, c.HomeID, c.CompletedBy, c.CompletedAt.UnixMilli(), c.HabitID,
	)
	if err != nil {
		return habit.Completion{}, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return habit.Completion{}, err
	}
	if n == 0 {
		return habit.Completion{}, habit.ErrNotFound
	}
	c.CompletedAt = time.UnixMilli(c.CompletedAt.UnixMilli())
	return c, nil
}

const completionColumns = `id, habit_id, home_id, completed_by, completed_at`

func scanCompletion(r rowScanner) (habit.Completion, error) {
	var (
		c  habit.Completion
		at int64
	)
	if err := r.Scan(&c.ID, &c.HabitID, &c.HomeID, &c.CompletedBy, &at); err != nil {
		return habit.Completion{}, err
	}
	c.CompletedAt = time.UnixMilli(at)
	return c, nil
}

func (r sqliteHabits) Completions(ctx context.Context, habitID string) ([]habit.Completion, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+completionColumns+` FROM habit_completions WHERE habit_id = ?
		 ORDER BY completed_at DESC, id ASC`, habitID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]habit.Completion, 0)
	for rows.Next() {
		c, err := scanCompletion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r sqliteHabits) LastCompletion(ctx context.Context, habitID string) (habit.Completion, bool, error) {
	c, err := scanCompletion(r.db.QueryRowContext(ctx,
		`SELECT `+completionColumns+` FROM habit_completions WHERE habit_id = ?
		 ORDER BY completed_at DESC, id ASC LIMIT 1`, habitID))
	if errors.Is(err, sql.ErrNoRows) {
		return habit.Completion{}, false, nil
	}
	if err != nil {
		return habit.Completion{}, false, err
	}
	return c, true, nil
}

// ---- homes ----

type sqliteHomes struct{ db *sql.DB }

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func loadHome(ctx context.Context, q querier, id string) (home.Home, error) {
	var (
		h         home.Home
		createdAt int64
	)
	err := q.QueryRowContext(ctx, `SELECT id, name, created_by, created_at FROM homes WHERE id = ?`, id).
		Scan(&h.ID, &h.Name, &h.CreatedBy, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return home.Home{}, home.ErrNotFound
	}
	if err != nil {
		return home.Home{}, err
	}
	h.CreatedAt = time.UnixMilli(createdAt)

	rows, err := q.QueryContext(ctx, `SELECT user_id FROM home_members WHERE home_id = ? ORDER BY position`, id)
	if err != nil {
		return home.Home{}, err
	}
	defer rows.Close()
	h.Members = []string{}
	for rows.Next() {
		var uid string
		if err := rows.Scan(&uid); err != nil {
			return home.Home{}, err
		}
		h.Members = append(h.Members, uid)
	}
	return h, rows.Err()
}

func (r sqliteHomes) Create(ctx context.Context, h home.Home) (home.Home, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return home.Home{}, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `INSERT INTO homes(id, name, created_by, created_at) VALUES(?,?,?,?)`,
		h.ID, h.Name, h.CreatedBy, h.CreatedAt.UnixMilli()); err != nil {
		return home.Home{}, err
	}
	for i, uid := range h.Members {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO home_members(home_id, user_id, position) VALUES(?,?,?)`, h.ID, uid, i); err != nil {
			return home.Home{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return home.Home{}, err
	}
	return r.Get(ctx, h.ID)
}

func (r sqliteHomes) Get(ctx context.Context, id string) (home.Home, error) {
	return loadHome(ctx, r.db, id)
}

func (r sqliteHomes) AddMember(ctx context.Context, homeID, userID string) (home.Home, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return home.Home{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM homes WHERE id = ?`, homeID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return home.Home{}, home.ErrNotFound
	}
	if err != nil {
		return home.Home{}, err
	}
	_, err = tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO home_members(home_id, user_id, position)
		 VALUES(?, ?, (SELECT COALESCE(MAX(position), -1) + 1 FROM home_members WHERE home_id = ?))`,
		homeID, userID, homeID)
	if err != nil {
		return home.Home{}, err
	}
	h, err := loadHome(ctx, tx, homeID)
	if err != nil {
		return home.Home{}, err
	}
	return h, tx.Commit()
}

func (r sqliteHomes) ListByMember(ctx context.Context, userID string) ([]home.Home, error) {
	ids, err := collectStrings(ctx, r.db,
		`SELECT home_id FROM home_members WHERE user_id = ? ORDER BY home_id`, userID)
	if err != nil {
		return nil, err
	}
	out := make([]home.Home, 0, len(ids))
	for _, id := range ids {
		h, err := loadHome(ctx, r.db, id)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, nil
}

func (r sqliteHomes) ListIDs(ctx context.Context) ([]string, error) {
	return collectStrings(ctx, r.db, `SELECT id FROM homes ORDER BY id`)
}

// ---- users ----

type sqliteUsers struct{ db *sql.DB }

func (r sqliteUsers) Upsert(ctx context.Context, u profile.User) (profile.User, error) {
	now := time.Now()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	if u.LastLoginAt.IsZero() {
		u.LastLoginAt = now
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users(id, email, name, photo_url, created_at, last_login_at) VALUES(?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET email=excluded.email, name=excluded.name,
		 photo_url=excluded.photo_url, last_login_at=excluded.last_login_at`,
		u.ID, u.Email, nullStr(u.Name), nullStr(u.PhotoURL), u.CreatedAt.UnixMilli(), u.LastLoginAt.UnixMilli(),
	)
	if err != nil {
		return profile.User{}, err
	}
	return r.Get(ctx, u.ID)
}

func (r sqliteUsers) Get(ctx context.Context, id string) (profile.User, error) {
	var (
		u                    profile.User
		name, photo          sql.NullString
		createdAt, lastLogin int64
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT id, email, name, photo_url, created_at, last_login_at FROM users WHERE id = ?`, id).
		Scan(&u.ID, &u.Email, &name, &photo, &createdAt, &lastLogin)
	if errors.Is(err, sql.ErrNoRows) {
		return profile.User{}, profile.ErrNotFound
	}
	if err != nil {
		return profile.User{}, err
	}
	u.Name = name.String
	u.PhotoURL = photo.String
	u.CreatedAt = time.UnixMilli(createdAt)
	u.LastLoginAt = time.UnixMilli(lastLogin)
	return u, nil
}

// ---- helpers ----

func execOne(ctx context.Context, db *sql.DB, notFound error, q string, args ...any) error {
	res, err := db.ExecContext(ctx, q, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}

func collectStrings(ctx context.Context, db *sql.DB, q string, args ...any) ([]string, error) {
	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]string, 0)
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func stringArgs(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

func toMillis(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

func fromMillis(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64)
	return &t
}

func nullInt(n *int) any {
	if n == nil {
		return nil
	}
	return *n
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
