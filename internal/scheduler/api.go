package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	logx "homekeep/pkg/logx"
)

// AddSchedule parses schedule and registers a cron or interval job.
// Registering an existing name replaces it.
func (s *Service) AddSchedule(name, schedule string, timeout time.Duration, job Job) (string, error) {
	ps, err := ParseSchedule(schedule)
	if err != nil {
		return "", err
	}
	switch ps.Kind {
	case SpecCron:
		return s.AddCron(name, ps.Cron, timeout, job)
	case SpecInterval:
		return s.AddInterval(name, ps.Every, timeout, job)
	default:
		return "", fmt.Errorf("unsupported schedule kind")
	}
}

func (s *Service) AddCron(name, spec string, timeout time.Duration, job Job) (string, error) {
	if _, err := s.parser.Parse(spec); err != nil {
		return "", fmt.Errorf("invalid cron %q: %w", spec, err)
	}
	return s.add(name, spec, timeout, job)
}

func (s *Service) AddInterval(name string, every time.Duration, timeout time.Duration, job Job) (string, error) {
	if every <= 0 {
		return "", errors.New("interval must be > 0")
	}
	return s.add(name, "@every "+every.String(), timeout, job)
}

// AddDaily runs job every day at HH:MM in the scheduler timezone.
func (s *Service) AddDaily(name, atHHMM string, timeout time.Duration, job Job) (string, error) {
	h, m, err := parseHHMM(atHHMM)
	if err != nil {
		return "", err
	}
	return s.AddCron(name, fmt.Sprintf("%d %d * * *", m, h), timeout, job)
}

func (s *Service) add(name, spec string, timeout time.Duration, job Job) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("name required")
	}
	if job == nil {
		return "", errors.New("job required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	// Upsert by name so hot reloads never duplicate a job.
	s.removeLocked(name)
	d := &jobDef{
		id:      fmt.Sprintf("%s:%d", name, time.Now().UnixNano()),
		name:    name,
		spec:    spec,
		timeout: s.resolveTimeoutLocked(timeout),
		run:     job,
	}
	s.defs = append(s.defs, d)
	if s.c != nil {
		s.armLocked(d)
		fields := []logx.Field{logx.String("name", name), logx.String("spec", spec), logx.Duration("timeout", d.timeout)}
		if next := s.previewNextRunsLocked(spec, 3); next != "" {
			fields = append(fields, logx.String("next", next))
		}
		s.log.Debug("schedule registered", fields...)
	}
	return name, nil
}

// Remove unregisters name. It reports whether anything was removed.
func (s *Service) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := s.removeLocked(strings.TrimSpace(name))
	if removed {
		s.log.Debug("schedule removed", logx.String("name", name))
	}
	return removed
}

func (s *Service) removeLocked(name string) bool {
	n := 0
	removed := false
	for _, d := range s.defs {
		if d.name == name {
			if s.c != nil && d.entryID != 0 {
				s.c.Remove(d.entryID)
			}
			removed = true
			continue
		}
		s.defs[n] = d
		n++
	}
	for i := n; i < len(s.defs); i++ {
		s.defs[i] = nil
	}
	s.defs = s.defs[:n]
	return removed
}

// RunNow runs the named job synchronously, outside its schedule. It shares
// the overlap guard with scheduled runs and returns ErrOverlapSkip when a
// run is already in progress.
func (s *Service) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	var d *jobDef
	for _, cur := range s.defs {
		if cur.name == name {
			d = cur
			break
		}
	}
	s.mu.Unlock()
	if d == nil {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	return s.execute(ctx, d, "manual")
}

func (s *Service) armLocked(d *jobDef) {
	runCtx := s.runCtx
	if runCtx == nil {
		runCtx = context.Background()
	}
	job := cron.FuncJob(func() {
		err := s.execute(runCtx, d, "cron")
		if errors.Is(err, ErrOverlapSkip) {
			s.log.Debug("schedule trigger skipped", logx.String("schedule", d.name), logx.Err(err))
		}
	})
	eid, err := s.c.AddJob(d.spec, job)
	if err != nil {
		s.log.Error("schedule register failed", logx.String("name", d.name), logx.String("spec", d.spec), logx.Err(err))
		return
	}
	d.entryID = eid
}

// execute runs d once with its timeout. It must not take s.mu: Stop and
// restart wait for running jobs while holding it.
func (s *Service) execute(ctx context.Context, d *jobDef, trigger string) (err error) {
	if !d.running.CompareAndSwap(false, true) {
		d.skipped.Add(1)
		return ErrOverlapSkip
	}
	defer d.running.Store(false)
	d.runs.Add(1)

	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			s.log.Error("panic in scheduled job", logx.String("schedule", d.name), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
		item := HistoryItem{Name: d.name, Started: start, Duration: time.Since(start), Trigger: trigger}
		if err != nil {
			item.Error = err.Error()
			s.log.Warn("scheduled job failed", logx.String("schedule", d.name), logx.String("trigger", trigger), logx.Err(err))
		}
		s.record(item)
	}()
	return d.run(ctx)
}

func (s *Service) record(it HistoryItem) {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	s.history = append(s.history, it)
	if over := len(s.history) - s.histCap; over > 0 {
		s.history = append([]HistoryItem(nil), s.history[over:]...)
	}
}

// previewNextRunsLocked lists upcoming run times for debug logs.
func (s *Service) previewNextRunsLocked(spec string, n int) string {
	if !s.log.Enabled(logx.LevelDebug) || n <= 0 {
		return ""
	}
	sched, err := s.parser.Parse(spec)
	if err != nil {
		return ""
	}
	loc := s.loc
	if loc == nil {
		loc = time.Local
	}
	t := time.Now().In(loc)
	var b strings.Builder
	for i := 0; i < n; i++ {
		t = sched.Next(t)
		if t.IsZero() {
			break
		}
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(t.Format("2006-01-02 15:04:05"))
	}
	return b.String()
}
