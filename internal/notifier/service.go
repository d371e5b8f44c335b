package notifier

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"homekeep/internal/eventbus"
	rtsup "homekeep/internal/runtime/supervisor"
	"homekeep/internal/task"
	logx "homekeep/pkg/logx"
)

const (
	maxHistory         = 100
	minSubscribeBuffer = 64
)

// Service is the queue + worker pipeline. It is safe for concurrent use.
type Service struct {
	mu sync.Mutex

	log    logx.Logger
	sender Sender
	names  NameResolver
	dedup  DedupStore
	bus    eventbus.Bus

	cfg     Config
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker

	accepting bool
	queue     chan Notice
	sup       *rtsup.Supervisor
	unsub     func()
	enqWG     sync.WaitGroup

	// dmu serializes check-then-set so two reactivations of one occurrence
	// racing through Notify produce one notice.
	dmu        sync.Mutex
	localDedup map[string]time.Time

	sent, failed, deduped atomic.Uint64

	hmu     sync.Mutex
	history []HistoryItem
}

// New builds the pipeline. sender may be nil, which keeps it disabled.
func New(cfg Config, sender Sender, names NameResolver, dedup DedupStore, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		log:        log,
		sender:     sender,
		names:      names,
		dedup:      dedup,
		bus:        bus,
		localDedup: map[string]time.Time{},
	}
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
	return s
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled && s.sender != nil
}

// Apply swaps config. Worker and queue sizes take effect on the next Start.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 1
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	if cfg.DedupWindow <= 0 {
		cfg.DedupWindow = 48 * time.Hour
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 5
	}
	if cfg.BreakerCooldown <= 0 {
		cfg.BreakerCooldown = time.Minute
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}

	prev := s.cfg
	s.cfg = cfg
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	if s.breaker == nil || prev.BreakerFailures != cfg.BreakerFailures || prev.BreakerCooldown != cfg.BreakerCooldown {
		s.breaker = s.newBreaker(cfg)
	}
}

func (s *Service) newBreaker(cfg Config) *gobreaker.CircuitBreaker {
	log := s.log
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "telegram",
		MaxRequests: 1,
		Timeout:     cfg.BreakerCooldown,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= cfg.BreakerFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state changed", logx.String("breaker", name), logx.String("from", from.String()), logx.String("to", to.String()))
		},
		IsSuccessful: func(err error) bool {
			// Shutdown is not a Telegram failure.
			return err == nil || errors.Is(err, context.Canceled)
		},
	})
}

// Start subscribes to reactivations and starts the workers. It is a no-op
// when disabled or already running.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queue != nil || !s.cfg.Enabled || s.sender == nil {
		return
	}

	s.queue = make(chan Notice, s.cfg.QueueSize)
	s.accepting = true
	s.sup = rtsup.New(ctx, rtsup.WithLogger(s.log))
	q := s.queue

	if s.bus != nil {
		// A full subscriber loses events, so buffer at least one sweep's
		// worth of reactivations.
		events, unsub := s.bus.Subscribe(max(s.cfg.QueueSize, minSubscribeBuffer), task.EventReactivated)
		s.unsub = unsub
		s.sup.GoRestart("notifier.consume", func(c context.Context) error {
			return s.consume(c, events)
		}, 0, 0)
	}
	for i := 0; i < s.cfg.Workers; i++ {
		s.sup.GoRestart(fmt.Sprintf("notifier.worker.%d", i), func(c context.Context) error {
			s.workerLoop(c, q)
			return nil
		}, 0, 0)
	}
	s.log.Info("notifier started", logx.Int("workers", s.cfg.Workers), logx.Int("home_chats", len(s.cfg.HomeChats)))
}

// Stop stops intake and drains the queue until ctx expires.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	q := s.queue
	sup := s.sup
	unsub := s.unsub
	if q == nil {
		s.mu.Unlock()
		return
	}
	s.accepting = false
	s.queue = nil
	s.sup = nil
	s.unsub = nil
	s.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	// Wait for in-flight Notify calls before closing so none sends on a closed queue.
	s.enqWG.Wait()
	close(q)

	if err := sup.Wait(ctx); err != nil {
		sup.Cancel()
		s.log.Warn("notifier stop timed out; pending notices dropped", logx.Err(err))
		return
	}
	sup.Cancel()
	s.log.Info("notifier stopped")
}

// Notify enqueues n. It returns nil when n was suppressed as a duplicate.
func (s *Service) Notify(ctx context.Context, n Notice) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	if !s.cfg.Enabled || s.sender == nil {
		s.mu.Unlock()
		return ErrDisabled
	}
	if !s.accepting || s.queue == nil {
		s.mu.Unlock()
		return ErrStopped
	}
	q := s.queue
	window := s.cfg.DedupWindow
	s.enqWG.Add(1)
	s.mu.Unlock()
	defer s.enqWG.Done()

	if n.DedupKey != "" && !s.claim(ctx, n.DedupKey, window) {
		s.deduped.Add(1)
		s.publish(EventDeduped, n, nil)
		return nil
	}

	select {
	case q <- n:
		s.publish(EventQueued, n, nil)
		return nil
	default:
		s.publish(EventDropped, n, ErrQueueFull)
		return ErrQueueFull
	}
}

// claim reports whether key is free and marks it taken for window.
func (s *Service) claim(ctx context.Context, key string, window time.Duration) bool {
	s.dmu.Lock()
	defer s.dmu.Unlock()

	now := time.Now()
	if until, ok := s.localDedup[key]; ok && now.Before(until) {
		return false
	}
	if s.dedup != nil {
		cctx, cancel := context.WithTimeout(ctx, 250*time.Millisecond)
		until, ok, err := s.dedup.GetDedup(cctx, key)
		cancel()
		if err != nil {
			s.log.Debug("dedup lookup failed", logx.String("key", key), logx.Err(err))
		} else if ok && now.Before(until) {
			s.localDedup[key] = until
			return false
		}
	}

	until := now.Add(window)
	for k, v := range s.localDedup {
		if !now.Before(v) {
			delete(s.localDedup, k)
		}
	}
	s.localDedup[key] = until
	if s.dedup != nil {
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 250*time.Millisecond)
		if err := s.dedup.PutDedup(cctx, key, until); err != nil {
			s.log.Debug("dedup persist failed", logx.String("key", key), logx.Err(err))
		}
		cancel()
	}
	return true
}

func (s *Service) consume(ctx context.Context, events <-chan eventbus.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			re, ok := ev.Data.(task.ReactivatedEvent)
			if !ok {
				continue
			}
			n, err := s.Compose(ctx, re.Task)
			if err != nil {
				s.log.Debug("reactivation not announced", logx.String("task_id", re.Task.ID), logx.String("home_id", re.Task.HomeID), logx.Err(err))
				continue
			}
			if err := s.Notify(ctx, n); err != nil && !errors.Is(err, ErrStopped) {
				s.log.Warn("notice enqueue failed", logx.String("task_id", re.Task.ID), logx.Err(err))
			}
		}
	}
}

func (s *Service) workerLoop(ctx context.Context, q <-chan Notice) {
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-q:
			if !ok {
				return
			}
			s.send(ctx, n)
		}
	}
}

func (s *Service) send(ctx context.Context, n Notice) {
	s.mu.Lock()
	lim := s.limiter
	cb := s.breaker
	timeout := s.cfg.SendTimeout
	sender := s.sender
	s.mu.Unlock()

	if err := lim.Wait(ctx); err != nil {
		return
	}
	_, err := cb.Execute(func() (any, error) {
		cctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return nil, sender.Send(cctx, n.Target, n.Text)
	})

	item := HistoryItem{At: time.Now(), ChatID: n.Target.ChatID, Text: n.Text}
	if err != nil {
		s.failed.Add(1)
		item.Error = err.Error()
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			s.log.Debug("notice skipped; breaker open", logx.String("task_id", n.TaskID))
		} else {
			s.log.Warn("notice send failed", logx.Int64("chat_id", n.Target.ChatID), logx.String("task_id", n.TaskID), logx.Err(err))
		}
		s.publish(EventFailed, n, err)
	} else {
		s.sent.Add(1)
		s.publish(EventSent, n, nil)
	}
	s.appendHistory(item)
}

func (s *Service) publish(typ string, n Notice, err error) {
	if s.bus == nil {
		return
	}
	now := time.Now()
	ev := NotificationEvent{
		ChatID:   n.Target.ChatID,
		ThreadID: n.Target.ThreadID,
		HomeID:   n.HomeID,
		TaskID:   n.TaskID,
		Key:      n.DedupKey,
		At:       now,
	}
	if err != nil {
		ev.Error = err.Error()
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: now, Data: ev})
}

func (s *Service) appendHistory(it HistoryItem) {
	s.hmu.Lock()
	s.history = append(s.history, it)
	if over := len(s.history) - maxHistory; over > 0 {
		s.history = append([]HistoryItem(nil), s.history[over:]...)
	}
	s.hmu.Unlock()
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{
		Enabled: s.cfg.Enabled && s.sender != nil,
		Running: s.queue != nil,
		Breaker: s.breaker.State().String(),
	}
	if s.queue != nil {
		snap.QueueLen = len(s.queue)
	}
	s.mu.Unlock()

	snap.Sent = s.sent.Load()
	snap.Failed = s.failed.Load()
	snap.Deduped = s.deduped.Load()
	s.hmu.Lock()
	snap.History = append([]HistoryItem(nil), s.history...)
	s.hmu.Unlock()
	return snap
}
