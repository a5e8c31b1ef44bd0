package delivery

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"notifrelay/internal/eventbus"
	"notifrelay/internal/relay"
	rtsup "notifrelay/internal/runtime/supervisor"
	"notifrelay/internal/storage"
	logx "notifrelay/pkg/logx"
)

const dedupLoadTimeout = 2 * time.Second

var (
	ErrDisabled  = errors.New("delivery disabled")
	ErrQueueFull = errors.New("delivery queue full")
	ErrStopped   = errors.New("delivery stopped")
	ErrNoSinks   = errors.New("no sinks configured")
)

type job struct {
	rec  relay.Record
	sink Sink
	// computed at enqueue time
	dedupKey string
}

type dedupWrite struct {
	key   string
	until time.Time
}

// Service is the queue + worker pool behind the relay subscriber.
// It is safe for concurrent use.
type Service struct {
	mu sync.Mutex

	log   logx.Logger
	bus   eventbus.Bus
	store storage.Store
	sinks []Sink

	cfg     Config
	limiter *rate.Limiter

	accepting bool
	sendWG    sync.WaitGroup

	queue    chan job
	sup      *rtsup.Supervisor
	stopDone chan struct{} // non-nil while stopping

	dmu   sync.Mutex
	dedup map[string]time.Time

	persistCh chan dedupWrite
}

var _ relay.Subscriber = (*Service)(nil)

func New(cfg Config, sinks []Sink, log logx.Logger, bus eventbus.Bus, store storage.Store) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		sinks: append([]Sink(nil), sinks...),
		log:   log,
		bus:   bus,
		store: store,
		dedup: map[string]time.Time{},
	}
	s.applyLocked(cfg)
	return s
}

// Supervisor returns the internal supervisor (nil if not started).
func (s *Service) Supervisor() *rtsup.Supervisor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sup
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Apply swaps limits and dedup settings. Worker and queue sizes take effect
// on the next Start.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 10
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 10 * time.Second
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	if cfg.DedupWindow < 0 {
		cfg.DedupWindow = 0
	}
	if cfg.DedupMaxEntries <= 0 {
		cfg.DedupMaxEntries = 2000
	}

	s.cfg = cfg
	// burst = rate per sec so short spikes pass
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

// Start launches the workers. With persisted dedup on, unexpired keys are
// loaded from the store before intake opens, so Publish stays memory-only.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	load := s.cfg.Enabled && s.cfg.PersistDedup && s.store != nil && s.queue == nil
	st := s.store
	s.mu.Unlock()
	if load {
		s.loadDedup(ctx, st)
	}

	s.mu.Lock()
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return
		}
		s.mu.Lock()
	}
	if s.queue != nil || !s.cfg.Enabled {
		s.mu.Unlock()
		return
	}

	s.queue = make(chan job, s.cfg.QueueSize)
	s.accepting = true
	workers := s.cfg.Workers
	if s.cfg.PersistDedup && s.store != nil {
		s.persistCh = make(chan dedupWrite, 1024)
	}
	s.sup = rtsup.New(ctx,
		rtsup.WithLogger(s.log.With(logx.String("comp", "delivery"))),
		rtsup.WithCancelOnError(false),
	)
	sup, q, pch := s.sup, s.queue, s.persistCh
	s.mu.Unlock()

	if pch != nil {
		sup.GoRestart("dedup.persist", func(c context.Context) error {
			s.persistLoop(c, pch, st)
			return s.exitErr(c, "persist loop")
		})
	}
	for i := 0; i < workers; i++ {
		sup.GoRestart(fmt.Sprintf("worker.%d", i), func(c context.Context) error {
			s.workerLoop(c, q)
			return s.exitErr(c, "worker")
		})
	}
	s.log.Info("delivery started", logx.Int("workers", workers), logx.Int("sinks", len(s.sinks)))
}

// exitErr classifies a loop return: clean on shutdown, an error otherwise so
// the supervisor restarts it.
func (s *Service) exitErr(c context.Context, what string) error {
	s.mu.Lock()
	stopping := s.stopDone != nil
	s.mu.Unlock()
	if stopping {
		return context.Canceled
	}
	if c.Err() != nil {
		return c.Err()
	}
	return fmt.Errorf("delivery %s exited unexpectedly", what)
}

// Stop stops intake and drains the queue best-effort until ctx is done.
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	q, pch, sup := s.queue, s.persistCh, s.sup
	if q == nil {
		s.mu.Unlock()
		return
	}
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}
	done := make(chan struct{})
	s.stopDone = done
	s.accepting = false
	s.mu.Unlock()

	go func() {
		defer close(done)
		// in-flight enqueues first, then close so workers drain
		s.sendWG.Wait()
		if pch != nil {
			close(pch)
		}
		close(q)
		if sup != nil {
			_ = sup.Wait(context.Background())
		}

		s.mu.Lock()
		s.queue = nil
		s.persistCh = nil
		s.stopDone = nil
		s.sup = nil
		s.mu.Unlock()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		if sup != nil {
			sup.Cancel()
		}
	}
}

// Publish enqueues rec for every sink. It never blocks.
func (s *Service) Publish(rec relay.Record) error {
	s.mu.Lock()
	if !s.cfg.Enabled {
		s.mu.Unlock()
		return ErrDisabled
	}
	if !s.accepting || s.queue == nil {
		s.mu.Unlock()
		return ErrStopped
	}
	if len(s.sinks) == 0 {
		s.mu.Unlock()
		return ErrNoSinks
	}
	q := s.queue
	sinks := s.sinks
	window := s.cfg.DedupWindow
	maxEntries := s.cfg.DedupMaxEntries
	pch := s.persistCh
	s.sendWG.Add(1)
	s.mu.Unlock()
	defer s.sendWG.Done()

	key := DedupKey(rec)
	if window > 0 && !s.dedupAllow(key, window, maxEntries, pch) {
		s.emit(EventDeduped, Event{SourceApp: rec.SourceApp, Key: key})
		return nil
	}

	var dropped int
	for _, sk := range sinks {
		select {
		case q <- job{rec: rec, sink: sk, dedupKey: key}:
			s.emit(EventQueued, Event{Sink: sk.Name(), SourceApp: rec.SourceApp, Key: key})
		default:
			dropped++
			s.emit(EventDropped, Event{Sink: sk.Name(), SourceApp: rec.SourceApp, Key: key, Error: ErrQueueFull.Error()})
		}
	}
	if dropped == len(sinks) {
		return ErrQueueFull
	}
	return nil
}

func (s *Service) emit(typ string, e Event) {
	if s.bus == nil {
		return
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: e.At, Data: e})
}

func (s *Service) loadDedup(ctx context.Context, st storage.Store) {
	cctx, cancel := context.WithTimeout(ctx, dedupLoadTimeout)
	defer cancel()
	keys, err := st.LoadDedup(cctx)
	if err != nil {
		s.log.Warn("dedup load failed", logx.Err(err))
		return
	}
	s.dmu.Lock()
	for k, until := range keys {
		if cur, ok := s.dedup[k]; !ok || until.After(cur) {
			s.dedup[k] = until
		}
	}
	s.dmu.Unlock()
	s.log.Debug("dedup keys loaded", logx.Int("keys", len(keys)))
}

func (s *Service) persistLoop(ctx context.Context, ch <-chan dedupWrite, st storage.Store) {
	for {
		select {
		case <-ctx.Done():
			return
		case w, ok := <-ch:
			if !ok {
				return
			}
			cctx, cancel := context.WithTimeout(ctx, 250*time.Millisecond)
			if err := st.PutDedup(cctx, w.key, w.until); err != nil {
				s.log.Debug("dedup persist failed", logx.Err(err))
			}
			cancel()
		}
	}
}

func (s *Service) workerLoop(ctx context.Context, q <-chan job) {
	for {
		select {
		case <-ctx.Done():
			return
		case j, ok := <-q:
			if !ok {
				return
			}
			s.sendWithRetry(ctx, j)
		}
	}
}

func (s *Service) sendWithRetry(ctx context.Context, j job) {
	s.mu.Lock()
	cfg, lim := s.cfg, s.limiter
	s.mu.Unlock()

	maxAttempts := 1 + cfg.RetryMax
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := lim.Wait(ctx); err != nil {
			return
		}

		callCtx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
		err := j.sink.Send(callCtx, j.rec)
		cancel()
		if err == nil {
			s.emit(EventSent, Event{Sink: j.sink.Name(), SourceApp: j.rec.SourceApp, Key: j.dedupKey, Attempts: attempt})
			return
		}
		lastErr = err
		s.log.Debug("sink send failed", logx.String("sink", j.sink.Name()), logx.Err(err), logx.Int("attempt", attempt), logx.Int("max", maxAttempts))

		if attempt >= maxAttempts {
			break
		}
		t := time.NewTimer(retryDelay(cfg, attempt))
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return
		}
	}

	s.log.Warn("sink delivery failed", logx.String("sink", j.sink.Name()), logx.String("app", j.rec.SourceApp), logx.Err(lastErr))
	s.emit(EventFailed, Event{Sink: j.sink.Name(), SourceApp: j.rec.SourceApp, Key: j.dedupKey, Attempts: maxAttempts, Error: lastErr.Error()})
}

// DedupKey hashes the fields that make two notifications the same.
func DedupKey(rec relay.Record) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(rec.SourceApp))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(rec.Title))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(rec.Body))
	return fmt.Sprintf("%x", h.Sum64())
}

// dedupAllow only touches memory; persisted keys were loaded by Start.
func (s *Service) dedupAllow(key string, window time.Duration, max int, pch chan dedupWrite) bool {
	now := time.Now()

	s.dmu.Lock()
	if until, ok := s.dedup[key]; ok && now.Before(until) {
		s.dmu.Unlock()
		return false
	}
	until := now.Add(window)
	s.dedup[key] = until
	for k, u := range s.dedup {
		if !now.Before(u) {
			delete(s.dedup, k)
		}
	}
	for max > 0 && len(s.dedup) > max {
		var (
			minKey string
			minT   time.Time
		)
		for k, t := range s.dedup {
			if minKey == "" || t.Before(minT) {
				minKey, minT = k, t
			}
		}
		delete(s.dedup, minKey)
	}
	s.dmu.Unlock()

	if pch != nil {
		select {
		case pch <- dedupWrite{key: key, until: until}:
		default:
		}
	}
	return true
}

func retryDelay(cfg Config, attempt int) time.Duration {
	// attempt starts at 1; the delay is for the next attempt
	d := cfg.RetryBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= cfg.RetryMaxDelay {
			d = cfg.RetryMaxDelay
			break
		}
	}
	// jitter 0.7..1.3
	d = time.Duration(float64(d) * (0.7 + rand.Float64()*0.6))
	if d < 0 {
		return 0
	}
	if d > cfg.RetryMaxDelay {
		d = cfg.RetryMaxDelay
	}
	return d
}
