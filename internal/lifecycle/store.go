// Package lifecycle holds delivered messages for a bounded time and evicts
// them exactly once, either from a per-message timer or a periodic sweep.
package lifecycle

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/ephemera/internal/metrics"
	"github.com/eldtechnologies/ephemera/internal/models"
)

const (
	// DefaultTTL is how long a delivered message stays visible.
	DefaultTTL = 2 * time.Minute
	// DefaultSweepInterval is how often the backstop sweep runs.
	DefaultSweepInterval = 30 * time.Second
)

// Notifier is called once per evicted message, outside the store lock.
type Notifier func(msg *models.Message, expiredAt time.Time)

// Options configures a Store.
type Options struct {
	TTL           time.Duration
	SweepInterval time.Duration
	Notify        Notifier
	Logger        zerolog.Logger
}

type entry struct {
	msg      *models.Message
	storedAt time.Time
	timer    *time.Timer
}

// Store is the message lifecycle store.
type Store struct {
	mu         sync.Mutex
	entries    map[string]*entry
	tombstones map[string]time.Time // evicted id -> eviction time
	closed     bool

	ttl    time.Duration
	sweep  time.Duration
	notify Notifier
	now    func() time.Time
	logger zerolog.Logger
}

// New creates a Store. Zero durations fall back to the defaults.
func New(opts Options) *Store {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = DefaultSweepInterval
	}
	return &Store{
		entries:    make(map[string]*entry),
		tombstones: make(map[string]time.Time),
		ttl:        opts.TTL,
		sweep:      opts.SweepInterval,
		notify:     opts.Notify,
		now:        time.Now,
		logger:     opts.Logger.With().Str("component", "lifecycle").Logger(),
	}
}

// TTL returns the configured message lifetime.
func (s *Store) TTL() time.Duration { return s.ttl }

// SweepInterval returns the configured sweep period.
func (s *Store) SweepInterval() time.Duration { return s.sweep }

// Store holds msg until it expires. It returns false if the id is already
// held, was evicted before, or the message has no creation time or is
// already past its TTL. Tombstones live one TTL after eviction, so the age
// check is what keeps an evicted id out once its tombstone is pruned.
func (s *Store) Store(msg *models.Message) bool {
	if msg == nil || msg.ID == "" || msg.CreatedAt.IsZero() {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	if _, ok := s.entries[msg.ID]; ok {
		return false
	}
	if _, ok := s.tombstones[msg.ID]; ok {
		s.logger.Warn().Str("id", msg.ID).Msg("refusing to re-store evicted message")
		return false
	}
	now := s.now()
	if now.Sub(msg.CreatedAt) >= s.ttl {
		return false
	}

	id := msg.ID
	e := &entry{msg: msg, storedAt: now}
	e.timer = time.AfterFunc(s.ttl, func() {
		s.expire(id, "timer")
	})
	s.entries[id] = e
	metrics.StoredMessages.Set(float64(len(s.entries)))
	return true
}

// Get returns a stored message.
func (s *Store) Get(id string) (*models.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return nil, false
	}
	return e.msg, true
}

// Len returns the number of messages awaiting expiry.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Expire evicts id if it is still held and notifies both parties.
// Redundant calls are no-ops and return false.
func (s *Store) Expire(id string) bool {
	return s.expire(id, "manual")
}

func (s *Store) expire(id, trigger string) bool {
	s.mu.Lock()
	e, ok := s.entries[id]
	if !ok {
		s.mu.Unlock()
		return false
	}
	delete(s.entries, id)
	e.timer.Stop()
	now := s.now()
	s.tombstones[id] = now
	metrics.StoredMessages.Set(float64(len(s.entries)))
	s.mu.Unlock()

	metrics.ExpiredMessages.WithLabelValues(trigger).Inc()
	s.logger.Debug().
		Str("id", id).
		Str("trigger", trigger).
		Dur("age", now.Sub(e.storedAt)).
		Msg("message expired")

	if s.notify != nil {
		s.notify(e.msg, now)
	}
	return true
}

// Sweep evicts every entry whose age has reached the TTL and prunes old
// tombstones. It returns the number of messages evicted.
func (s *Store) Sweep() int {
	s.mu.Lock()
	now := s.now()
	var due []string
	for id, e := range s.entries {
		if now.Sub(e.storedAt) >= s.ttl {
			due = append(due, id)
		}
	}
	// A message older than the TTL is refused by Store anyway, so a
	// tombstone only has to outlive one more TTL.
	for id, at := range s.tombstones {
		if now.Sub(at) >= s.ttl {
			delete(s.tombstones, id)
		}
	}
	s.mu.Unlock()

	evicted := 0
	for _, id := range due {
		if s.expire(id, "sweep") {
			evicted++
		}
	}
	if evicted > 0 {
		s.logger.Info().Int("count", evicted).Msg("sweep evicted messages")
	}
	return evicted
}

// Run sweeps every SweepInterval until ctx is done.
func (s *Store) Run(ctx context.Context) {
	ticker := time.NewTicker(s.sweep)
	defer ticker.Stop()

	s.logger.Info().Dur("ttl", s.ttl).Dur("interval", s.sweep).Msg("sweeper started")
	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("sweeper stopping")
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

// Close stops all pending timers without notifying anyone. Messages are
// not persisted, so they vanish with the process.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	for id, e := range s.entries {
		e.timer.Stop()
		delete(s.entries, id)
	}
	metrics.StoredMessages.Set(0)
}
