package audit

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/promptgate/promptgate/pkg/domain"
)

// Sink persists audit records off the request's critical path. Submission is
// fire-and-forget: records land on a bounded queue consumed by a dedicated
// goroutine, and persistence failures are logged and dropped without ever
// reaching the caller. The sink assigns each record's timestamp at the
// moment of the persistence attempt, not when the decision was computed.
type Sink struct {
	store        Store
	logger       *slog.Logger
	queue        chan *domain.AuditRecord
	writeTimeout time.Duration

	dropped   atomic.Int64
	failed    atomic.Int64
	persisted atomic.Int64

	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
	done      chan struct{}
}

// SinkConfig tunes the sink's queue and write deadline.
type SinkConfig struct {
	// QueueSize bounds in-flight records. Submissions against a full queue
	// are dropped and counted rather than blocking the request path.
	QueueSize int
	// WriteTimeout bounds each persistence attempt.
	WriteTimeout time.Duration
}

// NewSink starts a sink over the given store and returns it running.
func NewSink(store Store, cfg SinkConfig, logger *slog.Logger) *Sink {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 2 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Sink{
		store:        store,
		logger:       logger,
		queue:        make(chan *domain.AuditRecord, cfg.QueueSize),
		writeTimeout: cfg.WriteTimeout,
		done:         make(chan struct{}),
	}

	go s.consume()
	return s
}

// Record submits one record for asynchronous persistence. It never blocks:
// when the queue is full the record is dropped and counted. Once submitted,
// a record either persists or is dropped with a logged failure; it is never
// left half-written.
func (s *Sink) Record(record *domain.AuditRecord) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		s.dropped.Add(1)
		s.logger.Warn("audit sink closed, dropping record",
			"user_id", record.UserID,
			"endpoint", record.Endpoint)
		return
	}

	select {
	case s.queue <- record:
	default:
		s.dropped.Add(1)
		s.logger.Warn("audit queue full, dropping record",
			"user_id", record.UserID,
			"endpoint", record.Endpoint)
	}
}

// Close stops accepting records, drains the queue, and shuts the sink down.
// Records submitted after Close are dropped and counted.
func (s *Sink) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.queue)
		s.mu.Unlock()
		<-s.done
	})
}

// Depth reports the current queue occupancy.
func (s *Sink) Depth() int { return len(s.queue) }

// Dropped reports records rejected by a full queue.
func (s *Sink) Dropped() int64 { return s.dropped.Load() }

// Failed reports records lost to persistence errors.
func (s *Sink) Failed() int64 { return s.failed.Load() }

// Persisted reports successfully written records.
func (s *Sink) Persisted() int64 { return s.persisted.Load() }

func (s *Sink) consume() {
	defer close(s.done)

	for record := range s.queue {
		s.persist(record)
	}
}

func (s *Sink) persist(record *domain.AuditRecord) {
	// Timestamp is assigned exactly once, here, at persistence time.
	record.Timestamp = time.Now().UTC()

	ctx, cancel := context.WithTimeout(context.Background(), s.writeTimeout)
	defer cancel()

	if err := s.store.Save(ctx, record); err != nil {
		s.failed.Add(1)
		s.logger.Error("failed to persist audit record",
			"error", err,
			"user_id", record.UserID,
			"endpoint", record.Endpoint)
		return
	}

	s.persisted.Add(1)
	s.logger.Debug("audit record persisted", "user_id", record.UserID)
}
