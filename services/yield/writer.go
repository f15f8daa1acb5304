package yield

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/R3E-Network/savings_layer/internal/logging"
	"github.com/R3E-Network/savings_layer/internal/metrics"
)

const (
	DefaultQueueSize    = 256
	DefaultWriteTimeout = 5 * time.Second
)

// CheckpointStore is the subset of the directory the writer needs.
type CheckpointStore interface {
	UpdateYieldCheckpoint(ctx context.Context, roomID string, accumulated float64, lastUpdateMs int64) (bool, error)
}

// CheckpointWrite is one queued write-back.
type CheckpointWrite struct {
	RoomID       string
	Accumulated  float64
	LastUpdateMs int64
}

// Writer persists checkpoints on a background worker. Enqueue never blocks
// and callers never observe write failures; they are logged and counted.
type Writer struct {
	store   CheckpointStore
	logger  *logging.Logger
	metrics *metrics.Metrics
	timeout time.Duration

	mu      sync.RWMutex
	queue   chan CheckpointWrite
	once    sync.Once
	stopped bool
	dropped atomic.Uint64

	wg sync.WaitGroup
}

// WriterConfig configures a Writer.
type WriterConfig struct {
	Store     CheckpointStore
	Logger    *logging.Logger
	Metrics   *metrics.Metrics
	QueueSize int
	Timeout   time.Duration
}

// NewWriter creates a writer. Call Start before enqueuing.
func NewWriter(cfg WriterConfig) *Writer {
	size := cfg.QueueSize
	if size <= 0 {
		size = DefaultQueueSize
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultWriteTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Writer{
		store:   cfg.Store,
		logger:  logger,
		metrics: cfg.Metrics,
		timeout: timeout,
		queue:   make(chan CheckpointWrite, size),
	}
}

// Start launches the worker. Subsequent calls are no-ops.
func (w *Writer) Start() {
	if w == nil {
		return
	}
	w.once.Do(func() {
		w.wg.Add(1)
		go w.run()
	})
}

// Stop closes the queue and waits for queued writes to drain.
func (w *Writer) Stop(ctx context.Context) error {
	if w == nil {
		return nil
	}

	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return nil
	}
	w.stopped = true
	close(w.queue)
	w.mu.Unlock()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("yield writer stop: %w", ctx.Err())
	}
}

// Dropped returns how many writes were discarded because the queue was full.
func (w *Writer) Dropped() uint64 {
	if w == nil {
		return 0
	}
	return w.dropped.Load()
}

// Enqueue queues a write-back. It reports false when the write was dropped.
func (w *Writer) Enqueue(ctx context.Context, write CheckpointWrite) bool {
	if w == nil {
		return false
	}

	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.stopped {
		return false
	}

	select {
	case w.queue <- write:
		return true
	default:
		w.dropped.Add(1)
		w.metrics.RecordYieldWriteback(metrics.OutcomeDropped)
		w.logger.Warn(ctx, "yield checkpoint write dropped: queue full", map[string]interface{}{
			"room_id": write.RoomID,
		})
		return false
	}
}

func (w *Writer) run() {
	defer w.wg.Done()

	for write := range w.queue {
		w.persist(write)
	}
}

func (w *Writer) persist(write CheckpointWrite) {
	if w.store == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()

	ok, err := w.store.UpdateYieldCheckpoint(ctx, write.RoomID, write.Accumulated, write.LastUpdateMs)
	switch {
	case err != nil:
		w.metrics.RecordYieldWriteback(metrics.OutcomeError)
		w.logger.Warn(ctx, "yield checkpoint write failed", map[string]interface{}{
			"room_id": write.RoomID,
			"error":   err.Error(),
		})
	case !ok:
		w.metrics.RecordYieldWriteback(metrics.OutcomeRejected)
		w.logger.Debug(ctx, "yield checkpoint already ahead", map[string]interface{}{
			"room_id": write.RoomID,
		})
	default:
		w.metrics.RecordYieldWriteback(metrics.OutcomeSuccess)
	}
}
