package outputstore

import (
	"context"
	"sync"
	"time"

	"github.com/deixis/actionrunner/internal/action"
	"go.uber.org/zap"
)

// Appender is the append side of a Store.
type Appender interface {
	Append(ctx context.Context, recs []action.OutputRecord) error
}

// Default Writer tuning.
const (
	DefaultBatchSize     = 100
	DefaultFlushInterval = 200 * time.Millisecond
	DefaultWriteTimeout  = 5 * time.Second
)

// WriterOptions tunes a Writer. Zero values use the defaults.
type WriterOptions struct {
	BatchSize     int
	FlushInterval time.Duration
	WriteTimeout  time.Duration
	Logger        *zap.Logger
}

// Writer queues records of one execution and inserts them in batches from
// a background goroutine. It satisfies capture.Sink. Append never waits on
// the store: records that do not fit in the queue are dropped and counted
// as failed, as are failed batches.
type Writer struct {
	dst  Appender
	opts WriterOptions

	mu     sync.Mutex
	closed bool
	queue  chan action.OutputRecord
	done   chan struct{}

	dropped int // guarded by mu

	written int
	failed  int
}

// NewWriter starts a writer appending to dst.
func NewWriter(dst Appender, opts WriterOptions) *Writer {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = DefaultFlushInterval
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	w := &Writer{
		dst:   dst,
		opts:  opts,
		queue: make(chan action.OutputRecord, opts.BatchSize*4),
		done:  make(chan struct{}),
	}
	go w.loop()
	return w
}

// Append queues rec without blocking. Records appended after Close or
// while the queue is full are dropped.
func (w *Writer) Append(rec action.OutputRecord) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	select {
	case w.queue <- rec:
	default:
		if w.dropped == 0 {
			w.opts.Logger.Warn("output queue full, dropping records",
				zap.String("execution_id", rec.ExecutionID))
		}
		w.dropped++
	}
}

// Close flushes the queue and stops the writer. It returns the number of
// records written and the number lost to failed batches or a full queue.
func (w *Writer) Close() (written, failed int) {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.queue)
	}
	dropped := w.dropped
	w.mu.Unlock()
	<-w.done
	return w.written, w.failed + dropped
}

func (w *Writer) loop() {
	defer close(w.done)

	ticker := time.NewTicker(w.opts.FlushInterval)
	defer ticker.Stop()

	batch := make([]action.OutputRecord, 0, w.opts.BatchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), w.opts.WriteTimeout)
		err := w.dst.Append(ctx, batch)
		cancel()
		if err != nil {
			w.failed += len(batch)
			w.opts.Logger.Warn("persisting output records",
				zap.String("execution_id", batch[0].ExecutionID),
				zap.Int("records", len(batch)),
				zap.Error(err))
		} else {
			w.written += len(batch)
		}
		batch = batch[:0]
	}

	for {
		select {
		case rec, ok := <-w.queue:
			if !ok {
				flush()
				return
			}
			batch = append(batch, rec)
			if len(batch) >= w.opts.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}
