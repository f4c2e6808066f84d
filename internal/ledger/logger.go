package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tollgate/gateway/internal/metrics"
)

const (
	flushInterval = 2 * time.Second
	flushBatch    = 50
	bufferSize    = 1024
)

// Entry is one request log row. Amount is a base-units decimal string;
// empty means zero.
type Entry struct {
	ID             string
	Service        string
	Endpoint       string
	Payer          string
	Network        string
	Amount         string
	Scheme         string
	UpstreamStatus int
	LatencyMS      int64
	CreatedAt      time.Time
}

// batchInserter is the write side of the request log. *Store implements it.
type batchInserter interface {
	insertRequests(ctx context.Context, entries []Entry) error
}

// Logger buffers request log entries off the hot path and flushes them in
// batches. Entries are dropped, never blocked on, when the buffer is full:
// request latency is worth more than a complete log.
type Logger struct {
	inserter batchInserter
	log      zerolog.Logger
	metrics  *metrics.Metrics // optional

	entries chan Entry
	done    chan struct{}
	wg      sync.WaitGroup

	closeOnce sync.Once
}

// SetMetrics attaches a metrics collector. Call before the first Record.
func (l *Logger) SetMetrics(m *metrics.Metrics) {
	l.metrics = m
}

// NewLogger starts the background flusher.
func NewLogger(store *Store, log zerolog.Logger) *Logger {
	return newLogger(store, log)
}

func newLogger(inserter batchInserter, log zerolog.Logger) *Logger {
	l := &Logger{
		inserter: inserter,
		log:      log.With().Str("component", "ledger_logger").Logger(),
		entries:  make(chan Entry, bufferSize),
		done:     make(chan struct{}),
	}
	l.wg.Add(1)
	go l.run()
	return l
}

// Record enqueues an entry. Never blocks; returns false when the entry was
// dropped because the buffer is full.
func (l *Logger) Record(e Entry) bool {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	select {
	case l.entries <- e:
		if l.metrics != nil {
			l.metrics.LedgerBufferDepth.Set(float64(len(l.entries)))
		}
		return true
	default:
		l.log.Warn().Str("service", e.Service).Msg("ledger.entry_dropped")
		if l.metrics != nil {
			l.metrics.LedgerDropsTotal.Inc()
		}
		return false
	}
}

// Depth reports the current buffer occupancy.
func (l *Logger) Depth() int {
	return len(l.entries)
}

func (l *Logger) run() {
	defer l.wg.Done()

	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]Entry, 0, flushBatch)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		l.flush(batch)
		batch = batch[:0]
	}

	for {
		select {
		case e := <-l.entries:
			batch = append(batch, e)
			if len(batch) >= flushBatch {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-l.done:
			// Drain whatever is queued before exiting.
			for {
				select {
				case e := <-l.entries:
					batch = append(batch, e)
					if len(batch) >= flushBatch {
						flush()
					}
				default:
					flush()
					return
				}
			}
		}
	}
}

func (l *Logger) flush(batch []Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), DefaultQueryTimeout)
	defer cancel()

	err := l.inserter.insertRequests(ctx, batch)
	if l.metrics != nil {
		l.metrics.ObserveLedgerFlush(err == nil)
		l.metrics.LedgerBufferDepth.Set(float64(len(l.entries)))
	}
	if err != nil {
		// The batch is lost; the log is best effort.
		l.log.Error().Err(err).Int("batch_size", len(batch)).Msg("ledger.flush_failed")
		return
	}
	l.log.Debug().Int("batch_size", len(batch)).Msg("ledger.flush_ok")
}

// Close stops the flusher after draining queued entries.
func (l *Logger) Close() error {
	l.closeOnce.Do(func() {
		close(l.done)
		l.wg.Wait()
	})
	return nil
}
