package redis

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"fxindicators/internal/logger"
	"fxindicators/internal/model"
)

// batchWriter is the pipeline write the buffered writer protects.
type batchWriter interface {
	WriteBatch(ctx context.Context, updates []model.IndicatorUpdate) error
	Close() error
}

// BufferedConfig controls batching and the outage buffer.
type BufferedConfig struct {
	BatchSize     int           // flush after this many updates (default 256)
	FlushInterval time.Duration // flush at least this often (default 100ms)
	MaxBuffered   int           // updates kept during an outage before dropping oldest (default 10000)
}

// BufferedWriter wraps a Redis Writer with a circuit breaker.
// During an outage, writes are buffered locally and flushed when the
// circuit closes again. It implements model.UpdateSink.
type BufferedWriter struct {
	writer batchWriter
	cb     *CircuitBreaker
	cfg    BufferedConfig
	ctx    context.Context
	log    zerolog.Logger

	mu     sync.Mutex
	buffer []model.IndicatorUpdate

	// Callbacks
	OnBuffer func(count int)                  // called when writes are buffered (for metrics)
	OnFlush  func(count int)                  // called after flushing buffered writes
	OnWrite  func(d time.Duration, err error) // called after every pipeline write
	OnDrop   func(count int)                  // called when the buffer overflows
}

// NewBufferedWriter creates a BufferedWriter wrapping w.
func NewBufferedWriter(ctx context.Context, w batchWriter, cb *CircuitBreaker, cfg BufferedConfig) *BufferedWriter {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 256
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 100 * time.Millisecond
	}
	if cfg.MaxBuffered <= 0 {
		cfg.MaxBuffered = 10000
	}
	bw := &BufferedWriter{
		writer: w,
		cb:     cb,
		cfg:    cfg,
		ctx:    ctx,
		log:    logger.Component("redis"),
		buffer: make([]model.IndicatorUpdate, 0, 256),
	}

	// Register flush on circuit close
	prevCallback := cb.OnStateChange
	cb.OnStateChange = func(from, to State) {
		if prevCallback != nil {
			prevCallback(from, to)
		}
		if to == StateClosed {
			go bw.flush()
		}
	}

	return bw
}

// Run batches updates from ch and writes them until ctx is cancelled or ch
// is closed. The last partial batch is written before returning.
func (bw *BufferedWriter) Run(ctx context.Context, ch <-chan model.IndicatorUpdate) {
	ticker := time.NewTicker(bw.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]model.IndicatorUpdate, 0, bw.cfg.BatchSize)
	for {
		select {
		case <-ctx.Done():
			bw.Write(batch)
			return
		case u, ok := <-ch:
			if !ok {
				bw.Write(batch)
				return
			}
			batch = append(batch, u)
			if len(batch) >= bw.cfg.BatchSize {
				bw.Write(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				bw.Write(batch)
				batch = batch[:0]
			}
		}
	}
}

// Write sends one batch through the circuit breaker. A rejected or failed
// batch is buffered, not lost.
func (bw *BufferedWriter) Write(batch []model.IndicatorUpdate) {
	if len(batch) == 0 {
		return
	}
	err := bw.cb.Execute(func() error {
		start := time.Now()
		err := bw.writer.WriteBatch(bw.ctx, batch)
		if bw.OnWrite != nil {
			bw.OnWrite(time.Since(start), err)
		}
		return err
	})
	if err == nil {
		return
	}
	if !errors.Is(err, ErrCircuitOpen) {
		bw.log.Error().Err(err).Int("updates", len(batch)).Msg("write failed, buffering")
	}
	bw.bufferWrite(batch)
}

func (bw *BufferedWriter) bufferWrite(batch []model.IndicatorUpdate) {
	bw.mu.Lock()
	defer bw.mu.Unlock()

	bw.buffer = append(bw.buffer, batch...)
	if over := len(bw.buffer) - bw.cfg.MaxBuffered; over > 0 {
		// Buffer full, drop oldest
		bw.buffer = append(bw.buffer[:0:0], bw.buffer[over:]...)
		if bw.OnDrop != nil {
			bw.OnDrop(over)
		}
	}
	if bw.OnBuffer != nil {
		bw.OnBuffer(len(batch))
	}
}

// flush replays all buffered writes in BatchSize chunks. Chunks that fail
// again go back to the buffer.
func (bw *BufferedWriter) flush() {
	bw.mu.Lock()
	if len(bw.buffer) == 0 {
		bw.mu.Unlock()
		return
	}
	// Take ownership of the buffer
	toFlush := bw.buffer
	bw.buffer = make([]model.IndicatorUpdate, 0, 256)
	bw.mu.Unlock()

	flushed := 0
	for start := 0; start < len(toFlush); start += bw.cfg.BatchSize {
		end := start + bw.cfg.BatchSize
		if end > len(toFlush) {
			end = len(toFlush)
		}
		if err := bw.writer.WriteBatch(bw.ctx, toFlush[start:end]); err != nil {
			bw.log.Error().Err(err).Int("remaining", len(toFlush)-start).Msg("flush failed, re-buffering")
			bw.bufferWrite(toFlush[start:])
			break
		}
		flushed += end - start
	}

	bw.log.Info().Int("updates", flushed).Msg("flushed buffered writes")
	if bw.OnFlush != nil {
		bw.OnFlush(flushed)
	}
}

// PendingCount returns the number of buffered writes waiting to be flushed.
func (bw *BufferedWriter) PendingCount() int {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	return len(bw.buffer)
}

// Close closes the underlying writer.
func (bw *BufferedWriter) Close() error {
	return bw.writer.Close()
}
