package redis

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"sip-agent/internal/metrics"
	"sip-agent/internal/model"
	"sip-agent/internal/ringbuf"
)

// cyclePublisher is the write side BufferedPublisher protects.
type cyclePublisher interface {
	Publish(ctx context.Context, c model.Cycle) error
}

// BufferedPublisher wraps a publisher with a circuit breaker. Cycles that
// cannot be published are buffered locally (oldest dropped when full) and
// replayed after the next successful publish. It implements
// model.OutcomeSink. Record must not be called concurrently with itself.
type BufferedPublisher struct {
	pub     cyclePublisher
	cb      *CircuitBreaker
	metrics *metrics.Metrics

	mu     sync.Mutex
	buffer *ringbuf.Ring[model.Cycle]
}

// NewBufferedPublisher creates a BufferedPublisher. The buffer holds
// maxBufferSize cycles rounded up to a power of two; <= 0 defaults to 1024.
func NewBufferedPublisher(pub cyclePublisher, cb *CircuitBreaker, m *metrics.Metrics, maxBufferSize int) *BufferedPublisher {
	if maxBufferSize <= 0 {
		maxBufferSize = 1024
	}
	bp := &BufferedPublisher{
		pub:     pub,
		cb:      cb,
		metrics: m,
		buffer:  ringbuf.New[model.Cycle](maxBufferSize),
	}

	prev := cb.OnStateChange
	cb.OnStateChange = func(from, to State) {
		if prev != nil {
			prev(from, to)
		}
		m.BreakerState(int(to))
		if to == StateOpen {
			m.BreakerTrip()
		}
		slog.Warn("redis circuit breaker", "from", from.String(), "to", to.String())
	}
	return bp
}

// Record publishes c through the breaker. On failure c is buffered and the
// error returned; an open breaker buffers without error.
func (bp *BufferedPublisher) Record(ctx context.Context, c model.Cycle) error {
	err := bp.cb.Execute(func() error { return bp.pub.Publish(ctx, c) })
	switch {
	case err == nil:
		bp.flush(ctx)
		return nil
	case errors.Is(err, ErrCircuitOpen):
		bp.bufferCycle(c)
		return nil
	default:
		bp.bufferCycle(c)
		return err
	}
}

func (bp *BufferedPublisher) bufferCycle(c model.Cycle) {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	if bp.buffer.Push(c) {
		bp.metrics.BufferDropped()
	}
	bp.metrics.Buffered()
}

// flush replays buffered cycles oldest first, stopping at the first
// failure with that cycle still at the head.
func (bp *BufferedPublisher) flush(ctx context.Context) {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	flushed := 0
	for {
		c, ok := bp.buffer.Peek()
		if !ok {
			break
		}
		if err := bp.cb.Execute(func() error { return bp.pub.Publish(ctx, c) }); err != nil {
			slog.Warn("redis flush interrupted", "flushed", flushed, "pending", bp.buffer.Len(), "error", err)
			return
		}
		bp.buffer.Pop()
		flushed++
	}
	if flushed > 0 {
		slog.Info("redis flushed buffered cycles", "count", flushed)
	}
}

// PendingCount returns the number of buffered cycles.
func (bp *BufferedPublisher) PendingCount() int {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	return bp.buffer.Len()
}
