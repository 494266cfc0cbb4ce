package seriallogger

import (
	"context"
	"errors"
	"time"
)

// writeOperation represents a queued write operation
type writeOperation struct {
	data     []byte
	ctx      context.Context
	resultCh chan writeResult
}

// writeResult holds the result of a write operation
type writeResult struct {
	n   int
	err error
}

// writeQueueSize bounds how many operations can be pending at once.
const writeQueueSize = 50

// startWriteQueue creates the session write queue and starts its processor.
func (l *Listener) startWriteQueue() {
	queue := make(chan *writeOperation, writeQueueSize)
	done := make(chan struct{})
	exited := make(chan struct{})

	l.queueMu.Lock()
	l.writeQueue = queue
	l.queueDone = done
	l.writeGoroutineDone = exited
	l.queueClosed.Store(false)
	l.queueMu.Unlock()

	go l.processWrites(queue, done, exited)
}

// processWrites handles all write operations from the queue in a single goroutine
func (l *Listener) processWrites(queue chan *writeOperation, done, exited chan struct{}) {
	defer close(exited)

	for {
		select {
		case op := <-queue:
			if op == nil {
				return
			}
			if l.queueClosed.Load() {
				failWrite(op, ErrPortNotOpen)
				continue
			}
			l.executeWrite(op)
		case <-done:
			drainPendingWrites(queue)
			return
		}
	}
}

// drainPendingWrites fails all operations still sitting in the queue.
func drainPendingWrites(queue chan *writeOperation) {
	for {
		select {
		case op := <-queue:
			if op == nil {
				return
			}
			failWrite(op, ErrPortNotOpen)
		default:
			return
		}
	}
}

func failWrite(op *writeOperation, err error) {
	select {
	case op.resultCh <- writeResult{0, err}:
	default:
	}
	close(op.resultCh)
}

// executeWrite performs the actual write operation
func (l *Listener) executeWrite(op *writeOperation) {
	defer close(op.resultCh)

	// Check if context is already cancelled
	select {
	case <-op.ctx.Done():
		select {
		case op.resultCh <- writeResult{0, op.ctx.Err()}:
		default:
		}
		return
	default:
	}

	// Hold the read lock so Stop cannot invalidate the handle mid-write.
	l.mu.RLock()
	defer l.mu.RUnlock()

	var result writeResult
	if !l.isOpen.Load() || l.handle == nil {
		result = writeResult{0, ErrPortNotOpen}
	} else {
		n, err := l.handle.Write(op.data)
		result = writeResult{n, err}
	}

	select {
	case op.resultCh <- result:
	case <-op.ctx.Done():
		// Context cancelled while we were writing
	}
}

// stopWriteQueue shuts the queue down and fails pending operations.
func (l *Listener) stopWriteQueue() {
	l.queueClosed.Store(true)

	l.queueMu.Lock()
	done := l.queueDone
	exited := l.writeGoroutineDone
	l.writeQueue = nil
	l.queueDone = nil
	l.writeGoroutineDone = nil
	l.queueMu.Unlock()

	if done != nil {
		close(done)
	}
	if exited != nil {
		select {
		case <-exited:
		case <-time.After(100 * time.Millisecond):
			// Timeout waiting for goroutine, proceed anyway
		}
	}
}

// Write writes data to the serial port using the configured write timeout,
// or without a deadline when none is configured.
func (l *Listener) Write(b []byte) (int, error) {
	timeout := l.configSnapshot().WriteTimeout
	if timeout <= 0 {
		return l.WriteWithContext(context.Background(), b)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	n, err := l.WriteWithContext(ctx, b)
	if errors.Is(err, context.DeadlineExceeded) {
		err = ErrWriteTimeout
	}
	return n, err
}

// WriteLine writes a line to the device, appending the configured delimiter
// if missing.
func (l *Listener) WriteLine(s string) (int, error) {
	cfg := l.configSnapshot()
	if len(s) == 0 || s[len(s)-1] != cfg.Delimiter {
		s += string(cfg.Delimiter)
	}
	return l.Write([]byte(s))
}

// WriteWithContext writes data to the serial port with context for cancellation/timeout.
// Writes are serialized through a single queue goroutine so concurrent
// callers never interleave on the wire.
func (l *Listener) WriteWithContext(ctx context.Context, b []byte) (int, error) {
	start := time.Now()
	var n int
	var err error

	defer func() {
		if l.metricsEnabled.Load() && l.metrics != nil {
			l.recordWriteMetrics(n, err, time.Since(start))
		}
	}()

	if err = l.validateBuffer(b, true); err != nil {
		return 0, err
	}

	l.queueMu.RLock()
	queue := l.writeQueue
	done := l.queueDone
	exited := l.writeGoroutineDone
	l.queueMu.RUnlock()

	if queue == nil || l.queueClosed.Load() {
		return 0, ErrPortNotOpen
	}

	op := &writeOperation{
		data:     b,
		ctx:      ctx,
		resultCh: make(chan writeResult, 1),
	}

	select {
	case queue <- op:
	case <-done:
		return 0, ErrPortNotOpen
	case <-ctx.Done():
		return 0, ctx.Err()
	}

	select {
	case result := <-op.resultCh:
		n, err = result.n, result.err
		return n, err
	case <-exited:
		// Processor exited before picking the operation up; drain it
		// ourselves so nothing is left dangling.
		select {
		case result := <-op.resultCh:
			n, err = result.n, result.err
			return n, err
		default:
		}
		err = ErrPortNotOpen
		return 0, err
	case <-ctx.Done():
		err = ctx.Err()
		return 0, err
	}
}
