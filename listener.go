package seriallogger

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	gobug "go.bug.st/serial"
	"go.uber.org/atomic"
)

const (
	// MaxBufferSize defines the maximum allowed buffer size for Read/Write operations
	// This prevents excessive memory allocation and potential DoS attacks.
	// 64KB is sufficient for line-oriented telemetry and aligns with typical
	// OS serial buffer sizes.
	MaxBufferSize = 64 * 1024 // 64KB

	// AbsoluteMaxBufferSize defines the absolute maximum buffer size that can be allocated
	// This prevents memory exhaustion attacks even for non-pooled allocations.
	// SECURITY: allocation requests above this limit are refused
	AbsoluteMaxBufferSize = 1024 * 1024 // 1MB

	// maxLineSize bounds the line reassembly buffer; longer lines are dropped.
	maxLineSize = 4096
)

// DataHandler receives the parsed key-value pairs of one telemetry line.
// It is invoked sequentially from the reader goroutine.
type DataHandler func(fields map[string]string)

// LineHandler receives every raw line, marker or not, before parsing.
type LineHandler func(line string)

// Listener manages a serial connection to an Arduino-class device and
// forwards each parsed telemetry line to the registered callback.
type Listener struct {
	logger zerolog.Logger

	// Config synchronization - protects cfg and related fields
	cfg      Config
	configMu sync.RWMutex

	// stateMu serializes Start/Stop transitions so a Stop racing a Start
	// never tears down a half-initialized session.
	stateMu   sync.Mutex
	listening atomic.Bool
	isOpen    atomic.Bool

	handle portHandle
	mu     sync.RWMutex

	callback    DataHandler
	lineHandler LineHandler
	callbackMu  sync.RWMutex

	// Session channels, recreated on each Start
	closeCh chan struct{}
	doneCh  chan struct{}

	// Write queue for serial write operations
	writeQueue         chan *writeOperation
	queueDone          chan struct{}
	writeGoroutineDone chan struct{}
	queueClosed        atomic.Bool
	queueMu            sync.RWMutex

	// Instance-specific buffer pool manager
	bufferPoolManager *BufferPoolManager

	// Metrics
	metrics            *Metrics
	metricsEnabled     atomic.Bool
	metricsBroadcaster *MetricsBroadcaster
}

// New creates a Listener with the given configuration. Zero-valued fields
// fall back to the defaults of DefaultConfig.
func New(cfg Config) *Listener {
	applyDefaults(&cfg)
	return NewWithLogger(cfg, newLogger(cfg))
}

// NewWithLogger is New with a caller-supplied logger, for embedding the
// listener into an application that already configures zerolog.
func NewWithLogger(cfg Config, logger zerolog.Logger) *Listener {
	applyDefaults(&cfg)

	l := &Listener{
		cfg:     cfg,
		logger:  logger,
		metrics: &Metrics{},
	}
	l.metricsEnabled.Store(true)
	l.bufferPoolManager = NewBufferPoolManager(l)
	return l
}

// SetPort changes the serial device path. The listener must be stopped.
func (l *Listener) SetPort(port string) error {
	if l.listening.Load() {
		return ErrAlreadyListening
	}
	l.configMu.Lock()
	l.cfg.PortName = port
	l.configMu.Unlock()
	l.logger.Debug().Str("port", port).Msg("serial port set")
	return nil
}

// SetBaudRate changes the baud rate. The listener must be stopped.
func (l *Listener) SetBaudRate(baud int) error {
	if l.listening.Load() {
		return ErrAlreadyListening
	}
	l.configMu.Lock()
	l.cfg.BaudRate = baud
	l.configMu.Unlock()
	l.logger.Debug().Int("baud", baud).Msg("baud rate set")
	return nil
}

// SetCallback registers the data handler invoked for each parsed line.
func (l *Listener) SetCallback(fn DataHandler) error {
	if fn == nil {
		return errors.New("seriallogger: callback must not be nil")
	}
	l.callbackMu.Lock()
	l.callback = fn
	l.callbackMu.Unlock()
	return nil
}

// SetLineHandler registers an optional handler for raw lines. Passing nil
// removes it.
func (l *Listener) SetLineHandler(fn LineHandler) {
	l.callbackMu.Lock()
	l.lineHandler = fn
	l.callbackMu.Unlock()
}

// IsListening reports whether the reader loop is running.
func (l *Listener) IsListening() bool {
	return l.listening.Load()
}

// Config returns a copy of the current configuration.
func (l *Listener) Config() Config {
	return l.configSnapshot()
}

func (l *Listener) configSnapshot() Config {
	l.configMu.RLock()
	defer l.configMu.RUnlock()
	return l.cfg
}

// Start validates the configuration, opens the serial port and spawns the
// reader goroutine. It returns ErrAlreadyListening if the listener is
// running and ErrNoCallback if no data handler has been registered.
func (l *Listener) Start() (err error) {
	l.stateMu.Lock()
	defer l.stateMu.Unlock()

	if !l.listening.CompareAndSwap(false, true) {
		return ErrAlreadyListening
	}
	defer func() {
		if err != nil {
			l.listening.Store(false)
		}
	}()

	l.callbackMu.RLock()
	hasCallback := l.callback != nil
	l.callbackMu.RUnlock()
	if !hasCallback {
		return ErrNoCallback
	}

	cfg := l.configSnapshot()
	if err = ValidateConfig(&cfg); err != nil {
		if l.metrics != nil {
			l.metrics.ConfigurationErrors.Add(1)
		}
		return fmt.Errorf("invalid serial configuration: %w", err)
	}

	if l.metrics != nil {
		l.metrics.ConnectionAttempts.Add(1)
	}

	ok, listErr := isPortAvailable(cfg.PortName)
	if listErr != nil {
		if l.metrics != nil {
			l.metrics.ConnectionFailures.Add(1)
		}
		return fmt.Errorf("listing ports: %w", listErr)
	}
	if !ok {
		if l.metrics != nil {
			l.metrics.PortValidationErrors.Add(1)
			l.metrics.ConnectionFailures.Add(1)
		}
		return ErrInvalidPortName
	}

	mode := &gobug.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: cfg.DataBits,
		Parity:   Parity(cfg.Parity).Get(),
		StopBits: stopBitsFromFloat(cfg.StopBits),
	}

	l.mu.Lock()
	l.handle, err = openPort(cfg.PortName, mode)
	if err != nil {
		l.mu.Unlock()
		if l.metrics != nil {
			l.metrics.ConnectionFailures.Add(1)
			l.metrics.HardwareErrors.Add(1)
		}
		return fmt.Errorf("opening serial port: %w", err)
	}
	if err = l.handle.SetReadTimeout(cfg.ReadTimeout); err != nil {
		err = l.handleOpenError(err)
		l.mu.Unlock()
		return err
	}
	l.mu.Unlock()

	l.closeCh = make(chan struct{})
	l.doneCh = make(chan struct{})
	l.startWriteQueue()
	l.isOpen.Store(true)

	if l.metrics != nil {
		l.metrics.SuccessfulConnects.Add(1)
		l.metrics.CurrentConnections.Store(1)
		l.metrics.LastConnectTime.Store(time.Now().Unix())
		l.metrics.ConnectionStartTime.Store(time.Now().UnixNano())
		l.resetConsecutiveFailures()
	}

	l.logger.Debug().
		Str("port", cfg.PortName).
		Int("baud", cfg.BaudRate).
		Msg("listening for serial data")

	go l.listenLoop(cfg)

	return nil
}

// handleOpenError closes the port and joins any error from closing with the original error
// This method assumes the mutex is already held by the caller
func (l *Listener) handleOpenError(err error) error {
	h := l.handle
	l.handle = nil
	if h != nil {
		if e := h.Close(); e != nil {
			err = errors.Join(err, e)
		}
	}
	return err
}

// Stop shuts down the reader loop and closes the port. It is safe to call
// multiple times; stopping a listener that is not running is a no-op.
// No callback invocations happen after Stop returns.
func (l *Listener) Stop() error {
	l.stateMu.Lock()
	defer l.stateMu.Unlock()

	if !l.listening.CompareAndSwap(true, false) {
		return nil
	}

	cfg := l.configSnapshot()

	l.isOpen.Store(false)
	close(l.closeCh)

	l.stopWriteQueue()

	if l.metrics != nil {
		startTime := l.metrics.ConnectionStartTime.Load()
		if startTime > 0 {
			l.metrics.TotalUptime.Add(time.Now().UnixNano() - startTime)
		}
		l.metrics.Disconnections.Add(1)
		l.metrics.LastDisconnectTime.Store(time.Now().Unix())
		l.metrics.CurrentConnections.Store(0)
	}

	// Close the port first to unblock an in-flight Read.
	l.mu.Lock()
	h := l.handle
	l.handle = nil
	l.mu.Unlock()

	var closeErr error
	if h != nil {
		closeErr = h.Close()
	}

	// Wait for the reader loop; the port read timeout bounds how long it
	// can stay blocked on platforms where Close does not interrupt Read.
	wait := 2*cfg.ReadTimeout + 500*time.Millisecond
	select {
	case <-l.doneCh:
	case <-time.After(wait):
		l.logger.Warn().Msg("reader loop did not exit before timeout")
	}

	l.logger.Debug().Msg("stopped listening")
	return closeErr
}

// listenLoop continuously reads from the serial port, reassembles lines and
// dispatches them until the port is closed.
func (l *Listener) listenLoop(cfg Config) {
	defer close(l.doneCh)

	buf, cleanup := l.bufferPoolManager.GetPooledBuffer(1024)
	if buf == nil {
		buf = make([]byte, 1024)
		cleanup = func() {}
	}
	defer cleanup()

	var lineBuf []byte
	dropping := false

	for {
		select {
		case <-l.closeCh:
			return
		default:
		}

		l.mu.RLock()
		handle := l.handle
		l.mu.RUnlock()
		if handle == nil {
			return
		}

		n, err := handle.Read(buf)
		if err != nil {
			select {
			case <-l.closeCh:
				// expected: Stop closed the port under us
			default:
				l.logger.Error().Err(err).Msg("serial read error")
				if l.metricsEnabled.Load() && l.metrics != nil {
					l.metrics.ReadErrors.Add(1)
					l.incrementConsecutiveFailures()
				}
			}
			return
		}
		if n == 0 {
			// read timeout; keep polling so closeCh is observed
			continue
		}

		if l.metricsEnabled.Load() && l.metrics != nil {
			l.metrics.ReadOperations.Add(1)
			l.metrics.BytesRead.Add(int64(n))
		}

		chunk := buf[:n]
		for len(chunk) > 0 {
			idx := bytes.IndexByte(chunk, cfg.Delimiter)
			if idx == -1 {
				lineBuf = append(lineBuf, chunk...)
				if len(lineBuf) > maxLineSize && !dropping {
					dropping = true
					lineBuf = lineBuf[:0]
					l.logger.Warn().Err(ErrLineTooLong).Msg("dropping oversized line")
					if l.metrics != nil {
						l.metrics.LinesDropped.Add(1)
					}
				} else if dropping {
					lineBuf = lineBuf[:0]
				}
				break
			}

			lineBuf = append(lineBuf, chunk[:idx]...)
			chunk = chunk[idx+1:]

			if dropping {
				// tail of the oversized line; discard up to its delimiter
				dropping = false
				lineBuf = lineBuf[:0]
				continue
			}

			line := strings.TrimRight(string(lineBuf), "\r")
			lineBuf = lineBuf[:0]
			if line == "" {
				continue
			}
			l.dispatchLine(line, cfg)
		}
	}
}

// dispatchLine parses one complete line and invokes the registered handlers.
func (l *Listener) dispatchLine(line string, cfg Config) {
	if l.metricsEnabled.Load() && l.metrics != nil {
		l.metrics.LinesReceived.Add(1)
	}
	l.logger.Debug().Str("line", line).Msg("raw data received")

	l.callbackMu.RLock()
	cb := l.callback
	lh := l.lineHandler
	l.callbackMu.RUnlock()

	if lh != nil {
		l.invokeLineHandler(lh, line)
	}

	fields := ParseDataLine(line, cfg.Marker)
	if len(fields) == 0 {
		if l.metricsEnabled.Load() && l.metrics != nil {
			l.metrics.LinesIgnored.Add(1)
		}
		return
	}

	if l.metricsEnabled.Load() && l.metrics != nil {
		l.metrics.DataLines.Add(1)
	}

	if cb == nil {
		l.logger.Warn().Msg("no data handler is set")
		return
	}
	l.invokeCallback(cb, fields)
}

// invokeCallback runs the data handler with panic recovery so a faulty
// callback cannot kill the reader loop.
func (l *Listener) invokeCallback(cb DataHandler, fields map[string]string) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error().Interface("panic", r).Msg("data handler panicked")
			if l.metrics != nil {
				l.metrics.CallbackPanics.Add(1)
			}
		}
	}()

	if l.metricsEnabled.Load() && l.metrics != nil {
		l.metrics.CallbackInvocations.Add(1)
	}
	cb(fields)
}

func (l *Listener) invokeLineHandler(lh LineHandler, line string) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error().Interface("panic", r).Msg("line handler panicked")
			if l.metrics != nil {
				l.metrics.CallbackPanics.Add(1)
			}
		}
	}()
	lh(line)
}

// validateBuffer validates buffer parameters and records errors if needed
func (l *Listener) validateBuffer(b []byte, recordErrors bool) error {
	if len(b) == 0 {
		if recordErrors && l.metrics != nil {
			l.metrics.BufferErrors.Add(1)
		}
		return ErrInvalidBuffer
	}
	if len(b) > MaxBufferSize {
		if recordErrors && l.metrics != nil {
			l.metrics.BufferErrors.Add(1)
		}
		return ErrBufferTooLarge
	}
	return nil
}
