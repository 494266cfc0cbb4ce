package seriallogger

import (
	"sync"
	"sync/atomic"
	"time"
)

// Metrics tracks serial listener health statistics
type Metrics struct {
	// Connection Statistics
	ConnectionAttempts  atomic.Int64 // Total connection attempts
	SuccessfulConnects  atomic.Int64 // Successful connections
	ConnectionFailures  atomic.Int64 // Failed connections
	Disconnections      atomic.Int64 // Total disconnects
	CurrentConnections  atomic.Int64 // Currently active connections
	LastConnectTime     atomic.Int64 // Unix timestamp of last connect
	LastDisconnectTime  atomic.Int64 // Unix timestamp of last disconnect
	TotalUptime         atomic.Int64 // Total connected time in nanoseconds
	ConnectionStartTime atomic.Int64 // When current connection started

	// Read / line statistics
	ReadOperations atomic.Int64 // Reads that returned data
	ReadErrors     atomic.Int64 // Terminal read errors
	BytesRead      atomic.Int64 // Total bytes read

	LinesReceived atomic.Int64 // Complete lines reassembled
	DataLines     atomic.Int64 // Lines carrying the marker, parsed and dispatched
	LinesIgnored  atomic.Int64 // Lines without the marker
	LinesDropped  atomic.Int64 // Oversized lines discarded

	CallbackInvocations atomic.Int64 // Data handler calls
	CallbackPanics      atomic.Int64 // Panics recovered from handlers

	// Write Operations
	WriteOperations  atomic.Int64 // Total write attempts
	SuccessfulWrites atomic.Int64 // Successful writes
	WriteTimeouts    atomic.Int64 // Write timeout failures
	WriteErrors      atomic.Int64 // Other write errors
	BytesWritten     atomic.Int64 // Total bytes written
	TotalWriteTime   atomic.Int64 // Total time spent writing (ns)
	MaxWriteTime     atomic.Int64 // Slowest write operation (ns)
	LastWriteTime    atomic.Int64 // Timestamp of last write

	// Buffer Pool Metrics
	BufferPoolHits   atomic.Int64 // Buffer pool cache hits
	BufferPoolMisses atomic.Int64 // Buffer pool cache misses

	// Error Categories
	ConfigurationErrors  atomic.Int64 // Config-related errors
	PortValidationErrors atomic.Int64 // Invalid port errors
	BufferErrors         atomic.Int64 // Buffer validation errors
	TimeoutErrors        atomic.Int64 // All timeout errors
	HardwareErrors       atomic.Int64 // Hardware/driver errors

	// Health Indicators
	ConsecutiveFailures atomic.Int64 // Consecutive operation failures
	LastErrorTime       atomic.Int64 // Timestamp of last error
	ErrorRate           atomic.Int64 // Errors per thousand operations
}

// HealthStatus represents the overall health of the listener
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
	HealthStatusDown      HealthStatus = "down"
)

// MetricsBroadcaster handles channel-based metrics broadcasting. Only the
// broadcaster goroutine sends on (and eventually closes) metricsChannel, so
// Stop can never race a send on a closed channel.
type MetricsBroadcaster struct {
	metricsChannel   chan MetricsSnapshot
	broadcastTicker  *time.Ticker
	enabled          atomic.Bool
	stopCh           chan struct{}
	immediateCh      chan struct{}
	emissionInterval time.Duration
	stopOnce         sync.Once // Prevent double-close race
}

// NewMetricsBroadcaster creates a new metrics broadcaster with channel-based distribution
func NewMetricsBroadcaster(channelSize int, interval time.Duration) *MetricsBroadcaster {
	return &MetricsBroadcaster{
		metricsChannel:   make(chan MetricsSnapshot, channelSize),
		stopCh:           make(chan struct{}),
		immediateCh:      make(chan struct{}, 1),
		emissionInterval: interval,
	}
}

// Start begins broadcasting metrics to the channel
func (mb *MetricsBroadcaster) Start(l *Listener) {
	if !mb.enabled.CompareAndSwap(false, true) {
		return // Already running
	}

	mb.broadcastTicker = time.NewTicker(mb.emissionInterval)

	go func() {
		defer close(mb.metricsChannel)
		defer mb.broadcastTicker.Stop()

		for {
			select {
			case <-mb.stopCh:
				return
			case <-mb.immediateCh:
				mb.broadcastMetrics(l)
			case <-mb.broadcastTicker.C:
				mb.broadcastMetrics(l)
			}
		}
	}()
}

// Stop stops broadcasting metrics. The broadcaster goroutine closes the
// metrics channel on its way out.
func (mb *MetricsBroadcaster) Stop() {
	if mb.enabled.CompareAndSwap(true, false) {
		mb.stopOnce.Do(func() {
			close(mb.stopCh)
		})
	}
}

// BroadcastImmediate asks the broadcaster to send a snapshot now (for
// critical events). Safe to call at any time; a no-op once stopped.
func (mb *MetricsBroadcaster) BroadcastImmediate(l *Listener) {
	select {
	case mb.immediateCh <- struct{}{}:
	default:
	}
}

// GetMetricsChannel returns the read-only metrics channel for consumers
func (mb *MetricsBroadcaster) GetMetricsChannel() <-chan MetricsSnapshot {
	return mb.metricsChannel
}

func (mb *MetricsBroadcaster) broadcastMetrics(l *Listener) {
	// Check if broadcaster is still enabled to prevent sending to closed channel
	if !mb.enabled.Load() {
		return
	}

	snapshot := l.MetricsSnapshot()

	// Non-blocking send to avoid goroutine blocking
	select {
	case mb.metricsChannel <- *snapshot:
		// Successfully sent
	default:
		// Channel full or closed, skip this broadcast
	}
}

// Metrics calculation methods

func (m *Metrics) calculateConnectionSuccessRate() float64 {
	attempts := m.ConnectionAttempts.Load()
	if attempts == 0 {
		return 100.0
	}
	successes := m.SuccessfulConnects.Load()
	return float64(successes) / float64(attempts) * 100
}

func (m *Metrics) calculateDataLineRatio() float64 {
	lines := m.LinesReceived.Load()
	if lines == 0 {
		return 0.0
	}
	return float64(m.DataLines.Load()) / float64(lines) * 100
}

func (m *Metrics) calculateWriteSuccessRate() float64 {
	writes := m.WriteOperations.Load()
	if writes == 0 {
		return 100.0
	}
	successes := m.SuccessfulWrites.Load()
	return float64(successes) / float64(writes) * 100
}

func (m *Metrics) calculateAverageWriteLatency() time.Duration {
	writes := m.WriteOperations.Load()
	if writes == 0 {
		return 0
	}
	totalTime := m.TotalWriteTime.Load()
	return time.Duration(totalTime / writes)
}

func (m *Metrics) calculateThroughput(isConnected bool, connectionStartTime int64) float64 {
	if !isConnected || connectionStartTime == 0 {
		return 0.0
	}

	now := time.Now().UnixNano()
	duration := now - connectionStartTime
	if duration <= 0 {
		return 0.0
	}

	totalBytes := m.BytesRead.Load() + m.BytesWritten.Load()
	seconds := float64(duration) / float64(time.Second)
	return float64(totalBytes) / seconds
}

func (m *Metrics) calculateLinesPerSecond(isConnected bool, connectionStartTime int64) float64 {
	if !isConnected || connectionStartTime == 0 {
		return 0.0
	}

	now := time.Now().UnixNano()
	duration := now - connectionStartTime
	if duration <= 0 {
		return 0.0
	}

	seconds := float64(duration) / float64(time.Second)
	return float64(m.LinesReceived.Load()) / seconds
}

func (m *Metrics) calculateTimeoutRate() float64 {
	totalOps := m.WriteOperations.Load()
	if totalOps == 0 {
		return 0.0
	}
	return float64(m.WriteTimeouts.Load()) / float64(totalOps) * 100
}

func (m *Metrics) calculateBufferPoolHitRatio() float64 {
	total := m.BufferPoolHits.Load() + m.BufferPoolMisses.Load()
	if total == 0 {
		return 100.0
	}
	return float64(m.BufferPoolHits.Load()) / float64(total) * 100
}

func (m *Metrics) calculateUptime(isConnected bool, connectionStartTime int64) float64 {
	if !isConnected || connectionStartTime == 0 {
		return 0.0
	}

	now := time.Now().UnixNano()
	duration := now - connectionStartTime
	if duration <= 0 {
		return 0.0
	}

	return float64(duration) / float64(time.Second)
}

func (m *Metrics) assessHealthStatus(snapshot *MetricsSnapshot) HealthStatus {
	if !snapshot.IsConnected {
		return HealthStatusDown
	}

	// Check for critical issues
	if snapshot.ErrorRate > 50.0 || snapshot.ConsecutiveFailures > 5 {
		return HealthStatusUnhealthy
	}

	// Check for performance degradation
	if snapshot.ErrorRate > 10.0 || snapshot.TimeoutRate > 20.0 || snapshot.ConsecutiveFailures > 3 {
		return HealthStatusDegraded
	}

	return HealthStatusHealthy
}

func (m *Metrics) calculateHealthScore(snapshot *MetricsSnapshot) float64 {
	if !snapshot.IsConnected {
		return 0.0
	}

	score := 100.0

	// Deduct for errors
	score -= snapshot.ErrorRate * 2

	// Deduct for timeouts
	score -= snapshot.TimeoutRate

	// Deduct for consecutive failures (more severe penalty)
	score -= float64(snapshot.ConsecutiveFailures) * 10

	// Deduct for panicking callbacks
	score -= float64(snapshot.CallbackPanics) * 5

	if score < 0 {
		score = 0
	}

	return score
}
