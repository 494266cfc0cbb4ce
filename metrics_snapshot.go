package seriallogger

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// MetricsSnapshot is a point-in-time view of listener health, suitable for
// dashboards or periodic export.
type MetricsSnapshot struct {
	Timestamp   time.Time `json:"timestamp"`
	IsConnected bool      `json:"is_connected"`

	ConnectionSuccess   float64       `json:"connection_success"`
	DataLineRatio       float64       `json:"data_line_ratio"`
	WriteSuccessRate    float64       `json:"write_success_rate"`
	AverageWriteLatency time.Duration `json:"average_write_latency"`
	MaxWriteLatency     time.Duration `json:"max_write_latency"`
	BytesPerSecond      float64       `json:"bytes_per_second"`
	LinesPerSecond      float64       `json:"lines_per_second"`
	TimeoutRate         float64       `json:"timeout_rate"`
	ErrorRate           float64       `json:"error_rate"`
	ConsecutiveFailures int64         `json:"consecutive_failures"`
	BufferPoolHitRatio  float64       `json:"buffer_pool_hit_ratio"`
	UptimeSeconds       float64       `json:"uptime_seconds"`

	// Detailed counts for debugging
	TotalLines        int64 `json:"total_lines"`
	TotalDataLines    int64 `json:"total_data_lines"`
	TotalIgnoredLines int64 `json:"total_ignored_lines"`
	TotalDroppedLines int64 `json:"total_dropped_lines"`
	TotalBytesRead    int64 `json:"total_bytes_read"`
	TotalWrites       int64 `json:"total_writes"`
	TotalBytesWritten int64 `json:"total_bytes_written"`
	TotalErrors       int64 `json:"total_errors"`
	CallbackPanics    int64 `json:"callback_panics"`

	HealthStatus string  `json:"health_status"`
	HealthScore  float64 `json:"health_score"`
}

// Metrics accessor and management methods for Listener

// GetMetrics returns the current metrics instance
func (l *Listener) GetMetrics() *Metrics {
	if l.metrics == nil {
		return &Metrics{} // Return empty metrics if not initialized
	}
	return l.metrics
}

// MetricsSnapshot creates a comprehensive snapshot for frontend consumption
func (l *Listener) MetricsSnapshot() *MetricsSnapshot {
	if l.metrics == nil {
		return &MetricsSnapshot{
			Timestamp:    time.Now(),
			HealthStatus: string(HealthStatusDown),
			HealthScore:  0,
		}
	}

	now := time.Now()
	isConnected := l.isOpen.Load()
	connectionStartTime := l.metrics.ConnectionStartTime.Load()

	snapshot := &MetricsSnapshot{
		Timestamp:   now,
		IsConnected: isConnected,
	}

	// Calculate rates and averages
	snapshot.ConnectionSuccess = l.metrics.calculateConnectionSuccessRate()
	snapshot.DataLineRatio = l.metrics.calculateDataLineRatio()
	snapshot.WriteSuccessRate = l.metrics.calculateWriteSuccessRate()
	snapshot.AverageWriteLatency = l.metrics.calculateAverageWriteLatency()
	snapshot.MaxWriteLatency = time.Duration(l.metrics.MaxWriteTime.Load())
	snapshot.BytesPerSecond = l.metrics.calculateThroughput(isConnected, connectionStartTime)
	snapshot.LinesPerSecond = l.metrics.calculateLinesPerSecond(isConnected, connectionStartTime)
	snapshot.TimeoutRate = l.metrics.calculateTimeoutRate()
	snapshot.ErrorRate = float64(l.metrics.ErrorRate.Load()) / 10.0 // Convert from per-1000 to percentage
	snapshot.ConsecutiveFailures = l.metrics.ConsecutiveFailures.Load()
	snapshot.BufferPoolHitRatio = l.metrics.calculateBufferPoolHitRatio()
	snapshot.UptimeSeconds = l.metrics.calculateUptime(isConnected, connectionStartTime)

	// Detailed counts for debugging
	snapshot.TotalLines = l.metrics.LinesReceived.Load()
	snapshot.TotalDataLines = l.metrics.DataLines.Load()
	snapshot.TotalIgnoredLines = l.metrics.LinesIgnored.Load()
	snapshot.TotalDroppedLines = l.metrics.LinesDropped.Load()
	snapshot.TotalBytesRead = l.metrics.BytesRead.Load()
	snapshot.TotalWrites = l.metrics.WriteOperations.Load()
	snapshot.TotalBytesWritten = l.metrics.BytesWritten.Load()
	snapshot.TotalErrors = l.metrics.ReadErrors.Load() + l.metrics.WriteErrors.Load()
	snapshot.CallbackPanics = l.metrics.CallbackPanics.Load()

	// Health assessment
	health := l.metrics.assessHealthStatus(snapshot)
	snapshot.HealthStatus = string(health)
	snapshot.HealthScore = l.metrics.calculateHealthScore(snapshot)

	return snapshot
}

// EnableMetrics turns on metrics collection
func (l *Listener) EnableMetrics() {
	l.metricsEnabled.Store(true)
}

// DisableMetrics turns off metrics collection
func (l *Listener) DisableMetrics() {
	l.metricsEnabled.Store(false)
}

// IsMetricsEnabled returns whether metrics collection is enabled
func (l *Listener) IsMetricsEnabled() bool {
	return l.metricsEnabled.Load()
}

// ResetMetrics clears all metrics (useful for testing)
func (l *Listener) ResetMetrics() {
	if l.metrics != nil {
		l.metrics = &Metrics{}
	}
}

// StartMetricsBroadcasting begins broadcasting metrics to the channel
func (l *Listener) StartMetricsBroadcasting(interval time.Duration) error {
	if l.metricsBroadcaster != nil {
		l.metricsBroadcaster.Stop()
	}

	channelSize := l.configSnapshot().MetricsChannelSize
	if channelSize <= 0 {
		channelSize = 50 // Default channel size
	} else if channelSize > 10000 {
		// Prevent excessive memory allocation for metrics channel
		return fmt.Errorf("metrics channel size too large: %d (max 10000)", channelSize)
	}

	l.metricsBroadcaster = NewMetricsBroadcaster(channelSize, interval)
	l.metricsBroadcaster.Start(l)
	return nil
}

// StopMetricsBroadcasting stops broadcasting metrics
func (l *Listener) StopMetricsBroadcasting() {
	if l.metricsBroadcaster != nil {
		l.metricsBroadcaster.Stop()
		l.metricsBroadcaster = nil
	}
}

// BroadcastMetricsImmediate sends current metrics to channel immediately
func (l *Listener) BroadcastMetricsImmediate() {
	if l.metricsBroadcaster != nil {
		l.metricsBroadcaster.BroadcastImmediate(l)
	}
}

// MetricsChannel returns the read-only metrics channel for consumers
func (l *Listener) MetricsChannel() (<-chan MetricsSnapshot, error) {
	if l.metricsBroadcaster == nil {
		return nil, errors.New("seriallogger: metrics broadcasting not started")
	}
	return l.metricsBroadcaster.GetMetricsChannel(), nil
}

// Internal metrics recording methods

func (l *Listener) recordWriteMetrics(bytesWritten int, err error, duration time.Duration) {
	if l.metrics == nil {
		return
	}

	// Record that a write operation occurred
	l.metrics.WriteOperations.Add(1)
	l.metrics.LastWriteTime.Store(time.Now().Unix())
	l.metrics.TotalWriteTime.Add(duration.Nanoseconds())

	// Update max write time
	for {
		current := l.metrics.MaxWriteTime.Load()
		if duration.Nanoseconds() <= current {
			break
		}
		if l.metrics.MaxWriteTime.CompareAndSwap(current, duration.Nanoseconds()) {
			break
		}
	}

	if err != nil {
		l.metrics.WriteErrors.Add(1)
		l.incrementConsecutiveFailures()
		l.recordErrorMetrics(err)
	} else {
		l.metrics.SuccessfulWrites.Add(1)
		l.metrics.BytesWritten.Add(int64(bytesWritten))
		l.resetConsecutiveFailures()
	}
}

func (l *Listener) recordErrorMetrics(err error) {
	if l.metrics == nil {
		return
	}

	l.metrics.LastErrorTime.Store(time.Now().Unix())

	// Categorize errors
	if errors.Is(err, ErrWriteTimeout) || errors.Is(err, context.DeadlineExceeded) {
		l.metrics.WriteTimeouts.Add(1)
		l.metrics.TimeoutErrors.Add(1)
	} else if errors.Is(err, context.Canceled) {
		// Context cancellation is not necessarily an error
	} else if errors.Is(err, ErrInvalidBuffer) || errors.Is(err, ErrBufferTooLarge) {
		l.metrics.BufferErrors.Add(1)
	} else if errors.Is(err, ErrInvalidPortName) {
		l.metrics.PortValidationErrors.Add(1)
	} else {
		l.metrics.HardwareErrors.Add(1)
	}

	// Update error rate (errors per 1000 operations)
	totalOps := l.metrics.ReadOperations.Load() + l.metrics.WriteOperations.Load()
	totalErrors := l.metrics.ReadErrors.Load() + l.metrics.WriteErrors.Load()
	if totalOps > 0 {
		errorRate := (totalErrors * 1000) / totalOps
		l.metrics.ErrorRate.Store(errorRate)
	}
}

func (l *Listener) incrementConsecutiveFailures() {
	if l.metrics != nil {
		l.metrics.ConsecutiveFailures.Add(1)
	}
}

func (l *Listener) resetConsecutiveFailures() {
	if l.metrics != nil {
		l.metrics.ConsecutiveFailures.Store(0)
	}
}
