package seriallogger

import (
	"testing"
	"time"
)

func TestMetricsInitialization(t *testing.T) {
	l := New(testConfig())

	if l.metrics == nil {
		t.Fatal("metrics not initialized")
	}
	if !l.metricsEnabled.Load() {
		t.Fatal("metrics should be enabled by default")
	}
	if l.bufferPoolManager == nil {
		t.Fatal("buffer pool manager not initialized")
	}
}

func TestMetricsEnableDisable(t *testing.T) {
	l := New(testConfig())

	l.DisableMetrics()
	if l.IsMetricsEnabled() {
		t.Fatal("metrics should be disabled")
	}

	l.EnableMetrics()
	if !l.IsMetricsEnabled() {
		t.Fatal("metrics should be enabled")
	}
}

func TestMetricsReset(t *testing.T) {
	l := New(testConfig())

	l.metrics.LinesReceived.Add(10)
	l.metrics.BytesRead.Add(1000)

	l.ResetMetrics()

	if l.metrics.LinesReceived.Load() != 0 {
		t.Fatal("lines received should be reset to 0")
	}
	if l.metrics.BytesRead.Load() != 0 {
		t.Fatal("bytes read should be reset to 0")
	}
}

func TestMetricsSessionCounters(t *testing.T) {
	mp := newMockPort()
	installMock(t, mp, "/dev/ttyUSB0")

	received := make(chan map[string]string, 4)

	l := New(testConfig())
	_ = l.SetCallback(func(fields map[string]string) {
		received <- fields
	})

	if err := l.Start(); err != nil {
		t.Fatalf("Start error: %v", err)
	}

	mp.readCh <- []byte("noise\n")
	mp.readCh <- []byte("D;a:1\n")
	mp.readCh <- []byte("D;b:2\n")

	for i := 0; i < 2; i++ {
		select {
		case <-received:
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for callbacks")
		}
	}

	m := l.GetMetrics()
	if got := m.ConnectionAttempts.Load(); got != 1 {
		t.Fatalf("expected 1 connection attempt, got %d", got)
	}
	if got := m.SuccessfulConnects.Load(); got != 1 {
		t.Fatalf("expected 1 successful connect, got %d", got)
	}
	if got := m.LinesReceived.Load(); got != 3 {
		t.Fatalf("expected 3 lines received, got %d", got)
	}
	if got := m.DataLines.Load(); got != 2 {
		t.Fatalf("expected 2 data lines, got %d", got)
	}
	if got := m.LinesIgnored.Load(); got != 1 {
		t.Fatalf("expected 1 ignored line, got %d", got)
	}
	if got := m.CallbackInvocations.Load(); got != 2 {
		t.Fatalf("expected 2 callback invocations, got %d", got)
	}
	if m.BytesRead.Load() == 0 {
		t.Fatal("expected bytes read to be recorded")
	}

	if err := l.Stop(); err != nil {
		t.Fatalf("Stop error: %v", err)
	}

	if got := m.Disconnections.Load(); got != 1 {
		t.Fatalf("expected 1 disconnection, got %d", got)
	}
	if got := m.CurrentConnections.Load(); got != 0 {
		t.Fatalf("expected 0 current connections, got %d", got)
	}
}

func TestMetricsSnapshotHealth(t *testing.T) {
	mp := newMockPort()
	installMock(t, mp, "/dev/ttyUSB0")

	l := New(testConfig())
	_ = l.SetCallback(func(map[string]string) {})

	// Not connected yet: health is down
	snap := l.MetricsSnapshot()
	if snap.HealthStatus != string(HealthStatusDown) {
		t.Fatalf("expected down before Start, got %s", snap.HealthStatus)
	}
	if snap.HealthScore != 0 {
		t.Fatalf("expected score 0 before Start, got %f", snap.HealthScore)
	}

	if err := l.Start(); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	defer l.Stop()

	snap = l.MetricsSnapshot()
	if !snap.IsConnected {
		t.Fatal("snapshot should report connected")
	}
	if snap.HealthStatus != string(HealthStatusHealthy) {
		t.Fatalf("expected healthy, got %s", snap.HealthStatus)
	}
	if snap.ConnectionSuccess != 100.0 {
		t.Fatalf("expected 100%% connection success, got %f", snap.ConnectionSuccess)
	}
}

func TestMetricsDisabledSkipsRecording(t *testing.T) {
	mp := newMockPort()
	installMock(t, mp, "/dev/ttyUSB0")

	received := make(chan map[string]string, 1)

	l := New(testConfig())
	_ = l.SetCallback(func(fields map[string]string) {
		received <- fields
	})
	l.DisableMetrics()

	if err := l.Start(); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	defer l.Stop()

	mp.readCh <- []byte("D;a:1\n")
	select {
	case <-received:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for callback")
	}

	if got := l.GetMetrics().LinesReceived.Load(); got != 0 {
		t.Fatalf("expected no line metrics while disabled, got %d", got)
	}
}

func TestMetricsBroadcaster(t *testing.T) {
	mp := newMockPort()
	installMock(t, mp, "/dev/ttyUSB0")

	l := New(testConfig())
	_ = l.SetCallback(func(map[string]string) {})

	if err := l.Start(); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	defer l.Stop()

	if err := l.StartMetricsBroadcasting(10 * time.Millisecond); err != nil {
		t.Fatalf("StartMetricsBroadcasting error: %v", err)
	}
	defer l.StopMetricsBroadcasting()

	ch, err := l.MetricsChannel()
	if err != nil {
		t.Fatalf("MetricsChannel error: %v", err)
	}

	select {
	case snap := <-ch:
		if !snap.IsConnected {
			t.Fatal("broadcast snapshot should report connected")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for metrics broadcast")
	}
}

func TestMetricsChannelWithoutBroadcasting(t *testing.T) {
	l := New(testConfig())
	if _, err := l.MetricsChannel(); err == nil {
		t.Fatal("expected error when broadcasting not started")
	}
}

func TestBroadcastImmediateDoesNotRaceStop(t *testing.T) {
	l := New(testConfig())

	// Long interval so only immediate broadcasts produce snapshots.
	mb := NewMetricsBroadcaster(1, time.Hour)
	mb.Start(l)

	mb.BroadcastImmediate(l)
	select {
	case <-mb.GetMetricsChannel():
	case <-time.After(time.Second):
		t.Fatal("immediate broadcast not delivered")
	}

	// Hammer immediate broadcasts while stopping; a send racing the channel
	// close must not panic.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 1000; i++ {
			mb.BroadcastImmediate(l)
		}
	}()
	mb.Stop()
	<-done

	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-mb.GetMetricsChannel():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("metrics channel not closed after Stop")
		}
	}
}

func TestMetricsBroadcasterStopClosesChannel(t *testing.T) {
	mb := NewMetricsBroadcaster(4, 10*time.Millisecond)
	l := New(testConfig())

	mb.Start(l)
	mb.Stop()
	mb.Stop() // second Stop must not panic

	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-mb.GetMetricsChannel():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("metrics channel not closed after Stop")
		}
	}
}
