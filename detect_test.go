package seriallogger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	gobug "go.bug.st/serial"
)

// scriptPort replays a fixed sequence of read chunks.
type scriptPort struct {
	mu     sync.Mutex
	chunks [][]byte
	i      int
}

func (s *scriptPort) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.i >= len(s.chunks) {
		return 0, nil // emulate a read timeout
	}
	c := s.chunks[s.i]
	s.i++
	return copy(p, c), nil
}

func (s *scriptPort) Write(p []byte) (int, error)          { return len(p), nil }
func (s *scriptPort) Close() error                         { return nil }
func (s *scriptPort) SetReadTimeout(d time.Duration) error { return nil }

func installDetectMocks(t *testing.T, ports []string, handles map[string]portHandle, openErrs map[string]error) {
	t.Helper()
	origOpen, origList := openPort, getPortsList
	openPort = func(name string, mode *gobug.Mode) (portHandle, error) {
		if err, ok := openErrs[name]; ok {
			return nil, err
		}
		h, ok := handles[name]
		if !ok {
			return nil, errors.New("no handle scripted for " + name)
		}
		return h, nil
	}
	getPortsList = func() ([]string, error) { return ports, nil }
	t.Cleanup(func() {
		openPort = origOpen
		getPortsList = origList
	})
}

func detectConfig() Config {
	cfg := testConfig()
	cfg.ReadTimeout = 10 * time.Millisecond
	return cfg
}

func TestDetectPortFindsMarkerTraffic(t *testing.T) {
	installDetectMocks(t,
		[]string{"/dev/ttyS0", "/dev/ttyUSB0"},
		map[string]portHandle{
			"/dev/ttyS0": &scriptPort{chunks: [][]byte{
				[]byte("modem noise\n"),
				[]byte("more noise\n"),
				[]byte("still nothing\n"),
				[]byte("...\n"),
				[]byte("...\n"),
			}},
			"/dev/ttyUSB0": &scriptPort{chunks: [][]byte{
				[]byte("booting\n"),
				[]byte("D;temp:23.5\n"),
			}},
		},
		nil,
	)

	l := New(detectConfig())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	port, err := l.DetectPort(ctx)
	if err != nil {
		t.Fatalf("DetectPort error: %v", err)
	}
	if port != "/dev/ttyUSB0" {
		t.Fatalf("expected /dev/ttyUSB0, got %s", port)
	}
	if got := l.Config().PortName; got != "/dev/ttyUSB0" {
		t.Fatalf("detected port not stored in config, got %s", got)
	}
}

func TestDetectPortSkipsUnopenablePorts(t *testing.T) {
	installDetectMocks(t,
		[]string{"/dev/ttyS0", "/dev/ttyUSB0"},
		map[string]portHandle{
			"/dev/ttyUSB0": &scriptPort{chunks: [][]byte{
				[]byte("D;ok:1\n"),
			}},
		},
		map[string]error{"/dev/ttyS0": errors.New("device busy")},
	)

	l := New(detectConfig())

	port, err := l.DetectPort(context.Background())
	if err != nil {
		t.Fatalf("DetectPort error: %v", err)
	}
	if port != "/dev/ttyUSB0" {
		t.Fatalf("expected /dev/ttyUSB0, got %s", port)
	}
}

func TestDetectPortNoDevice(t *testing.T) {
	installDetectMocks(t,
		[]string{"/dev/ttyS0"},
		map[string]portHandle{
			"/dev/ttyS0": &scriptPort{chunks: [][]byte{
				[]byte("noise\n"),
			}},
		},
		nil,
	)

	l := New(detectConfig())

	if _, err := l.DetectPort(context.Background()); err != ErrNoPortDetected {
		t.Fatalf("expected ErrNoPortDetected, got %v", err)
	}
}

func TestDetectPortMarkerSplitAcrossReads(t *testing.T) {
	installDetectMocks(t,
		[]string{"/dev/ttyUSB0"},
		map[string]portHandle{
			"/dev/ttyUSB0": &scriptPort{chunks: [][]byte{
				[]byte("D"),
				[]byte(";temp:1\n"),
			}},
		},
		nil,
	)

	l := New(detectConfig())

	port, err := l.DetectPort(context.Background())
	if err != nil {
		t.Fatalf("DetectPort error: %v", err)
	}
	if port != "/dev/ttyUSB0" {
		t.Fatalf("expected /dev/ttyUSB0, got %s", port)
	}
}

func TestDetectPortWhileListening(t *testing.T) {
	mp := newMockPort()
	installMock(t, mp, "/dev/ttyUSB0")

	l := New(testConfig())
	_ = l.SetCallback(func(map[string]string) {})

	if err := l.Start(); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	defer l.Stop()

	if _, err := l.DetectPort(context.Background()); err != ErrAlreadyListening {
		t.Fatalf("expected ErrAlreadyListening, got %v", err)
	}
}

func TestDetectPortLosesRaceToStart(t *testing.T) {
	installDetectMocks(t,
		[]string{"/dev/ttyUSB0"},
		map[string]portHandle{
			"/dev/ttyUSB0": &scriptPort{chunks: [][]byte{
				[]byte("D;ok:1\n"),
			}},
		},
		nil,
	)

	cfg := detectConfig()
	cfg.PortName = "/dev/ttyS0"
	l := New(cfg)

	// Simulate a concurrent Start winning while the scan is probing.
	orig := openPort
	openPort = func(name string, mode *gobug.Mode) (portHandle, error) {
		l.listening.Store(true)
		return orig(name, mode)
	}
	t.Cleanup(func() { openPort = orig })

	if _, err := l.DetectPort(context.Background()); err != ErrAlreadyListening {
		t.Fatalf("expected ErrAlreadyListening, got %v", err)
	}
	if got := l.Config().PortName; got != "/dev/ttyS0" {
		t.Fatalf("detected port must not be stored under a live session, got %s", got)
	}
}

func TestDetectPortContextCancelled(t *testing.T) {
	installDetectMocks(t,
		[]string{"/dev/ttyS0"},
		map[string]portHandle{
			"/dev/ttyS0": &scriptPort{},
		},
		nil,
	)

	l := New(detectConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := l.DetectPort(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
