package seriallogger

import (
	"bytes"
	"context"
	"time"

	gobug "go.bug.st/serial"
)

const (
	// detectProbeLines is how many lines are sampled per candidate port
	// before moving on.
	detectProbeLines = 5

	// detectProbeDelay gives the device time to emit between samples.
	detectProbeDelay = 100 * time.Millisecond
)

// DetectPort scans the available serial ports for a device emitting marker
// traffic and returns the first match. On success the detected port is
// stored in the listener configuration, so a subsequent Start uses it.
//
// Ports that cannot be opened (permission, in use) are skipped. DetectPort
// must not be called while the listener is running.
func (l *Listener) DetectPort(ctx context.Context) (string, error) {
	if l.listening.Load() {
		return "", ErrAlreadyListening
	}

	cfg := l.configSnapshot()
	mode := &gobug.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: cfg.DataBits,
		Parity:   Parity(cfg.Parity).Get(),
		StopBits: stopBitsFromFloat(cfg.StopBits),
	}

	ports, err := AvailablePorts()
	if err != nil {
		return "", err
	}

	l.logger.Debug().Int("candidates", len(ports)).Msg("detecting device port")

	for _, name := range ports {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}

		if ok := l.probePort(ctx, name, mode, cfg); ok {
			// A Start racing the scan can win in between; the detected
			// port must not be stored under a live session.
			if err := l.SetPort(name); err != nil {
				return "", err
			}
			l.logger.Info().Str("port", name).Msg("device detected")
			return name, nil
		}
	}

	return "", ErrNoPortDetected
}

// probePort opens a candidate and samples a handful of lines looking for
// the marker.
func (l *Listener) probePort(ctx context.Context, name string, mode *gobug.Mode, cfg Config) bool {
	l.logger.Debug().Str("port", name).Msg("probing port")

	handle, err := openPort(name, mode)
	if err != nil {
		l.logger.Debug().Str("port", name).Err(err).Msg("could not open port")
		return false
	}
	defer handle.Close()

	if err = handle.SetReadTimeout(cfg.ReadTimeout); err != nil {
		l.logger.Debug().Str("port", name).Err(err).Msg("could not set read timeout")
		return false
	}

	buf, cleanup := l.bufferPoolManager.GetPooledBuffer(1024)
	if buf == nil {
		return false
	}
	defer cleanup()

	var pending []byte
	for i := 0; i < detectProbeLines; i++ {
		select {
		case <-ctx.Done():
			return false
		default:
		}

		n, err := handle.Read(buf)
		if err != nil {
			return false
		}
		if n == 0 {
			// read timeout; the device may still be resetting
			time.Sleep(detectProbeDelay)
			continue
		}

		pending = append(pending, buf[:n]...)
		if bytes.Contains(pending, []byte(cfg.Marker)) {
			return true
		}
		if len(pending) > maxLineSize {
			pending = pending[len(pending)-len(cfg.Marker):]
		}
	}
	return false
}

func stopBitsFromFloat(sb float64) gobug.StopBits {
	switch sb {
	case 1.5:
		return gobug.OnePointFiveStopBits
	case 2:
		return gobug.TwoStopBits
	default:
		return gobug.OneStopBit
	}
}
