package seriallogger

import "errors"

var (
	// ErrPortNotOpen is returned when an I/O operation is attempted while
	// the serial port is closed.
	ErrPortNotOpen = errors.New("seriallogger: port not open")

	// ErrAlreadyListening is returned by Start when the listener is
	// already running.
	ErrAlreadyListening = errors.New("seriallogger: already listening")

	// ErrNoCallback is returned by Start when no data handler has been
	// registered with SetCallback.
	ErrNoCallback = errors.New("seriallogger: no callback set")

	// ErrNoPortDetected is returned by DetectPort when no candidate port
	// emits marker traffic.
	ErrNoPortDetected = errors.New("seriallogger: no device detected")

	// ErrInvalidPortName is returned when the configured port does not
	// exist or does not look like a serial device.
	ErrInvalidPortName = errors.New("seriallogger: invalid port name")

	// ErrInvalidBuffer is returned for nil or empty I/O buffers.
	ErrInvalidBuffer = errors.New("seriallogger: invalid buffer")

	// ErrBufferTooLarge is returned when a buffer exceeds MaxBufferSize.
	ErrBufferTooLarge = errors.New("seriallogger: buffer too large")

	// ErrWriteTimeout is returned when a queued write does not complete
	// within its deadline.
	ErrWriteTimeout = errors.New("seriallogger: write timeout")

	// ErrLineTooLong is reported when a received line exceeds maxLineSize
	// and is dropped.
	ErrLineTooLong = errors.New("seriallogger: line too long")
)
