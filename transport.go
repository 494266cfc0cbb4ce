package seriallogger

import (
	"time"

	gobug "go.bug.st/serial"
)

// allow tests to override external dependencies
var (
	openPort     = func(name string, mode *gobug.Mode) (portHandle, error) { return gobug.Open(name, mode) }
	getPortsList = gobug.GetPortsList
)

// portHandle abstracts the subset of go.bug.st/serial.Port used by this package.
type portHandle interface {
	SetReadTimeout(timeout time.Duration) error
	Write([]byte) (int, error)
	Read([]byte) (int, error)
	Close() error
}
