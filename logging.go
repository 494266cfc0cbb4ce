package seriallogger

import (
	"io"
	"os"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// newLogger builds the package logger. Debug mode enables full debug output
// on a console writer; otherwise only warnings and errors are emitted. When
// cfg.LogFile is set, output is mirrored to a size-rotated file.
func newLogger(cfg Config) zerolog.Logger {
	level := zerolog.WarnLevel
	if cfg.Debug {
		level = zerolog.DebugLevel
	}

	writers := []io.Writer{zerolog.ConsoleWriter{Out: os.Stderr}}
	if cfg.LogFile != "" {
		writers = append(writers, &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
		})
	}

	return zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(level).
		With().
		Timestamp().
		Str("component", "seriallogger").
		Logger()
}
