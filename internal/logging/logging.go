package logging

import (
	"io"
	"os"
	"path"
	"time"

	"github.com/rs/zerolog"
)

// L is the package logger. Components that want a scoped logger derive one
// via L.With() at construction time.
var L zerolog.Logger

var logFile *os.File

func init() {
	writer := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	L = zerolog.New(writer).With().Timestamp().Logger()
}

func SetLogLevel(level zerolog.Level) {
	L = L.Level(level)
}

// SetLogOutput adds a log file next to the console writer. Console output can
// be switched off when running as a service.
func SetLogOutput(dir, filename string, toConsole bool) error {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return err
	}
	f, err := os.OpenFile(path.Join(dir, filename), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0640)
	if err != nil {
		return err
	}
	logFile = f

	var w io.Writer = f
	if toConsole {
		w = zerolog.MultiLevelWriter(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}, f)
	}
	L = zerolog.New(w).With().Timestamp().Logger().Level(L.GetLevel())
	return nil
}

func Close() {
	if logFile != nil {
		_ = logFile.Close()
	}
}
