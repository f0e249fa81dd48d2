package logging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

const logFileName = "engine.log"

type FileLogger struct {
	Logger  *slog.Logger
	Close   func() error
	Path    string
	Enabled bool
}

func Nop() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

func disabled() FileLogger {
	return FileLogger{Logger: Nop(), Close: func() error { return nil }}
}

// NewFileLogger writes JSON lines to <logDir>/engine.log when debug is on.
// Without debug the engine stays silent; stdout belongs to the RPC channel.
func NewFileLogger(logDir string, debug bool) (FileLogger, error) {
	if !debug {
		return disabled(), nil
	}
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return disabled(), err
	}
	path := filepath.Join(logDir, logFileName)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return disabled(), err
	}
	handler := slog.NewJSONHandler(file, &slog.HandlerOptions{
		Level:       slog.LevelDebug,
		AddSource:   true,
		ReplaceAttr: redactAttr,
	})
	return FileLogger{
		Logger:  slog.New(handler),
		Close:   file.Close,
		Path:    path,
		Enabled: true,
	}, nil
}

func redactAttr(_ []string, attr slog.Attr) slog.Attr {
	if isSecretKey(attr.Key) && attr.Value.Kind() == slog.KindString {
		return slog.String(attr.Key, RedactValue(attr.Value.String()))
	}
	return attr
}
