package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Writer is the audit sink. Write may block; the async logger keeps it
// off the request path.
type Writer interface {
	Write(event Event) error
	Close() error
}

// stdoutWriter emits JSON lines to stdout. The default sink; log
// shippers pick the lines up from there.
type stdoutWriter struct {
	mu      sync.Mutex
	encoder *json.Encoder
}

// NewStdoutWriter creates a stdout sink.
func NewStdoutWriter() Writer {
	return &stdoutWriter{encoder: json.NewEncoder(os.Stdout)}
}

func (w *stdoutWriter) Write(event Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.encoder.Encode(event)
}

func (w *stdoutWriter) Close() error {
	return nil
}

// fileWriter appends JSON lines to a rotated file.
type fileWriter struct {
	mu      sync.Mutex
	logger  *lumberjack.Logger
	encoder *json.Encoder
}

// NewFileWriter creates a file sink with rotation.
func NewFileWriter(filename string, maxSizeMB, maxAgeDays, maxBackups int) (Writer, error) {
	if err := os.MkdirAll(filepath.Dir(filename), 0o755); err != nil {
		return nil, fmt.Errorf("create audit log directory: %w", err)
	}

	logger := &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    maxSizeMB,
		MaxAge:     maxAgeDays,
		MaxBackups: maxBackups,
		LocalTime:  true,
		Compress:   true,
	}

	return &fileWriter{
		logger:  logger,
		encoder: json.NewEncoder(logger),
	}, nil
}

func (w *fileWriter) Write(event Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.encoder.Encode(event)
}

func (w *fileWriter) Close() error {
	return w.logger.Close()
}
