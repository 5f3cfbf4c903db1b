package audit

import (
	"sync"
	"time"
)

// Logger accepts denial events. Emit must be cheap and non-blocking.
type Logger interface {
	Emit(event Event)
	Flush() error
	Close() error
}

const (
	defaultBufferSize    = 1024
	defaultFlushInterval = time.Second
)

// Config contains configuration for the async logger.
type Config struct {
	// BufferSize is the ring capacity. When full, the oldest event is
	// dropped rather than blocking the request.
	BufferSize int

	// FlushInterval bounds how long an event sits buffered.
	FlushInterval time.Duration
}

// asyncLogger buffers events in a ring and flushes them to the writer
// from a background goroutine.
type asyncLogger struct {
	writer Writer

	mu     sync.Mutex
	buffer []Event
	size   int
	head   int
	tail   int

	flushCh   chan struct{}
	doneCh    chan struct{}
	closeOnce sync.Once
	done      sync.WaitGroup
	interval  time.Duration
}

// NewLogger creates an async logger over the writer.
func NewLogger(writer Writer, cfg Config) Logger {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = defaultFlushInterval
	}

	l := &asyncLogger{
		writer:   writer,
		buffer:   make([]Event, cfg.BufferSize),
		size:     cfg.BufferSize,
		flushCh:  make(chan struct{}, 1),
		doneCh:   make(chan struct{}),
		interval: cfg.FlushInterval,
	}

	l.done.Add(1)
	go l.run()
	return l
}

// Emit buffers one event. Never blocks; when the ring is full the
// oldest event is dropped.
func (l *asyncLogger) Emit(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	l.mu.Lock()
	l.buffer[l.tail] = event
	l.tail = (l.tail + 1) % l.size
	if l.tail == l.head {
		l.head = (l.head + 1) % l.size
	}
	l.mu.Unlock()

	select {
	case l.flushCh <- struct{}{}:
	default:
	}
}

func (l *asyncLogger) run() {
	defer l.done.Done()

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_ = l.Flush()
		case <-l.flushCh:
			_ = l.Flush()
		case <-l.doneCh:
			_ = l.Flush()
			return
		}
	}
}

// Flush writes all buffered events to the sink.
func (l *asyncLogger) Flush() error {
	l.mu.Lock()
	events := l.drain()
	l.mu.Unlock()

	var lastErr error
	for _, event := range events {
		if err := l.writer.Write(event); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// drain copies pending events and resets the ring. Caller holds mu.
func (l *asyncLogger) drain() []Event {
	if l.head == l.tail {
		return nil
	}

	var events []Event
	for i := l.head; i != l.tail; i = (i + 1) % l.size {
		events = append(events, l.buffer[i])
	}
	l.head = l.tail
	return events
}

// Close flushes remaining events and closes the sink.
func (l *asyncLogger) Close() error {
	l.closeOnce.Do(func() {
		close(l.doneCh)
	})
	l.done.Wait()
	return l.writer.Close()
}

// NopLogger discards all events.
type NopLogger struct{}

func (NopLogger) Emit(Event)   {}
func (NopLogger) Flush() error { return nil }
func (NopLogger) Close() error { return nil }
