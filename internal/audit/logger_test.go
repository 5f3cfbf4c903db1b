package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memoryWriter collects events for assertions.
type memoryWriter struct {
	mu     sync.Mutex
	events []Event
	closed bool
}

func (w *memoryWriter) Write(event Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.events = append(w.events, event)
	return nil
}

func (w *memoryWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func (w *memoryWriter) snapshot() []Event {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]Event(nil), w.events...)
}

func denial(user string) Event {
	return Event{
		UserID:         user,
		TenantID:       "a0eebc99-9c0b-4ef8-bb6d-6bb9bd380a11",
		RolesPresented: []string{"viewer"},
		Endpoint:       "/api/users",
		DecisionKind:   DecisionPermission,
		Requirement:    "create_user",
		Reason:         "permission not granted",
	}
}

func TestLoggerDeliversEvents(t *testing.T) {
	w := &memoryWriter{}
	l := NewLogger(w, Config{FlushInterval: 10 * time.Millisecond})
	defer l.Close()

	l.Emit(denial("user-1"))
	l.Emit(denial("user-2"))

	assert.Eventually(t, func() bool {
		return len(w.snapshot()) == 2
	}, time.Second, 5*time.Millisecond)

	events := w.snapshot()
	assert.Equal(t, "user-1", events[0].UserID)
	assert.False(t, events[0].Timestamp.IsZero(), "timestamp filled in")
}

func TestLoggerCloseFlushes(t *testing.T) {
	w := &memoryWriter{}
	l := NewLogger(w, Config{FlushInterval: time.Hour})

	l.Emit(denial("user-1"))
	require.NoError(t, l.Close())

	assert.Len(t, w.snapshot(), 1)
	assert.True(t, w.closed)
}

func TestLoggerDropsOldestWhenFull(t *testing.T) {
	w := &memoryWriter{}
	l := &asyncLogger{
		writer:  w,
		buffer:  make([]Event, 4),
		size:    4,
		flushCh: make(chan struct{}, 1),
		doneCh:  make(chan struct{}),
	}

	// No background goroutine: fill past capacity, then flush manually.
	for i := 0; i < 6; i++ {
		l.Emit(denial(fmt.Sprintf("user-%d", i)))
	}
	require.NoError(t, l.Flush())

	events := w.snapshot()
	// Ring of size 4 holds at most 3 between flushes; oldest dropped.
	require.Len(t, events, 3)
	assert.Equal(t, "user-3", events[0].UserID)
	assert.Equal(t, "user-5", events[2].UserID)
}

func TestLoggerEmitConcurrent(t *testing.T) {
	w := &memoryWriter{}
	l := NewLogger(w, Config{BufferSize: 4096, FlushInterval: 5 * time.Millisecond})
	defer l.Close()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				l.Emit(denial("user"))
			}
		}()
	}
	wg.Wait()

	assert.Eventually(t, func() bool {
		return len(w.snapshot()) == 400
	}, time.Second, 5*time.Millisecond)
}

func TestFileWriter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit", "denials.log")
	w, err := NewFileWriter(path, 1, 1, 1)
	require.NoError(t, err)

	require.NoError(t, w.Write(denial("user-1")))
	require.NoError(t, w.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	var got Event
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, "user-1", got.UserID)
	assert.Equal(t, DecisionPermission, got.DecisionKind)
}
