// Package events holds the append-only operator log that every pipeline stage
// writes to and that the UI, the websocket and the CLI consume.
package events

import (
	"fmt"
	"sync"
	"time"

	"github.com/tiss-anexos/intake/internal/models"
)

// Emitter receives pipeline events.
type Emitter interface {
	Emit(level models.EventLevel, message string)
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(level models.EventLevel, message string)

// Emit calls f.
func (f EmitterFunc) Emit(level models.EventLevel, message string) { f(level, message) }

// Discard drops every event.
var Discard Emitter = EmitterFunc(func(models.EventLevel, string) {})

// Emitf formats and emits one event.
func Emitf(e Emitter, level models.EventLevel, format string, args ...any) {
	if e == nil {
		return
	}
	e.Emit(level, fmt.Sprintf(format, args...))
}

// Log is a bounded append-only event log with live subscribers.
type Log struct {
	mu       sync.RWMutex
	entries  []models.Event
	capacity int
	nextSeq  int64
	subs     map[int]chan models.Event
	nextSub  int
	now      func() time.Time
}

// NewLog creates a log keeping at most capacity entries (0 = unbounded).
func NewLog(capacity int) *Log {
	return &Log{
		capacity: capacity,
		nextSeq:  1,
		subs:     make(map[int]chan models.Event),
		now:      time.Now,
	}
}

// Emit implements Emitter.
func (l *Log) Emit(level models.EventLevel, message string) {
	l.Add(level, message)
}

// Add appends an event and fans it out to subscribers.
func (l *Log) Add(level models.EventLevel, message string) models.Event {
	l.mu.Lock()
	defer l.mu.Unlock()

	ev := models.Event{
		Seq:     l.nextSeq,
		Time:    l.now(),
		Level:   level,
		Message: message,
	}
	l.nextSeq++

	l.entries = append(l.entries, ev)
	if l.capacity > 0 && len(l.entries) > l.capacity {
		l.entries = append([]models.Event(nil), l.entries[len(l.entries)-l.capacity:]...)
	}

	for _, ch := range l.subs {
		// Slow consumers lose events instead of stalling the run
		select {
		case ch <- ev:
		default:
		}
	}

	return ev
}

// Since returns the retained events with Seq greater than seq.
func (l *Log) Since(seq int64) []models.Event {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]models.Event, 0, len(l.entries))
	for _, ev := range l.entries {
		if ev.Seq > seq {
			out = append(out, ev)
		}
	}
	return out
}

// Clear drops the retained events and records that the console was cleared.
func (l *Log) Clear() {
	l.mu.Lock()
	l.entries = nil
	l.mu.Unlock()

	l.Add(models.LevelInfo, "Console cleared")
}

// Subscribe registers a live consumer. The returned function unsubscribes and
// closes the channel.
func (l *Log) Subscribe(buffer int) (<-chan models.Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan models.Event, buffer)

	l.mu.Lock()
	id := l.nextSub
	l.nextSub++
	l.subs[id] = ch
	l.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.subs, id)
			l.mu.Unlock()
			close(ch)
		})
	}
}

// Tee forwards every event to all emitters.
func Tee(emitters ...Emitter) Emitter {
	return EmitterFunc(func(level models.EventLevel, message string) {
		for _, e := range emitters {
			if e != nil {
				e.Emit(level, message)
			}
		}
	})
}
