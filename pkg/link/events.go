// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package link

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap/zapcore"
)

// EventKind names what happened
type EventKind string

const (
	EventStatusOK          EventKind = "status-ok"
	EventStatusReady       EventKind = "status-ready"
	EventStatusRemoteReady EventKind = "status-remote-ready"
	EventEmergencyStop     EventKind = "emergency-stop"
	EventSystemError       EventKind = "system-error"
	EventError             EventKind = "error"
	EventUnknownStatus     EventKind = "unknown-status"
	EventSignalUpdated     EventKind = "signal-updated"
	EventConnected         EventKind = "connected"
	EventDisconnected      EventKind = "disconnected"
	EventMessageSent       EventKind = "message-sent"
)

// IsStatus reports whether the event was raised by a STATUS message
func (k EventKind) IsStatus() bool {
	switch k {
	case EventStatusOK, EventStatusReady, EventStatusRemoteReady,
		EventEmergencyStop, EventSystemError, EventError, EventUnknownStatus:
		return true
	}
	return false
}

// Event is one entry of the link's event stream. Signal and Value are set
// for signal-updated; Code carries the signed payload of STATUS events.
type Event struct {
	Time   time.Time     `json:"time"`
	Kind   EventKind     `json:"kind"`
	Level  zapcore.Level `json:"level"`
	Text   string        `json:"text"`
	Signal string        `json:"signal,omitempty"`
	Code   int           `json:"code"`
	Value  float64       `json:"value"`
}

// String formats the event for a log line
func (e Event) String() string {
	return fmt.Sprintf("[%s] %-5s %s", e.Time.Format("15:04:05.000"), e.Level.CapitalString(), e.Text)
}

// broadcaster fans events out to subscribers. A subscriber whose buffer is
// full misses the event; publishing never blocks.
type broadcaster struct {
	mu      sync.Mutex
	subs    map[int]chan Event
	next    int
	closed  bool
	dropped atomic.Uint64
}

func newBroadcaster() *broadcaster {
	return &broadcaster{subs: make(map[int]chan Event)}
}

func (b *broadcaster) subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	id := b.next
	b.next++
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if c, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(c)
			}
		})
	}
}

func (b *broadcaster) publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

func (b *broadcaster) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
