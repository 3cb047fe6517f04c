// Package diag carries human readable status and warning messages from the
// image tooling to whoever is presenting them.
package diag

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Sink receives diagnostics. received marks messages that originated from
// a device rather than from local processing; timestamp asks the sink to
// prefix the message with the time since it was created.
type Sink interface {
	Emit(message string, received bool, timestamp bool)
}

// Nop drops every message.
type Nop struct{}

func (Nop) Emit(string, bool, bool) {}

type SinkFunc func(message string, received bool, timestamp bool)

func (f SinkFunc) Emit(message string, received bool, timestamp bool) {
	f(message, received, timestamp)
}

// OrNop returns s, or Nop when s is nil.
func OrNop(s Sink) Sink {
	if s == nil {
		return Nop{}
	}
	return s
}

// Printf formats a status message and emits it with a timestamp.
func Printf(s Sink, format string, args ...any) {
	OrNop(s).Emit(fmt.Sprintf(format, args...), false, true)
}

type tee []Sink

func (t tee) Emit(message string, received bool, timestamp bool) {
	for _, s := range t {
		s.Emit(message, received, timestamp)
	}
}

func Tee(sinks ...Sink) Sink {
	var t tee
	for _, s := range sinks {
		if s != nil {
			t = append(t, s)
		}
	}
	return t
}

type Message struct {
	Text      string `cbor:"text" json:"text"`
	Received  bool   `cbor:"received" json:"received"`
	Timestamp bool   `cbor:"timestamp" json:"timestamp"`
}

// Recorder keeps every message it is given.
type Recorder struct {
	lock     sync.Mutex
	messages []Message
}

func (r *Recorder) Emit(message string, received bool, timestamp bool) {
	r.lock.Lock()
	defer r.lock.Unlock()

	r.messages = append(r.messages, Message{
		Text:      message,
		Received:  received,
		Timestamp: timestamp,
	})
}

func (r *Recorder) Messages() []Message {
	r.lock.Lock()
	defer r.lock.Unlock()

	out := make([]Message, len(r.messages))
	copy(out, r.messages)
	return out
}

// SlogSink writes diagnostics to a structured logger. Timestamps are
// relative to the creation of the sink.
type SlogSink struct {
	logger *slog.Logger
	start  time.Time
	level  slog.Level
}

func NewSlogSink(logger *slog.Logger, level slog.Level) *SlogSink {
	return &SlogSink{
		logger: logger,
		start:  time.Now(),
		level:  level,
	}
}

func (s *SlogSink) Emit(message string, received bool, timestamp bool) {
	attrs := []slog.Attr{slog.Bool("rx", received)}
	if timestamp {
		attrs = append(attrs, slog.Duration("t", time.Since(s.start).Round(time.Millisecond)))
	}
	s.logger.LogAttrs(context.Background(), s.level, message, attrs...)
}
