package events

import "time"

// Kind names an event type, e.g. "transcript.delta".
type Kind string

// Event is anything a session publishes.
type Event interface {
	Kind() Kind
	Timestamp() time.Time
}

// Base carries what every event shares. Embed it and build it with NewBase.
type Base struct {
	kind Kind
	at   time.Time
}

func NewBase(kind Kind) Base { return Base{kind: kind, at: time.Now()} }

func (b Base) Kind() Kind           { return b.kind }
func (b Base) Timestamp() time.Time { return b.at }

// Is reports whether event is of the given kind.
func Is(event Event, kind Kind) bool { return event != nil && event.Kind() == kind }
