package dropify

import (
	"encoding/json"

	"github.com/vovakirdan/dropify-sdk/dropify-sdk-go/dropify/model"
)

// Event is one decoded inbound channel message. It is one of NewDropEvent,
// DeleteDropEvent, UnknownEvent or MalformedEvent.
type Event interface {
	EventName() string
}

// NewDropEvent is emitted when a drop was created in the session.
type NewDropEvent struct {
	Drop model.Drop
}

// DeleteDropEvent is emitted when a drop was removed (e.g. burned after read).
type DeleteDropEvent struct {
	ID int64
}

// UnknownEvent carries a well-formed message of a kind this client does not handle.
type UnknownEvent struct {
	Name string
	Raw  json.RawMessage
}

// MalformedEvent is a payload that failed validation. It is never applied.
type MalformedEvent struct {
	Raw []byte
	Err error
}

func (NewDropEvent) EventName() string    { return eventNewDrop }
func (DeleteDropEvent) EventName() string { return eventDeleteDrop }
func (e UnknownEvent) EventName() string  { return e.Name }
func (MalformedEvent) EventName() string  { return "" }
