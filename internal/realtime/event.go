package realtime

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"
)

// Event types.
const (
	TypeMessageCreated = "message.created"
	TypeMessageRead    = "message.read"
	TypeBanIssued      = "ban.issued"
	TypeBanLifted      = "ban.lifted"
	TypeAppealReviewed = "appeal.reviewed"
	TypeRequestUpdated = "custom_request.updated"
	TypeNotification   = "notification"
)

// Event is a realtime update addressed to a set of usernames. Events with a
// ThreadID and a positive Seq are ordered per thread; others are identified by ID.
type Event struct {
	ID         string    `msgpack:"id" json:"id"`
	Type       string    `msgpack:"type" json:"type"`
	Recipients []string  `msgpack:"recipients" json:"-"`
	ThreadID   string    `msgpack:"thread_id,omitempty" json:"thread_id,omitempty"`
	Seq        int64     `msgpack:"seq,omitempty" json:"seq,omitempty"`
	Data       []byte    `msgpack:"data" json:"-"`
	At         time.Time `msgpack:"at" json:"at"`
}

// NewEvent builds an event whose data is the JSON encoding of payload.
func NewEvent(typ string, payload any, recipients ...string) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("encode %s payload: %w", typ, err)
	}
	return Event{
		ID:         uuid.NewString(),
		Type:       typ,
		Recipients: recipients,
		Data:       data,
		At:         time.Now().UTC(),
	}, nil
}

// Sequenced reports whether the event takes part in per-thread ordering.
func (e Event) Sequenced() bool {
	return e.ThreadID != "" && e.Seq > 0
}

// Encode serializes the event for the pub/sub wire.
func Encode(e Event) ([]byte, error) {
	return msgpack.Marshal(e)
}

// Decode parses an event from the pub/sub wire.
func Decode(b []byte) (Event, error) {
	var e Event
	err := msgpack.Unmarshal(b, &e)
	return e, err
}

type wireEvent struct {
	Event
	Data json.RawMessage `json:"data,omitempty"`
}

// frame renders the JSON text frame sent to websocket clients.
func frame(e Event) ([]byte, error) {
	return json.Marshal(struct {
		Event wireEvent `json:"event"`
	}{Event: wireEvent{Event: e, Data: e.Data}})
}
