package chat

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"
)

// Stored keys carry the timestamp as unsigned, zero-padded UnixNano, so
// only instants in [epoch, 2262-04-11] keep their order.
var (
	minTimestamp = time.Unix(0, 0)
	maxTimestamp = time.Unix(0, math.MaxInt64)
)

// CheckTimestamp fails with ErrValidation when t cannot be stored in order.
func CheckTimestamp(t time.Time) error {
	switch {
	case t.Before(minTimestamp):
		return fmt.Errorf("%w: timestamp before epoch", ErrValidation)
	case t.After(maxTimestamp):
		return fmt.Errorf("%w: timestamp after %s", ErrValidation, maxTimestamp.UTC().Format(time.DateOnly))
	}
	return nil
}

// Message is the durable copy of a direct message. ID and Timestamp are
// assigned by the store at append time.
type Message struct {
	ID         string    `json:"id"`
	Sender     string    `json:"sender" validate:"required"`
	Recipient  string    `json:"recipient" validate:"required"`
	Text       string    `json:"text,omitempty" validate:"required_without=Attachment"`
	Attachment string    `json:"attachment,omitempty" validate:"required_without=Text"`
	Timestamp  time.Time `json:"timestamp"`
}

// Payload is what a client submits, over the socket or over HTTP.
// Any id the client echoes back is ignored.
type Payload struct {
	Sender     string     `json:"sender" validate:"required"`
	Recipient  string     `json:"recipient" validate:"required"`
	Text       string     `json:"text,omitempty" validate:"required_without=Attachment"`
	Attachment string     `json:"attachment,omitempty" validate:"required_without=Text"`
	Timestamp  *time.Time `json:"timestamp,omitempty"`
}

// normalize trims identities and blanks whitespace-only bodies so that
// "   " does not count as text.
func (p Payload) normalize() Payload {
	p.Sender = strings.TrimSpace(p.Sender)
	p.Recipient = strings.TrimSpace(p.Recipient)
	p.Attachment = strings.TrimSpace(p.Attachment)
	if strings.TrimSpace(p.Text) == "" {
		p.Text = ""
	}
	return p
}

// socket event names
const (
	EventSetUsername    = "setUsername"
	EventSendMessage    = "sendMessage"
	EventReceiveMessage = "receiveMessage"
	EventUserList       = "userList"
	EventError          = "error"
)

// Frame is an inbound socket event. Data is decoded once the event name is known.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Envelope is an outbound socket event.
type Envelope struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// ErrorNotice is the payload of an error event sent to the originating session.
type ErrorNotice struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func receiveMessage(m Message) Envelope {
	return Envelope{Event: EventReceiveMessage, Data: m}
}

func userList(identities []string) Envelope {
	return Envelope{Event: EventUserList, Data: identities}
}

func errorNotice(err error) Envelope {
	return Envelope{Event: EventError, Data: ErrorNotice{Code: Code(err), Message: err.Error()}}
}
