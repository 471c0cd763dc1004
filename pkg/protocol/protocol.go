// Package protocol defines what travels over a room connection.
//
// Binary frames carry opaque CRDT updates (the first one a peer receives is the
// room snapshot). Text frames carry JSON control messages tagged by "type". The
// relay never looks past JSON validity; only clients decode the tag.
package protocol

import (
	"errors"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
)

const (
	TypeCursor   = "cursor"
	TypePresence = "presence"
	TypeUserLeft = "user-left"
	TypeSync     = "sync"
)

var ErrMalformed = errors.New("malformed control message")

// Message is a decoded control message. The concrete types are Cursor,
// Presence, UserLeft, Sync and Unknown.
type Message interface {
	Type() string
	isMessage()
}

type Cursor struct {
	UserID string  `json:"userId"`
	Name   string  `json:"name"`
	Avatar string  `json:"avatar"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Color  string  `json:"color"`
}

type Presence struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
	Avatar string `json:"avatar"`
	Color  string `json:"color"`
}

type UserLeft struct {
	UserID string `json:"userId"`
}

type Sync struct {
	Users int `json:"users"`
}

// Unknown is valid JSON whose tag is missing or not one of ours. It is kept
// verbatim so it can be passed on untouched.
type Unknown struct {
	Tag string
	Raw json.RawMessage
}

func (Cursor) Type() string   { return TypeCursor }
func (Presence) Type() string { return TypePresence }
func (UserLeft) Type() string { return TypeUserLeft }
func (Sync) Type() string     { return TypeSync }
func (u Unknown) Type() string {
	return u.Tag
}

func (Cursor) isMessage()   {}
func (Presence) isMessage() {}
func (UserLeft) isMessage() {}
func (Sync) isMessage()     {}
func (Unknown) isMessage()  {}

// Valid reports whether data is well-formed JSON. This is the only check the
// relay applies to text frames.
func Valid(data []byte) bool {
	return json.Valid(data)
}

// Encode renders m as a tagged JSON object.
func Encode(m Message) ([]byte, error) {
	var v interface{}
	switch msg := m.(type) {
	case Cursor:
		v = struct {
			Type string `json:"type"`
			Cursor
		}{TypeCursor, msg}
	case Presence:
		v = struct {
			Type string `json:"type"`
			Presence
		}{TypePresence, msg}
	case UserLeft:
		v = struct {
			Type string `json:"type"`
			UserLeft
		}{TypeUserLeft, msg}
	case Sync:
		v = struct {
			Type string `json:"type"`
			Sync
		}{TypeSync, msg}
	case Unknown:
		return msg.Raw, nil
	default:
		return nil, fmt.Errorf("unsupported message %T", m)
	}
	return json.Marshal(v)
}

// Decode parses a text frame. Invalid JSON yields ErrMalformed; valid JSON that
// is not one of the known tags yields Unknown.
func Decode(data []byte) (Message, error) {
	if !json.Valid(data) {
		return nil, ErrMalformed
	}
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return Unknown{Raw: append(json.RawMessage(nil), data...)}, nil
	}

	var (
		msg Message
		err error
	)
	switch head.Type {
	case TypeCursor:
		var c Cursor
		err = json.Unmarshal(data, &c)
		msg = c
	case TypePresence:
		var p Presence
		err = json.Unmarshal(data, &p)
		msg = p
	case TypeUserLeft:
		var u UserLeft
		err = json.Unmarshal(data, &u)
		msg = u
	case TypeSync:
		var s Sync
		err = json.Unmarshal(data, &s)
		msg = s
	default:
		return Unknown{Tag: head.Type, Raw: append(json.RawMessage(nil), data...)}, nil
	}
	if err != nil {
		// right tag, wrong field types: still not ours to reject
		return Unknown{Tag: head.Type, Raw: append(json.RawMessage(nil), data...)}, nil
	}
	return msg, nil
}

// Frame is one outbound websocket message.
type Frame struct {
	Binary bool
	Data   []byte
}

func BinaryFrame(data []byte) Frame {
	return Frame{Binary: true, Data: data}
}

func TextFrame(data []byte) Frame {
	return Frame{Data: data}
}

// MessageType is the gorilla websocket message type for f.
func (f Frame) MessageType() int {
	if f.Binary {
		return websocket.BinaryMessage
	}
	return websocket.TextMessage
}
