package syncclient

import (
	"context"
	"fmt"

	"github.com/astromechza/canvas-sync/pkg/protocol"
)

type SessionHandlers struct {
	OnOpen    func()
	OnControl func(protocol.Message)
	OnError   func(error)
	OnClose   func(error)
}

// Session is a Conn and a Canvas bound together for one room: binary frames
// feed the canvas and canvas updates go out on the connection.
type Session struct {
	Conn   *Conn
	Canvas *Canvas
}

// Join connects to room and returns once the connection is open. The canvas
// becomes ready when the room snapshot arrives shortly after.
func Join(ctx context.Context, opts Options, room string, h SessionHandlers) (*Session, error) {
	s := &Session{}
	s.Conn = NewConn(opts, Handlers{
		OnOpen: h.OnOpen,
		OnMessage: func(m Message) {
			if !m.IsBinary() {
				if h.OnControl != nil {
					h.OnControl(m.Control)
				}
				return
			}
			if err := s.Canvas.Merge(m.Binary); err != nil && h.OnError != nil {
				h.OnError(fmt.Errorf("failed to merge update: %w", err))
			}
		},
		OnError: h.OnError,
		OnClose: h.OnClose,
	})
	s.Canvas = NewCanvas(s.Conn)

	if err := s.Conn.Connect(ctx, room); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Session) Close() error {
	return s.Conn.Close()
}
