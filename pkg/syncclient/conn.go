// Package syncclient is the client side of a canvas room: a websocket
// connection that multiplexes CRDT updates and control messages, and a Canvas
// that keeps a local replica in step with the room over that connection.
package syncclient

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/astromechza/canvas-sync/pkg/config"
	"github.com/astromechza/canvas-sync/pkg/logx"
	"github.com/astromechza/canvas-sync/pkg/protocol"
)

const writeWait = 10 * time.Second

// ErrSuperseded is returned by Connect when a later Connect or Close replaced
// the connection while it was still dialing.
var ErrSuperseded = errors.New("connection superseded")

type Options struct {
	// Host is the relay address, host[:port].
	Host   string
	Secure bool
	// PeerID is suggested to the relay as this connection's id. The relay picks
	// another if it is empty or already in use.
	PeerID string
	Dialer *websocket.Dialer
}

func OptionsFromConfig(cfg config.ClientConfig) Options {
	return Options{Host: cfg.Host, Secure: cfg.Secure}
}

func (o Options) roomURL(room string) string {
	u := &url.URL{Scheme: "ws", Host: o.Host, Path: "/"}
	if o.Secure {
		u.Scheme = "wss"
	}
	u = u.JoinPath("rooms", room, "ws")
	if o.PeerID != "" {
		u.RawQuery = url.Values{"peer": {o.PeerID}}.Encode()
	}
	return u.String()
}

// Message is one inbound frame: either a binary CRDT payload or a decoded
// control message.
type Message struct {
	Binary  []byte
	Control protocol.Message
}

func (m Message) IsBinary() bool {
	return m.Control == nil
}

// Handlers receive the events of the current connection, one at a time, on the
// connection's read goroutine. Any of them may be nil.
type Handlers struct {
	OnOpen    func()
	OnMessage func(Message)
	// OnError receives transport failures and text frames that are not JSON.
	OnError func(error)
	OnClose func(error)
}

// Conn holds at most one live connection to a room. Connect and Close retire the
// previous connection; its handlers are not called again.
type Conn struct {
	opts     Options
	handlers Handlers

	mu   sync.Mutex
	ws   *websocket.Conn
	room string
	gen  uint64

	writeMu sync.Mutex
}

func NewConn(opts Options, handlers Handlers) *Conn {
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	return &Conn{opts: opts, handlers: handlers}
}

// Connect closes any existing connection and dials the given room. It returns
// once the connection is open; OnOpen has been called by then.
func (c *Conn) Connect(ctx context.Context, room string) error {
	gen := c.retire(room)

	target := c.opts.roomURL(room)
	ws, resp, err := c.opts.Dialer.DialContext(ctx, target, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("failed to dial %s: %w", target, err)
	}

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		_ = ws.Close()
		return ErrSuperseded
	}
	c.ws = ws
	c.mu.Unlock()

	logx.L.Debug("connected", zap.String("room", room), zap.String("url", target))
	if c.current(gen) && c.handlers.OnOpen != nil {
		c.handlers.OnOpen()
	}
	go c.readLoop(gen, ws)
	return nil
}

// Close shuts the current connection, if any.
func (c *Conn) Close() error {
	c.retire("")
	return nil
}

// retire invalidates the current generation and closes its socket.
func (c *Conn) retire(room string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	c.room = room
	if c.ws != nil {
		ws := c.ws
		c.ws = nil
		c.writeMu.Lock()
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		_ = ws.Close()
	}
	return c.gen
}

func (c *Conn) current(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen == gen
}

func (c *Conn) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws != nil
}

func (c *Conn) Room() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.room
}

// Send writes a []byte as a binary frame, a protocol.Message in its tagged wire
// form, and anything else as JSON text. It reports false, and sends nothing,
// when the connection is not open.
func (c *Conn) Send(v any) bool {
	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()
	if ws == nil {
		return false
	}

	frame, err := encode(v)
	if err != nil {
		logx.L.Warn("failed to encode outbound message", zap.Error(err))
		return false
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := ws.WriteMessage(frame.MessageType(), frame.Data); err != nil {
		logx.L.Debug("failed to send", zap.Error(err))
		return false
	}
	return true
}

func encode(v any) (protocol.Frame, error) {
	switch msg := v.(type) {
	case []byte:
		return protocol.BinaryFrame(msg), nil
	case protocol.Message:
		data, err := protocol.Encode(msg)
		return protocol.TextFrame(data), err
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return protocol.Frame{}, fmt.Errorf("failed to marshal %T: %w", v, err)
		}
		return protocol.TextFrame(data), nil
	}
}

func (c *Conn) readLoop(gen uint64, ws *websocket.Conn) {
	for {
		mt, data, err := ws.ReadMessage()
		if err != nil {
			c.mu.Lock()
			live := c.gen == gen
			if live {
				c.ws = nil
			}
			c.mu.Unlock()
			_ = ws.Close()
			if !live {
				return
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.emitError(gen, fmt.Errorf("connection lost: %w", err))
			}
			if c.handlers.OnClose != nil {
				c.handlers.OnClose(err)
			}
			return
		}

		switch mt {
		case websocket.BinaryMessage:
			c.emitMessage(gen, Message{Binary: data})
		case websocket.TextMessage:
			msg, err := protocol.Decode(data)
			if err != nil {
				c.emitError(gen, err)
				continue
			}
			c.emitMessage(gen, Message{Control: msg})
		}
	}
}

func (c *Conn) emitMessage(gen uint64, m Message) {
	if c.handlers.OnMessage != nil && c.current(gen) {
		c.handlers.OnMessage(m)
	}
}

func (c *Conn) emitError(gen uint64, err error) {
	if c.handlers.OnError != nil && c.current(gen) {
		c.handlers.OnError(err)
	}
}
