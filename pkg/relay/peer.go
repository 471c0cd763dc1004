package relay

import (
	"context"
	"errors"
	"math"
	"net"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/astromechza/canvas-sync/pkg/logx"
	"github.com/astromechza/canvas-sync/pkg/metrics"
	"github.com/astromechza/canvas-sync/pkg/protocol"
)

type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

var peerSeq atomic.Uint64

// Peer is one websocket session in a room. Its send queue is written only under
// the room lock and closed by the room when the peer leaves.
type Peer struct {
	id    string
	seq   uint64
	conn  *websocket.Conn
	send  chan protocol.Frame
	state atomic.Int32

	writeWait      time.Duration
	maxMessageSize int64
	limiter        *rate.Limiter
}

func newPeer(conn *websocket.Conn, requestedID string, opts Options) *Peer {
	p := &Peer{
		id:             requestedID,
		seq:            peerSeq.Add(1),
		conn:           conn,
		send:           make(chan protocol.Frame, opts.SendQueueSize),
		writeWait:      opts.WriteWait,
		maxMessageSize: opts.MaxMessageSize,
	}
	if opts.PeerRateLimit > 0 {
		burst := opts.PeerRateBurst
		if burst <= 0 {
			burst = int(math.Ceil(opts.PeerRateLimit))
		}
		p.limiter = rate.NewLimiter(rate.Limit(opts.PeerRateLimit), burst)
	}
	return p
}

func (p *Peer) ID() string {
	return p.id
}

func (p *Peer) State() State {
	return State(p.state.Load())
}

func (p *Peer) enqueue(frame protocol.Frame) bool {
	select {
	case p.send <- frame:
		return true
	default:
		return false
	}
}

// closeWith sends a close frame and tears the connection down. Safe to call
// from any goroutine, more than once.
func (p *Peer) closeWith(code int, reason string) {
	_ = p.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason),
		time.Now().Add(p.writeWait),
	)
	_ = p.conn.Close()
}

func (p *Peer) abort() {
	_ = p.conn.Close()
}

// readPump feeds inbound frames to the room until the transport fails, then
// leaves the room.
func (p *Peer) readPump(ctx context.Context, room *Room) {
	log := logx.From(ctx)
	defer func() {
		room.Leave(p)
		_ = p.conn.Close()
	}()

	p.conn.SetReadLimit(p.maxMessageSize)

	for {
		mt, data, err := p.conn.ReadMessage()
		if err != nil {
			if isExpectedClose(err) {
				log.Debug("peer disconnected", zap.Error(err))
			} else {
				log.Error("transport error", zap.Error(err))
			}
			return
		}

		if p.limiter != nil && !p.limiter.Allow() {
			metrics.MessagesTotal.WithLabelValues(metrics.KindThrottled).Inc()
			continue
		}

		switch mt {
		case websocket.BinaryMessage:
			metrics.MessagesTotal.WithLabelValues(metrics.KindBinary).Inc()
			if err := room.HandleBinary(p, data); err != nil {
				log.Error("failed to merge update, closing connection", zap.Error(err), zap.Int("bytes", len(data)))
				p.closeWith(websocket.CloseUnsupportedData, "update rejected")
				return
			}
		case websocket.TextMessage:
			if !room.HandleText(p, data) {
				log.Warn("dropping malformed control message", zap.Int("bytes", len(data)))
			}
		}
	}
}

// isExpectedClose is true for orderly closes and for reads on a connection we
// closed ourselves.
func isExpectedClose(err error) bool {
	if errors.Is(err, net.ErrClosed) {
		return true
	}
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		switch ce.Code {
		case websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived:
			return true
		}
	}
	return false
}

// writePump drains the send queue onto the connection. It exits when the room
// closes the queue or a write fails.
func (p *Peer) writePump(ctx context.Context) {
	log := logx.From(ctx)
	defer func() {
		_ = p.conn.Close()
	}()

	for frame := range p.send {
		if err := p.conn.SetWriteDeadline(time.Now().Add(p.writeWait)); err != nil {
			log.Error("failed to set write deadline", zap.Error(err))
			return
		}
		if err := p.conn.WriteMessage(frame.MessageType(), frame.Data); err != nil {
			log.Debug("failed to write frame", zap.Error(err))
			return
		}
	}

	_ = p.conn.SetWriteDeadline(time.Now().Add(p.writeWait))
	_ = p.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}
