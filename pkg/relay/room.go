package relay

import (
	"sort"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/astromechza/canvas-sync/pkg/logx"
	"github.com/astromechza/canvas-sync/pkg/metrics"
	"github.com/astromechza/canvas-sync/pkg/protocol"
)

// Room is one collaboration session. The room lock is the single writer for the
// replica and the peer set: every join, merge and leave runs under it, including
// the queueing of the frames it produces.
type Room struct {
	key string
	// refs is guarded by the registry lock, not mu.
	refs int

	mu      sync.Mutex
	replica Replica
	peers   map[string]*Peer
}

func newRoom(key string, rep Replica) *Room {
	return &Room{
		key:     key,
		replica: rep,
		peers:   make(map[string]*Peer),
	}
}

func (r *Room) Key() string {
	return r.key
}

func (r *Room) PeerCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.peers)
}

// Peers returns the connected peers in join order.
func (r *Room) Peers() []*Peer {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sortedLocked()
}

func (r *Room) sortedLocked() []*Peer {
	peers := make([]*Peer, 0, len(r.peers))
	for _, p := range r.peers {
		peers = append(peers, p)
	}
	sort.Slice(peers, func(i, j int) bool {
		return peers[i].seq < peers[j].seq
	})
	return peers
}

func (r *Room) Snapshot() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.replica.Snapshot()
}

// Join admits p and queues its bootstrap: the room snapshot, then a sync message
// with the number of other peers. Existing peers are not told.
func (r *Room) Join(p *Peer) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, taken := r.peers[p.id]; p.id == "" || taken {
		p.id = uuid.NewString()
	}

	syncMsg, err := protocol.Encode(protocol.Sync{Users: len(r.peers)})
	if err != nil {
		return err
	}
	snapshot := r.replica.Snapshot()
	metrics.SnapshotBytes.Observe(float64(len(snapshot)))

	r.peers[p.id] = p
	p.state.Store(int32(StateOpen))
	metrics.PeersConnected.Inc()

	p.enqueue(protocol.BinaryFrame(snapshot))
	p.enqueue(protocol.TextFrame(syncMsg))
	return nil
}

// Leave removes p and tells the remaining peers. Calling it again for the same
// peer does nothing.
func (r *Room) Leave(p *Peer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaveLocked(p)
}

func (r *Room) leaveLocked(p *Peer) {
	if r.peers[p.id] != p {
		return
	}
	delete(r.peers, p.id)
	p.state.Store(int32(StateClosed))
	close(p.send)
	metrics.PeersConnected.Dec()

	left, err := protocol.Encode(protocol.UserLeft{UserID: p.id})
	if err != nil {
		logx.L.Error("failed to encode user-left", zap.Error(err))
		return
	}
	r.broadcastLocked(protocol.TextFrame(left), p)
}

// HandleBinary merges update into the room replica and forwards it verbatim to
// every other peer. A rejected update is not forwarded and the error is returned
// so the caller can drop the sender.
func (r *Room) HandleBinary(from *Peer, update []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.peers[from.id] != from {
		return nil
	}
	if err := r.replica.Apply(update); err != nil {
		metrics.MergeFailures.Inc()
		return err
	}
	r.broadcastLocked(protocol.BinaryFrame(update), from)
	return nil
}

// HandleText forwards a JSON control message verbatim to every other peer. The
// payload is only checked for JSON validity; anything else is dropped and
// reported false.
func (r *Room) HandleText(from *Peer, data []byte) bool {
	if !protocol.Valid(data) {
		metrics.MessagesTotal.WithLabelValues(metrics.KindMalformed).Inc()
		return false
	}
	metrics.MessagesTotal.WithLabelValues(metrics.KindControl).Inc()

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.peers[from.id] != from {
		return true
	}
	r.broadcastLocked(protocol.TextFrame(data), from)
	return true
}

// broadcastLocked queues frame for every peer except the sender. Peers whose
// queue is full are disconnected afterwards, which in turn tells the others.
func (r *Room) broadcastLocked(frame protocol.Frame, except *Peer) {
	var slow []*Peer
	for _, p := range r.sortedLocked() {
		if p == except {
			continue
		}
		if !p.enqueue(frame) {
			slow = append(slow, p)
			continue
		}
		metrics.BytesRelayed.Add(float64(len(frame.Data)))
	}
	for _, p := range slow {
		metrics.SlowPeersDropped.Inc()
		logx.L.Warn("dropping slow peer", zap.String("room", r.key), zap.String("peer", p.id))
		r.leaveLocked(p)
		p.abort()
	}
}
