package relay

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/astromechza/canvas-sync/pkg/config"
	"github.com/astromechza/canvas-sync/pkg/metrics"
	"github.com/astromechza/canvas-sync/pkg/replica"
)

// Replica is the CRDT capability a room needs: a full snapshot for joiners and
// a merge for inbound updates. The relay never reads the document itself.
type Replica interface {
	Snapshot() []byte
	Apply(update []byte) error
}

func NewReplica() (Replica, error) {
	return replica.New()
}

type Options struct {
	SendQueueSize  int
	MaxMessageSize int64
	WriteWait      time.Duration
	// PeerRateLimit is inbound frames per second per peer; zero disables it.
	PeerRateLimit float64
	PeerRateBurst int
	NewReplica    func() (Replica, error)
}

func OptionsFromConfig(cfg config.RelayConfig) Options {
	return Options{
		SendQueueSize:  cfg.SendQueueSize,
		MaxMessageSize: cfg.MaxMessageSize,
		WriteWait:      cfg.WriteWait,
		PeerRateLimit:  cfg.PeerRateLimit,
		PeerRateBurst:  cfg.PeerRateBurst,
	}
}

func (o Options) withDefaults() Options {
	// the bootstrap snapshot and sync message are queued back to back on join
	if o.SendQueueSize < 2 {
		o.SendQueueSize = 256
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = 16 << 20
	}
	if o.WriteWait <= 0 {
		o.WriteWait = 10 * time.Second
	}
	if o.NewReplica == nil {
		o.NewReplica = NewReplica
	}
	return o
}

// Registry owns every live room. A room exists from the first Acquire of its key
// until the matching last Release; its document is discarded with it.
type Registry struct {
	opts  Options
	mu    sync.Mutex
	rooms map[string]*Room
}

func NewRegistry(opts Options) *Registry {
	return &Registry{
		opts:  opts.withDefaults(),
		rooms: make(map[string]*Room),
	}
}

func (g *Registry) Acquire(key string) (*Room, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	room, ok := g.rooms[key]
	if !ok {
		rep, err := g.opts.NewReplica()
		if err != nil {
			return nil, fmt.Errorf("failed to create replica for room %s: %w", key, err)
		}
		room = newRoom(key, rep)
		g.rooms[key] = room
		metrics.RoomsActive.Inc()
	}
	room.refs++
	return room, nil
}

func (g *Registry) Release(room *Room) {
	g.mu.Lock()
	defer g.mu.Unlock()

	room.refs--
	if room.refs > 0 {
		return
	}
	if g.rooms[room.key] == room {
		delete(g.rooms, room.key)
		metrics.RoomsActive.Dec()
	}
}

func (g *Registry) Room(key string) (*Room, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	room, ok := g.rooms[key]
	return room, ok
}

// Rooms returns the live rooms ordered by key.
func (g *Registry) Rooms() []*Room {
	g.mu.Lock()
	rooms := make([]*Room, 0, len(g.rooms))
	for _, room := range g.rooms {
		rooms = append(rooms, room)
	}
	g.mu.Unlock()

	sort.Slice(rooms, func(i, j int) bool {
		return rooms[i].key < rooms[j].key
	})
	return rooms
}

func (g *Registry) Stats() (rooms int, peers int) {
	for _, room := range g.Rooms() {
		rooms++
		peers += room.PeerCount()
	}
	return rooms, peers
}

// CloseAll sends a close frame with the given code to every peer and closes its
// connection. Each peer's read loop then leaves its room as usual.
func (g *Registry) CloseAll(code int, reason string) int {
	closed := 0
	for _, room := range g.Rooms() {
		for _, p := range room.Peers() {
			p.closeWith(code, reason)
			closed++
		}
	}
	return closed
}
