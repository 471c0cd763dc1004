package relay

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thejerf/suture/v4"
	"golang.org/x/time/rate"

	"github.com/astromechza/canvas-sync/pkg/metrics"
	"github.com/astromechza/canvas-sync/pkg/protocol"
)

type fakeReplica struct {
	snapshot []byte
	applyErr error
	applied  [][]byte
}

func (f *fakeReplica) Snapshot() []byte {
	return f.snapshot
}

func (f *fakeReplica) Apply(update []byte) error {
	if f.applyErr != nil {
		return f.applyErr
	}
	f.applied = append(f.applied, update)
	return nil
}

func drain(p *Peer) []protocol.Frame {
	var frames []protocol.Frame
	for {
		select {
		case f, ok := <-p.send:
			if !ok {
				return frames
			}
			frames = append(frames, f)
		default:
			return frames
		}
	}
}

func testPeer(t *testing.T, id string, queue int) *Peer {
	return newPeer(serverConn(t), id, Options{SendQueueSize: queue}.withDefaults())
}

func TestRoom_JoinAssignsUniqueIDs(t *testing.T) {
	room := newRoom("r", &fakeReplica{snapshot: []byte("snap")})

	first := testPeer(t, "A", 8)
	require.NoError(t, room.Join(first))
	assert.Equal(t, "A", first.ID())
	assert.Equal(t, StateOpen, first.State())

	clash := testPeer(t, "A", 8)
	require.NoError(t, room.Join(clash))
	assert.NotEqual(t, "A", clash.ID())
	assert.NotEmpty(t, clash.ID())

	anon := testPeer(t, "", 8)
	require.NoError(t, room.Join(anon))
	assert.NotEmpty(t, anon.ID())

	assert.Equal(t, 3, room.PeerCount())
	peers := room.Peers()
	assert.Equal(t, []*Peer{first, clash, anon}, peers)

	frames := drain(anon)
	require.Len(t, frames, 2)
	assert.Equal(t, protocol.BinaryFrame([]byte("snap")), frames[0])
	assert.JSONEq(t, `{"type":"sync","users":2}`, string(frames[1].Data))
}

func TestRoom_BinaryRejectedIsNotForwarded(t *testing.T) {
	rep := &fakeReplica{applyErr: errors.New("bad chunk")}
	room := newRoom("r", rep)
	a, b := testPeer(t, "A", 8), testPeer(t, "B", 8)
	require.NoError(t, room.Join(a))
	require.NoError(t, room.Join(b))
	drain(a)
	drain(b)

	assert.Error(t, room.HandleBinary(a, []byte{1, 2, 3}))
	assert.Empty(t, drain(b))

	rep.applyErr = nil
	require.NoError(t, room.HandleBinary(a, []byte{4, 5}))
	assert.Equal(t, [][]byte{{4, 5}}, rep.applied)
	assert.Equal(t, []protocol.Frame{protocol.BinaryFrame([]byte{4, 5})}, drain(b))
	assert.Empty(t, drain(a))
}

func TestRoom_LeaveIsIdempotent(t *testing.T) {
	room := newRoom("r", &fakeReplica{})
	a, b := testPeer(t, "A", 8), testPeer(t, "B", 8)
	require.NoError(t, room.Join(a))
	require.NoError(t, room.Join(b))
	drain(b)

	room.Leave(a)
	room.Leave(a)

	assert.Equal(t, StateClosed, a.State())
	frames := drain(b)
	require.Len(t, frames, 1)
	assert.JSONEq(t, `{"type":"user-left","userId":"A"}`, string(frames[0].Data))

	// frames from a departed peer go nowhere
	assert.True(t, room.HandleText(a, []byte(`{"type":"cursor"}`)))
	assert.Empty(t, drain(b))
}

func TestRoom_SlowPeerIsDropped(t *testing.T) {
	room := newRoom("r", &fakeReplica{snapshot: []byte("snap")})
	// the bootstrap frames fill the slow peer's queue
	slow := testPeer(t, "slow", 2)
	fast := testPeer(t, "fast", 8)
	require.NoError(t, room.Join(slow))
	require.NoError(t, room.Join(fast))
	before := testutil.ToFloat64(metrics.SlowPeersDropped)

	require.True(t, room.HandleText(fast, []byte(`{"type":"cursor","userId":"fast"}`)))

	assert.Equal(t, before+1, testutil.ToFloat64(metrics.SlowPeersDropped))
	assert.Equal(t, StateClosed, slow.State())
	assert.Equal(t, []*Peer{fast}, room.Peers())

	// the slow peer keeps only its bootstrap and its queue is closed
	assert.Len(t, drain(slow), 2)
	_, open := <-slow.send
	assert.False(t, open)

	frames := drain(fast)
	require.Len(t, frames, 3)
	assert.JSONEq(t, `{"type":"user-left","userId":"slow"}`, string(frames[2].Data))
}

func TestRegistry_RoomLifetime(t *testing.T) {
	created := 0
	registry := NewRegistry(Options{NewReplica: func() (Replica, error) {
		created++
		return &fakeReplica{}, nil
	}})

	first, err := registry.Acquire("r")
	require.NoError(t, err)
	second, err := registry.Acquire("r")
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, 1, created)

	registry.Release(first)
	_, ok := registry.Room("r")
	assert.True(t, ok)

	registry.Release(second)
	_, ok = registry.Room("r")
	assert.False(t, ok)

	third, err := registry.Acquire("r")
	require.NoError(t, err)
	assert.NotSame(t, first, third)
	assert.Equal(t, 2, created)
}

func TestRegistry_AcquireFailure(t *testing.T) {
	registry := NewRegistry(Options{NewReplica: func() (Replica, error) {
		return nil, errors.New("boom")
	}})
	_, err := registry.Acquire("r")
	assert.ErrorContains(t, err, "boom")
	assert.Empty(t, registry.Rooms())
}

func TestRegistry_CloseAll(t *testing.T) {
	srv, registry := startRelay(t, Options{})
	a := dial(t, srv, "r1", "A")
	bootstrap(t, a)
	b := dial(t, srv, "r2", "B")
	bootstrap(t, b)

	assert.Equal(t, 2, registry.CloseAll(websocket.CloseGoingAway, "bye"))

	for _, conn := range []*websocket.Conn{a, b} {
		_, _, err := conn.ReadMessage()
		var ce *websocket.CloseError
		require.ErrorAs(t, err, &ce)
		assert.Equal(t, websocket.CloseGoingAway, ce.Code)
	}
}

func TestNewPeer_Limiter(t *testing.T) {
	p := newPeer(nil, "A", Options{}.withDefaults())
	assert.Nil(t, p.limiter)

	p = newPeer(nil, "A", Options{PeerRateLimit: 2.5}.withDefaults())
	require.NotNil(t, p.limiter)
	assert.Equal(t, rate.Limit(2.5), p.limiter.Limit())
	assert.Equal(t, 3, p.limiter.Burst())

	p = newPeer(nil, "A", Options{PeerRateLimit: 1, PeerRateBurst: 10}.withDefaults())
	assert.Equal(t, 10, p.limiter.Burst())
}

func TestService_Dump(t *testing.T) {
	registry := NewRegistry(Options{NewReplica: func() (Replica, error) {
		return &fakeReplica{snapshot: []byte("doc")}, nil
	}})
	_, err := registry.Acquire("team/board")
	require.NoError(t, err)

	dir := filepath.Join(t.TempDir(), "dumps")
	svc := NewService(registry, dir)
	require.NoError(t, svc.Dump())

	data, err := os.ReadFile(filepath.Join(dir, "team%2Fboard.automerge"))
	require.NoError(t, err)
	assert.Equal(t, "doc", string(data))
}

func TestService_ServeStopsOnCancel(t *testing.T) {
	registry := NewRegistry(Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, NewService(registry, "").Serve(ctx), context.Canceled)
}

type fakeServer struct {
	stop chan struct{}
	err  error
}

func (f *fakeServer) ListenAndServe() error {
	if f.err != nil {
		return f.err
	}
	<-f.stop
	return http.ErrServerClosed
}

func (f *fakeServer) Shutdown(context.Context) error {
	close(f.stop)
	return nil
}

func TestHTTPService(t *testing.T) {
	t.Run("shutdown on cancel", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := NewHTTPService(&fakeServer{stop: make(chan struct{})}, 0).Serve(ctx)
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("listen failure", func(t *testing.T) {
		err := NewHTTPService(&fakeServer{err: errors.New("address in use")}, 0).Serve(context.Background())
		assert.ErrorContains(t, err, "address in use")
		assert.ErrorIs(t, err, suture.ErrTerminateSupervisorTree)
	})

	t.Run("listen failure stops the supervisor", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		sup := suture.NewSimple("relay")
		sup.Add(NewService(NewRegistry(Options{}), ""))
		sup.Add(NewHTTPService(&fakeServer{err: errors.New("address in use")}, 0))

		err := sup.Serve(ctx)
		require.NoError(t, ctx.Err(), "supervisor kept restarting the listener")
		assert.ErrorIs(t, err, suture.ErrTerminateSupervisorTree)
		assert.ErrorContains(t, err, "address in use")
	})
}
