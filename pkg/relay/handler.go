package relay

import (
	"net/http"

	"github.com/felixge/httpsnoop"
	"github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/astromechza/canvas-sync/pkg/logx"
)

const maxPeerIDLength = 128

type server struct {
	registry *Registry
	upgrader websocket.Upgrader
}

// NewHandler routes the relay's HTTP surface:
//
//	GET /rooms/{room}/ws      websocket connection to a room (optional ?peer=<id>)
//	GET /rooms/{room}/latest  current room snapshot
//	GET /healthz
//	GET /metrics
//
// An empty allowedOrigins accepts every origin.
func NewHandler(registry *Registry, allowedOrigins []string) http.Handler {
	s := &server{
		registry: registry,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin(allowedOrigins),
		},
	}

	r := mux.NewRouter()
	r.Use(logRequests)
	r.Methods(http.MethodGet).Path("/rooms/{room}/ws").HandlerFunc(s.serveWS)
	r.Methods(http.MethodGet).Path("/rooms/{room}/latest").HandlerFunc(s.getLatest)
	r.Methods(http.MethodGet).Path("/healthz").HandlerFunc(s.healthz)
	r.Methods(http.MethodGet).Path("/metrics").Handler(promhttp.Handler())
	return r
}

func logRequests(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		ctx := logx.With(request.Context(),
			zap.String("method", request.Method),
			zap.String("path", request.URL.Path),
		)
		request = request.WithContext(ctx)
		m := httpsnoop.CaptureMetrics(handler, writer, request)
		logx.From(ctx).Info("handled", zap.Int("status", m.Code), zap.Duration("duration", m.Duration))
	})
}

func checkOrigin(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

func (s *server) serveWS(writer http.ResponseWriter, request *http.Request) {
	key := mux.Vars(request)["room"]
	requestedID := request.URL.Query().Get("peer")
	if len(requestedID) > maxPeerIDLength {
		http.Error(writer, "peer id too long", http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(writer, request, nil)
	if err != nil {
		logx.From(request.Context()).Warn("failed to upgrade", zap.Error(err))
		return
	}

	room, err := s.registry.Acquire(key)
	if err != nil {
		logx.From(request.Context()).Error("failed to open room", zap.Error(err))
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "room unavailable"))
		_ = conn.Close()
		return
	}
	defer s.registry.Release(room)

	p := newPeer(conn, requestedID, s.registry.opts)
	if err := room.Join(p); err != nil {
		logx.From(request.Context()).Error("failed to join room", zap.Error(err))
		_ = conn.Close()
		return
	}

	ctx := logx.With(request.Context(), zap.String("room", key), zap.String("peer", p.ID()))
	logx.From(ctx).Info("peer joined")

	go p.writePump(ctx)
	p.readPump(ctx, room)

	logx.From(ctx).Info("peer left")
}

func (s *server) getLatest(writer http.ResponseWriter, request *http.Request) {
	room, ok := s.registry.Room(mux.Vars(request)["room"])
	if !ok {
		writer.WriteHeader(http.StatusNotFound)
		return
	}
	writer.Header().Add("Content-Type", "application/octet-stream")
	if _, err := writer.Write(room.Snapshot()); err != nil {
		logx.From(request.Context()).Error("failed to write out", zap.Error(err))
	}
}

type health struct {
	Status string `json:"status"`
	Rooms  int    `json:"rooms"`
	Peers  int    `json:"peers"`
}

func (s *server) healthz(writer http.ResponseWriter, request *http.Request) {
	rooms, peers := s.registry.Stats()
	writer.Header().Add("Content-Type", "application/json")
	if err := json.NewEncoder(writer).Encode(health{Status: "ok", Rooms: rooms, Peers: peers}); err != nil {
		logx.From(request.Context()).Error("failed to encode health", zap.Error(err))
	}
}
