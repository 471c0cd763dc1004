package relay

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/gorilla/websocket"
	"github.com/thejerf/suture/v4"
	"go.uber.org/zap"

	"github.com/astromechza/canvas-sync/pkg/logx"
)

// Service ties the registry to a suture supervisor. On shutdown it disconnects
// every peer and, with a dump directory set, writes each live room's snapshot
// there. Dumps are a debugging aid; nothing reads them back.
type Service struct {
	registry *Registry
	dumpDir  string
}

func NewService(registry *Registry, dumpDir string) *Service {
	return &Service{registry: registry, dumpDir: dumpDir}
}

func (s *Service) Serve(ctx context.Context) error {
	<-ctx.Done()

	if s.dumpDir != "" {
		if err := s.Dump(); err != nil {
			logx.L.Error("failed to dump rooms", zap.Error(err))
		}
	}
	closed := s.registry.CloseAll(websocket.CloseGoingAway, "relay shutting down")
	logx.L.Info("relay stopped", zap.Int("peers_closed", closed))
	return ctx.Err()
}

func (s *Service) String() string {
	return "relay-rooms"
}

// Dump writes <dumpDir>/<room>.automerge for every live room.
func (s *Service) Dump() error {
	if err := os.MkdirAll(s.dumpDir, 0o755); err != nil {
		return fmt.Errorf("failed to create dump dir: %w", err)
	}
	var errs []error
	for _, room := range s.registry.Rooms() {
		path := filepath.Join(s.dumpDir, url.PathEscape(room.Key())+".automerge")
		if err := os.WriteFile(path, room.Snapshot(), 0o644); err != nil {
			errs = append(errs, fmt.Errorf("failed to dump room %s: %w", room.Key(), err))
			continue
		}
		logx.L.Info("dumped", zap.String("room", room.Key()), zap.String("path", path))
	}
	return errors.Join(errs...)
}

// HTTPServer is the part of *http.Server that HTTPService drives.
type HTTPServer interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

// HTTPService runs an HTTP server under a supervisor.
type HTTPService struct {
	server          HTTPServer
	shutdownTimeout time.Duration
}

func NewHTTPService(server HTTPServer, shutdownTimeout time.Duration) *HTTPService {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	return &HTTPService{server: server, shutdownTimeout: shutdownTimeout}
}

func (h *HTTPService) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := h.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			// a port that cannot be bound stays unbound, so restarting is pointless
			return fmt.Errorf("%w: server listen failed: %w", suture.ErrTerminateSupervisorTree, err)
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), h.shutdownTimeout)
		defer cancel()
		if err := h.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shut down server: %w", err)
		}
		return ctx.Err()
	}
}

func (h *HTTPService) String() string {
	return "http-server"
}
