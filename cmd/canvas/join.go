package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/astromechza/canvas-sync/pkg/logx"
	"github.com/astromechza/canvas-sync/pkg/protocol"
	"github.com/astromechza/canvas-sync/pkg/replica"
	"github.com/astromechza/canvas-sync/pkg/syncclient"
)

const maxShapes = 5

var palette = []string{"#e6194b", "#3cb44b", "#4363d8", "#f58231", "#911eb4"}

type JoinOptions struct {
	*RootOptions
	Name     string
	PeerID   string
	Interval time.Duration
}

func NewJoinCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &JoinOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "join <room>",
		Short: "Join a room as a headless participant",
		Long: `Join a room as a headless participant.

The participant announces itself, moves its cursor and adds or nudges shapes
on every tick until interrupted. Lost connections are retried with exponential
backoff; each reconnect starts from a fresh room snapshot.

Example:
  canvas join --host relay:8080 --name bot --interval 2s board-1`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			return runJoin(ctx, opts, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.Name, "name", "", "display name (default hostname)")
	cmd.Flags().StringVar(&opts.PeerID, "peer", "", "peer id to request (default random)")
	cmd.Flags().DurationVar(&opts.Interval, "interval", time.Second, "time between edits")
	return cmd
}

func runJoin(ctx context.Context, opts *JoinOptions, room string) error {
	if opts.PeerID == "" {
		opts.PeerID = uuid.NewString()
	}
	if opts.Name == "" {
		opts.Name, _ = os.Hostname()
	}
	if opts.Interval <= 0 {
		return fmt.Errorf("interval must be positive")
	}

	expo := backoff.NewExponentialBackOff()
	expo.MaxElapsedTime = 0
	b := backoff.WithContext(expo, ctx)

	attempt := func() error {
		if ctx.Err() != nil {
			return nil
		}
		err := participate(ctx, opts, room, expo.Reset)
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	notify := func(err error, next time.Duration) {
		logx.L.Warn("connection lost, retrying", zap.Error(err), zap.Duration("in", next))
	}
	if err := backoff.RetryNotify(attempt, b, notify); err != nil && ctx.Err() == nil {
		return err
	}
	logx.L.Info("left room", zap.String("room", room))
	return nil
}

// participate runs one connection until it closes or ctx ends. A fresh session
// is used per connection because the room may have been recreated meanwhile.
func participate(ctx context.Context, opts *JoinOptions, room string, connected func()) error {
	closed := make(chan error, 1)
	log := logx.L.With(zap.String("room", room), zap.String("peer", opts.PeerID))

	clientOpts := opts.ClientOptions()
	clientOpts.PeerID = opts.PeerID
	sess, err := syncclient.Join(ctx, clientOpts, room, syncclient.SessionHandlers{
		OnControl: func(m protocol.Message) {
			switch msg := m.(type) {
			case protocol.Sync:
				log.Info("joined", zap.Int("others", msg.Users))
			case protocol.UserLeft:
				log.Info("peer left", zap.String("other", msg.UserID))
			case protocol.Presence:
				log.Info("peer present", zap.String("other", msg.UserID), zap.String("name", msg.Name))
			case protocol.Cursor:
				log.Debug("cursor", zap.String("other", msg.UserID), zap.Float64("x", msg.X), zap.Float64("y", msg.Y))
			default:
				log.Debug("unhandled control message", zap.String("type", m.Type()))
			}
		},
		OnError: func(err error) {
			log.Warn("session error", zap.Error(err))
		},
		OnClose: func(err error) {
			closed <- err
		},
	})
	if err != nil {
		return err
	}
	defer sess.Close()
	connected()

	color := palette[rand.Intn(len(palette))]
	sess.Conn.Send(protocol.Presence{UserID: opts.PeerID, Name: opts.Name, Color: color})
	sess.Canvas.Subscribe(func(shapes []replica.Shape) {
		log.Debug("canvas changed", zap.Int("shapes", len(shapes)))
	})

	t := time.NewTicker(opts.Interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			sess.Conn.Send(protocol.Cursor{
				UserID: opts.PeerID,
				Name:   opts.Name,
				X:      rand.Float64() * 1000,
				Y:      rand.Float64() * 1000,
				Color:  color,
			})
			if err := edit(sess.Canvas, color); err != nil && !errors.Is(err, syncclient.ErrNotReady) {
				log.Error("failed to edit canvas", zap.Error(err))
			}
		case err := <-closed:
			return fmt.Errorf("connection closed: %w", err)
		case <-ctx.Done():
			return nil
		}
	}
}

// edit adds a shape until the canvas is full, then moves a random one.
func edit(canvas *syncclient.Canvas, color string) error {
	shapes := canvas.Shapes()
	if len(shapes) < maxShapes {
		_, err := canvas.AddShape(replica.Shape{
			Kind:   "rect",
			X:      rand.Float64() * 800,
			Y:      rand.Float64() * 600,
			Width:  20 + rand.Float64()*80,
			Height: 20 + rand.Float64()*80,
			Fill:   color,
		})
		return err
	}
	target := shapes[rand.Intn(len(shapes))]
	x, y := target.X+rand.Float64()*20-10, target.Y+rand.Float64()*20-10
	return canvas.UpdateShape(target.ID, replica.ShapePatch{X: &x, Y: &y})
}
