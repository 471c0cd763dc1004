package main

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/astromechza/canvas-sync/pkg/logx"
)

type SnapshotOptions struct {
	*RootOptions
	Output string
}

func NewSnapshotCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SnapshotOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "snapshot <room>",
		Short: "Download the current document of a live room",
		Long: `Download the current document of a live room from the relay.

Rooms only exist while peers are connected, so an empty room has nothing to
download.

Example:
  canvas snapshot --host relay:8080 -o board.automerge board-1`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSnapshot(opts, args[0], cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "file to write to (default stdout)")
	return cmd
}

func runSnapshot(opts *SnapshotOptions, room string, stdout io.Writer) error {
	client := opts.ClientOptions()
	u := &url.URL{Scheme: "http", Host: client.Host, Path: "/"}
	if client.Secure {
		u.Scheme = "https"
	}
	u = u.JoinPath("rooms", room, "latest")

	resp, err := http.DefaultClient.Get(u.String())
	if err != nil {
		return fmt.Errorf("failed to get: %w", err)
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return fmt.Errorf("room %s has no connected peers", room)
	default:
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read body: %w", err)
	}
	if opts.Output == "" {
		_, err = stdout.Write(raw)
		return err
	}
	if err := os.WriteFile(opts.Output, raw, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", opts.Output, err)
	}
	logx.L.Info("saved snapshot", zap.String("room", room), zap.String("path", opts.Output), zap.Int("bytes", len(raw)))
	return nil
}
