package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/astromechza/canvas-sync/pkg/replica"
	"github.com/astromechza/canvas-sync/pkg/viz"
)

type InspectOptions struct {
	*RootOptions
	JSON bool
}

func NewInspectCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InspectOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "inspect <file>",
		Short: "Print the shapes and change history of a saved document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rep, err := loadReplica(args[0])
			if err != nil {
				return err
			}
			return runInspect(opts, rep, cmd.OutOrStdout())
		},
	}

	cmd.Flags().BoolVar(&opts.JSON, "json", false, "print as json")
	return cmd
}

type inspection struct {
	Heads   []string           `json:"heads"`
	Shapes  []replica.Shape    `json:"shapes"`
	History []replica.Revision `json:"history"`
}

func runInspect(opts *InspectOptions, rep *replica.Replica, out io.Writer) error {
	shapes, err := rep.Shapes()
	if err != nil {
		return err
	}
	history, err := rep.History()
	if err != nil {
		return err
	}

	if opts.JSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(inspection{Heads: rep.Heads(), Shapes: shapes, History: history})
	}

	fmt.Fprintf(out, "heads: %s\n", strings.Join(rep.Heads(), ", "))
	fmt.Fprintf(out, "shapes (%d):\n", len(shapes))
	for _, s := range shapes {
		fmt.Fprintf(out, "  %s %s at (%g,%g) %gx%g\n", s.ID, s.Kind, s.X, s.Y, s.Width, s.Height)
	}
	fmt.Fprintf(out, "changes (%d):\n", len(history))
	for i, rev := range history {
		fmt.Fprintf(out, "  %4d %s\n", i, viz.Label(rev))
	}
	return nil
}

type RenderOptions struct {
	*RootOptions
	Output string
}

func NewRenderCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RenderOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "render <file>",
		Short: "Draw the change history of a saved document as SVG",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rep, err := loadReplica(args[0])
			if err != nil {
				return err
			}
			output := opts.Output
			if output == "" {
				output = strings.TrimSuffix(args[0], ".automerge") + ".svg"
			}
			if err := viz.WriteSVG(rep, output); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), output)
			return nil
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "svg file to write (default <file>.svg)")
	return cmd
}
