package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/moviola-io/moviola/cli/render"
	"github.com/moviola-io/moviola/host"
	"github.com/moviola-io/moviola/log"
	"github.com/moviola-io/moviola/types"
)

// NodeInfoResponse is one row of the info command output.
type NodeInfoResponse struct {
	ID     int    `json:"id"`
	Name   string `json:"name"`
	Frames int    `json:"frames"`
	FPS    string `json:"fps"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Format string `json:"format"`
	Audio  *int   `json:"audio,omitempty"`
}

// InfoCommand returns the info command: evaluate a script and list its
// output nodes without opening the preview.
func InfoCommand() *cli.Command {
	return &cli.Command{
		Name:      "info",
		Usage:     "List the output nodes of a script",
		ArgsUsage: "<script>",
		Flags:     append(ReadOnlyFlags(), ConfigFlag, HostFlag),
		Action:    infoAction,
	}
}

func infoAction(c *cli.Context) error {
	if c.NArg() < 1 {
		return cli.Exit("script path required", exitScriptError)
	}
	scriptPath := c.Args().First()

	opts, err := resolveOptions(c)
	if err != nil {
		return cli.Exit(err.Error(), exitScriptError)
	}
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	proc, err := host.Spawn(ctx, host.ProcessConfig{
		HostPath:   opts.host,
		ScriptPath: scriptPath,
		Logger:     log.Nop(),
	})
	if err != nil {
		return cli.Exit(fmt.Sprintf("starting script host: %v", err), exitScriptError)
	}
	defer func() { _ = proc.Close() }()

	nodes, err := proc.Nodes(ctx)
	if err != nil {
		return cli.Exit(fmt.Sprintf("loading script: %v", err), exitScriptError)
	}

	rows := make([]NodeInfoResponse, 0, len(nodes))
	for i := range nodes {
		rows = append(rows, nodeInfoRow(&nodes[i]))
	}
	return r.Render(rows)
}

func nodeInfoRow(node *types.OutputNode) NodeInfoResponse {
	row := NodeInfoResponse{
		ID:     int(node.ID),
		Name:   node.DisplayName(),
		Frames: node.FrameCount,
		FPS:    node.FPS.String(),
		Width:  node.Width,
		Height: node.Height,
		Format: node.Format,
	}
	if node.AudioNode != nil {
		audio := int(*node.AudioNode)
		row.Audio = &audio
	}
	return row
}
