package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/moviola-io/moviola/cli/render"
	"github.com/moviola-io/moviola/log"
	"github.com/moviola-io/moviola/types"
)

// SaveFrameResponse is the save-frame command output.
type SaveFrameResponse struct {
	Node     int    `json:"node"`
	Frame    int    `json:"frame"`
	Location string `json:"location"`
}

// SaveFrameCommand returns the save-frame command: decode one frame of
// a script and write it to the export destination without opening the
// preview.
func SaveFrameCommand() *cli.Command {
	flags := append(engineFlags(),
		&cli.IntFlag{
			Name:  "node",
			Usage: "Output node index",
		},
		&cli.IntFlag{
			Name:     "frame",
			Usage:    "Frame index to save",
			Required: true,
		},
		&cli.StringFlag{
			Name:  "out",
			Usage: "Local output directory (overrides config)",
		},
	)
	return &cli.Command{
		Name:      "save-frame",
		Usage:     "Save a single frame to the export destination",
		ArgsUsage: "<script>",
		Flags:     append(flags, ReadOnlyFlags()...),
		Action:    saveFrameAction,
	}
}

func saveFrameAction(c *cli.Context) error {
	if c.NArg() < 1 {
		return cli.Exit("script path required", exitScriptError)
	}
	scriptPath := c.Args().First()

	opts, err := resolveOptions(c)
	if err != nil {
		return cli.Exit(err.Error(), exitScriptError)
	}
	if out := c.String("out"); out != "" {
		opts.export.Backend = "local"
		opts.export.Dir = out
	}
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}

	logger := log.NewLoggerAt(&log.SessionMeta{ScriptPath: scriptPath}, os.Stderr, opts.logLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sess, proc, err := buildSession(ctx, c, opts, scriptPath, logger)
	if err != nil {
		return cli.Exit(err.Error(), exitScriptError)
	}

	node := types.NodeID(c.Int("node"))
	frame := c.Int("frame")
	location, saveErr := sess.SaveFrame(ctx, node, frame)

	_ = sess.Close()
	if err := proc.Close(); err != nil {
		return cli.Exit(err.Error(), exitHostCrash)
	}
	if saveErr != nil {
		return cli.Exit(saveErr.Error(), exitScriptError)
	}

	return r.Render(SaveFrameResponse{
		Node:     int(node),
		Frame:    frame,
		Location: location,
	})
}
