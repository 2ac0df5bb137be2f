package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/moviola-io/moviola/cli/tui"
	"github.com/moviola-io/moviola/host"
	"github.com/moviola-io/moviola/iox"
	"github.com/moviola-io/moviola/log"
	"github.com/moviola-io/moviola/session"
	"github.com/moviola-io/moviola/types"
)

// Exit codes for open and save-frame.
const (
	exitSuccess     = 0
	exitScriptError = 1
	exitHostCrash   = 2
)

// OpenCommand returns the open command: the interactive preview.
func OpenCommand() *cli.Command {
	flags := append(engineFlags(),
		&cli.IntFlag{
			Name:  "read-ahead",
			Usage: "Prefetch window during playback",
		},
		&cli.IntFlag{
			Name:  "drop-threshold",
			Usage: "Max frames dropped per tick during catch-up",
		},
		&cli.StringFlag{
			Name:  "session-file",
			Usage: "Session file path (default: <script>.yml)",
		},
		&cli.BoolFlag{
			Name:  "no-restore",
			Usage: "Start fresh, ignoring an existing session file",
		},
		&cli.BoolFlag{
			Name:  "sync",
			Usage: "Start with every output node in one lock-step sync group",
		},
		&cli.StringFlag{
			Name:  "log-file",
			Usage: "Write engine logs to this file (default: discarded while the preview owns the terminal)",
		},
	)
	return &cli.Command{
		Name:      "open",
		Usage:     "Open a script in the interactive preview",
		ArgsUsage: "<script>",
		Flags:     flags,
		Action:    openAction,
	}
}

func openAction(c *cli.Context) error {
	if c.NArg() < 1 {
		return cli.Exit("script path required", exitScriptError)
	}
	scriptPath := c.Args().First()

	opts, err := resolveOptions(c)
	if err != nil {
		return cli.Exit(err.Error(), exitScriptError)
	}

	// The preview owns the terminal, so logs go to a file or nowhere.
	logger := log.Nop()
	if logPath := c.String("log-file"); logPath != "" {
		f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return cli.Exit(fmt.Sprintf("cannot open log file: %v", err), exitScriptError)
		}
		defer iox.DiscardClose(f)
		logger = log.NewLoggerAt(&log.SessionMeta{ScriptPath: scriptPath}, f, opts.logLevel)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sess, proc, err := buildSession(ctx, c, opts, scriptPath, logger)
	if err != nil {
		return cli.Exit(err.Error(), exitScriptError)
	}

	sessionPath := c.String("session-file")
	if sessionPath == "" {
		sessionPath = session.DefaultSessionPath(scriptPath)
	}
	if !c.Bool("no-restore") {
		if err := sess.LoadFile(sessionPath); err != nil {
			// A corrupt session file must not block opening.
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
	}
	if c.Bool("sync") {
		groupAllNodes(sess)
	}

	uiErr := tui.Run(sess)

	if err := sess.Save(sessionPath); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: session not saved: %v\n", err)
	}
	_ = sess.Close()

	if err := proc.Close(); err != nil {
		return cli.Exit(fmt.Sprintf("script host: %v", err), exitHostCrash)
	}
	if uiErr != nil {
		return cli.Exit(uiErr.Error(), exitScriptError)
	}
	return nil
}

// groupAllNodes places every output node in one lock-step sync group,
// replacing any grouping a restored session brought along.
func groupAllNodes(sess *session.Session) {
	nodes := sess.Registry().Nodes()
	ids := make([]types.NodeID, len(nodes))
	for i, n := range nodes {
		ids[i] = n.ID
	}
	sess.Sync().SetGroup(1, ids...)
}

// buildSession spawns the script host and assembles a session over it.
// The returned process must be closed after the session.
func buildSession(ctx context.Context, c *cli.Context, opts *options, scriptPath string, logger *log.Logger) (*session.Session, *host.Process, error) {
	proc, err := host.Spawn(ctx, host.ProcessConfig{
		HostPath:   opts.host,
		ScriptPath: scriptPath,
		Logger:     logger,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("starting script host: %w", err)
	}

	exporter, err := buildExporter(ctx, opts, scriptPath, logger)
	if err != nil {
		_ = proc.Close()
		return nil, nil, err
	}
	notifier, err := buildNotifier(opts)
	if err != nil {
		_ = proc.Close()
		return nil, nil, err
	}

	readAhead := opts.readAhead
	if v := c.Int("read-ahead"); v > 0 {
		readAhead = v
	}
	dropThreshold := opts.dropThreshold
	if v := c.Int("drop-threshold"); v > 0 {
		dropThreshold = v
	}

	sess, err := session.New(proc, session.Config{
		ScriptPath:    scriptPath,
		CacheBytes:    opts.cacheBytes,
		Workers:       opts.workers,
		ReadAhead:     readAhead,
		DropThreshold: dropThreshold,
		SaveTemplate:  opts.saveTemplate,
		Exporter:      exporter,
		Notifier:      notifier,
		Logger:        logger,
	})
	if err != nil {
		_ = proc.Close()
		return nil, nil, err
	}
	if err := sess.Open(ctx); err != nil {
		_ = sess.Close()
		_ = proc.Close()
		return nil, nil, fmt.Errorf("loading script: %w", err)
	}
	return sess, proc, nil
}
