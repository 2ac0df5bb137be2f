package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/moviola-io/moviola/adapter"
	"github.com/moviola-io/moviola/adapter/redis"
	"github.com/moviola-io/moviola/adapter/webhook"
	"github.com/moviola-io/moviola/cli/config"
	"github.com/moviola-io/moviola/export"
	"github.com/moviola-io/moviola/log"
)

// defaultConfigFile is picked up from the working directory when no
// --config flag is given.
const defaultConfigFile = "moviola.yaml"

// defaultHostBinary is resolved on PATH when neither flag nor config
// name a script host.
const defaultHostBinary = "moviola-host"

// options is the merged engine configuration: CLI flags override config
// file values, which override defaults.
type options struct {
	host          string
	cacheBytes    int64
	workers       int
	readAhead     int
	dropThreshold int
	saveTemplate  string
	logLevel      string

	export  config.ExportConfig
	adapter config.AdapterConfig
}

// resolveOptions loads the config file (if any) and merges flag
// overrides on top.
func resolveOptions(c *cli.Context) (*options, error) {
	cfg := &config.Config{}
	path := c.String("config")
	if path == "" {
		if _, err := os.Stat(defaultConfigFile); err == nil {
			path = defaultConfigFile
		}
	}
	if path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	opts := &options{
		host:          cfg.Host,
		cacheBytes:    cfg.CacheBytes,
		workers:       cfg.Workers,
		readAhead:     cfg.ReadAhead,
		dropThreshold: cfg.DropThreshold,
		saveTemplate:  cfg.SaveTemplate,
		logLevel:      cfg.LogLevel,
		export:        cfg.Export,
		adapter:       cfg.Adapter,
	}

	if v := c.String("host"); v != "" {
		opts.host = v
	}
	if v := c.Int64("cache-bytes"); v > 0 {
		opts.cacheBytes = v
	}
	if v := c.Int("workers"); v > 0 {
		opts.workers = v
	}
	if v := c.String("save-template"); v != "" {
		opts.saveTemplate = v
	}
	if v := c.String("log-level"); v != "" {
		opts.logLevel = v
	}
	if opts.host == "" {
		opts.host = defaultHostBinary
	}
	if opts.logLevel == "" {
		opts.logLevel = "info"
	}
	return opts, nil
}

// buildExporter creates the export destination. The local backend
// defaults to the script's directory, matching where users expect saved
// frames to land.
func buildExporter(ctx context.Context, opts *options, scriptPath string, logger *log.Logger) (*export.Exporter, error) {
	switch opts.export.Backend {
	case "", "local":
		dir := opts.export.Dir
		if dir == "" {
			dir = filepath.Dir(scriptPath)
		}
		dest, err := export.NewLocalDir(dir)
		if err != nil {
			return nil, fmt.Errorf("export directory: %w", err)
		}
		return export.New(dest, logger), nil

	case "s3":
		dest, err := export.NewS3(ctx, export.S3Config{
			Bucket:       opts.export.Bucket,
			Prefix:       opts.export.Prefix,
			Region:       opts.export.Region,
			Endpoint:     opts.export.Endpoint,
			UsePathStyle: opts.export.S3PathStyle,
		})
		if err != nil {
			return nil, fmt.Errorf("s3 export: %w", err)
		}
		return export.New(dest, logger), nil

	default:
		return nil, fmt.Errorf("unknown export backend: %s (must be local or s3)", opts.export.Backend)
	}
}

// buildNotifier creates the session-event adapter, or nil when none is
// configured.
func buildNotifier(opts *options) (adapter.Adapter, error) {
	// nil retries means "use the adapter default"; an explicit 0 disables
	// retries.
	retries := webhook.DefaultRetries
	if opts.adapter.Retries != nil {
		retries = *opts.adapter.Retries
	}
	timeout := time.Duration(0)
	if opts.adapter.Timeout.Duration > 0 {
		timeout = opts.adapter.Timeout.Duration
	}

	switch opts.adapter.Type {
	case "":
		return nil, nil
	case "webhook":
		return webhook.New(webhook.Config{
			URL:     opts.adapter.URL,
			Headers: opts.adapter.Headers,
			Timeout: timeout,
			Retries: retries,
		})
	case "redis":
		return redis.New(redis.Config{
			URL:     opts.adapter.URL,
			Channel: opts.adapter.Channel,
			Timeout: timeout,
			Retries: retries,
		})
	default:
		return nil, fmt.Errorf("unknown adapter type: %s (must be webhook or redis)", opts.adapter.Type)
	}
}
