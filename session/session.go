// Package session assembles the engine: one Session owns the frame cache,
// dispatcher, node registry, playback scheduler, sync coordinator, and
// scene store for a single loaded script, and handles persistence of the
// user-visible state to a YAML session file.
package session

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/moviola-io/moviola/adapter"
	"github.com/moviola-io/moviola/cache"
	"github.com/moviola-io/moviola/dispatch"
	"github.com/moviola-io/moviola/export"
	"github.com/moviola-io/moviola/log"
	"github.com/moviola-io/moviola/metrics"
	"github.com/moviola-io/moviola/playback"
	"github.com/moviola-io/moviola/registry"
	"github.com/moviola-io/moviola/scene"
	"github.com/moviola-io/moviola/types"
)

// DefaultCacheBytes bounds the frame cache when no budget is configured.
const DefaultCacheBytes = 1 << 30

// Config configures a Session.
type Config struct {
	// ScriptPath is the path of the loaded script. Used for logging,
	// template expansion, and the default session file location.
	ScriptPath string
	// CacheBytes is the frame cache budget. Defaults to DefaultCacheBytes.
	CacheBytes int64
	// Workers bounds concurrent backend calls. Zero means the dispatcher
	// default.
	Workers int
	// ReadAhead is the prefetch window per advancement. Zero means the
	// scheduler default.
	ReadAhead int
	// DropThreshold caps frames dropped per tick during catch-up. Zero
	// means the scheduler default.
	DropThreshold int
	// SaveTemplate names saved frames. Defaults to DefaultSaveTemplate.
	SaveTemplate string
	// Events receives scheduler callbacks.
	Events playback.Events
	// Exporter receives saved frames. Nil disables SaveFrame.
	Exporter *export.Exporter
	// Notifier publishes session events downstream. Nil disables
	// notifications. The session owns its lifecycle.
	Notifier adapter.Adapter
	// BackendName labels metrics, e.g. "host" or "stub".
	BackendName string
	// Logger is optional.
	Logger *log.Logger
}

// Session is the engine facade for one loaded script.
type Session struct {
	id         string
	scriptPath string
	logger     *log.Logger

	frames *cache.Cache
	disp   *dispatch.Dispatcher
	reg    *registry.Registry
	sched  *playback.Scheduler
	sync   *playback.Coordinator
	scenes *scene.Store

	exporter *export.Exporter
	notifier adapter.Adapter
	stats    *metrics.Collector

	saveTemplate string

	// UI state carried through the session file untouched by the engine.
	zoomLevels []float64
	toolbars   map[string]bool
}

// New wires a session over the given backend. Call Open before use.
func New(backend dispatch.Backend, cfg Config) (*Session, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Nop()
	}
	budget := cfg.CacheBytes
	if budget <= 0 {
		budget = DefaultCacheBytes
	}

	frames, err := cache.New(budget, logger)
	if err != nil {
		return nil, fmt.Errorf("creating frame cache: %w", err)
	}
	disp := dispatch.New(backend, frames, dispatch.Config{
		Workers: cfg.Workers,
		Logger:  logger,
	})
	reg := registry.New(backend, disp, frames, logger)
	coord := playback.NewCoordinator()
	sched := playback.NewScheduler(reg, disp, coord, cfg.Events, playback.Config{
		ReadAhead:     cfg.ReadAhead,
		DropThreshold: cfg.DropThreshold,
		Logger:        logger,
	})

	template := cfg.SaveTemplate
	if template == "" {
		template = DefaultSaveTemplate
	}
	backendName := cfg.BackendName
	if backendName == "" {
		backendName = "host"
	}

	id := uuid.NewString()
	return &Session{
		id:           id,
		scriptPath:   cfg.ScriptPath,
		logger:       logger,
		frames:       frames,
		disp:         disp,
		reg:          reg,
		sched:        sched,
		sync:         coord,
		scenes:       scene.NewStore(),
		exporter:     cfg.Exporter,
		notifier:     cfg.Notifier,
		stats:        metrics.NewCollector(id, cfg.ScriptPath, backendName),
		saveTemplate: template,
	}, nil
}

// Open performs the initial node load.
func (s *Session) Open(ctx context.Context) error {
	if err := s.reg.Load(ctx); err != nil {
		return err
	}
	s.logger.Info("session opened", map[string]any{
		"session_id": s.id,
		"script":     s.scriptPath,
		"nodes":      len(s.reg.Nodes()),
	})
	return nil
}

// Reload re-fetches the node set after a script edit.
func (s *Session) Reload(ctx context.Context) error {
	if err := s.reg.Reload(ctx); err != nil {
		return err
	}
	s.stats.IncReload()
	s.notify(ctx, &adapter.SessionEvent{
		EventType:  adapter.EventScriptReloaded,
		Generation: uint64(s.reg.Generation()),
	})
	return nil
}

// ID returns the session's unique id.
func (s *Session) ID() string { return s.id }

// ScriptPath returns the loaded script path.
func (s *Session) ScriptPath() string { return s.scriptPath }

// ScriptName returns the script's base name without extension, as used by
// save-name templates.
func (s *Session) ScriptName() string {
	base := filepath.Base(s.scriptPath)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Registry returns the node registry.
func (s *Session) Registry() *registry.Registry { return s.reg }

// Scheduler returns the playback scheduler.
func (s *Session) Scheduler() *playback.Scheduler { return s.sched }

// Sync returns the sync coordinator.
func (s *Session) Sync() *playback.Coordinator { return s.sync }

// Scenes returns the scene store.
func (s *Session) Scenes() *scene.Store { return s.scenes }

// Cache returns the frame cache.
func (s *Session) Cache() *cache.Cache { return s.frames }

// Dispatcher returns the frame dispatcher.
func (s *Session) Dispatcher() *dispatch.Dispatcher { return s.disp }

// SaveTemplate returns the active save-file-name template.
func (s *Session) SaveTemplate() string { return s.saveTemplate }

// SetSaveTemplate replaces the save-file-name template. Empty restores
// the default.
func (s *Session) SetSaveTemplate(template string) {
	if template == "" {
		template = DefaultSaveTemplate
	}
	s.saveTemplate = template
}

// SaveFrameName expands the save template for a frame of a node.
func (s *Session) SaveFrameName(node types.OutputNode, index int, props types.FrameProps) string {
	return ExpandTemplate(s.saveTemplate, TemplateContext{
		ScriptName: s.ScriptName(),
		Frame:      index,
		Node:       node,
		Props:      props,
	})
}

// FetchFrame requests a frame at display priority and waits for it.
func (s *Session) FetchFrame(ctx context.Context, node types.NodeID, index int) (*types.CachedFrame, error) {
	handle := s.disp.Request(s.reg.Key(node, index), dispatch.PriorityDisplay)
	return handle.Await(ctx)
}

// Close shuts down the dispatcher, then the exporter and notifier.
// The backend is owned by the caller and closed separately.
func (s *Session) Close() error {
	err := s.disp.Close()
	if s.exporter != nil {
		if cerr := s.exporter.Close(); err == nil {
			err = cerr
		}
	}
	if s.notifier != nil {
		if cerr := s.notifier.Close(); err == nil {
			err = cerr
		}
	}
	s.logger.Info("session closed", map[string]any{"session_id": s.id})
	return err
}
