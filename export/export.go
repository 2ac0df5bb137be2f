// Package export writes decoded frames to their save destination.
//
// Encoding is intentionally thin: 8-bit formats become PNG, everything
// else is written as the raw pixel payload. The engine never converts
// bit depth or colorimetry; what the backend decoded is what lands on
// disk. Destinations are pluggable, with local directories and S3-style
// object storage built in.
package export

import (
	"context"
	"fmt"

	"github.com/moviola-io/moviola/log"
	"github.com/moviola-io/moviola/types"
)

// Destination is a place saved frames are written to.
type Destination interface {
	// Store writes one named object and returns its final location
	// (a file path or object URI).
	Store(ctx context.Context, name string, data []byte, contentType string) (string, error)

	// Close releases destination resources.
	Close() error
}

// Exporter encodes frames and hands them to a destination.
type Exporter struct {
	dest   Destination
	logger *log.Logger
}

// New creates an exporter over dest.
func New(dest Destination, logger *log.Logger) *Exporter {
	if logger == nil {
		logger = log.Nop()
	}
	return &Exporter{dest: dest, logger: logger}
}

// Save encodes a frame and stores it under name (extension appended per
// encoding). Returns the final location.
func (e *Exporter) Save(ctx context.Context, name string, frame *types.CachedFrame, node types.OutputNode) (string, error) {
	data, ext, contentType, err := EncodeFrame(frame, node)
	if err != nil {
		return "", fmt.Errorf("encoding frame %d of node %d: %w", frame.Key.Index, frame.Key.Node, err)
	}

	location, err := e.dest.Store(ctx, name+ext, data, contentType)
	if err != nil {
		return "", fmt.Errorf("storing frame %d of node %d: %w", frame.Key.Index, frame.Key.Node, err)
	}

	e.logger.Info("frame saved", map[string]any{
		"node":     int(frame.Key.Node),
		"frame":    frame.Key.Index,
		"location": location,
		"bytes":    len(data),
	})
	return location, nil
}

// Close closes the underlying destination.
func (e *Exporter) Close() error {
	return e.dest.Close()
}
