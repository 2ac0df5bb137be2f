package config

import (
	"fmt"
	"time"
)

// Config represents a moviola.yaml configuration file.
// All values are optional and act as defaults for moviola open flags.
// CLI flags always override config values.
type Config struct {
	// Host is the path to the script host binary.
	Host string `yaml:"host"`
	// CacheBytes is the frame cache budget in bytes.
	CacheBytes int64 `yaml:"cache_bytes"`
	// Workers bounds concurrent host decode calls.
	Workers int `yaml:"workers"`
	// ReadAhead is the prefetch window during playback.
	ReadAhead int `yaml:"read_ahead"`
	// DropThreshold caps frames dropped per tick during catch-up.
	DropThreshold int `yaml:"drop_threshold"`
	// SaveTemplate names saved frames.
	SaveTemplate string `yaml:"save_file_name_template"`
	// LogLevel sets the engine log level (debug, info, warn, error).
	LogLevel string        `yaml:"log_level"`
	Export   ExportConfig  `yaml:"export"`
	Adapter  AdapterConfig `yaml:"adapter"`
}

// ExportConfig holds frame export defaults from the config file.
type ExportConfig struct {
	// Backend selects the destination: "local" (default) or "s3".
	Backend string `yaml:"backend"`
	// Dir is the local export directory. Empty means the script's
	// directory.
	Dir string `yaml:"dir"`
	// Bucket, Prefix, Region, Endpoint configure the s3 backend.
	Bucket      string `yaml:"bucket"`
	Prefix      string `yaml:"prefix"`
	Region      string `yaml:"region"`
	Endpoint    string `yaml:"endpoint"`
	S3PathStyle bool   `yaml:"s3_path_style"`
}

// AdapterConfig holds session-event adapter defaults from the config file.
type AdapterConfig struct {
	Type    string            `yaml:"type"`
	URL     string            `yaml:"url"`
	Channel string            `yaml:"channel,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`
	Timeout Duration          `yaml:"timeout,omitempty"`
	Retries *int              `yaml:"retries,omitempty"`
}

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}
