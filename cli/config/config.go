package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pithecene-io/quill/runtime"
	"github.com/pithecene-io/quill/tempstore"
	"github.com/pithecene-io/quill/watch"
)

// DefaultRuntimeDirEnv names the variable holding the per-user runtime
// directory.
const DefaultRuntimeDirEnv = "XDG_RUNTIME_DIR"

// Config represents a quill.yaml configuration file.
// CLI flags always override config values.
type Config struct {
	// WorkDir overrides the directory the temp file directory is created in.
	WorkDir string `yaml:"work_dir" json:"work_dir"`
	// RuntimeDirEnv is consulted when WorkDir is empty.
	RuntimeDirEnv string         `yaml:"runtime_dir_env" json:"runtime_dir_env"`
	Watch         WatchConfig    `yaml:"watch" json:"watch"`
	Editor        EditorConfig   `yaml:"editor" json:"editor"`
	Shutdown      ShutdownConfig `yaml:"shutdown" json:"shutdown"`
	Trace         TraceConfig    `yaml:"trace" json:"trace"`
	LogFile       string         `yaml:"log_file" json:"log_file"`
	Debug         bool           `yaml:"debug" json:"debug"`
}

// WatchConfig selects the watcher backend.
type WatchConfig struct {
	Backend string `yaml:"backend" json:"backend"`
	// Settle is the fsnotify coalescing window.
	Settle Duration `yaml:"settle" json:"settle"`
}

// EditorConfig holds defaults for requests without preferences.
type EditorConfig struct {
	Default          []string `yaml:"default" json:"default"`
	DefaultExtension string   `yaml:"default_extension" json:"default_extension"`
}

// ShutdownConfig controls running editors at end of input.
type ShutdownConfig struct {
	Mode string `yaml:"mode" json:"mode"`
	// Grace is the wait between SIGTERM and SIGKILL.
	Grace Duration `yaml:"grace" json:"grace"`
}

// TraceConfig enables the frame transcript.
type TraceConfig struct {
	Path string `yaml:"path" json:"path"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		RuntimeDirEnv: DefaultRuntimeDirEnv,
		Watch: WatchConfig{
			Backend: string(watch.BackendAuto),
			Settle:  Duration{watch.DefaultSettle},
		},
		Editor: EditorConfig{
			Default:          append([]string(nil), runtime.DefaultEditor...),
			DefaultExtension: tempstore.DefaultExtension,
		},
		Shutdown: ShutdownConfig{
			Mode:  string(runtime.ShutdownTerminate),
			Grace: Duration{runtime.DefaultGrace},
		},
	}
}

// Validate checks enumerations and ranges.
func (c *Config) Validate() error {
	var errs []error
	if _, err := watch.ParseBackend(c.Watch.Backend); err != nil {
		errs = append(errs, fmt.Errorf("watch.backend: %w", err))
	}
	if c.Watch.Settle.Duration < 0 {
		errs = append(errs, fmt.Errorf("watch.settle: must not be negative, got %s", c.Watch.Settle))
	}
	if _, err := runtime.ParseShutdownMode(c.Shutdown.Mode); err != nil {
		errs = append(errs, fmt.Errorf("shutdown.mode: %w", err))
	}
	if c.Shutdown.Grace.Duration < 0 {
		errs = append(errs, fmt.Errorf("shutdown.grace: must not be negative, got %s", c.Shutdown.Grace))
	}
	if len(c.Editor.Default) > 0 && strings.TrimSpace(c.Editor.Default[0]) == "" {
		errs = append(errs, errors.New("editor.default: command must not be empty"))
	}
	return errors.Join(errs...)
}

// Duration wraps time.Duration for YAML string parsing (e.g. "75ms", "3s").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
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

// MarshalYAML renders the duration as a string.
func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

// MarshalText renders the duration as a string for JSON output.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}
