package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/quill/cli/config"
	"github.com/pithecene-io/quill/iox"
	"github.com/pithecene-io/quill/log"
	"github.com/pithecene-io/quill/metrics"
	"github.com/pithecene-io/quill/runtime"
	"github.com/pithecene-io/quill/tempstore"
	"github.com/pithecene-io/quill/trace"
	"github.com/pithecene-io/quill/types"
	"github.com/pithecene-io/quill/watch"
)

// Exit codes for the host action.
const (
	exitUnexpected    = 1
	exitProtocolError = 2
	exitInvalidConfig = 3
)

// HostFlags returns the flags of the default (host) action. Every flag
// overrides the matching config value when set.
func HostFlags() []cli.Flag {
	return []cli.Flag{
		ConfigFlag,
		&cli.BoolFlag{
			Name:  "debug",
			Usage: "Enable debug logging",
		},
		&cli.StringFlag{
			Name:  "log-file",
			Usage: "Append logs to this file instead of stderr",
		},
		&cli.StringFlag{
			Name:  "work-dir",
			Usage: "Directory in which the temp file directory is created",
		},
		&cli.StringFlag{
			Name:  "watch-backend",
			Usage: "File watcher: auto, inotify, fsnotify",
		},
		&cli.StringFlag{
			Name:  "shutdown",
			Usage: "Running editors at end of input: terminate or wait",
		},
		&cli.StringFlag{
			Name:  "trace",
			Usage: "Append a msgpack transcript of every frame to this file",
		},
	}
}

// HostAction serves the native-messaging channel on stdin and stdout.
// Browsers start the host with their own positional arguments (manifest
// path and extension id, or the extension origin); they are logged and
// otherwise ignored.
func HostAction(c *cli.Context) error {
	cfg, cfgPath, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err.Error(), exitInvalidConfig)
	}

	return runHost(c.Context, cfg, hostIO{
		stdin:   os.Stdin,
		stdout:  os.Stdout,
		stderr:  os.Stderr,
		cfgPath: cfgPath,
		args:    c.Args().Slice(),
	})
}

// loadConfig resolves quill.yaml and applies flag overrides.
func loadConfig(c *cli.Context) (*config.Config, string, error) {
	cfg, path, err := config.Resolve(c.String("config"))
	if err != nil {
		return nil, "", err
	}

	if c.IsSet("debug") {
		cfg.Debug = c.Bool("debug")
	}
	if c.IsSet("log-file") {
		cfg.LogFile = c.String("log-file")
	}
	if c.IsSet("work-dir") {
		cfg.WorkDir = c.String("work-dir")
	}
	if c.IsSet("watch-backend") {
		cfg.Watch.Backend = c.String("watch-backend")
	}
	if c.IsSet("shutdown") {
		cfg.Shutdown.Mode = c.String("shutdown")
	}
	if c.IsSet("trace") {
		cfg.Trace.Path = c.String("trace")
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", fmt.Errorf("invalid options: %w", err)
	}
	return cfg, path, nil
}

// hostIO carries the process streams so tests can substitute pipes.
type hostIO struct {
	stdin   io.Reader
	stdout  io.Writer
	stderr  io.Writer
	cfgPath string
	args    []string
}

// runHost wires the store, watcher, launcher and dispatcher and runs until
// end of input, a fatal protocol error, or a termination signal. Resources
// are released in reverse order of acquisition, so the working directory
// is removed after the watcher and the transcript are closed.
func runHost(ctx context.Context, cfg *config.Config, hio hostIO) (err error) {
	var cleanup iox.Stack
	defer func() {
		if cerr := cleanup.Close(); cerr != nil && err == nil {
			err = cli.Exit(cerr.Error(), exitUnexpected)
		}
	}()

	logOut := hio.stderr
	if cfg.LogFile != "" {
		f, ferr := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if ferr != nil {
			return cli.Exit(fmt.Sprintf("open log file: %v", ferr), exitInvalidConfig)
		}
		_ = cleanup.PushCloser("log file", f)
		logOut = f
	}

	backend, _ := watch.ParseBackend(cfg.Watch.Backend)
	mode, _ := runtime.ParseShutdownMode(cfg.Shutdown.Mode)

	store, err := tempstore.Open(tempstore.ResolveRoot(cfg.WorkDir, cfg.RuntimeDirEnv))
	if err != nil {
		return cli.Exit(err.Error(), exitUnexpected)
	}
	_ = cleanup.PushCloser("temp store", store)

	logger := log.NewLogger(log.HostMeta{
		Name:       types.HostName,
		InstanceID: uuid.NewString(),
		PID:        os.Getpid(),
		WorkDir:    store.Dir(),
	}, log.Options{Debug: cfg.Debug, Output: logOut})
	defer func() { _ = logger.Sync() }()

	logger.Info("host starting", map[string]any{
		"version":       types.Version,
		"config":        hio.cfgPath,
		"browser_args":  hio.args,
		"watch_backend": string(backend.Resolve()),
		"shutdown":      string(mode),
	})

	watcher, err := watch.New(backend, store.Dir(), cfg.Watch.Settle.Duration)
	if err != nil {
		logger.Error("watcher failed", map[string]any{"error": err.Error()})
		return cli.Exit(err.Error(), exitUnexpected)
	}
	_ = cleanup.PushCloser("watcher", watcher)

	var recorder *trace.Recorder
	if cfg.Trace.Path != "" {
		recorder, err = trace.Open(cfg.Trace.Path)
		if err != nil {
			logger.Error("trace open failed", map[string]any{"error": err.Error()})
			return cli.Exit(err.Error(), exitInvalidConfig)
		}
		_ = cleanup.PushCloser("trace", recorder)
	}

	dispatcher, err := runtime.NewDispatcher(runtime.DispatcherConfig{
		Input:    hio.stdin,
		Output:   hio.stdout,
		Store:    store,
		Watcher:  watcher,
		Launcher: &runtime.EditorLauncher{Grace: cfg.Shutdown.Grace.Duration},
		Defaults: runtime.Defaults{
			Editor:    cfg.Editor.Default,
			Extension: cfg.Editor.DefaultExtension,
		},
		Shutdown:  mode,
		Logger:    logger,
		Collector: metrics.NewCollector(string(backend.Resolve()), string(mode)),
		Recorder:  recorder,
	})
	if err != nil {
		return cli.Exit(err.Error(), exitUnexpected)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	runErr := dispatcher.Run(ctx)
	return exitFor(runErr, logger)
}

// exitFor maps the dispatcher result onto the process exit code.
func exitFor(err error, logger *log.Logger) error {
	var dispErr *runtime.DispatchError
	switch {
	case err == nil:
		logger.Info("host stopped", nil)
		return nil
	case errors.Is(err, context.Canceled):
		logger.Info("host stopped by signal", nil)
		return nil
	case errors.As(err, &dispErr):
		logger.Error("host failed", map[string]any{"error": err.Error(), "kind": dispErr.Kind.String()})
		return cli.Exit(err.Error(), exitProtocolError)
	default:
		logger.Error("host failed", map[string]any{"error": err.Error()})
		return cli.Exit(err.Error(), exitUnexpected)
	}
}
