// Tidewatch watches rooms through Home Assistant cameras and keeps an
// LLM-scored tidy status for each one.
//
// It captures camera snapshots, sends them to a vision model, and
// exposes the resulting per-zone state over an HTTP API and (optionally)
// Home Assistant MQTT discovery entities. Configuration is loaded from a
// single YAML file discovered automatically (see
// [config.DefaultSearchPaths]).
//
// Usage:
//
//	tidewatch serve              Start the monitor and API server
//	tidewatch check <zone>       Run a single check and print the result
//	tidewatch init [dir]         Write a starter tidewatch.yaml
//	tidewatch version            Print version and build information
//	tidewatch -o json version    Output version information as JSON
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/hollowpine/tidewatch/internal/api"
	"github.com/hollowpine/tidewatch/internal/buildinfo"
	"github.com/hollowpine/tidewatch/internal/config"
	"github.com/hollowpine/tidewatch/internal/events"
	"github.com/hollowpine/tidewatch/internal/homeassistant"
	"github.com/hollowpine/tidewatch/internal/mqtt"
	"github.com/hollowpine/tidewatch/internal/vision"
	"github.com/hollowpine/tidewatch/internal/zone"
)

// main is intentionally minimal. It constructs the OS-level environment
// (context, stdio, argv) and delegates immediately to [run]. This keeps
// os.Exit, os.Stdout, and os.Args out of the application logic so that
// the full startup-to-shutdown lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point for the tidewatch command. All OS-level
// dependencies are injected as parameters:
//
//   - ctx controls the lifetime of the process. Cancelling it triggers
//     graceful shutdown of the server and background goroutines.
//   - stdout and stderr receive all program output. Structured logs go
//     to stdout; fatal error messages go to stderr.
//   - args is os.Args[1:] — the command-line arguments after the program
//     name. We parse these manually rather than using the flag package
//     to avoid global state that interferes with parallel tests.
//
// run returns nil on clean shutdown and a non-nil error for any failure.
// The caller (main) is responsible for printing the error and exiting.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	// Parse arguments by hand. The flag package relies on package-level
	// globals (flag.CommandLine), which makes it impossible to call run()
	// concurrently from tests. Our argument surface is small enough that
	// manual parsing is clearer than bringing in a CLI framework.
	var configPath string
	var outputFmt string // "text" (default) or "json"
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++ // skip the value
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command != "" {
				// Collect remaining args as subcommand arguments.
				cmdArgs = append(cmdArgs, args[i])
			} else {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
		}
	}

	// Default to human-readable text output.
	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "serve":
		return runServe(ctx, stdout, stderr, configPath)
	case "init":
		dir := "."
		if len(cmdArgs) > 0 {
			dir = cmdArgs[0]
		}
		return runInit(stdout, dir)
	case "check":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: tidewatch check <zone>")
		}
		return runCheck(ctx, stdout, configPath, strings.Join(cmdArgs, " "))
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Info()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	// Print fields in a stable order for human readability.
	for _, k := range []string{"version", "git_commit", "git_branch", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

// printUsage writes the top-level help text to w. It is called when
// tidewatch is invoked with no arguments, or with -h / --help.
func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Tidewatch - Room tidiness monitor for Home Assistant")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: tidewatch [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve         Start the monitor and API server")
	fmt.Fprintln(w, "  check <zone>  Run a single zone check and print the result")
	fmt.Fprintln(w, "  init [dir]    Write a starter tidewatch.yaml")
	fmt.Fprintln(w, "  version       Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  ./tidewatch.yaml, ~/.config/tidewatch/tidewatch.yaml,")
	fmt.Fprintln(w, "  /etc/tidewatch/tidewatch.yaml")
	return nil
}

// runCheck handles the "tidewatch check <zone>" subcommand. It runs a
// single check against the named zone without starting the server and
// prints the resulting state as JSON. Useful for smoke-testing camera
// and provider configuration.
func runCheck(ctx context.Context, stdout io.Writer, configPath string, zoneName string) error {
	logger := newLogger(stdout, slog.LevelWarn, "text")

	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	if !cfg.HomeAssistant.Configured() {
		return fmt.Errorf("homeassistant url and token are required for camera capture")
	}

	var zoneCfg *config.ZoneConfig
	for i := range cfg.Zones {
		if cfg.Zones[i].Name == zoneName {
			zoneCfg = &cfg.Zones[i]
			break
		}
	}
	if zoneCfg == nil {
		return fmt.Errorf("zone %q not found in config", zoneName)
	}

	ha := homeassistant.NewClient(cfg.HomeAssistant.URL, cfg.HomeAssistant.Token, logger)
	analyzer := vision.NewClient(logger)

	z := zone.New(*zoneCfg, ha, analyzer, nil, logger)
	z.RequestCheck(ctx, zone.ReasonManual)

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(z.State())
}

// runServe handles the "tidewatch serve" subcommand. It is the primary
// operating mode: loads config, connects to Home Assistant, builds the
// zone registry, starts the MQTT publisher and the API server, and
// blocks until a shutdown signal arrives.
//
// The shutdown sequence is:
//  1. SIGINT or SIGTERM cancels the context
//  2. The MQTT publisher sends its offline message and disconnects
//  3. The HTTP server drains in-flight requests
//  4. Zone timers and observers are torn down via TeardownAll
func runServe(ctx context.Context, stdout io.Writer, stderr io.Writer, configPath string) error {
	logger := newLogger(stdout, slog.LevelInfo, "text")
	logger.Info("starting Tidewatch", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "branch", buildinfo.GitBranch, "built", buildinfo.BuildTime)

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config %s: %w", cfgPath, err)
	}

	// Reconfigure logger now that we know the desired level and format.
	// The initial Info-level text logger is used only for the startup
	// banner; everything after this point uses the configured settings.
	{
		level := slog.LevelInfo
		if cfg.LogLevel != "" {
			// ParseLogLevel is already validated by config.Validate(), so
			// this error path should be unreachable in practice.
			level, _ = config.ParseLogLevel(cfg.LogLevel)
		}
		logger = newLogger(stdout, level, cfg.LogFormat)
	}

	logger.Info("config loaded",
		"path", cfgPath,
		"port", cfg.Listen.Port,
		"zones", len(cfg.Zones),
		"mqtt", cfg.MQTT.Enabled,
	)

	// --- Home Assistant client ---
	// Required in serve mode: every zone check starts with a camera
	// snapshot through the HA API.
	if !cfg.HomeAssistant.Configured() {
		return fmt.Errorf("homeassistant url and token are required")
	}
	ha := homeassistant.NewClient(cfg.HomeAssistant.URL, cfg.HomeAssistant.Token, logger)

	// An unreachable HA is not fatal: it may still be booting, and the
	// per-check capture path reports its own errors. The watcher retries
	// in the background and surfaces reachability on /health.
	watcher := homeassistant.NewWatcher(ha.Ping, func() {
		infoCtx, infoCancel := context.WithTimeout(ctx, 10*time.Second)
		defer infoCancel()
		if haCfg, err := ha.GetConfig(infoCtx); err == nil {
			logger.Info("connected to Home Assistant",
				"url", cfg.HomeAssistant.URL,
				"version", haCfg.Version,
				"location", haCfg.LocationName,
			)
		}
	}, logger)
	watcher.Start(ctx)
	defer watcher.Stop()

	// --- Vision client ---
	// One shared client; per-zone provider and credentials travel with
	// each request.
	analyzer := vision.NewClient(logger)

	// --- Event bus ---
	// Check lifecycle events flow to the WebSocket stream and any other
	// subscriber.
	bus := events.New()

	// --- Zone registry ---
	registry := zone.NewRegistry()
	for _, zc := range cfg.Zones {
		z := zone.New(zc, ha, analyzer, bus, logger)
		registry.Add(z)
		logger.Info("zone configured",
			"zone", zc.Name,
			"camera", zc.Camera,
			"mode", zc.Mode,
			"provider", zc.Provider,
		)
	}

	// --- MQTT publisher ---
	// Optional. When enabled, every zone appears in HA as a device with
	// sensors and a needs-tidy binary sensor. Zone listeners push state
	// immediately after each check.
	var mqttPub *mqtt.Publisher
	if cfg.MQTT.Enabled {
		mqttPub = mqtt.New(cfg.MQTT, registry, logger)
		go func() {
			if err := mqttPub.Start(ctx); err != nil {
				logger.Error("mqtt publisher failed", "error", err)
			}
		}()

		for _, name := range registry.Names() {
			if z, ok := registry.Get(name); ok {
				zoneName := name
				z.AddListener(func() {
					pubCtx, pubCancel := context.WithTimeout(context.Background(), 10*time.Second)
					defer pubCancel()
					mqttPub.PublishZone(pubCtx, zoneName)
				})
			}
		}
	}

	// --- Auto-check timers ---
	registry.SetupAll()
	defer registry.TeardownAll()

	// --- API server ---
	server := api.NewServer(cfg.Listen.Address, cfg.Listen.Port, registry, bus, logger)
	server.SetConnStatus(func() any { return watcher.Status() })

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go func() {
		<-ctx.Done()
		logger.Info("shutdown signal received")

		// Publish MQTT offline status before disconnecting.
		if mqttPub != nil {
			offlineCtx, offlineCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer offlineCancel()
			if err := mqttPub.Stop(offlineCtx); err != nil {
				logger.Error("mqtt shutdown failed", "error", err)
			}
		}

		shutdownCtx := context.Background()
		_ = server.Shutdown(shutdownCtx)
	}()

	// Start the API server. This blocks until the server is shut down
	// (via context cancellation or fatal error).
	if err := server.Start(ctx); err != nil {
		if ctx.Err() == nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	logger.Info("Tidewatch stopped")
	return nil
}

// newLogger creates a structured logger that writes to w at the given level
// and format. Format must be "text" or "json"; any other value defaults to
// text. All log output in Tidewatch goes through slog; this helper
// standardizes the handler configuration across subcommands.
func newLogger(w io.Writer, level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// loadConfig locates and parses the YAML configuration file. If explicit
// is non-empty, that exact path is used (and must exist). Otherwise,
// [config.FindConfig] searches the default locations. Returns the parsed
// config, the path that was loaded, and any error.
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	return cfg, cfgPath, nil
}
