package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mattjoyce/framewire/internal/config"
	"github.com/mattjoyce/framewire/internal/journal"
	"github.com/mattjoyce/framewire/internal/lock"
	"github.com/mattjoyce/framewire/internal/log"
	"github.com/mattjoyce/framewire/internal/metrics"
	"github.com/mattjoyce/framewire/internal/server"
	"github.com/mattjoyce/framewire/internal/storage"
)

const version = "0.1.0"

const defaultConfigPath = "framewire.yaml"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) < 1 {
		printUsage()
		return 1
	}

	cmd := args[0]
	rest := args[1:]

	switch cmd {
	case "serve":
		if hasHelpFlag(rest) {
			printServeHelp()
			return 0
		}
		return runServe(rest)
	case "config":
		return runConfigNoun(rest)
	case "version":
		fmt.Printf("framewire version %s\n", version)
		return 0
	case "help", "--help", "-h":
		printUsage()
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		return 1
	}
}

func printUsage() {
	fmt.Print(`framewire - framed request/response gateway

Usage:
  framewire <command> [flags]
  framewire config <action> [flags]

Commands:
  serve             Serve WebSocket echo and NDJSON RPC in the foreground

Config Commands:
  config check      Validate syntax, values and integrity
  config lock       Write the BLAKE3 integrity sidecar

General:
  version           Show version information
  help              Show this help message
`)
}

func runConfigNoun(args []string) int {
	if len(args) < 1 {
		printConfigNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printConfigNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "check":
		if hasHelpFlag(actionArgs) {
			printConfigCheckHelp()
			return 0
		}
		return runConfigCheck(actionArgs)
	case "lock":
		if hasHelpFlag(actionArgs) {
			printConfigLockHelp()
			return 0
		}
		return runConfigLock(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown config action: %s\n", action)
		return 1
	}
}

func isHelpToken(token string) bool {
	return token == "help" || token == "--help" || token == "-h"
}

func hasHelpFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--help" || arg == "-h" {
			return true
		}
	}
	return false
}

func printConfigNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: framewire config <action> [flags]")
	fmt.Fprintln(w, "Actions: check, lock")
}

func printServeHelp() {
	fmt.Println("Usage: framewire serve [--config PATH]")
	fmt.Println("Without --config, ./framewire.yaml is used when present, otherwise the defaults.")
}

func printConfigCheckHelp() {
	fmt.Println("Usage: framewire config check [--config PATH]")
}

func printConfigLockHelp() {
	fmt.Println("Usage: framewire config lock [--config PATH]")
}

// loadConfig reads path, or the default file when it exists, or the built-in
// defaults.
func loadConfig(path string) (*config.Config, string, error) {
	if path == "" {
		if _, err := os.Stat(defaultConfigPath); err != nil {
			return config.Defaults(), "", nil
		}
		path = defaultConfigPath
	}
	cfg, err := config.Load(path)
	return cfg, path, err
}

func runServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, path, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.Configure(log.Options{
		Level:  cfg.Service.LogLevel,
		Format: cfg.Service.LogFormat,
		File:   cfg.Service.LogFile,
	})
	logger := log.WithComponent("main")
	logger.Info("framewire starting", "version", version, "config", path)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var recorder server.SessionRecorder
	if cfg.Journal.Enabled {
		pidLock, err := lock.Acquire(lock.PathFor(cfg.Journal.Path))
		if err != nil {
			logger.Error("failed to acquire journal lock (another instance may be running)", "error", err)
			return 1
		}
		defer pidLock.Release()

		db, err := storage.OpenSQLite(ctx, cfg.Journal.Path)
		if err != nil {
			logger.Error("failed to open journal", "path", cfg.Journal.Path, "error", err)
			return 1
		}
		defer db.Close()
		recorder = journal.NewStore(db)
		logger.Info("session journal enabled", "path", cfg.Journal.Path)
	}

	srv := server.New(cfg, metrics.New(nil), recorder, log.WithComponent("server"))
	logger.Info("framewire running (press Ctrl+C to stop)",
		"http", cfg.Listen.HTTP,
		"tcp", cfg.Listen.TCP,
		"websocket_path", cfg.WebSocket.Path,
	)

	if err := srv.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server failed", "error", err)
		return 1
	}

	logger.Info("framewire stopped")
	return 0
}

func runConfigCheck(args []string) int {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	configPath := fs.String("config", defaultConfigPath, "Path to configuration file")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config check failed: %v\n", err)
		return 1
	}

	locked := "unlocked"
	if _, err := os.Stat(config.LockPath(*configPath)); err == nil {
		locked = "locked"
	}
	fmt.Printf("Config OK: %s (%s)\n", *configPath, locked)
	fmt.Printf("  http: %q  tcp: %q  websocket: %s\n", cfg.Listen.HTTP, cfg.Listen.TCP, cfg.WebSocket.Path)
	fmt.Printf("  journal: %t\n", cfg.Journal.Enabled)
	return 0
}

func runConfigLock(args []string) int {
	fs := flag.NewFlagSet("lock", flag.ContinueOnError)
	configPath := fs.String("config", defaultConfigPath, "Path to configuration file")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	// The existing sidecar is not verified; it is about to be replaced.
	data, err := os.ReadFile(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read config: %v\n", err)
		return 1
	}
	if _, err := config.Parse(data); err != nil {
		fmt.Fprintf(os.Stderr, "Refusing to lock invalid config: %v\n", err)
		return 1
	}

	hash, err := config.Lock(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to lock config: %v\n", err)
		return 1
	}
	fmt.Printf("Successfully locked configuration:\n  - %s\n  BLAKE3 %s\n", config.LockPath(*configPath), hash)
	return 0
}
