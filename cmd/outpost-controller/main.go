// ABOUTME: Entry point for outpost-controller, the listening side of outpost
// ABOUTME: Accepts agent connections and serves the operator console API

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/pflag"

	"github.com/2389/outpost/internal/client"
	"github.com/2389/outpost/internal/config"
	"github.com/2389/outpost/internal/controller"
	"github.com/2389/outpost/internal/logging"
	"github.com/2389/outpost/internal/session"
)

// Version is set at build time.
var version = "dev"

const banner = `
             _                   _
  ___  _   _| |_ _ __   ___  ___| |_
 / _ \| | | | __| '_ \ / _ \/ __| __|
| (_) | |_| | |_| |_) | (_) \__ \ |_
 \___/ \__,_|\__| .__/ \___/|___/\__|
                |_|      controller
`

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	args := os.Args[2:]

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx, args)
	case "init":
		err = runInit(args)
	case "health":
		err = runHealth(ctx, args)
	case "version", "--version":
		fmt.Println(version)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: outpost-controller <command> [flags]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve      Accept agents and serve the console API")
	fmt.Println("  init       Write a default config file")
	fmt.Println("  health     Check a running controller's console")
	fmt.Println("  version    Print the version")
	fmt.Println()
	fmt.Println("Config: --config > $OUTPOST_CONFIG > ~/.config/outpost/controller.yaml")
}

func runServe(ctx context.Context, args []string) error {
	fs := pflag.NewFlagSet("serve", pflag.ContinueOnError)
	configFlag := fs.StringP("config", "c", "", "config file (YAML or TOML)")
	listen := fs.String("listen", "", "agent listen address (overrides server.listen_addr)")
	httpAddr := fs.String("http", "", "console address, or \"off\" (overrides server.http_addr)")
	logLevel := fs.String("log-level", "", "debug, info, warn or error (overrides logging.level)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	configPath := config.ResolvePath(*configFlag, "controller")
	cfg, err := config.LoadController(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if *listen != "" {
		cfg.Server.ListenAddr = *listen
	}
	if *httpAddr != "" {
		cfg.Server.HTTPAddr = *httpAddr
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	logger := logging.New(logging.Options{Level: cfg.Logging.Level, Format: cfg.Logging.Format}, os.Stdout)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	shownConfig := configPath
	if shownConfig == "" {
		shownConfig = "(built-in defaults)"
	}
	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", shownConfig)
	green.Print("    ▶ ")
	fmt.Printf("Agents:    %s\n", cfg.Server.ListenAddr)
	green.Print("    ▶ ")
	if cfg.ConsoleEnabled() {
		fmt.Printf("Console:   http://%s\n", cfg.Server.HTTPAddr)
	} else {
		fmt.Print("Console:   ")
		yellow.Println("disabled")
	}
	green.Print("    ▶ ")
	fmt.Printf("Sessions:  exclusion=%s on_collision=%s\n", cfg.Sessions.Exclusion, cfg.Sessions.OnCollision)
	fmt.Println()

	logger.Info("starting outpost-controller",
		"config", configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"http_addr", cfg.Server.HTTPAddr,
	)

	ctrlCfg := controller.Config{
		ListenAddr:       cfg.Server.ListenAddr,
		HandshakeTimeout: cfg.Server.HandshakeTimeout,
		MaxFrameSize:     cfg.Server.MaxFrameSize,
		Sessions: session.Options{
			Exclusion:   session.Exclusion(cfg.Sessions.Exclusion),
			Collision:   session.Collision(cfg.Sessions.OnCollision),
			CallTimeout: cfg.Sessions.CallTimeout,
		},
	}
	if cfg.ConsoleEnabled() {
		ctrlCfg.HTTPAddr = cfg.Server.HTTPAddr
	}

	return controller.New(ctrlCfg, logger).Run(ctx)
}

func runInit(args []string) error {
	fs := pflag.NewFlagSet("init", pflag.ContinueOnError)
	output := fs.StringP("output", "o", "", "where to write the file (default ~/.config/outpost/controller.yaml)")
	listen := fs.String("listen", config.DefaultListenAddr, "agent listen address")
	httpAddr := fs.String("http", config.DefaultHTTPAddr, "console address")
	force := fs.Bool("force", false, "overwrite an existing file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	path := *output
	if path == "" {
		var err error
		if path, err = config.DefaultPath("controller"); err != nil {
			return err
		}
	}

	if _, err := os.Stat(path); err == nil && !*force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}

	var cfg strings.Builder
	cfg.WriteString("# outpost-controller configuration\n")
	cfg.WriteString("# Generated by outpost-controller init\n\n")

	cfg.WriteString("server:\n")
	cfg.WriteString(fmt.Sprintf("  listen_addr: %q\n", *listen))
	cfg.WriteString(fmt.Sprintf("  http_addr: %q\n", *httpAddr))
	cfg.WriteString(fmt.Sprintf("  handshake_timeout: %q\n", config.DefaultHandshakeTimeout.String()))
	cfg.WriteString(fmt.Sprintf("  max_frame_size: %q\n", config.DefaultMaxFrameSize))
	cfg.WriteString("\n")

	cfg.WriteString("sessions:\n")
	cfg.WriteString("  exclusion: \"session\"\n")
	cfg.WriteString("  on_collision: \"replace\"\n")
	cfg.WriteString(fmt.Sprintf("  call_timeout: %q\n", config.DefaultCallTimeout.String()))
	cfg.WriteString("\n")

	cfg.WriteString("logging:\n")
	cfg.WriteString("  level: \"info\"\n")
	cfg.WriteString("  format: \"text\"\n")

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(cfg.String()), 0o644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	// Round-trip through the loader so a bad flag value fails here.
	if _, err := config.LoadController(path); err != nil {
		return fmt.Errorf("generated config is invalid: %w", err)
	}

	color.New(color.FgGreen).Print("✓ ")
	fmt.Printf("Wrote %s\n", path)
	return nil
}

func runHealth(ctx context.Context, args []string) error {
	fs := pflag.NewFlagSet("health", pflag.ContinueOnError)
	configFlag := fs.StringP("config", "c", "", "config file (YAML or TOML)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.LoadController(config.ResolvePath(*configFlag, "controller"))
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if !cfg.ConsoleEnabled() {
		return errors.New("console is disabled in config")
	}

	if err := client.New(cfg.Server.HTTPAddr).Health(ctx); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	fmt.Println("healthy")
	return nil
}
