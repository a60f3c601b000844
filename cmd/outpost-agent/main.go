// ABOUTME: Entry point for outpost-agent, the dial-out side of outpost
// ABOUTME: Connects to a controller, announces this host and serves its commands

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/pflag"

	"github.com/2389/outpost/internal/agent"
	"github.com/2389/outpost/internal/capability"
	"github.com/2389/outpost/internal/config"
	"github.com/2389/outpost/internal/logging"
)

// Version is set at build time.
var version = "dev"

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		color.Red("Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := pflag.NewFlagSet("outpost-agent", pflag.ContinueOnError)
	configFlag := fs.StringP("config", "c", "", "config file (YAML or TOML)")
	address := fs.StringP("controller", "a", "", "controller address host:port (overrides controller.address)")
	logLevel := fs.String("log-level", "", "debug, info, warn or error (overrides logging.level)")
	showVersion := fs.Bool("version", false, "print the version and exit")
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: outpost-agent [flags]")
		fmt.Fprintln(os.Stderr)
		fmt.Fprintln(os.Stderr, "Config: --config > $OUTPOST_CONFIG > ~/.config/outpost/agent.yaml")
		fmt.Fprintln(os.Stderr)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *showVersion {
		fmt.Println(version)
		return nil
	}

	configPath := config.ResolvePath(*configFlag, "agent")
	cfg, err := config.LoadAgent(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if *address != "" {
		cfg.Controller.Address = *address
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}

	logger := logging.New(logging.Options{Level: cfg.Logging.Level, Format: cfg.Logging.Format}, os.Stdout)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	maxRead := cfg.Exec.MaxReadSize
	if maxRead == 0 {
		maxRead = capability.MaxReadSizeFor(cfg.Controller.MaxFrameSize)
	}

	// Media backends are left unset; the host reports them unavailable.
	host := capability.NewHost(capability.Options{
		ExecTimeout: cfg.Exec.Timeout,
		MaxReadSize: maxRead,
		Logger:      logger,
	})

	desc := host.Descriptor()
	logger.Info("starting outpost-agent",
		"version", version,
		"config", configPath,
		"controller", cfg.Controller.Address,
		"hostname", desc.Hostname,
		"username", desc.Username,
		"platform", desc.Platform,
	)

	a := agent.New(agent.Config{
		Address:      cfg.Controller.Address,
		InitialDelay: cfg.Reconnect.InitialDelay,
		MaxDelay:     cfg.Reconnect.MaxDelay,
		Multiplier:   cfg.Reconnect.Multiplier,
		DialTimeout:  cfg.Controller.DialTimeout,
		MaxFrameSize: cfg.Controller.MaxFrameSize,
	}, host, agent.WithLogger(logger))

	return a.Run(ctx)
}
