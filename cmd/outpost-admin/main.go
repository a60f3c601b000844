// ABOUTME: Operator CLI for outpost: lists sessions and relays commands through the console API
// ABOUTME: Human output uses color and tables; --json prints raw API values

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
	"golang.org/x/term"

	"github.com/2389/outpost/internal/client"
)

const banner = `
             _                   _
  ___  _   _| |_ _ __   ___  ___| |_
 / _ \| | | | __| '_ \ / _ \/ __| __|
| (_) | |_| | |_| |_) | (_) \__ \ |_
 \___/ \__,_|\__| .__/ \___/|___/\__|
                |_|      admin
`

// app carries global flags and the API client into every subcommand.
type app struct {
	client *client.Client
	json   bool
}

func main() {
	fs := pflag.NewFlagSet("outpost-admin", pflag.ContinueOnError)
	fs.SetInterspersed(false)
	url := fs.String("url", getEnv("OUTPOST_URL", client.DefaultURL), "controller console URL")
	jsonOut := fs.Bool("json", false, "print raw JSON instead of formatted output")
	noColor := fs.Bool("no-color", false, "disable colored output")
	fs.Usage = printUsage

	if err := fs.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		os.Exit(2)
	}
	if *noColor || !term.IsTerminal(int(os.Stdout.Fd())) {
		color.NoColor = true
	}

	args := fs.Args()
	if len(args) < 1 {
		printUsage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a := &app{client: client.New(*url), json: *jsonOut}
	cmd, rest := args[0], args[1:]

	var err error
	switch cmd {
	case "status":
		err = a.cmdStatus(ctx, *url)
	case "sessions", "ls-sessions":
		err = a.cmdSessions(ctx)
	case "info":
		err = a.cmdInfo(ctx, rest)
	case "exec":
		err = a.cmdExec(ctx, rest)
	case "shell":
		err = a.cmdShell(ctx, rest)
	case "ls":
		err = a.cmdList(ctx, rest)
	case "download", "get":
		err = a.cmdDownload(ctx, rest)
	case "upload", "put":
		err = a.cmdUpload(ctx, rest)
	case "screenshot":
		err = a.cmdScreenshot(ctx, rest)
	case "send":
		err = a.cmdSend(ctx, rest)
	case "kick":
		err = a.cmdKick(ctx, rest)
	case "watch":
		err = a.cmdWatch(ctx)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil && !errors.Is(err, pflag.ErrHelp) {
		color.Red("Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	cyan := color.New(color.FgCyan)
	yellow := color.New(color.FgYellow)

	cyan.Print(banner)
	fmt.Println()
	fmt.Println("Usage: outpost-admin [--url URL] [--json] <command> [args]")
	fmt.Println()
	yellow.Println("Commands:")
	fmt.Println("  status                          Check the controller and count sessions")
	fmt.Println("  sessions                        List connected agents")
	fmt.Println("  info <session>                  Show an agent's system facts")
	fmt.Println("  exec <session> <command...>     Run a shell command")
	fmt.Println("  shell <session>                 Run commands interactively (Ctrl+D to exit)")
	fmt.Println("  ls <session> <path>             List a directory")
	fmt.Println("  download <session> <remote> [local]")
	fmt.Println("                                  Fetch a file (default: its base name in .)")
	fmt.Println("  upload <session> <local> <remote>")
	fmt.Println("                                  Send a file, creating parent directories")
	fmt.Println("  screenshot <session> [file]     Capture the agent's screen")
	fmt.Println("  send <session> <type> [json]    Send any command with a JSON data object (--key for idempotency)")
	fmt.Println("  kick <session>                  Disconnect an agent (it will reconnect)")
	fmt.Println("  watch                           Stream connect and disconnect events")
	fmt.Println()
	yellow.Println("Environment:")
	fmt.Println("  OUTPOST_URL        Controller console URL (default: " + client.DefaultURL + ")")
	fmt.Println()
	yellow.Println("Examples:")
	fmt.Println("  outpost-admin sessions")
	fmt.Println("  outpost-admin exec web01_root_10.0.0.7 uname -a")
	fmt.Println("  outpost-admin send web01_root_10.0.0.7 record_audio '{\"duration\":5}'")
	fmt.Println()
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
