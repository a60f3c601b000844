// ABOUTME: Subcommand implementations for outpost-admin
// ABOUTME: Each resolves a session, relays one or more commands and formats the reply

package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/2389/outpost/internal/client"
	"github.com/2389/outpost/internal/protocol"
)

func (a *app) printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding output: %w", err)
	}
	fmt.Println(string(out))
	return nil
}

func requireArgs(args []string, n int, usage string) error {
	if len(args) < n {
		return fmt.Errorf("usage: %s", usage)
	}
	return nil
}

// cmdStatus checks the controller and summarizes its sessions
func (a *app) cmdStatus(ctx context.Context, url string) error {
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	if err := a.client.Health(ctx); err != nil {
		yellow.Printf("  Controller: ")
		color.Red("UNREACHABLE (%v)\n", err)
		return nil
	}
	green.Printf("  Controller: ")
	fmt.Printf("up at %s\n", url)

	sessions, err := a.client.Sessions(ctx)
	if err != nil {
		return err
	}
	green.Printf("  Sessions:   ")
	fmt.Printf("%d connected\n", len(sessions))
	return nil
}

// cmdSessions lists connected agents
func (a *app) cmdSessions(ctx context.Context) error {
	sessions, err := a.client.Sessions(ctx)
	if err != nil {
		return err
	}
	if a.json {
		return a.printJSON(sessions)
	}

	cyan := color.New(color.FgCyan)
	fmt.Println()
	cyan.Println("  Sessions")
	cyan.Println("  --------")

	if len(sessions) == 0 {
		fmt.Println("  (no agents connected)")
		fmt.Println()
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  ID\tPLATFORM\tREMOTE\tCONNECTED\tLAST COMMAND")
	fmt.Fprintln(w, "  --\t--------\t------\t---------\t------------")
	for _, s := range sessions {
		last := "-"
		if s.LastCommand != nil {
			last = humanize.Time(*s.LastCommand)
		}
		fmt.Fprintf(w, "  %s\t%s\t%s\t%s\t%s\n",
			truncate(s.ID, 48), s.Platform, s.RemoteAddr, humanize.Time(s.ConnectedAt), last)
	}
	w.Flush()
	fmt.Println()
	return nil
}

// cmdInfo shows an agent's system facts, from the connect-time descriptor
// or, with --live, from a fresh get_sysinfo.
func (a *app) cmdInfo(ctx context.Context, args []string) error {
	fs := pflag.NewFlagSet("info", pflag.ContinueOnError)
	live := fs.Bool("live", false, "ask the agent instead of using the connect-time descriptor")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireArgs(fs.Args(), 1, "info <session> [--live]"); err != nil {
		return err
	}
	id := fs.Arg(0)

	var desc protocol.Descriptor
	var connected time.Time
	if *live {
		d, err := a.client.SystemInfo(ctx, id)
		if err != nil {
			return err
		}
		desc = d
	} else {
		info, err := a.client.Session(ctx, id)
		if err != nil {
			return err
		}
		desc = info.Descriptor
		connected = info.ConnectedAt
	}
	if a.json {
		return a.printJSON(desc)
	}

	cyan := color.New(color.FgCyan)
	green := color.New(color.FgGreen)

	fmt.Println()
	cyan.Printf("  %s\n", id)
	cyan.Println("  " + strings.Repeat("-", len(id)))
	fmt.Printf("  Hostname:       %s\n", desc.Hostname)
	fmt.Printf("  Username:       %s\n", desc.Username)
	fmt.Printf("  Platform:       %s %s\n", desc.Platform, desc.PlatformVersion)
	fmt.Printf("  Architecture:   %s\n", desc.Architecture)
	if desc.Processor != "" {
		fmt.Printf("  Processor:      %s\n", desc.Processor)
	}
	fmt.Printf("  IP Address:     %s\n", desc.IPAddress)
	fmt.Printf("  Runtime:        %s\n", desc.RuntimeVersion)
	if !connected.IsZero() {
		fmt.Printf("  Connected:      %s\n", humanize.Time(connected))
	}
	green.Printf("  Capabilities:   %s\n", formatCapabilities(desc.Capabilities))
	fmt.Println()
	return nil
}

// cmdExec runs one shell command
func (a *app) cmdExec(ctx context.Context, args []string) error {
	if err := requireArgs(args, 2, "exec <session> <command...>"); err != nil {
		return err
	}
	out, err := a.client.Exec(ctx, args[0], strings.Join(args[1:], " "))
	if err != nil {
		return err
	}
	if a.json {
		return a.printJSON(map[string]string{"output": out})
	}
	fmt.Print(out)
	if out != "" && !strings.HasSuffix(out, "\n") {
		fmt.Println()
	}
	return nil
}

// cmdShell reads command lines from stdin and runs each in turn
func (a *app) cmdShell(ctx context.Context, args []string) error {
	if err := requireArgs(args, 1, "shell <session>"); err != nil {
		return err
	}
	id := args[0]
	info, err := a.client.Session(ctx, id)
	if err != nil {
		return err
	}

	interactive := term.IsTerminal(int(os.Stdin.Fd()))
	green := color.New(color.FgGreen)
	if interactive {
		color.New(color.FgCyan).Printf("Shell on %s (%s). Ctrl+D to exit.\n\n", id, info.Platform)
	}

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, bufio.MaxScanTokenSize), 1024*1024)
	for {
		if interactive {
			green.Printf("%s@%s$ ", info.Username, info.Hostname)
		}
		if !scanner.Scan() {
			if interactive {
				fmt.Println()
			}
			return scanner.Err()
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		out, err := a.client.Exec(ctx, id, line)
		var cmdErr *protocol.CommandError
		switch {
		case errors.As(err, &cmdErr):
			color.Red("%s\n", cmdErr.Message)
			continue
		case err != nil:
			return err
		}
		fmt.Print(out)
		if out != "" && !strings.HasSuffix(out, "\n") {
			fmt.Println()
		}
	}
}

// cmdList lists a remote directory
func (a *app) cmdList(ctx context.Context, args []string) error {
	if err := requireArgs(args, 2, "ls <session> <path>"); err != nil {
		return err
	}
	files, err := a.client.ListDirectory(ctx, args[0], args[1])
	if err != nil {
		return err
	}
	if a.json {
		return a.printJSON(files)
	}

	if len(files) == 0 {
		fmt.Println("(empty)")
		return nil
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	for _, row := range formatEntries(files) {
		fmt.Fprintln(w, row)
	}
	return w.Flush()
}

// cmdDownload fetches a remote file
func (a *app) cmdDownload(ctx context.Context, args []string) error {
	if err := requireArgs(args, 2, "download <session> <remote> [local]"); err != nil {
		return err
	}
	name, data, err := a.client.Download(ctx, args[0], args[1])
	if err != nil {
		return err
	}

	local := filepath.Base(name)
	if len(args) > 2 {
		local = args[2]
		if st, err := os.Stat(local); err == nil && st.IsDir() {
			local = filepath.Join(local, filepath.Base(name))
		}
	}
	if err := os.WriteFile(local, data, 0o644); err != nil {
		return fmt.Errorf("saving %s: %w", local, err)
	}
	color.New(color.FgGreen).Print("✓ ")
	fmt.Printf("Saved %s (%s)\n", local, humanize.IBytes(uint64(len(data))))
	return nil
}

// cmdUpload sends a local file
func (a *app) cmdUpload(ctx context.Context, args []string) error {
	if err := requireArgs(args, 3, "upload <session> <local> <remote>"); err != nil {
		return err
	}
	data, err := os.ReadFile(args[1])
	if err != nil {
		return fmt.Errorf("reading %s: %w", args[1], err)
	}
	if err := a.client.Upload(ctx, args[0], args[2], data); err != nil {
		return err
	}
	color.New(color.FgGreen).Print("✓ ")
	fmt.Printf("Uploaded %s to %s (%s)\n", args[1], args[2], humanize.IBytes(uint64(len(data))))
	return nil
}

// cmdScreenshot captures the agent's screen to a local file
func (a *app) cmdScreenshot(ctx context.Context, args []string) error {
	if err := requireArgs(args, 1, "screenshot <session> [file]"); err != nil {
		return err
	}
	blob, err := a.client.Screenshot(ctx, args[0])
	if err != nil {
		return err
	}
	local := fmt.Sprintf("screenshot-%s.%s", time.Now().Format("20060102-150405"), blob.Format)
	if len(args) > 1 {
		local = args[1]
	}
	if err := os.WriteFile(local, blob.Data, 0o644); err != nil {
		return fmt.Errorf("saving %s: %w", local, err)
	}
	color.New(color.FgGreen).Print("✓ ")
	fmt.Printf("Saved %s (%s)\n", local, humanize.IBytes(uint64(len(blob.Data))))
	return nil
}

// cmdSend relays any command type with an optional JSON data object
func (a *app) cmdSend(ctx context.Context, args []string) error {
	fs := pflag.NewFlagSet("send", pflag.ContinueOnError)
	key := fs.String("key", "", "idempotency key; the controller relays each key once per session")
	if err := fs.Parse(args); err != nil {
		return err
	}
	args = fs.Args()
	if err := requireArgs(args, 2, "send <session> <type> [json-object] [--key K]"); err != nil {
		return err
	}
	if *key != "" {
		ctx = client.WithIdempotencyKey(ctx, *key)
	}

	var data any
	if len(args) > 2 {
		raw := json.RawMessage(args[2])
		var obj map[string]any
		if err := json.Unmarshal(raw, &obj); err != nil || obj == nil {
			return fmt.Errorf("data must be a JSON object: %s", args[2])
		}
		data = raw
	}

	res, err := a.client.Send(ctx, args[0], protocol.CommandType(args[1]), data)
	if err != nil {
		return err
	}
	if a.json {
		return a.printJSON(res.Response)
	}

	if cmdErr := res.Response.Err(); cmdErr != nil {
		color.Red("%s (%s)\n", cmdErr.Message, cmdErr.Kind)
		return nil
	}
	return a.printJSON(summarizeResponse(res.Response))
}

// cmdKick disconnects a session
func (a *app) cmdKick(ctx context.Context, args []string) error {
	if err := requireArgs(args, 1, "kick <session>"); err != nil {
		return err
	}
	if err := a.client.Kick(ctx, args[0]); err != nil {
		return err
	}
	color.New(color.FgGreen).Print("✓ ")
	fmt.Printf("Disconnected %s\n", args[0])
	return nil
}

// cmdWatch prints registry events until interrupted
func (a *app) cmdWatch(ctx context.Context) error {
	gray := color.New(color.FgHiBlack)
	return a.client.Watch(ctx, func(ev client.StreamEvent) error {
		if a.json {
			if ev.Change != nil {
				return a.printJSON(ev.Change)
			}
			return a.printJSON(ev.Snapshot)
		}

		if ev.Kind == client.EventSnapshot {
			gray.Printf("%s ", time.Now().Format("15:04:05"))
			fmt.Printf("%d session(s) connected\n", len(ev.Snapshot))
			for _, s := range ev.Snapshot {
				fmt.Printf("         %s (%s, %s)\n", s.ID, s.Platform, s.RemoteAddr)
			}
			return nil
		}

		c := ev.Change
		gray.Printf("%s ", c.At.Local().Format("15:04:05"))
		kindColor(ev.Kind).Printf("%-12s ", ev.Kind)
		fmt.Printf("%s (%s, %s)", c.Session.ID, c.Session.Platform, c.Session.RemoteAddr)
		if c.Reason != "" {
			gray.Printf(" %s", c.Reason)
		}
		fmt.Println()
		return nil
	})
}

func kindColor(kind string) *color.Color {
	switch kind {
	case "connected":
		return color.New(color.FgGreen)
	case "replaced":
		return color.New(color.FgYellow)
	default:
		return color.New(color.FgRed)
	}
}
