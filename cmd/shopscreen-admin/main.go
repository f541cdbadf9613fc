// Command shopscreen-admin is a terminal console for the rendezvous relay's
// admin channel.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/shopscreen/rendezvous/internal/adminclient"
)

const envRelayURL = "SHOPSCREEN_RELAY_URL"

type options struct {
	relayURL string
	origin   string
	logFile  string
	timeout  time.Duration
}

func parseOptions(lookup func(string) (string, bool), args []string) (options, error) {
	opts := options{relayURL: "http://127.0.0.1:8080", timeout: 5 * time.Second}
	if v, ok := lookup(envRelayURL); ok && v != "" {
		opts.relayURL = v
	}

	fs := flag.NewFlagSet("shopscreen-admin", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	fs.StringVar(&opts.relayURL, "relay-url", opts.relayURL, "Relay base URL or admin WebSocket URL (env "+envRelayURL+")")
	fs.StringVar(&opts.origin, "origin", "", "Origin header to send when the relay enforces an allow list")
	fs.StringVar(&opts.logFile, "log-file", "", "Write debug logs to this file")
	fs.DurationVar(&opts.timeout, "connect-timeout", opts.timeout, "Handshake timeout")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if opts.timeout <= 0 {
		return options{}, errors.New("--connect-timeout must be > 0")
	}
	return opts, nil
}

func main() {
	opts, err := parseOptions(os.LookupEnv, os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	// The terminal belongs to the TUI; logs only go to a file when asked.
	var logOut io.Writer = io.Discard
	if opts.logFile != "" {
		f, err := os.OpenFile(opts.logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(2)
		}
		defer f.Close()
		logOut = f
	}
	logger := slog.New(slog.NewTextHandler(logOut, &slog.HandlerOptions{Level: slog.LevelDebug}))

	ctx, cancel := context.WithTimeout(context.Background(), opts.timeout)
	client, err := adminclient.Dial(ctx, opts.relayURL, adminclient.Options{
		Origin:           opts.origin,
		HandshakeTimeout: opts.timeout,
		Logger:           logger,
	})
	cancel()
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to connect to relay:", err)
		os.Exit(1)
	}
	defer client.Close()
	logger.Info("connected to relay", "relay_url", opts.relayURL, "admin_id", client.AdminID())

	p := tea.NewProgram(newModel(client, opts.relayURL, client.AdminID()), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
