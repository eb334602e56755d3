// notes-tui lists your notes in the terminal and updates titles as they are
// generated. Lost push connections are re-established when the terminal
// regains focus.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/juju/clock"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"notecrm/api/internal/logging"
	"notecrm/api/internal/pushclient"
	"notecrm/api/internal/tui"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		server      string
		token       string
		name        string
		highlight   time.Duration
		readTimeout time.Duration
		logFile     string
		logLevel    string
	)

	flagSet := pflag.NewFlagSet("notes-tui", pflag.ContinueOnError)
	flagSet.StringVar(&server, "server", "http://127.0.0.1:8787", "base URL of the notecrm API")
	flagSet.StringVar(&token, "token", os.Getenv("NOTECRM_TOKEN"), "access token (default $NOTECRM_TOKEN)")
	flagSet.StringVar(&name, "name", "", "sign in with this display name when no token is given")
	flagSet.DurationVar(&highlight, "highlight", pushclient.DefaultHighlightWindow, "how long a retitled note stays highlighted")
	flagSet.DurationVar(&readTimeout, "read-timeout", time.Minute, "drop the push connection after this long without traffic (0 disables)")
	flagSet.StringVar(&logFile, "log-file", "", "write JSON logs to this file")
	flagSet.StringVar(&logLevel, "log-level", "info", "log level")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	logger := zerolog.Nop()
	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		defer f.Close()
		logger = logging.New(logLevel, "json", f)
	}

	api := tui.NewAPIClient(server, token)
	if token == "" {
		if name == "" {
			return errors.New("either --token or --name is required")
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := api.Login(ctx, name)
		cancel()
		if err != nil {
			return fmt.Errorf("sign in: %w", err)
		}
	}

	eventsURL, err := api.EventsURL()
	if err != nil {
		return fmt.Errorf("events url: %w", err)
	}

	m := tui.New(tui.Options{
		API:         api,
		EventsURL:   eventsURL,
		Highlight:   highlight,
		ReadTimeout: readTimeout,
		Clock:       clock.WallClock,
		Logger:      logging.Component(logger, "push"),
	})
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithReportFocus())
	if _, err := p.Run(); err != nil {
		return err
	}
	return nil
}
