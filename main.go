package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"seektune/cmd"
	"seektune/internal/app"
	"seektune/internal/audio"
	"seektune/internal/config"
	"seektune/internal/log"
	"seektune/internal/transport"
	"seektune/internal/tui"
	"seektune/pkg/build"

	tea "github.com/charmbracelet/bubbletea"
)

// main is the entry point for the seektune client.
// The program flow is divided into three distinct phases:
//
// 1. Startup Phase:
//   - Initialize build information
//   - Parse command line arguments and load configuration
//   - Configure logging
//   - Initialize PortAudio
//   - Execute one-off commands that need no server
//
// 2. Concurrent Phase:
//   - Connect the transport and start song count polling
//   - Run the TUI or the requested headless command
//
// 3. Shutdown Phase:
//   - End any capture without submitting it
//   - Close the transport and release audio resources
func main() {
	// ==================== STARTUP PHASE ====================

	// Development builds keep the "dev" defaults
	buildErr := build.Initialize()

	options, err := cmd.ParseArgs()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	// --help and --version print and return without a command
	if options.Config == nil {
		return
	}
	cfg := options.Config

	closeLog, err := setupLogging(cfg, options.TUIMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer closeLog()
	if buildErr != nil {
		log.Debugf("build info incomplete: %v", buildErr)
	}

	if options.Command == cmd.CommandConfigShow {
		out, err := cfg.YAML()
		if err != nil {
			log.Fatalf("%v", err)
		}
		os.Stdout.Write(out)
		return
	}

	// PortAudio is only needed for the microphone and device listing;
	// system audio capture still works without it
	paErr := audio.Initialize()
	if paErr == nil {
		defer audio.Terminate()
	} else {
		log.Warnf("microphone capture unavailable: %v", paErr)
	}

	if options.Command == cmd.CommandDevices {
		if paErr != nil {
			log.Fatalf("%v", paErr)
		}
		if err := audio.ListDevices(os.Stdout); err != nil {
			log.Fatalf("%v", err)
		}
		return
	}

	if !options.NeedsClient() {
		return
	}

	// ==================== CONCURRENT PHASE ====================

	// Setup signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	t := newTransport(cfg)
	client, err := app.New(cfg, t, app.NewController(cfg, app.NewSubmitter(t)))
	if err != nil {
		log.Fatalf("%v", err)
	}
	client.Start()

	var runErr error
	if options.TUIMode {
		runErr = tui.Run(ctx, client, cfg.Capture.InputDevice)
		if errors.Is(runErr, tea.ErrProgramKilled) {
			runErr = nil
		}
	} else {
		runErr = cmd.Run(ctx, options, client, os.Stdout)
		if errors.Is(runErr, context.Canceled) {
			runErr = nil
		}
	}

	// ==================== SHUTDOWN PHASE ====================

	if err := client.Close(); err != nil {
		log.Errorf("Error closing client: %v", err)
	}

	if runErr != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", runErr)
		closeLog()
		os.Exit(1)
	}
}

// setupLogging applies the configured level and format. While the TUI
// owns the terminal, logs go to log_file or nowhere.
func setupLogging(cfg *config.Config, tuiMode bool) (func(), error) {
	level, ok := log.ParseLevel(cfg.LogLevel)
	if !ok {
		return nil, fmt.Errorf("invalid log_level %q", cfg.LogLevel)
	}
	log.SetLevel(level)

	var out io.Writer = os.Stderr
	closeFn := func() {}
	switch {
	case cfg.LogFile != "":
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		out = f
		closeFn = func() { f.Close() }
	case tuiMode:
		out = io.Discard
	}
	log.Init(cfg.LogFormat, out)
	return closeFn, nil
}

func newTransport(cfg *config.Config) transport.Transport {
	if cfg.Transport.DryRun {
		return transport.NewLoggingTransport()
	}
	return transport.NewClient(transport.Config{
		ServerURL:        cfg.ServerURL,
		HandshakeTimeout: cfg.Transport.HandshakeTimeout,
	})
}
