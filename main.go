// ABOUTME: Entry point for the interactive talker
// ABOUTME: Parses CLI flags and runs a talker with the peer table or streaming logs
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/Talker-Protocol/talker-go/internal/app"
	"github.com/Talker-Protocol/talker-go/internal/logging"
	"github.com/Talker-Protocol/talker-go/internal/ui"
	"github.com/Talker-Protocol/talker-go/internal/version"
	"github.com/Talker-Protocol/talker-go/pkg/discovery"
	"github.com/Talker-Protocol/talker-go/pkg/talker"
)

var (
	capType    = flag.String("type", "master", "Capability type to announce")
	category   = flag.String("category", discovery.DefaultCategory, "Service category shared by all talkers")
	backend    = flag.String("backend", discovery.BackendMDNS, "Discovery backend: mdns, zeroconf, or memory")
	remote     = flag.String("remote", "", "Own the talker hosted by talkerd at this URL (ws://host:port/control)")
	logFile    = flag.String("log-file", "talker.log", "Log file path")
	noTUI      = flag.Bool("no-tui", false, "Disable TUI, use streaming logs instead")
	streamLogs = flag.Bool("stream-logs", false, "Alias for -no-tui")
	debug      = flag.Bool("debug", false, "Enable debug logging")
	showVer    = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *showVer {
		fmt.Println(version.String())
		return
	}

	useTUI := !(*noTUI || *streamLogs)

	// TUI mode: log only to file. Streaming mode: file and stdout.
	level := "info"
	if *debug {
		level = "debug"
	}
	logger, closeLog, err := logging.New(logging.Options{
		Level:   level,
		File:    *logFile,
		Console: !useTUI,
	})
	if err != nil {
		log.Fatalf("failed to set up logging: %v", err)
	}

	err = run(logger, useTUI)
	_ = closeLog()
	if err != nil {
		fmt.Fprintf(os.Stderr, "talker stopped: %v\n", err)
		os.Exit(1)
	}
}

func run(logger *zap.Logger, useTUI bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	owner, header, err := openOwner(ctx, logger)
	if err != nil {
		return err
	}

	if !useTUI {
		logger.Info("starting talker",
			zap.String("instance", header.Instance),
			zap.String("type", header.Type),
			zap.String("category", header.Category))
	}

	return app.New(app.Config{
		Owner:  owner,
		Header: header,
		UseTUI: useTUI,
		Logger: logger,
	}).Run(ctx)
}

// openOwner starts a local talker, or connects to a talkerd when -remote is set
func openOwner(ctx context.Context, logger *zap.Logger) (talker.Owner, ui.Header, error) {
	if *remote != "" {
		dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()

		r, err := talker.Dial(dialCtx, *remote)
		if err != nil {
			return nil, ui.Header{}, fmt.Errorf("connecting to %s: %w", *remote, err)
		}
		return r, ui.Header{Instance: *remote, Type: "(remote)", Category: *category}, nil
	}

	b, err := discovery.New(*backend, discovery.Options{Logger: logger})
	if err != nil {
		return nil, ui.Header{}, err
	}

	tk, err := talker.New(talker.Config{
		Type:     *capType,
		Category: *category,
		Backend:  b,
		Logger:   logger,
	})
	if err != nil {
		return nil, ui.Header{}, err
	}
	if err := tk.Start(); err != nil {
		return nil, ui.Header{}, err
	}

	return tk, ui.Header{
		Instance: tk.Instance(),
		Type:     *capType,
		Category: *category,
		Port:     tk.Port(),
	}, nil
}
