// ABOUTME: Example owner application orchestration
// ABOUTME: Drives a talker from the peer table TUI or a plain polling loop
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/Talker-Protocol/talker-go/internal/ui"
	"github.com/Talker-Protocol/talker-go/pkg/protocol"
	"github.com/Talker-Protocol/talker-go/pkg/talker"
)

// DefaultPollInterval paces the streaming loop
const DefaultPollInterval = time.Second

// Config holds owner configuration
type Config struct {
	Owner  talker.Owner
	Header ui.Header
	UseTUI bool

	// PollInterval is how long each loop turn waits for a snapshot (default: 1s)
	PollInterval time.Duration

	// Out receives the streaming loop's output (default: stdout)
	Out    io.Writer
	Logger *zap.Logger
}

// App owns a talker until the user or the talker ends it
type App struct {
	config Config
	log    *zap.Logger
}

// New creates the application
func New(config Config) *App {
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultPollInterval
	}
	if config.Out == nil {
		config.Out = os.Stdout
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	return &App{config: config, log: config.Logger}
}

// Run blocks until ctx ends, the user quits, or the talker stops on its
// own. The talker is always stopped before Run returns, and its error is
// returned.
func (a *App) Run(ctx context.Context) error {
	if a.config.Owner == nil {
		return errors.New("app: owner is required")
	}
	if a.config.UseTUI {
		return a.runTUI(ctx)
	}
	return a.runLoop(ctx)
}

// runLoop polls for snapshots between units of other work
func (a *App) runLoop(ctx context.Context) error {
	owner := a.config.Owner
	for {
		select {
		case <-ctx.Done():
			a.log.Info("interrupted, stopping talker")
			return owner.Stop()
		default:
		}

		if owner.Poll(a.config.PollInterval) {
			snap, err := owner.Receive()
			if err != nil {
				return a.finish(err)
			}
			a.report(snap)
		}

		select {
		case <-owner.Done():
			return a.finish(nil)
		default:
		}

		fmt.Fprintln(a.config.Out, "Doing something important now")
	}
}

// finish stops the talker once it has ended or failed to deliver
func (a *App) finish(err error) error {
	stopErr := a.config.Owner.Stop()
	if stopErr != nil {
		a.log.Error("talker stopped", zap.Error(stopErr))
		return stopErr
	}
	if err != nil && !errors.Is(err, talker.ErrClosed) {
		return err
	}
	return nil
}

func (a *App) report(snap protocol.Snapshot) {
	fmt.Fprintf(a.config.Out, "%d peers\n", len(snap))
	for _, id := range snap.IDs() {
		fmt.Fprintf(a.config.Out, "  %s\n", snap[id])
	}
	a.log.Info("peer table updated", zap.Int("peers", len(snap)))
}

// runTUI feeds snapshots to the peer table until the user quits
func (a *App) runTUI(ctx context.Context) error {
	owner := a.config.Owner
	tui := ui.NewPeerTUI(a.config.Header)

	feedDone := make(chan struct{})
	go func() {
		defer close(feedDone)
		for {
			select {
			case <-ctx.Done():
				tui.End(ctx.Err())
				return
			case <-tui.QuitChan():
				return
			default:
			}

			select {
			case <-owner.Done():
			default:
				if !owner.Poll(a.config.PollInterval) {
					continue
				}
			}
			snap, err := owner.Receive()
			if err != nil {
				if errors.Is(err, talker.ErrClosed) {
					err = nil
				}
				tui.End(err)
				return
			}
			tui.Update(snap)
		}
	}()

	if err := tui.Run(); err != nil {
		a.log.Error("TUI failed", zap.Error(err))
	}

	err := owner.Stop()
	<-feedDone
	return err
}
