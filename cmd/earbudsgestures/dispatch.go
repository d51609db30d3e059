package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"
)

// ============================================================================
// Gesture Dispatcher
// ============================================================================
// Single goroutine, fully synchronous: read one event, map it, perform at
// most one remote round-trip (two for toggle), then read the next event.
// There is no queue; gestures are human-paced.
//
// Failure policy:
//   - a failed remote call is logged and the loop continues
//   - a failed device read ends the loop with *DeviceIOError
// ============================================================================

// EventSource yields gesture events one at a time. ReadEvent blocks.
type EventSource interface {
	ReadEvent() (GestureEvent, error)
}

// DispatchReport describes one dispatched action.
type DispatchReport struct {
	Action PlaybackAction
	// Issued is the remote call actually made ("play", "pause", "next", "previous").
	Issued string
	Err    error
	At     time.Time
}

// ActionPublisher receives a report after each dispatch. Publish must not block.
type ActionPublisher interface {
	Publish(r DispatchReport)
}

// Dispatcher owns the remote client for the rest of the process.
type Dispatcher struct {
	client    PlaybackController
	logger    *slog.Logger
	console   io.Writer
	publisher ActionPublisher
}

// NewDispatcher creates a dispatcher. console and publisher may be nil.
func NewDispatcher(client PlaybackController, console io.Writer, publisher ActionPublisher, logger *slog.Logger) *Dispatcher {
	if console == nil {
		console = io.Discard
	}
	return &Dispatcher{
		client:    client,
		logger:    logger,
		console:   console,
		publisher: publisher,
	}
}

// Run consumes events from src until a read fails. It never returns nil.
// If ctx has ended when the read fails (the device was closed for shutdown),
// ctx's error is returned instead of a *DeviceIOError.
func (d *Dispatcher) Run(ctx context.Context, src EventSource, path string) error {
	for {
		ev, err := src.ReadEvent()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return &DeviceIOError{Path: path, Err: err}
		}

		action, ok := ActionFor(ev)
		if !ok {
			continue
		}

		if err := d.Dispatch(ctx, action); err != nil {
			d.logger.Warn("playback action failed", "action", action.String(), "error", err)
			fmt.Fprintf(d.console, "[~] %s failed: %v\n", action, err)
		}
	}
}

// Dispatch performs one action against the remote client.
// Failures are returned as *RemoteActionError.
func (d *Dispatcher) Dispatch(ctx context.Context, action PlaybackAction) error {
	issued, err := d.execute(ctx, action)

	report := DispatchReport{Action: action, Issued: issued, At: time.Now()}
	if err != nil {
		report.Err = &RemoteActionError{Action: action, Err: err}
	}
	if d.publisher != nil {
		d.publisher.Publish(report)
	}
	if report.Err != nil {
		return report.Err
	}

	switch issued {
	case "next":
		fmt.Fprintln(d.console, "[+] Next track")
	case "previous":
		fmt.Fprintln(d.console, "[+] Previous track")
	case "pause":
		fmt.Fprintln(d.console, "[+] Changing playback state: paused")
	case "play":
		fmt.Fprintln(d.console, "[+] Changing playback state: playing")
	}
	d.logger.Debug("playback action dispatched", "action", action.String(), "issued", issued)
	return nil
}

// execute issues the remote call(s) for action and names the call it made.
func (d *Dispatcher) execute(ctx context.Context, action PlaybackAction) (string, error) {
	switch action {
	case ActionNext:
		return "next", d.client.Next(ctx)

	case ActionPrevious:
		return "previous", d.client.Previous(ctx)

	case ActionTogglePlayback:
		// No cached state: query before every toggle. A change made elsewhere
		// between the query and the call is not corrected.
		st, err := d.client.CurrentPlayback(ctx)
		if err != nil {
			return "", err
		}
		if st.IsPlaying {
			return "pause", d.client.Pause(ctx)
		}
		return "play", d.client.Play(ctx)

	default:
		return "", fmt.Errorf("unknown action %s", action)
	}
}
