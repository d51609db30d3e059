package main

import "fmt"

// DeviceAccessError reports that an input device could not be listed or opened.
// During enumeration it is recovered locally by skipping the device.
type DeviceAccessError struct {
	Path string
	Err  error
}

func (e *DeviceAccessError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("input devices: %v", e.Err)
	}
	return fmt.Sprintf("input device %s: %v", e.Path, e.Err)
}

func (e *DeviceAccessError) Unwrap() error { return e.Err }

// SelectionError reports invalid operator input at the device prompt.
// There is no retry; the run aborts.
type SelectionError struct {
	Input  string
	Reason string
}

func (e *SelectionError) Error() string {
	if e.Input == "" {
		return "device selection: " + e.Reason
	}
	return fmt.Sprintf("device selection %q: %s", e.Input, e.Reason)
}

// AuthError reports a failure anywhere in the authorization sequence.
// Step names where it happened: listen, callback, state, exchange.
type AuthError struct {
	Step string
	Err  error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authorization (%s): %v", e.Step, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// RemoteActionError reports a failed playback-control call.
// The dispatch loop logs it and keeps going.
type RemoteActionError struct {
	Action PlaybackAction
	Err    error
}

func (e *RemoteActionError) Error() string {
	return fmt.Sprintf("%s: %v", e.Action, e.Err)
}

func (e *RemoteActionError) Unwrap() error { return e.Err }

// DeviceIOError reports that the active device became unreadable.
// It ends the dispatch loop.
type DeviceIOError struct {
	Path string
	Err  error
}

func (e *DeviceIOError) Error() string {
	return fmt.Sprintf("read from %s: %v", e.Path, e.Err)
}

func (e *DeviceIOError) Unwrap() error { return e.Err }
