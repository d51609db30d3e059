package main

import (
	"encoding/json"
	"fmt"
	"time"
)

// ============================================================================
// Gestures and Playback Actions
// ============================================================================
// A GestureEvent is one raw observation from the input device. ActionFor
// turns key presses into one of three playback actions; everything else is
// ignored.
// ============================================================================

// GestureEvent is a single input event as reported by the kernel.
// struct input_event { struct timeval time; __u16 type; __u16 code; __s32 value; };
type GestureEvent struct {
	Type  uint16
	Code  uint16
	Value int32
	Time  time.Time
}

// PlaybackAction is the closed set of actions a gesture can trigger.
type PlaybackAction int

const (
	ActionNext PlaybackAction = iota + 1
	ActionPrevious
	ActionTogglePlayback
)

func (a PlaybackAction) String() string {
	switch a {
	case ActionNext:
		return "next"
	case ActionPrevious:
		return "previous"
	case ActionTogglePlayback:
		return "toggle_playback"
	default:
		return fmt.Sprintf("PlaybackAction(%d)", int(a))
	}
}

// MarshalJSON encodes the action by name for the action feed.
func (a PlaybackAction) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// ActionFor maps a gesture to its playback action.
//
// Only key presses (value 1) count. Releases and autorepeats are dropped so a
// held key yields exactly one action. Unmapped codes return false.
func ActionFor(ev GestureEvent) (PlaybackAction, bool) {
	if ev.Value != evValuePress {
		return 0, false
	}
	if ev.Type != EV_KEY {
		return 0, false
	}

	switch ev.Code {
	case KEY_NEXTSONG:
		return ActionNext, true
	case KEY_PREVIOUSSONG:
		return ActionPrevious, true
	case KEY_PAUSECD, KEY_PLAYCD:
		return ActionTogglePlayback, true
	default:
		return 0, false
	}
}
