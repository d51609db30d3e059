package main

import (
	"time"

	evdev "github.com/gvalkov/golang-evdev"
)

// Linux input event types and codes used by this program (from <linux/input.h>).
const (
	EV_KEY = uint16(evdev.EV_KEY)

	KEY_NEXTSONG     = uint16(evdev.KEY_NEXTSONG)
	KEY_PLAYPAUSE    = uint16(evdev.KEY_PLAYPAUSE)
	KEY_PREVIOUSSONG = uint16(evdev.KEY_PREVIOUSSONG)
	KEY_PLAYCD       = uint16(evdev.KEY_PLAYCD)
	KEY_PAUSECD      = uint16(evdev.KEY_PAUSECD)
)

// Input event value constants
const (
	evValueRelease = 0
	evValuePress   = 1
	evValueRepeat  = 2
)

// mediaKeyCodes is the reference set a device must intersect to be offered
// as a candidate.
var mediaKeyCodes = []uint16{KEY_PLAYPAUSE, KEY_NEXTSONG, KEY_PREVIOUSSONG}

const (
	defaultDeviceGlob = "/dev/input/event*"

	defaultCallbackAddr = "127.0.0.1:8888"
	defaultRedirectURI  = "http://127.0.0.1:8888/callback"

	defaultCredentialsFile = "spotify_credentials.json"

	defaultSpotifyAPIURL   = "https://api.spotify.com/v1"
	defaultSpotifyAuthURL  = "https://accounts.spotify.com/authorize"
	defaultSpotifyTokenURL = "https://accounts.spotify.com/api/token"

	// Applied to every remote call, token exchange included.
	defaultRemoteTimeoutMS = 10000

	defaultAuthTimeoutSec = 300

	callbackShutdownTimeout = 3 * time.Second
)

// spotifyScopes is the exact permission set: read and modify playback state,
// read the currently playing track. Nothing broader is requested.
var spotifyScopes = []string{
	"user-modify-playback-state",
	"user-read-playback-state",
	"user-read-currently-playing",
}
