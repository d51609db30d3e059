package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"
)

// quietLogger discards everything below error.
func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// ============================================================================
// Input device fakes
// ============================================================================

// fakeDevice replays a fixed list of events, then returns readErr.
type fakeDevice struct {
	path    string
	name    string
	caps    map[uint16][]uint16
	events  []GestureEvent
	readErr error
	closed  bool
}

func (d *fakeDevice) Path() string                      { return d.path }
func (d *fakeDevice) Name() string                      { return d.name }
func (d *fakeDevice) Capabilities() map[uint16][]uint16 { return d.caps }

func (d *fakeDevice) ReadEvent() (GestureEvent, error) {
	if len(d.events) == 0 {
		if d.readErr == nil {
			return GestureEvent{}, io.EOF
		}
		return GestureEvent{}, d.readErr
	}
	ev := d.events[0]
	d.events = d.events[1:]
	return ev, nil
}

func (d *fakeDevice) Close() error {
	d.closed = true
	return nil
}

// fakeBackend serves fakeDevices by path. Paths listed in openErr fail to open.
type fakeBackend struct {
	paths   []string
	devices map[string]*fakeDevice
	openErr map[string]error
	listErr error
	opened  []string
}

func (b *fakeBackend) ListDevices() ([]string, error) {
	if b.listErr != nil {
		return nil, b.listErr
	}
	return b.paths, nil
}

func (b *fakeBackend) Open(path string) (InputDevice, error) {
	b.opened = append(b.opened, path)
	if err, ok := b.openErr[path]; ok {
		return nil, err
	}
	dev, ok := b.devices[path]
	if !ok {
		return nil, errors.New("no such device")
	}
	return dev, nil
}

func mediaKeyDevice(path, name string) *fakeDevice {
	return &fakeDevice{
		path: path,
		name: name,
		caps: map[uint16][]uint16{EV_KEY: {KEY_PLAYPAUSE, KEY_NEXTSONG, KEY_PREVIOUSSONG}},
	}
}

func keyPress(code uint16, value int32) GestureEvent {
	return GestureEvent{Type: EV_KEY, Code: code, Value: value, Time: time.Now()}
}

// ============================================================================
// Playback controller fake
// ============================================================================

// mockPlaybackController records calls in order.
type mockPlaybackController struct {
	mu sync.Mutex

	isPlaying bool
	calls     []string

	stateErr error
	// failOn makes the named call fail.
	failOn map[string]error
}

func (m *mockPlaybackController) record(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, name)
	return m.failOn[name]
}

func (m *mockPlaybackController) CurrentPlayback(ctx context.Context) (PlaybackState, error) {
	if err := m.record("current_playback"); err != nil {
		return PlaybackState{}, err
	}
	if m.stateErr != nil {
		return PlaybackState{}, m.stateErr
	}
	return PlaybackState{IsPlaying: m.isPlaying}, nil
}

func (m *mockPlaybackController) Play(ctx context.Context) error {
	if err := m.record("play"); err != nil {
		return err
	}
	m.isPlaying = true
	return nil
}

func (m *mockPlaybackController) Pause(ctx context.Context) error {
	if err := m.record("pause"); err != nil {
		return err
	}
	m.isPlaying = false
	return nil
}

func (m *mockPlaybackController) Next(ctx context.Context) error     { return m.record("next") }
func (m *mockPlaybackController) Previous(ctx context.Context) error { return m.record("previous") }

func (m *mockPlaybackController) count(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c == name {
			n++
		}
	}
	return n
}

// recordingPublisher collects dispatch reports.
type recordingPublisher struct {
	mu      sync.Mutex
	reports []DispatchReport
}

func (p *recordingPublisher) Publish(r DispatchReport) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reports = append(p.reports, r)
}
