package main

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"time"

	evdev "github.com/gvalkov/golang-evdev"
)

// InputDevice is an open handle to a kernel input device.
type InputDevice interface {
	Path() string
	Name() string
	// Capabilities maps event type to the event codes the device can emit.
	Capabilities() map[uint16][]uint16
	// ReadEvent blocks until the next event arrives.
	ReadEvent() (GestureEvent, error)
	Close() error
}

// deviceBackend abstracts the kernel input subsystem so enumeration and
// selection can run without /dev/input.
type deviceBackend interface {
	ListDevices() ([]string, error)
	Open(path string) (InputDevice, error)
}

// DeviceDescriptor describes a candidate device found by enumeration.
type DeviceDescriptor struct {
	Path string
	Name string
}

func (d DeviceDescriptor) String() string {
	if d.Name == "" {
		return d.Path
	}
	return fmt.Sprintf("%s (%s)", d.Path, d.Name)
}

// ListCandidateDevices returns the devices that advertise key events and at
// least one media key. Devices that fail to open are logged and skipped.
// The order is the backend's listing order.
func ListCandidateDevices(backend deviceBackend, logger *slog.Logger) ([]DeviceDescriptor, error) {
	paths, err := backend.ListDevices()
	if err != nil {
		return nil, &DeviceAccessError{Err: err}
	}

	var candidates []DeviceDescriptor
	for _, path := range paths {
		dev, err := backend.Open(path)
		if err != nil {
			logger.Warn("skipping input device", "error", &DeviceAccessError{Path: path, Err: err})
			continue
		}

		caps := dev.Capabilities()
		desc := DeviceDescriptor{Path: dev.Path(), Name: dev.Name()}
		if desc.Path == "" {
			desc.Path = path
		}
		_ = dev.Close()

		if !hasMediaKeys(caps) {
			logger.Debug("input device has no media keys", "device", path, "name", desc.Name)
			continue
		}
		logger.Debug("candidate input device", "device", desc.Path, "name", desc.Name)
		candidates = append(candidates, desc)
	}
	return candidates, nil
}

// hasMediaKeys reports whether caps contains EV_KEY with any of mediaKeyCodes.
func hasMediaKeys(caps map[uint16][]uint16) bool {
	keys, ok := caps[EV_KEY]
	if !ok {
		return false
	}
	for _, code := range keys {
		for _, media := range mediaKeyCodes {
			if code == media {
				return true
			}
		}
	}
	return false
}

// ============================================================================
// evdev backend
// ============================================================================

type evdevBackend struct {
	glob string
}

func newEvdevBackend(glob string) *evdevBackend {
	if glob == "" {
		glob = defaultDeviceGlob
	}
	return &evdevBackend{glob: glob}
}

func (b *evdevBackend) ListDevices() ([]string, error) {
	matches, err := filepath.Glob(b.glob)
	if err != nil {
		return nil, fmt.Errorf("glob %s: %w", b.glob, err)
	}
	// No matches is an empty listing, not an error; the selector reports it.
	sort.Strings(matches)
	return matches, nil
}

func (b *evdevBackend) Open(path string) (InputDevice, error) {
	dev, err := evdev.Open(path)
	if err != nil {
		return nil, err
	}
	return &evdevDevice{dev: dev, path: path}, nil
}

// evdevDevice adapts *evdev.InputDevice to InputDevice.
type evdevDevice struct {
	dev  *evdev.InputDevice
	path string
}

func (d *evdevDevice) Path() string { return d.path }
func (d *evdevDevice) Name() string { return d.dev.Name }

func (d *evdevDevice) Capabilities() map[uint16][]uint16 {
	caps := make(map[uint16][]uint16, len(d.dev.Capabilities))
	for typ, codes := range d.dev.Capabilities {
		list := make([]uint16, 0, len(codes))
		for _, c := range codes {
			list = append(list, uint16(c.Code))
		}
		caps[uint16(typ.Type)] = list
	}
	return caps
}

func (d *evdevDevice) ReadEvent() (GestureEvent, error) {
	ev, err := d.dev.ReadOne()
	if err != nil {
		return GestureEvent{}, err
	}
	if ev == nil {
		return GestureEvent{}, errors.New("short read")
	}
	return GestureEvent{
		Type:  ev.Type,
		Code:  ev.Code,
		Value: ev.Value,
		Time:  time.Unix(int64(ev.Time.Sec), int64(ev.Time.Usec)*int64(time.Microsecond)),
	}, nil
}

func (d *evdevDevice) Close() error {
	if d.dev.File == nil {
		return nil
	}
	return d.dev.File.Close()
}
