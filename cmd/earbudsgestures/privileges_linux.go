//go:build linux

package main

import (
	"errors"
	"fmt"
	"os"
	"os/user"
	"strconv"
	"syscall"

	"golang.org/x/sys/unix"
)

// Device enumeration needs root, but the browser must not be opened as root.
// dropPrivileges is called once, after the device is open and before the
// authorization flow starts. Already-open file descriptors stay usable.

// PrivilegeOptions selects the identity to switch to.
type PrivilegeOptions struct {
	// User is the target account; empty means $SUDO_USER.
	User string
	// RunDir is the working directory after the switch; empty keeps the current one.
	RunDir string
}

var errNotRoot = errors.New("not running as root (run with sudo, or disable privilege dropping)")

// dropPrivileges switches the whole process to the target user.
func dropPrivileges(opts PrivilegeOptions) (*user.User, error) {
	if unix.Geteuid() != 0 {
		return nil, errNotRoot
	}

	name, err := resolveTargetUser(opts.User, os.Getenv)
	if err != nil {
		return nil, err
	}
	u, err := user.Lookup(name)
	if err != nil {
		return nil, fmt.Errorf("look up user %q: %w", name, err)
	}
	uid, gid, groups, err := numericIDs(u)
	if err != nil {
		return nil, err
	}

	runDir := opts.RunDir
	if runDir == "" {
		if runDir, err = os.Getwd(); err != nil {
			return nil, fmt.Errorf("getwd: %w", err)
		}
	}

	// Order matters: groups and gid can only be changed while still root.
	// All three calls must reach every thread. unix.Setgroups is a raw
	// per-thread syscall, so use the syscall package's process-wide one.
	if err := syscall.Setgroups(groups); err != nil {
		return nil, fmt.Errorf("setgroups: %w", err)
	}
	if err := unix.Setgid(gid); err != nil {
		return nil, fmt.Errorf("setgid %d: %w", gid, err)
	}
	if err := unix.Setuid(uid); err != nil {
		return nil, fmt.Errorf("setuid %d: %w", uid, err)
	}

	if err := os.Setenv("HOME", u.HomeDir); err != nil {
		return nil, fmt.Errorf("set HOME: %w", err)
	}
	if err := os.Chdir(ExpandPath(runDir)); err != nil {
		return nil, fmt.Errorf("chdir %s: %w", runDir, err)
	}
	unix.Umask(0o022)

	return u, nil
}

// resolveTargetUser picks the account to drop to.
func resolveTargetUser(configured string, getenv func(string) string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	if sudoUser := getenv("SUDO_USER"); sudoUser != "" && sudoUser != "root" {
		return sudoUser, nil
	}
	return "", errors.New("target user not specified (set privileges.user or run via sudo)")
}

func numericIDs(u *user.User) (uid, gid int, groups []int, err error) {
	if uid, err = strconv.Atoi(u.Uid); err != nil {
		return 0, 0, nil, fmt.Errorf("parse uid %q: %w", u.Uid, err)
	}
	if gid, err = strconv.Atoi(u.Gid); err != nil {
		return 0, 0, nil, fmt.Errorf("parse gid %q: %w", u.Gid, err)
	}

	ids, err := u.GroupIds()
	if err != nil {
		// No group database entry beyond the primary group.
		ids = []string{u.Gid}
	}
	for _, id := range ids {
		g, convErr := strconv.Atoi(id)
		if convErr != nil {
			return 0, 0, nil, fmt.Errorf("parse group id %q: %w", id, convErr)
		}
		groups = append(groups, g)
	}
	return uid, gid, groups, nil
}
