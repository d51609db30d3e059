package main

import (
	"os/exec"
	"runtime"
)

// openBrowser opens target with the desktop's URL handler. It only starts the
// helper process; the browser itself runs detached.
func openBrowser(target string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", target)
	default:
		cmd = exec.Command("xdg-open", target)
	}
	if err := cmd.Start(); err != nil {
		return err
	}
	go func() { _ = cmd.Wait() }()
	return nil
}
