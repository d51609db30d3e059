package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// SelectDevice lists the candidates, reads one 1-based index from in and
// opens the chosen device. Invalid input returns a *SelectionError; there is
// no retry prompt.
func SelectDevice(candidates []DeviceDescriptor, in io.Reader, out io.Writer, backend deviceBackend) (InputDevice, error) {
	if len(candidates) == 0 {
		return nil, &SelectionError{Reason: "no input devices with media keys found"}
	}

	fmt.Fprintln(out, "[!] Choose your device from the list below. The last device is most likely your Bluetooth earbuds / headphones.")
	fmt.Fprintln(out, "    TIP: run once without the Bluetooth device and again with it connected to see which entry is new.")
	for i, c := range candidates {
		fmt.Fprintf(out, "%d. %s\n", i+1, c)
	}
	fmt.Fprint(out, "[+] Enter the number of your device: ")

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return nil, &SelectionError{Reason: fmt.Sprintf("no selection read: %v", err)}
	}

	index, err := parseSelection(line, len(candidates))
	if err != nil {
		return nil, err
	}

	chosen := candidates[index]
	dev, err := backend.Open(chosen.Path)
	if err != nil {
		return nil, &DeviceAccessError{Path: chosen.Path, Err: err}
	}
	return dev, nil
}

// parseSelection converts operator input into a zero-based index into a list
// of n candidates.
func parseSelection(input string, n int) (int, error) {
	s := strings.TrimSpace(input)
	if s == "" {
		return 0, &SelectionError{Reason: "please enter a number"}
	}
	choice, err := strconv.Atoi(s)
	if err != nil {
		return 0, &SelectionError{Input: s, Reason: "please enter a number"}
	}
	if choice < 1 || choice > n {
		return 0, &SelectionError{Input: s, Reason: fmt.Sprintf("please enter a number from 1 to %d", n)}
	}
	return choice - 1, nil
}
