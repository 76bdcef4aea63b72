package main

import (
	"fmt"
	"os"
	"strings"
)

// switchMode is the auto|on|off value shared by --ui and --color.
type switchMode uint8

const (
	switchAuto switchMode = iota
	switchOn
	switchOff
)

func (m switchMode) String() string {
	switch m {
	case switchOn:
		return "on"
	case switchOff:
		return "off"
	default:
		return "auto"
	}
}

func parseSwitch(flag, value string) (switchMode, error) {
	switch strings.TrimSpace(strings.ToLower(value)) {
	case "", "auto":
		return switchAuto, nil
	case "on", "true", "always":
		return switchOn, nil
	case "off", "false", "never":
		return switchOff, nil
	default:
		return switchAuto, fmt.Errorf("invalid --%s value %q (expected auto|on|off)", flag, value)
	}
}

// resolve collapses auto to whether stdout is a terminal.
func (m switchMode) resolve(tty bool) bool {
	switch m {
	case switchOn:
		return true
	case switchOff:
		return false
	default:
		return tty
	}
}

// batchDisplay decides how a decorate batch reports progress.
type batchDisplay struct {
	mode  switchMode
	quiet bool
	files int
	tty   bool
}

// useTUI reports whether the live progress view should run. A single
// module finishes before a view would be useful, so it always prints
// status lines instead.
func (d batchDisplay) useTUI() bool {
	if d.quiet || d.files < 2 {
		return false
	}
	return d.mode.resolve(d.tty)
}

// printLines reports whether per-module status lines go to stdout.
func (d batchDisplay) printLines() bool {
	return !d.quiet && !d.useTUI()
}

func stdoutIsTerminal() bool {
	return isTerminal(os.Stdout)
}
