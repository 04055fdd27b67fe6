// Package command turns operator keypresses into pipeline actions: quit,
// save a snapshot of the latest frame, and toggle recording.
package command

import (
	"bufio"
	"io"
	"log/slog"
)

// Command is an operator action.
type Command int

const (
	// Quit stops the whole pipeline.
	Quit Command = iota
	// Snapshot saves the most recent frame to disk.
	Snapshot
	// ToggleRecording starts a new recording, or finishes the running one.
	ToggleRecording
)

func (c Command) String() string {
	switch c {
	case Quit:
		return "quit"
	case Snapshot:
		return "snapshot"
	case ToggleRecording:
		return "toggle-recording"
	default:
		return "unknown"
	}
}

// Listen reads single-letter commands from r (one per line: q, s, r) and
// sends them on the returned channel. Unknown input is logged and ignored.
// The channel closes when r reaches EOF or fails.
func Listen(r io.Reader, log *slog.Logger) <-chan Command {
	if log == nil {
		log = slog.Default()
	}
	out := make(chan Command)
	go func() {
		defer close(out)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			switch scanner.Text() {
			case "q":
				out <- Quit
				return
			case "s":
				out <- Snapshot
			case "r":
				out <- ToggleRecording
			case "":
				// Bare newline, ignore.
			default:
				log.Warn("command: unknown input (use q, s, r)", "input", scanner.Text())
			}
		}
	}()
	return out
}
