package render

import (
	"strconv"
	"strings"
)

// The renderer is opaque: its stdout/stderr stream is the only
// observability channel. Each line is classified into a typed event so the
// parsing contract stays testable independent of process plumbing.

const (
	autoOrientMarker = "[AUTO]"
	frameMarker      = "Fra:"
)

// Event is one classified line of renderer output.
type Event interface {
	isEvent()
}

// AutoOrientEvent carries the renderer's auto-orientation decision.
// HasAxis/HasOffset report which fields actually parsed; a marker line
// with garbage fields is still an AutoOrientEvent with nothing set.
type AutoOrientEvent struct {
	Axis      string
	OffsetDeg float64
	HasAxis   bool
	HasOffset bool
	Raw       string
}

// FrameEvent carries the current frame index.
type FrameEvent struct {
	Frame int
	Raw   string
}

// StatusEvent is free-text renderer output passed through as the job message.
type StatusEvent struct {
	Text string
}

func (AutoOrientEvent) isEvent() {}
func (FrameEvent) isEvent()      {}
func (StatusEvent) isEvent()     {}

// Classify turns one trimmed output line into an event. Blank lines
// return nil.
func Classify(line string) Event {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}

	if strings.HasPrefix(line, autoOrientMarker) {
		return parseAutoOrient(line)
	}

	if strings.HasPrefix(line, frameMarker) {
		if ev, ok := parseFrame(line); ok {
			return ev
		}
	}

	return StatusEvent{Text: line}
}

func parseAutoOrient(line string) AutoOrientEvent {
	ev := AutoOrientEvent{Raw: line}
	for _, tok := range strings.Fields(line) {
		key, val, ok := strings.Cut(tok, "=")
		if !ok {
			continue
		}
		switch key {
		case "axis":
			val = strings.ToUpper(val)
			if val == AxisX || val == AxisY || val == AxisZ {
				ev.Axis = val
				ev.HasAxis = true
			}
		case "offset":
			if f, err := strconv.ParseFloat(val, 64); err == nil {
				ev.OffsetDeg = f
				ev.HasOffset = true
			}
		}
	}
	return ev
}

// parseFrame extracts the frame index: after replacing ":" with spaces,
// the first all-digit token is the current frame.
func parseFrame(line string) (FrameEvent, bool) {
	normalized := strings.ReplaceAll(line, ":", " ")
	for _, tok := range strings.Fields(normalized) {
		if isDigits(tok) {
			n, err := strconv.Atoi(tok)
			if err != nil {
				return FrameEvent{}, false
			}
			return FrameEvent{Frame: n, Raw: line}, true
		}
	}
	return FrameEvent{}, false
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
