package marlin

import (
	"regexp"
	"strings"
)

// Chatter the firmware emits independently of any command.
var noisePrefixes = []string{"PING:", "echo:busy", "ACTIVE_ID:"}

var positionReport = regexp.MustCompile(`(?i)^X:.*Y:.*Z:`)

// IsNoise reports keepalive, busy and session-id lines.
func IsNoise(line string) bool {
	for _, p := range noisePrefixes {
		if strings.HasPrefix(line, p) {
			return true
		}
	}
	return false
}

// IsAck reports a bare "ok", ignoring case.
func IsAck(line string) bool {
	return strings.EqualFold(strings.TrimSpace(line), "ok")
}

// EndsWithAck reports a line that is or ends with "ok", ignoring case.
func EndsWithAck(line string) bool {
	return strings.HasSuffix(strings.ToLower(strings.TrimSpace(line)), "ok")
}

// IsPositionReport reports a line starting with the X:, Y:, Z: sequence.
func IsPositionReport(line string) bool {
	return positionReport.MatchString(line)
}

// ParsePosition extracts the coordinates of a position report.
func ParsePosition(line string) (Position, bool) {
	if !IsPositionReport(line) {
		return Position{}, false
	}
	upd, err := ParseLine(line)
	if err != nil {
		return Position{}, false
	}
	s, ok := upd.(*Status)
	if !ok || s.Position == nil {
		return Position{}, false
	}
	return *s.Position, true
}
