package gateway

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Request lines understood by the pump controller firmware.
const (
	cmdPing       = "PING"
	cmdReadLevel  = "read_water_level"
	cmdPumpStatus = "PUMP_STATUS"
)

// legacyChannel marks a level line that carries no channel number.
const legacyChannel = -1

var (
	// "channel=1 level=45.2" and "Channel[1] water level = 45.2%"
	levelLineRe = regexp.MustCompile(`(?i)channel\s*(?:=\s*|\[\s*)(\d+)\s*\]?\s*(?:water\s+)?level\s*[=:]\s*(-?\d+(?:\.\d+)?)\s*%?`)
	// "water level = 45.2%" from single-sensor firmware
	legacyLevelLineRe = regexp.MustCompile(`(?i)water\s+level\s*[=:]\s*(-?\d+(?:\.\d+)?)\s*%?`)
	ackLineRe         = regexp.MustCompile(`^ACK:\s*(.*)$`)
	errLineRe         = regexp.MustCompile(`(?i)^ERR(?:OR)?:\s*(.*)$`)
	statusItemRe      = regexp.MustCompile(`(?i)PUMP(\d+)_STATUS\s*:\s*(ON|OFF)`)
)

func readLevelCommand(channel int) string {
	if channel <= 0 {
		return cmdReadLevel
	}
	return fmt.Sprintf("%s_%d", cmdReadLevel, channel)
}

func pumpCommand(pump int, on bool, duration time.Duration) string {
	if !on {
		return fmt.Sprintf("PUMP%d_OFF", pump)
	}
	if secs := int(duration / time.Second); secs > 0 {
		return fmt.Sprintf("PUMP%d_ON_%d", pump, secs)
	}
	return fmt.Sprintf("PUMP%d_ON", pump)
}

// parseLevel extracts a channel and a level from a response line.
func parseLevel(line string) (channel int, level float64, ok bool) {
	if m := levelLineRe.FindStringSubmatch(line); m != nil {
		ch, err := strconv.Atoi(m[1])
		if err != nil {
			return 0, 0, false
		}
		lv, err := strconv.ParseFloat(m[2], 64)
		if err != nil {
			return 0, 0, false
		}
		return ch, lv, true
	}
	if m := legacyLevelLineRe.FindStringSubmatch(line); m != nil {
		lv, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			return 0, 0, false
		}
		return legacyChannel, lv, true
	}
	return 0, 0, false
}

func parseAck(line string) (string, bool) {
	m := ackLineRe.FindStringSubmatch(strings.TrimSpace(line))
	if m == nil {
		return "", false
	}
	return m[1], true
}

func parseDeviceError(line string) (string, bool) {
	m := errLineRe.FindStringSubmatch(strings.TrimSpace(line))
	if m == nil {
		return "", false
	}
	return m[1], true
}

// parseStatus reads "PUMP1_STATUS:ON, PUMP2_STATUS:OFF".
func parseStatus(line string) (map[int]bool, bool) {
	items := statusItemRe.FindAllStringSubmatch(line, -1)
	if len(items) == 0 {
		return nil, false
	}
	out := make(map[int]bool, len(items))
	for _, m := range items {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		out[n] = strings.EqualFold(m[2], "ON")
	}
	return out, len(out) > 0
}
