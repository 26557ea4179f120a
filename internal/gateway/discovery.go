package gateway

import (
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"go.bug.st/serial"
)

// PortLister enumerates serial ports present on the host.
type PortLister func() ([]string, error)

// ListPorts returns the serial ports the OS reports.
func ListPorts() ([]string, error) {
	return serial.GetPortsList()
}

// candidatePorts orders ports for probing: the explicit ones first, then likely
// controller devices found by enumeration.
func candidatePorts(explicit []string, list PortLister) []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(p string) {
		p = strings.TrimSpace(p)
		if p == "" {
			return
		}
		if _, ok := seen[p]; ok {
			return
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}

	for _, p := range explicit {
		add(p)
	}
	if list == nil {
		return out
	}
	found, err := list()
	if err != nil {
		return out
	}
	sort.SliceStable(found, func(i, j int) bool { return portRank(found[i]) < portRank(found[j]) })
	for _, p := range found {
		if portRank(p) < rankOther {
			add(p)
		}
	}
	return out
}

const (
	rankACM = iota
	rankUSB
	rankCOM
	rankOther
)

// portRank prefers CDC-ACM boards (Arduino Uno/Mega) over USB-serial bridges.
func portRank(port string) int {
	base := filepath.Base(port)
	switch {
	case strings.HasPrefix(base, "ttyACM"), strings.Contains(base, "usbmodem"):
		return rankACM
	case strings.HasPrefix(base, "ttyUSB"), strings.Contains(base, "usbserial"):
		return rankUSB
	case runtime.GOOS == "windows" && strings.HasPrefix(strings.ToUpper(base), "COM"):
		return rankCOM
	default:
		return rankOther
	}
}
