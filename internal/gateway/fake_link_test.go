package gateway

import (
	"errors"
	"strings"
	"sync"
	"time"
)

// fakeLink answers each written command with scripted lines.
type fakeLink struct {
	mu        sync.Mutex
	respond   func(cmd string) []string
	pending   []byte
	writes    []string
	closed    bool
	writeErr  error
	readErr   error
	closeHook func()
}

func newFakeLink(respond func(cmd string) []string) *fakeLink {
	return &fakeLink{respond: respond}
}

func (f *fakeLink) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return 0, errors.New("closed")
	}
	if f.writeErr != nil {
		return 0, f.writeErr
	}
	for _, cmd := range strings.Split(strings.TrimSpace(string(p)), "\n") {
		f.writes = append(f.writes, cmd)
		if f.respond == nil {
			continue
		}
		for _, line := range f.respond(cmd) {
			f.pending = append(f.pending, []byte(line+"\r\n")...)
		}
	}
	return len(p), nil
}

func (f *fakeLink) Read(p []byte) (int, error) {
	f.mu.Lock()
	if f.readErr != nil {
		err := f.readErr
		f.mu.Unlock()
		return 0, err
	}
	if len(f.pending) == 0 {
		f.mu.Unlock()
		time.Sleep(2 * time.Millisecond)
		return 0, nil
	}
	n := copy(p, f.pending)
	f.pending = f.pending[n:]
	f.mu.Unlock()
	return n, nil
}

func (f *fakeLink) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	if f.closeHook != nil {
		f.closeHook()
	}
	return nil
}

func (f *fakeLink) commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.writes...)
}

// controllerScript mimics the firmware: it answers PING, level reads, pump commands and status.
func controllerScript(levels map[int]float64) func(cmd string) []string {
	return func(cmd string) []string {
		switch {
		case cmd == "PING":
			return []string{"PONG"}
		case strings.HasPrefix(cmd, "read_water_level_"):
			var out []string
			for ch, lv := range levels {
				out = append(out, "channel="+itoa(ch)+" level="+ftoa(lv))
			}
			return out
		case strings.HasPrefix(cmd, "PUMP_STATUS"):
			return []string{"PUMP1_STATUS:ON, PUMP2_STATUS:OFF"}
		case strings.HasPrefix(cmd, "PUMP"):
			return []string{"ACK:" + cmd}
		default:
			return nil
		}
	}
}
