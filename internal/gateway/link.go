package gateway

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"go.bug.st/serial"
)

// Link is the raw byte channel to the controller.
type Link interface {
	io.ReadWriteCloser
}

// Opener opens a link on a named port.
type Opener func(port string, baudRate int) (Link, error)

// serialPollInterval bounds a single blocking Read on the port so deadlines are honoured.
const serialPollInterval = 100 * time.Millisecond

var errLineTimeout = errors.New("no line before deadline")

func openSerial(port string, baudRate int) (Link, error) {
	p, err := serial.Open(port, &serial.Mode{BaudRate: baudRate})
	if err != nil {
		return nil, fmt.Errorf("open serial port %q: %w", port, err)
	}
	if err := p.SetReadTimeout(serialPollInterval); err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("set read timeout on %q: %w", port, err)
	}
	_ = p.ResetInputBuffer()
	return p, nil
}

// lineConn frames a Link into newline-terminated ASCII lines.
type lineConn struct {
	link  Link
	buf   []byte
	chunk []byte
}

func newLineConn(l Link) *lineConn {
	return &lineConn{link: l, chunk: make([]byte, 256)}
}

func (c *lineConn) writeLine(cmd string) error {
	_, err := c.link.Write([]byte(cmd + "\n"))
	return err
}

// discard drops anything buffered from a previous exchange.
func (c *lineConn) discard() {
	c.buf = c.buf[:0]
	if r, ok := c.link.(interface{ ResetInputBuffer() error }); ok {
		_ = r.ResetInputBuffer()
	}
}

// readLine returns the next non-empty line, errLineTimeout once deadline passes,
// or the link's error when the link itself fails.
func (c *lineConn) readLine(ctx context.Context, deadline time.Time) (string, error) {
	for {
		if i := bytes.IndexByte(c.buf, '\n'); i >= 0 {
			line := strings.TrimSpace(string(c.buf[:i]))
			c.buf = c.buf[i+1:]
			if line == "" {
				continue
			}
			return line, nil
		}
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if !time.Now().Before(deadline) {
			return "", errLineTimeout
		}
		n, err := c.link.Read(c.chunk)
		if n > 0 {
			c.buf = append(c.buf, c.chunk[:n]...)
			continue
		}
		if err != nil {
			return "", err
		}
	}
}

func (c *lineConn) close() error {
	return c.link.Close()
}
