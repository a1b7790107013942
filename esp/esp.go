// Package esp implements the host side of the line-oriented protocol
// spoken by the gantry firmware. Every command is a single newline
// terminated line; the firmware replies with an acceptance line
// ("OK ...") when it begins executing and a completion line
// ("DONE ...") when it finishes. "ERR"/"FAULT" lines abort whatever
// is in flight.
package esp

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
)

const (
	// acceptTimeout bounds the wait for the firmware to acknowledge
	// a command it just received.
	acceptTimeout = time.Second

	// moveTimeout bounds a full travel; long moves are slow.
	moveTimeout = 15 * time.Second

	// pumpGrace is added on top of the nominal pump run time.
	pumpGrace = 5 * time.Second
)

// ErrNotConnected is returned by all operations when there is no open
// serial connection.
var ErrNotConnected = errors.New("esp: not connected")

// TimeoutError indicates the firmware did not produce an expected
// line in time. The link itself remains usable.
type TimeoutError struct {
	Waiting string
}

func (e *TimeoutError) Error() string {
	return "esp: timeout waiting for " + e.Waiting
}

// FaultError indicates the firmware actively reported an error, e.g.
// a limit switch hit. The offending line is preserved verbatim.
type FaultError struct {
	Line string
}

func (e *FaultError) Error() string {
	return "esp: device fault: " + e.Line
}

// IsFault reports whether err originated from a firmware fault line.
func IsFault(err error) bool {
	var fe *FaultError
	return errors.As(err, &fe)
}

// IsTimeout reports whether err is a protocol timeout.
func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}

func isFaultLine(ln string) bool {
	return strings.HasPrefix(ln, "ERR") || strings.HasPrefix(ln, "FAULT")
}

// Conn represents a connection to the gantry firmware.
//
// A nil *Conn is valid and fails every operation with ErrNotConnected,
// so callers may hold one unconditionally.
type Conn struct {
	w io.Writer

	lines   chan string
	closeCh chan struct{}

	closeOnce sync.Once
	wMx       sync.Mutex

	rw io.ReadWriter
}

// NewConn creates a Conn using the provided ReadWriter and starts its
// background line reader.
func NewConn(rw io.ReadWriter) *Conn {
	c := &Conn{
		w:       rw,
		rw:      rw,
		lines:   make(chan string, 64),
		closeCh: make(chan struct{}),
	}
	go c.readLoop()
	return c
}

func (c *Conn) readLoop() {
	scan := bufio.NewScanner(c.rw)
	for scan.Scan() {
		ln := strings.TrimSpace(scan.Text())
		if ln == "" {
			continue
		}
		select {
		case c.lines <- ln:
		case <-c.closeCh:
			return
		}
	}
}

// Close shuts the connection down and closes the underlying
// ReadWriter if it implements io.Closer.
func (c *Conn) Close() error {
	if c == nil {
		return nil
	}
	c.closeOnce.Do(func() { close(c.closeCh) })
	if closer, ok := c.rw.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// Send writes one command line to the firmware.
func (c *Conn) Send(cmd string) error {
	if c == nil {
		return ErrNotConnected
	}
	select {
	case <-c.closeCh:
		return ErrNotConnected
	default:
	}
	c.wMx.Lock()
	_, err := io.WriteString(c.w, strings.TrimSpace(cmd)+"\n")
	c.wMx.Unlock()
	return errors.Wrap(err, "write serial")
}

// Drain returns every line that arrived since the last call without
// blocking. Used to flush reset banners after connect.
func (c *Conn) Drain() []string {
	if c == nil {
		return nil
	}
	var out []string
	for {
		select {
		case ln := <-c.lines:
			out = append(out, ln)
		default:
			return out
		}
	}
}

// Await blocks until a line satisfying pred arrives, the timeout
// elapses, or a fault line is seen. Fault lines are checked before
// pred, so a fault always preempts a would-be match.
func (c *Conn) Await(pred func(string) bool, timeout time.Duration, label string) (string, error) {
	if c == nil {
		return "", ErrNotConnected
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case ln := <-c.lines:
			if isFaultLine(ln) {
				return "", &FaultError{Line: ln}
			}
			if pred(ln) {
				return ln, nil
			}
		case <-timer.C:
			return "", &TimeoutError{Waiting: label}
		case <-c.closeCh:
			return "", ErrNotConnected
		}
	}
}

// Move commands a relative XY move and blocks until the firmware
// reports completion.
func (c *Conn) Move(dx, dy float64) error {
	err := c.Send(fmt.Sprintf("MOVE XY %.3f %.3f", dx, dy))
	if err != nil {
		return err
	}
	_, err = c.Await(func(ln string) bool {
		return strings.HasPrefix(ln, "OK MOVE")
	}, acceptTimeout, "OK MOVE")
	if err != nil {
		return err
	}
	_, err = c.Await(func(ln string) bool {
		return ln == "DONE MOVE"
	}, moveTimeout, "DONE MOVE")
	return err
}

// Pump runs the pump for ms milliseconds and blocks until the
// firmware reports completion.
func (c *Conn) Pump(ms int) error {
	err := c.Send(fmt.Sprintf("PUMP ON %d", ms))
	if err != nil {
		return err
	}
	_, err = c.Await(func(ln string) bool {
		return strings.HasPrefix(ln, "OK PUMP ON")
	}, acceptTimeout, "OK PUMP ON")
	if err != nil {
		return err
	}
	_, err = c.Await(func(ln string) bool {
		return ln == "DONE PUMP"
	}, time.Duration(ms)*time.Millisecond+pumpGrace, "DONE PUMP")
	return err
}

// Clear asks the firmware to clear a latched limit fault. It only
// succeeds once the limit switch is released.
func (c *Conn) Clear() error {
	err := c.Send("CLEAR")
	if err != nil {
		return err
	}
	_, err = c.Await(func(ln string) bool {
		return strings.HasPrefix(ln, "OK")
	}, acceptTimeout, "CLEAR response")
	return err
}
