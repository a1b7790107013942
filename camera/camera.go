// Package camera provides a shared "latest frame" source. One
// background goroutine owns the capture device and pulls frames as
// fast as it allows; any number of consumers read the most recent
// frame concurrently. Latest-wins means frames can be lost, which is
// fine here: the video feed and a scan consume at unrelated rates and
// a backlog would only add latency.
package camera

import (
	"sync"
	"time"
)

// A Capture produces one encoded JPEG frame per call, blocking on the
// device.
type Capture interface {
	Grab() ([]byte, error)
}

// Source continuously reads from a Capture and retains only the most
// recent successful frame.
type Source struct {
	mx    sync.RWMutex
	frame []byte
	ok    bool

	closeCh   chan struct{}
	closeOnce sync.Once
}

// NewSource starts the background reader for cap.
func NewSource(cap Capture) *Source {
	s := &Source{closeCh: make(chan struct{})}
	go s.loop(cap)
	return s
}

func (s *Source) loop(cap Capture) {
	for {
		select {
		case <-s.closeCh:
			return
		default:
		}

		frame, err := cap.Grab()
		if err != nil {
			// transient: keep the last good frame, back off briefly
			time.Sleep(50 * time.Millisecond)
			continue
		}
		s.mx.Lock()
		s.frame = frame
		s.ok = true
		s.mx.Unlock()
	}
}

// Read returns a copy of the latest frame. ok is false until the
// first successful capture. A nil Source reads as "no frame", so a
// missing camera degrades to empty scans instead of crashing.
func (s *Source) Read() (frame []byte, ok bool) {
	if s == nil {
		return nil, false
	}
	s.mx.RLock()
	defer s.mx.RUnlock()
	if !s.ok {
		return nil, false
	}
	frame = make([]byte, len(s.frame))
	copy(frame, s.frame)
	return frame, true
}

// Close stops the background reader.
func (s *Source) Close() {
	s.closeOnce.Do(func() { close(s.closeCh) })
}
