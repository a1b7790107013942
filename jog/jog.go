// Package jog implements manual held-key movement. A direction key
// being held shows up as the same command repeating faster than the
// client repeat window; the jogger chains step moves for as long as
// commands keep arriving, switching direction mid-chain if asked.
package jog

import (
	"log"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/gardenmech/waterbot/busy"
	"github.com/gardenmech/waterbot/coord"
	"github.com/gardenmech/waterbot/gantry"
)

// ErrBusy is returned when motion is already owned by another
// operation.
var ErrBusy = errors.New("jog: motion busy")

const chainSlack = 50 * time.Millisecond

// Jogger owns the motion flag while a chain is active. Only one chain
// runs at a time.
type Jogger struct {
	g      *gantry.Safety
	motion *busy.Flag
	step   float64
	window time.Duration

	mx     sync.Mutex
	active bool
	next   chan coord.Point
}

// New creates a Jogger. step is the per-command move in mm; window is
// the expected client repeat interval.
func New(g *gantry.Safety, motion *busy.Flag, step float64, window time.Duration) *Jogger {
	return &Jogger{
		g:      g,
		motion: motion,
		step:   step,
		window: window,
		next:   make(chan coord.Point, 1),
	}
}

// Step returns the configured per-command step size.
func (j *Jogger) Step() float64 { return j.step }

// Jog feeds one direction command (a unit-ish delta in mm). If a
// chain is running, the slated direction is replaced and applied at
// the chain's next check; otherwise a new chain starts, taking the
// motion flag. Returns ErrBusy when motion is owned elsewhere.
func (j *Jogger) Jog(dx, dy float64) error {
	dir := coord.Point{X: dx, Y: dy}

	j.mx.Lock()
	if j.active {
		select {
		case <-j.next:
		default:
		}
		j.next <- dir
		j.mx.Unlock()
		return nil
	}
	if !j.motion.TryAcquire() {
		j.mx.Unlock()
		return ErrBusy
	}
	j.active = true
	j.mx.Unlock()

	go j.chain(dir)
	return nil
}

func (j *Jogger) chain(dir coord.Point) {
	// active and the motion flag clear together, under the lock, so
	// a held-key command arriving as the chain winds down either
	// joins it or starts a fresh one; it never sees the half-stopped
	// state as busy
	stop := func() {
		j.mx.Lock()
		j.active = false
		j.motion.Release()
		j.mx.Unlock()
	}

	for {
		if _, err := j.g.Move(dir.X, dir.Y); err != nil {
			log.Println("ERROR: jog move:", err)
			stop()
			return
		}

		timer := time.NewTimer(j.window + chainSlack)
		select {
		case dir = <-j.next:
			timer.Stop()
			continue
		case <-timer.C:
		}

		// one last look under the lock so a command racing the
		// timeout is not dropped
		j.mx.Lock()
		select {
		case dir = <-j.next:
			j.mx.Unlock()
			continue
		default:
		}
		j.active = false
		j.motion.Release()
		j.mx.Unlock()
		return
	}
}

// Home issues a one-shot move back to the origin, holding the motion
// flag for its duration.
func (j *Jogger) Home() error {
	if !j.motion.TryAcquire() {
		return ErrBusy
	}
	defer j.motion.Release()
	return j.g.Home()
}

// StartHome begins homing in the background, returning once the
// motion flag is taken. ErrBusy if motion is owned elsewhere.
func (j *Jogger) StartHome() error {
	if !j.motion.TryAcquire() {
		return ErrBusy
	}
	go func() {
		defer j.motion.Release()
		if err := j.g.Home(); err != nil {
			log.Println("ERROR: home:", err)
		}
	}()
	return nil
}

// Active reports whether a jog chain is currently running.
func (j *Jogger) Active() bool {
	j.mx.Lock()
	defer j.mx.Unlock()
	return j.active
}
