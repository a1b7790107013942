// Package server resolves inbound text commands to gantry operations,
// enforcing that only one motion-owning operation runs at a time.
package server

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/gardenmech/waterbot/busy"
	"github.com/gardenmech/waterbot/esp"
	"github.com/gardenmech/waterbot/gantry"
	"github.com/gardenmech/waterbot/jog"
	"github.com/gardenmech/waterbot/scan"
	"github.com/gardenmech/waterbot/schedule"
	"github.com/gardenmech/waterbot/vision"
)

// Config wires the dispatcher's collaborators. Link and Detector may
// be nil; the corresponding commands then fail fast with plain text.
type Config struct {
	Link     *esp.Conn
	Gantry   *gantry.Safety
	Jogger   *jog.Jogger
	Motion   *busy.Flag
	Frames   scan.FrameReader
	Detector vision.Detector
	Store    *schedule.Store
	Scan     scan.Config

	// Broadcast receives every scan progress message regardless of
	// which client (or the scheduler) started the scan. May be nil.
	Broadcast func(msg string)
}

// Dispatcher turns command strings into operations. Every command
// yields exactly one response describing acceptance; eventual
// outcomes of asynchronous operations arrive as later progress
// messages.
type Dispatcher struct {
	cfg      Config
	scanning busy.Flag

	mx     sync.Mutex
	cancel context.CancelFunc
	owner  interface{}
}

func NewDispatcher(cfg Config) *Dispatcher {
	return &Dispatcher{cfg: cfg}
}

// Dispatch handles one command. owner identifies the requesting
// client for disconnect handling; sink receives that client's copy of
// scan progress messages. Both may be nil for headless callers.
func (d *Dispatcher) Dispatch(cmd string, owner interface{}, sink func(string)) string {
	fields := strings.Fields(strings.TrimSpace(cmd))
	if len(fields) == 0 {
		return "Unknown command"
	}
	step := d.cfg.Jogger.Step()

	switch strings.ToUpper(fields[0]) {
	case "UP":
		return d.jog(0, step, "Moving up...")
	case "DOWN":
		return d.jog(0, -step, "Moving down...")
	case "LEFT":
		return d.jog(-step, 0, "Moving left...")
	case "RIGHT":
		return d.jog(step, 0, "Moving right...")
	case "CALIBRATE":
		return d.calibrate()
	case "WATER_ALL":
		resp, _ := d.startScan(owner, sink)
		return resp
	case "CANCEL_SCAN":
		return d.cancelScan()
	case "GET_SCHEDULES":
		return d.getSchedules()
	case "SET_SCHEDULES":
		rest := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(cmd), fields[0]))
		return d.setSchedules(rest)
	case "CLEAR_FAULT":
		return d.clearFault()
	default:
		return "Unknown command"
	}
}

func (d *Dispatcher) jog(dx, dy float64, accepted string) string {
	if d.scanning.Held() {
		return "Scan in progress"
	}
	if d.cfg.Link == nil {
		return "Serial not connected"
	}
	switch err := d.cfg.Jogger.Jog(dx, dy); err {
	case nil:
		return accepted
	case jog.ErrBusy:
		return "Motion busy"
	default:
		return "Jog failed: " + err.Error()
	}
}

func (d *Dispatcher) calibrate() string {
	if d.scanning.Held() {
		return "Scan in progress"
	}
	if d.cfg.Link == nil {
		return "Serial not connected"
	}
	if d.cfg.Gantry.AtHome() {
		return "Already at home"
	}
	if err := d.cfg.Jogger.StartHome(); err != nil {
		return "Motion busy"
	}
	return "Homing..."
}

// startScan begins a scan on a worker goroutine. The returned channel
// closes when the scan finishes; the scheduler blocks on it.
func (d *Dispatcher) startScan(owner interface{}, sink func(string)) (string, <-chan struct{}) {
	if d.cfg.Detector == nil {
		return "Detection capability unavailable", nil
	}
	if d.cfg.Link == nil {
		return "Serial not connected", nil
	}
	if !d.scanning.TryAcquire() {
		return "Scan already running", nil
	}
	// take the motion flag too: a scan owns the gantry for its whole
	// duration, so a jog chain can never interleave serial
	// transactions with it
	if !d.cfg.Motion.TryAcquire() {
		d.scanning.Release()
		return "Motion busy", nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	d.mx.Lock()
	d.cancel = cancel
	d.owner = owner
	d.mx.Unlock()

	cfg := d.cfg.Scan
	cfg.Progress = func(msg string) {
		log.Println(msg)
		if sink != nil {
			sink(msg)
		}
		if d.cfg.Broadcast != nil {
			d.cfg.Broadcast(msg)
		}
	}
	runner := scan.New(cfg, d.cfg.Gantry, d.cfg.Frames, d.cfg.Detector, d.cfg.Link)

	done := make(chan struct{})
	go func() {
		defer close(done)
		res := runner.Run(ctx)
		if res.Err == nil && !res.Cancelled {
			// any non-cancelled, non-error completion counts as
			// today's watering, plants or not
			if err := d.cfg.Store.MarkWatered(time.Now()); err != nil {
				log.Println("ERROR: record watered log:", err)
			}
		}

		d.mx.Lock()
		d.cancel = nil
		d.owner = nil
		d.mx.Unlock()
		cancel()
		d.cfg.Motion.Release()
		d.scanning.Release()
	}()

	return "Starting scan...", done
}

func (d *Dispatcher) cancelScan() string {
	d.mx.Lock()
	cancel := d.cancel
	d.mx.Unlock()
	if cancel == nil {
		return "No scan running"
	}
	cancel()
	return "Cancelling scan..."
}

func (d *Dispatcher) getSchedules() string {
	raw, err := json.Marshal(d.cfg.Store.Get())
	if err != nil {
		return "Schedule read failed: " + err.Error()
	}
	return string(raw)
}

func (d *Dispatcher) setSchedules(payload string) string {
	if payload == "" {
		return "Invalid schedule payload: empty"
	}
	var data schedule.Data
	if err := json.Unmarshal([]byte(payload), &data); err != nil {
		return "Invalid schedule payload: " + err.Error()
	}
	if err := d.cfg.Store.Replace(data); err != nil {
		return "Invalid schedule payload: " + err.Error()
	}
	return "Schedules updated"
}

func (d *Dispatcher) clearFault() string {
	if d.cfg.Link == nil {
		return "Serial not connected"
	}
	if err := d.cfg.Link.Clear(); err != nil {
		return "Clear failed: " + err.Error()
	}
	return "Fault cleared"
}

// ScanReady reports why an unattended scan cannot start right now.
func (d *Dispatcher) ScanReady() error {
	if d.scanning.Held() {
		return errors.New("scan in progress")
	}
	if d.cfg.Motion.Held() {
		return errors.New("motion in progress")
	}
	if d.cfg.Detector == nil {
		return errors.New("detection capability unavailable")
	}
	if d.cfg.Link == nil {
		return errors.New("serial not connected")
	}
	return nil
}

// RunScheduledScan executes the same scan path interactive clients
// use, headless, blocking until it finishes. Progress goes to the log
// (and Broadcast) only.
func (d *Dispatcher) RunScheduledScan() {
	resp, done := d.startScan(nil, nil)
	if done == nil {
		log.Println("scheduler: scan not started:", resp)
		return
	}
	<-done
}

// ClientGone treats a client disconnect as an implicit cancellation
// request for a scan that client started. The scan stops at its next
// cell boundary.
func (d *Dispatcher) ClientGone(owner interface{}) {
	d.mx.Lock()
	cancel := d.cancel
	match := owner != nil && d.owner == owner
	d.mx.Unlock()
	if match && cancel != nil {
		log.Println("client disconnected, cancelling its scan")
		cancel()
	}
}

// Scanning reports whether a scan is in flight.
func (d *Dispatcher) Scanning() bool {
	return d.scanning.Held()
}
