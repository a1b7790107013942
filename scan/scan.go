// Package scan runs the boustrophedon plant scan: raster over a grid,
// dwell on each cell watching the camera, water when a debounced
// detection fires.
package scan

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/gardenmech/waterbot/gantry"
	"github.com/gardenmech/waterbot/vision"
)

// A FrameReader hands out the freshest camera frame without blocking.
type FrameReader interface {
	Read() (frame []byte, ok bool)
}

// A Pump runs the water pump for ms milliseconds and blocks until
// done.
type Pump interface {
	Pump(ms int) error
}

// Config describes the scan geometry and timing.
type Config struct {
	Rows, Cols   int
	StepX, StepY float64 // mm between adjacent cells
	Dwell        time.Duration
	WaterMS      int

	// FrameInterval paces the dwell loop; zero means 50ms.
	FrameInterval time.Duration

	// Progress receives human-readable status strings. May be nil.
	// Delivery to any client is the caller's concern.
	Progress func(msg string)
}

// Result reports how a scan ended. Exactly one of normal completion
// (Cancelled false, Err nil), cancellation, or error holds.
type Result struct {
	CellsScanned int
	PlantsFound  int
	Cancelled    bool
	Err          error
}

// Runner executes scans. Moves go through the safety layer only;
// there is no path to raw motion from here.
type Runner struct {
	cfg    Config
	gantry *gantry.Safety
	frames FrameReader
	det    vision.Detector
	pump   Pump
}

func New(cfg Config, g *gantry.Safety, frames FrameReader, det vision.Detector, pump Pump) *Runner {
	if cfg.FrameInterval <= 0 {
		cfg.FrameInterval = 50 * time.Millisecond
	}
	return &Runner{cfg: cfg, gantry: g, frames: frames, det: det, pump: pump}
}

func (r *Runner) report(format string, args ...interface{}) {
	if r.cfg.Progress != nil {
		r.cfg.Progress(fmt.Sprintf(format, args...))
	}
}

// Run executes the full raster scan. The first cell needs no move;
// within a row each cell is one X step, a row change is one Y step.
// Cancellation is observed at row and cell starts only, so an
// in-flight move always completes first.
func (r *Runner) Run(ctx context.Context) Result {
	var res Result
	total := r.cfg.Rows * r.cfg.Cols

	r.report("[SCAN] Starting raster scan: %dx%d grid", r.cfg.Cols, r.cfg.Rows)

	for row := 0; row < r.cfg.Rows; row++ {
		if ctx.Err() != nil {
			res.Cancelled = true
			break
		}

		xStep := r.cfg.StepX
		if row%2 == 1 {
			xStep = -r.cfg.StepX
		}

		for ci := 0; ci < r.cfg.Cols; ci++ {
			if ctx.Err() != nil {
				res.Cancelled = true
				break
			}

			col := ci
			if row%2 == 1 {
				col = r.cfg.Cols - 1 - ci
			}

			if !(row == 0 && ci == 0) {
				var err error
				if ci > 0 {
					_, err = r.gantry.Move(xStep, 0)
				} else {
					_, err = r.gantry.Move(0, r.cfg.StepY)
				}
				if err != nil {
					res.Err = errors.Wrapf(err, "move to cell (%d,%d)", row, col)
					r.report("[SCAN] Error: %v", res.Err)
					return res
				}
			}

			res.CellsScanned++
			r.report("[SCAN] Checking cell (%d,%d) [%d/%d]", row, col, res.CellsScanned, total)

			if r.dwell() {
				res.PlantsFound++
				r.report("[SCAN] Plant found at (%d,%d) - watering %dms", row, col, r.cfg.WaterMS)
				if err := r.pump.Pump(r.cfg.WaterMS); err != nil {
					res.Err = errors.Wrapf(err, "water cell (%d,%d)", row, col)
					r.report("[SCAN] Error: %v", res.Err)
					return res
				}
				// let drips settle before moving off the plant
				time.Sleep(200 * time.Millisecond)
			}
		}

		if res.Cancelled {
			break
		}
	}

	if res.Cancelled {
		r.report("[SCAN] Cancelled by user")
	} else {
		r.report("[SCAN] Finished - watered %d out of %d cells", res.PlantsFound, res.CellsScanned)
	}
	return res
}

// dwell watches the camera for the configured duration with a fresh
// debouncer; the debounce state never carries across cells. Frame and
// detector failures are transient misses, not fatal.
func (r *Runner) dwell() bool {
	deb := vision.NewDebouncer()
	deadline := time.Now().Add(r.cfg.Dwell)
	tick := time.NewTicker(r.cfg.FrameInterval)
	defer tick.Stop()

	for time.Now().Before(deadline) {
		frame, ok := r.frames.Read()
		if ok {
			present, err := r.det.Detect(frame)
			if err == nil && deb.Observe(present) {
				return true
			}
		}
		<-tick.C
	}
	return false
}
