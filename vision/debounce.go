package vision

import "time"

const (
	// OnHits is how many consecutive detections confirm a plant.
	OnHits = 3
	// OffMisses is how many consecutive misses clear a confirmed plant.
	OffMisses = 6
	// Cooldown is the minimum gap between two trigger events.
	Cooldown = 1500 * time.Millisecond
)

// Debouncer converts noisy per-frame detections into a single
// "new plant" edge event per stable off-to-on transition.
//
// The on-to-off transition is silent; it only re-arms the trigger.
type Debouncer struct {
	on          bool
	hits        int
	misses      int
	lastTrigger time.Time

	now func() time.Time
}

func NewDebouncer() *Debouncer {
	return &Debouncer{now: time.Now}
}

// Observe feeds one frame's detection result and reports whether this
// observation confirmed a new plant.
func (d *Debouncer) Observe(present bool) bool {
	if present {
		d.hits++
		d.misses = 0
	} else {
		d.misses++
		d.hits = 0
	}

	if !d.on && d.hits >= OnHits {
		now := d.now()
		if now.Sub(d.lastTrigger) >= Cooldown {
			d.on = true
			d.lastTrigger = now
			return true
		}
	}

	if d.on && d.misses >= OffMisses {
		d.on = false
	}

	return false
}

// On reports the current debounced state.
func (d *Debouncer) On() bool { return d.on }
