// Package vision defines the plant-detection capability and the
// debouncing that turns noisy per-frame detections into clean events.
package vision

// A Detector decides whether a plant is present in a single encoded
// JPEG frame. Implementations are pluggable; the scan only ever sees
// this interface.
type Detector interface {
	Detect(frame []byte) (bool, error)
}

// DetectorFunc adapts a function to the Detector interface.
type DetectorFunc func(frame []byte) (bool, error)

func (f DetectorFunc) Detect(frame []byte) (bool, error) { return f(frame) }
