// Package busy provides the exclusive operation flags. A flag is held
// by at most one in-flight operation; contenders observe busy and
// must retry later — there is deliberately no queue.
package busy

import "sync/atomic"

type Flag struct {
	v atomic.Bool
}

// TryAcquire takes the flag if it is free.
func (f *Flag) TryAcquire() bool {
	return f.v.CompareAndSwap(false, true)
}

// Release frees the flag.
func (f *Flag) Release() {
	f.v.Store(false)
}

// Held reports whether the flag is currently taken.
func (f *Flag) Held() bool {
	return f.v.Load()
}
