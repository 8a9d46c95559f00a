package utils

import (
	"sync"
	"time"
)

// Debounce returns a function that delays fn until wait has passed since the
// last call. Every call cancels the pending one, so only the last arguments win.
func Debounce[T any](fn func(T), wait time.Duration) func(T) {
	var (
		mu    sync.Mutex
		timer *time.Timer
		gen   uint64
	)

	return func(arg T) {
		mu.Lock()
		defer mu.Unlock()

		if timer != nil {
			timer.Stop()
		}
		gen++
		scheduled := gen

		timer = time.AfterFunc(wait, func() {
			mu.Lock()
			stale := scheduled != gen
			mu.Unlock()
			// таймер мог сработать до Stop
			if stale {
				return
			}
			fn(arg)
		})
	}
}
