package sync

import (
	gosync "sync"
	"time"
)

// Scheduler runs fn once immediately and then every interval until the
// returned stop function is called. Calls never overlap: a slow call
// delays the next one.
type Scheduler interface {
	Every(interval time.Duration, fn func()) (stop func())
}

// TickerScheduler is the wall-clock Scheduler.
type TickerScheduler struct{}

// Every implements Scheduler with a time.Ticker. Ticks that arrive
// while fn is running are dropped.
func (TickerScheduler) Every(interval time.Duration, fn func()) func() {
	stopCh := make(chan struct{})
	var once gosync.Once

	go func() {
		// Do an initial run immediately
		fn()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-stopCh:
				return
			case <-ticker.C:
				select {
				case <-stopCh:
					return
				default:
				}
				fn()
			}
		}
	}()

	return func() {
		once.Do(func() { close(stopCh) })
	}
}
