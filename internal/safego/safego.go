// Package safego launches fire-and-forget goroutines with panic isolation.
package safego

import "log/slog"

// Go runs fn in a new goroutine, recovering and logging any panic instead of
// letting it kill the process. Use it for async side work (shipping records,
// background jobs) where an unrecovered panic would otherwise silently end
// the goroutine forever.
func Go(fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("recovered panic in background goroutine", "panic", r)
			}
		}()
		fn()
	}()
}
