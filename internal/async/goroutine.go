// Package async runs background work with panic recovery.
package async

import (
	"context"
	"runtime/debug"
	"time"

	"devconsole/internal/logging"
)

// Go runs fn in a goroutine guarded by panic recovery.
func Go(logger logging.Logger, name string, fn func()) {
	go func() {
		defer Recover(logger, name)
		fn()
	}()
}

// Every runs fn every interval until ctx is done. A panic in one run is
// logged and does not stop later runs.
func Every(ctx context.Context, logger logging.Logger, name string, interval time.Duration, fn func(context.Context)) {
	if interval <= 0 {
		return
	}
	Go(logger, name, func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				runOnce(ctx, logger, name, fn)
			}
		}
	})
}

func runOnce(ctx context.Context, logger logging.Logger, name string, fn func(context.Context)) {
	defer Recover(logger, name)
	fn(ctx)
}

// Recover logs panic details without crashing the process.
func Recover(logger logging.Logger, name string) {
	if r := recover(); r != nil {
		if logging.IsNil(logger) {
			return
		}
		if name == "" {
			logger.Error("goroutine panic: %v, stack: %s", r, debug.Stack())
			return
		}
		logger.Error("goroutine panic [%s]: %v, stack: %s", name, r, debug.Stack())
	}
}
