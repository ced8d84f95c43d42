package watcher

import (
	"context"
	"fmt"
	"time"
)

// poll scans the source every interval and emits the differences. It
// returns when ctx is done or stop is closed.
func poll(ctx context.Context, src source, interval time.Duration, stop <-chan struct{},
	emit func(FileEvent), report func(error)) error {
	prev, err := src.snapshot()
	if err != nil {
		return fmt.Errorf("perform initial scan: %w", err)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		case <-ticker.C:
			curr, err := src.snapshot()
			if err != nil {
				// Non-fatal; keep the previous state and retry next tick
				report(err)
				continue
			}
			for _, e := range diffSnapshots(prev, curr, time.Now()) {
				emit(e)
			}
			prev = curr
		}
	}
}
