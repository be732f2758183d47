package dispatch

import (
	"context"
	"log"
	"time"
)

// SyncLoop runs fn once per interval until the context is cancelled. The
// first run happens after one full interval, giving the rest of the
// process time to come up. A failing or panicking iteration is logged and
// the loop keeps ticking: the next interval gets a fresh chance.
func SyncLoop(ctx context.Context, interval time.Duration, fn func(context.Context) error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runIteration(ctx, fn)
		}
	}
}

func runIteration(ctx context.Context, fn func(context.Context) error) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Error: sync iteration panicked: %v", r)
		}
	}()
	if err := fn(ctx); err != nil {
		log.Printf("Error: sync iteration failed: %v", err)
	}
}
