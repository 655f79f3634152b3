// Package sweep removes expired entries from the KV store in the background.
package sweep

import (
	"context"
	"time"

	"github.com/hay-kot/pagewatch/internal/core/logging"
)

// Sweeper deletes expired rows and reports how many were removed.
type Sweeper interface {
	SweepExpired(ctx context.Context) (int64, error)
}

// Start sweeps s every interval. It blocks until the context is cancelled.
func Start(ctx context.Context, s Sweeper, interval time.Duration) {
	log := logging.Component("sweep")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.SweepExpired(ctx)
			if err != nil {
				log.Debug().Err(err).Msg("kv sweep failed")
				continue
			}
			if n > 0 {
				log.Debug().Int64("removed", n).Msg("kv sweep")
			}
		}
	}
}
