// Package sweeper releases pending reservations whose checkout window passed,
// so abandoned checkouts cannot starve stock.
package sweeper

import (
	"context"
	"log"
	"time"

	"github.com/fjod/go_stock/internal/store"
)

// DefaultInterval is how often the sweep runs
const DefaultInterval = 30 * time.Second

type Sweeper struct {
	store    store.InventoryStore
	interval time.Duration
}

func NewSweeper(inventoryStore store.InventoryStore, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Sweeper{store: inventoryStore, interval: interval}
}

// Run sweeps until the context is cancelled. The sweep is advisory: a failed
// pass is logged and retried on the next tick, never fatal. A commit racing
// the sweep is decided by the store's row locks.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	released, err := s.store.ReleaseExpired(ctx, time.Now())
	if err != nil {
		log.Printf("sweep failed: %v", err)
		return
	}
	if released > 0 {
		log.Printf("sweep released %d expired reservations", released)
	}
}
