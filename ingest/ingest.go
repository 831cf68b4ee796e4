// Package ingest bridges external data sources and sinks into a ttg graph.
// Each subpackage wraps one third-party integration (mirroring
// whitaker-io/machine's components/* Initium/Terminus pattern) behind a
// Poll or Sink function of a fixed shape; Feed is the generic pump that
// turns a Poll into recurring TT deliveries, the way MakeTT's onDeliver
// path needs a concrete key type the per-integration packages themselves
// never have to know about.
package ingest

import (
	"context"
	"time"

	"github.com/ttg-go/ttg"
)

// Poll fetches the next batch of items from an external source. It is the
// pull-shaped analogue of machine.Initium's pushed channel.
type Poll[V any] func(ctx context.Context) ([]V, error)

// Sink delivers a batch of items to an external system, the analogue of
// machine.Terminus. Sinks are called directly from a TT's Body, since the
// body already holds the ctx and the item; no generic pump is needed on
// the egress side.
type Sink[V any] func(ctx context.Context, items []V) error

// Feed calls poll every interval until ctx is done, seeding each returned
// item into tt's slot 0 under the key keyFn derives from it. An error
// from poll is dropped without being logged and the next poll happens at
// the next tick, so a transient failure does not tear down the source.
// Errors from Seed are dropped too.
func Feed[K comparable, V any](ctx context.Context, interval time.Duration, tt *ttg.TT[K], keyFn func(V) K, poll Poll[V]) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			items, err := poll(ctx)
			if err != nil {
				continue
			}
			for _, item := range items {
				_ = tt.Seed(0, keyFn(item), item)
			}
		}
	}
}
