package cache

import (
	"context"
	"log/slog"

	"voicebridge/internal/domain"
	"voicebridge/internal/metrics"

	"golang.org/x/sync/singleflight"
)

// ComputeFunc produces the value for a cache miss.
type ComputeFunc func(ctx context.Context) (string, error)

// Resolver wraps a ResultCache with the lookup-else-compute contract:
// look up first, call compute on a miss, store the result before returning
// it. Concurrent misses on the same key inside this process share one
// compute call.
type Resolver struct {
	store  domain.ResultCache
	group  singleflight.Group
	logger *slog.Logger
}

func NewResolver(store domain.ResultCache, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{store: store, logger: logger}
}

type computed struct {
	text   string
	cached bool
}

// GetOrCompute returns the cached text for key or the result of compute.
// cached reports whether the text came from the store. Lookup and store
// failures are logged and never fail the call.
//
// The shared compute is not cancelled by any caller; each caller stops
// waiting when its own ctx is done. compute must bound itself (the service
// clients apply their own timeouts).
func (r *Resolver) GetOrCompute(ctx context.Context, key domain.CacheKey, compute ComputeFunc) (text string, cached bool, err error) {
	shared := context.WithoutCancel(ctx)
	ch := r.group.DoChan(key.String(), func() (any, error) {
		ctx := shared
		rec, found, lerr := r.store.Lookup(ctx, key)
		if lerr != nil {
			r.logger.Warn("cache lookup failed, treating as miss", "key", key.String(), "err", lerr)
		}
		if found {
			metrics.CacheHits.Inc()
			return computed{text: rec.Text, cached: true}, nil
		}
		metrics.CacheMisses.Inc()

		out, cerr := compute(ctx)
		if cerr != nil {
			return nil, cerr
		}

		if serr := r.store.Store(ctx, key, out); serr != nil {
			r.logger.Warn("cache store failed", "key", key.String(), "err", serr)
		}
		return computed{text: out}, nil
	})

	select {
	case <-ctx.Done():
		return "", false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", false, res.Err
		}
		c := res.Val.(computed)
		return c.text, c.cached, nil
	}
}
