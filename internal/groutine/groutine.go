// Package groutine starts named goroutines. The name rides along as a
// pprof label, so goroutine dumps of the dispatch and pump loops show
// which subscription or device they serve.
package groutine

import (
	"context"
	"runtime/pprof"
)

type ctxKey string

const goroutineNameKey ctxKey = "goroutine_name"

// Go starts a goroutine named for pprof and for GetName.
//
//	groutine.Go(ctx, "subscription-"+id, func(ctx context.Context) {
//	    // pump loop
//	})
//
// A nil parentCtx is treated as context.Background().
func Go(parentCtx context.Context, name string, fn func(ctx context.Context)) {
	if parentCtx == nil {
		parentCtx = context.Background()
	}

	labels := pprof.Labels("goroutine_name", name)

	go pprof.Do(parentCtx, labels, func(ctx context.Context) {
		ctx = context.WithValue(ctx, goroutineNameKey, name)
		fn(ctx)
	})
}

// GetName retrieves the goroutine name from the context, "" when the
// goroutine was not started through Go.
func GetName(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v := ctx.Value(goroutineNameKey); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
