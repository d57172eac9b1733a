package tableloader

import (
	"context"

	"golang.org/x/exp/slices"
)

// notify calls fn with ids on a new goroutine. The call outlives ctx's cancellation
// but keeps its values.
func (l *Loader) notify(ctx context.Context, fn func(context.Context, []ID), ids []ID) {
	if fn == nil || len(ids) == 0 {
		return
	}
	ids = slices.Clone(ids)
	ctx = context.WithoutCancel(ctx)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				l.logger.WithField("panic", r).Error("notification callback panicked")
			}
		}()
		fn(ctx, ids)
	}()
}
