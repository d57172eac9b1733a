package tableloader

import (
	"context"
	"sync"

	"github.com/graph-gophers/dataloader/v7"
)

// Thunk returns the result of a registered request, blocking until the batch it was
// folded into has been resolved.
type Thunk[V any] func() (V, error)

func failed[V any](err error) Thunk[V] {
	return func() (V, error) {
		var zero V
		return zero, err
	}
}

// dispatcher collapses keyed requests registered within one batch window into a
// single call of its batch function and, unless uncached, memoizes each key's result
// until cleared.
//
// A request may carry an argument for the batch function. Arguments are held only
// while their key waits for dispatch.
type dispatcher[K comparable, V any] struct {
	loader *dataloader.Loader[K, V]
	cache  dataloader.Cache[K, V]

	mu   sync.Mutex
	args map[K]*pendingArg
}

// pendingArg is the arg of a key with the number of batches still to take it. A key
// is in more than one batch when the cache is cleared while it waits.
type pendingArg struct {
	value   any
	batches int
}

func newDispatcher[K comparable, V any](batchFn dataloader.BatchFunc[K, V], settings *Settings, cached bool) *dispatcher[K, V] {
	d := &dispatcher[K, V]{
		args: make(map[K]*pendingArg),
	}
	if cached {
		d.cache = dataloader.NewCache[K, V]()
	} else {
		d.cache = &dataloader.NoCache[K, V]{}
	}

	opts := []dataloader.Option[K, V]{
		dataloader.WithWait[K, V](settings.Wait),
		dataloader.WithCache[K, V](d.cache),
	}
	if settings.MaxBatch > 0 {
		opts = append(opts, dataloader.WithBatchCapacity[K, V](settings.MaxBatch))
	}
	d.loader = dataloader.NewBatchedLoader(batchFn, opts...)
	return d
}

// load registers key. A cached key is answered from the cache and its arg dropped.
func (d *dispatcher[K, V]) load(ctx context.Context, key K, arg any) Thunk[V] {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.cache.Get(ctx, key); !ok && arg != nil {
		if p, ok := d.args[key]; ok {
			p.batches++
		} else {
			d.args[key] = &pendingArg{value: arg, batches: 1}
		}
	}
	return Thunk[V](d.loader.Load(ctx, key))
}

// take removes and returns the args of keys, aligned with keys. Keys registered
// without an arg yield nil.
func (d *dispatcher[K, V]) take(keys []K) []any {
	d.mu.Lock()
	defer d.mu.Unlock()
	args := make([]any, len(keys))
	for i, key := range keys {
		p, ok := d.args[key]
		if !ok {
			continue
		}
		args[i] = p.value
		if p.batches--; p.batches == 0 {
			delete(d.args, key)
		}
	}
	return args
}

func (d *dispatcher[K, V]) clear() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.loader.ClearAll()
}

// pending returns the number of args waiting for dispatch.
func (d *dispatcher[K, V]) pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.args)
}

func resultsWithError[V any](n int, err error) []*dataloader.Result[V] {
	results := make([]*dataloader.Result[V], n)
	for i := range results {
		results[i] = &dataloader.Result[V]{Error: err}
	}
	return results
}
