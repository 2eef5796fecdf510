// Package downloader memoizes fetches for the lifetime of a sync session.
// Concurrent queries for one key share a single underlying fetch.
package downloader

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/singleflight"
)

// ErrStopped is returned by queries issued after Stop.
var ErrStopped = errors.New("downloader stopped")

// Key identifies a download. String must be unique per key.
type Key interface {
	comparable
	String() string
}

// Requester performs one fetch.
type Requester[K Key, V any] interface {
	Query(ctx context.Context, key K) (V, error)
}

// RequesterFunc adapts a function to Requester.
type RequesterFunc[K Key, V any] func(ctx context.Context, key K) (V, error)

// Query calls f.
func (f RequesterFunc[K, V]) Query(ctx context.Context, key K) (V, error) {
	return f(ctx, key)
}

// Downloader is a shareable, session-scoped download cache.
type Downloader[K Key, V any] struct {
	requester Requester[K, V]    // requester performs the fetches
	group     singleflight.Group // group coalesces concurrent fetches of one key

	ctx    context.Context    // ctx bounds every fetch of the session
	cancel context.CancelFunc // cancel ends the session

	mu      sync.Mutex // mu protects cache and stopped
	cache   map[K]V    // cache holds successful results
	stopped bool       // stopped rejects new fetches
	wg      sync.WaitGroup
}

// Start opens a session. known pre-populates the cache.
func Start[K Key, V any](ctx context.Context, requester Requester[K, V], known map[K]V) *Downloader[K, V] {
	sessionCtx, cancel := context.WithCancel(ctx)

	cache := make(map[K]V, len(known))
	for k, v := range known {
		cache[k] = v
	}

	return &Downloader[K, V]{
		requester: requester,
		ctx:       sessionCtx,
		cancel:    cancel,
		cache:     cache,
	}
}

// Query returns the cached value for key, fetching it on first use.
// Failed fetches are not cached. Cancelling ctx abandons the wait but not a
// fetch other callers may share.
func (d *Downloader[K, V]) Query(ctx context.Context, key K) (V, error) {
	var zero V

	d.mu.Lock()
	if v, ok := d.cache[key]; ok {
		d.mu.Unlock()
		return v, nil
	}
	stopped := d.stopped
	d.mu.Unlock()

	if stopped {
		return zero, ErrStopped
	}

	ch := d.group.DoChan(key.String(), func() (any, error) {
		return d.fetch(key)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}

		return res.Val.(V), nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// fetch runs one request under the session context and caches the result.
func (d *Downloader[K, V]) fetch(key K) (any, error) {
	d.mu.Lock()
	if v, ok := d.cache[key]; ok {
		d.mu.Unlock()
		return v, nil
	}

	if d.stopped {
		d.mu.Unlock()
		return nil, ErrStopped
	}

	d.wg.Add(1)
	d.mu.Unlock()
	defer d.wg.Done()

	v, err := d.requester.Query(d.ctx, key)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	d.cache[key] = v
	d.mu.Unlock()

	return v, nil
}

// Stop waits for in-flight fetches, ends the session and returns the cache.
func (d *Downloader[K, V]) Stop() map[K]V {
	d.mu.Lock()
	d.stopped = true
	d.mu.Unlock()

	d.wg.Wait()
	d.cancel()

	d.mu.Lock()
	defer d.mu.Unlock()

	out := make(map[K]V, len(d.cache))
	for k, v := range d.cache {
		out[k] = v
	}

	return out
}
