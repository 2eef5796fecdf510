package downloader

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// testKey is a position-like key.
type testKey struct {
	object byte
	seq    uint64
}

func (k testKey) String() string { return fmt.Sprintf("%02x:%d", k.object, k.seq) }

// countingRequester counts fetches and blocks until released.
type countingRequester struct {
	calls   atomic.Int32
	release chan struct{}
	fail    bool
}

func (r *countingRequester) Query(ctx context.Context, key testKey) (string, error) {
	r.calls.Add(1)

	if r.release != nil {
		select {
		case <-r.release:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	if r.fail {
		return "", errors.New("not found")
	}

	return "cert-" + key.String(), nil
}

// TestConcurrentQueriesCoalesce tests that simultaneous queries share one fetch.
func TestConcurrentQueriesCoalesce(t *testing.T) {
	req := &countingRequester{release: make(chan struct{})}
	d := Start[testKey, string](context.Background(), req, nil)
	key := testKey{object: 1, seq: 4}

	var wg sync.WaitGroup
	results := make([]string, 2)
	errs := make([]error, 2)

	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = d.Query(context.Background(), key)
		}(i)
	}

	// Let both queries reach the shared fetch before it completes
	time.Sleep(50 * time.Millisecond)
	close(req.release)
	wg.Wait()

	for i := range results {
		if errs[i] != nil {
			t.Fatalf("query %d: %v", i, errs[i])
		}
		if results[i] != "cert-01:4" {
			t.Errorf("query %d = %q", i, results[i])
		}
	}

	if n := req.calls.Load(); n != 1 {
		t.Errorf("underlying fetches = %d, want 1", n)
	}
}

// TestResultsMemoized tests that later queries hit the cache.
func TestResultsMemoized(t *testing.T) {
	req := &countingRequester{}
	d := Start[testKey, string](context.Background(), req, nil)

	for i := 0; i < 3; i++ {
		if _, err := d.Query(context.Background(), testKey{object: 2}); err != nil {
			t.Fatalf("query: %v", err)
		}
	}

	if _, err := d.Query(context.Background(), testKey{object: 3}); err != nil {
		t.Fatalf("query: %v", err)
	}

	if n := req.calls.Load(); n != 2 {
		t.Errorf("fetches = %d, want 2", n)
	}

	cache := d.Stop()
	if len(cache) != 2 {
		t.Errorf("cache size = %d, want 2", len(cache))
	}
}

// TestKnownEntries tests that pre-populated keys are never fetched.
func TestKnownEntries(t *testing.T) {
	req := &countingRequester{}
	key := testKey{object: 7}
	d := Start(context.Background(), Requester[testKey, string](req), map[testKey]string{key: "known"})

	v, err := d.Query(context.Background(), key)
	if err != nil || v != "known" {
		t.Fatalf("query = %q, %v", v, err)
	}

	if req.calls.Load() != 0 {
		t.Error("known key should not be fetched")
	}
}

// TestFailuresNotCached tests that a failed fetch is retried.
func TestFailuresNotCached(t *testing.T) {
	req := &countingRequester{fail: true}
	d := Start[testKey, string](context.Background(), req, nil)

	for i := 0; i < 2; i++ {
		if _, err := d.Query(context.Background(), testKey{object: 1}); err == nil {
			t.Fatal("expected error")
		}
	}

	if n := req.calls.Load(); n != 2 {
		t.Errorf("fetches = %d, want 2", n)
	}
}

// TestCallerCancel tests that a cancelled caller does not abort the shared fetch.
func TestCallerCancel(t *testing.T) {
	req := &countingRequester{release: make(chan struct{})}
	d := Start[testKey, string](context.Background(), req, nil)
	key := testKey{object: 9}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := d.Query(ctx, key)
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	close(req.release)

	// Stop drains the fetch, which completes and lands in the cache
	cache := d.Stop()
	if cache[key] != "cert-09:0" {
		t.Errorf("cache = %v", cache)
	}
}

// TestQueryAfterStop tests that a stopped session rejects new fetches.
func TestQueryAfterStop(t *testing.T) {
	d := Start[testKey, string](context.Background(), &countingRequester{}, nil)
	d.Stop()

	if _, err := d.Query(context.Background(), testKey{}); !errors.Is(err, ErrStopped) {
		t.Errorf("expected ErrStopped, got %v", err)
	}
}
