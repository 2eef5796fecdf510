package quorum

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"Certifier/internal/committee"
	"Certifier/internal/messages"
)

// countReducer ends the round after limit successes.
func countReducer(limit int) ReduceFunc[int, int] {
	return func(s int, _ committee.AuthorityName, _ uint64, _ int, err error) (ReduceOutput[int], error) {
		if err != nil {
			return Continue(s), nil
		}

		s++
		if s >= limit {
			return End(s), nil
		}

		return Continue(s), nil
	}
}

// TestMapReduceEndsEarly tests that End returns before slow authorities
// answer and that their calls are cancelled.
func TestMapReduceEndsEarly(t *testing.T) {
	agg, names := newFakeAggregator(t, 1, 1, 1, 1)
	var cancelled atomic.Int32

	start := time.Now()

	state, err := QuorumMapThenReduce(context.Background(), agg, 0,
		func(ctx context.Context, name committee.AuthorityName, _ AuthorityClient) (int, error) {
			if indexOf(names, name) < 2 {
				return 1, nil
			}

			<-ctx.Done()
			cancelled.Add(1)

			return 0, ctx.Err()
		}, countReducer(2), time.Second)
	if err != nil {
		t.Fatalf("round: %v", err)
	}

	if state != 2 {
		t.Errorf("state = %d, want 2", state)
	}

	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("round took %v, should end on the second answer", elapsed)
	}

	waitFor(t, time.Second, func() bool { return cancelled.Load() == 2 })
}

// TestMapReduceTimeout tests that an idle round returns the accumulated state.
func TestMapReduceTimeout(t *testing.T) {
	agg, names := newFakeAggregator(t, 1, 1, 1, 1)
	start := time.Now()

	state, err := QuorumMapThenReduce(context.Background(), agg, 0,
		func(ctx context.Context, name committee.AuthorityName, _ AuthorityClient) (int, error) {
			if indexOf(names, name) == 0 {
				return 1, nil
			}

			<-ctx.Done()
			return 0, ctx.Err()
		}, countReducer(4), 50*time.Millisecond)
	if err != nil {
		t.Fatalf("round: %v", err)
	}

	if state != 1 {
		t.Errorf("state = %d, want 1", state)
	}

	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("round took %v, want about 50ms", elapsed)
	}
}

// TestMapReduceContinueWithTimeout tests that the reducer can shorten the wait.
func TestMapReduceContinueWithTimeout(t *testing.T) {
	agg, names := newFakeAggregator(t, 1, 1, 1, 1)
	start := time.Now()

	state, err := QuorumMapThenReduce(context.Background(), agg, 0,
		func(ctx context.Context, name committee.AuthorityName, _ AuthorityClient) (int, error) {
			if indexOf(names, name) < 3 {
				return 1, nil
			}

			<-ctx.Done()
			return 0, ctx.Err()
		},
		func(s int, _ committee.AuthorityName, _ uint64, v int, err error) (ReduceOutput[int], error) {
			s += v
			if s >= 3 {
				return ContinueWithTimeout(s, 20*time.Millisecond), nil
			}

			return Continue(s), nil
		}, 10*time.Second)
	if err != nil {
		t.Fatalf("round: %v", err)
	}

	if state != 3 {
		t.Errorf("state = %d, want 3", state)
	}

	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("round took %v, the shortened timeout was ignored", elapsed)
	}
}

// TestMapReduceAllAnswered tests that the round ends once every authority answered.
func TestMapReduceAllAnswered(t *testing.T) {
	agg, _ := newFakeAggregator(t, 1, 2, 3)

	state, err := QuorumMapThenReduce(context.Background(), agg, uint64(0),
		func(context.Context, committee.AuthorityName, AuthorityClient) (int, error) {
			return 0, nil
		},
		func(s uint64, _ committee.AuthorityName, weight uint64, _ int, _ error) (ReduceOutput[uint64], error) {
			return Continue(s + weight), nil
		}, 10*time.Second)
	if err != nil {
		t.Fatalf("round: %v", err)
	}

	if state != 6 {
		t.Errorf("folded weight = %d, want 6", state)
	}
}

// TestMapReduceReducerError tests that a reducer error aborts the round.
func TestMapReduceReducerError(t *testing.T) {
	agg, _ := newFakeAggregator(t, 1, 1, 1, 1)
	fatal := errors.New("fatal")

	_, err := QuorumMapThenReduce(context.Background(), agg, 0,
		func(context.Context, committee.AuthorityName, AuthorityClient) (int, error) {
			return 1, nil
		},
		func(int, committee.AuthorityName, uint64, int, error) (ReduceOutput[int], error) {
			return ReduceOutput[int]{}, fatal
		}, time.Second)

	if !errors.Is(err, fatal) {
		t.Errorf("expected reducer error, got %v", err)
	}
}

// TestMapReduceParentCancel tests that cancelling the caller ends the round.
func TestMapReduceParentCancel(t *testing.T) {
	agg, _ := newFakeAggregator(t, 1, 1, 1, 1)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	_, err := QuorumMapThenReduce(ctx, agg, 0,
		func(ctx context.Context, _ committee.AuthorityName, _ AuthorityClient) (int, error) {
			<-ctx.Done()
			return 0, ctx.Err()
		}, countReducer(4), 10*time.Second)

	// Cancelled calls may be folded before the engine sees the parent
	if err != nil && !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

// TestCommunicateQuorum tests that a quorum of successes ends the round.
func TestCommunicateQuorum(t *testing.T) {
	agg, names := newFakeAggregator(t, 1, 1, 1, 1)

	values, err := CommunicateWithQuorum(context.Background(), agg,
		func(ctx context.Context, name committee.AuthorityName, _ AuthorityClient) (int, error) {
			i := indexOf(names, name)
			if i == 3 {
				<-ctx.Done()
				return 0, ctx.Err()
			}

			return i, nil
		})
	if err != nil {
		t.Fatalf("communicate: %v", err)
	}

	if len(values) != 3 {
		t.Errorf("values = %v, want 3 of them", values)
	}
}

// TestCommunicateFailFast tests that one error backed by validity weight
// ends the round without waiting for the rest.
func TestCommunicateFailFast(t *testing.T) {
	agg, names := newFakeAggregator(t, 1, 1, 1, 1)
	start := time.Now()

	_, err := CommunicateWithQuorum(context.Background(), agg,
		func(ctx context.Context, name committee.AuthorityName, _ AuthorityClient) (int, error) {
			if indexOf(names, name) < 2 {
				return 0, messages.ErrConflictingOrder
			}

			<-ctx.Done()
			return 0, ctx.Err()
		})

	var qnr *messages.QuorumNotReachedError
	if !errors.As(err, &qnr) {
		t.Fatalf("expected QuorumNotReachedError, got %v", err)
	}

	if !errors.Is(err, messages.ErrQuorumNotReached) || !errors.Is(err, messages.ErrConflictingOrder) {
		t.Errorf("error should match both the round failure and its cause: %v", err)
	}

	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("round took %v, should fail fast", elapsed)
	}
}

// TestCommunicateDistinctErrors tests that distinct errors are not merged.
func TestCommunicateDistinctErrors(t *testing.T) {
	agg, names := newFakeAggregator(t, 1, 1, 1, 1)

	_, err := CommunicateWithQuorum(context.Background(), agg,
		func(_ context.Context, name committee.AuthorityName, _ AuthorityClient) (int, error) {
			return 0, fmt.Errorf("failure %d", indexOf(names, name))
		})

	var qnr *messages.QuorumNotReachedError
	if !errors.As(err, &qnr) {
		t.Fatalf("expected QuorumNotReachedError, got %v", err)
	}

	if len(qnr.Errors) != 4 {
		t.Errorf("errors = %d, want 4 distinct", len(qnr.Errors))
	}

	if qnr.Weight != 0 {
		t.Errorf("success weight = %d, want 0", qnr.Weight)
	}
}

// TestCommunicateWeightedFailFast tests fail-fast with unequal stake.
func TestCommunicateWeightedFailFast(t *testing.T) {
	// Total 10: quorum 7, validity 4
	agg, names := newFakeAggregator(t, 4, 2, 2, 2)

	_, err := CommunicateWithQuorum(context.Background(), agg,
		func(ctx context.Context, name committee.AuthorityName, _ AuthorityClient) (int, error) {
			if indexOf(names, name) == 0 {
				return 0, messages.ErrObjectNotFound
			}

			<-ctx.Done()
			return 0, ctx.Err()
		})

	if !errors.Is(err, messages.ErrObjectNotFound) {
		t.Errorf("expected fail-fast on the heavy authority's error, got %v", err)
	}
}
