package quorum

import (
	"context"
	"sort"
	"time"

	"Certifier/internal/committee"
	"Certifier/internal/logger"
	"Certifier/internal/messages"
)

// reduceAction tells the engine what to do after folding one result.
type reduceAction uint8

const (
	actionContinue reduceAction = iota
	actionContinueWithTimeout
	actionEnd
)

// ReduceOutput is the reducer's decision along with the new state.
type ReduceOutput[S any] struct {
	action  reduceAction  // action selects continue, continue with timeout, or end
	state   S             // state is the folded state
	timeout time.Duration // timeout replaces the wait for the next result
}

// Continue keeps waiting with the current timeout.
func Continue[S any](state S) ReduceOutput[S] {
	return ReduceOutput[S]{action: actionContinue, state: state}
}

// ContinueWithTimeout keeps waiting, at most d for each further result.
func ContinueWithTimeout[S any](state S, d time.Duration) ReduceOutput[S] {
	return ReduceOutput[S]{action: actionContinueWithTimeout, state: state, timeout: d}
}

// End stops the round and returns state.
func End[S any](state S) ReduceOutput[S] {
	return ReduceOutput[S]{action: actionEnd, state: state}
}

// MapFunc runs against one authority.
type MapFunc[V any] func(ctx context.Context, name committee.AuthorityName, client AuthorityClient) (V, error)

// ReduceFunc folds one authority's result into the state. A returned error
// aborts the round.
type ReduceFunc[S, V any] func(state S, name committee.AuthorityName, weight uint64, value V, err error) (ReduceOutput[S], error)

// mapResult is one authority's answer.
type mapResult[V any] struct {
	name  committee.AuthorityName
	value V
	err   error
}

// QuorumMapThenReduce dispatches mapFn to every authority concurrently and
// folds the results in arrival order. The round ends when the reducer says
// End, when it returns an error, when every authority answered, or when the
// current timeout elapses with no further answer. Every map call runs under
// the round timeout and is cancelled when the round ends.
func QuorumMapThenReduce[S, V any](
	ctx context.Context,
	agg *Aggregator,
	initial S,
	mapFn MapFunc[V],
	reduceFn ReduceFunc[S, V],
	initialTimeout time.Duration,
) (S, error) {
	roundCtx, cancel := context.WithTimeout(ctx, agg.config.RoundTimeout)
	defer cancel()

	names := agg.committee.Names()
	results := make(chan mapResult[V], len(names))

	for _, name := range names {
		go func(name committee.AuthorityName, client AuthorityClient) {
			v, err := mapFn(roundCtx, name, client)
			results <- mapResult[V]{name: name, value: v, err: err}
		}(name, agg.clients[name])
	}

	state := initial
	timeout := initialTimeout
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for pending := len(names); pending > 0; pending-- {
		select {
		case r := <-results:
			out, err := reduceFn(state, r.name, agg.committee.Weight(r.name), r.value, r.err)
			if err != nil {
				return state, err
			}

			state = out.state

			switch out.action {
			case actionEnd:
				return state, nil
			case actionContinueWithTimeout:
				timeout = out.timeout
			}

			timer.Reset(timeout)

		case <-timer.C:
			logger.Debug("quorum round timed out", "pending", pending, "timeout", timeout)
			return state, nil

		case <-ctx.Done():
			return state, ctx.Err()
		}
	}

	return state, nil
}

// errorTally accumulates the weight behind each distinct error message.
type errorTally struct {
	byMessage map[string]*messages.WeightedError
}

func newErrorTally() *errorTally {
	return &errorTally{byMessage: make(map[string]*messages.WeightedError)}
}

// add records err with weight and returns the weight now behind its message.
func (t *errorTally) add(err error, weight uint64) uint64 {
	key := err.Error()

	we, ok := t.byMessage[key]
	if !ok {
		we = &messages.WeightedError{Err: err}
		t.byMessage[key] = we
	}

	we.Weight += weight

	return we.Weight
}

// failure builds the round's QuorumNotReachedError.
func (t *errorTally) failure(good uint64) *messages.QuorumNotReachedError {
	errs := make([]messages.WeightedError, 0, len(t.byMessage))
	for _, we := range t.byMessage {
		errs = append(errs, *we)
	}

	// Stable order before the heaviest-first sort
	sort.Slice(errs, func(i, j int) bool { return errs[i].Err.Error() < errs[j].Err.Error() })

	return messages.NewQuorumNotReached(good, errs)
}

// communicateState is the fold state of CommunicateWithQuorum.
type communicateState[V any] struct {
	values []V
	weight uint64
	errors *errorTally
}

// CommunicateWithQuorum runs op against the committee until a quorum of
// stake succeeded. Any single error backed by validity weight fails the round
// early, since a quorum can then no longer agree.
func CommunicateWithQuorum[V any](ctx context.Context, agg *Aggregator, op MapFunc[V]) ([]V, error) {
	quorum := agg.committee.QuorumThreshold()
	validity := agg.committee.ValidityThreshold()

	initial := communicateState[V]{errors: newErrorTally()}

	final, err := QuorumMapThenReduce(ctx, agg, initial, op,
		func(s communicateState[V], name committee.AuthorityName, weight uint64, v V, err error) (ReduceOutput[communicateState[V]], error) {
			if err != nil {
				agg.metrics.authorityError(err)
				logger.Debug("authority call failed", "authority", name.Short(), "error", err)

				if s.errors.add(err, weight) >= validity {
					return ReduceOutput[communicateState[V]]{}, s.errors.failure(s.weight)
				}

				return Continue(s), nil
			}

			s.values = append(s.values, v)
			s.weight += weight

			if s.weight >= quorum {
				return End(s), nil
			}

			return Continue(s), nil
		}, agg.config.RoundTimeout)
	if err != nil {
		return nil, err
	}

	if final.weight < quorum {
		return nil, final.errors.failure(final.weight)
	}

	return final.values, nil
}

// BroadcastAndExecute brings every authority up to date with certs, then runs
// action against it. An authority whose replay fails counts as failed.
func BroadcastAndExecute[V any](ctx context.Context, agg *Aggregator, certs []*messages.Certificate, action MapFunc[V]) ([]V, error) {
	return CommunicateWithQuorum(ctx, agg, func(ctx context.Context, name committee.AuthorityName, client AuthorityClient) (V, error) {
		var zero V

		for _, cert := range certs {
			if _, err := client.HandleConfirmationOrder(ctx, &messages.ConfirmationOrder{Certificate: cert}); err != nil {
				return zero, err
			}
		}

		return action(ctx, name, client)
	})
}
