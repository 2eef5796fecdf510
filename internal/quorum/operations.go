package quorum

import (
	"context"
	"errors"
	"fmt"
	"time"

	"Certifier/internal/committee"
	"Certifier/internal/logger"
	"Certifier/internal/messages"
)

// SubmitAndCertify collects votes on order from a quorum of authorities and
// aggregates them into a certificate.
func (a *Aggregator) SubmitAndCertify(ctx context.Context, order *messages.Order) (*messages.Certificate, error) {
	start := time.Now()
	digest := order.Digest()

	signatures, err := messages.NewSignatureAggregator(order, a.committee)
	if err != nil {
		return nil, fmt.Errorf("certify %s:\n%w", digest, err)
	}

	votes, err := CommunicateWithQuorum(ctx, a, func(ctx context.Context, name committee.AuthorityName, client AuthorityClient) (*messages.SignedOrder, error) {
		resp, err := client.HandleOrder(ctx, order)
		if err != nil {
			return nil, err
		}

		return a.checkVote(resp, name, digest)
	})

	a.finishRound("certify", start, err)

	if err != nil {
		return nil, fmt.Errorf("certify %s:\n%w", digest, err)
	}

	for _, vote := range votes {
		cert, err := signatures.Append(vote.Authority, vote.Signature)
		if err != nil {
			return nil, fmt.Errorf("certify %s:\n%w", digest, err)
		}

		if cert != nil {
			logger.Debug("order certified", "order", digest, "weight", signatures.Weight(), logger.Timed(start))
			return cert, nil
		}
	}

	return nil, fmt.Errorf("certify %s:\n%w", digest, messages.NewQuorumNotReached(signatures.Weight(), nil))
}

// checkVote verifies the vote name returned for the order with digest.
func (a *Aggregator) checkVote(resp *messages.OrderInfoResponse, name committee.AuthorityName, digest messages.TransactionDigest) (*messages.SignedOrder, error) {
	if resp == nil || resp.SignedOrder == nil || resp.SignedOrder.Order == nil {
		return nil, fmt.Errorf("vote from %s:\n%w", name.Short(), messages.ErrAuthorityInformationUnavailable)
	}

	vote := resp.SignedOrder
	if vote.Authority != name || vote.Order.Digest() != digest {
		return nil, fmt.Errorf("vote from %s: vote for another order or signer:\n%w", name.Short(), messages.ErrByzantineAuthority)
	}

	if _, err := vote.Check(a.committee); err != nil {
		return nil, fmt.Errorf("vote from %s: %w:\n%w", name.Short(), messages.ErrByzantineAuthority, err)
	}

	return vote, nil
}

// confirmState is the fold state of BroadcastConfirmation.
type confirmState struct {
	responses []*messages.OrderInfoResponse
	weight    uint64
	errors    *errorTally
}

// BroadcastConfirmation sends cert to every authority. Authorities missing
// dependencies are synced and retried. It returns once a quorum confirmed,
// after giving stragglers up to PostQuorumTimeout.
func (a *Aggregator) BroadcastConfirmation(ctx context.Context, cert *messages.Certificate) ([]*messages.OrderInfoResponse, error) {
	start := time.Now()
	digest := cert.Digest()

	if err := cert.Check(a.committee); err != nil {
		return nil, fmt.Errorf("confirm %s:\n%w", digest, err)
	}

	quorum := a.committee.QuorumThreshold()
	validity := a.committee.ValidityThreshold()
	conf := &messages.ConfirmationOrder{Certificate: cert}

	confirm := func(ctx context.Context, name committee.AuthorityName, client AuthorityClient) (*messages.OrderInfoResponse, error) {
		resp, err := client.HandleConfirmationOrder(ctx, conf)

		if errors.Is(err, messages.ErrMissingDependency) {
			logger.Debug("authority behind, syncing", "authority", name.Short(), "certificate", digest)

			if err := a.SyncCertificateToAuthorityWithTimeout(ctx, cert, name, a.config.SyncAttemptTimeout, a.config.SyncRetries); err != nil {
				return nil, err
			}

			resp, err = client.HandleConfirmationOrder(ctx, conf)
		}

		if err != nil {
			return nil, err
		}

		if _, err := a.checkEffects(resp, name, digest); err != nil {
			return nil, err
		}

		return resp, nil
	}

	initial := confirmState{errors: newErrorTally()}

	final, err := QuorumMapThenReduce(ctx, a, initial, confirm,
		func(s confirmState, name committee.AuthorityName, weight uint64, resp *messages.OrderInfoResponse, err error) (ReduceOutput[confirmState], error) {
			if err != nil {
				a.metrics.authorityError(err)
				logger.Debug("confirmation failed", "authority", name.Short(), "error", err)

				if s.errors.add(err, weight) >= validity {
					return ReduceOutput[confirmState]{}, s.errors.failure(s.weight)
				}

				return Continue(s), nil
			}

			s.responses = append(s.responses, resp)
			s.weight += weight

			if s.weight >= quorum {
				return ContinueWithTimeout(s, a.config.PostQuorumTimeout), nil
			}

			return Continue(s), nil
		}, a.config.RoundTimeout)

	if err == nil && final.weight < quorum {
		err = final.errors.failure(final.weight)
	}

	a.finishRound("confirm", start, err)

	if err != nil {
		return nil, fmt.Errorf("confirm %s:\n%w", digest, err)
	}

	logger.Debug("certificate confirmed", "certificate", digest, "responses", len(final.responses), logger.Timed(start))

	return final.responses, nil
}

// ExecuteOrder certifies order and confirms the certificate.
func (a *Aggregator) ExecuteOrder(ctx context.Context, order *messages.Order) (*messages.Certificate, []*messages.OrderInfoResponse, error) {
	cert, err := a.SubmitAndCertify(ctx, order)
	if err != nil {
		return nil, nil, err
	}

	responses, err := a.BroadcastConfirmation(ctx, cert)
	if err != nil {
		return cert, nil, err
	}

	return cert, responses, nil
}

// FetchCertificate returns the certificate that consumed objectID at seq.
func (a *Aggregator) FetchCertificate(ctx context.Context, objectID messages.ObjectID, seq uint64) (*messages.Certificate, error) {
	ctx, cancel := context.WithTimeout(ctx, a.config.RequestTimeout)
	defer cancel()

	return a.NewCertificateRequester().Query(ctx, messages.Position{ObjectID: objectID, Sequence: seq})
}

// finishRound records the outcome and latency of a round.
func (a *Aggregator) finishRound(op string, start time.Time, err error) {
	a.metrics.rounds.WithLabelValues(op, outcome(err)).Inc()
	a.metrics.roundDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}
