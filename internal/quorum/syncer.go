package quorum

import (
	"context"
	"errors"
	"fmt"
	"time"

	"Certifier/internal/committee"
	"Certifier/internal/downloader"
	"Certifier/internal/logger"
	"Certifier/internal/messages"
)

// SyncCertificateToAuthorityWithTimeout makes destination execute cert,
// replaying whatever it is missing from up to retries signers of cert picked
// by stake. Each attempt is bounded by perAttempt.
func (a *Aggregator) SyncCertificateToAuthorityWithTimeout(
	ctx context.Context,
	cert *messages.Certificate,
	destination committee.AuthorityName,
	perAttempt time.Duration,
	retries int,
) error {
	candidates := make([]committee.AuthorityName, 0, len(cert.Signatures))
	for _, signer := range cert.Signers() {
		if signer != destination {
			candidates = append(candidates, signer)
		}
	}

	sources := a.sampleSources(candidates, retries)
	lastErr := messages.ErrDependencyResolutionExhausted

	for _, source := range sources {
		attemptCtx, cancel := context.WithTimeout(ctx, perAttempt)
		err := a.syncSourceToDestination(attemptCtx, cert, source, destination)
		cancel()

		a.metrics.syncs.WithLabelValues(outcome(err)).Inc()

		if err == nil {
			return nil
		}

		logger.Debug("sync attempt failed",
			"certificate", cert.Digest(),
			"source", source.Short(),
			"destination", destination.Short(),
			"error", err,
		)

		lastErr = err

		if ctx.Err() != nil {
			break
		}
	}

	return fmt.Errorf("sync %s to %s from %d sources: %w:\n%w",
		cert.Digest(), destination.Short(), len(sources), messages.ErrAuthorityUpdateFailure, lastErr)
}

// syncSourceToDestination replays cert and its missing causal history from
// source to destination, deepest dependency first.
func (a *Aggregator) syncSourceToDestination(ctx context.Context, cert *messages.Certificate, sourceName, destName committee.AuthorityName) error {
	source := a.clients[sourceName]
	dest := a.clients[destName]
	root := cert.Digest()

	fetch := downloader.RequesterFunc[messages.TransactionDigest, *messages.Certificate](
		func(ctx context.Context, digest messages.TransactionDigest) (*messages.Certificate, error) {
			return a.fetchDependency(ctx, source, sourceName, digest)
		})

	deps := downloader.Start[messages.TransactionDigest, *messages.Certificate](ctx, fetch, nil)
	defer deps.Stop()

	stack := []*messages.Certificate{cert}
	applied := make(map[messages.TransactionDigest]bool)
	attempted := make(map[messages.TransactionDigest]bool)

	for len(stack) > 0 {
		target := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		digest := target.Digest()

		if applied[digest] {
			continue
		}

		_, err := dest.HandleConfirmationOrder(ctx, &messages.ConfirmationOrder{Certificate: target})
		if err == nil {
			applied[digest] = true
			continue
		}

		if !errors.Is(err, messages.ErrMissingDependency) {
			return fmt.Errorf("confirm %s at destination:\n%w", digest, err)
		}

		// A second miss means the dependencies we replayed did not help
		if attempted[digest] {
			return fmt.Errorf("certificate %s still missing dependencies:\n%w", digest, messages.ErrDependencyResolutionExhausted)
		}
		attempted[digest] = true

		var info *messages.OrderInfoResponse
		if len(stack) == 0 && digest == root {
			info, err = source.HandleConfirmationOrder(ctx, &messages.ConfirmationOrder{Certificate: target})
		} else {
			info, err = source.HandleOrderInfoRequest(ctx, &messages.OrderInfoRequest{TransactionDigest: digest})
		}

		if err != nil {
			return fmt.Errorf("effects of %s at source:\n%w", digest, err)
		}

		effects, err := a.checkEffects(info, sourceName, digest)
		if err != nil {
			return err
		}

		stack = append(stack, target)

		// A dependency already queued lower on the stack is pushed again so
		// it runs before target. Each certificate expands at most once.
		for _, dep := range effects.Dependencies {
			if applied[dep] {
				continue
			}

			depCert, err := deps.Query(ctx, dep)
			if err != nil {
				return fmt.Errorf("dependency %s of %s:\n%w", dep, digest, err)
			}

			stack = append(stack, depCert)
		}
	}

	return nil
}

// fetchDependency downloads an executed certificate from source.
func (a *Aggregator) fetchDependency(ctx context.Context, source AuthorityClient, sourceName committee.AuthorityName, digest messages.TransactionDigest) (*messages.Certificate, error) {
	info, err := source.HandleOrderInfoRequest(ctx, &messages.OrderInfoRequest{TransactionDigest: digest})
	if err != nil {
		return nil, err
	}

	if info.Certificate == nil {
		return nil, fmt.Errorf("%s from %s:\n%w", digest, sourceName.Short(), messages.ErrCertificateNotFound)
	}

	if info.Certificate.Digest() != digest {
		return nil, fmt.Errorf("%s from %s: served a different certificate:\n%w", digest, sourceName.Short(), messages.ErrByzantineAuthority)
	}

	if err := info.Certificate.Check(a.committee); err != nil {
		return nil, fmt.Errorf("%s from %s: %w:\n%w", digest, sourceName.Short(), messages.ErrByzantineAuthority, err)
	}

	return info.Certificate, nil
}

// checkEffects verifies the signed effects an authority returned for digest.
func (a *Aggregator) checkEffects(info *messages.OrderInfoResponse, name committee.AuthorityName, digest messages.TransactionDigest) (*messages.Effects, error) {
	if info == nil || info.SignedEffects == nil || info.SignedEffects.Effects == nil {
		return nil, fmt.Errorf("effects of %s from %s:\n%w", digest, name.Short(), messages.ErrAuthorityInformationUnavailable)
	}

	signed := info.SignedEffects
	if signed.Authority != name || signed.Effects.TransactionDigest != digest {
		return nil, fmt.Errorf("effects of %s from %s: mismatched effects:\n%w", digest, name.Short(), messages.ErrByzantineAuthority)
	}

	if err := signed.Check(a.committee); err != nil {
		return nil, fmt.Errorf("effects of %s from %s: %w:\n%w", digest, name.Short(), messages.ErrByzantineAuthority, err)
	}

	return signed.Effects, nil
}
