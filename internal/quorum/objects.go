package quorum

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"Certifier/internal/committee"
	"Certifier/internal/downloader"
	"Certifier/internal/logger"
	"Certifier/internal/messages"
)

// ObjectView is the committee's view of one object.
type ObjectView struct {
	Object      *messages.Object          // Object is the latest trusted version, nil if deleted
	Certificate *messages.Certificate     // Certificate produced Object, nil for genesis versions
	Deleted     bool                      // Deleted is set when a validity of stake no longer has the object
	Holders     []committee.AuthorityName // Holders report Object as current
	Lagging     []committee.AuthorityName // Lagging report an older version
}

// objectVersion gathers the authorities reporting one version.
type objectVersion struct {
	object  *messages.Object
	parent  *messages.Certificate
	weight  uint64
	holders []committee.AuthorityName
}

// objectState is the fold state of GetObjectByID.
type objectState struct {
	versions      map[messages.ObjectRef]*objectVersion
	missingWeight uint64
}

// GetObjectByID asks every authority for the object and returns the newest
// version that is either reported by a validity of stake or backed by a
// verified parent certificate.
func (a *Aggregator) GetObjectByID(ctx context.Context, id messages.ObjectID) (*ObjectView, error) {
	req := &messages.ObjectInfoRequest{ObjectID: id}
	initial := objectState{versions: make(map[messages.ObjectRef]*objectVersion)}

	final, err := QuorumMapThenReduce(ctx, a, initial,
		func(ctx context.Context, _ committee.AuthorityName, client AuthorityClient) (*messages.ObjectInfoResponse, error) {
			return client.HandleObjectInfoRequest(ctx, req)
		},
		func(s objectState, name committee.AuthorityName, weight uint64, resp *messages.ObjectInfoResponse, err error) (ReduceOutput[objectState], error) {
			if errors.Is(err, messages.ErrObjectNotFound) {
				s.missingWeight += weight
				return Continue(s), nil
			}

			if err != nil || resp.Object == nil || resp.Object.ID != id {
				return Continue(s), nil
			}

			ref := resp.Object.Ref()
			v, ok := s.versions[ref]
			if !ok {
				v = &objectVersion{object: resp.Object}
				s.versions[ref] = v
			}

			v.weight += weight
			v.holders = append(v.holders, name)

			if v.parent == nil && resp.ParentCertificate != nil {
				v.parent = resp.ParentCertificate
			}

			return Continue(s), nil
		}, a.config.RequestTimeout)
	if err != nil {
		return nil, fmt.Errorf("object %s:\n%w", id, err)
	}

	validity := a.committee.ValidityThreshold()
	view := &ObjectView{}

	if final.missingWeight >= validity {
		if len(final.versions) == 0 {
			return nil, fmt.Errorf("object %s:\n%w", id, messages.ErrObjectNotFound)
		}

		view.Deleted = true
		for _, v := range final.versions {
			view.Lagging = append(view.Lagging, v.holders...)
		}

		return view, nil
	}

	var best *objectVersion
	for _, v := range final.versions {
		if !a.trusted(v, validity) {
			continue
		}

		if best == nil || v.object.Version > best.object.Version {
			best = v
		}
	}

	if best == nil {
		return nil, fmt.Errorf("object %s:\n%w", id, messages.ErrAuthorityInformationUnavailable)
	}

	view.Object = best.object
	view.Certificate = best.parent
	view.Holders = best.holders

	for _, v := range final.versions {
		if v.object.Version < best.object.Version {
			view.Lagging = append(view.Lagging, v.holders...)
		}
	}

	return view, nil
}

// trusted reports whether a reported version can be believed.
func (a *Aggregator) trusted(v *objectVersion, validity uint64) bool {
	if v.weight >= validity {
		return true
	}

	if v.parent == nil || v.object.Version == 0 {
		return false
	}

	return v.parent.Order != nil &&
		v.parent.Order.Consumes(v.object.ID, v.object.Version-1) &&
		v.parent.Check(a.committee) == nil
}

// GetAllOwnedObjects returns every object version any authority reports as
// owned by owner, with the authorities reporting it.
func (a *Aggregator) GetAllOwnedObjects(ctx context.Context, owner messages.Address) (map[messages.ObjectRef][]committee.AuthorityName, error) {
	req := &messages.AccountInfoRequest{Address: owner}

	type ownedState struct {
		refs     map[messages.ObjectRef][]committee.AuthorityName
		answered int
		errors   *errorTally
	}

	initial := ownedState{refs: make(map[messages.ObjectRef][]committee.AuthorityName), errors: newErrorTally()}

	final, err := QuorumMapThenReduce(ctx, a, initial,
		func(ctx context.Context, _ committee.AuthorityName, client AuthorityClient) (*messages.AccountInfoResponse, error) {
			return client.HandleAccountInfoRequest(ctx, req)
		},
		func(s ownedState, name committee.AuthorityName, weight uint64, resp *messages.AccountInfoResponse, err error) (ReduceOutput[ownedState], error) {
			if err == nil && resp.Address != owner {
				err = fmt.Errorf("account info for another address:\n%w", messages.ErrByzantineAuthority)
			}

			if err != nil {
				a.metrics.authorityError(err)
				s.errors.add(err, weight)
				return Continue(s), nil
			}

			s.answered++
			for _, ref := range resp.ObjectRefs {
				s.refs[ref] = append(s.refs[ref], name)
			}

			return Continue(s), nil
		}, a.config.RequestTimeout)
	if err != nil {
		return nil, fmt.Errorf("owned objects of %s:\n%w", owner, err)
	}

	if final.answered == 0 {
		return nil, fmt.Errorf("owned objects of %s: %w:\n%w", owner, messages.ErrAuthorityInformationUnavailable, final.errors.failure(0))
	}

	return final.refs, nil
}

// DownloadOwnObjectIDsFromRandomAuthority asks authorities in random order
// for the objects of owner and returns the first answer.
func (a *Aggregator) DownloadOwnObjectIDsFromRandomAuthority(ctx context.Context, owner messages.Address) ([]messages.ObjectRef, error) {
	ctx, cancel := context.WithTimeout(ctx, a.config.RequestTimeout)
	defer cancel()

	req := &messages.AccountInfoRequest{Address: owner}

	for _, nc := range a.shuffledClients() {
		resp, err := nc.client.HandleAccountInfoRequest(ctx, req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}

			logger.Debug("account info failed", "authority", nc.name.Short(), "error", err)
			continue
		}

		if resp.Address == owner {
			return resp.ObjectRefs, nil
		}
	}

	return nil, fmt.Errorf("owned objects of %s:\n%w", owner, messages.ErrAuthorityInformationUnavailable)
}

// RequestCertificates downloads the certificates that consumed versions
// [from, to) of objectID, in order.
func (a *Aggregator) RequestCertificates(
	ctx context.Context,
	downloads *downloader.Downloader[messages.Position, *messages.Certificate],
	objectID messages.ObjectID,
	from, to uint64,
) ([]*messages.Certificate, error) {
	if to <= from {
		return nil, nil
	}

	certs := make([]*messages.Certificate, 0, to-from)

	for seq := from; seq < to; seq++ {
		cert, err := downloads.Query(ctx, messages.Position{ObjectID: objectID, Sequence: seq})
		if err != nil {
			return nil, err
		}

		certs = append(certs, cert)
	}

	return certs, nil
}

// UpdateAuthorityCertificates replays on name every certificate of objectID
// between its current version and target.
func (a *Aggregator) UpdateAuthorityCertificates(
	ctx context.Context,
	downloads *downloader.Downloader[messages.Position, *messages.Certificate],
	name committee.AuthorityName,
	objectID messages.ObjectID,
	target uint64,
) error {
	client, ok := a.clients[name]
	if !ok {
		return fmt.Errorf("update %s:\n%w", name.Short(), messages.ErrUnknownSigner)
	}

	resp, err := client.HandleObjectInfoRequest(ctx, &messages.ObjectInfoRequest{ObjectID: objectID})
	if err != nil {
		return fmt.Errorf("update %s: current version of %s:\n%w", name.Short(), objectID, err)
	}

	current := uint64(0)
	if resp.Object != nil {
		current = resp.Object.Version
	}

	certs, err := a.RequestCertificates(ctx, downloads, objectID, current, target)
	if err != nil {
		return fmt.Errorf("update %s:\n%w", name.Short(), err)
	}

	for _, cert := range certs {
		_, err := client.HandleConfirmationOrder(ctx, &messages.ConfirmationOrder{Certificate: cert})
		if errors.Is(err, messages.ErrMissingDependency) {
			err = a.SyncCertificateToAuthorityWithTimeout(ctx, cert, name, a.config.SyncAttemptTimeout, a.config.SyncRetries)
		}

		if err != nil {
			return fmt.Errorf("update %s: replay %s:\n%w", name.Short(), cert.Digest(), err)
		}
	}

	return nil
}

// ObjectResult is one streamed object lookup.
type ObjectResult struct {
	ID   messages.ObjectID // ID is the requested object
	View *ObjectView       // View is the committee's view, nil on error
	Err  error             // Err reports a failed lookup
}

// FetchObjects looks up every object concurrently and streams the results.
// The channel is closed once every lookup finished.
func (a *Aggregator) FetchObjects(ctx context.Context, ids []messages.ObjectID) <-chan ObjectResult {
	out := make(chan ObjectResult, len(ids))

	var g errgroup.Group
	g.SetLimit(a.concurrency())

	go func() {
		defer close(out)

		for _, id := range ids {
			g.Go(func() error {
				view, err := a.GetObjectByID(ctx, id)
				out <- ObjectResult{ID: id, View: view, Err: err}
				return nil
			})
		}

		_ = g.Wait()
	}()

	return out
}

// OwnedState is the synced state of an address.
type OwnedState struct {
	Objects []*messages.Object   // Objects are the current objects owned by the address
	Deleted []messages.ObjectRef // Deleted are references of objects deleted since they were owned
}

// SyncOwnedState reconciles every object owned by owner across the
// committee: it resolves the latest version of each object and brings
// lagging authorities up to date.
func (a *Aggregator) SyncOwnedState(ctx context.Context, owner messages.Address) (_ *OwnedState, err error) {
	start := time.Now()
	defer func() { a.finishRound("sync_owned", start, err) }()

	owned, err := a.GetAllOwnedObjects(ctx, owner)
	if err != nil {
		return nil, err
	}

	latest := make(map[messages.ObjectID]messages.ObjectRef)
	for ref := range owned {
		if cur, ok := latest[ref.ID]; !ok || ref.Version > cur.Version {
			latest[ref.ID] = ref
		}
	}

	var mu sync.Mutex
	state := &OwnedState{}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.concurrency())

	for _, ref := range latest {
		g.Go(func() error {
			view, err := a.GetObjectByID(gctx, ref.ID)
			if err != nil {
				logger.Warn("object unavailable", "object", ref.ID, "error", err)
				return nil
			}

			if view.Deleted {
				cert, err := a.FetchCertificate(gctx, ref.ID, ref.Version)
				if err != nil {
					return fmt.Errorf("sync %s: certificate consuming %s:\n%w", owner, ref.ID, err)
				}

				a.syncLagging(gctx, cert, view.Lagging)

				if cert.Order.Kind == messages.OrderDelete {
					mu.Lock()
					state.Deleted = append(state.Deleted, messages.ObjectRef{ID: ref.ID, Version: ref.Version + 1})
					mu.Unlock()
				}

				return nil
			}

			if view.Certificate != nil {
				a.syncLagging(gctx, view.Certificate, view.Lagging)
			}

			if view.Object.Owner == owner {
				mu.Lock()
				state.Objects = append(state.Objects, view.Object)
				mu.Unlock()
			}

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(state.Objects, func(i, j int) bool {
		return bytes.Compare(state.Objects[i].ID[:], state.Objects[j].ID[:]) < 0
	})
	sort.Slice(state.Deleted, func(i, j int) bool {
		return bytes.Compare(state.Deleted[i].ID[:], state.Deleted[j].ID[:]) < 0
	})

	logger.Debug("owned state synced", "owner", owner, "objects", len(state.Objects), "deleted", len(state.Deleted))

	return state, nil
}

// syncLagging brings each lagging authority up to cert. Failures are logged.
func (a *Aggregator) syncLagging(ctx context.Context, cert *messages.Certificate, lagging []committee.AuthorityName) {
	for _, name := range lagging {
		err := a.SyncCertificateToAuthorityWithTimeout(ctx, cert, name, a.config.SyncAttemptTimeout, a.config.SyncRetries)
		if err != nil {
			logger.Warn("failed to update lagging authority", "authority", name.Short(), "certificate", cert.Digest(), "error", err)
		}
	}
}

// concurrency returns the parallelism of multi-object operations.
func (a *Aggregator) concurrency() int {
	if a.config.SyncConcurrency > 0 {
		return a.config.SyncConcurrency
	}

	return 1
}
