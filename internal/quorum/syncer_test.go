package quorum

import (
	"context"
	"errors"
	"testing"

	"Certifier/internal/authority/authoritytest"
	"Certifier/internal/messages"
)

// chain certifies two calls on one object, executed everywhere but at the
// last authority, and returns both certificates.
func chain(t *testing.T, net *authoritytest.Network) (*messages.Object, *messages.Certificate, *messages.Certificate) {
	t.Helper()

	alice, priv := authoritytest.NewAccount(t)
	obj := net.Genesis(t, alice, 1)[0]

	first := authoritytest.Order(messages.OrderCall, priv, []messages.ObjectRef{obj.Ref()}, messages.Address{}, []byte("one"))
	c1 := net.Certify(t, first, 0, 1, 2)
	net.Execute(t, c1, 0, 1, 2)

	second := authoritytest.Order(messages.OrderCall, priv, []messages.ObjectRef{net.Ref(t, 0, obj.ID)}, messages.Address{}, []byte("two"))
	c2 := net.Certify(t, second, 0, 1, 2)
	net.Execute(t, c2, 0, 1, 2)

	return obj, c1, c2
}

// TestSyncResolvesDependencies tests that a lagging destination receives the
// missing parent before the certificate itself.
func TestSyncResolvesDependencies(t *testing.T) {
	net := authoritytest.New(t, 4)
	agg, clients := newNetworkAggregator(t, net)
	obj, c1, c2 := chain(t, net)

	if err := agg.syncSourceToDestination(context.Background(), c2, net.Names[0], net.Names[3]); err != nil {
		t.Fatalf("sync: %v", err)
	}

	got := clients[3].history()
	want := []messages.TransactionDigest{c2.Digest(), c1.Digest(), c2.Digest()}

	if len(got) != len(want) {
		t.Fatalf("destination confirmations = %d, want %d", len(got), len(want))
	}

	for i := range want {
		if got[i] != want[i] {
			t.Errorf("confirmation %d = %s, want %s", i, got[i], want[i])
		}
	}

	if ref := net.Ref(t, 3, obj.ID); ref != net.Ref(t, 0, obj.ID) {
		t.Errorf("destination at %+v, source at %+v", ref, net.Ref(t, 0, obj.ID))
	}
}

// TestSyncUpToDateDestination tests that nothing is replayed when the
// destination accepts the certificate directly.
func TestSyncUpToDateDestination(t *testing.T) {
	net := authoritytest.New(t, 4)
	agg, clients := newNetworkAggregator(t, net)
	_, _, c2 := chain(t, net)

	if err := agg.syncSourceToDestination(context.Background(), c2, net.Names[0], net.Names[1]); err != nil {
		t.Fatalf("sync: %v", err)
	}

	if n := clients[1].confirms.Load(); n != 1 {
		t.Errorf("confirmations = %d, want 1", n)
	}
}

// TestSyncMissingDependencyLoop tests that a destination that keeps reporting
// the same missing dependency ends the sync instead of looping.
func TestSyncMissingDependencyLoop(t *testing.T) {
	net := authoritytest.New(t, 4)
	agg, clients := newNetworkAggregator(t, net)
	_, c1, _ := chain(t, net)

	clients[3].onConfirm = func(context.Context, *messages.ConfirmationOrder) (*messages.OrderInfoResponse, error) {
		return nil, messages.ErrMissingDependency
	}

	err := agg.syncSourceToDestination(context.Background(), c1, net.Names[0], net.Names[3])
	if !errors.Is(err, messages.ErrDependencyResolutionExhausted) {
		t.Fatalf("expected ErrDependencyResolutionExhausted, got %v", err)
	}

	if n := clients[3].confirms.Load(); n != 2 {
		t.Errorf("confirmations = %d, want 2", n)
	}

	err = agg.SyncCertificateToAuthorityWithTimeout(context.Background(), c1, net.Names[3], agg.config.SyncAttemptTimeout, 3)
	if !errors.Is(err, messages.ErrAuthorityUpdateFailure) {
		t.Errorf("expected ErrAuthorityUpdateFailure, got %v", err)
	}

	if !errors.Is(err, messages.ErrDependencyResolutionExhausted) {
		t.Errorf("update failure should wrap the last attempt's cause: %v", err)
	}

	// Three distinct sources, two confirmations each, plus the first run
	if n := clients[3].confirms.Load(); n != 8 {
		t.Errorf("confirmations = %d, want 8", n)
	}
}

// TestSyncByzantineSource tests that a tampered dependency is rejected.
func TestSyncByzantineSource(t *testing.T) {
	net := authoritytest.New(t, 4)
	agg, clients := newNetworkAggregator(t, net)
	_, c1, c2 := chain(t, net)

	source := clients[0]
	source.onOrderInfo = func(ctx context.Context, req *messages.OrderInfoRequest) (*messages.OrderInfoResponse, error) {
		resp, err := source.AuthorityClient.HandleOrderInfoRequest(ctx, req)
		if err != nil || req.TransactionDigest != c1.Digest() {
			return resp, err
		}

		tampered := *resp.Certificate
		tampered.Signatures = tampered.Signatures[:1]

		return &messages.OrderInfoResponse{Certificate: &tampered, SignedEffects: resp.SignedEffects}, nil
	}

	err := agg.syncSourceToDestination(context.Background(), c2, net.Names[0], net.Names[3])
	if !errors.Is(err, messages.ErrByzantineAuthority) {
		t.Fatalf("expected ErrByzantineAuthority, got %v", err)
	}

	// Another source recovers
	if err := agg.syncSourceToDestination(context.Background(), c2, net.Names[1], net.Names[3]); err != nil {
		t.Fatalf("sync from honest source: %v", err)
	}
}

// TestSyncCertificateToAuthority tests source sampling among the signers.
func TestSyncCertificateToAuthority(t *testing.T) {
	net := authoritytest.New(t, 4)
	agg, _ := newNetworkAggregator(t, net)
	obj, _, c2 := chain(t, net)

	err := agg.SyncCertificateToAuthorityWithTimeout(context.Background(), c2, net.Names[3], agg.config.SyncAttemptTimeout, agg.config.SyncRetries)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}

	if ref := net.Ref(t, 3, obj.ID); ref.Version != 2 {
		t.Errorf("destination version = %d, want 2", ref.Version)
	}
}

// TestSyncSharedDependency tests a certificate whose dependencies also depend
// on each other: X reads objects last written by P2 and P1, and P1 itself
// follows P2. P2 must be replayed before P1 even though X queued it first.
func TestSyncSharedDependency(t *testing.T) {
	net := authoritytest.New(t, 4)
	agg, clients := newNetworkAggregator(t, net)

	alice, priv := authoritytest.NewAccount(t)
	objs := net.Genesis(t, alice, 2)
	a, b := objs[0].ID, objs[1].ID

	both := authoritytest.Order(messages.OrderCall, priv, []messages.ObjectRef{objs[0].Ref(), objs[1].Ref()}, messages.Address{}, []byte("p2"))
	p2 := net.Certify(t, both, 0, 1, 2)
	net.Execute(t, p2, 0, 1, 2)

	one := authoritytest.Order(messages.OrderCall, priv, []messages.ObjectRef{net.Ref(t, 0, b)}, messages.Address{}, []byte("p1"))
	p1 := net.Certify(t, one, 0, 1, 2)
	net.Execute(t, p1, 0, 1, 2)

	last := authoritytest.Order(messages.OrderCall, priv, []messages.ObjectRef{net.Ref(t, 0, a), net.Ref(t, 0, b)}, messages.Address{}, []byte("x"))
	x := net.Certify(t, last, 0, 1, 2)
	net.Execute(t, x, 0, 1, 2)

	if err := agg.syncSourceToDestination(context.Background(), x, net.Names[0], net.Names[3]); err != nil {
		t.Fatalf("sync: %v", err)
	}

	got := clients[3].history()
	want := []messages.TransactionDigest{x.Digest(), p1.Digest(), p2.Digest(), p1.Digest(), x.Digest()}

	if len(got) != len(want) {
		t.Fatalf("destination confirmations = %d, want %d", len(got), len(want))
	}

	for i := range want {
		if got[i] != want[i] {
			t.Errorf("confirmation %d = %s, want %s", i, got[i], want[i])
		}
	}

	for _, id := range []messages.ObjectID{a, b} {
		if ref := net.Ref(t, 3, id); ref != net.Ref(t, 0, id) {
			t.Errorf("object %s: destination at %+v, source at %+v", id, ref, net.Ref(t, 0, id))
		}
	}
}
