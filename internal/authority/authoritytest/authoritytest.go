// Package authoritytest builds in-process committees of reference authorities for tests.
package authoritytest

import (
	"crypto/ed25519"
	"fmt"
	"path/filepath"
	"testing"

	"Certifier/internal/authority"
	"Certifier/internal/committee"
	"Certifier/internal/crypto"
	"Certifier/internal/messages"
	"Certifier/internal/storage"
)

// Network is a committee of equal-weight authorities backed by temporary stores.
type Network struct {
	Committee *committee.Committee      // Committee is the shared membership
	Names     []committee.AuthorityName // Names are the members in creation order
	States    []*authority.State        // States are the authorities, indexed like Names
	Keys      []*crypto.BLSKeyPair      // Keys are the signing keys, indexed like Names
}

// New creates n authorities with weight 1 each.
func New(t testing.TB, n int) *Network {
	t.Helper()

	net := &Network{
		Names: make([]committee.AuthorityName, n),
		Keys:  make([]*crypto.BLSKeyPair, n),
	}

	weights := make(map[committee.AuthorityName]uint64, n)

	for i := 0; i < n; i++ {
		key, err := crypto.GenerateBLSKey()
		if err != nil {
			t.Fatalf("generate key: %v", err)
		}

		name, err := committee.NameFromBytes(key.PublicKeyBytes())
		if err != nil {
			t.Fatalf("authority name: %v", err)
		}

		net.Names[i] = name
		net.Keys[i] = key
		weights[name] = 1
	}

	c, err := committee.NewCommittee(0, weights)
	if err != nil {
		t.Fatalf("committee: %v", err)
	}
	net.Committee = c
	dir := t.TempDir()

	for i := 0; i < n; i++ {
		store, err := storage.New(filepath.Join(dir, fmt.Sprintf("authority-%d", i)))
		if err != nil {
			t.Fatalf("open store: %v", err)
		}
		t.Cleanup(func() { store.Close() })

		state, err := authority.New(authority.Config{
			Name:      net.Names[i],
			Key:       net.Keys[i],
			Committee: net.Committee,
			Store:     store,
		})
		if err != nil {
			t.Fatalf("new authority: %v", err)
		}

		net.States = append(net.States, state)
	}

	return net
}

// Client returns an in-process client for authority i.
func (n *Network) Client(i int) *authority.LocalClient {
	return authority.NewLocalClient(n.States[i])
}

// NewAccount creates a client key pair.
func NewAccount(t testing.TB) (messages.Address, ed25519.PrivateKey) {
	t.Helper()

	pub, priv, err := crypto.GenerateClientKey()
	if err != nil {
		t.Fatalf("client key: %v", err)
	}

	return messages.AddressFromKey(pub), priv
}

// Genesis creates count objects owned by owner at every authority.
func (n *Network) Genesis(t testing.TB, owner messages.Address, count int) []*messages.Object {
	t.Helper()

	objs := make([]*messages.Object, count)

	for i := range objs {
		var id messages.ObjectID
		copy(id[:], owner[:8])
		id[30] = byte(i >> 8)
		id[31] = byte(i)

		objs[i] = &messages.Object{ID: id, Owner: owner, Contents: []byte("genesis")}

		for _, s := range n.States {
			if err := s.InsertGenesisObject(objs[i]); err != nil {
				t.Fatalf("genesis: %v", err)
			}
		}
	}

	return objs
}

// Order builds a signed order of the given kind over the inputs.
func Order(kind messages.OrderKind, priv ed25519.PrivateKey, inputs []messages.ObjectRef, recipient messages.Address, payload []byte) *messages.Order {
	order := &messages.Order{
		Kind:      kind,
		Sender:    messages.AddressFromKey(priv.Public().(ed25519.PublicKey)),
		Inputs:    inputs,
		Recipient: recipient,
		Payload:   payload,
	}
	order.Sign(priv)

	return order
}

// Certify collects votes from the given authorities and builds a certificate.
func (n *Network) Certify(t testing.TB, order *messages.Order, voters ...int) *messages.Certificate {
	t.Helper()

	agg, err := messages.NewSignatureAggregator(order, n.Committee)
	if err != nil {
		t.Fatalf("aggregator: %v", err)
	}

	for _, i := range voters {
		resp, err := n.States[i].HandleOrder(order)
		if err != nil {
			t.Fatalf("authority %d vote: %v", i, err)
		}

		cert, err := agg.Append(resp.SignedOrder.Authority, resp.SignedOrder.Signature)
		if err != nil {
			t.Fatalf("append vote %d: %v", i, err)
		}

		if cert != nil {
			return cert
		}
	}

	t.Fatalf("voters %v do not reach quorum", voters)

	return nil
}

// Execute confirms a certificate at the given authorities.
func (n *Network) Execute(t testing.TB, cert *messages.Certificate, at ...int) *messages.OrderInfoResponse {
	t.Helper()

	var last *messages.OrderInfoResponse

	for _, i := range at {
		resp, err := n.States[i].HandleConfirmationOrder(&messages.ConfirmationOrder{Certificate: cert})
		if err != nil {
			t.Fatalf("authority %d execute: %v", i, err)
		}

		last = resp
	}

	return last
}

// Ref returns the current reference of an object at authority i.
func (n *Network) Ref(t testing.TB, i int, id messages.ObjectID) messages.ObjectRef {
	t.Helper()

	resp, err := n.States[i].HandleObjectInfoRequest(&messages.ObjectInfoRequest{ObjectID: id})
	if err != nil {
		t.Fatalf("object info: %v", err)
	}

	if resp.Object == nil {
		t.Fatalf("object %s deleted at authority %d", id, i)
	}

	return resp.Object.Ref()
}
