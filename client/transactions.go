package client

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"sort"

	"Certifier/internal/messages"
)

// Wallet holds a keypair and tracks owned objects.
type Wallet struct {
	privKey ed25519.PrivateKey                     // privKey is the Ed25519 private key
	address messages.Address                       // address is the owner address of the key
	objects map[messages.ObjectID]*messages.Object // objects tracks owned objects by ID
}

// NewWallet creates a new wallet with a random Ed25519 keypair.
func NewWallet() (*Wallet, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key:\n%w", err)
	}

	return WalletFromKey(priv), nil
}

// WalletFromKey creates a wallet for an existing key.
func WalletFromKey(priv ed25519.PrivateKey) *Wallet {
	return &Wallet{
		privKey: priv,
		address: messages.AddressFromKey(priv.Public().(ed25519.PublicKey)),
		objects: make(map[messages.ObjectID]*messages.Object),
	}
}

// Address returns the wallet's owner address.
func (w *Wallet) Address() messages.Address {
	return w.address
}

// Objects returns the tracked objects ordered by ID.
func (w *Wallet) Objects() []*messages.Object {
	out := make([]*messages.Object, 0, len(w.objects))
	for _, o := range w.objects {
		out = append(out, o)
	}

	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].ID[:], out[j].ID[:]) < 0
	})

	return out
}

// GetObject returns a tracked object, or nil if not tracked.
func (w *Wallet) GetObject(id messages.ObjectID) *messages.Object {
	return w.objects[id]
}

// Refresh replaces the tracked objects with the committee's current view.
func (w *Wallet) Refresh(ctx context.Context, c *Client) error {
	objects, _, err := c.Sync(ctx, w.address)
	if err != nil {
		return fmt.Errorf("refresh wallet:\n%w", err)
	}

	w.objects = make(map[messages.ObjectID]*messages.Object, len(objects))
	for _, o := range objects {
		w.objects[o.ID] = o
	}

	return nil
}

// Order builds and signs an order over tracked objects.
func (w *Wallet) Order(kind messages.OrderKind, ids []messages.ObjectID, recipient messages.Address, payload []byte) (*messages.Order, error) {
	inputs := make([]messages.ObjectRef, len(ids))

	for i, id := range ids {
		obj := w.objects[id]
		if obj == nil {
			return nil, fmt.Errorf("object not tracked: %s", id)
		}

		inputs[i] = obj.Ref()
	}

	order := &messages.Order{
		Kind:      kind,
		Sender:    w.address,
		Inputs:    inputs,
		Recipient: recipient,
		Payload:   payload,
	}
	order.Sign(w.privKey)

	return order, nil
}

// Transfer hands an object to a new owner.
func (w *Wallet) Transfer(ctx context.Context, c *Client, id messages.ObjectID, recipient messages.Address) (*Result, error) {
	order, err := w.Order(messages.OrderTransfer, []messages.ObjectID{id}, recipient, nil)
	if err != nil {
		return nil, err
	}

	return w.execute(ctx, c, order)
}

// Call applies a payload to the given objects.
func (w *Wallet) Call(ctx context.Context, c *Client, ids []messages.ObjectID, payload []byte) (*Result, error) {
	order, err := w.Order(messages.OrderCall, ids, messages.Address{}, payload)
	if err != nil {
		return nil, err
	}

	return w.execute(ctx, c, order)
}

// Delete removes the given objects.
func (w *Wallet) Delete(ctx context.Context, c *Client, ids []messages.ObjectID) (*Result, error) {
	order, err := w.Order(messages.OrderDelete, ids, messages.Address{}, nil)
	if err != nil {
		return nil, err
	}

	return w.execute(ctx, c, order)
}

// execute runs an order and updates the tracked objects from its effects.
func (w *Wallet) execute(ctx context.Context, c *Client, order *messages.Order) (*Result, error) {
	res, err := c.Execute(ctx, order)
	if err != nil {
		return nil, err
	}

	for _, ref := range res.Deleted {
		delete(w.objects, ref.ID)
	}

	if order.Kind == messages.OrderTransfer && order.Recipient != w.address {
		delete(w.objects, order.Inputs[0].ID)
	}

	for _, ref := range res.Mutated {
		obj := w.objects[ref.ID]
		if obj == nil {
			continue
		}

		next := *obj
		next.Version = ref.Version
		next.Parent = res.Digest

		if order.Kind == messages.OrderCall {
			next.Contents = order.Payload
		}

		if next.Ref() != ref {
			// The tracked copy diverged; drop it until the next refresh.
			delete(w.objects, ref.ID)
			continue
		}

		w.objects[ref.ID] = &next
	}

	return res, nil
}
