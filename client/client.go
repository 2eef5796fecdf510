// Package client is a Go SDK for the gateway HTTP API.
package client

import (
	"context"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
	"time"

	"Certifier/internal/api"
	"Certifier/internal/messages"
	"Certifier/internal/wire"
)

// defaultTimeout bounds one gateway call, which may span several quorum rounds.
const defaultTimeout = 2 * time.Minute

// Client connects to a gateway via HTTP.
type Client struct {
	baseURL string       // baseURL is the gateway root (e.g. "http://127.0.0.1:8080")
	http    *http.Client // http sends requests
}

// Result is the outcome of an order or a confirmation.
type Result struct {
	Digest        messages.TransactionDigest // Digest identifies the order
	Certificate   *messages.Certificate      // Certificate is the quorum certificate
	Confirmations int                        // Confirmations counts authorities that executed it
	Mutated       []messages.ObjectRef       // Mutated are the new object versions
	Deleted       []messages.ObjectRef       // Deleted are the removed versions
}

// Health is the gateway's committee summary.
type Health struct {
	Status      string `json:"status"`      // Status is "ok" when serving
	Epoch       uint64 `json:"epoch"`       // Epoch is the committee epoch
	Authorities int    `json:"authorities"` // Authorities is the committee size
	TotalWeight uint64 `json:"totalWeight"` // TotalWeight is the committee stake
}

// NewClient creates a client for the gateway at addr ("host:port" or a URL).
func NewClient(addr string) *Client {
	base := strings.TrimRight(addr, "/")
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}

	return &Client{
		baseURL: base,
		http:    &http.Client{Timeout: defaultTimeout},
	}
}

// Health fetches the gateway status.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	var h Health
	if err := c.get(ctx, "/health", &h); err != nil {
		return nil, fmt.Errorf("health:\n%w", err)
	}

	return &h, nil
}

// Execute certifies an order and confirms it at the committee.
func (c *Client) Execute(ctx context.Context, order *messages.Order) (*Result, error) {
	var resp api.OrderResult
	if err := c.post(ctx, "/orders", wire.MarshalOrder(order), &resp); err != nil {
		return nil, fmt.Errorf("execute order:\n%w", err)
	}

	return parseResult(resp)
}

// Certify collects a quorum certificate without executing the order.
func (c *Client) Certify(ctx context.Context, order *messages.Order) (*messages.Certificate, error) {
	var resp api.OrderResult
	if err := c.post(ctx, "/orders/certify", wire.MarshalOrder(order), &resp); err != nil {
		return nil, fmt.Errorf("certify order:\n%w", err)
	}

	res, err := parseResult(resp)
	if err != nil {
		return nil, err
	}

	return res.Certificate, nil
}

// Confirm executes a certificate at the committee.
func (c *Client) Confirm(ctx context.Context, cert *messages.Certificate) (*Result, error) {
	var resp api.OrderResult
	if err := c.post(ctx, "/certificates/confirm", wire.MarshalCertificate(cert), &resp); err != nil {
		return nil, fmt.Errorf("confirm certificate:\n%w", err)
	}

	return parseResult(resp)
}

// Certificate fetches the certificate that consumed an object at seq.
func (c *Client) Certificate(ctx context.Context, id messages.ObjectID, seq uint64) (*messages.Certificate, error) {
	var resp api.CertificateResult
	if err := c.get(ctx, fmt.Sprintf("/certificates/%s/%d", id, seq), &resp); err != nil {
		return nil, fmt.Errorf("fetch certificate:\n%w", err)
	}

	return wire.UnmarshalCertificate(resp.Certificate)
}

// Object fetches the committee's view of an object. A deleted object has a
// nil Object.
func (c *Client) Object(ctx context.Context, id messages.ObjectID) (*messages.Object, bool, error) {
	var resp api.ObjectView
	if err := c.get(ctx, "/objects/"+id.String(), &resp); err != nil {
		return nil, false, fmt.Errorf("get object:\n%w", err)
	}

	if resp.Object == nil {
		return nil, resp.Deleted, nil
	}

	obj, err := parseObject(*resp.Object)
	if err != nil {
		return nil, false, err
	}

	return obj, resp.Deleted, nil
}

// Sync reconciles and returns the objects owned by an address.
func (c *Client) Sync(ctx context.Context, owner messages.Address) ([]*messages.Object, []messages.ObjectRef, error) {
	var resp api.OwnedState
	if err := c.get(ctx, "/accounts/"+owner.String()+"/sync", &resp); err != nil {
		return nil, nil, fmt.Errorf("sync account:\n%w", err)
	}

	objects := make([]*messages.Object, len(resp.Objects))
	for i, o := range resp.Objects {
		obj, err := parseObject(o)
		if err != nil {
			return nil, nil, err
		}

		objects[i] = obj
	}

	deleted, err := parseRefs(resp.Deleted)
	if err != nil {
		return nil, nil, err
	}

	return objects, deleted, nil
}

// parseResult decodes the certificate and effects of an order result.
func parseResult(resp api.OrderResult) (*Result, error) {
	cert, err := wire.UnmarshalCertificate(resp.Certificate)
	if err != nil {
		return nil, fmt.Errorf("decode certificate:\n%w", err)
	}

	res := &Result{
		Digest:        cert.Digest(),
		Certificate:   cert,
		Confirmations: resp.Confirmations,
	}

	if res.Digest.String() != resp.Digest {
		return nil, fmt.Errorf("certificate digest %s does not match %s", res.Digest, resp.Digest)
	}

	if resp.Effects != nil {
		if res.Mutated, err = parseRefs(resp.Effects.Mutated); err != nil {
			return nil, err
		}

		if res.Deleted, err = parseRefs(resp.Effects.Deleted); err != nil {
			return nil, err
		}
	}

	return res, nil
}

// parseObject converts an API object and checks its hex fields.
func parseObject(o api.Object) (*messages.Object, error) {
	id, err := messages.ParseObjectID(o.ID)
	if err != nil {
		return nil, err
	}

	owner, err := messages.ParseAddress(o.Owner)
	if err != nil {
		return nil, err
	}

	obj := &messages.Object{ID: id, Version: o.Version, Owner: owner, Contents: o.Contents}

	if o.Parent != "" {
		parent, err := hex.DecodeString(o.Parent)
		if err != nil || len(parent) != len(obj.Parent) {
			return nil, fmt.Errorf("invalid parent %q", o.Parent)
		}

		copy(obj.Parent[:], parent)
	}

	return obj, nil
}

// parseRefs converts API references.
func parseRefs(refs []api.Ref) ([]messages.ObjectRef, error) {
	out := make([]messages.ObjectRef, len(refs))

	for i, r := range refs {
		id, err := messages.ParseObjectID(r.ID)
		if err != nil {
			return nil, err
		}

		digest, err := hex.DecodeString(r.Digest)
		if err != nil || len(digest) != len(out[i].Digest) {
			return nil, fmt.Errorf("invalid digest %q", r.Digest)
		}

		out[i] = messages.ObjectRef{ID: id, Version: r.Version}
		copy(out[i].Digest[:], digest)
	}

	return out, nil
}
