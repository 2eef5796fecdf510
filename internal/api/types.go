package api

import (
	"encoding/hex"

	"Certifier/internal/committee"
	"Certifier/internal/messages"
	"Certifier/internal/quorum"
	"Certifier/internal/wire"
)

// Ref is an object reference in API responses.
type Ref struct {
	ID      string `json:"id"`      // ID is the hex object id
	Version uint64 `json:"version"` // Version is the sequence number
	Digest  string `json:"digest"`  // Digest is the hex content digest
}

// Object is one object version in API responses.
type Object struct {
	ID       string `json:"id"`               // ID is the hex object id
	Version  uint64 `json:"version"`          // Version is the sequence number
	Owner    string `json:"owner"`            // Owner is the hex owner address
	Contents []byte `json:"contents"`         // Contents is the object payload
	Parent   string `json:"parent,omitempty"` // Parent is the hex digest of the producing order
}

// Effects summarizes the execution of an order.
type Effects struct {
	Mutated      []Ref    `json:"mutated"`                // Mutated are the new object versions
	Deleted      []Ref    `json:"deleted,omitempty"`      // Deleted are the removed versions
	Dependencies []string `json:"dependencies,omitempty"` // Dependencies are the hex parent orders
}

// OrderResult is returned by the order and confirmation endpoints.
type OrderResult struct {
	Digest        string   `json:"digest"`                  // Digest is the hex order digest
	Certificate   []byte   `json:"certificate"`             // Certificate is the wire-encoded certificate
	Confirmations int      `json:"confirmations,omitempty"` // Confirmations counts authorities that executed it
	Effects       *Effects `json:"effects,omitempty"`       // Effects are the agreed execution results
}

// CertificateResult is returned by the certificate lookup endpoint.
type CertificateResult struct {
	Digest      string `json:"digest"`      // Digest is the hex order digest
	Certificate []byte `json:"certificate"` // Certificate is the wire-encoded certificate
}

// ObjectView is the committee's view of one object.
type ObjectView struct {
	Object      *Object  `json:"object,omitempty"`      // Object is the latest trusted version
	Certificate []byte   `json:"certificate,omitempty"` // Certificate produced Object
	Deleted     bool     `json:"deleted"`               // Deleted is set for removed objects
	Holders     []string `json:"holders"`               // Holders are the authorities at the latest version
	Lagging     []string `json:"lagging,omitempty"`     // Lagging are the authorities behind
}

// OwnedState is the synced state of an address.
type OwnedState struct {
	Address string   `json:"address"`           // Address is the hex owner
	Objects []Object `json:"objects"`           // Objects are the current owned objects
	Deleted []Ref    `json:"deleted,omitempty"` // Deleted are the references of removed objects
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`          // Error is the error text
	Code  string `json:"code,omitempty"` // Code is the error class
}

func toRef(r messages.ObjectRef) Ref {
	return Ref{ID: r.ID.String(), Version: r.Version, Digest: hex.EncodeToString(r.Digest[:])}
}

func toRefs(refs []messages.ObjectRef) []Ref {
	if len(refs) == 0 {
		return nil
	}

	out := make([]Ref, len(refs))
	for i, r := range refs {
		out[i] = toRef(r)
	}

	return out
}

func toObject(o *messages.Object) Object {
	out := Object{
		ID:       o.ID.String(),
		Version:  o.Version,
		Owner:    o.Owner.String(),
		Contents: o.Contents,
	}

	if !o.Parent.IsZero() {
		out.Parent = o.Parent.String()
	}

	return out
}

func toNames(names []committee.AuthorityName) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = n.String()
	}

	return out
}

// toOrderResult summarizes a certificate and its confirmations.
// Honest authorities agree on effects, so the first signed effects stand for all.
func toOrderResult(cert *messages.Certificate, responses []*messages.OrderInfoResponse) OrderResult {
	res := OrderResult{
		Digest:        cert.Digest().String(),
		Certificate:   wire.MarshalCertificate(cert),
		Confirmations: len(responses),
	}

	for _, r := range responses {
		if r.SignedEffects == nil {
			continue
		}

		e := r.SignedEffects.Effects
		res.Effects = &Effects{Mutated: toRefs(e.Mutated), Deleted: toRefs(e.Deleted)}

		if res.Effects.Mutated == nil {
			res.Effects.Mutated = []Ref{}
		}

		for _, d := range e.Dependencies {
			res.Effects.Dependencies = append(res.Effects.Dependencies, d.String())
		}

		break
	}

	return res
}

func toObjectView(v *quorum.ObjectView) ObjectView {
	out := ObjectView{
		Deleted: v.Deleted,
		Holders: toNames(v.Holders),
	}

	if v.Object != nil {
		obj := toObject(v.Object)
		out.Object = &obj
	}

	if v.Certificate != nil {
		out.Certificate = wire.MarshalCertificate(v.Certificate)
	}

	if len(v.Lagging) > 0 {
		out.Lagging = toNames(v.Lagging)
	}

	return out
}

func toOwnedState(owner messages.Address, s *quorum.OwnedState) OwnedState {
	out := OwnedState{
		Address: owner.String(),
		Objects: make([]Object, len(s.Objects)),
		Deleted: toRefs(s.Deleted),
	}

	for i, o := range s.Objects {
		out.Objects[i] = toObject(o)
	}

	return out
}
