package wire

import (
	"fmt"

	"Certifier/internal/messages"
)

func readObjectRef(r table) (messages.ObjectRef, error) {
	var ref messages.ObjectRef

	if !r.fixed(0, ref.ID[:]) {
		return ref, fmt.Errorf("object ref: bad id length")
	}

	ref.Version = r.u64(1)

	if !r.fixed(2, ref.Digest[:]) {
		return ref, fmt.Errorf("object ref: bad digest length")
	}

	return ref, nil
}

func readObjectRefs(r table, slot int) ([]messages.ObjectRef, error) {
	n := r.vectorLen(slot)
	if n == 0 {
		return nil, nil
	}

	refs := make([]messages.ObjectRef, n)
	for i := range refs {
		ref, err := readObjectRef(r.vectorAt(slot, i))
		if err != nil {
			return nil, err
		}

		refs[i] = ref
	}

	return refs, nil
}

func readObject(r table) (*messages.Object, error) {
	o := &messages.Object{
		Version:  r.u64(1),
		Contents: r.bytes(3),
	}

	if !r.fixed(0, o.ID[:]) || !r.fixed(2, o.Owner[:]) || !r.fixed(4, o.Parent[:]) {
		return nil, fmt.Errorf("object: bad field length")
	}

	return o, nil
}

func readOrder(r table) (*messages.Order, error) {
	o := &messages.Order{
		Kind:      messages.OrderKind(r.u8(0)),
		Payload:   r.bytes(4),
		Signature: r.bytes(5),
	}

	if !r.fixed(1, o.Sender[:]) || !r.fixed(3, o.Recipient[:]) {
		return nil, fmt.Errorf("order: bad address length")
	}

	inputs, err := readObjectRefs(r, 2)
	if err != nil {
		return nil, fmt.Errorf("order inputs:\n%w", err)
	}
	o.Inputs = inputs

	return o, nil
}

func readSignedOrder(r table) (*messages.SignedOrder, error) {
	s := &messages.SignedOrder{Signature: r.bytes(2)}

	ot, ok := r.child(0)
	if !ok {
		return nil, fmt.Errorf("signed order: missing order")
	}

	order, err := readOrder(ot)
	if err != nil {
		return nil, err
	}
	s.Order = order

	if !r.fixed(1, s.Authority[:]) {
		return nil, fmt.Errorf("signed order: bad authority length")
	}

	return s, nil
}

func readCertificate(r table) (*messages.Certificate, error) {
	ot, ok := r.child(0)
	if !ok {
		return nil, fmt.Errorf("certificate: missing order")
	}

	order, err := readOrder(ot)
	if err != nil {
		return nil, err
	}

	c := &messages.Certificate{Order: order}

	n := r.vectorLen(1)
	for i := 0; i < n; i++ {
		st := r.vectorAt(1, i)

		var sig messages.AuthoritySignature
		if !st.fixed(0, sig.Authority[:]) {
			return nil, fmt.Errorf("certificate: bad authority length at %d", i)
		}
		sig.Signature = st.bytes(1)

		c.Signatures = append(c.Signatures, sig)
	}

	return c, nil
}

func readEffects(r table) (*messages.Effects, error) {
	e := &messages.Effects{}

	if !r.fixed(0, e.TransactionDigest[:]) {
		return nil, fmt.Errorf("effects: bad digest length")
	}

	var err error
	if e.Mutated, err = readObjectRefs(r, 1); err != nil {
		return nil, fmt.Errorf("effects mutated:\n%w", err)
	}

	if e.Deleted, err = readObjectRefs(r, 2); err != nil {
		return nil, fmt.Errorf("effects deleted:\n%w", err)
	}

	deps := r.bytes(3)
	if len(deps)%32 != 0 {
		return nil, fmt.Errorf("effects: dependencies length %d", len(deps))
	}

	for i := 0; i < len(deps); i += 32 {
		var d messages.TransactionDigest
		copy(d[:], deps[i:i+32])
		e.Dependencies = append(e.Dependencies, d)
	}

	return e, nil
}

func readSignedEffects(r table) (*messages.SignedEffects, error) {
	et, ok := r.child(0)
	if !ok {
		return nil, fmt.Errorf("signed effects: missing effects")
	}

	effects, err := readEffects(et)
	if err != nil {
		return nil, err
	}

	s := &messages.SignedEffects{Effects: effects, Signature: r.bytes(2)}
	if !r.fixed(1, s.Authority[:]) {
		return nil, fmt.Errorf("signed effects: bad authority length")
	}

	return s, nil
}

func readOrderInfoRequest(r table) (*messages.OrderInfoRequest, error) {
	req := &messages.OrderInfoRequest{}
	if !r.fixed(0, req.TransactionDigest[:]) {
		return nil, fmt.Errorf("order info request: bad digest length")
	}

	return req, nil
}

func readOrderInfoResponse(r table) (*messages.OrderInfoResponse, error) {
	resp := &messages.OrderInfoResponse{}

	if t, ok := r.child(0); ok {
		s, err := readSignedOrder(t)
		if err != nil {
			return nil, err
		}
		resp.SignedOrder = s
	}

	if t, ok := r.child(1); ok {
		c, err := readCertificate(t)
		if err != nil {
			return nil, err
		}
		resp.Certificate = c
	}

	if t, ok := r.child(2); ok {
		e, err := readSignedEffects(t)
		if err != nil {
			return nil, err
		}
		resp.SignedEffects = e
	}

	return resp, nil
}

func readObjectInfoRequest(r table) (*messages.ObjectInfoRequest, error) {
	req := &messages.ObjectInfoRequest{}
	if !r.fixed(0, req.ObjectID[:]) {
		return nil, fmt.Errorf("object info request: bad id length")
	}

	if r.flag(1) {
		seq := r.u64(2)
		req.RequestSequence = &seq
	}

	return req, nil
}

func readObjectInfoResponse(r table) (*messages.ObjectInfoResponse, error) {
	resp := &messages.ObjectInfoResponse{}

	if t, ok := r.child(0); ok {
		c, err := readCertificate(t)
		if err != nil {
			return nil, err
		}
		resp.ParentCertificate = c
	}

	if t, ok := r.child(1); ok {
		c, err := readCertificate(t)
		if err != nil {
			return nil, err
		}
		resp.RequestedCertificate = c
	}

	if t, ok := r.child(2); ok {
		o, err := readObject(t)
		if err != nil {
			return nil, err
		}
		resp.Object = o
	}

	if t, ok := r.child(3); ok {
		s, err := readSignedOrder(t)
		if err != nil {
			return nil, err
		}
		resp.Lock = s
	}

	return resp, nil
}

func readAccountInfoRequest(r table) (*messages.AccountInfoRequest, error) {
	req := &messages.AccountInfoRequest{}
	if !r.fixed(0, req.Address[:]) {
		return nil, fmt.Errorf("account info request: bad address length")
	}

	return req, nil
}

func readAccountInfoResponse(r table) (*messages.AccountInfoResponse, error) {
	resp := &messages.AccountInfoResponse{}
	if !r.fixed(0, resp.Address[:]) {
		return nil, fmt.Errorf("account info response: bad address length")
	}

	refs, err := readObjectRefs(r, 1)
	if err != nil {
		return nil, err
	}
	resp.ObjectRefs = refs

	return resp, nil
}
