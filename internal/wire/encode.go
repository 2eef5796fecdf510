package wire

import (
	flatbuffers "github.com/google/flatbuffers/go"

	"Certifier/internal/messages"
)

func buildObjectRef(b *flatbuffers.Builder, r messages.ObjectRef) flatbuffers.UOffsetT {
	id := b.CreateByteVector(r.ID[:])
	digest := b.CreateByteVector(r.Digest[:])

	b.StartObject(3)
	b.PrependUOffsetTSlot(0, id, 0)
	b.PrependUint64Slot(1, r.Version, 0)
	b.PrependUOffsetTSlot(2, digest, 0)

	return b.EndObject()
}

func buildObjectRefs(b *flatbuffers.Builder, refs []messages.ObjectRef) flatbuffers.UOffsetT {
	offsets := make([]flatbuffers.UOffsetT, len(refs))
	for i, r := range refs {
		offsets[i] = buildObjectRef(b, r)
	}

	return buildVector(b, offsets)
}

func buildObject(b *flatbuffers.Builder, o *messages.Object) flatbuffers.UOffsetT {
	if o == nil {
		return 0
	}

	id := b.CreateByteVector(o.ID[:])
	owner := b.CreateByteVector(o.Owner[:])
	contents := b.CreateByteVector(o.Contents)
	parent := b.CreateByteVector(o.Parent[:])

	b.StartObject(5)
	b.PrependUOffsetTSlot(0, id, 0)
	b.PrependUint64Slot(1, o.Version, 0)
	b.PrependUOffsetTSlot(2, owner, 0)
	b.PrependUOffsetTSlot(3, contents, 0)
	b.PrependUOffsetTSlot(4, parent, 0)

	return b.EndObject()
}

func buildOrder(b *flatbuffers.Builder, o *messages.Order) flatbuffers.UOffsetT {
	if o == nil {
		return 0
	}

	sender := b.CreateByteVector(o.Sender[:])
	inputs := buildObjectRefs(b, o.Inputs)
	recipient := b.CreateByteVector(o.Recipient[:])
	payload := b.CreateByteVector(o.Payload)
	sig := b.CreateByteVector(o.Signature)

	b.StartObject(6)
	b.PrependByteSlot(0, byte(o.Kind), 0)
	b.PrependUOffsetTSlot(1, sender, 0)
	b.PrependUOffsetTSlot(2, inputs, 0)
	b.PrependUOffsetTSlot(3, recipient, 0)
	b.PrependUOffsetTSlot(4, payload, 0)
	b.PrependUOffsetTSlot(5, sig, 0)

	return b.EndObject()
}

func buildSignedOrder(b *flatbuffers.Builder, s *messages.SignedOrder) flatbuffers.UOffsetT {
	if s == nil {
		return 0
	}

	order := buildOrder(b, s.Order)
	authority := b.CreateByteVector(s.Authority[:])
	sig := b.CreateByteVector(s.Signature)

	b.StartObject(3)
	b.PrependUOffsetTSlot(0, order, 0)
	b.PrependUOffsetTSlot(1, authority, 0)
	b.PrependUOffsetTSlot(2, sig, 0)

	return b.EndObject()
}

func buildCertificate(b *flatbuffers.Builder, c *messages.Certificate) flatbuffers.UOffsetT {
	if c == nil {
		return 0
	}

	order := buildOrder(b, c.Order)

	sigOffsets := make([]flatbuffers.UOffsetT, len(c.Signatures))
	for i, s := range c.Signatures {
		authority := b.CreateByteVector(s.Authority[:])
		sig := b.CreateByteVector(s.Signature)

		b.StartObject(2)
		b.PrependUOffsetTSlot(0, authority, 0)
		b.PrependUOffsetTSlot(1, sig, 0)
		sigOffsets[i] = b.EndObject()
	}

	sigs := buildVector(b, sigOffsets)

	b.StartObject(2)
	b.PrependUOffsetTSlot(0, order, 0)
	b.PrependUOffsetTSlot(1, sigs, 0)

	return b.EndObject()
}

func buildEffects(b *flatbuffers.Builder, e *messages.Effects) flatbuffers.UOffsetT {
	if e == nil {
		return 0
	}

	digest := b.CreateByteVector(e.TransactionDigest[:])
	mutated := buildObjectRefs(b, e.Mutated)
	deleted := buildObjectRefs(b, e.Deleted)

	deps := make([]byte, 0, len(e.Dependencies)*32)
	for _, d := range e.Dependencies {
		deps = append(deps, d[:]...)
	}
	depsVec := b.CreateByteVector(deps)

	b.StartObject(4)
	b.PrependUOffsetTSlot(0, digest, 0)
	b.PrependUOffsetTSlot(1, mutated, 0)
	b.PrependUOffsetTSlot(2, deleted, 0)
	b.PrependUOffsetTSlot(3, depsVec, 0)

	return b.EndObject()
}

func buildSignedEffects(b *flatbuffers.Builder, s *messages.SignedEffects) flatbuffers.UOffsetT {
	if s == nil {
		return 0
	}

	effects := buildEffects(b, s.Effects)
	authority := b.CreateByteVector(s.Authority[:])
	sig := b.CreateByteVector(s.Signature)

	b.StartObject(3)
	b.PrependUOffsetTSlot(0, effects, 0)
	b.PrependUOffsetTSlot(1, authority, 0)
	b.PrependUOffsetTSlot(2, sig, 0)

	return b.EndObject()
}

func buildOrderInfoRequest(b *flatbuffers.Builder, r *messages.OrderInfoRequest) flatbuffers.UOffsetT {
	digest := b.CreateByteVector(r.TransactionDigest[:])

	b.StartObject(1)
	b.PrependUOffsetTSlot(0, digest, 0)

	return b.EndObject()
}

func buildOrderInfoResponse(b *flatbuffers.Builder, r *messages.OrderInfoResponse) flatbuffers.UOffsetT {
	signed := buildSignedOrder(b, r.SignedOrder)
	cert := buildCertificate(b, r.Certificate)
	effects := buildSignedEffects(b, r.SignedEffects)

	b.StartObject(3)
	b.PrependUOffsetTSlot(0, signed, 0)
	b.PrependUOffsetTSlot(1, cert, 0)
	b.PrependUOffsetTSlot(2, effects, 0)

	return b.EndObject()
}

func buildObjectInfoRequest(b *flatbuffers.Builder, r *messages.ObjectInfoRequest) flatbuffers.UOffsetT {
	id := b.CreateByteVector(r.ObjectID[:])

	b.StartObject(3)
	b.PrependUOffsetTSlot(0, id, 0)

	if r.RequestSequence != nil {
		b.PrependBoolSlot(1, true, false)
		b.PrependUint64Slot(2, *r.RequestSequence, 0)
	}

	return b.EndObject()
}

func buildObjectInfoResponse(b *flatbuffers.Builder, r *messages.ObjectInfoResponse) flatbuffers.UOffsetT {
	parent := buildCertificate(b, r.ParentCertificate)
	requested := buildCertificate(b, r.RequestedCertificate)
	object := buildObject(b, r.Object)
	lock := buildSignedOrder(b, r.Lock)

	b.StartObject(4)
	b.PrependUOffsetTSlot(0, parent, 0)
	b.PrependUOffsetTSlot(1, requested, 0)
	b.PrependUOffsetTSlot(2, object, 0)
	b.PrependUOffsetTSlot(3, lock, 0)

	return b.EndObject()
}

func buildAccountInfoRequest(b *flatbuffers.Builder, r *messages.AccountInfoRequest) flatbuffers.UOffsetT {
	addr := b.CreateByteVector(r.Address[:])

	b.StartObject(1)
	b.PrependUOffsetTSlot(0, addr, 0)

	return b.EndObject()
}

func buildAccountInfoResponse(b *flatbuffers.Builder, r *messages.AccountInfoResponse) flatbuffers.UOffsetT {
	addr := b.CreateByteVector(r.Address[:])
	refs := buildObjectRefs(b, r.ObjectRefs)

	b.StartObject(2)
	b.PrependUOffsetTSlot(0, addr, 0)
	b.PrependUOffsetTSlot(1, refs, 0)

	return b.EndObject()
}
