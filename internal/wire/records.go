package wire

import (
	"fmt"

	flatbuffers "github.com/google/flatbuffers/go"

	"Certifier/internal/messages"
)

// Standalone encodings used for persistence.

// MarshalObject encodes an object as a root table.
func MarshalObject(o *messages.Object) []byte {
	b := flatbuffers.NewBuilder(128 + len(o.Contents))
	b.Finish(buildObject(b, o))

	return b.FinishedBytes()
}

// UnmarshalObject decodes an object written by MarshalObject.
func UnmarshalObject(data []byte) (o *messages.Object, err error) {
	defer recoverMalformed(&err)

	if len(data) < 8 {
		return nil, fmt.Errorf("object record too short")
	}

	return readObject(rootTable(data))
}

// MarshalOrder encodes a client order as a root table.
func MarshalOrder(o *messages.Order) []byte {
	b := flatbuffers.NewBuilder(256 + len(o.Payload))
	b.Finish(buildOrder(b, o))

	return b.FinishedBytes()
}

// UnmarshalOrder decodes an order written by MarshalOrder.
func UnmarshalOrder(data []byte) (o *messages.Order, err error) {
	defer recoverMalformed(&err)

	if len(data) < 8 {
		return nil, fmt.Errorf("order record too short")
	}

	return readOrder(rootTable(data))
}

// MarshalCertificate encodes a certificate as a root table.
func MarshalCertificate(c *messages.Certificate) []byte {
	b := flatbuffers.NewBuilder(512)
	b.Finish(buildCertificate(b, c))

	return b.FinishedBytes()
}

// UnmarshalCertificate decodes a certificate written by MarshalCertificate.
func UnmarshalCertificate(data []byte) (c *messages.Certificate, err error) {
	defer recoverMalformed(&err)

	if len(data) < 8 {
		return nil, fmt.Errorf("certificate record too short")
	}

	return readCertificate(rootTable(data))
}

// MarshalSignedOrder encodes a vote as a root table.
func MarshalSignedOrder(s *messages.SignedOrder) []byte {
	b := flatbuffers.NewBuilder(256)
	b.Finish(buildSignedOrder(b, s))

	return b.FinishedBytes()
}

// UnmarshalSignedOrder decodes a vote written by MarshalSignedOrder.
func UnmarshalSignedOrder(data []byte) (s *messages.SignedOrder, err error) {
	defer recoverMalformed(&err)

	if len(data) < 8 {
		return nil, fmt.Errorf("signed order record too short")
	}

	return readSignedOrder(rootTable(data))
}

// MarshalSignedEffects encodes signed effects as a root table.
func MarshalSignedEffects(s *messages.SignedEffects) []byte {
	b := flatbuffers.NewBuilder(256)
	b.Finish(buildSignedEffects(b, s))

	return b.FinishedBytes()
}

// UnmarshalSignedEffects decodes effects written by MarshalSignedEffects.
func UnmarshalSignedEffects(data []byte) (s *messages.SignedEffects, err error) {
	defer recoverMalformed(&err)

	if len(data) < 8 {
		return nil, fmt.Errorf("signed effects record too short")
	}

	return readSignedEffects(rootTable(data))
}
