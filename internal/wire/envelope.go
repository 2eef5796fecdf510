package wire

import (
	"fmt"

	flatbuffers "github.com/google/flatbuffers/go"

	"Certifier/internal/messages"
)

// Kind identifies the request an envelope belongs to.
type Kind uint8

const (
	KindOrder        Kind = 0x01 // Order -> OrderInfoResponse
	KindConfirmation Kind = 0x02 // ConfirmationOrder -> OrderInfoResponse
	KindAccountInfo  Kind = 0x03 // AccountInfoRequest -> AccountInfoResponse
	KindObjectInfo   Kind = 0x04 // ObjectInfoRequest -> ObjectInfoResponse
	KindOrderInfo    Kind = 0x05 // OrderInfoRequest -> OrderInfoResponse
)

func (k Kind) String() string {
	switch k {
	case KindOrder:
		return "order"
	case KindConfirmation:
		return "confirmation"
	case KindAccountInfo:
		return "account_info"
	case KindObjectInfo:
		return "object_info"
	case KindOrderInfo:
		return "order_info"
	default:
		return fmt.Sprintf("kind(0x%02x)", uint8(k))
	}
}

// Envelope slots.
const (
	slotKind     = 0
	slotBody     = 1
	slotCode     = 2
	slotMessage  = 3
	slotResponse = 4
)

// EncodeRequest encodes a request message.
func EncodeRequest(kind Kind, msg any) ([]byte, error) {
	return encode(kind, msg, false)
}

// EncodeResponse encodes a successful response message.
func EncodeResponse(kind Kind, msg any) ([]byte, error) {
	return encode(kind, msg, true)
}

// EncodeError encodes an error response. The error class travels as its code.
func EncodeError(kind Kind, err error) []byte {
	b := flatbuffers.NewBuilder(256)
	msg := b.CreateString(err.Error())

	code := messages.CodeOf(err)
	if code == messages.CodeUnknown {
		code = messages.CodeInvalidOrder
	}

	b.StartObject(5)
	b.PrependByteSlot(slotKind, byte(kind), 0)
	b.PrependUint16Slot(slotCode, uint16(code), 0)
	b.PrependUOffsetTSlot(slotMessage, msg, 0)
	b.PrependBoolSlot(slotResponse, true, false)
	b.Finish(b.EndObject())

	return b.FinishedBytes()
}

func encode(kind Kind, msg any, response bool) ([]byte, error) {
	b := flatbuffers.NewBuilder(1024)

	body, err := buildBody(b, kind, msg, response)
	if err != nil {
		return nil, err
	}

	b.StartObject(5)
	b.PrependByteSlot(slotKind, byte(kind), 0)
	b.PrependUOffsetTSlot(slotBody, body, 0)
	b.PrependBoolSlot(slotResponse, response, false)
	b.Finish(b.EndObject())

	return b.FinishedBytes(), nil
}

// buildBody writes the table for a message and checks it matches the kind.
func buildBody(b *flatbuffers.Builder, kind Kind, msg any, response bool) (flatbuffers.UOffsetT, error) {
	switch m := msg.(type) {
	case *messages.Order:
		if kind == KindOrder && !response {
			return buildOrder(b, m), nil
		}
	case *messages.ConfirmationOrder:
		if kind == KindConfirmation && !response {
			return buildCertificate(b, m.Certificate), nil
		}
	case *messages.AccountInfoRequest:
		if kind == KindAccountInfo && !response {
			return buildAccountInfoRequest(b, m), nil
		}
	case *messages.ObjectInfoRequest:
		if kind == KindObjectInfo && !response {
			return buildObjectInfoRequest(b, m), nil
		}
	case *messages.OrderInfoRequest:
		if kind == KindOrderInfo && !response {
			return buildOrderInfoRequest(b, m), nil
		}
	case *messages.OrderInfoResponse:
		if response && (kind == KindOrder || kind == KindConfirmation || kind == KindOrderInfo) {
			return buildOrderInfoResponse(b, m), nil
		}
	case *messages.AccountInfoResponse:
		if kind == KindAccountInfo && response {
			return buildAccountInfoResponse(b, m), nil
		}
	case *messages.ObjectInfoResponse:
		if kind == KindObjectInfo && response {
			return buildObjectInfoResponse(b, m), nil
		}
	}

	return 0, fmt.Errorf("cannot encode %T as %s (response=%t)", msg, kind, response)
}

// DecodeRequest decodes a request envelope.
func DecodeRequest(data []byte) (kind Kind, msg any, err error) {
	defer recoverMalformed(&err)

	env, err := openEnvelope(data)
	if err != nil {
		return 0, nil, err
	}

	if env.flag(slotResponse) {
		return 0, nil, fmt.Errorf("expected request, got response")
	}

	kind = Kind(env.u8(slotKind))

	body, ok := env.child(slotBody)
	if !ok {
		return kind, nil, fmt.Errorf("%s request without body", kind)
	}

	switch kind {
	case KindOrder:
		msg, err = readOrder(body)
	case KindConfirmation:
		var cert *messages.Certificate
		cert, err = readCertificate(body)
		msg = &messages.ConfirmationOrder{Certificate: cert}
	case KindAccountInfo:
		msg, err = readAccountInfoRequest(body)
	case KindObjectInfo:
		msg, err = readObjectInfoRequest(body)
	case KindOrderInfo:
		msg, err = readOrderInfoRequest(body)
	default:
		return kind, nil, fmt.Errorf("unknown request kind %s", kind)
	}

	if err != nil {
		return kind, nil, fmt.Errorf("decode %s request:\n%w", kind, err)
	}

	return kind, msg, nil
}

// DecodeResponse decodes a response envelope for the expected kind.
// Error envelopes are returned as errors carrying the remote error class.
func DecodeResponse(data []byte, want Kind) (msg any, err error) {
	defer recoverMalformed(&err)

	env, err := openEnvelope(data)
	if err != nil {
		return nil, err
	}

	if !env.flag(slotResponse) {
		return nil, fmt.Errorf("expected response, got request")
	}

	kind := Kind(env.u8(slotKind))
	if kind != want {
		return nil, fmt.Errorf("response kind %s, want %s", kind, want)
	}

	if code := messages.ErrorCode(env.u16(slotCode)); code != messages.CodeUnknown {
		return nil, messages.FromCode(code, env.str(slotMessage))
	}

	body, ok := env.child(slotBody)
	if !ok {
		return nil, fmt.Errorf("%s response without body", kind)
	}

	switch kind {
	case KindOrder, KindConfirmation, KindOrderInfo:
		msg, err = readOrderInfoResponse(body)
	case KindAccountInfo:
		msg, err = readAccountInfoResponse(body)
	case KindObjectInfo:
		msg, err = readObjectInfoResponse(body)
	default:
		return nil, fmt.Errorf("unknown response kind %s", kind)
	}

	if err != nil {
		return nil, fmt.Errorf("decode %s response:\n%w", kind, err)
	}

	return msg, nil
}

// openEnvelope checks the minimum size and returns the root table.
func openEnvelope(data []byte) (table, error) {
	if len(data) < 8 {
		return table{}, fmt.Errorf("envelope too short: %d bytes", len(data))
	}

	return rootTable(data), nil
}

// recoverMalformed turns an out-of-bounds read on a malformed buffer into an error.
func recoverMalformed(err *error) {
	if r := recover(); r != nil {
		*err = fmt.Errorf("malformed envelope: %v", r)
	}
}
