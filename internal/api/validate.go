package api

import (
	"fmt"

	"Certifier/internal/messages"
	"Certifier/internal/wire"
)

const (
	// maxInputs is the maximum number of input objects per order.
	maxInputs = 64

	// maxPayloadSize is the maximum size of a call payload.
	maxPayloadSize = 256 << 10
)

// decodeOrder parses and validates an order before it is fanned out.
// Checks structure, input references and the sender signature.
func decodeOrder(data []byte) (*messages.Order, error) {
	order, err := wire.UnmarshalOrder(data)
	if err != nil {
		return nil, fmt.Errorf("malformed order:\n%w", err)
	}

	if err := validateOrder(order); err != nil {
		return nil, err
	}

	return order, nil
}

// validateOrder checks an order's shape and signature.
func validateOrder(order *messages.Order) error {
	if !order.Kind.Valid() {
		return fmt.Errorf("unknown order kind %d:\n%w", order.Kind, messages.ErrInvalidOrder)
	}

	if len(order.Inputs) == 0 {
		return fmt.Errorf("order without inputs:\n%w", messages.ErrInvalidOrder)
	}

	if len(order.Inputs) > maxInputs {
		return fmt.Errorf("too many inputs: %d (max %d):\n%w", len(order.Inputs), maxInputs, messages.ErrInvalidOrder)
	}

	if len(order.Payload) > maxPayloadSize {
		return fmt.Errorf("payload too large: %d bytes:\n%w", len(order.Payload), messages.ErrInvalidOrder)
	}

	if err := validateNoDuplicateInputs(order.Inputs); err != nil {
		return err
	}

	return order.CheckSignature()
}

// validateNoDuplicateInputs ensures no object appears twice among the inputs.
func validateNoDuplicateInputs(inputs []messages.ObjectRef) error {
	seen := make(map[messages.ObjectID]bool, len(inputs))

	for _, in := range inputs {
		if seen[in.ID] {
			return fmt.Errorf("duplicate input %s:\n%w", in.ID, messages.ErrInvalidOrder)
		}

		seen[in.ID] = true
	}

	return nil
}

// decodeCertificate parses a certificate and validates its order.
// Signatures are checked against the committee by the confirmation itself.
func decodeCertificate(data []byte) (*messages.Certificate, error) {
	cert, err := wire.UnmarshalCertificate(data)
	if err != nil {
		return nil, fmt.Errorf("malformed certificate:\n%w", err)
	}

	if cert.Order == nil {
		return nil, fmt.Errorf("certificate without order:\n%w", messages.ErrInvalidOrder)
	}

	if len(cert.Signatures) == 0 {
		return nil, fmt.Errorf("certificate without signatures:\n%w", messages.ErrCertificateRequiresQuorum)
	}

	if err := validateOrder(cert.Order); err != nil {
		return nil, err
	}

	return cert, nil
}
