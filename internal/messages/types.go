package messages

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"

	"Certifier/internal/committee"
	"Certifier/internal/crypto"
)

// Address is a client account: its ed25519 public key.
type Address [32]byte

// ObjectID identifies an object across versions.
type ObjectID [32]byte

// ObjectDigest is the digest of one object version.
type ObjectDigest [32]byte

// TransactionDigest identifies an order by its content.
type TransactionDigest [32]byte

func (a Address) String() string           { return hex.EncodeToString(a[:]) }
func (id ObjectID) String() string         { return hex.EncodeToString(id[:]) }
func (d ObjectDigest) String() string      { return hex.EncodeToString(d[:]) }
func (d TransactionDigest) String() string { return hex.EncodeToString(d[:]) }

// IsZero reports whether the digest is unset. Genesis objects have a zero parent.
func (d TransactionDigest) IsZero() bool {
	return d == TransactionDigest{}
}

// AddressFromKey converts a client public key into an address.
func AddressFromKey(pub ed25519.PublicKey) Address {
	var a Address
	copy(a[:], pub)

	return a
}

// ParseAddress decodes a hex address.
func ParseAddress(s string) (Address, error) {
	var a Address

	b, err := hex.DecodeString(s)
	if err != nil || len(b) != len(a) {
		return a, fmt.Errorf("invalid address %q", s)
	}

	copy(a[:], b)

	return a, nil
}

// ParseObjectID decodes a hex object id.
func ParseObjectID(s string) (ObjectID, error) {
	var id ObjectID

	b, err := hex.DecodeString(s)
	if err != nil || len(b) != len(id) {
		return id, fmt.Errorf("invalid object id %q", s)
	}

	copy(id[:], b)

	return id, nil
}

// ObjectRef points at one version of an object.
type ObjectRef struct {
	ID      ObjectID     // ID is the object id
	Version uint64       // Version is the sequence number of this version
	Digest  ObjectDigest // Digest is the content digest of this version
}

// Object is one version of an owned object.
type Object struct {
	ID       ObjectID          // ID is the object id
	Version  uint64            // Version is the current sequence number
	Owner    Address           // Owner is the account allowed to use the object
	Contents []byte            // Contents is the opaque object payload
	Parent   TransactionDigest // Parent is the order that produced this version
}

// Digest returns the content digest of this version.
func (o *Object) Digest() ObjectDigest {
	return ObjectDigest(crypto.NewHasher("Object").
		Fixed(o.ID[:]).
		Uint64(o.Version).
		Fixed(o.Owner[:]).
		Bytes(o.Contents).
		Fixed(o.Parent[:]).
		Sum())
}

// Ref returns a reference to this version.
func (o *Object) Ref() ObjectRef {
	return ObjectRef{ID: o.ID, Version: o.Version, Digest: o.Digest()}
}

// OrderKind selects what an order does with its inputs.
type OrderKind uint8

const (
	// OrderTransfer hands the first input to the recipient.
	OrderTransfer OrderKind = 1

	// OrderCall applies an opaque payload to every input.
	OrderCall OrderKind = 2

	// OrderDelete removes every input.
	OrderDelete OrderKind = 3
)

// Valid reports whether the kind is known.
func (k OrderKind) Valid() bool {
	return k >= OrderTransfer && k <= OrderDelete
}

// Order is a client-signed state transition over owned objects.
type Order struct {
	Kind      OrderKind   // Kind selects transfer or call
	Sender    Address     // Sender owns every input
	Inputs    []ObjectRef // Inputs are the consumed object versions
	Recipient Address     // Recipient receives the object of a transfer
	Payload   []byte      // Payload is the argument of a call
	Signature []byte      // Signature is the sender's ed25519 signature over Digest
}

// Digest returns the content digest of the order, excluding its signature.
func (o *Order) Digest() TransactionDigest {
	h := crypto.NewHasher("Order").
		Uint64(uint64(o.Kind)).
		Fixed(o.Sender[:]).
		Uint64(uint64(len(o.Inputs)))

	for _, in := range o.Inputs {
		h.Fixed(in.ID[:]).Uint64(in.Version).Fixed(in.Digest[:])
	}

	h.Fixed(o.Recipient[:]).Bytes(o.Payload)

	return TransactionDigest(h.Sum())
}

// Sign sets the sender signature.
func (o *Order) Sign(priv ed25519.PrivateKey) {
	d := o.Digest()
	o.Signature = ed25519.Sign(priv, d[:])
}

// CheckSignature verifies the sender signature.
func (o *Order) CheckSignature() error {
	d := o.Digest()
	if !crypto.VerifyClient(o.Sender[:], d[:], o.Signature) {
		return fmt.Errorf("order %s: sender signature:\n%w", d, ErrInvalidSignature)
	}

	return nil
}

// Position returns the logical position of the order: the first input object
// and the version it consumes.
func (o *Order) Position() Position {
	if len(o.Inputs) == 0 {
		return Position{}
	}

	return Position{ObjectID: o.Inputs[0].ID, Sequence: o.Inputs[0].Version}
}

// Consumes reports whether the order consumes the object at the given version.
func (o *Order) Consumes(id ObjectID, version uint64) bool {
	for _, in := range o.Inputs {
		if in.ID == id && in.Version == version {
			return true
		}
	}

	return false
}

// Position is the logical place of a certificate in an object's history:
// the certificate that consumed ObjectID at Sequence.
type Position struct {
	ObjectID ObjectID // ObjectID is the object
	Sequence uint64   // Sequence is the consumed version
}

// String returns the cache key form of the position.
func (p Position) String() string {
	return fmt.Sprintf("%s:%d", p.ObjectID, p.Sequence)
}

// AuthoritySignature is one authority's vote.
type AuthoritySignature struct {
	Authority committee.AuthorityName // Authority is the signer
	Signature []byte                  // Signature is the BLS signature over the order digest
}

// SignedOrder is an order with a single authority vote.
type SignedOrder struct {
	Order     *Order                  // Order is the voted order
	Authority committee.AuthorityName // Authority is the voter
	Signature []byte                  // Signature is the BLS signature over the order digest
}

// NewSignedOrder signs an order on behalf of an authority.
func NewSignedOrder(order *Order, name committee.AuthorityName, key *crypto.BLSKeyPair) *SignedOrder {
	d := order.Digest()

	return &SignedOrder{
		Order:     order,
		Authority: name,
		Signature: key.Sign(d[:]),
	}
}

// Check verifies the vote and returns the voter's weight.
func (s *SignedOrder) Check(c *committee.Committee) (uint64, error) {
	weight := c.Weight(s.Authority)
	if weight == 0 {
		return 0, fmt.Errorf("vote by %s:\n%w", s.Authority.Short(), ErrUnknownSigner)
	}

	d := s.Order.Digest()
	if !crypto.Verify(s.Signature, d[:], s.Authority[:]) {
		return 0, fmt.Errorf("vote by %s:\n%w", s.Authority.Short(), ErrInvalidSignature)
	}

	return weight, nil
}

// Certificate is an order backed by a quorum of authority signatures.
type Certificate struct {
	Order      *Order               // Order is the certified order
	Signatures []AuthoritySignature // Signatures are the votes, no authority repeated
}

// Digest returns the digest of the certified order.
func (c *Certificate) Digest() TransactionDigest {
	return c.Order.Digest()
}

// Signers returns the authorities that signed the certificate.
func (c *Certificate) Signers() []committee.AuthorityName {
	out := make([]committee.AuthorityName, len(c.Signatures))
	for i, s := range c.Signatures {
		out[i] = s.Authority
	}

	return out
}

// ConfirmationOrder asks an authority to execute a certificate.
type ConfirmationOrder struct {
	Certificate *Certificate // Certificate is the certificate to execute
}

// Effects records what executing an order did.
type Effects struct {
	TransactionDigest TransactionDigest   // TransactionDigest is the executed order
	Mutated           []ObjectRef         // Mutated are the new versions of written objects
	Deleted           []ObjectRef         // Deleted are the removed object versions
	Dependencies      []TransactionDigest // Dependencies are the orders that produced the inputs
}

// Digest returns the digest of the effects.
func (e *Effects) Digest() [32]byte {
	h := crypto.NewHasher("Effects").Fixed(e.TransactionDigest[:])

	writeRefs := func(refs []ObjectRef) {
		h.Uint64(uint64(len(refs)))
		for _, r := range refs {
			h.Fixed(r.ID[:]).Uint64(r.Version).Fixed(r.Digest[:])
		}
	}

	writeRefs(e.Mutated)
	writeRefs(e.Deleted)

	h.Uint64(uint64(len(e.Dependencies)))
	for _, d := range e.Dependencies {
		h.Fixed(d[:])
	}

	return h.Sum()
}

// SignedEffects is effects signed by the executing authority.
type SignedEffects struct {
	Effects   *Effects                // Effects are the execution results
	Authority committee.AuthorityName // Authority is the executor
	Signature []byte                  // Signature is the BLS signature over the effects digest
}

// NewSignedEffects signs effects on behalf of an authority.
func NewSignedEffects(effects *Effects, name committee.AuthorityName, key *crypto.BLSKeyPair) *SignedEffects {
	d := effects.Digest()

	return &SignedEffects{
		Effects:   effects,
		Authority: name,
		Signature: key.Sign(d[:]),
	}
}

// Check verifies the effects signature against the committee.
func (s *SignedEffects) Check(c *committee.Committee) error {
	if !c.Contains(s.Authority) {
		return fmt.Errorf("effects by %s:\n%w", s.Authority.Short(), ErrUnknownSigner)
	}

	d := s.Effects.Digest()
	if !crypto.Verify(s.Signature, d[:], s.Authority[:]) {
		return fmt.Errorf("effects by %s:\n%w", s.Authority.Short(), ErrInvalidSignature)
	}

	return nil
}

// OrderInfoRequest asks for everything an authority knows about an order.
type OrderInfoRequest struct {
	TransactionDigest TransactionDigest // TransactionDigest is the order
}

// OrderInfoResponse is an authority's view of one order.
type OrderInfoResponse struct {
	SignedOrder   *SignedOrder   // SignedOrder is the authority's vote, if any
	Certificate   *Certificate   // Certificate is set once the order was executed
	SignedEffects *SignedEffects // SignedEffects is set once the order was executed
}

// ObjectInfoRequest asks for an object and optionally a certificate in its history.
type ObjectInfoRequest struct {
	ObjectID        ObjectID // ObjectID is the object
	RequestSequence *uint64  // RequestSequence selects the certificate that consumed this version
}

// ObjectInfoResponse is an authority's view of one object.
type ObjectInfoResponse struct {
	ParentCertificate    *Certificate // ParentCertificate produced the current version
	RequestedCertificate *Certificate // RequestedCertificate consumed the requested version
	Object               *Object      // Object is the current version, nil if deleted
	Lock                 *SignedOrder // Lock is the pending vote on the current version
}

// AccountInfoRequest asks for the objects owned by an address.
type AccountInfoRequest struct {
	Address Address // Address is the owner
}

// AccountInfoResponse lists the objects owned by an address.
type AccountInfoResponse struct {
	Address    Address     // Address is the owner
	ObjectRefs []ObjectRef // ObjectRefs are the current versions owned
}
