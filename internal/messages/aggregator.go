package messages

import (
	"fmt"

	"Certifier/internal/committee"
	"Certifier/internal/crypto"
)

// SignatureAggregator folds authority votes on one order into a certificate.
// It is not safe for concurrent use.
type SignatureAggregator struct {
	committee *committee.Committee             // committee weighs the votes
	order     *Order                           // order is the order being certified
	digest    TransactionDigest                // digest is the signed message
	weight    uint64                           // weight is the stake gathered so far
	used      map[committee.AuthorityName]bool // used tracks authorities already counted
	partial   []AuthoritySignature             // partial are the accepted votes in arrival order
}

// NewSignatureAggregator starts aggregating votes for an order.
// The order's own signature must be valid.
func NewSignatureAggregator(order *Order, c *committee.Committee) (*SignatureAggregator, error) {
	if err := order.CheckSignature(); err != nil {
		return nil, err
	}

	return &SignatureAggregator{
		committee: c,
		order:     order,
		digest:    order.Digest(),
		used:      make(map[committee.AuthorityName]bool),
	}, nil
}

// Weight returns the stake gathered so far.
func (a *SignatureAggregator) Weight() uint64 {
	return a.weight
}

// Append adds one vote. It returns the certificate once the gathered
// weight reaches quorum, nil otherwise.
func (a *SignatureAggregator) Append(authority committee.AuthorityName, signature []byte) (*Certificate, error) {
	if !crypto.Verify(signature, a.digest[:], authority[:]) {
		return nil, fmt.Errorf("vote by %s:\n%w", authority.Short(), ErrInvalidSignature)
	}

	if a.used[authority] {
		return nil, fmt.Errorf("vote by %s:\n%w", authority.Short(), ErrDuplicateSigner)
	}

	weight := a.committee.Weight(authority)
	if weight == 0 {
		return nil, fmt.Errorf("vote by %s:\n%w", authority.Short(), ErrUnknownSigner)
	}

	a.used[authority] = true
	a.weight += weight
	a.partial = append(a.partial, AuthoritySignature{Authority: authority, Signature: signature})

	if a.weight < a.committee.QuorumThreshold() {
		return nil, nil
	}

	sigs := make([]AuthoritySignature, len(a.partial))
	copy(sigs, a.partial)

	return &Certificate{Order: a.order, Signatures: sigs}, nil
}

// Check verifies a certificate against a committee: no repeated signer,
// every signer weighted, quorum weight, and all signatures valid.
func (c *Certificate) Check(comm *committee.Committee) error {
	if c.Order == nil {
		return fmt.Errorf("certificate without order:\n%w", ErrInvalidOrder)
	}

	seen := make(map[committee.AuthorityName]bool, len(c.Signatures))
	var weight uint64

	for _, s := range c.Signatures {
		if seen[s.Authority] {
			return fmt.Errorf("signer %s:\n%w", s.Authority.Short(), ErrDuplicateSigner)
		}
		seen[s.Authority] = true

		w := comm.Weight(s.Authority)
		if w == 0 {
			return fmt.Errorf("signer %s:\n%w", s.Authority.Short(), ErrUnknownSigner)
		}

		weight += w
	}

	if weight < comm.QuorumThreshold() {
		return fmt.Errorf("weight %d below %d:\n%w", weight, comm.QuorumThreshold(), ErrCertificateRequiresQuorum)
	}

	if err := c.Order.CheckSignature(); err != nil {
		return err
	}

	d := c.Order.Digest()
	sigs := make([][]byte, len(c.Signatures))
	keys := make([][]byte, len(c.Signatures))

	for i, s := range c.Signatures {
		sigs[i] = s.Signature
		keys[i] = s.Authority.Bytes()
	}

	if !crypto.VerifyBatch(d[:], sigs, keys) {
		return fmt.Errorf("certificate %s:\n%w", d, ErrInvalidSignature)
	}

	return nil
}
