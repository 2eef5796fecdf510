package committee

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"math"
	"math/rand"
	"sort"
)

const (
	// NameSize is the size of an authority name: a compressed BLS public key.
	NameSize = 48

	// MaxTotalWeight bounds the sum of member weights so threshold
	// arithmetic and weighted sampling cannot overflow.
	MaxTotalWeight = math.MaxInt64
)

// AuthorityName identifies a committee member by its BLS public key.
type AuthorityName [NameSize]byte

// String returns the hex encoding of the name.
func (n AuthorityName) String() string {
	return hex.EncodeToString(n[:])
}

// Short returns an abbreviated form for log lines.
func (n AuthorityName) Short() string {
	return hex.EncodeToString(n[:4])
}

// Bytes returns the name as a byte slice.
func (n AuthorityName) Bytes() []byte {
	return n[:]
}

// NameFromBytes converts a public key into an AuthorityName.
func NameFromBytes(b []byte) (AuthorityName, error) {
	var n AuthorityName
	if len(b) != NameSize {
		return n, fmt.Errorf("authority name must be %d bytes, got %d", NameSize, len(b))
	}

	copy(n[:], b)

	return n, nil
}

// ParseName decodes a hex authority name.
func ParseName(s string) (AuthorityName, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return AuthorityName{}, fmt.Errorf("decode authority name:\n%w", err)
	}

	return NameFromBytes(b)
}

// Committee is the stake-weighted membership of one epoch.
// It is immutable after construction and safe for concurrent reads.
type Committee struct {
	epoch   uint64                   // epoch is the epoch this membership belongs to
	weights map[AuthorityName]uint64 // weights maps each member to its voting weight
	names   []AuthorityName          // names are the members in ascending byte order
	total   uint64                   // total is the sum of all weights
}

// NewCommittee builds a committee for the given epoch.
// Members with zero weight are dropped. The total weight must not exceed
// MaxTotalWeight.
func NewCommittee(epoch uint64, weights map[AuthorityName]uint64) (*Committee, error) {
	c := &Committee{
		epoch:   epoch,
		weights: make(map[AuthorityName]uint64, len(weights)),
	}

	for name, w := range weights {
		if w == 0 {
			continue
		}

		if w > MaxTotalWeight-c.total {
			return nil, fmt.Errorf("committee weight exceeds %d", uint64(MaxTotalWeight))
		}

		c.weights[name] = w
		c.names = append(c.names, name)
		c.total += w
	}

	sort.Slice(c.names, func(i, j int) bool {
		return bytes.Compare(c.names[i][:], c.names[j][:]) < 0
	})

	return c, nil
}

// Epoch returns the committee's epoch.
func (c *Committee) Epoch() uint64 {
	return c.epoch
}

// Weight returns the voting weight of an authority, 0 for non-members.
func (c *Committee) Weight(name AuthorityName) uint64 {
	return c.weights[name]
}

// Contains reports whether the authority is a member.
func (c *Committee) Contains(name AuthorityName) bool {
	return c.weights[name] > 0
}

// Len returns the number of members.
func (c *Committee) Len() int {
	return len(c.names)
}

// Names returns the members in deterministic order.
func (c *Committee) Names() []AuthorityName {
	out := make([]AuthorityName, len(c.names))
	copy(out, c.names)

	return out
}

// TotalWeight returns the sum of all member weights.
func (c *Committee) TotalWeight() uint64 {
	return c.total
}

// QuorumThreshold returns the minimum weight that certifies an order.
// With N = 3f+1+k (0 <= k < 3) this is 2N/3 + 1, so two quorums always
// share at least one honest member.
func (c *Committee) QuorumThreshold() uint64 {
	return 2*c.total/3 + 1
}

// ValidityThreshold returns the minimum weight guaranteed to contain an
// honest member. With N = 3f+1+k (0 <= k < 3) this is f+1.
func (c *Committee) ValidityThreshold() uint64 {
	return (c.total + 2) / 3
}

// Sample picks a member at random with probability proportional to its weight.
func (c *Committee) Sample(rng *rand.Rand) AuthorityName {
	if c.total == 0 {
		return AuthorityName{}
	}

	target := uint64(rng.Int63n(int64(c.total)))

	for _, name := range c.names {
		w := c.weights[name]
		if target < w {
			return name
		}

		target -= w
	}

	return c.names[len(c.names)-1]
}

// SampleFrom picks up to n distinct members of candidates, weighted by stake
// and without replacement. Candidates that are not members are never chosen.
// Draws are rejection-sampled over the whole committee, so the number of
// draws is bounded by maxDraws.
func (c *Committee) SampleFrom(rng *rand.Rand, candidates []AuthorityName, n int) []AuthorityName {
	allowed := make(map[AuthorityName]bool, len(candidates))
	for _, name := range candidates {
		if c.Contains(name) {
			allowed[name] = true
		}
	}

	if n > len(allowed) {
		n = len(allowed)
	}

	picked := make([]AuthorityName, 0, n)
	maxDraws := 64 * (len(c.names) + 1)

	for draw := 0; len(picked) < n && draw < maxDraws; draw++ {
		name := c.Sample(rng)
		if !allowed[name] {
			continue
		}

		delete(allowed, name)
		picked = append(picked, name)
	}

	// Unlucky draws: fill the remainder deterministically
	if len(picked) < n {
		for _, name := range c.names {
			if len(picked) == n {
				break
			}

			if allowed[name] {
				delete(allowed, name)
				picked = append(picked, name)
			}
		}
	}

	return picked
}
