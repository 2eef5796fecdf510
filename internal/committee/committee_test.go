package committee

import (
	"math"
	"math/rand"
	"testing"
)

// testName returns a deterministic authority name.
func testName(i int) AuthorityName {
	var n AuthorityName
	n[0] = byte(i)
	n[1] = byte(i >> 8)
	n[NameSize-1] = 0xAA

	return n
}

// newTestCommittee builds a committee and fails the test on error.
func newTestCommittee(t *testing.T, epoch uint64, weights map[AuthorityName]uint64) *Committee {
	t.Helper()

	c, err := NewCommittee(epoch, weights)
	if err != nil {
		t.Fatalf("new committee: %v", err)
	}

	return c
}

// equalCommittee builds a committee of n members with weight 1 each.
func equalCommittee(t *testing.T, n int) *Committee {
	t.Helper()

	weights := make(map[AuthorityName]uint64, n)
	for i := 0; i < n; i++ {
		weights[testName(i)] = 1
	}

	return newTestCommittee(t, 0, weights)
}

// TestThresholds tests the quorum and validity bounds for a range of sizes.
func TestThresholds(t *testing.T) {
	for n := uint64(1); n <= 200; n++ {
		c := newTestCommittee(t, 1, map[AuthorityName]uint64{testName(0): n})
		f := (n - 1) / 3

		q := c.QuorumThreshold()
		v := c.ValidityThreshold()

		if 2*q <= n {
			t.Errorf("N=%d: quorum %d does not exceed half", n, q)
		}

		// Two quorums overlap by 2q-N; the overlap must outweigh f
		if 2*q-n <= f {
			t.Errorf("N=%d: quorum intersection %d not above f=%d", n, 2*q-n, f)
		}

		if q > n {
			t.Errorf("N=%d: quorum %d unreachable", n, q)
		}

		if v != f+1 {
			t.Errorf("N=%d: validity %d, want f+1=%d", n, v, f+1)
		}
	}
}

// TestFourEqualAuthorities tests the reference committee used across tests.
func TestFourEqualAuthorities(t *testing.T) {
	c := equalCommittee(t, 4)

	if c.TotalWeight() != 4 {
		t.Fatalf("total = %d, want 4", c.TotalWeight())
	}

	if c.QuorumThreshold() != 3 {
		t.Errorf("quorum = %d, want 3", c.QuorumThreshold())
	}

	if c.ValidityThreshold() != 2 {
		t.Errorf("validity = %d, want 2", c.ValidityThreshold())
	}
}

// TestQuorumIntersection tests that any two quorum subsets share a member.
func TestQuorumIntersection(t *testing.T) {
	weights := map[AuthorityName]uint64{
		testName(0): 5,
		testName(1): 3,
		testName(2): 2,
		testName(3): 1,
		testName(4): 1,
	}
	c := newTestCommittee(t, 0, weights)
	names := c.Names()
	q := c.QuorumThreshold()

	// Enumerate every subset by bitmask
	var quorums []int
	for mask := 0; mask < 1<<len(names); mask++ {
		var w uint64
		for i, name := range names {
			if mask&(1<<i) != 0 {
				w += c.Weight(name)
			}
		}

		if w >= q {
			quorums = append(quorums, mask)
		}
	}

	for _, a := range quorums {
		for _, b := range quorums {
			if a&b == 0 {
				t.Fatalf("disjoint quorums %b and %b", a, b)
			}
		}
	}
}

// TestWeightNonMember tests that unknown authorities weigh nothing.
func TestWeightNonMember(t *testing.T) {
	c := equalCommittee(t, 4)

	if w := c.Weight(testName(99)); w != 0 {
		t.Errorf("non-member weight = %d, want 0", w)
	}

	if c.Contains(testName(99)) {
		t.Error("non-member should not be contained")
	}
}

// TestZeroWeightDropped tests that zero-weight entries are not members.
func TestZeroWeightDropped(t *testing.T) {
	c := newTestCommittee(t, 0, map[AuthorityName]uint64{
		testName(0): 1,
		testName(1): 0,
	})

	if c.Len() != 1 {
		t.Errorf("len = %d, want 1", c.Len())
	}

	if c.Contains(testName(1)) {
		t.Error("zero-weight authority should not be a member")
	}
}

// TestNamesSorted tests deterministic member ordering.
func TestNamesSorted(t *testing.T) {
	c := equalCommittee(t, 10)
	names := c.Names()

	for i := 1; i < len(names); i++ {
		if string(names[i-1][:]) >= string(names[i][:]) {
			t.Fatalf("names not sorted at %d", i)
		}
	}

	// Mutating the copy must not affect the committee
	names[0] = AuthorityName{}
	if c.Names()[0] == (AuthorityName{}) {
		t.Error("Names should return a copy")
	}
}

// TestSampleWeighted tests that sampling follows stake.
func TestSampleWeighted(t *testing.T) {
	heavy, light := testName(0), testName(1)
	c := newTestCommittee(t, 0, map[AuthorityName]uint64{heavy: 9, light: 1})
	rng := rand.New(rand.NewSource(7))

	counts := map[AuthorityName]int{}
	for i := 0; i < 10000; i++ {
		counts[c.Sample(rng)]++
	}

	if counts[heavy] < 8500 || counts[heavy] > 9500 {
		t.Errorf("heavy sampled %d/10000, want ~9000", counts[heavy])
	}
}

// TestSampleFromWithoutReplacement tests distinct picks restricted to candidates.
func TestSampleFromWithoutReplacement(t *testing.T) {
	c := equalCommittee(t, 7)
	names := c.Names()
	candidates := names[:4]
	candidates = append(candidates, testName(200)) // not a member

	rng := rand.New(rand.NewSource(1))
	picked := c.SampleFrom(rng, candidates, 10)

	if len(picked) != 4 {
		t.Fatalf("picked %d, want 4", len(picked))
	}

	seen := map[AuthorityName]bool{}
	allowed := map[AuthorityName]bool{}
	for _, n := range names[:4] {
		allowed[n] = true
	}

	for _, n := range picked {
		if seen[n] {
			t.Errorf("authority %s picked twice", n.Short())
		}
		if !allowed[n] {
			t.Errorf("authority %s not a candidate", n.Short())
		}
		seen[n] = true
	}
}

// TestWeightOverflowRejected tests that totals past MaxTotalWeight are refused.
func TestWeightOverflowRejected(t *testing.T) {
	weights := make(map[AuthorityName]uint64, 4)
	for i := 0; i < 4; i++ {
		weights[testName(i)] = 1 << 62
	}

	if _, err := NewCommittee(0, weights); err == nil {
		t.Fatal("expected error for total weight 2^64")
	}

	if _, err := NewCommittee(0, map[AuthorityName]uint64{
		testName(0): 1 << 62,
		testName(1): 1 << 62,
	}); err == nil {
		t.Error("expected error for total weight 2^63")
	}

	if _, err := NewCommittee(0, map[AuthorityName]uint64{testName(0): math.MaxUint64}); err == nil {
		t.Error("expected error for a single oversized weight")
	}
}

// TestMaxTotalWeight tests thresholds and sampling at the weight bound.
func TestMaxTotalWeight(t *testing.T) {
	c := newTestCommittee(t, 0, map[AuthorityName]uint64{
		testName(0): MaxTotalWeight - 3,
		testName(1): 1,
		testName(2): 1,
		testName(3): 1,
	})

	n := c.TotalWeight()
	if n != MaxTotalWeight {
		t.Fatalf("total = %d, want %d", n, uint64(MaxTotalWeight))
	}

	q := c.QuorumThreshold()
	if q <= n/2 || q > n {
		t.Errorf("quorum %d out of range for N=%d", q, n)
	}

	if v := c.ValidityThreshold(); v != (n-1)/3+1 {
		t.Errorf("validity = %d, want %d", v, (n-1)/3+1)
	}

	rng := rand.New(rand.NewSource(3))
	for i := 0; i < 100; i++ {
		if !c.Contains(c.Sample(rng)) {
			t.Fatal("sample returned a non-member")
		}
	}
}

// TestParseName tests hex round-trip of authority names.
func TestParseName(t *testing.T) {
	n := testName(42)

	parsed, err := ParseName(n.String())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	if parsed != n {
		t.Error("parsed name differs")
	}

	if _, err := ParseName("abcd"); err == nil {
		t.Error("short name should fail")
	}
}
