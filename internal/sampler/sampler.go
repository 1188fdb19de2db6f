// Package sampler implements alias-method weighted random sampling and the
// distinct-winner selection built on top of it.
//
// The alias table takes O(n) time and space to build and O(1) per sample.
// Reference: https://lips.cs.princeton.edu/the-alias-method-efficient-sampling-with-many-discrete-outcomes/
package sampler

import (
	"errors"
	"math/rand/v2"
	"sort"
)

var (
	ErrNoWeights       = errors.New("no weights provided")
	ErrWeightSum       = errors.New("total does not match the weight sum")
	ErrTooManyWinners  = errors.New("more winners requested than candidates")
	ErrZeroTotalWeight = errors.New("total weight is zero")
)

// Alias is a prepared alias table over a fixed weight distribution.
type Alias struct {
	prob  []int64
	alias []int
	total int64
}

// NewAlias builds the alias table for the given integer weights. total must
// equal the sum of weights; it is passed explicitly because callers (such as
// a raffle's tickets-sold counter) already track it.
func NewAlias(weights []uint64, total uint64) (*Alias, error) {
	n := len(weights)
	if n == 0 {
		return nil, ErrNoWeights
	}
	if total == 0 {
		return nil, ErrZeroTotalWeight
	}
	var sum uint64
	for _, w := range weights {
		sum += w
	}
	if sum != total {
		return nil, ErrWeightSum
	}

	t := &Alias{
		prob:  make([]int64, n),
		alias: make([]int, n),
		total: int64(total),
	}
	small := make([]int, 0, n)
	large := make([]int, 0, n)

	for i, w := range weights {
		t.prob[i] = int64(n) * int64(w)
		if t.prob[i] < t.total {
			small = append(small, i)
		} else {
			large = append(large, i)
		}
	}

	for len(small) > 0 && len(large) > 0 {
		l := small[len(small)-1]
		small = small[:len(small)-1]
		g := large[len(large)-1]
		large = large[:len(large)-1]

		t.alias[l] = g
		t.prob[g] -= t.total - t.prob[l]
		if t.prob[g] < t.total {
			small = append(small, g)
		} else {
			large = append(large, g)
		}
	}

	// Leftovers are numerically exact self-selections.
	for _, i := range large {
		t.prob[i] = t.total
	}
	for _, i := range small {
		t.prob[i] = t.total
	}

	return t, nil
}

// Pick draws one index with probability proportional to its weight. O(1).
func (t *Alias) Pick(rng *rand.Rand) int {
	i := rng.IntN(len(t.prob))
	p := rng.Int64N(t.total)
	if p < t.prob[i] {
		return i
	}
	return t.alias[i]
}

// NewRand returns the deterministic generator used for winner selection,
// seeded from a single 64-bit seed.
func NewRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed))
}

// PickWinners selects numWinners distinct indices with probability
// proportional to the weights, by repeated independent draws discarding
// duplicates. The distribution is deliberately NOT renormalized after each
// pick: a duplicate is simply redrawn, which carries a small bias toward
// low-weight candidates compared to true sampling without replacement.
// Results are deterministic for a fixed seed and returned in ascending order.
func PickWinners(weights []uint64, total uint64, numWinners int, seed uint64) ([]int, error) {
	candidates := 0
	for _, w := range weights {
		if w > 0 {
			candidates++
		}
	}
	if numWinners > candidates {
		return nil, ErrTooManyWinners
	}

	table, err := NewAlias(weights, total)
	if err != nil {
		return nil, err
	}

	rng := NewRand(seed)
	seen := make(map[int]struct{}, numWinners)
	for len(seen) != numWinners {
		seen[table.Pick(rng)] = struct{}{}
	}

	winners := make([]int, 0, numWinners)
	for i := range seen {
		winners = append(winners, i)
	}
	sort.Ints(winners)
	return winners, nil
}
