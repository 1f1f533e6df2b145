// Package matching draws gift-exchange assignments. The matcher pairs every
// participant with exactly one other participant to give to, honouring
// pairwise restrictions, using three randomized strategies tried in order:
// a single circular chain, a general permutation, and finally a greedy
// best-effort pass that may leave some participants unmatched.
package matching

import (
	"math/rand/v2"
)

// attemptsPerTier bounds the number of random permutations each full-matching
// tier tries before handing over to the next one.
const attemptsPerTier = 1000

// Tier identifies which strategy produced a result.
type Tier int

const (
	TierNone            Tier = iota // fewer than two participants
	TierCircular                    // single cycle through all participants
	TierPermutation                 // general random permutation
	TierPermutationRetry            // second permutation budget
	TierPartial                     // greedy best-effort, may be incomplete
)

// String returns the metric/log label for the tier.
func (t Tier) String() string {
	switch t {
	case TierCircular:
		return "circular"
	case TierPermutation:
		return "permutation"
	case TierPermutationRetry:
		return "permutation_retry"
	case TierPartial:
		return "partial"
	default:
		return "none"
	}
}

// Pair is a single assignment: Giver gives a gift to Receiver.
type Pair struct {
	Giver    string `json:"giver"`
	Receiver string `json:"receiver"`
}

// Result is the outcome of a draw.
type Result struct {
	Pairs    []Pair
	Tier     Tier
	Complete bool // every participant gives and receives exactly once
}

// MatchParticipants draws assignments for the given participants. It never
// fails: fewer than two participants, or an over-constrained restriction set,
// yield an empty or partial result. Participants must be unique.
func MatchParticipants(participants []string, restrictions Restrictions) []Pair {
	return Draw(participants, restrictions, newRand()).Pairs
}

// Draw runs the tiered search with the given random source. rng must not be
// shared with other goroutines while Draw runs.
func Draw(participants []string, restrictions Restrictions, rng *rand.Rand) Result {
	n := len(participants)
	if n < 2 {
		return Result{Pairs: []Pair{}, Tier: TierNone}
	}

	ex := newExclusions(restrictions)

	if pairs, ok := circularMatch(participants, ex, rng, attemptsPerTier); ok {
		return Result{Pairs: pairs, Tier: TierCircular, Complete: true}
	}
	if pairs, ok := permutationMatch(participants, ex, rng, attemptsPerTier); ok {
		return Result{Pairs: pairs, Tier: TierPermutation, Complete: true}
	}
	if pairs, ok := permutationMatch(participants, ex, rng, attemptsPerTier); ok {
		return Result{Pairs: pairs, Tier: TierPermutationRetry, Complete: true}
	}

	pairs := partialMatch(participants, ex, rng)
	return Result{Pairs: pairs, Tier: TierPartial, Complete: len(pairs) == n}
}

// Unmatched returns the participants that are missing as a giver or as a
// receiver in pairs, in input order.
func Unmatched(participants []string, pairs []Pair) []string {
	givers := make(map[string]struct{}, len(pairs))
	receivers := make(map[string]struct{}, len(pairs))
	for _, p := range pairs {
		givers[p.Giver] = struct{}{}
		receivers[p.Receiver] = struct{}{}
	}

	var missing []string
	for _, id := range participants {
		_, gives := givers[id]
		_, receives := receivers[id]
		if !gives || !receives {
			missing = append(missing, id)
		}
	}
	return missing
}

// newRand returns a PRNG private to one call, seeded from the runtime's
// global source.
func newRand() *rand.Rand {
	return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
}

// shuffled returns a Fisher-Yates shuffled copy of ids.
func shuffled(ids []string, rng *rand.Rand) []string {
	out := make([]string, len(ids))
	copy(out, ids)
	for i := len(out) - 1; i > 0; i-- {
		j := rng.IntN(i + 1)
		out[i], out[j] = out[j], out[i]
	}
	return out
}
