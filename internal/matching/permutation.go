package matching

import (
	"math/rand/v2"
)

// permutationMatch attempts Tier 2 matching: pair participants[i], in input
// order, with a random permutation of the participants. Unlike Tier 1 the
// result may consist of several disjoint gift cycles. An attempt with any
// self pair or restricted pair is discarded whole.
func permutationMatch(participants []string, ex exclusions, rng *rand.Rand, attempts int) ([]Pair, bool) {
	pairs := make([]Pair, len(participants))

	for attempt := 0; attempt < attempts; attempt++ {
		receivers := shuffled(participants, rng)
		for i, giver := range participants {
			pairs[i] = Pair{Giver: giver, Receiver: receivers[i]}
		}
		if ex.valid(pairs) {
			return pairs, true
		}
	}
	return nil, false
}
