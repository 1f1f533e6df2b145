package matching

import (
	"math/rand/v2"
)

// circularMatch attempts Tier 1 matching: shuffle the participants and link
// each one to the next, closing the chain back to the first. Every attempt
// yields a single gift cycle through everybody. Returns false if no attempt
// satisfied the restrictions.
func circularMatch(participants []string, ex exclusions, rng *rand.Rand, attempts int) ([]Pair, bool) {
	n := len(participants)
	pairs := make([]Pair, n)

	for attempt := 0; attempt < attempts; attempt++ {
		ring := shuffled(participants, rng)
		for i, giver := range ring {
			pairs[i] = Pair{Giver: giver, Receiver: ring[(i+1)%n]}
		}
		if ex.valid(pairs) {
			return pairs, true
		}
	}
	return nil, false
}
