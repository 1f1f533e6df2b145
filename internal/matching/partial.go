package matching

import (
	"math/rand/v2"
)

// partialMatch is the last-resort Tier 3 pass. Givers are visited in random
// order and each picks uniformly among the receivers still free and allowed.
// A giver with no candidate is skipped, so the result may hold fewer pairs
// than participants, or none at all.
func partialMatch(participants []string, ex exclusions, rng *rand.Rand) []Pair {
	usedGivers := make(map[string]struct{}, len(participants))
	usedReceivers := make(map[string]struct{}, len(participants))
	pairs := make([]Pair, 0, len(participants))
	candidates := make([]string, 0, len(participants))

	for _, giver := range shuffled(participants, rng) {
		if _, done := usedGivers[giver]; done {
			continue
		}

		candidates = candidates[:0]
		for _, receiver := range participants {
			if _, taken := usedReceivers[receiver]; taken {
				continue
			}
			if ex.allowed(giver, receiver) {
				candidates = append(candidates, receiver)
			}
		}
		if len(candidates) == 0 {
			continue
		}

		receiver := candidates[rng.IntN(len(candidates))]
		pairs = append(pairs, Pair{Giver: giver, Receiver: receiver})
		usedGivers[giver] = struct{}{}
		usedReceivers[receiver] = struct{}{}
	}
	return pairs
}
