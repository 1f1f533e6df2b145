package matching

// Restrictions maps a participant to the participants they must not give a
// gift to. The relation is applied in both directions: if B is listed under
// A, neither A->B nor B->A is drawn. Entries naming non-participants are
// ignored.
type Restrictions map[string][]string

// Allows reports whether giver may give to receiver.
func (r Restrictions) Allows(giver, receiver string) bool {
	return newExclusions(r).allowed(giver, receiver)
}

// Filter returns a copy of r keeping only entries where both sides are in
// participants.
func (r Restrictions) Filter(participants []string) Restrictions {
	present := make(map[string]struct{}, len(participants))
	for _, id := range participants {
		present[id] = struct{}{}
	}

	out := make(Restrictions, len(r))
	for giver, receivers := range r {
		if _, ok := present[giver]; !ok {
			continue
		}
		for _, receiver := range receivers {
			if _, ok := present[receiver]; ok {
				out[giver] = append(out[giver], receiver)
			}
		}
	}
	return out
}

// exclusions is the symmetric closure of Restrictions, indexed for O(1)
// lookups.
type exclusions map[string]map[string]struct{}

func newExclusions(r Restrictions) exclusions {
	ex := make(exclusions, len(r))
	add := func(a, b string) {
		set, ok := ex[a]
		if !ok {
			set = make(map[string]struct{})
			ex[a] = set
		}
		set[b] = struct{}{}
	}
	for giver, receivers := range r {
		for _, receiver := range receivers {
			add(giver, receiver)
			add(receiver, giver)
		}
	}
	return ex
}

// allowed is the edge predicate shared by every tier.
func (ex exclusions) allowed(giver, receiver string) bool {
	if giver == receiver {
		return false
	}
	_, blocked := ex[giver][receiver]
	return !blocked
}

// valid reports whether every pair is allowed.
func (ex exclusions) valid(pairs []Pair) bool {
	for _, p := range pairs {
		if !ex.allowed(p.Giver, p.Receiver) {
			return false
		}
	}
	return true
}
