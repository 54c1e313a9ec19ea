package quote

import "math/rand"

// Pick chooses a random quote, optionally restricted to a category
// ("" or "all" disables the filter). ok is false when nothing matches.
func Pick(rng *rand.Rand, quotes []Quote, category string) (q Quote, ok bool) {
	candidates := FilterByCategory(quotes, category)
	if len(candidates) == 0 {
		return Quote{}, false
	}
	if rng == nil {
		return candidates[0], true
	}
	return candidates[rng.Intn(len(candidates))], true
}
