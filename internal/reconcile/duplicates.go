package reconcile

import (
	"sort"

	"github.com/velocityfibre/polelink/internal/model"
)

// FindDuplicatePoles returns every pole number referenced by more than one
// link, sorted for deterministic reporting. Empty pole numbers are ignored.
// Detection is report-only: links are not mutated here.
func FindDuplicatePoles(links []model.Link) []string {
	counts := make(map[string]int, len(links))
	for _, l := range links {
		if l.PoleNumber == "" {
			continue
		}
		counts[l.PoleNumber]++
	}

	var dups []string
	for pole, n := range counts {
		if n > 1 {
			dups = append(dups, pole)
		}
	}
	sort.Strings(dups)
	return dups
}
