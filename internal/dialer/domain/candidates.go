package domain

import (
	"sort"

	quotadomain "github.com/smallbiznis/insightzen/internal/quota/domain"
)

// OrderCandidates returns the cells worth trying, in try order. Cells are
// ranked by weight descending then achieved ascending; WEIGHTED schemes are
// re-ranked by weighted remaining need. The input slice is not modified.
func OrderCandidates(policy quotadomain.OverflowPolicy, cells []quotadomain.QuotaCell) []quotadomain.QuotaCell {
	out := make([]quotadomain.QuotaCell, 0, len(cells))
	for _, cell := range cells {
		if cell.HasCapacity(policy) {
			out = append(out, cell)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Weight != out[j].Weight {
			return out[i].Weight > out[j].Weight
		}
		if out[i].Achieved != out[j].Achieved {
			return out[i].Achieved < out[j].Achieved
		}
		return out[i].ID < out[j].ID
	})

	if policy == quotadomain.OverflowWeighted {
		sort.SliceStable(out, func(i, j int) bool {
			return out[i].WeightedNeed() > out[j].WeightedNeed()
		})
	}
	return out
}
