package segment

import "github.com/flashfriendly/f2fs/ondisk"

// VictimPolicy selects which dirty segment to clean next.
type VictimPolicy int

const (
	// PolicyGreedy picks the segment with the fewest valid blocks, cheapest
	// to clean regardless of age.
	PolicyGreedy VictimPolicy = iota
	// PolicyCostBenefit weighs utilization against age, favoring old,
	// mostly-stale segments even when a younger segment has marginally
	// fewer valid blocks — it tends to avoid re-cleaning recently written
	// segments that are still filling up.
	PolicyCostBenefit
)

// GetVictimByDefault scans candidates (typically the union of a curseg
// type's dirty-segment list) and returns the segno the given policy judges
// best to clean next. It returns ok=false if candidates is empty.
func GetVictimByDefault(sit *SitCache, policy VictimPolicy, candidates []uint32) (segno uint32, ok bool) {
	if len(candidates) == 0 {
		return 0, false
	}

	best := candidates[0]
	bestScore := victimScore(sit, policy, best)
	for _, c := range candidates[1:] {
		score := victimScore(sit, policy, c)
		if score < bestScore {
			best = c
			bestScore = score
		}
	}
	return best, true
}

// victimScore returns a lower-is-better cost for cleaning segno under
// policy.
func victimScore(sit *SitCache, policy VictimPolicy, segno uint32) float64 {
	u := sit.Utilization(segno)
	switch policy {
	case PolicyCostBenefit:
		age := float64(sit.Age(segno))
		// cost-benefit per the classic LFS formula: benefit = (1-u)*age /
		// (1+u); invert so a higher benefit yields a lower score (more
		// attractive victim).
		benefit := (1 - u) * age / (1 + u)
		if benefit == 0 {
			return 1e18
		}
		return 1 / benefit
	default: // PolicyGreedy
		return u
	}
}

// IsCleanable reports whether segno has at least one invalid block (a
// fully-valid segment has nothing to reclaim) and is not the segment
// currently backing any curseg in cursegs (cleaning the live write target
// would race the allocator).
func IsCleanable(sit *SitCache, segno uint32, cursegs [ondisk.NumCursegType]*Curseg) bool {
	e := sit.Get(segno)
	if e.ValidBlocks == ondisk.BlocksPerSegment {
		return false
	}
	for _, cs := range cursegs {
		if cs.Segno == segno {
			return false
		}
	}
	return true
}
