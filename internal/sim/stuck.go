package sim

import (
	"sort"
)

// PlateauTolerance is the diameter change below which a year counts as no
// growth
const PlateauTolerance = 1e-6

// DefaultStuckThreshold is the plateaued fraction at which the hard-floor
// rule should be abandoned for the epsilon floor
const DefaultStuckThreshold = 0.25

// PlateauRecord reports one permanently plateaued tree. A tree plateaus at
// year k when its diameter stops changing at year k and never resumes growth
// through the end of the horizon. This is a retroactive classification: it
// needs the full history and cannot be decided inside the year loop.
type PlateauRecord struct {
	TreeID             string  `json:"tree_id"`
	YearFirstPlateaued int     `json:"year_first_plateaued"`
	DiameterAtPlateau  float64 `json:"diameter_at_plateau"`
}

// PlateauReport aggregates plateau records for a run
type PlateauReport struct {
	Records           []PlateauRecord `json:"records"`
	TotalTrees        int             `json:"total_trees"`
	FractionPlateaued float64         `json:"fraction_plateaued"`
}

// DetectPlateaus scans per-tree diameter histories (length N+1, year 0
// through year N) for permanent plateaus
func DetectPlateaus(histories map[string][]float64) *PlateauReport {
	report := &PlateauReport{TotalTrees: len(histories)}

	treeIDs := make([]string, 0, len(histories))
	for id := range histories {
		treeIDs = append(treeIDs, id)
	}
	sort.Strings(treeIDs)

	for _, id := range treeIDs {
		history := histories[id]
		if len(history) < 2 {
			continue
		}
		if year, ok := firstPlateauYear(history); ok {
			report.Records = append(report.Records, PlateauRecord{
				TreeID:             id,
				YearFirstPlateaued: year,
				DiameterAtPlateau:  history[year],
			})
		}
	}

	if report.TotalTrees > 0 {
		report.FractionPlateaued = float64(len(report.Records)) / float64(report.TotalTrees)
	}
	return report
}

// firstPlateauYear finds the earliest year whose diameter change is
// effectively zero and stays zero through the end of the history
func firstPlateauYear(history []float64) (int, bool) {
	for year := 1; year < len(history); year++ {
		if abs(history[year]-history[year-1]) >= PlateauTolerance {
			continue
		}
		permanent := true
		for future := year + 1; future < len(history); future++ {
			if abs(history[future]-history[year]) >= PlateauTolerance {
				permanent = false
				break
			}
		}
		if permanent {
			return year, true
		}
	}
	return 0, false
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// RecommendRule applies the operational decision rule: when the hard floor
// plateaus at least threshold of the population, switch to the epsilon floor.
// Other rules are returned unchanged.
func RecommendRule(report *PlateauReport, current RuleType, threshold float64) RuleType {
	if current == RuleHardFloor && report != nil && report.FractionPlateaued >= threshold {
		return RuleEpsilonFloor
	}
	return current
}
