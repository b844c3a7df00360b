package growth

import (
	"math"
	"sort"

	"go.uber.org/zap"
)

// BuildObservations derives annualized growth observations from historical
// per-tree measurements. Measurements are grouped by tree and ordered by year;
// each consecutive pair with valid diameters and a positive year gap yields one
// observation with AnnualizedDelta = (d_t - d_{t-1}) / elapsed_years.
//
// Rows with a missing (NaN) diameter break the chain: the pair is skipped but
// later pairs from the same tree are still used. An empty measurement set is a
// DataError; a measurement set that yields zero observations is also a
// DataError, because nothing can be fitted from it.
func BuildObservations(measurements []Measurement, logger *zap.SugaredLogger) ([]GrowthObservation, error) {
	if len(measurements) == 0 {
		return nil, NewDataError("no measurements provided")
	}

	sorted := append([]Measurement(nil), measurements...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].TreeID != sorted[j].TreeID {
			return sorted[i].TreeID < sorted[j].TreeID
		}
		return sorted[i].Year < sorted[j].Year
	})

	var observations []GrowthObservation
	skippedGap := 0
	skippedMissing := 0

	for i := 1; i < len(sorted); i++ {
		prev, cur := sorted[i-1], sorted[i]
		if prev.TreeID != cur.TreeID {
			continue
		}
		if math.IsNaN(prev.DiameterCM) || math.IsNaN(cur.DiameterCM) {
			skippedMissing++
			continue
		}
		elapsed := cur.Year - prev.Year
		if elapsed <= 0 {
			skippedGap++
			continue
		}
		observations = append(observations, GrowthObservation{
			PrevDiameterCM:  prev.DiameterCM,
			Species:         cur.Species,
			Plot:            cur.Plot,
			ElapsedYears:    elapsed,
			AnnualizedDelta: (cur.DiameterCM - prev.DiameterCM) / elapsed,
		})
	}

	if skippedMissing > 0 || skippedGap > 0 {
		logger.Debugf("observation builder skipped %d pairs with missing diameters, %d with non-positive year gaps",
			skippedMissing, skippedGap)
	}

	if len(observations) == 0 {
		return nil, NewDataError("measurements yielded no growth observations")
	}

	logger.Infof("built %d growth observations from %d measurements", len(observations), len(measurements))
	return observations, nil
}
