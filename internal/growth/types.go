// Package growth fits biologically-constrained diameter growth models from
// repeated tree measurements: binned baseline curves with a fallback hierarchy,
// robust residual dispersion estimates, and a gradient-boosted residual
// correction model. Fitted artifacts are immutable after training and are
// bundled for use by the simulation engine.
package growth

import "fmt"

// PlotGroup identifies the monitoring plot a tree belongs to
type PlotGroup string

const (
	PlotA PlotGroup = "A"
	PlotB PlotGroup = "B"
	PlotC PlotGroup = "C"
)

// ParsePlotGroup validates a plot identifier
func ParsePlotGroup(s string) (PlotGroup, error) {
	switch PlotGroup(s) {
	case PlotA, PlotB, PlotC:
		return PlotGroup(s), nil
	}
	return "", fmt.Errorf("unknown plot group %q (expected A, B, or C)", s)
}

// FallbackLevel indicates which aggregation level served a lookup
type FallbackLevel string

const (
	// FallbackGroup means the (species, plot) group had enough data
	FallbackGroup FallbackLevel = "group"

	// FallbackSpecies means the lookup fell back to species-only aggregation
	FallbackSpecies FallbackLevel = "species"

	// FallbackGlobal means the lookup fell back to the all-observations curve
	FallbackGlobal FallbackLevel = "global"
)

// Measurement is a single historical diameter measurement of a tree.
// DiameterCM may be NaN when the reading is missing.
type Measurement struct {
	TreeID     string
	Species    string
	Plot       PlotGroup
	Year       float64
	DiameterCM float64
}

// GrowthObservation is one annualized growth observation derived from a
// consecutive pair of measurements of the same tree. Immutable once built.
type GrowthObservation struct {
	PrevDiameterCM  float64
	Species         string
	Plot            PlotGroup
	ElapsedYears    float64
	AnnualizedDelta float64
}

// GroupKey builds the (species, plot) lookup key
func GroupKey(species string, plot PlotGroup) string {
	return species + "|" + string(plot)
}
