// Package forestry provides allometric conversions from tree diameter to biomass
// and stored carbon, plus hardwood/softwood species classification.
package forestry

import (
	"math"
	"strings"
)

// SpeciesGroup identifies the broad allometric group of a species
type SpeciesGroup string

const (
	GroupHardwood SpeciesGroup = "hardwood"
	GroupSoftwood SpeciesGroup = "softwood"
)

// CarbonFraction is the fraction of aboveground biomass that is carbon
const CarbonFraction = 0.5

// allometric coefficients (a, b) for AGB = a * DBH^b
var allometricCoeffs = map[SpeciesGroup][2]float64{
	GroupHardwood: {0.15, 2.3},
	GroupSoftwood: {0.05, 2.5},
}

var softwoodKeywords = []string{"pine", "spruce", "fir", "hemlock", "cedar"}

// ClassifyGroup classifies a species name into hardwood or softwood.
// Names containing a conifer keyword are softwood; everything else, including
// an empty name, defaults to hardwood.
func ClassifyGroup(species string) SpeciesGroup {
	s := strings.ToLower(strings.TrimSpace(species))
	if s == "" {
		return GroupHardwood
	}
	for _, kw := range softwoodKeywords {
		if strings.Contains(s, kw) {
			return GroupSoftwood
		}
	}
	return GroupHardwood
}

// DiameterToBiomass converts DBH in centimeters to aboveground biomass (kg)
// using the power-law allometric equation AGB = a * DBH^b
func DiameterToBiomass(dbhCM float64, group SpeciesGroup) float64 {
	if dbhCM <= 0 {
		return 0
	}
	coeffs, ok := allometricCoeffs[group]
	if !ok {
		coeffs = allometricCoeffs[GroupHardwood]
	}
	return coeffs[0] * math.Pow(dbhCM, coeffs[1])
}

// DiameterToCarbon converts DBH in centimeters to stored carbon (kg C) for the
// given species. The species is classified into an allometric group first.
func DiameterToCarbon(dbhCM float64, species string) float64 {
	group := ClassifyGroup(species)
	return DiameterToBiomass(dbhCM, group) * CarbonFraction
}
