// Package scenarios builds hypothetical planting populations and projects
// them through the simulation engine so that candidate stand compositions can
// be compared on projected carbon.
package scenarios

import (
	"fmt"
	"math"
	"sort"

	"github.com/google/uuid"

	"github.com/canopycarbon/forestsim/internal/growth"
	"github.com/canopycarbon/forestsim/internal/sim"
)

// PlantingRecipe describes a hypothetical planting: how many seedlings, their
// starting diameter, and the species composition as fractions
type PlantingRecipe struct {
	Name              string             `json:"name"`
	Count             int                `json:"count"`
	Plot              growth.PlotGroup   `json:"plot"`
	InitialDiameterCM float64            `json:"initial_diameter_cm"`
	SpeciesMix        map[string]float64 `json:"species_mix"`
}

// Validate checks the recipe for structural problems
func (r *PlantingRecipe) Validate() error {
	if r.Count <= 0 {
		return growth.NewDataError("planting recipe %q: count must be positive, got %d", r.Name, r.Count)
	}
	if r.InitialDiameterCM <= 0 {
		return growth.NewDataError("planting recipe %q: initial diameter must be positive, got %v", r.Name, r.InitialDiameterCM)
	}
	if len(r.SpeciesMix) == 0 {
		return growth.NewDataError("planting recipe %q: species mix is empty", r.Name)
	}

	total := 0.0
	for species, frac := range r.SpeciesMix {
		if frac < 0 {
			return growth.NewDataError("planting recipe %q: species %q has negative fraction %v", r.Name, species, frac)
		}
		total += frac
	}
	if math.Abs(total-1.0) > 0.01 {
		return growth.NewDataError("planting recipe %q: species fractions sum to %v, want 1.0", r.Name, total)
	}
	return nil
}

// BuildPopulation expands a recipe into concrete trees. Allocation across
// species uses largest remainders so the counts always sum to Count exactly,
// and species are processed in sorted order so the result is deterministic.
func BuildPopulation(recipe *PlantingRecipe) ([]sim.Tree, error) {
	if err := recipe.Validate(); err != nil {
		return nil, err
	}

	species := make([]string, 0, len(recipe.SpeciesMix))
	for s := range recipe.SpeciesMix {
		species = append(species, s)
	}
	sort.Strings(species)

	counts := make([]int, len(species))
	remainders := make([]float64, len(species))
	allocated := 0
	for i, s := range species {
		exact := recipe.SpeciesMix[s] * float64(recipe.Count)
		counts[i] = int(exact)
		remainders[i] = exact - float64(counts[i])
		allocated += counts[i]
	}
	for allocated < recipe.Count {
		best := 0
		for i := range remainders {
			if remainders[i] > remainders[best] {
				best = i
			}
		}
		counts[best]++
		remainders[best] = 0
		allocated++
	}

	trees := make([]sim.Tree, 0, recipe.Count)
	for i, s := range species {
		for n := 0; n < counts[i]; n++ {
			trees = append(trees, sim.Tree{
				ID:         uuid.NewString(),
				Species:    s,
				Plot:       recipe.Plot,
				DiameterCM: recipe.InitialDiameterCM,
			})
		}
	}
	return trees, nil
}

// Scenario pairs a name with a concrete planted population, either built
// from a recipe or supplied explicitly
type Scenario struct {
	Name  string
	Trees []sim.Tree
}

// FromRecipe builds a scenario from a planting recipe
func FromRecipe(recipe *PlantingRecipe) (*Scenario, error) {
	trees, err := BuildPopulation(recipe)
	if err != nil {
		return nil, err
	}
	return &Scenario{Name: recipe.Name, Trees: trees}, nil
}

// PlantedTree is one explicitly specified tree in an explicit planting
type PlantedTree struct {
	Species    string  `json:"species"`
	Plot       string  `json:"plot"`
	DiameterCM float64 `json:"diameter_cm"`
}

// ExplicitPlanting lists every planted tree individually instead of
// describing them with a recipe
type ExplicitPlanting struct {
	Name  string        `json:"name"`
	Trees []PlantedTree `json:"trees"`
}

// FromTrees builds a scenario from an explicit tree list
func FromTrees(planting *ExplicitPlanting) (*Scenario, error) {
	if len(planting.Trees) == 0 {
		return nil, growth.NewDataError("explicit planting %q: tree list is empty", planting.Name)
	}

	trees := make([]sim.Tree, 0, len(planting.Trees))
	for i, spec := range planting.Trees {
		plot, err := growth.ParsePlotGroup(spec.Plot)
		if err != nil {
			return nil, growth.NewDataError("explicit planting %q: tree %d: %v", planting.Name, i+1, err)
		}
		if spec.DiameterCM <= 0 {
			return nil, growth.NewDataError("explicit planting %q: tree %d: diameter must be positive, got %v", planting.Name, i+1, spec.DiameterCM)
		}
		trees = append(trees, sim.Tree{
			ID:         fmt.Sprintf("planted-%06d", i+1),
			Species:    spec.Species,
			Plot:       plot,
			DiameterCM: spec.DiameterCM,
		})
	}
	return &Scenario{Name: planting.Name, Trees: trees}, nil
}

// HorizonComparison is one row of the baseline-vs-planting comparison table
type HorizonComparison struct {
	YearsAhead             int     `json:"years_ahead"`
	BaselineCarbonKG       float64 `json:"baseline_carbon_kg"`
	CombinedCarbonKG       float64 `json:"combined_carbon_kg"`
	AddedCarbonKG          float64 `json:"added_carbon_kg"`
	BaselineMeanDiameterCM float64 `json:"baseline_mean_diameter_cm"`
	CombinedMeanDiameterCM float64 `json:"combined_mean_diameter_cm"`
	PlantedMeanDiameterCM  float64 `json:"planted_mean_diameter_cm"`
	BaselineTreeCount      int     `json:"baseline_tree_count"`
	CombinedTreeCount      int     `json:"combined_tree_count"`
	PlantedTreeCount       int     `json:"planted_tree_count"`
}

// Outcome is the projected result of one scenario: snapshots of the base
// population with the planted trees added, and the per-horizon comparison
// against the baseline
type Outcome struct {
	Name         string                `json:"name"`
	PlantedCount int                   `json:"planted_count"`
	Snapshots    map[int]*sim.Snapshot `json:"snapshots"`
	Comparison   []HorizonComparison   `json:"comparison"`
	Warnings     []string              `json:"warnings,omitempty"`
}

// Result carries the shared baseline projection and every scenario outcome
type Result struct {
	Baseline map[int]*sim.Snapshot `json:"baseline,omitempty"`
	Outcomes []Outcome             `json:"outcomes"`
}

// Compare projects each scenario combined with the base population to the
// same horizons under the same rule, alongside a baseline projection of the
// base population alone, and reports the carbon each planting adds. An empty
// base population is allowed; the baseline is then zero and the planted trees
// carry the whole projection.
func Compare(engine *sim.Engine, base []sim.Tree, list []*Scenario, horizons []int, ruleType sim.RuleType, params sim.RuleParams) (*Result, error) {
	if len(list) == 0 {
		return nil, growth.NewDataError("no scenarios to compare")
	}

	result := &Result{}
	if len(base) > 0 {
		baseline, _, err := engine.GenerateSnapshots(base, horizons, ruleType, params)
		if err != nil {
			return nil, fmt.Errorf("baseline: %w", err)
		}
		result.Baseline = baseline
	}

	ordered := orderedHorizons(horizons)
	for _, scenario := range list {
		combined := make([]sim.Tree, 0, len(base)+len(scenario.Trees))
		combined = append(combined, base...)
		combined = append(combined, scenario.Trees...)

		snapshots, warnings, err := engine.GenerateSnapshots(combined, horizons, ruleType, params)
		if err != nil {
			return nil, fmt.Errorf("scenario %q: %w", scenario.Name, err)
		}

		planted := make(map[string]bool, len(scenario.Trees))
		for _, tree := range scenario.Trees {
			planted[tree.ID] = true
		}

		comparison := make([]HorizonComparison, 0, len(ordered))
		for _, horizon := range ordered {
			comparison = append(comparison, compareHorizon(horizon, result.Baseline[horizon], snapshots[horizon], planted))
		}

		outcomes := Outcome{
			Name:         scenario.Name,
			PlantedCount: len(scenario.Trees),
			Snapshots:    snapshots,
			Comparison:   comparison,
			Warnings:     warnings,
		}
		result.Outcomes = append(result.Outcomes, outcomes)
	}
	return result, nil
}

// compareHorizon builds one comparison row. A nil baseline snapshot means no
// base population was supplied, so baseline carbon is zero.
func compareHorizon(horizon int, baseline, combined *sim.Snapshot, planted map[string]bool) HorizonComparison {
	row := HorizonComparison{
		YearsAhead:        horizon,
		CombinedCarbonKG:  combined.TotalCarbonKG,
		CombinedTreeCount: combined.TreeCount,
	}
	row.CombinedMeanDiameterCM = combined.MeanDiameterCM

	if baseline != nil {
		row.BaselineCarbonKG = baseline.TotalCarbonKG
		row.BaselineMeanDiameterCM = baseline.MeanDiameterCM
		row.BaselineTreeCount = baseline.TreeCount
	}
	row.AddedCarbonKG = row.CombinedCarbonKG - row.BaselineCarbonKG

	var plantedDBH float64
	for _, tree := range combined.Trees {
		if planted[tree.ID] {
			plantedDBH += tree.DiameterCM
			row.PlantedTreeCount++
		}
	}
	if row.PlantedTreeCount > 0 {
		row.PlantedMeanDiameterCM = plantedDBH / float64(row.PlantedTreeCount)
	}
	return row
}

// orderedHorizons sorts and deduplicates the requested horizons for stable
// comparison rows
func orderedHorizons(horizons []int) []int {
	seen := make(map[int]bool, len(horizons))
	ordered := make([]int, 0, len(horizons))
	for _, h := range horizons {
		if !seen[h] {
			seen[h] = true
			ordered = append(ordered, h)
		}
	}
	sort.Ints(ordered)
	return ordered
}
