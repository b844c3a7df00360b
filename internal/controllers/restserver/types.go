package restserver

import (
	"time"

	"github.com/canopycarbon/forestsim/internal/scenarios"
	"github.com/canopycarbon/forestsim/internal/sim"
)

// HealthResponse reports service and model status
type HealthResponse struct {
	Status           string    `json:"status"`
	ModelFittedAt    time.Time `json:"model_fitted_at"`
	HasResidualModel bool      `json:"has_residual_model"`
	DatabaseEnabled  bool      `json:"database_enabled"`
}

// SummaryResponse is the current-population aggregate
type SummaryResponse struct {
	TreeCount      int     `json:"tree_count"`
	MeanDiameterCM float64 `json:"mean_diameter_cm"`
	TotalCarbonKG  float64 `json:"total_carbon_kg"`
}

// SnapshotYearsResponse lists the configured projection horizons
type SnapshotYearsResponse struct {
	Years []int `json:"years"`
}

// SnapshotsResponse carries the projected snapshots keyed by horizon
type SnapshotsResponse struct {
	Rule      string                `json:"rule"`
	Snapshots map[int]*sim.Snapshot `json:"snapshots"`
	Warnings  []string              `json:"warnings,omitempty"`
}

// PredictTreeRequest projects one hypothetical tree
type PredictTreeRequest struct {
	Species    string  `json:"species"`
	Plot       string  `json:"plot"`
	DiameterCM float64 `json:"diameter_cm"`
	Years      int     `json:"years"`
	Rule       string  `json:"rule,omitempty"`
}

// PredictTreeResponse carries the projected trajectory
type PredictTreeResponse struct {
	Rule            string    `json:"rule"`
	History         []float64 `json:"history"`
	FinalDiameterCM float64   `json:"final_diameter_cm"`
	FinalCarbonKG   float64   `json:"final_carbon_kg"`
}

// PlantingScenariosRequest compares hypothetical plantings against the
// stored base population. Plantings are given as recipes, explicit tree
// lists, or a mix of both.
type PlantingScenariosRequest struct {
	Recipes  []scenarios.PlantingRecipe   `json:"recipes,omitempty"`
	Explicit []scenarios.ExplicitPlanting `json:"explicit,omitempty"`
	Horizons []int                        `json:"horizons,omitempty"`
	Rule     string                       `json:"rule,omitempty"`
}

// PlantingScenariosResponse carries the shared baseline projection and one
// outcome per scenario in request order (recipes first, then explicit)
type PlantingScenariosResponse struct {
	Rule     string                `json:"rule"`
	Baseline map[int]*sim.Snapshot `json:"baseline,omitempty"`
	Outcomes []scenarios.Outcome   `json:"outcomes"`
}
