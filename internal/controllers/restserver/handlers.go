package restserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/canopycarbon/forestsim/internal/forestry"
	"github.com/canopycarbon/forestsim/internal/growth"
	"github.com/canopycarbon/forestsim/internal/scenarios"
	"github.com/canopycarbon/forestsim/internal/sim"
	"github.com/canopycarbon/forestsim/pkg/responseformat"
)

// Handlers contains all HTTP handlers for the REST server
type Handlers struct {
	controller *Controller
	formatter  *responseformat.Formatter
}

// NewHandlers creates a new handlers instance
func NewHandlers(ctrl *Controller) *Handlers {
	return &Handlers{
		controller: ctrl,
		formatter:  responseformat.NewFormatter(),
	}
}

// writeError maps model errors onto HTTP status codes
func (h *Handlers) writeError(w http.ResponseWriter, req *http.Request, err error) {
	var de *growth.DataError
	switch {
	case errors.As(err, &de):
		h.formatter.WriteError(w, req, http.StatusBadRequest, err.Error())
	case errors.Is(err, growth.ErrModelUnavailable):
		h.formatter.WriteError(w, req, http.StatusServiceUnavailable, err.Error())
	default:
		h.controller.logger.Errorf("request %s failed: %v", req.URL.Path, err)
		h.formatter.WriteError(w, req, http.StatusInternalServerError, err.Error())
	}
}

// GetHealth reports service and model status
func (h *Handlers) GetHealth(w http.ResponseWriter, req *http.Request) {
	resp := HealthResponse{
		Status:           "ok",
		ModelFittedAt:    h.controller.bundle.FittedAt,
		HasResidualModel: h.controller.bundle.HasResidualModel(),
		DatabaseEnabled:  h.controller.DBEnabled,
	}
	h.formatter.WriteResponse(w, req, resp, nil)
}

// GetSummary reports the current base population with its standing carbon
func (h *Handlers) GetSummary(w http.ResponseWriter, req *http.Request) {
	if !h.controller.DBEnabled {
		h.formatter.WriteError(w, req, http.StatusServiceUnavailable, "no inventory database configured")
		return
	}

	population, err := h.controller.DB.FetchPopulation(req.Context())
	if err != nil {
		h.writeError(w, req, err)
		return
	}

	// A zero-year projection is the current state with carbon attached
	snaps, _, err := h.controller.engine.GenerateSnapshots(population, []int{0}, sim.RuleBaseline, h.controller.defaultRuleParams())
	if err != nil {
		h.writeError(w, req, err)
		return
	}

	current := snaps[0]
	h.formatter.WriteResponse(w, req, SummaryResponse{
		TreeCount:      current.TreeCount,
		MeanDiameterCM: current.MeanDiameterCM,
		TotalCarbonKG:  current.TotalCarbonKG,
	}, nil)
}

// GetSnapshotYears reports the configured projection horizons
func (h *Handlers) GetSnapshotYears(w http.ResponseWriter, req *http.Request) {
	h.formatter.WriteResponse(w, req, SnapshotYearsResponse{Years: h.controller.defaultHorizons()}, nil)
}

// GetSnapshots projects the stored base population to the requested horizons.
// Query parameters: years (comma-separated, default configured horizons),
// rule (default configured rule), seed.
func (h *Handlers) GetSnapshots(w http.ResponseWriter, req *http.Request) {
	if !h.controller.DBEnabled {
		h.formatter.WriteError(w, req, http.StatusServiceUnavailable, "no inventory database configured")
		return
	}

	horizons := h.controller.defaultHorizons()
	if yearsParam := req.URL.Query().Get("years"); yearsParam != "" {
		parsed, err := parseYearList(yearsParam)
		if err != nil {
			h.formatter.WriteError(w, req, http.StatusBadRequest, err.Error())
			return
		}
		horizons = parsed
	}

	ruleType := h.controller.defaultRule()
	if ruleParam := req.URL.Query().Get("rule"); ruleParam != "" {
		parsed, err := sim.ParseRuleType(ruleParam)
		if err != nil {
			h.formatter.WriteError(w, req, http.StatusBadRequest, err.Error())
			return
		}
		ruleType = parsed
	}

	params := h.controller.defaultRuleParams()
	if seedParam := req.URL.Query().Get("seed"); seedParam != "" {
		seed, err := strconv.ParseUint(seedParam, 10, 64)
		if err != nil {
			h.formatter.WriteError(w, req, http.StatusBadRequest, fmt.Sprintf("invalid seed %q", seedParam))
			return
		}
		params.Seed = seed
	}

	population, err := h.controller.DB.FetchPopulation(req.Context())
	if err != nil {
		h.writeError(w, req, err)
		return
	}

	snaps, warnings, err := h.controller.engine.GenerateSnapshots(population, horizons, ruleType, params)
	if err != nil {
		h.writeError(w, req, err)
		return
	}

	h.formatter.WriteResponse(w, req, SnapshotsResponse{
		Rule:      string(ruleType),
		Snapshots: snaps,
		Warnings:  warnings,
	}, nil)
}

// PredictTree projects a single hypothetical tree and returns its full
// diameter trajectory with the carbon estimate at the end
func (h *Handlers) PredictTree(w http.ResponseWriter, req *http.Request) {
	var body PredictTreeRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		h.formatter.WriteError(w, req, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	plot, err := growth.ParsePlotGroup(body.Plot)
	if err != nil {
		h.formatter.WriteError(w, req, http.StatusBadRequest, err.Error())
		return
	}
	if body.DiameterCM <= 0 {
		h.formatter.WriteError(w, req, http.StatusBadRequest, "diameter_cm must be positive")
		return
	}
	if body.Years <= 0 || body.Years > 500 {
		h.formatter.WriteError(w, req, http.StatusBadRequest, "years must be within (0, 500]")
		return
	}

	ruleType := h.controller.defaultRule()
	if body.Rule != "" {
		ruleType, err = sim.ParseRuleType(body.Rule)
		if err != nil {
			h.formatter.WriteError(w, req, http.StatusBadRequest, err.Error())
			return
		}
	}

	tree := sim.Tree{ID: "predicted", Species: body.Species, Plot: plot, DiameterCM: body.DiameterCM}
	result, err := h.controller.engine.SimulateYears([]sim.Tree{tree}, body.Years, ruleType, h.controller.defaultRuleParams())
	if err != nil {
		h.writeError(w, req, err)
		return
	}

	history := result.Histories[tree.ID]
	final := history[len(history)-1]
	h.formatter.WriteResponse(w, req, PredictTreeResponse{
		Rule:            string(ruleType),
		History:         history,
		FinalDiameterCM: final,
		FinalCarbonKG:   forestry.DiameterToCarbon(final, body.Species),
	}, nil)
}

// ComparePlantingScenarios projects every submitted planting against the
// stored base population over the same horizons and reports the carbon each
// planting adds over the baseline. Without an inventory database the base
// population is empty and the plantings are projected on their own.
func (h *Handlers) ComparePlantingScenarios(w http.ResponseWriter, req *http.Request) {
	var body PlantingScenariosRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		h.formatter.WriteError(w, req, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if len(body.Recipes) == 0 && len(body.Explicit) == 0 {
		h.formatter.WriteError(w, req, http.StatusBadRequest, "no planting recipes or explicit plantings provided")
		return
	}

	horizons := h.controller.defaultHorizons()
	if len(body.Horizons) > 0 {
		horizons = body.Horizons
	}

	ruleType := h.controller.defaultRule()
	if body.Rule != "" {
		parsed, err := sim.ParseRuleType(body.Rule)
		if err != nil {
			h.formatter.WriteError(w, req, http.StatusBadRequest, err.Error())
			return
		}
		ruleType = parsed
	}

	list := make([]*scenarios.Scenario, 0, len(body.Recipes)+len(body.Explicit))
	for i := range body.Recipes {
		scenario, err := scenarios.FromRecipe(&body.Recipes[i])
		if err != nil {
			h.writeError(w, req, err)
			return
		}
		list = append(list, scenario)
	}
	for i := range body.Explicit {
		scenario, err := scenarios.FromTrees(&body.Explicit[i])
		if err != nil {
			h.writeError(w, req, err)
			return
		}
		list = append(list, scenario)
	}

	var base []sim.Tree
	if h.controller.DBEnabled {
		var err error
		base, err = h.controller.DB.FetchPopulation(req.Context())
		if err != nil {
			h.writeError(w, req, err)
			return
		}
	}

	result, err := scenarios.Compare(h.controller.engine, base, list, horizons, ruleType, h.controller.defaultRuleParams())
	if err != nil {
		h.writeError(w, req, err)
		return
	}

	h.formatter.WriteResponse(w, req, PlantingScenariosResponse{
		Rule:     string(ruleType),
		Baseline: result.Baseline,
		Outcomes: result.Outcomes,
	}, nil)
}

// parseYearList parses a comma-separated list of horizons from a query
// parameter
func parseYearList(s string) ([]int, error) {
	parts := strings.Split(s, ",")
	years := make([]int, 0, len(parts))
	for _, part := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || v < 0 {
			return nil, fmt.Errorf("invalid year %q", part)
		}
		years = append(years, v)
	}
	return years, nil
}
