package growth

import (
	"math"
	"sort"

	"go.uber.org/zap"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat"
)

// FeatureEncoder maps (prev diameter, species, plot, elapsed years) to the
// dense feature vector the residual model was trained on. Species and plot
// are one-hot encoded over the levels seen during training; unseen levels
// encode to all zeros rather than failing.
type FeatureEncoder struct {
	SpeciesLevels []string    `msgpack:"species_levels"`
	PlotLevels    []PlotGroup `msgpack:"plot_levels"`
}

func newFeatureEncoder(observations []GrowthObservation) *FeatureEncoder {
	speciesSet := make(map[string]struct{})
	plotSet := make(map[PlotGroup]struct{})
	for _, o := range observations {
		speciesSet[o.Species] = struct{}{}
		plotSet[o.Plot] = struct{}{}
	}

	enc := &FeatureEncoder{}
	for s := range speciesSet {
		enc.SpeciesLevels = append(enc.SpeciesLevels, s)
	}
	sort.Strings(enc.SpeciesLevels)
	for p := range plotSet {
		enc.PlotLevels = append(enc.PlotLevels, p)
	}
	sort.Slice(enc.PlotLevels, func(i, j int) bool { return enc.PlotLevels[i] < enc.PlotLevels[j] })
	return enc
}

// NumFeatures returns the encoded vector length
func (e *FeatureEncoder) NumFeatures() int {
	return 2 + len(e.SpeciesLevels) + len(e.PlotLevels)
}

// Encode builds the feature vector: [prev_diameter, species one-hots,
// plot one-hots, elapsed_years]
func (e *FeatureEncoder) Encode(prevDiameterCM float64, species string, plot PlotGroup, elapsedYears float64) []float64 {
	features := make([]float64, e.NumFeatures())
	features[0] = prevDiameterCM
	for i, s := range e.SpeciesLevels {
		if s == species {
			features[1+i] = 1.0
			break
		}
	}
	for i, p := range e.PlotLevels {
		if p == plot {
			features[1+len(e.SpeciesLevels)+i] = 1.0
			break
		}
	}
	features[len(features)-1] = elapsedYears
	return features
}

// RegressionDiagnostics reports held-out regression quality for the residual
// model. An R2 below zero signals that the correction adds no value over the
// baseline alone; it is logged, not fatal.
type RegressionDiagnostics struct {
	RMSE         float64 `msgpack:"rmse"`
	MAE          float64 `msgpack:"mae"`
	R2           float64 `msgpack:"r2"`
	Bias         float64 `msgpack:"bias"`
	TrainSamples int     `msgpack:"train_samples"`
	TestSamples  int     `msgpack:"test_samples"`
}

// ResidualModel predicts the residual (observed - baseline) growth as a
// function of diameter, species, plot, and elapsed years. Raw model output is
// clipped to the calibrated bounds before use, preventing implausible
// excursions on out-of-distribution inputs. Immutable after training.
type ResidualModel struct {
	Encoder     *FeatureEncoder       `msgpack:"encoder"`
	Model       *GBTRegressor         `msgpack:"model"`
	ClipLow     float64               `msgpack:"clip_low"`
	ClipHigh    float64               `msgpack:"clip_high"`
	Diagnostics RegressionDiagnostics `msgpack:"diagnostics"`
}

// holdoutFraction is the share of observations reserved for evaluation
const holdoutFraction = 0.2

// clipPercentileLow/High bound the learned correction to the central mass of
// the training residual distribution
const (
	clipPercentileLow  = 5.0
	clipPercentileHigh = 95.0
)

// TrainResidualModel trains the gradient-boosted residual corrector against
// the baseline curves. The target for each observation is
// annualized_delta - baseline_prediction; clip bounds come from the 5th/95th
// percentile of the training targets.
func TrainResidualModel(observations []GrowthObservation, curves *CurveSet, params GBTParams, logger *zap.SugaredLogger) (*ResidualModel, error) {
	if len(observations) == 0 {
		return nil, NewDataError("cannot train residual model from an empty observation set")
	}
	if curves == nil {
		return nil, ErrModelUnavailable
	}

	encoder := newFeatureEncoder(observations)

	features := make([][]float64, len(observations))
	targets := make([]float64, len(observations))
	for i, o := range observations {
		features[i] = encoder.Encode(o.PrevDiameterCM, o.Species, o.Plot, o.ElapsedYears)
		targets[i] = o.AnnualizedDelta - curves.Predict(o.PrevDiameterCM, o.Species, o.Plot)
	}

	// Seeded shuffle, holdout split
	rng := rand.New(rand.NewSource(params.Seed))
	perm := rng.Perm(len(observations))
	nTest := int(float64(len(observations)) * holdoutFraction)
	if nTest < 1 && len(observations) > 4 {
		nTest = 1
	}

	testIdx := perm[:nTest]
	trainIdx := perm[nTest:]
	if len(trainIdx) == 0 {
		return nil, NewDataError("too few observations (%d) to train a residual model", len(observations))
	}

	trainX := make([][]float64, len(trainIdx))
	trainY := make([]float64, len(trainIdx))
	for k, i := range trainIdx {
		trainX[k] = features[i]
		trainY[k] = targets[i]
	}

	model, err := TrainGBT(trainX, trainY, params)
	if err != nil {
		return nil, err
	}

	rm := &ResidualModel{
		Encoder:  encoder,
		Model:    model,
		ClipLow:  percentile(trainY, clipPercentileLow),
		ClipHigh: percentile(trainY, clipPercentileHigh),
	}
	rm.Diagnostics = evaluateHoldout(rm, features, targets, trainIdx, testIdx)

	logger.Infof("trained residual model on %d samples: holdout RMSE %.4f, MAE %.4f, R2 %.4f, bias %+.4f, clip [%.3f, %.3f]",
		rm.Diagnostics.TrainSamples, rm.Diagnostics.RMSE, rm.Diagnostics.MAE,
		rm.Diagnostics.R2, rm.Diagnostics.Bias, rm.ClipLow, rm.ClipHigh)

	if rm.Diagnostics.R2 < 0 {
		logger.Warnf("residual model holdout R2 is negative (%.4f): the correction adds no value over the baseline alone",
			rm.Diagnostics.R2)
	}

	return rm, nil
}

func evaluateHoldout(rm *ResidualModel, features [][]float64, targets []float64, trainIdx, testIdx []int) RegressionDiagnostics {
	diag := RegressionDiagnostics{
		TrainSamples: len(trainIdx),
		TestSamples:  len(testIdx),
	}
	if len(testIdx) == 0 {
		diag.R2 = math.NaN()
		return diag
	}

	estimates := make([]float64, len(testIdx))
	values := make([]float64, len(testIdx))
	sumSq, sumAbs, sumErr := 0.0, 0.0, 0.0
	for k, i := range testIdx {
		pred := rm.Model.Predict(features[i])
		err := pred - targets[i]
		estimates[k] = pred
		values[k] = targets[i]
		sumSq += err * err
		sumAbs += math.Abs(err)
		sumErr += err
	}

	n := float64(len(testIdx))
	diag.RMSE = math.Sqrt(sumSq / n)
	diag.MAE = sumAbs / n
	diag.Bias = sumErr / n
	diag.R2 = stat.RSquaredFrom(estimates, values, nil)
	return diag
}

// PredictResidual returns the clipped residual correction for one tree-year
func (m *ResidualModel) PredictResidual(prevDiameterCM float64, species string, plot PlotGroup, elapsedYears float64) float64 {
	raw := m.Model.Predict(m.Encoder.Encode(prevDiameterCM, species, plot, elapsedYears))
	return clamp(raw, m.ClipLow, m.ClipHigh)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
