package growth

import (
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat"
)

// GBTParams defines hyperparameters for the gradient-boosted-tree regressor.
// Defaults are deliberately conservative: shallow trees with both L1 and L2
// penalties so the learned correction stays small and smooth.
type GBTParams struct {
	Rounds         int     `msgpack:"rounds"`
	MaxDepth       int     `msgpack:"max_depth"`
	LearningRate   float64 `msgpack:"learning_rate"`
	Subsample      float64 `msgpack:"subsample"`
	RegAlpha       float64 `msgpack:"reg_alpha"`
	RegLambda      float64 `msgpack:"reg_lambda"`
	MinSamplesLeaf int     `msgpack:"min_samples_leaf"`
	Seed           uint64  `msgpack:"seed"`
}

// DefaultGBTParams returns the regularized defaults used for residual
// correction training
func DefaultGBTParams() GBTParams {
	return GBTParams{
		Rounds:         100,
		MaxDepth:       4,
		LearningRate:   0.1,
		Subsample:      0.8,
		RegAlpha:       0.1,
		RegLambda:      1.0,
		MinSamplesLeaf: 5,
		Seed:           42,
	}
}

// GBTRegressor is a fitted gradient-boosted ensemble of shallow regression
// trees. Immutable after training.
type GBTRegressor struct {
	Params GBTParams        `msgpack:"params"`
	Base   float64          `msgpack:"base"`
	Trees  []RegressionTree `msgpack:"trees"`
}

// TrainGBT fits a boosted ensemble with squared-error gradients: each round
// fits one tree to the current residuals on a seeded row subsample, then
// shrinks its contribution by the learning rate
func TrainGBT(features [][]float64, target []float64, params GBTParams) (*GBTRegressor, error) {
	n := len(features)
	if n == 0 || len(target) != n {
		return nil, NewDataError("gbt training requires a non-empty feature matrix matching the target length")
	}

	model := &GBTRegressor{
		Params: params,
		Base:   stat.Mean(target, nil),
	}

	preds := make([]float64, n)
	residuals := make([]float64, n)
	for i := range preds {
		preds[i] = model.Base
		residuals[i] = target[i] - preds[i]
	}

	rng := rand.New(rand.NewSource(params.Seed))
	sampleSize := int(float64(n) * params.Subsample)
	if sampleSize < 1 {
		sampleSize = n
	}

	for round := 0; round < params.Rounds; round++ {
		var indices []int
		if sampleSize >= n {
			indices = make([]int, n)
			for i := range indices {
				indices[i] = i
			}
		} else {
			perm := rng.Perm(n)
			indices = perm[:sampleSize]
		}

		tree := growTree(features, residuals, indices, params.MaxDepth, params.MinSamplesLeaf, params.RegAlpha, params.RegLambda)
		model.Trees = append(model.Trees, tree)

		for i := 0; i < n; i++ {
			preds[i] += params.LearningRate * tree.Predict(features[i])
			residuals[i] = target[i] - preds[i]
		}
	}

	return model, nil
}

// Predict returns the ensemble prediction for one feature vector
func (m *GBTRegressor) Predict(features []float64) float64 {
	out := m.Base
	for i := range m.Trees {
		out += m.Params.LearningRate * m.Trees[i].Predict(features)
	}
	return out
}
