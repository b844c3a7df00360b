package growth

import (
	"math"
	"sort"
)

// TreeNode is one node of a flattened regression tree. Leaves carry the
// regularized output value; internal nodes route on Feature <= Threshold.
type TreeNode struct {
	Feature   int     `msgpack:"feature"`
	Threshold float64 `msgpack:"threshold"`
	Left      int     `msgpack:"left"`
	Right     int     `msgpack:"right"`
	Value     float64 `msgpack:"value"`
	IsLeaf    bool    `msgpack:"is_leaf"`
}

// RegressionTree is a depth-limited CART regression tree with L1/L2
// regularized leaf values, stored as a flat node slice so fitted trees
// serialize cleanly
type RegressionTree struct {
	Nodes []TreeNode `msgpack:"nodes"`
}

// Predict walks the tree for one feature vector
func (t *RegressionTree) Predict(features []float64) float64 {
	if len(t.Nodes) == 0 {
		return 0.0
	}
	idx := 0
	for {
		node := &t.Nodes[idx]
		if node.IsLeaf {
			return node.Value
		}
		if features[node.Feature] <= node.Threshold {
			idx = node.Left
		} else {
			idx = node.Right
		}
	}
}

// treeBuilder grows a single regression tree on a target slice.
// Leaf values and split gains use the regularized objective: for a node with
// target sum S over n samples, value = shrink(S, l1) / (n + l2) and
// score = shrink(S, l1)^2 / (n + l2). A split is kept only when the summed
// child scores beat the parent's.
type treeBuilder struct {
	features [][]float64
	target   []float64
	maxDepth int
	minLeaf  int
	l1       float64
	l2       float64
	nodes    []TreeNode
}

// softShrink applies the L1 soft-threshold to a target sum
func softShrink(sum, alpha float64) float64 {
	if sum > alpha {
		return sum - alpha
	}
	if sum < -alpha {
		return sum + alpha
	}
	return 0.0
}

func (b *treeBuilder) nodeScore(sum float64, count int) float64 {
	s := softShrink(sum, b.l1)
	return s * s / (float64(count) + b.l2)
}

func (b *treeBuilder) leafValue(sum float64, count int) float64 {
	return softShrink(sum, b.l1) / (float64(count) + b.l2)
}

// build grows the tree from the given sample indices and returns the root
// node index within the flat slice
func (b *treeBuilder) build(indices []int, depth int) int {
	sum := 0.0
	for _, i := range indices {
		sum += b.target[i]
	}

	nodeIdx := len(b.nodes)
	b.nodes = append(b.nodes, TreeNode{
		IsLeaf: true,
		Value:  b.leafValue(sum, len(indices)),
	})

	if depth >= b.maxDepth || len(indices) < 2*b.minLeaf {
		return nodeIdx
	}

	feature, threshold, gain := b.bestSplit(indices, sum)
	if gain <= 1e-12 {
		return nodeIdx
	}

	var leftIdx, rightIdx []int
	for _, i := range indices {
		if b.features[i][feature] <= threshold {
			leftIdx = append(leftIdx, i)
		} else {
			rightIdx = append(rightIdx, i)
		}
	}
	if len(leftIdx) < b.minLeaf || len(rightIdx) < b.minLeaf {
		return nodeIdx
	}

	left := b.build(leftIdx, depth+1)
	right := b.build(rightIdx, depth+1)

	b.nodes[nodeIdx] = TreeNode{
		Feature:   feature,
		Threshold: threshold,
		Left:      left,
		Right:     right,
	}
	return nodeIdx
}

// bestSplit scans every feature for the split with the largest regularized
// gain over the parent score
func (b *treeBuilder) bestSplit(indices []int, parentSum float64) (int, float64, float64) {
	parentScore := b.nodeScore(parentSum, len(indices))
	nFeatures := len(b.features[indices[0]])

	bestFeature, bestThreshold, bestGain := -1, 0.0, 0.0

	type pair struct {
		value  float64
		target float64
	}
	pairs := make([]pair, len(indices))

	for f := 0; f < nFeatures; f++ {
		for k, i := range indices {
			pairs[k] = pair{value: b.features[i][f], target: b.target[i]}
		}
		sort.Slice(pairs, func(i, j int) bool { return pairs[i].value < pairs[j].value })

		leftSum := 0.0
		for k := 0; k < len(pairs)-1; k++ {
			leftSum += pairs[k].target
			// Only split between distinct feature values
			if pairs[k].value == pairs[k+1].value {
				continue
			}
			nLeft := k + 1
			nRight := len(pairs) - nLeft
			if nLeft < b.minLeaf || nRight < b.minLeaf {
				continue
			}
			gain := b.nodeScore(leftSum, nLeft) + b.nodeScore(parentSum-leftSum, nRight) - parentScore
			if gain > bestGain {
				bestGain = gain
				bestFeature = f
				bestThreshold = (pairs[k].value + pairs[k+1].value) / 2.0
			}
		}
	}

	if bestFeature < 0 {
		return 0, 0, 0
	}
	// Guard against degenerate thresholds from adjacent denormals
	if math.IsNaN(bestThreshold) || math.IsInf(bestThreshold, 0) {
		return 0, 0, 0
	}
	return bestFeature, bestThreshold, bestGain
}

// growTree fits one regression tree on the given target values restricted to
// the supplied sample indices
func growTree(features [][]float64, target []float64, indices []int, maxDepth, minLeaf int, l1, l2 float64) RegressionTree {
	b := &treeBuilder{
		features: features,
		target:   target,
		maxDepth: maxDepth,
		minLeaf:  minLeaf,
		l1:       l1,
		l2:       l2,
	}
	if len(indices) == 0 {
		return RegressionTree{Nodes: []TreeNode{{IsLeaf: true}}}
	}
	b.build(indices, 0)
	return RegressionTree{Nodes: b.nodes}
}
