// Copyright (C) The Depclust Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package depclust

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/integrate"
	"gonum.org/v1/gonum/stat"
)

// Gradient-boosted regression stumps with logistic loss, second-order
// (Newton) leaf values. Round count, shrinkage, and the L2 leaf
// penalty are fixed by the caller; there is no hyperparameter search.

type stump struct {
	feature   int
	threshold float64
	left      float64 // leaf value for x < threshold (NaN routes here)
	right     float64
}

func (s *stump) value(x []float64) float64 {
	v := x[s.feature]
	if math.IsNaN(v) || v < s.threshold {
		return s.left
	}
	return s.right
}

type boostModel struct {
	base      float64 // prior log-odds
	shrinkage float64
	stumps    []stump
}

// rawScore returns the log-odds score using the first nRounds stumps
// (nRounds < 0 means all).
func (m *boostModel) rawScore(x []float64, nRounds int) float64 {
	if nRounds < 0 || nRounds > len(m.stumps) {
		nRounds = len(m.stumps)
	}
	score := m.base
	for i := 0; i < nRounds; i++ {
		score += m.shrinkage * m.stumps[i].value(x)
	}
	return score
}

func sigmoid(z float64) float64 {
	return 1 / (1 + math.Exp(-z))
}

// trainBoost fits a boosted-stump classifier. X is row-major (one
// slice per sample); y[i] is the binary label.
func trainBoost(X [][]float64, y []bool, rounds int, shrinkage, lambda float64) *boostModel {
	n := len(X)
	pos := 0
	for _, yi := range y {
		if yi {
			pos++
		}
	}
	base := 0.0
	if pos > 0 && pos < n {
		base = math.Log(float64(pos) / float64(n-pos))
	}
	model := &boostModel{base: base, shrinkage: shrinkage}
	if n == 0 || len(X[0]) == 0 {
		return model
	}
	nfeat := len(X[0])

	// Presort sample indexes per feature; NaN sorts first so it
	// always lands in the left (below-threshold) leaf.
	order := make([][]int, nfeat)
	for f := 0; f < nfeat; f++ {
		idx := make([]int, n)
		for i := range idx {
			idx[i] = i
		}
		sort.Slice(idx, func(a, b int) bool {
			va, vb := X[idx[a]][f], X[idx[b]][f]
			if math.IsNaN(va) {
				return !math.IsNaN(vb)
			}
			if math.IsNaN(vb) {
				return false
			}
			return va < vb
		})
		order[f] = idx
	}

	score := make([]float64, n)
	for i := range score {
		score[i] = base
	}
	grad := make([]float64, n)
	hess := make([]float64, n)
	for round := 0; round < rounds; round++ {
		var gsum, hsum float64
		for i := range X {
			p := sigmoid(score[i])
			target := 0.0
			if y[i] {
				target = 1
			}
			grad[i] = p - target
			hess[i] = p * (1 - p)
			gsum += grad[i]
			hsum += hess[i]
		}
		parentObj := gsum * gsum / (hsum + lambda)

		best := stump{feature: -1}
		bestGain := 0.0
		for f := 0; f < nfeat; f++ {
			idx := order[f]
			var gl, hl float64
			for k := 0; k < n-1; k++ {
				i := idx[k]
				gl += grad[i]
				hl += hess[i]
				vk, vnext := X[i][f], X[idx[k+1]][f]
				if vk == vnext || (math.IsNaN(vk) && math.IsNaN(vnext)) {
					continue
				}
				gr, hr := gsum-gl, hsum-hl
				gain := gl*gl/(hl+lambda) + gr*gr/(hr+lambda) - parentObj
				if gain > bestGain {
					bestGain = gain
					threshold := vnext
					if !math.IsNaN(vk) {
						threshold = (vk + vnext) / 2
					}
					best = stump{
						feature:   f,
						threshold: threshold,
						left:      -gl / (hl + lambda),
						right:     -gr / (hr + lambda),
					}
				}
			}
		}
		if best.feature < 0 {
			break // no split improves the objective
		}
		model.stumps = append(model.stumps, best)
		for i := range X {
			score[i] += shrinkage * best.value(X[i])
		}
	}
	return model
}

// aucScore computes the area under the ROC curve for raw scores
// against binary labels. Returns NaN when only one class is present.
func aucScore(scores []float64, classes []bool) float64 {
	pos, neg := 0, 0
	for _, c := range classes {
		if c {
			pos++
		} else {
			neg++
		}
	}
	if pos == 0 || neg == 0 {
		return math.NaN()
	}
	y := append([]float64(nil), scores...)
	cls := append([]bool(nil), classes...)
	stat.SortWeightedLabeled(y, cls, nil)
	tpr, fpr, _ := stat.ROC(nil, y, cls, nil)
	if len(fpr) > 1 && fpr[0] > fpr[len(fpr)-1] {
		floats.Reverse(fpr)
		floats.Reverse(tpr)
	}
	return integrate.Trapezoidal(fpr, tpr)
}

// logLoss is the mean negative log-likelihood of the predicted
// probabilities, clamped away from 0 and 1.
func logLoss(probs []float64, classes []bool) float64 {
	const epsilon = 1e-15
	sum := 0.0
	for i, p := range probs {
		if p < epsilon {
			p = epsilon
		} else if p > 1-epsilon {
			p = 1 - epsilon
		}
		if classes[i] {
			sum -= math.Log(p)
		} else {
			sum -= math.Log(1 - p)
		}
	}
	return sum / float64(len(probs))
}

func rmse(probs []float64, classes []bool) float64 {
	sum := 0.0
	for i, p := range probs {
		target := 0.0
		if classes[i] {
			target = 1
		}
		d := p - target
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(probs)))
}
