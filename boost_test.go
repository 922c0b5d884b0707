// Copyright (C) The Depclust Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package depclust

import (
	"math"
	"math/rand"

	"gopkg.in/check.v1"
)

type boostSuite struct{}

var _ = check.Suite(&boostSuite{})

func (s *boostSuite) TestAUCScore(c *check.C) {
	classes := []bool{false, false, true, true}
	c.Check(aucScore([]float64{0.1, 0.2, 0.8, 0.9}, classes), check.Equals, 1.0)
	c.Check(aucScore([]float64{0.9, 0.8, 0.2, 0.1}, classes), check.Equals, 0.0)
	mixed := aucScore([]float64{0.1, 0.8, 0.2, 0.9}, classes)
	c.Check(mixed >= 0 && mixed <= 1, check.Equals, true)
	c.Check(math.IsNaN(aucScore([]float64{0.1, 0.2}, []bool{true, true})), check.Equals, true)
	c.Check(math.IsNaN(aucScore([]float64{0.1, 0.2}, []bool{false, false})), check.Equals, true)
}

func (s *boostSuite) TestStumpRoutesNaNLeft(c *check.C) {
	st := stump{feature: 0, threshold: 0.5, left: -1, right: 1}
	c.Check(st.value([]float64{0.4}), check.Equals, -1.0)
	c.Check(st.value([]float64{0.6}), check.Equals, 1.0)
	c.Check(st.value([]float64{math.NaN()}), check.Equals, -1.0)
}

func (s *boostSuite) TestTrainBoostSeparable(c *check.C) {
	rng := rand.New(rand.NewSource(17))
	var X [][]float64
	var y []bool
	for i := 0; i < 40; i++ {
		pos := i%2 == 0
		x0 := rng.NormFloat64() * 0.2
		if pos {
			x0 += 2
		}
		X = append(X, []float64{x0, rng.NormFloat64()})
		y = append(y, pos)
	}
	model := trainBoost(X, y, 10, 0.3, 1)
	c.Assert(len(model.stumps) > 0, check.Equals, true)
	scores := make([]float64, len(X))
	for i, x := range X {
		scores[i] = model.rawScore(x, -1)
	}
	c.Check(aucScore(scores, y), check.Equals, 1.0)
	// The informative feature wins the first split.
	c.Check(model.stumps[0].feature, check.Equals, 0)
}

func (s *boostSuite) TestTrainBoostSingleClass(c *check.C) {
	X := [][]float64{{1}, {2}, {3}}
	y := []bool{true, true, true}
	model := trainBoost(X, y, 5, 0.3, 1)
	// Nothing to separate: no stump gains over the base score.
	c.Check(model.stumps, check.HasLen, 0)
	c.Check(model.base, check.Equals, 0.0)
}

func (s *boostSuite) TestTrainBoostEmpty(c *check.C) {
	model := trainBoost(nil, nil, 5, 0.3, 1)
	c.Check(model.stumps, check.HasLen, 0)
}

func (s *boostSuite) TestLogLossAndRMSE(c *check.C) {
	classes := []bool{true, false}
	perfect := logLoss([]float64{1, 0}, classes)
	c.Check(perfect < 1e-10, check.Equals, true)
	c.Check(math.IsInf(logLoss([]float64{0, 1}, classes), 0), check.Equals, false)
	c.Check(rmse([]float64{1, 0}, classes), check.Equals, 0.0)
	c.Check(rmse([]float64{0, 1}, classes), check.Equals, 1.0)
}
