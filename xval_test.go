// Copyright (C) The Depclust Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package depclust

import (
	"math"
	"math/rand"

	"gopkg.in/check.v1"
)

type xvalSuite struct{}

var _ = check.Suite(&xvalSuite{})

func separable(n int, seed int64) ([][]float64, []bool) {
	rng := rand.New(rand.NewSource(seed))
	var X [][]float64
	var y []bool
	for i := 0; i < n; i++ {
		pos := i%3 == 0
		x0 := rng.NormFloat64() * 0.3
		if pos {
			x0 += 3
		}
		X = append(X, []float64{x0, rng.NormFloat64(), rng.NormFloat64()})
		y = append(y, pos)
	}
	return X, y
}

func (s *xvalSuite) TestCrossValidateSeparable(c *check.C) {
	X, y := separable(60, 23)
	res := crossValidate(X, y, 3, 20, 0.3, 1, 1)
	c.Check(res.auc > 0.9, check.Equals, true)
	c.Check(res.auc <= 1, check.Equals, true)
	c.Check(res.logloss >= 0, check.Equals, true)
	c.Check(res.rmse >= 0 && res.rmse <= 1, check.Equals, true)
	c.Check(res.bestRound >= 1 && res.bestRound <= 20, check.Equals, true)
}

func (s *xvalSuite) TestCrossValidateDeterministic(c *check.C) {
	X, y := separable(60, 23)
	a := crossValidate(X, y, 3, 10, 0.3, 1, 42)
	b := crossValidate(X, y, 3, 10, 0.3, 1, 42)
	c.Check(a, check.DeepEquals, b)
}

func (s *xvalSuite) TestCrossValidateUninformative(c *check.C) {
	rng := rand.New(rand.NewSource(31))
	var X [][]float64
	var y []bool
	for i := 0; i < 60; i++ {
		X = append(X, []float64{rng.NormFloat64(), rng.NormFloat64()})
		y = append(y, i%3 == 0)
	}
	res := crossValidate(X, y, 3, 10, 0.3, 1, 1)
	// Noise features should not look predictive.
	c.Check(res.auc < 0.8, check.Equals, true)
}

func (s *xvalSuite) TestCrossValidateTooFewMembers(c *check.C) {
	X := [][]float64{{1}, {2}, {3}, {4}, {5}, {6}}
	y := []bool{true, true, false, false, false, false}
	res := crossValidate(X, y, 3, 10, 0.3, 1, 1)
	c.Check(math.IsNaN(res.auc), check.Equals, true)
	c.Check(math.IsNaN(res.logloss), check.Equals, true)
}

func (s *xvalSuite) TestMatchFeatureColumns(c *check.C) {
	features := []string{"GENA (1)", "GENB (2)", "GENC (3)"}
	cols := matchFeatureColumns(features, []string{"GENC (3)", "GENA (1)"})
	c.Check(cols, check.DeepEquals, []int{0, 2})
	// Symbol-only names match suffixed columns.
	cols = matchFeatureColumns(features, []string{"GENB"})
	c.Check(cols, check.DeepEquals, []int{1})
	c.Check(matchFeatureColumns(features, []string{"NOPE"}), check.HasLen, 0)
}
