// Copyright (C) The Depclust Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package depclust

import (
	"gopkg.in/check.v1"
)

type mergeSuite struct{}

var _ = check.Suite(&mergeSuite{})

func (s *mergeSuite) TestMergeEntries(c *check.C) {
	a := &ScreenEntry{
		Genes: []string{"GENA (1)", "GENB (2)", "GENC (3)"},
		CellLines: []CellLineEffect{
			{ID: "ACH-000001", Effects: []float64{1, 2, 3}},
			{ID: "ACH-000002", Effects: []float64{4, 5, 6}},
		},
		Samples: []SampleInfo{{ID: "ACH-000001", Lineage: "lung"}},
	}
	b := &ScreenEntry{
		// Different column order, one gene missing, one new.
		Genes: []string{"GENC (3)", "GEND (4)", "GENA (1)"},
		CellLines: []CellLineEffect{
			{ID: "ACH-000002", Effects: []float64{60, 70, 40}},
			{ID: "ACH-000003", Effects: []float64{9, 8, 7}},
		},
		Samples: []SampleInfo{{ID: "ACH-000001", Lineage: "breast"}},
	}
	merged, err := mergeEntries([]*ScreenEntry{a, b})
	c.Assert(err, check.IsNil)
	// Shared genes, in the first library's column order.
	c.Check(merged.Genes, check.DeepEquals, []string{"GENA (1)", "GENC (3)"})
	c.Assert(merged.CellLines, check.HasLen, 3)
	c.Check(merged.CellLines[0].Effects, check.DeepEquals, []float64{1, 3})
	// The later library wins the duplicate cell line...
	c.Check(merged.CellLines[1].ID, check.Equals, "ACH-000002")
	c.Check(merged.CellLines[1].Effects, check.DeepEquals, []float64{40, 60})
	c.Check(merged.CellLines[2].Effects, check.DeepEquals, []float64{7, 9})
	// ...and the duplicate sample record.
	c.Assert(merged.Samples, check.HasLen, 1)
	c.Check(merged.Samples[0].Lineage, check.Equals, "breast")
}

func (s *mergeSuite) TestMergeEntriesNoSharedGenes(c *check.C) {
	a := &ScreenEntry{Genes: []string{"GENA (1)"}}
	b := &ScreenEntry{Genes: []string{"GENB (2)"}}
	_, err := mergeEntries([]*ScreenEntry{a, b})
	c.Check(err, check.NotNil)
}
