// Copyright (C) The Depclust Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package depclust

import (
	"path/filepath"

	"gopkg.in/check.v1"
)

type screenlibSuite struct{}

var _ = check.Suite(&screenlibSuite{})

func (s *screenlibSuite) TestLibraryRoundTrip(c *check.C) {
	tmpdir := c.MkDir()
	ent := syntheticLibrary(2, 3, 4, 11)
	ent.Samples = []SampleInfo{{ID: ent.CellLines[0].ID, Lineage: "lung"}}
	ent.DroppedGenes = []string{"BADGENE (999)"}
	for _, filename := range []string{
		filepath.Join(tmpdir, "library.gob"),
		filepath.Join(tmpdir, "library.gob.gz"),
	} {
		c.Assert(WriteLibrary(filename, ent), check.IsNil)
		got, err := LoadLibrary(filename)
		c.Assert(err, check.IsNil)
		c.Check(got.Genes, check.DeepEquals, ent.Genes)
		c.Check(got.CellLines, check.DeepEquals, ent.CellLines)
		c.Check(got.Samples, check.DeepEquals, ent.Samples)
		c.Check(got.DroppedGenes, check.DeepEquals, ent.DroppedGenes)
		c.Check(got.Digest, check.Equals, ent.Digest)
	}
}

func (s *screenlibSuite) TestGeneIndex(c *check.C) {
	ent := &ScreenEntry{Genes: []string{"GENA (1)", "GENB (2)"}}
	c.Check(ent.geneIndex("GENA (1)"), check.Equals, 0)
	c.Check(ent.geneIndex("GENB"), check.Equals, 1)
	c.Check(ent.geneIndex("GENX"), check.Equals, -1)
}

func (s *screenlibSuite) TestDigestTracksContent(c *check.C) {
	ent := syntheticLibrary(1, 4, 3, 13)
	before := ent.Digest
	ent.CellLines[0].Effects[0] += 1
	ent.computeDigest()
	c.Check(ent.Digest == before, check.Equals, false)
}
