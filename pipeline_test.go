// Copyright (C) The Depclust Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package depclust

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/kshedden/gonpy"
	"gopkg.in/check.v1"
)

type pipelineSuite struct{}

var _ = check.Suite(&pipelineSuite{})

// groupOf maps the testdata cell line IDs (ACH-000001..ACH-000018) to
// their dependency group: three blocks of six.
func groupOf(id string) int {
	n, _ := strconv.Atoi(strings.TrimPrefix(id, "ACH-0000"))
	return (n - 1) / 6
}

func runOK(c *check.C, cmd interface {
	RunCommand(string, []string, io.Reader, io.Writer, io.Writer) int
}, prog string, args ...string) {
	var stderr bytes.Buffer
	exited := cmd.RunCommand(prog, args, nil, io.Discard, &stderr)
	c.Assert(exited, check.Equals, 0, check.Commentf("%s: %s", prog, stderr.String()))
}

func readCSVFile(c *check.C, filename string) (header []string, rows [][]string) {
	f, err := os.Open(filename)
	c.Assert(err, check.IsNil)
	defer f.Close()
	all, err := csv.NewReader(f).ReadAll()
	c.Assert(err, check.IsNil)
	c.Assert(len(all) > 0, check.Equals, true)
	return all[0], all[1:]
}

func (s *pipelineSuite) TestPipeline(c *check.C) {
	tmpdir := c.MkDir()
	lib := filepath.Join(tmpdir, "library.gob.gz")
	scaled := filepath.Join(tmpdir, "scaled.gob")

	runOK(c, &importer{}, "import",
		"-samples", "testdata/sample_info.csv",
		"-o", lib,
		"testdata/gene_effect.csv")
	ent, err := LoadLibrary(lib)
	c.Assert(err, check.IsNil)
	c.Check(ent.CellLines, check.HasLen, 18)
	c.Check(ent.Genes, check.HasLen, 12)
	c.Check(ent.DroppedGenes, check.DeepEquals, []string{"BADGENE (999)"})
	// The metadata row with no effect row does not join in.
	c.Check(ent.Samples, check.HasLen, 18)
	c.Check(ent.Scaled, check.Equals, false)

	var stats struct {
		CellLines, Genes, DroppedGenes, Annotated int
		Scaled                                    bool
		Lineages                                  map[string]int
		HarvestDateFirst, HarvestDateLast         string
	}
	var statsOut bytes.Buffer
	exited := (&statscmd{}).RunCommand("stats", []string{"-i", lib}, nil, &statsOut, os.Stderr)
	c.Assert(exited, check.Equals, 0)
	c.Assert(json.Unmarshal(statsOut.Bytes(), &stats), check.IsNil)
	c.Check(stats.CellLines, check.Equals, 18)
	c.Check(stats.Genes, check.Equals, 12)
	c.Check(stats.DroppedGenes, check.Equals, 1)
	c.Check(stats.Annotated, check.Equals, 18)
	c.Check(stats.Lineages, check.HasLen, 3)
	c.Check(stats.HarvestDateFirst, check.Equals, "2020-01-03")

	runOK(c, &scaler{}, "scale", "-i", lib, "-o", scaled)
	ent, err = LoadLibrary(scaled)
	c.Assert(err, check.IsNil)
	c.Check(ent.Scaled, check.Equals, true)
	c.Check(ent.Samples, check.HasLen, 18)

	embedding := filepath.Join(tmpdir, "embedding.csv")
	embeddingNpy := filepath.Join(tmpdir, "embedding.npy")
	runOK(c, &goEmbed{}, "embed",
		"-i", scaled,
		"-o", embedding,
		"-npy", embeddingNpy,
		"-components", "4")
	ef, err := os.Open(embedding)
	c.Assert(err, check.IsNil)
	ids, coords, err := readEmbeddingCSV(ef)
	ef.Close()
	c.Assert(err, check.IsNil)
	c.Check(ids, check.HasLen, 18)
	c.Assert(coords, check.HasLen, 18)
	c.Check(coords[0], check.HasLen, 4)
	nf, err := os.Open(embeddingNpy)
	c.Assert(err, check.IsNil)
	npr, err := gonpy.NewReader(nf)
	c.Assert(err, check.IsNil)
	c.Check(npr.Shape, check.DeepEquals, []int{18, 4})
	nf.Close()

	graphClusters := filepath.Join(tmpdir, "graph_clusters.csv")
	runOK(c, &graphCluster{}, "cluster-graph",
		"-i", scaled,
		"-o", graphClusters,
		"-k", "5")
	gf, err := os.Open(graphClusters)
	c.Assert(err, check.IsNil)
	graphLabels, err := readClusterCSV(gf)
	gf.Close()
	c.Assert(err, check.IsNil)
	c.Assert(graphLabels, check.HasLen, 18)
	// Three dependency groups, one community each.
	groupLabel := map[int]int{}
	for id, label := range graphLabels {
		g := groupOf(id)
		if prev, ok := groupLabel[g]; ok {
			c.Check(label, check.Equals, prev, check.Commentf("%s", id))
		} else {
			groupLabel[g] = label
		}
	}
	c.Check(groupLabel, check.HasLen, 3)
	c.Check(groupLabel[0] == groupLabel[1] || groupLabel[1] == groupLabel[2] || groupLabel[0] == groupLabel[2], check.Equals, false)

	densClusters := filepath.Join(tmpdir, "density_clusters.csv")
	runOK(c, &densityCluster{}, "cluster-density",
		"-i", embedding,
		"-o", densClusters,
		"-min-cluster-size", "4")
	df, err := os.Open(densClusters)
	c.Assert(err, check.IsNil)
	densLabels, err := readClusterCSV(df)
	df.Close()
	c.Assert(err, check.IsNil)
	c.Assert(densLabels, check.HasLen, 18)
	// Every dense cluster is pure: one dependency group only.
	clusterGroup := map[int]int{}
	noise := 0
	for id, label := range densLabels {
		if label == noiseLabel {
			noise++
			continue
		}
		g := groupOf(id)
		if prev, ok := clusterGroup[label]; ok {
			c.Check(g, check.Equals, prev, check.Commentf("%s", id))
		} else {
			clusterGroup[label] = g
		}
	}
	c.Check(clusterGroup, check.HasLen, 3)
	c.Check(noise <= 2, check.Equals, true)

	enrichCSV := filepath.Join(tmpdir, "enrich.csv")
	runOK(c, &enricher{}, "enrich",
		"-i", scaled,
		"-clusters", graphClusters,
		"-top", "4",
		"-o", enrichCSV)
	enf, err := os.Open(enrichCSV)
	c.Assert(err, check.IsNil)
	enrichRows, err := readEnrichmentCSV(enf)
	enf.Close()
	c.Assert(err, check.IsNil)
	c.Assert(enrichRows, check.HasLen, 12)
	// Each group's top enriched genes are its own signature block
	// (genes 4g+1..4g+4 in column order).
	signature := [][]string{
		{"GENA", "GENB", "GENC", "GEND"},
		{"GENE", "GENF", "GENG", "GENH"},
		{"GENI", "GENJ", "GENK", "GENL"},
	}
	for g := 0; g < 3; g++ {
		got := topEnrichedGenes(enrichRows, groupLabel[g], 4)
		c.Assert(got, check.HasLen, 4)
		symbols := map[string]bool{}
		for _, gene := range got {
			symbols[geneSymbol(gene)] = true
		}
		for _, want := range signature[g] {
			c.Check(symbols[want], check.Equals, true, check.Commentf("group %d: %v", g, got))
		}
	}

	checkXval := func(filename, features string, wantAUC float64) {
		header, rows := readCSVFile(c, filename)
		c.Assert(header, check.DeepEquals, []string{"cluster", "n", "samples", "features", "auc", "logloss", "rmse", "best_round"})
		c.Assert(rows, check.HasLen, 3)
		for _, row := range rows {
			c.Check(row[1], check.Equals, "6")
			c.Check(row[2], check.Equals, "18")
			c.Check(row[3], check.Equals, features)
			auc, err := strconv.ParseFloat(row[4], 64)
			c.Assert(err, check.IsNil)
			c.Check(auc >= wantAUC && auc <= 1, check.Equals, true, check.Commentf("cluster %s: auc %v", row[0], auc))
		}
	}
	xvalEffects := filepath.Join(tmpdir, "xval_effects.csv")
	runOK(c, &crossValidator{}, "xval",
		"-i", scaled,
		"-clusters", graphClusters,
		"-o", xvalEffects)
	checkXval(xvalEffects, "effects", 0.9)

	xvalOmics := filepath.Join(tmpdir, "xval_omics.csv")
	runOK(c, &crossValidator{}, "xval",
		"-i", scaled,
		"-clusters", graphClusters,
		"-features", "omics",
		"-omics-file", "testdata/expression.csv",
		"-enrich-file", enrichCSV,
		"-top-genes", "4",
		"-o", xvalOmics)
	checkXval(xvalOmics, "omics", 0.9)

	confoundCSV := filepath.Join(tmpdir, "confound.csv")
	runOK(c, &confoundCheck{}, "confound",
		"-i", scaled,
		"-clusters", graphClusters,
		"-o", confoundCSV)
	header, rows := readCSVFile(c, confoundCSV)
	c.Assert(header, check.DeepEquals, []string{"cluster", "n", "date_pvalue", "top_lineage", "lineage_pvalue"})
	c.Assert(rows, check.HasLen, 3)
	lineages := map[string]bool{}
	for _, row := range rows {
		c.Check(row[1], check.Equals, "6")
		c.Check(row[3] == "", check.Equals, false)
		lineages[row[3]] = true
		// In testdata lineage tracks the dependency groups exactly.
		p, err := strconv.ParseFloat(row[4], 64)
		c.Assert(err, check.IsNil)
		c.Check(p < 0.01, check.Equals, true, check.Commentf("cluster %s", row[0]))
		// Harvest dates track the groups too; the fit may degrade
		// to NaN under complete separation, but must parse.
		_, err = strconv.ParseFloat(row[2], 64)
		c.Check(err, check.IsNil)
	}
	c.Check(lineages, check.HasLen, 3)

	exportCSV := filepath.Join(tmpdir, "export.csv")
	runOK(c, &exporter{}, "export", "-i", lib, "-o", exportCSV)
	header, rows = readCSVFile(c, exportCSV)
	c.Check(header, check.HasLen, 13)
	c.Check(rows, check.HasLen, 18)

	longCSV := filepath.Join(tmpdir, "export_long.csv")
	runOK(c, &exporter{}, "export", "-i", lib, "-long", "-o", longCSV)
	_, rows = readCSVFile(c, longCSV)
	c.Check(rows, check.HasLen, 18*12)

	matrixNpy := filepath.Join(tmpdir, "matrix.npy")
	annotationsCSV := filepath.Join(tmpdir, "annotations.csv")
	genesCSV := filepath.Join(tmpdir, "genes.csv")
	runOK(c, &exportNumpy{}, "export-numpy",
		"-i", lib,
		"-o", matrixNpy,
		"-output-annotations", annotationsCSV,
		"-output-genes", genesCSV)
	nf, err = os.Open(matrixNpy)
	c.Assert(err, check.IsNil)
	npr, err = gonpy.NewReader(nf)
	c.Assert(err, check.IsNil)
	c.Check(npr.Shape, check.DeepEquals, []int{18, 12})
	data, err := npr.GetFloat64()
	c.Assert(err, check.IsNil)
	nf.Close()
	c.Assert(data, check.HasLen, 18*12)
	// First cell of testdata/gene_effect.csv.
	c.Check(math.Abs(data[0]-(-2.0529)) < 1e-9, check.Equals, true)
	_, rows = readCSVFile(c, annotationsCSV)
	c.Check(rows, check.HasLen, 18)
}

func (s *pipelineSuite) TestImportExcludeList(c *check.C) {
	tmpdir := c.MkDir()
	excludeFilename := filepath.Join(tmpdir, "exclude.txt")
	err := os.WriteFile(excludeFilename, []byte("ACH-000001\nACH-000007\n"), 0666)
	c.Assert(err, check.IsNil)
	lib := filepath.Join(tmpdir, "library.gob")
	runOK(c, &importer{}, "import",
		"-samples", "testdata/sample_info.csv",
		"-exclude", excludeFilename,
		"-o", lib,
		"testdata/gene_effect.csv")
	ent, err := LoadLibrary(lib)
	c.Assert(err, check.IsNil)
	c.Check(ent.CellLines, check.HasLen, 16)
	c.Check(ent.Samples, check.HasLen, 16)
	for _, cl := range ent.CellLines {
		c.Check(cl.ID == "ACH-000001" || cl.ID == "ACH-000007", check.Equals, false)
	}
}

func (s *pipelineSuite) TestImportRefusesStdout(c *check.C) {
	var stderr bytes.Buffer
	exited := (&importer{}).RunCommand("import", []string{"testdata/gene_effect.csv"}, nil, io.Discard, &stderr)
	c.Check(exited, check.Equals, 1)
	c.Check(strings.Contains(stderr.String(), "-o"), check.Equals, true)
}

func (s *pipelineSuite) TestMergeCommand(c *check.C) {
	tmpdir := c.MkDir()
	libA := filepath.Join(tmpdir, "a.gob")
	libB := filepath.Join(tmpdir, "b.gob")
	runOK(c, &importer{}, "import", "-o", libA, "testdata/gene_effect.csv")
	runOK(c, &importer{}, "import", "-samples", "testdata/sample_info.csv", "-o", libB, "testdata/gene_effect.csv")
	merged := filepath.Join(tmpdir, "merged.gob")
	runOK(c, &merger{}, "merge", "-o", merged, libA, libB)
	ent, err := LoadLibrary(merged)
	c.Assert(err, check.IsNil)
	c.Check(ent.CellLines, check.HasLen, 18)
	c.Check(ent.Genes, check.HasLen, 12)
	c.Check(ent.Samples, check.HasLen, 18)
}

func (s *pipelineSuite) TestMergeRefusesScaled(c *check.C) {
	tmpdir := c.MkDir()
	lib := filepath.Join(tmpdir, "library.gob")
	scaled := filepath.Join(tmpdir, "scaled.gob")
	runOK(c, &importer{}, "import", "-o", lib, "testdata/gene_effect.csv")
	runOK(c, &scaler{}, "scale", "-i", lib, "-o", scaled)
	var stderr bytes.Buffer
	exited := (&merger{}).RunCommand("merge", []string{"-o", filepath.Join(tmpdir, "out.gob"), lib, scaled}, nil, io.Discard, &stderr)
	c.Check(exited, check.Equals, 1)
	c.Check(strings.Contains(stderr.String(), "scaled"), check.Equals, true)
}
