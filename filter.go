// Copyright (C) The Depclust Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package depclust

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"regexp"
	"strings"

	"gonum.org/v1/gonum/stat"
)

// filter is a shared flag group for restricting a screen library to a
// subset of cell lines and genes before analysis.
type filter struct {
	ExcludeFile string
	MatchLine   string
	GenesFile   string
	MinVariance float64
}

func (f *filter) Flags(flags *flag.FlagSet) {
	flags.StringVar(&f.ExcludeFile, "exclude", "", "drop cell lines listed (one ID per line) in `file`")
	flags.StringVar(&f.MatchLine, "match-line", "", "keep only cell lines whose ID matches `regexp`")
	flags.StringVar(&f.GenesFile, "genes", "", "keep only genes listed (one per line) in `file`")
	flags.Float64Var(&f.MinVariance, "min-variance", 0, "drop genes whose effect variance is below `V`")
}

func (f *filter) Args() []string {
	return []string{
		"-exclude=" + f.ExcludeFile,
		"-match-line=" + f.MatchLine,
		"-genes=" + f.GenesFile,
		fmt.Sprintf("-min-variance=%g", f.MinVariance),
	}
}

func idSetFromFile(filename string) (map[string]bool, error) {
	rdr, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer rdr.Close()
	set := map[string]bool{}
	scanner := bufio.NewScanner(rdr)
	for scanner.Scan() {
		id := strings.TrimSpace(scanner.Text())
		if id != "" {
			set[id] = true
		}
	}
	return set, scanner.Err()
}

// Apply drops cell lines and genes in place according to the filter
// flags.
func (f *filter) Apply(ent *ScreenEntry) error {
	if f.ExcludeFile != "" || f.MatchLine != "" {
		var exclude map[string]bool
		var err error
		if f.ExcludeFile != "" {
			exclude, err = idSetFromFile(f.ExcludeFile)
			if err != nil {
				return err
			}
		}
		var match *regexp.Regexp
		if f.MatchLine != "" {
			match, err = regexp.Compile(f.MatchLine)
			if err != nil {
				return fmt.Errorf("-match-line: invalid regexp %q", f.MatchLine)
			}
		}
		kept := ent.CellLines[:0]
		for _, cl := range ent.CellLines {
			if exclude[cl.ID] {
				continue
			}
			if match != nil && !match.MatchString(cl.ID) {
				continue
			}
			kept = append(kept, cl)
		}
		ent.CellLines = kept
	}

	keepGene := make([]bool, len(ent.Genes))
	changed := false
	for j := range ent.Genes {
		keepGene[j] = true
	}
	if f.GenesFile != "" {
		want, err := idSetFromFile(f.GenesFile)
		if err != nil {
			return err
		}
		for j, g := range ent.Genes {
			if !want[g] && !want[geneSymbol(g)] {
				keepGene[j] = false
				changed = true
			}
		}
	}
	if f.MinVariance > 0 {
		col := make([]float64, len(ent.CellLines))
		for j := range ent.Genes {
			if !keepGene[j] {
				continue
			}
			for i, cl := range ent.CellLines {
				col[i] = cl.Effects[j]
			}
			if stat.Variance(col, nil) < f.MinVariance {
				keepGene[j] = false
				changed = true
			}
		}
	}
	if changed {
		var genes []string
		var keep []int
		for j, ok := range keepGene {
			if ok {
				genes = append(genes, ent.Genes[j])
				keep = append(keep, j)
			}
		}
		for i, cl := range ent.CellLines {
			effects := make([]float64, len(keep))
			for k, j := range keep {
				effects[k] = cl.Effects[j]
			}
			ent.CellLines[i].Effects = effects
		}
		ent.Genes = genes
	}
	return nil
}
