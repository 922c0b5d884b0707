// Copyright (C) The Depclust Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package depclust

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	_ "net/http/pprof"

	log "github.com/sirupsen/logrus"
)

// merger combines multiple screen libraries (e.g. successive DepMap
// releases) into one, intersecting gene sets and letting later inputs
// win on duplicate cell lines.
type merger struct {
	inputs []string
}

func (cmd *merger) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var err error
	defer func() {
		if err != nil {
			fmt.Fprintf(stderr, "%s\n", err)
		}
	}()
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	pprof := flags.String("pprof", "", "serve Go profile data at http://`[addr]:port`")
	outputFilename := flags.String("o", "", "output library `file`")
	err = flags.Parse(args)
	if err == flag.ErrHelp {
		err = nil
		return 0
	} else if err != nil {
		return 2
	}
	cmd.inputs = flags.Args()
	if len(cmd.inputs) < 2 {
		err = errors.New("usage: merge -o out.gob in1.gob in2.gob [...]")
		return 2
	}
	if *outputFilename == "" {
		err = errors.New("must specify -o file.gob")
		return 2
	}

	if *pprof != "" {
		go func() {
			log.Println(http.ListenAndServe(*pprof, nil))
		}()
	}

	entries := make([]*ScreenEntry, len(cmd.inputs))
	for i, infile := range cmd.inputs {
		log.Printf("reading %s", infile)
		entries[i], err = LoadLibrary(infile)
		if err != nil {
			return 1
		}
		if entries[i].Scaled {
			err = fmt.Errorf("%s: refusing to merge scaled library; merge raw imports and re-scale", infile)
			return 1
		}
	}

	merged, err := mergeEntries(entries)
	if err != nil {
		return 1
	}
	log.Printf("merged: %d cell lines, %d shared genes", len(merged.CellLines), len(merged.Genes))

	merged.computeDigest()
	err = WriteLibrary(*outputFilename, merged)
	if err != nil {
		return 1
	}
	log.Print("done")
	return 0
}

func mergeEntries(entries []*ScreenEntry) (*ScreenEntry, error) {
	// Shared gene set, in first-library column order.
	shared := map[string]int{}
	for _, g := range entries[0].Genes {
		shared[g] = 1
	}
	for _, ent := range entries[1:] {
		for _, g := range ent.Genes {
			if shared[g] > 0 {
				shared[g]++
			}
		}
	}
	var genes []string
	for _, g := range entries[0].Genes {
		if shared[g] == len(entries) {
			genes = append(genes, g)
		}
	}
	if len(genes) == 0 {
		return nil, errors.New("input libraries share no genes")
	}

	merged := &ScreenEntry{Genes: genes}
	rowByID := map[string]int{}
	sampleByID := map[string]int{}
	for _, ent := range entries {
		colidx := make([]int, len(genes))
		pos := map[string]int{}
		for j, g := range ent.Genes {
			pos[g] = j
		}
		for k, g := range genes {
			colidx[k] = pos[g]
		}
		for _, cl := range ent.CellLines {
			effects := make([]float64, len(genes))
			for k, j := range colidx {
				effects[k] = cl.Effects[j]
			}
			if i, ok := rowByID[cl.ID]; ok {
				merged.CellLines[i].Effects = effects
			} else {
				rowByID[cl.ID] = len(merged.CellLines)
				merged.CellLines = append(merged.CellLines, CellLineEffect{ID: cl.ID, Effects: effects})
			}
		}
		for _, si := range ent.Samples {
			if i, ok := sampleByID[si.ID]; ok {
				merged.Samples[i] = si
			} else {
				sampleByID[si.ID] = len(merged.Samples)
				merged.Samples = append(merged.Samples, si)
			}
		}
		merged.DroppedGenes = append(merged.DroppedGenes, ent.DroppedGenes...)
	}
	return merged, nil
}
