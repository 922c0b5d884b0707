// Copyright (C) The Depclust Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package depclust

import (
	"bufio"
	"encoding/csv"
	"flag"
	"fmt"
	"io"
	"net/http"
	_ "net/http/pprof"
	"os"

	log "github.com/sirupsen/logrus"
)

// exportNumpy writes the effect matrix as a .npy array plus row and
// column annotation CSVs, the interchange format consumed by the
// python side (embed-py, sklearn notebooks).
type exportNumpy struct {
	filter filter
}

func (cmd *exportNumpy) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var err error
	defer func() {
		if err != nil {
			fmt.Fprintf(stderr, "%s\n", err)
		}
	}()
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	pprof := flags.String("pprof", "", "serve Go profile data at http://`[addr]:port`")
	inputFilename := flags.String("i", "-", "input library `file`")
	outputFilename := flags.String("o", "matrix.npy", "output `file.npy`")
	annotationsFilename := flags.String("output-annotations", "", "write cell line annotations to `file.csv`")
	genesFilename := flags.String("output-genes", "", "write gene column order to `file.csv`")
	cmd.filter.Flags(flags)
	err = flags.Parse(args)
	if err == flag.ErrHelp {
		err = nil
		return 0
	} else if err != nil {
		return 2
	}

	if *pprof != "" {
		go func() {
			log.Println(http.ListenAndServe(*pprof, nil))
		}()
	}

	log.Print("reading")
	ent, err := LoadLibrary(*inputFilename)
	if err != nil {
		return 1
	}
	err = cmd.filter.Apply(ent)
	if err != nil {
		return 1
	}

	rows := make([][]float64, len(ent.CellLines))
	for i, cl := range ent.CellLines {
		rows[i] = cl.Effects
	}
	log.Printf("writing numpy: %d rows, %d cols", len(rows), len(ent.Genes))
	err = writeFloat64Npy(*outputFilename, rows)
	if err != nil {
		return 1
	}

	if *annotationsFilename != "" {
		samples := ent.sampleByID()
		var f *os.File
		f, err = os.Create(*annotationsFilename)
		if err != nil {
			return 1
		}
		bufw := bufio.NewWriter(f)
		cw := csv.NewWriter(bufw)
		err = cw.Write([]string{"row", "DepMap_ID", "name", "lineage"})
		if err != nil {
			return 1
		}
		for i, cl := range ent.CellLines {
			si := samples[cl.ID]
			err = cw.Write([]string{fmt.Sprintf("%d", i), cl.ID, si.Name, si.Lineage})
			if err != nil {
				return 1
			}
		}
		cw.Flush()
		if err = cw.Error(); err != nil {
			return 1
		}
		if err = bufw.Flush(); err != nil {
			return 1
		}
		if err = f.Close(); err != nil {
			return 1
		}
	}

	if *genesFilename != "" {
		var f *os.File
		f, err = os.Create(*genesFilename)
		if err != nil {
			return 1
		}
		bufw := bufio.NewWriter(f)
		for j, gene := range ent.Genes {
			_, err = fmt.Fprintf(bufw, "%d,%s\n", j, gene)
			if err != nil {
				return 1
			}
		}
		if err = bufw.Flush(); err != nil {
			return 1
		}
		if err = f.Close(); err != nil {
			return 1
		}
	}
	log.Print("done")
	return 0
}
