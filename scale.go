// Copyright (C) The Depclust Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package depclust

import (
	"flag"
	"fmt"
	"io"
	"net/http"
	_ "net/http/pprof"

	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/stat"
)

type scaler struct {
	filter filter
}

func (cmd *scaler) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
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
	outputFilename := flags.String("o", "-", "output library `file`")
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
	log.Printf("scaling %d genes across %d cell lines", len(ent.Genes), len(ent.CellLines))
	degenerate := scaleColumns(ent)
	if degenerate > 0 {
		log.Warnf("%d zero-variance gene columns produced non-finite values", degenerate)
	}
	ent.Scaled = true
	ent.computeDigest()
	log.Print("writing")
	err = WriteLibrary(*outputFilename, ent)
	if err != nil {
		return 1
	}
	log.Print("done")
	return 0
}

// scaleColumns centers every gene column to zero mean and unit
// variance in place, returning the number of zero-variance columns.
// Degenerate columns become NaN/Inf, which is left to surface
// downstream rather than being masked here.
func scaleColumns(ent *ScreenEntry) (degenerate int) {
	col := make([]float64, len(ent.CellLines))
	for j := range ent.Genes {
		for i, cl := range ent.CellLines {
			col[i] = cl.Effects[j]
		}
		mean, std := stat.MeanStdDev(col, nil)
		if std == 0 {
			degenerate++
		}
		for i := range ent.CellLines {
			ent.CellLines[i].Effects[j] = (ent.CellLines[i].Effects[j] - mean) / std
		}
	}
	return
}
