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
	"strconv"

	log "github.com/sirupsen/logrus"
)

// exporter writes the effect matrix back out as CSV, either wide (one
// row per cell line) or long (one row per cell line x gene), for
// downstream tools that do not read the gob library format.
type exporter struct {
	filter filter
}

func (cmd *exporter) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
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
	outputFilename := flags.String("o", "-", "output `csv`")
	long := flags.Bool("long", false, "write long format (DepMap_ID,gene,effect) instead of wide")
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

	var output io.WriteCloser
	if *outputFilename == "-" {
		output = nopCloser{stdout}
	} else {
		output, err = os.OpenFile(*outputFilename, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0666)
		if err != nil {
			return 1
		}
		defer output.Close()
	}
	bufw := bufio.NewWriter(output)
	cw := csv.NewWriter(bufw)
	log.Printf("writing %d cell lines, %d genes", len(ent.CellLines), len(ent.Genes))
	if *long {
		err = cw.Write([]string{"DepMap_ID", "gene", "effect"})
		if err != nil {
			return 1
		}
		for _, cl := range ent.CellLines {
			for j, gene := range ent.Genes {
				err = cw.Write([]string{cl.ID, gene, strconv.FormatFloat(cl.Effects[j], 'g', -1, 64)})
				if err != nil {
					return 1
				}
			}
		}
	} else {
		header := append([]string{"DepMap_ID"}, ent.Genes...)
		err = cw.Write(header)
		if err != nil {
			return 1
		}
		rec := make([]string, len(ent.Genes)+1)
		for _, cl := range ent.CellLines {
			rec[0] = cl.ID
			for j, v := range cl.Effects {
				rec[j+1] = strconv.FormatFloat(v, 'g', -1, 64)
			}
			err = cw.Write(rec)
			if err != nil {
				return 1
			}
		}
	}
	cw.Flush()
	if err = cw.Error(); err != nil {
		return 1
	}
	if err = bufw.Flush(); err != nil {
		return 1
	}
	if err = output.Close(); err != nil {
		return 1
	}
	log.Print("done")
	return 0
}
