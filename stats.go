// Copyright (C) The Depclust Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package depclust

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	_ "net/http/pprof"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
)

type statscmd struct{}

func (cmd *statscmd) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
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
	outputFilename := flags.String("o", "-", "output `file`")
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

	ent, err := LoadLibrary(*inputFilename)
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
	err = doStats(ent, bufw)
	if err != nil {
		return 1
	}
	err = bufw.Flush()
	if err != nil {
		return 1
	}
	err = output.Close()
	if err != nil {
		return 1
	}
	return 0
}

func doStats(ent *ScreenEntry, output io.Writer) error {
	var ret struct {
		CellLines        int
		Genes            int
		DroppedGenes     int
		Scaled           bool
		Digest           string
		Annotated        int
		Lineages         map[string]int
		HarvestDateFirst string `json:",omitempty"`
		HarvestDateLast  string `json:",omitempty"`
	}
	ret.CellLines = len(ent.CellLines)
	ret.Genes = len(ent.Genes)
	ret.DroppedGenes = len(ent.DroppedGenes)
	ret.Scaled = ent.Scaled
	ret.Digest = fmt.Sprintf("%x", ent.Digest)
	ret.Lineages = map[string]int{}
	var first, last time.Time
	for _, si := range ent.Samples {
		ret.Annotated++
		if si.Lineage != "" {
			ret.Lineages[si.Lineage]++
		}
		if !si.HarvestDate.IsZero() {
			if first.IsZero() || si.HarvestDate.Before(first) {
				first = si.HarvestDate
			}
			if si.HarvestDate.After(last) {
				last = si.HarvestDate
			}
		}
	}
	if !first.IsZero() {
		ret.HarvestDateFirst = first.Format("2006-01-02")
		ret.HarvestDateLast = last.Format("2006-01-02")
	}
	return json.NewEncoder(output).Encode(ret)
}
