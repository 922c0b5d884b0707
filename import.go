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
	"os"
	"strings"

	"github.com/klauspost/pgzip"
	log "github.com/sirupsen/logrus"
)

// importer reads a raw gene-effect matrix CSV plus sample metadata and
// writes a gob screen library. Gene columns containing missing values
// are dropped here so every downstream stage can assume a dense
// matrix.
type importer struct {
	sampleInfoFilename string
	excludeFilename    string
	outputFilename     string
}

func (cmd *importer) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var err error
	defer func() {
		if err != nil {
			fmt.Fprintf(stderr, "%s\n", err)
		}
	}()
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	pprof := flags.String("pprof", "", "serve Go profile data at http://`[addr]:port`")
	flags.StringVar(&cmd.sampleInfoFilename, "samples", "", "sample metadata `csv` keyed by cell line ID")
	flags.StringVar(&cmd.excludeFilename, "exclude", "", "drop cell lines listed (one ID per line) in `file`")
	flags.StringVar(&cmd.outputFilename, "o", "-", "output `file` (.gob or .gob.gz)")
	err = flags.Parse(args)
	if err == flag.ErrHelp {
		err = nil
		return 0
	} else if err != nil {
		return 2
	}
	if flags.NArg() != 1 {
		err = errors.New("usage: import [options] gene_effect.csv")
		return 2
	}

	if *pprof != "" {
		go func() {
			log.Println(http.ListenAndServe(*pprof, nil))
		}()
	}

	infile := flags.Arg(0)
	var input io.ReadCloser
	if infile == "-" {
		input = io.NopCloser(stdin)
	} else {
		input, err = os.Open(infile)
		if err != nil {
			return 1
		}
		defer input.Close()
	}
	rdr := io.Reader(input)
	if strings.HasSuffix(infile, ".gz") {
		rdr, err = pgzip.NewReader(input)
		if err != nil {
			return 1
		}
	}

	log.Print("reading gene effects")
	genes, lines, dropped, err := readEffectCSV(rdr)
	if err != nil {
		return 1
	}
	log.Printf("reading done, %d cell lines, %d genes (%d columns dropped for missing values)", len(lines), len(genes), len(dropped))

	if cmd.excludeFilename != "" {
		var exclude map[string]bool
		exclude, err = idSetFromFile(cmd.excludeFilename)
		if err != nil {
			return 1
		}
		kept := lines[:0]
		for _, cl := range lines {
			if !exclude[cl.ID] {
				kept = append(kept, cl)
			}
		}
		log.Printf("excluded %d cell lines", len(lines)-len(kept))
		lines = kept
	}

	ent := &ScreenEntry{
		Genes:        genes,
		CellLines:    lines,
		DroppedGenes: dropped,
	}

	if cmd.sampleInfoFilename != "" {
		var f *os.File
		f, err = os.Open(cmd.sampleInfoFilename)
		if err != nil {
			return 1
		}
		var samples []SampleInfo
		samples, err = readSampleCSV(f)
		f.Close()
		if err != nil {
			return 1
		}
		// Keep only metadata rows that have a matching effect
		// row, so the join never grows the library.
		have := map[string]bool{}
		for _, cl := range lines {
			have[cl.ID] = true
		}
		matched := 0
		for _, si := range samples {
			if have[si.ID] {
				ent.Samples = append(ent.Samples, si)
				matched++
			}
		}
		log.Printf("sample metadata: %d of %d cell lines annotated", matched, len(lines))
	}

	ent.computeDigest()
	log.Printf("matrix digest %x", ent.Digest[:8])

	if cmd.outputFilename == "-" {
		err = errors.New("cannot write library to stdout: specify -o file.gob")
		return 1
	}
	log.Print("writing")
	err = WriteLibrary(cmd.outputFilename, ent)
	if err != nil {
		return 1
	}
	log.Print("done")
	return 0
}
