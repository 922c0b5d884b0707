// Copyright (C) The Depclust Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package depclust

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/james-bowman/nlp"
	"github.com/kshedden/gonpy"
	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
)

// goEmbed projects the scaled effect matrix onto its leading principal
// components: 2 for visualization, 10 for density clustering.
// Deterministic, unlike the python UMAP variant.
type goEmbed struct {
	filter filter
}

func (cmd *goEmbed) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
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
	outputFilename := flags.String("o", "-", "output embedding `csv`")
	npyFilename := flags.String("npy", "", "also write raw coordinates to `file.npy`")
	components := flags.Int("components", 2, "number of components")
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

	rows, cols := len(ent.CellLines), len(ent.Genes)
	log.Printf("creating matrix backed by array: %d rows, %d cols", rows, cols)
	data := make([]float64, rows*cols)
	ids := make([]string, rows)
	for i, cl := range ent.CellLines {
		ids[i] = cl.ID
		copy(data[i*cols:(i+1)*cols], cl.Effects)
	}
	mtx := mat.NewDense(rows, cols, data).T()

	log.Print("fitting")
	transformer := nlp.NewPCA(*components)
	transformer.Fit(mtx)
	log.Print("transforming")
	projected, err := transformer.Transform(mtx)
	if err != nil {
		return 1
	}
	projected = projected.T()

	prows, pcols := projected.Dims()
	coords := make([][]float64, prows)
	for i := 0; i < prows; i++ {
		coords[i] = make([]float64, pcols)
		for j := 0; j < pcols; j++ {
			coords[i][j] = projected.At(i, j)
		}
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
	err = writeEmbeddingCSV(bufw, ids, coords)
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

	if *npyFilename != "" {
		err = writeFloat64Npy(*npyFilename, coords)
		if err != nil {
			return 1
		}
	}
	log.Print("done")
	return 0
}

func writeFloat64Npy(filename string, rows [][]float64) error {
	f, err := os.OpenFile(filename, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0666)
	if err != nil {
		return err
	}
	defer f.Close()
	bufw := bufio.NewWriter(f)
	npw, err := gonpy.NewWriter(nopCloser{bufw})
	if err != nil {
		return err
	}
	ncol := 0
	if len(rows) > 0 {
		ncol = len(rows[0])
	}
	npw.Shape = []int{len(rows), ncol}
	flat := make([]float64, 0, len(rows)*ncol)
	for _, row := range rows {
		flat = append(flat, row...)
	}
	err = npw.WriteFloat64(flat)
	if err != nil {
		return err
	}
	if err = bufw.Flush(); err != nil {
		return err
	}
	return f.Close()
}

// pythonEmbed delegates to umap-learn for the nonlinear projection the
// PCA path cannot provide. Stochastic unless -seed is pinned.
type pythonEmbed struct{}

var umapScript = `
import csv, sys
import numpy
import umap

npy, idcsv, out = sys.argv[1], sys.argv[2], sys.argv[3]
neighbors, components = int(sys.argv[4]), int(sys.argv[5])
mindist = float(sys.argv[6])
metric = sys.argv[7]
seed = int(sys.argv[8])

X = numpy.load(npy)
ids = [row[0] for row in csv.reader(open(idcsv))]
reducer = umap.UMAP(n_neighbors=neighbors, n_components=components,
                    min_dist=mindist, metric=metric,
                    random_state=(seed if seed >= 0 else None))
Y = reducer.fit_transform(X)
w = csv.writer(open(out, "w"))
w.writerow(["DepMap_ID"] + ["comp%d" % (i+1) for i in range(Y.shape[1])])
for i, rowid in enumerate(ids):
    w.writerow([rowid] + ["%.17g" % v for v in Y[i]])
`

func (cmd *pythonEmbed) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var err error
	defer func() {
		if err != nil {
			fmt.Fprintf(stderr, "%s\n", err)
		}
	}()
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	inputFilename := flags.String("i", "-", "input library `file`")
	outputFilename := flags.String("o", "", "output embedding `csv`")
	neighbors := flags.Int("neighbors", 15, "size of local neighborhood")
	components := flags.Int("components", 2, "number of components")
	minDist := flags.Float64("min-dist", 0.1, "minimum distance between embedded points")
	metric := flags.String("metric", "euclidean", "distance metric")
	seed := flags.Int("seed", 1, "random seed (-1 = unseeded)")
	err = flags.Parse(args)
	if err == flag.ErrHelp {
		err = nil
		return 0
	} else if err != nil {
		return 2
	}
	if *outputFilename == "" {
		fmt.Fprintln(stderr, "error: must specify -o embedding.csv (or try -help)")
		return 1
	}

	log.Print("reading")
	ent, err := LoadLibrary(*inputFilename)
	if err != nil {
		return 1
	}
	tmpdir, err := os.MkdirTemp("", "depclust-embed-")
	if err != nil {
		return 1
	}
	defer os.RemoveAll(tmpdir)

	rows := make([][]float64, len(ent.CellLines))
	idcsv, err := os.Create(filepath.Join(tmpdir, "ids.csv"))
	if err != nil {
		return 1
	}
	for i, cl := range ent.CellLines {
		rows[i] = cl.Effects
		_, err = fmt.Fprintf(idcsv, "%s\n", cl.ID)
		if err != nil {
			return 1
		}
	}
	err = idcsv.Close()
	if err != nil {
		return 1
	}
	npyFilename := filepath.Join(tmpdir, "effects.npy")
	err = writeFloat64Npy(npyFilename, rows)
	if err != nil {
		return 1
	}

	log.Printf("running umap: %d cell lines, %d components", len(rows), *components)
	python := exec.Command("python3", "-c", umapScript,
		npyFilename, idcsv.Name(), *outputFilename,
		fmt.Sprintf("%d", *neighbors), fmt.Sprintf("%d", *components),
		fmt.Sprintf("%f", *minDist), *metric, fmt.Sprintf("%d", *seed))
	python.Stdout = stdout
	python.Stderr = stderr
	err = python.Run()
	if err != nil {
		return 1
	}
	log.Print("done")
	return 0
}

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }
