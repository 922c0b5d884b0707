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
	"math"
	"math/rand"
	"net/http"
	_ "net/http/pprof"
	"os"
	"runtime"
	"sort"
	"strconv"

	log "github.com/sirupsen/logrus"
)

// crossValidator checks whether cluster membership is predictable by
// training one member-vs-rest classifier per cluster under stratified
// k-fold cross-validation. Two feature variants: the dependency
// matrix itself (a circularity check -- the clusters were derived from
// it, so AUC should be high), and independent omics measurements
// restricted to each cluster's top enriched genes (the real test of an
// independent molecular signature).
type crossValidator struct{}

type xvalResult struct {
	cluster   int
	members   int
	samples   int
	auc       float64
	logloss   float64
	rmse      float64
	bestRound int
}

func (cmd *crossValidator) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var err error
	defer func() {
		if err != nil {
			fmt.Fprintf(stderr, "%s\n", err)
		}
	}()
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	pprof := flags.String("pprof", "", "serve Go profile data at http://`[addr]:port`")
	inputFilename := flags.String("i", "-", "input library `file` (scaled)")
	clustersFilename := flags.String("clusters", "", "cluster assignment `csv`")
	outputFilename := flags.String("o", "-", "output results `csv`")
	features := flags.String("features", "effects", "feature source: `effects` or omics")
	omicsFilename := flags.String("omics-file", "", "multi-omic feature `csv` (required with -features omics)")
	enrichFilename := flags.String("enrich-file", "", "enrichment `csv` for top-gene selection (required with -features omics)")
	topGenes := flags.Int("top-genes", 25, "omics features are restricted to each cluster's `N` top enriched genes")
	folds := flags.Int("folds", 3, "stratified cross-validation folds")
	rounds := flags.Int("rounds", 20, "boosting rounds")
	shrinkage := flags.Float64("shrinkage", 0.3, "boosting learning rate")
	lambda := flags.Float64("lambda", 1, "L2 leaf regularization")
	seed := flags.Int64("seed", 1, "random seed for fold assignment")
	threads := flags.Int("threads", runtime.NumCPU(), "clusters trained in parallel")
	err = flags.Parse(args)
	if err == flag.ErrHelp {
		err = nil
		return 0
	} else if err != nil {
		return 2
	}
	if *clustersFilename == "" {
		err = fmt.Errorf("must specify -clusters file.csv")
		return 2
	}
	if *features != "effects" && *features != "omics" {
		err = fmt.Errorf("-features must be effects or omics, not %q", *features)
		return 2
	}
	if *features == "omics" && (*omicsFilename == "" || *enrichFilename == "") {
		err = fmt.Errorf("-features omics requires -omics-file and -enrich-file")
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
	cf, err := os.Open(*clustersFilename)
	if err != nil {
		return 1
	}
	clusters, err := readClusterCSV(cf)
	cf.Close()
	if err != nil {
		return 1
	}

	// Sample universe: cell lines present in both the library and
	// the cluster table (and, for omics features, the omics table).
	// Inner join: rows missing anywhere are dropped.
	type sample struct {
		id      string
		label   int
		effects []float64
		omics   []float64
	}
	var samples []sample
	var omicsFeatures []string
	var enrichRows []enrichment
	if *features == "omics" {
		of, err2 := os.Open(*omicsFilename)
		if err2 != nil {
			err = err2
			return 1
		}
		var omicsIDs []string
		var omicsRows [][]float64
		omicsFeatures, omicsIDs, omicsRows, err = readOmicsCSV(of)
		of.Close()
		if err != nil {
			return 1
		}
		omicsByID := make(map[string][]float64, len(omicsIDs))
		for i, id := range omicsIDs {
			omicsByID[id] = omicsRows[i]
		}
		ef, err2 := os.Open(*enrichFilename)
		if err2 != nil {
			err = err2
			return 1
		}
		enrichRows, err = readEnrichmentCSV(ef)
		ef.Close()
		if err != nil {
			return 1
		}
		for _, cl := range ent.CellLines {
			label, ok := clusters[cl.ID]
			if !ok || label == noiseLabel {
				continue
			}
			om, ok := omicsByID[cl.ID]
			if !ok {
				continue
			}
			samples = append(samples, sample{id: cl.ID, label: label, effects: cl.Effects, omics: om})
		}
	} else {
		for _, cl := range ent.CellLines {
			label, ok := clusters[cl.ID]
			if !ok || label == noiseLabel {
				continue
			}
			samples = append(samples, sample{id: cl.ID, label: label, effects: cl.Effects})
		}
	}
	if len(samples) == 0 {
		err = fmt.Errorf("no cell lines shared between library and cluster table")
		return 1
	}

	labelSet := map[int]bool{}
	for _, s := range samples {
		labelSet[s.label] = true
	}
	var labels []int
	for label := range labelSet {
		labels = append(labels, label)
	}
	sort.Ints(labels)

	log.Printf("cross-validating %d clusters, %d samples, features=%s", len(labels), len(samples), *features)
	results := make([]xvalResult, len(labels))
	var workers throttle
	workers.Max = *threads
	for li, label := range labels {
		li, label := li, label
		workers.Go(func() error {
			y := make([]bool, len(samples))
			members := 0
			for i, s := range samples {
				y[i] = s.label == label
				if y[i] {
					members++
				}
			}
			X := make([][]float64, len(samples))
			if *features == "effects" {
				for i, s := range samples {
					X[i] = s.effects
				}
			} else {
				genes := topEnrichedGenes(enrichRows, label, *topGenes)
				cols := matchFeatureColumns(omicsFeatures, genes)
				if len(cols) == 0 {
					log.Warnf("cluster %d: no omics features match its top enriched genes", label)
					results[li] = xvalResult{cluster: label, members: members, samples: len(samples), auc: math.NaN(), logloss: math.NaN(), rmse: math.NaN()}
					return nil
				}
				for i, s := range samples {
					row := make([]float64, len(cols))
					for k, j := range cols {
						row[k] = s.omics[j]
					}
					X[i] = row
				}
			}
			res := crossValidate(X, y, *folds, *rounds, *shrinkage, *lambda, *seed+int64(label))
			res.cluster = label
			res.members = members
			res.samples = len(samples)
			results[li] = res
			log.Printf("cluster %d: n=%d auc=%.3f best_round=%d", label, members, res.auc, res.bestRound)
			return nil
		})
	}
	err = workers.Wait()
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
	err = cw.Write([]string{"cluster", "n", "samples", "features", "auc", "logloss", "rmse", "best_round"})
	if err != nil {
		return 1
	}
	for _, res := range results {
		err = cw.Write([]string{
			strconv.Itoa(res.cluster),
			strconv.Itoa(res.members),
			strconv.Itoa(res.samples),
			*features,
			strconv.FormatFloat(res.auc, 'f', 6, 64),
			strconv.FormatFloat(res.logloss, 'f', 6, 64),
			strconv.FormatFloat(res.rmse, 'f', 6, 64),
			strconv.Itoa(res.bestRound),
		})
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
	if err = output.Close(); err != nil {
		return 1
	}
	log.Print("done")
	return 0
}

// matchFeatureColumns returns the omics column indexes whose gene
// symbol matches any of the given genes.
func matchFeatureColumns(features []string, genes []string) []int {
	want := make(map[string]bool, len(genes))
	for _, g := range genes {
		want[geneSymbol(g)] = true
	}
	var cols []int
	for j, f := range features {
		if want[geneSymbol(f)] {
			cols = append(cols, j)
		}
	}
	return cols
}

// crossValidate trains one boosted classifier per fold and reports the
// fold-averaged metrics at the boosting round with the best validation
// AUC (ties broken by lower RMSE).
func crossValidate(X [][]float64, y []bool, folds, rounds int, shrinkage, lambda float64, seed int64) xvalResult {
	rng := rand.New(rand.NewSource(seed))
	var posIdx, negIdx []int
	for i, yi := range y {
		if yi {
			posIdx = append(posIdx, i)
		} else {
			negIdx = append(negIdx, i)
		}
	}
	if len(posIdx) < folds || len(negIdx) < folds {
		// Not enough members to stratify; degenerate folds are
		// not patched over.
		return xvalResult{auc: math.NaN(), logloss: math.NaN(), rmse: math.NaN()}
	}
	rng.Shuffle(len(posIdx), func(a, b int) { posIdx[a], posIdx[b] = posIdx[b], posIdx[a] })
	rng.Shuffle(len(negIdx), func(a, b int) { negIdx[a], negIdx[b] = negIdx[b], negIdx[a] })
	fold := make([]int, len(y))
	for k, i := range posIdx {
		fold[i] = k % folds
	}
	for k, i := range negIdx {
		fold[i] = k % folds
	}

	aucSum := make([]float64, rounds+1)
	logSum := make([]float64, rounds+1)
	rmseSum := make([]float64, rounds+1)
	for f := 0; f < folds; f++ {
		var trainX [][]float64
		var trainY []bool
		var valX [][]float64
		var valY []bool
		for i := range y {
			if fold[i] == f {
				valX = append(valX, X[i])
				valY = append(valY, y[i])
			} else {
				trainX = append(trainX, X[i])
				trainY = append(trainY, y[i])
			}
		}
		model := trainBoost(trainX, trainY, rounds, shrinkage, lambda)

		raw := make([]float64, len(valX))
		probs := make([]float64, len(valX))
		for i := range raw {
			raw[i] = model.base
			probs[i] = sigmoid(raw[i])
		}
		lastAUC := aucScore(raw, valY)
		lastLog := logLoss(probs, valY)
		lastRMSE := rmse(probs, valY)
		for r := 1; r <= rounds; r++ {
			if r <= len(model.stumps) {
				st := &model.stumps[r-1]
				for i, x := range valX {
					raw[i] += model.shrinkage * st.value(x)
				}
				for i := range raw {
					probs[i] = sigmoid(raw[i])
				}
				lastAUC = aucScore(raw, valY)
				lastLog = logLoss(probs, valY)
				lastRMSE = rmse(probs, valY)
			}
			aucSum[r] += lastAUC
			logSum[r] += lastLog
			rmseSum[r] += lastRMSE
		}
	}

	best := 1
	for r := 2; r <= rounds; r++ {
		if aucSum[r] > aucSum[best] || (aucSum[r] == aucSum[best] && rmseSum[r] < rmseSum[best]) {
			best = r
		}
	}
	nf := float64(folds)
	return xvalResult{
		auc:       aucSum[best] / nf,
		logloss:   logSum[best] / nf,
		rmse:      rmseSum[best] / nf,
		bestRound: best,
	}
}
