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
	"runtime"
	"sort"
	"sync"

	"github.com/montanaflynn/stats"
	log "github.com/sirupsen/logrus"
)

// enricher computes, for every (cluster, gene) pair, the median scaled
// effect across the cluster's member cell lines and the member count.
// Purely descriptive: a ranking of cluster-defining dependencies, not
// a significance test.
type enricher struct{}

func (cmd *enricher) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
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
	outputFilename := flags.String("o", "-", "output enrichment `csv`")
	top := flags.Int("top", 0, "keep only the `N` most negative medians per cluster (0 = all)")
	includeNoise := flags.Bool("include-noise", false, "also aggregate the noise cluster")
	threads := flags.Int("threads", runtime.NumCPU(), "worker threads")
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

	members := map[int][]int{} // cluster label -> effect row indexes
	for i, cl := range ent.CellLines {
		label, ok := clusters[cl.ID]
		if !ok {
			continue
		}
		if label == noiseLabel && !*includeNoise {
			continue
		}
		members[label] = append(members[label], i)
	}
	labels := make([]int, 0, len(members))
	for label := range members {
		labels = append(labels, label)
	}
	sort.Ints(labels)

	log.Printf("aggregating %d clusters x %d genes", len(labels), len(ent.Genes))
	perCluster := make([][]enrichment, len(labels))
	var (
		workers throttle
		mtx     sync.Mutex
	)
	workers.Max = *threads
	for li, label := range labels {
		li, label := li, label
		workers.Go(func() error {
			rows := make([]enrichment, 0, len(ent.Genes))
			values := make([]float64, len(members[label]))
			for j, gene := range ent.Genes {
				for k, i := range members[label] {
					values[k] = ent.CellLines[i].Effects[j]
				}
				median, err := stats.Median(values)
				if err != nil {
					return fmt.Errorf("cluster %d, gene %s: %w", label, gene, err)
				}
				rows = append(rows, enrichment{Cluster: label, Gene: gene, Median: median, N: len(values)})
			}
			if *top > 0 {
				sort.Slice(rows, func(a, b int) bool { return rows[a].Median < rows[b].Median })
				if len(rows) > *top {
					rows = rows[:*top]
				}
			}
			mtx.Lock()
			perCluster[li] = rows
			mtx.Unlock()
			return nil
		})
	}
	err = workers.Wait()
	if err != nil {
		return 1
	}

	var all []enrichment
	for _, rows := range perCluster {
		all = append(all, rows...)
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
	err = writeEnrichmentCSV(bufw, all)
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
	log.Print("done")
	return 0
}
