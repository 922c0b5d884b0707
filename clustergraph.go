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

	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/graph/community"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/stat"
)

// graphCluster partitions cell lines by building a cell-cell
// correlation graph (each node keeps its top-k correlated neighbors)
// and maximizing modularity over it. Tie-breaking in the community
// search is randomized; -seed pins it.
type graphCluster struct {
	filter filter
}

func (cmd *graphCluster) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
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
	outputFilename := flags.String("o", "-", "output cluster `csv`")
	topK := flags.Int("k", 10, "number of correlated neighbors to keep per cell line")
	resolution := flags.Float64("resolution", 1, "modularity resolution parameter")
	seed := flags.Int64("seed", 1, "random seed for community detection")
	threads := flags.Int("threads", runtime.NumCPU(), "worker threads for the correlation matrix")
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
	n := len(ent.CellLines)
	if n < 2 {
		err = fmt.Errorf("need at least 2 cell lines, have %d", n)
		return 1
	}

	log.Printf("computing %dx%d correlation matrix", n, n)
	corr := correlationMatrix(ent, *threads)

	log.Printf("building top-%d neighbor graph", *topK)
	g := simple.NewWeightedUndirectedGraph(0, 0)
	for i := 0; i < n; i++ {
		g.AddNode(simple.Node(i))
	}
	order := make([]int, n)
	for i := 0; i < n; i++ {
		for j := range order {
			order[j] = j
		}
		row := corr[i]
		sort.Slice(order, func(a, b int) bool { return row[order[a]] > row[order[b]] })
		added := 0
		for _, j := range order {
			if j == i {
				continue
			}
			if added >= *topK {
				break
			}
			// Signed-network weight: map correlation from
			// [-1,1] to (0,1] so anticorrelated pairs do not
			// contribute attractive edges.
			w := (row[j] + 1) / 2
			if w > 0 {
				g.SetWeightedEdge(g.NewWeightedEdge(simple.Node(i), simple.Node(j), w))
			}
			added++
		}
	}

	log.Print("detecting communities")
	reduced := community.Modularize(g, *resolution, rand.NewSource(uint64(*seed)))
	communities := reduced.Communities()
	sort.Slice(communities, func(a, b int) bool { return len(communities[a]) > len(communities[b]) })
	log.Printf("found %d communities, Q=%.4f", len(communities), community.Q(g, communities, *resolution))

	labels := make([]int, n)
	for ci, comm := range communities {
		for _, node := range comm {
			labels[int(node.ID())] = ci
		}
	}
	ids := make([]string, n)
	for i, cl := range ent.CellLines {
		ids[i] = cl.ID
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
	err = writeClusterCSV(bufw, ids, labels)
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

// correlationMatrix computes pairwise Pearson correlation between cell
// line effect profiles, fanning rows out across the given number of
// worker threads.
func correlationMatrix(ent *ScreenEntry, threads int) [][]float64 {
	n := len(ent.CellLines)
	corr := make([][]float64, n)
	for i := range corr {
		corr[i] = make([]float64, n)
	}
	var workers throttle
	workers.Max = threads
	for i := 0; i < n; i++ {
		i := i
		workers.Go(func() error {
			xi := ent.CellLines[i].Effects
			corr[i][i] = 1
			for j := i + 1; j < n; j++ {
				c := stat.Correlation(xi, ent.CellLines[j].Effects, nil)
				corr[i][j] = c
				corr[j][i] = c
			}
			return nil
		})
	}
	workers.Wait()
	return corr
}
