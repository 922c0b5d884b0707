// Copyright (C) The Depclust Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package depclust

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"math"
	"net/http"
	_ "net/http/pprof"
	"os"
	"sort"

	"github.com/montanaflynn/stats"
	log "github.com/sirupsen/logrus"
)

// noiseLabel is the sentinel cluster for points in low-density
// regions.
const noiseLabel = -1

// densityCluster runs density-based clustering over a high-dimensional
// embedding (use `embed -components 10`, not the 2-D visualization
// projection). Cell lines that never reach a dense region keep the
// noise sentinel.
type densityCluster struct{}

func (cmd *densityCluster) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var err error
	defer func() {
		if err != nil {
			fmt.Fprintf(stderr, "%s\n", err)
		}
	}()
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	pprof := flags.String("pprof", "", "serve Go profile data at http://`[addr]:port`")
	inputFilename := flags.String("i", "-", "input embedding `csv`")
	outputFilename := flags.String("o", "-", "output cluster `csv`")
	minClusterSize := flags.Int("min-cluster-size", 5, "minimum cluster size; smaller groups become noise")
	eps := flags.Float64("eps", 0, "neighborhood radius (0 = derive from the k-distance distribution)")
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

	var input io.ReadCloser
	if *inputFilename == "-" {
		input = io.NopCloser(stdin)
	} else {
		input, err = os.Open(*inputFilename)
		if err != nil {
			return 1
		}
		defer input.Close()
	}
	ids, coords, err := readEmbeddingCSV(input)
	if err != nil {
		return 1
	}
	if len(ids) == 0 {
		err = fmt.Errorf("%s: empty embedding", *inputFilename)
		return 1
	}

	radius := *eps
	if radius == 0 {
		radius, err = kDistanceRadius(coords, *minClusterSize)
		if err != nil {
			return 1
		}
		log.Printf("derived eps=%.4f from the %d-distance distribution", radius, *minClusterSize)
	}

	log.Printf("clustering %d points, eps=%.4f, min-cluster-size=%d", len(ids), radius, *minClusterSize)
	labels := dbscan(coords, radius, *minClusterSize)

	nclusters := 0
	noise := 0
	for _, label := range labels {
		if label == noiseLabel {
			noise++
		} else if label >= nclusters {
			nclusters = label + 1
		}
	}
	log.Printf("%d clusters, %d noise points", nclusters, noise)

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
	return 0
}

func euclidean(a, b []float64) float64 {
	sum := 0.0
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}

// kDistanceRadius picks a neighborhood radius from the distribution of
// each point's k-th nearest neighbor distance (75th percentile), the
// usual k-distance heuristic when no eps is given.
func kDistanceRadius(coords [][]float64, k int) (float64, error) {
	n := len(coords)
	if k >= n {
		k = n - 1
	}
	if k < 1 {
		k = 1
	}
	kdist := make([]float64, n)
	dists := make([]float64, n)
	for i := range coords {
		for j := range coords {
			dists[j] = euclidean(coords[i], coords[j])
		}
		sort.Float64s(dists)
		kdist[i] = dists[k] // dists[0] is the self distance
	}
	return stats.Percentile(kdist, 75)
}

// dbscan labels each point with a cluster index (ordered by
// decreasing cluster size) or noiseLabel. Clusters smaller than
// minSize are folded back into noise.
func dbscan(coords [][]float64, eps float64, minSize int) []int {
	n := len(coords)
	const unvisited = -2
	labels := make([]int, n)
	for i := range labels {
		labels[i] = unvisited
	}
	neighbors := func(i int) []int {
		var nb []int
		for j := 0; j < n; j++ {
			if j != i && euclidean(coords[i], coords[j]) <= eps {
				nb = append(nb, j)
			}
		}
		return nb
	}
	next := 0
	for i := 0; i < n; i++ {
		if labels[i] != unvisited {
			continue
		}
		nb := neighbors(i)
		if len(nb)+1 < minSize {
			labels[i] = noiseLabel
			continue
		}
		cluster := next
		next++
		labels[i] = cluster
		queue := append([]int(nil), nb...)
		for len(queue) > 0 {
			j := queue[0]
			queue = queue[1:]
			if labels[j] == noiseLabel {
				labels[j] = cluster // border point
			}
			if labels[j] != unvisited {
				continue
			}
			labels[j] = cluster
			jnb := neighbors(j)
			if len(jnb)+1 >= minSize {
				queue = append(queue, jnb...)
			}
		}
	}

	// Fold undersized clusters into noise, then renumber the
	// survivors by decreasing size.
	size := make(map[int]int)
	for _, label := range labels {
		if label >= 0 {
			size[label]++
		}
	}
	var keep []int
	for label, sz := range size {
		if sz >= minSize {
			keep = append(keep, label)
		}
	}
	sort.Slice(keep, func(a, b int) bool {
		if size[keep[a]] != size[keep[b]] {
			return size[keep[a]] > size[keep[b]]
		}
		return keep[a] < keep[b]
	})
	renumber := make(map[int]int, len(keep))
	for rank, label := range keep {
		renumber[label] = rank
	}
	for i, label := range labels {
		if label < 0 {
			labels[i] = noiseLabel
		} else if newLabel, ok := renumber[label]; ok {
			labels[i] = newLabel
		} else {
			labels[i] = noiseLabel
		}
	}
	return labels
}
