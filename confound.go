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
	stdlog "log"
	"math"
	"net/http"
	_ "net/http/pprof"
	"os"
	"sort"
	"strconv"

	"github.com/kshedden/statmodel/glm"
	"github.com/kshedden/statmodel/statmodel"
	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

var glmConfig = &glm.Config{
	Family:         glm.NewFamily(glm.BinomialFamily),
	FitMethod:      "IRLS",
	ConcurrentIRLS: 1000,
	Log:            stdlog.New(io.Discard, "", 0),
}

var chisquared = distuv.ChiSquared{K: 1, Src: rand.NewSource(rand.Uint64())}

func normalize(a []float64) {
	mean, std := stat.MeanStdDev(a, nil)
	for i, x := range a {
		a[i] = (x - mean) / std
	}
}

// confoundCheck asks whether clusters are explained by confounds
// rather than biology: per cluster, a logistic regression of
// membership on harvest date (likelihood-ratio test against the
// intercept-only model), and a chi-squared test of association with
// the cluster's dominant lineage.
type confoundCheck struct{}

func (cmd *confoundCheck) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
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
	clustersFilename := flags.String("clusters", "", "cluster assignment `csv`")
	outputFilename := flags.String("o", "-", "output `csv`")
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

	samples := ent.sampleByID()
	type obs struct {
		label   int
		days    float64
		hasDate bool
		lineage string
	}
	var observations []obs
	for _, cl := range ent.CellLines {
		label, ok := clusters[cl.ID]
		if !ok {
			continue
		}
		si := samples[cl.ID]
		o := obs{label: label, lineage: si.Lineage}
		if !si.HarvestDate.IsZero() {
			o.days = float64(si.HarvestDate.Unix()) / 86400
			o.hasDate = true
		}
		observations = append(observations, o)
	}
	if len(observations) == 0 {
		err = fmt.Errorf("no cell lines shared between library and cluster table")
		return 1
	}

	labelSet := map[int]bool{}
	for _, o := range observations {
		if o.label != noiseLabel {
			labelSet[o.label] = true
		}
	}
	var labels []int
	for label := range labelSet {
		labels = append(labels, label)
	}
	sort.Ints(labels)

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
	err = cw.Write([]string{"cluster", "n", "date_pvalue", "top_lineage", "lineage_pvalue"})
	if err != nil {
		return 1
	}
	for _, label := range labels {
		var member []bool
		var dates []float64
		var dateMember []bool
		lineageCount := map[string]int{}
		n := 0
		for _, o := range observations {
			isMember := o.label == label
			member = append(member, isMember)
			if isMember {
				n++
				lineageCount[o.lineage]++
			}
			if o.hasDate {
				dates = append(dates, o.days)
				dateMember = append(dateMember, isMember)
			}
		}
		datePvalue := math.NaN()
		if len(dates) > 0 {
			normalize(dates)
			datePvalue = glmPvalue(dates, dateMember)
		}
		topLineage := ""
		for lineage, count := range lineageCount {
			if lineage != "" && (topLineage == "" || count > lineageCount[topLineage]) {
				topLineage = lineage
			}
		}
		lineagePvalue := math.NaN()
		if topLineage != "" {
			var inLineage []bool
			for _, o := range observations {
				inLineage = append(inLineage, o.lineage == topLineage)
			}
			lineagePvalue = chisqPvalue(member, inLineage)
		}
		log.Printf("cluster %d: n=%d date_p=%.4g lineage=%q lineage_p=%.4g", label, n, datePvalue, topLineage, lineagePvalue)
		err = cw.Write([]string{
			strconv.Itoa(label),
			strconv.Itoa(n),
			strconv.FormatFloat(datePvalue, 'g', 6, 64),
			topLineage,
			strconv.FormatFloat(lineagePvalue, 'g', 6, 64),
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
	return 0
}

// glmPvalue is the likelihood-ratio p-value for a logistic regression
// of the binary outcome on one covariate, against the intercept-only
// model. Degenerate fits (separation, singular design) come back as
// NaN.
func glmPvalue(covariate []float64, outcome []bool) (p float64) {
	defer func() {
		if recover() != nil {
			// typically "matrix singular or near-singular with condition number +Inf"
			p = math.NaN()
		}
	}()

	y := make([]statmodel.Dtype, len(outcome))
	constants := make([]statmodel.Dtype, len(outcome))
	x := make([]statmodel.Dtype, len(covariate))
	for i, o := range outcome {
		if o {
			y[i] = 1
		}
		constants[i] = 1
		x[i] = statmodel.Dtype(covariate[i])
	}

	null := statmodel.NewDataset([][]statmodel.Dtype{y, constants}, []string{"outcome", "constants"})
	modelNull, err := glm.NewGLM(null, "outcome", []string{"constants"}, glmConfig)
	if err != nil {
		return math.NaN()
	}
	logNull := modelNull.Fit().LogLike()

	alt := statmodel.NewDataset([][]statmodel.Dtype{y, constants, x}, []string{"outcome", "constants", "covariate"})
	modelAlt, err := glm.NewGLM(alt, "outcome", []string{"constants", "covariate"}, glmConfig)
	if err != nil {
		return math.NaN()
	}
	logAlt := modelAlt.Fit().LogLike()

	dist := distuv.ChiSquared{K: 1}
	return dist.Survival(-2 * (logNull - logAlt))
}

// chisqPvalue is the 1-dof chi-squared p-value for the 2x2
// contingency between two binary vectors.
func chisqPvalue(x, y []bool) float64 {
	var a, b, c, d float64 // [x][y] counts
	for i, xi := range x {
		switch {
		case xi && y[i]:
			a++
		case xi && !y[i]:
			b++
		case !xi && y[i]:
			c++
		default:
			d++
		}
	}
	n := a + b + c + d
	denom := (a + b) * (c + d) * (a + c) * (b + d)
	if denom == 0 {
		return 1
	}
	statistic := n * (a*d - b*c) * (a*d - b*c) / denom
	return 1 - chisquared.CDF(statistic)
}
