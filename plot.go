// Copyright (C) The Depclust Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package depclust

import (
	_ "embed"
	"encoding/csv"
	"flag"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

//go:embed plot.py
var plotscript string

// pythonPlot aggregates the tables a figure needs into one tidy CSV
// and hands it to the embedded matplotlib script. Figures land in
// -figures-dir named with the current date and a descriptive suffix.
type pythonPlot struct{}

func (cmd *pythonPlot) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var err error
	defer func() {
		if err != nil {
			fmt.Fprintf(stderr, "%s\n", err)
		}
	}()
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	mode := flags.String("mode", "scatter", "figure type: scatter, auc, tissue, or density")
	embeddingFilename := flags.String("i", "", "embedding `csv` (scatter mode)")
	clustersFilename := flags.String("clusters", "", "cluster assignment `csv`")
	libraryFilename := flags.String("library", "", "screen library `file` (lineage, harvest date, gene effects)")
	color := flags.String("color", "cluster", "scatter coloring: cluster, lineage, date, or gene:`SYMBOL`")
	aucEffects := flags.String("auc-effects", "", "xval results `csv` for the dependency-feature run (auc mode)")
	aucOmics := flags.String("auc-omics", "", "xval results `csv` for the omics-feature run (auc mode)")
	gene := flags.String("gene", "", "gene `symbol` whose effect distribution to plot (density mode)")
	groupBy := flags.String("group-by", "cluster", "density grouping: cluster or lineage")
	figuresDir := flags.String("figures-dir", "figures", "output `directory`")
	suffix := flags.String("suffix", "", "output filename suffix (default: the mode)")
	outputFilename := flags.String("o", "", "output `file.png` (overrides -figures-dir naming)")
	title := flags.String("title", "", "figure title")
	err = flags.Parse(args)
	if err == flag.ErrHelp {
		err = nil
		return 0
	} else if err != nil {
		return 2
	}

	if *suffix == "" {
		*suffix = *mode
	}
	if *outputFilename == "" {
		err = os.MkdirAll(*figuresDir, 0777)
		if err != nil {
			return 1
		}
		*outputFilename = filepath.Join(*figuresDir, time.Now().Format("2006-01-02")+"_"+*suffix+".png")
	}

	tmpdir, err := os.MkdirTemp("", "depclust-plot-")
	if err != nil {
		return 1
	}
	defer os.RemoveAll(tmpdir)
	tidyFilename := filepath.Join(tmpdir, "tidy.csv")

	var pymode string
	switch *mode {
	case "scatter":
		pymode, err = cmd.prepareScatter(tidyFilename, *embeddingFilename, *clustersFilename, *libraryFilename, *color)
	case "auc":
		pymode, err = "auc", cmd.prepareAUC(tidyFilename, *aucEffects, *aucOmics)
	case "tissue":
		pymode, err = "tissue", cmd.prepareTissue(tidyFilename, *clustersFilename, *libraryFilename)
	case "density":
		pymode, err = "density", cmd.prepareDensity(tidyFilename, *clustersFilename, *libraryFilename, *gene, *groupBy)
	default:
		err = fmt.Errorf("unknown -mode %q", *mode)
	}
	if err != nil {
		return 1
	}

	log.Printf("rendering %s", *outputFilename)
	python := exec.Command("python3", "-", pymode, tidyFilename, *outputFilename, *title)
	python.Stdin = strings.NewReader(plotscript)
	python.Stdout = stdout
	python.Stderr = stderr
	err = python.Run()
	if err != nil {
		return 1
	}
	return 0
}

func loadClusterLabels(filename string) (map[string]int, error) {
	if filename == "" {
		return nil, fmt.Errorf("must specify -clusters file.csv")
	}
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return readClusterCSV(f)
}

func writeTidyCSV(filename string, header []string, rows [][]string) error {
	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer f.Close()
	cw := csv.NewWriter(f)
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, row := range rows {
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return err
	}
	return f.Close()
}

func (cmd *pythonPlot) prepareScatter(tidy, embeddingFilename, clustersFilename, libraryFilename, color string) (pymode string, err error) {
	if embeddingFilename == "" {
		return "", fmt.Errorf("scatter mode requires -i embedding.csv")
	}
	f, err := os.Open(embeddingFilename)
	if err != nil {
		return "", err
	}
	ids, coords, err := readEmbeddingCSV(f)
	f.Close()
	if err != nil {
		return "", err
	}
	if len(coords) > 0 && len(coords[0]) < 2 {
		return "", fmt.Errorf("embedding has fewer than 2 components")
	}

	annotate := func(fn func(id string) (string, bool)) [][]string {
		var rows [][]string
		for i, id := range ids {
			v, ok := fn(id)
			if !ok {
				continue // silently dropped, as with any inner join
			}
			rows = append(rows, []string{
				strconv.FormatFloat(coords[i][0], 'g', -1, 64),
				strconv.FormatFloat(coords[i][1], 'g', -1, 64),
				v,
			})
		}
		return rows
	}

	switch {
	case color == "cluster":
		clusters, err := loadClusterLabels(clustersFilename)
		if err != nil {
			return "", err
		}
		rows := annotate(func(id string) (string, bool) {
			label, ok := clusters[id]
			return strconv.Itoa(label), ok
		})
		return "scatter-cat", writeTidyCSV(tidy, []string{"x", "y", "label"}, rows)
	case color == "lineage":
		ent, err := LoadLibrary(libraryFilename)
		if err != nil {
			return "", err
		}
		samples := ent.sampleByID()
		rows := annotate(func(id string) (string, bool) {
			si, ok := samples[id]
			return si.Lineage, ok && si.Lineage != ""
		})
		return "scatter-cat", writeTidyCSV(tidy, []string{"x", "y", "label"}, rows)
	case color == "date":
		ent, err := LoadLibrary(libraryFilename)
		if err != nil {
			return "", err
		}
		samples := ent.sampleByID()
		rows := annotate(func(id string) (string, bool) {
			si, ok := samples[id]
			if !ok || si.HarvestDate.IsZero() {
				return "", false
			}
			return strconv.FormatInt(si.HarvestDate.Unix()/86400, 10), true
		})
		return "scatter-cont", writeTidyCSV(tidy, []string{"x", "y", "value"}, rows)
	case strings.HasPrefix(color, "gene:"):
		ent, err := LoadLibrary(libraryFilename)
		if err != nil {
			return "", err
		}
		symbol := strings.TrimPrefix(color, "gene:")
		j := ent.geneIndex(symbol)
		if j < 0 {
			return "", fmt.Errorf("gene %q not in library", symbol)
		}
		effect := map[string]float64{}
		for _, cl := range ent.CellLines {
			effect[cl.ID] = cl.Effects[j]
		}
		rows := annotate(func(id string) (string, bool) {
			v, ok := effect[id]
			return strconv.FormatFloat(v, 'g', -1, 64), ok
		})
		return "scatter-cont", writeTidyCSV(tidy, []string{"x", "y", "value"}, rows)
	}
	return "", fmt.Errorf("unknown -color %q", color)
}

// readAUCCSV maps cluster -> auc from an xval results file.
func readAUCCSV(filename string) (map[string]string, []string, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()
	cr := csv.NewReader(f)
	header, err := cr.Read()
	if err != nil {
		return nil, nil, err
	}
	aucCol := columnIndex(header, "auc")
	if aucCol < 0 {
		return nil, nil, fmt.Errorf("%s: no auc column", filename)
	}
	auc := map[string]string{}
	var order []string
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		} else if err != nil {
			return nil, nil, err
		}
		auc[rec[0]] = rec[aucCol]
		order = append(order, rec[0])
	}
	return auc, order, nil
}

func (cmd *pythonPlot) prepareAUC(tidy, effectsFilename, omicsFilename string) error {
	if effectsFilename == "" {
		return fmt.Errorf("auc mode requires -auc-effects results.csv")
	}
	effects, order, err := readAUCCSV(effectsFilename)
	if err != nil {
		return err
	}
	omics := map[string]string{}
	if omicsFilename != "" {
		omics, _, err = readAUCCSV(omicsFilename)
		if err != nil {
			return err
		}
	}
	var rows [][]string
	for _, cluster := range order {
		rows = append(rows, []string{cluster, effects[cluster], omics[cluster]})
	}
	return writeTidyCSV(tidy, []string{"cluster", "auc_effects", "auc_omics"}, rows)
}

func (cmd *pythonPlot) prepareTissue(tidy, clustersFilename, libraryFilename string) error {
	clusters, err := loadClusterLabels(clustersFilename)
	if err != nil {
		return err
	}
	ent, err := LoadLibrary(libraryFilename)
	if err != nil {
		return err
	}
	samples := ent.sampleByID()
	count := map[[2]string]int{}
	for id, label := range clusters {
		si, ok := samples[id]
		if !ok || si.Lineage == "" {
			continue
		}
		count[[2]string{strconv.Itoa(label), si.Lineage}]++
	}
	var rows [][]string
	for key, n := range count {
		rows = append(rows, []string{key[0], key[1], strconv.Itoa(n)})
	}
	return writeTidyCSV(tidy, []string{"cluster", "lineage", "count"}, rows)
}

func (cmd *pythonPlot) prepareDensity(tidy, clustersFilename, libraryFilename, gene, groupBy string) error {
	if gene == "" {
		return fmt.Errorf("density mode requires -gene SYMBOL")
	}
	ent, err := LoadLibrary(libraryFilename)
	if err != nil {
		return err
	}
	j := ent.geneIndex(gene)
	if j < 0 {
		return fmt.Errorf("gene %q not in library", gene)
	}
	group := func(id string) (string, bool) { return "", false }
	switch groupBy {
	case "cluster":
		clusters, err := loadClusterLabels(clustersFilename)
		if err != nil {
			return err
		}
		group = func(id string) (string, bool) {
			label, ok := clusters[id]
			return "cluster " + strconv.Itoa(label), ok
		}
	case "lineage":
		samples := ent.sampleByID()
		group = func(id string) (string, bool) {
			si, ok := samples[id]
			return si.Lineage, ok && si.Lineage != ""
		}
	default:
		return fmt.Errorf("unknown -group-by %q", groupBy)
	}
	var rows [][]string
	for _, cl := range ent.CellLines {
		g, ok := group(cl.ID)
		if !ok {
			continue
		}
		rows = append(rows, []string{g, strconv.FormatFloat(cl.Effects[j], 'g', -1, 64)})
	}
	return writeTidyCSV(tidy, []string{"group", "value"}, rows)
}
