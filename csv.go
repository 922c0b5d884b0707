// Copyright (C) The Depclust Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package depclust

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Date layouts seen in DepMap sample metadata releases.
var dateLayouts = []string{"2006-01-02", "1/2/2006", "1/2/06", "2006-01-02 15:04:05"}

func parseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" || s == "NA" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func missingValue(s string) bool {
	switch strings.TrimSpace(s) {
	case "", "NA", "NaN", "nan", "null":
		return true
	}
	return false
}

// readEffectCSV parses a wide gene-effect matrix (first column = cell
// line ID, remaining columns = genes). Columns containing any missing
// value are dropped; their names are returned in dropped.
func readEffectCSV(rdr io.Reader) (genes []string, lines []CellLineEffect, dropped []string, err error) {
	cr := csv.NewReader(rdr)
	cr.ReuseRecord = false
	header, err := cr.Read()
	if err != nil {
		return nil, nil, nil, err
	}
	allGenes := header[1:]
	var raw [][]string
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		} else if err != nil {
			return nil, nil, nil, err
		}
		raw = append(raw, rec)
	}
	bad := make([]bool, len(allGenes))
	for _, rec := range raw {
		for j, v := range rec[1:] {
			if !bad[j] && missingValue(v) {
				bad[j] = true
			}
		}
	}
	keep := make([]int, 0, len(allGenes))
	for j, g := range allGenes {
		if bad[j] {
			dropped = append(dropped, g)
		} else {
			genes = append(genes, g)
			keep = append(keep, j)
		}
	}
	for _, rec := range raw {
		effects := make([]float64, len(keep))
		for i, j := range keep {
			effects[i], err = strconv.ParseFloat(strings.TrimSpace(rec[j+1]), 64)
			if err != nil {
				return nil, nil, nil, fmt.Errorf("row %q, column %q: %w", rec[0], genes[i], err)
			}
		}
		lines = append(lines, CellLineEffect{ID: rec[0], Effects: effects})
	}
	return genes, lines, dropped, nil
}

// columnIndex finds the first header column matching any candidate
// name, case-insensitively. Returns -1 when absent.
func columnIndex(header []string, candidates ...string) int {
	for _, want := range candidates {
		for i, name := range header {
			if strings.EqualFold(strings.TrimSpace(name), want) {
				return i
			}
		}
	}
	return -1
}

// readSampleCSV parses a sample metadata table keyed by cell line ID.
func readSampleCSV(rdr io.Reader) ([]SampleInfo, error) {
	cr := csv.NewReader(rdr)
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if err != nil {
		return nil, err
	}
	idCol := columnIndex(header, "DepMap_ID", "depmap_id", "ModelID", "id")
	if idCol < 0 {
		return nil, fmt.Errorf("sample metadata: no ID column in header %q", header)
	}
	nameCol := columnIndex(header, "stripped_cell_line_name", "cell_line_name", "CCLE_Name", "name")
	lineageCol := columnIndex(header, "lineage", "primary_disease", "sample_collection_site", "tissue")
	dateCol := columnIndex(header, "harvest_date", "date_sequenced", "date")
	var ret []SampleInfo
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		} else if err != nil {
			return nil, err
		}
		si := SampleInfo{ID: rec[idCol]}
		if nameCol >= 0 && nameCol < len(rec) {
			si.Name = rec[nameCol]
		}
		if lineageCol >= 0 && lineageCol < len(rec) {
			si.Lineage = rec[lineageCol]
		}
		if dateCol >= 0 && dateCol < len(rec) {
			si.HarvestDate, _ = parseDate(rec[dateCol])
		}
		ret = append(ret, si)
	}
	return ret, nil
}

func writeEmbeddingCSV(w io.Writer, ids []string, coords [][]float64) error {
	cw := csv.NewWriter(w)
	ncomp := 0
	if len(coords) > 0 {
		ncomp = len(coords[0])
	}
	header := []string{"DepMap_ID"}
	for i := 0; i < ncomp; i++ {
		header = append(header, fmt.Sprintf("comp%d", i+1))
	}
	if err := cw.Write(header); err != nil {
		return err
	}
	for i, id := range ids {
		rec := make([]string, 0, ncomp+1)
		rec = append(rec, id)
		for _, v := range coords[i] {
			rec = append(rec, strconv.FormatFloat(v, 'g', -1, 64))
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func readEmbeddingCSV(rdr io.Reader) (ids []string, coords [][]float64, err error) {
	cr := csv.NewReader(rdr)
	header, err := cr.Read()
	if err != nil {
		return nil, nil, err
	}
	ncomp := len(header) - 1
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		} else if err != nil {
			return nil, nil, err
		}
		row := make([]float64, ncomp)
		for j := 0; j < ncomp; j++ {
			row[j], err = strconv.ParseFloat(rec[j+1], 64)
			if err != nil {
				return nil, nil, fmt.Errorf("row %q: %w", rec[0], err)
			}
		}
		ids = append(ids, rec[0])
		coords = append(coords, row)
	}
	return ids, coords, nil
}

func writeClusterCSV(w io.Writer, ids []string, labels []int) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"DepMap_ID", "cluster"}); err != nil {
		return err
	}
	for i, id := range ids {
		if err := cw.Write([]string{id, strconv.Itoa(labels[i])}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func readClusterCSV(rdr io.Reader) (map[string]int, error) {
	cr := csv.NewReader(rdr)
	if _, err := cr.Read(); err != nil {
		return nil, err
	}
	ret := map[string]int{}
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		} else if err != nil {
			return nil, err
		}
		label, err := strconv.Atoi(rec[1])
		if err != nil {
			return nil, fmt.Errorf("row %q: %w", rec[0], err)
		}
		ret[rec[0]] = label
	}
	return ret, nil
}

type enrichment struct {
	Cluster int
	Gene    string
	Median  float64
	N       int
}

func writeEnrichmentCSV(w io.Writer, rows []enrichment) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"cluster", "gene", "median", "n"}); err != nil {
		return err
	}
	for _, e := range rows {
		err := cw.Write([]string{
			strconv.Itoa(e.Cluster),
			e.Gene,
			strconv.FormatFloat(e.Median, 'g', -1, 64),
			strconv.Itoa(e.N),
		})
		if err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func readEnrichmentCSV(rdr io.Reader) ([]enrichment, error) {
	cr := csv.NewReader(rdr)
	if _, err := cr.Read(); err != nil {
		return nil, err
	}
	var ret []enrichment
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		} else if err != nil {
			return nil, err
		}
		var e enrichment
		e.Cluster, err = strconv.Atoi(rec[0])
		if err != nil {
			return nil, err
		}
		e.Gene = rec[1]
		e.Median, err = strconv.ParseFloat(rec[2], 64)
		if err != nil {
			return nil, err
		}
		e.N, err = strconv.Atoi(rec[3])
		if err != nil {
			return nil, err
		}
		ret = append(ret, e)
	}
	return ret, nil
}

// topEnrichedGenes returns the n genes with the most negative median
// effect in the given cluster (the cluster-defining dependencies).
func topEnrichedGenes(rows []enrichment, cluster, n int) []string {
	var sub []enrichment
	for _, e := range rows {
		if e.Cluster == cluster {
			sub = append(sub, e)
		}
	}
	sort.Slice(sub, func(i, j int) bool { return sub[i].Median < sub[j].Median })
	if n > 0 && len(sub) > n {
		sub = sub[:n]
	}
	genes := make([]string, len(sub))
	for i, e := range sub {
		genes[i] = e.Gene
	}
	return genes
}

// readOmicsCSV parses a wide multi-omic feature table (first column =
// cell line ID). Missing values become NaN rather than dropping the
// column: omics tables are sparse by nature and the classifier's
// stump splits route NaN with the below-threshold branch.
func readOmicsCSV(rdr io.Reader) (features []string, ids []string, rows [][]float64, err error) {
	cr := csv.NewReader(rdr)
	header, err := cr.Read()
	if err != nil {
		return nil, nil, nil, err
	}
	features = header[1:]
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		} else if err != nil {
			return nil, nil, nil, err
		}
		row := make([]float64, len(features))
		for j, v := range rec[1:] {
			if missingValue(v) {
				row[j] = math.NaN()
				continue
			}
			row[j], err = strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				return nil, nil, nil, fmt.Errorf("row %q, column %q: %w", rec[0], features[j], err)
			}
		}
		ids = append(ids, rec[0])
		rows = append(rows, row)
	}
	return features, ids, rows, nil
}
