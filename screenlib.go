// Copyright (C) The Depclust Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package depclust

import (
	"bufio"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"io"
	"math"
	"os"
	"strings"
	"time"

	"github.com/klauspost/pgzip"
	"golang.org/x/crypto/blake2b"
)

// CellLineEffect is one row of the gene-effect matrix: the knockout
// fitness effect of every gene in one cell line. len(Effects) always
// equals len(ScreenEntry.Genes).
type CellLineEffect struct {
	ID      string
	Effects []float64
}

// SampleInfo is the static metadata for one cell line.
type SampleInfo struct {
	ID          string
	Name        string
	Lineage     string
	HarvestDate time.Time
}

// ScreenEntry is the unit of a gob-encoded screen library file. A
// library file is a stream of entries; most files contain exactly one.
type ScreenEntry struct {
	Genes        []string
	CellLines    []CellLineEffect
	Samples      []SampleInfo
	DroppedGenes []string
	Scaled       bool
	Digest       [blake2b.Size256]byte
}

func (ent *ScreenEntry) sampleByID() map[string]SampleInfo {
	m := make(map[string]SampleInfo, len(ent.Samples))
	for _, si := range ent.Samples {
		m[si.ID] = si
	}
	return m
}

func (ent *ScreenEntry) geneIndex(gene string) int {
	for i, g := range ent.Genes {
		if g == gene || geneSymbol(g) == gene {
			return i
		}
	}
	return -1
}

// geneSymbol strips the numeric-ID suffix from a "SYM (1234)" style
// column name.
func geneSymbol(g string) string {
	if i := strings.Index(g, " ("); i > 0 {
		return g[:i]
	}
	return g
}

// computeDigest hashes the gene list and the effect payload so
// downstream tables can be traced back to the exact matrix they were
// derived from.
func (ent *ScreenEntry) computeDigest() {
	h, _ := blake2b.New256(nil)
	for _, g := range ent.Genes {
		h.Write([]byte(g))
		h.Write([]byte{0})
	}
	var buf [8]byte
	for _, cl := range ent.CellLines {
		h.Write([]byte(cl.ID))
		h.Write([]byte{0})
		for _, v := range cl.Effects {
			binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
			h.Write(buf[:])
		}
	}
	copy(ent.Digest[:], h.Sum(nil))
}

// DecodeLibrary reads a stream of gob-encoded ScreenEntries, calling
// fn for each entry.
func DecodeLibrary(rdr io.Reader, gz bool, fn func(*ScreenEntry) error) error {
	if gz {
		zr, err := pgzip.NewReader(rdr)
		if err != nil {
			return err
		}
		defer zr.Close()
		rdr = zr
	}
	dec := gob.NewDecoder(bufio.NewReaderSize(rdr, 1<<24))
	for {
		var ent ScreenEntry
		err := dec.Decode(&ent)
		if err == io.EOF {
			return nil
		} else if err != nil {
			return fmt.Errorf("gob decode: %w", err)
		}
		if err = fn(&ent); err != nil {
			return err
		}
	}
}

// LoadLibrary reads a library file (gzip-compressed if the filename
// ends in .gz), concatenating all entries into one. Entries after the
// first must use the same gene list.
func LoadLibrary(filename string) (*ScreenEntry, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var ret *ScreenEntry
	err = DecodeLibrary(f, strings.HasSuffix(filename, ".gz"), func(ent *ScreenEntry) error {
		if ret == nil {
			e := *ent
			ret = &e
			return nil
		}
		if len(ent.Genes) != len(ret.Genes) {
			return fmt.Errorf("%s: entry has %d genes, want %d", filename, len(ent.Genes), len(ret.Genes))
		}
		ret.CellLines = append(ret.CellLines, ent.CellLines...)
		ret.Samples = append(ret.Samples, ent.Samples...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if ret == nil {
		return nil, fmt.Errorf("%s: empty library", filename)
	}
	return ret, nil
}

// WriteLibrary writes ent to filename, gzip-compressed if the
// filename ends in .gz.
func WriteLibrary(filename string, ent *ScreenEntry) error {
	f, err := os.OpenFile(filename, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0666)
	if err != nil {
		return err
	}
	defer f.Close()
	var w io.Writer = f
	bufw := bufio.NewWriter(f)
	w = bufw
	var zw *pgzip.Writer
	if strings.HasSuffix(filename, ".gz") {
		zw = pgzip.NewWriter(bufw)
		w = zw
	}
	err = gob.NewEncoder(w).Encode(ent)
	if err != nil {
		return err
	}
	if zw != nil {
		if err = zw.Close(); err != nil {
			return err
		}
	}
	if err = bufw.Flush(); err != nil {
		return err
	}
	return f.Close()
}
