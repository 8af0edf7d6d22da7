// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package export converts recordings to and from CSV.
package export

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/relabs-tech/balance_recorder/internal/motion"
)

var (
	combinedHeader = []string{"Timestamp", "Sensor", "X", "Y", "Z"}
	kindHeader     = []string{"Timestamp", "X", "Y", "Z"}
)

// ErrFormat is returned by Decode for input that is not a combined export.
var ErrFormat = errors.New("export: not a combined balance CSV")

func num(v float64) string {
	return strconv.FormatFloat(v, 'f', 4, 64)
}

func row(ts int64, r motion.Reading) []string {
	return []string{strconv.FormatInt(ts, 10), num(r.X), num(r.Y), num(r.Z)}
}

// WriteCombined writes one row per sample per kind, grouped by sample.
func WriteCombined(w io.Writer, rec []motion.Sample) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(combinedHeader); err != nil {
		return fmt.Errorf("export: write header: %w", err)
	}
	for _, s := range rec {
		for _, k := range motion.Kinds {
			r := row(s.Timestamp, s.Reading(k))
			line := append([]string{r[0], k.Label()}, r[1:]...)
			if err := cw.Write(line); err != nil {
				return fmt.Errorf("export: write row: %w", err)
			}
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteKind writes the readings of a single kind.
func WriteKind(w io.Writer, rec []motion.Sample, kind motion.Kind) error {
	if !kind.Valid() {
		return fmt.Errorf("export: unknown sensor kind %q", kind)
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(kindHeader); err != nil {
		return fmt.Errorf("export: write header: %w", err)
	}
	for _, s := range rec {
		if err := cw.Write(row(s.Timestamp, s.Reading(kind))); err != nil {
			return fmt.Errorf("export: write row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func kindByLabel(label string) (motion.Kind, bool) {
	for _, k := range motion.Kinds {
		if strings.EqualFold(label, k.Label()) || strings.EqualFold(label, string(k)) {
			return k, true
		}
	}
	return "", false
}

// Decode reads a combined export back into a recording. Consecutive rows
// sharing a timestamp are merged into one sample.
func Decode(r io.Reader) ([]motion.Sample, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(combinedHeader)
	cr.TrimLeadingSpace = true

	head, err := cr.Read()
	if err == io.EOF {
		return nil, ErrFormat
	}
	if err != nil {
		return nil, fmt.Errorf("export: read header: %w", err)
	}
	for i, h := range combinedHeader {
		if !strings.EqualFold(strings.TrimSpace(head[i]), h) {
			return nil, fmt.Errorf("%w: column %d is %q", ErrFormat, i+1, head[i])
		}
	}

	var (
		out  []motion.Sample
		cur  motion.Sample
		have bool
		line = 1
	)
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("export: line %d: %w", line, err)
		}
		ts, err := strconv.ParseInt(rec[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("export: line %d: timestamp %q: %w", line, rec[0], err)
		}
		kind, ok := kindByLabel(rec[1])
		if !ok {
			return nil, fmt.Errorf("export: line %d: unknown sensor %q", line, rec[1])
		}
		var v [3]float64
		for i := range v {
			if v[i], err = strconv.ParseFloat(rec[2+i], 64); err != nil {
				return nil, fmt.Errorf("export: line %d: %s: %w", line, combinedHeader[2+i], err)
			}
		}
		if have && ts != cur.Timestamp {
			out = append(out, cur)
			cur = motion.Sample{}
		}
		cur = cur.With(kind, motion.Reading{X: v[0], Y: v[1], Z: v[2]}, ts)
		have = true
	}
	if have {
		out = append(out, cur)
	}
	return out, nil
}

// Filename returns the download name for an export made at t.
func Filename(t time.Time) string {
	return "balance_assessment_" + t.Format("20060102_150405") + ".csv"
}

// KindFilename returns the per-kind file name, e.g. accel_20260102_150405.csv.
func KindFilename(kind motion.Kind, t time.Time) string {
	prefix := map[motion.Kind]string{
		motion.Accelerometer: "accel",
		motion.Gyroscope:     "gyro",
		motion.Magnetometer:  "mag",
	}[kind]
	if prefix == "" {
		prefix = string(kind)
	}
	return prefix + "_" + t.Format("20060102_150405") + ".csv"
}
