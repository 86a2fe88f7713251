package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"gonum.org/v1/gonum/stat"
)

// BaselineStats holds the per-frequency statistics of the ambient spectrum
type BaselineStats struct {
	Mean float64 `json:"mean"`
	Std  float64 `json:"std"`
}

// BaselineModel is a per-frequency statistical model of ambient spectral
// power, captured before any emission. Immutable once built: the capture path
// constructs a complete model off to the side and publishes it atomically, so
// concurrent readers never observe a partial model.
type BaselineModel struct {
	stats       map[float64]BaselineStats
	capturedAt  time.Time
	sampleCount int
}

// BuildBaseline folds repeated spectrum scans into a per-frequency model.
// The frequency set is the union across scans; a frequency absent from one
// scan is skipped for that scan, not imputed. Returns nil when no scans are
// given.
func BuildBaseline(scans []map[float64]float64) *BaselineModel {
	if len(scans) == 0 {
		return nil
	}

	allFreqs := make(map[float64]struct{})
	for _, scan := range scans {
		for freq := range scan {
			allFreqs[freq] = struct{}{}
		}
	}

	bins := make(map[float64]BaselineStats, len(allFreqs))
	for freq := range allFreqs {
		powers := make([]float64, 0, len(scans))
		for _, scan := range scans {
			if power, ok := scan[freq]; ok {
				powers = append(powers, power)
			}
		}
		// Population statistics: a single observation yields std 0, which the
		// detector treats as "never anomalous" for that bin
		mean, std := stat.PopMeanStdDev(powers, nil)
		bins[freq] = BaselineStats{Mean: mean, Std: std}
	}

	return &BaselineModel{
		stats:       bins,
		capturedAt:  time.Now().UTC(),
		sampleCount: len(scans),
	}
}

// Lookup returns the statistics for a frequency bin
func (bm *BaselineModel) Lookup(freq float64) (BaselineStats, bool) {
	s, ok := bm.stats[freq]
	return s, ok
}

// Size returns the number of frequency bins in the model
func (bm *BaselineModel) Size() int {
	return len(bm.stats)
}

// CapturedAt returns the capture time of the model
func (bm *BaselineModel) CapturedAt() time.Time {
	return bm.capturedAt
}

// SampleCount returns how many scans contributed to the model
func (bm *BaselineModel) SampleCount() int {
	return bm.sampleCount
}

// baselineFile is the on-disk form: string-encoded frequency keys for
// portability across numeric precision boundaries
type baselineFile struct {
	CapturedAt  time.Time                `json:"captured_at"`
	SampleCount int                      `json:"sample_count"`
	Bins        map[string]BaselineStats `json:"bins"`
}

// Save persists the model to path, overwriting any previous baseline
func (bm *BaselineModel) Save(path string) error {
	out := baselineFile{
		CapturedAt:  bm.capturedAt,
		SampleCount: bm.sampleCount,
		Bins:        make(map[string]BaselineStats, len(bm.stats)),
	}
	for freq, s := range bm.stats {
		out.Bins[strconv.FormatFloat(freq, 'f', -1, 64)] = s
	}

	data, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("failed to marshal baseline: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write baseline file: %w", err)
	}
	return nil
}

// LoadBaseline reads a previously persisted baseline. Unparseable frequency
// keys are skipped rather than failing the load.
func LoadBaseline(path string) (*BaselineModel, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read baseline file: %w", err)
	}

	var in baselineFile
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, fmt.Errorf("failed to parse baseline file: %w", err)
	}

	bm := &BaselineModel{
		stats:       make(map[float64]BaselineStats, len(in.Bins)),
		capturedAt:  in.CapturedAt,
		sampleCount: in.SampleCount,
	}
	for key, s := range in.Bins {
		freq, err := strconv.ParseFloat(key, 64)
		if err != nil {
			continue
		}
		bm.stats[freq] = s
	}

	return bm, nil
}
