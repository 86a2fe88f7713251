package main

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"
)

// SpectrumScanner produces a single wideband power scan as a mapping of
// frequency (Hz) to power (dB). Implementations report availability so a
// missing device degrades monitoring instead of failing the session.
type SpectrumScanner interface {
	Scan() (map[float64]float64, error)
	IsAvailable() bool
}

const (
	rtlProbeTimeout = 5 * time.Second
	rtlScanTimeout  = 30 * time.Second
)

// RTLPowerScanner acquires power spectra through the rtl_power tool of an
// RTL-SDR dongle
type RTLPowerScanner struct {
	FreqStart float64
	FreqEnd   float64
	BinSize   int
	Gain      int
	WorkDir   string // Directory for the temporary scan CSV
}

// NewRTLPowerScanner creates a scanner from monitor configuration
func NewRTLPowerScanner(config *MonitorConfig, workDir string) *RTLPowerScanner {
	return &RTLPowerScanner{
		FreqStart: config.FreqStart,
		FreqEnd:   config.FreqEnd,
		BinSize:   config.BinSize,
		Gain:      config.RTLGain,
		WorkDir:   workDir,
	}
}

// IsAvailable checks whether RTL-SDR tools are installed and a device responds
func (s *RTLPowerScanner) IsAvailable() bool {
	ctx, cancel := context.WithTimeout(context.Background(), rtlProbeTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "rtl_test", "-t")
	// rtl_test exits non-zero on some platforms even with a device present;
	// a resolvable, runnable binary is the availability signal
	if err := cmd.Run(); err != nil {
		if _, ok := err.(*exec.ExitError); ok {
			return true
		}
		return false
	}
	return true
}

// Scan runs a single rtl_power sweep and parses it into frequency->power.
// Failures return an error; callers treat a failed scan as an empty pass.
func (s *RTLPowerScanner) Scan() (map[float64]float64, error) {
	outFile := filepath.Join(s.WorkDir, "scan_tmp.csv")

	ctx, cancel := context.WithTimeout(context.Background(), rtlScanTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "rtl_power",
		"-f", fmt.Sprintf("%d:%d:%d", int64(s.FreqStart), int64(s.FreqEnd), s.BinSize),
		"-1", // single scan
		"-g", strconv.Itoa(s.Gain),
		outFile,
	)
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("rtl_power scan failed: %w", err)
	}

	return parsePowerCSV(outFile)
}

// parsePowerCSV parses rtl_power CSV output into a frequency->power map.
// Each row is: date, time, freq_low, freq_high, freq_step, samples, power...
func parsePowerCSV(filename string) (map[float64]float64, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open scan output: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	results := make(map[float64]float64)
	for {
		record, err := reader.Read()
		if err != nil {
			break
		}
		if len(record) < 7 {
			continue
		}

		freqStart, err1 := strconv.ParseFloat(record[2], 64)
		freqStep, err2 := strconv.ParseFloat(record[4], 64)
		if err1 != nil || err2 != nil {
			continue
		}

		for i, field := range record[6:] {
			power, err := strconv.ParseFloat(field, 64)
			if err != nil {
				continue
			}
			results[freqStart+float64(i)*freqStep] = power
		}
	}

	return results, nil
}
