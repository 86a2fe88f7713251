package main

import (
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeScanner replays a fixed sequence of scans; the last scan repeats
// indefinitely. Safe for concurrent use by the continuous loop.
type fakeScanner struct {
	mu        sync.Mutex
	scans     []map[float64]float64
	idx       int
	err       error
	available bool
}

func (f *fakeScanner) IsAvailable() bool {
	return f.available
}

func (f *fakeScanner) Scan() (map[float64]float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if len(f.scans) == 0 {
		return map[float64]float64{}, nil
	}
	scan := f.scans[f.idx]
	if f.idx < len(f.scans)-1 {
		f.idx++
	}
	return scan, nil
}

func newTestMonitor(t *testing.T, scanner *fakeScanner) (*Monitor, *EventLog) {
	t.Helper()
	dir := t.TempDir()
	events, err := NewEventLog(dir)
	require.NoError(t, err)
	t.Cleanup(func() { events.Close() })
	return NewMonitor(scanner, events, filepath.Join(dir, "baseline.json")), events
}

// twoSigmaBaseline is built from powers 8 and 12 at 1.42e9: mean 10, std 2
func twoSigmaBaseline() *BaselineModel {
	return BuildBaseline([]map[float64]float64{
		{1.42e9: 8.0},
		{1.42e9: 12.0},
	})
}

func TestDetectAgainstBaselineThreshold(t *testing.T) {
	baseline := twoSigmaBaseline()

	// 17 dB against mean 10, std 2 is 3.5 sigma
	anomalies := detectAgainstBaseline(map[float64]float64{1.42e9: 17.0}, baseline, 3.0)
	require.Len(t, anomalies, 1)
	assert.Equal(t, 1.42e9, anomalies[0].FrequencyHz)
	assert.Equal(t, 17.0, anomalies[0].PowerDB)
	assert.InDelta(t, 10.0, anomalies[0].BaselineMean, 1e-9)
	assert.InDelta(t, 2.0, anomalies[0].BaselineStd, 1e-9)
	assert.InDelta(t, 3.5, anomalies[0].Sigma, 1e-9)

	// The same reading is not an anomaly under a 4.0 sigma threshold
	anomalies = detectAgainstBaseline(map[float64]float64{1.42e9: 17.0}, baseline, 4.0)
	assert.Empty(t, anomalies)
}

func TestDetectAgainstBaselineStrictlyGreater(t *testing.T) {
	baseline := twoSigmaBaseline()

	// Exactly 3.0 sigma does not cross a 3.0 threshold
	anomalies := detectAgainstBaseline(map[float64]float64{1.42e9: 16.0}, baseline, 3.0)
	assert.Empty(t, anomalies)

	anomalies = detectAgainstBaseline(map[float64]float64{1.42e9: 16.0}, baseline, 2.999)
	assert.Len(t, anomalies, 1)
}

func TestDetectAgainstBaselineNegativeDeviation(t *testing.T) {
	baseline := twoSigmaBaseline()

	// A drop below the baseline is as anomalous as a rise
	anomalies := detectAgainstBaseline(map[float64]float64{1.42e9: 3.0}, baseline, 3.0)
	require.Len(t, anomalies, 1)
	assert.InDelta(t, -3.5, anomalies[0].Sigma, 1e-9)
}

func TestDetectAgainstBaselineZeroVariance(t *testing.T) {
	baseline := BuildBaseline([]map[float64]float64{
		{1.42e9: 10.0},
		{1.42e9: 10.0},
	})

	// Zero historical variance never triggers, however large the deviation
	anomalies := detectAgainstBaseline(map[float64]float64{1.42e9: 1000.0}, baseline, 3.0)
	assert.Empty(t, anomalies)
}

func TestDetectAgainstBaselineUnknownFrequency(t *testing.T) {
	baseline := twoSigmaBaseline()

	// Frequencies absent from the baseline are skipped (inner join)
	anomalies := detectAgainstBaseline(map[float64]float64{9.99e9: 1000.0}, baseline, 3.0)
	assert.Empty(t, anomalies)
}

func TestDetectAnomaliesNoBaseline(t *testing.T) {
	monitor, _ := newTestMonitor(t, &fakeScanner{available: true})

	anomalies := monitor.DetectAnomalies(3.0)
	assert.NotNil(t, anomalies)
	assert.Empty(t, anomalies)
}

func TestDetectAnomaliesScanFailure(t *testing.T) {
	scanner := &fakeScanner{
		available: true,
		scans:     []map[float64]float64{{1.42e9: 8.0}, {1.42e9: 12.0}},
	}
	monitor, _ := newTestMonitor(t, scanner)
	monitor.CaptureBaseline(2, 0)
	require.NotNil(t, monitor.Baseline())

	scanner.mu.Lock()
	scanner.err = errors.New("device unplugged")
	scanner.mu.Unlock()

	// A failed scan degrades to an empty pass, not an error
	anomalies := monitor.DetectAnomalies(3.0)
	assert.Empty(t, anomalies)
}

func TestCaptureBaselinePersists(t *testing.T) {
	scanner := &fakeScanner{
		available: true,
		scans:     []map[float64]float64{{1.42e9: 8.0}, {1.42e9: 12.0}},
	}
	monitor, _ := newTestMonitor(t, scanner)

	monitor.CaptureBaseline(2, 0)

	model := monitor.Baseline()
	require.NotNil(t, model)
	assert.Equal(t, 2, model.SampleCount())

	loaded, err := LoadBaseline(monitor.baselinePath)
	require.NoError(t, err)
	assert.Equal(t, model.Size(), loaded.Size())
}

func TestCaptureBaselineAllScansFail(t *testing.T) {
	scanner := &fakeScanner{available: true, err: errors.New("no device")}
	monitor, _ := newTestMonitor(t, scanner)

	monitor.CaptureBaseline(3, 0)
	assert.Nil(t, monitor.Baseline())
}

func TestCaptureBaselineKeepsExistingOnFailure(t *testing.T) {
	scanner := &fakeScanner{
		available: true,
		scans:     []map[float64]float64{{1.42e9: 8.0}, {1.42e9: 12.0}},
	}
	monitor, _ := newTestMonitor(t, scanner)
	monitor.CaptureBaseline(2, 0)
	require.NotNil(t, monitor.Baseline())

	scanner.mu.Lock()
	scanner.err = errors.New("no device")
	scanner.mu.Unlock()

	monitor.CaptureBaseline(2, 0)
	assert.NotNil(t, monitor.Baseline(), "failed recapture must not discard the existing baseline")
}

func TestStrongestAnomaly(t *testing.T) {
	_, ok := StrongestAnomaly(nil)
	assert.False(t, ok)

	a := Anomaly{FrequencyHz: 1.0, Sigma: 3.5}
	b := Anomaly{FrequencyHz: 2.0, Sigma: -5.0}
	c := Anomaly{FrequencyHz: 3.0, Sigma: 4.0}

	// Magnitude wins regardless of sign
	strongest, ok := StrongestAnomaly([]Anomaly{a, b, c})
	require.True(t, ok)
	assert.Equal(t, 2.0, strongest.FrequencyHz)

	// Ties break to the first encountered
	tie := Anomaly{FrequencyHz: 4.0, Sigma: 5.0}
	strongest, ok = StrongestAnomaly([]Anomaly{b, tie})
	require.True(t, ok)
	assert.Equal(t, 2.0, strongest.FrequencyHz)
}

func TestContinuousMonitoringLogsAnomalies(t *testing.T) {
	scanner := &fakeScanner{
		available: true,
		scans: []map[float64]float64{
			{1.42e9: 8.0},
			{1.42e9: 12.0},
			{1.42e9: 17.0}, // 3.5 sigma, repeats
		},
	}
	monitor, events := newTestMonitor(t, scanner)
	monitor.CaptureBaseline(2, 0)
	require.NotNil(t, monitor.Baseline())

	monitor.StartContinuous(10*time.Millisecond, 3.0)
	time.Sleep(60 * time.Millisecond)
	monitor.StopContinuous()

	recorded, err := events.Read(time.Now().UTC().Format("20060102"))
	require.NoError(t, err)

	var anomalyEvents int
	for _, e := range recorded {
		if e.Type == "anomaly" {
			anomalyEvents++
			assert.Equal(t, 1.42e9, e.Data["frequency_hz"])
			assert.InDelta(t, 3.5, e.Data["sigma"].(float64), 1e-9)
		}
	}
	assert.Greater(t, anomalyEvents, 0)
}

func TestStopContinuousIdempotent(t *testing.T) {
	monitor, _ := newTestMonitor(t, &fakeScanner{available: true})

	// Stop without start is a no-op
	monitor.StopContinuous()

	monitor.StartContinuous(10*time.Millisecond, 3.0)
	monitor.StopContinuous()
	monitor.StopContinuous()
}
