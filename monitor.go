package main

import (
	"log"
	"math"
	"sync"
	"time"
)

// Anomaly records a spectral reading that deviated significantly from the
// baseline. Produced per detection pass; persisted only through the event log.
type Anomaly struct {
	FrequencyHz  float64 `json:"frequency_hz"`
	PowerDB      float64 `json:"power_db"`
	BaselineMean float64 `json:"baseline_mean"`
	BaselineStd  float64 `json:"baseline_std"`
	Sigma        float64 `json:"sigma"`
	Timestamp    string  `json:"timestamp"`
}

// eventData flattens the anomaly for event log records
func (a Anomaly) eventData() map[string]interface{} {
	return map[string]interface{}{
		"frequency_hz":  a.FrequencyHz,
		"power_db":      a.PowerDB,
		"baseline_mean": a.BaselineMean,
		"baseline_std":  a.BaselineStd,
		"sigma":         a.Sigma,
		"timestamp":     a.Timestamp,
	}
}

const monitorStopTimeout = 5 * time.Second

// Monitor performs passive spectrum monitoring: baseline capture, anomaly
// detection against the baseline, and a continuous background detection loop.
//
// The baseline pointer is only ever swapped whole under baselineMu, so the
// background loop observes either a complete model or none.
type Monitor struct {
	scanner      SpectrumScanner
	events       *EventLog
	baselinePath string

	baselineMu sync.RWMutex
	baseline   *BaselineModel

	metrics   *PrometheusMetrics
	publisher *MQTTPublisher

	runMu    sync.Mutex
	running  bool
	stopChan chan struct{}
	doneChan chan struct{}
}

// NewMonitor creates a monitor using the given scanner and event log.
// baselinePath is where captured baselines are persisted.
func NewMonitor(scanner SpectrumScanner, events *EventLog, baselinePath string) *Monitor {
	return &Monitor{
		scanner:      scanner,
		events:       events,
		baselinePath: baselinePath,
	}
}

// SetMetrics attaches Prometheus metrics (optional)
func (m *Monitor) SetMetrics(metrics *PrometheusMetrics) {
	m.metrics = metrics
}

// SetPublisher attaches an MQTT publisher for anomaly alerts (optional)
func (m *Monitor) SetPublisher(publisher *MQTTPublisher) {
	m.publisher = publisher
}

// IsAvailable reports whether the spectrum acquisition device is usable
func (m *Monitor) IsAvailable() bool {
	return m.scanner.IsAvailable()
}

// Baseline returns the current baseline model, or nil when none is captured
func (m *Monitor) Baseline() *BaselineModel {
	m.baselineMu.RLock()
	defer m.baselineMu.RUnlock()
	return m.baseline
}

// CaptureBaseline takes sampleCount independent scans separated by interval
// and folds them into a new baseline model. Failing scans are dropped, not
// retried. With zero successful scans the existing baseline is left as-is and
// a warning is logged; the session continues without detection capability.
func (m *Monitor) CaptureBaseline(sampleCount int, interval time.Duration) {
	log.Printf("Monitor: capturing baseline (%d samples)...", sampleCount)

	scans := make([]map[float64]float64, 0, sampleCount)
	for i := 0; i < sampleCount; i++ {
		scan, err := m.scanner.Scan()
		if err != nil {
			log.Printf("Monitor: baseline scan %d/%d failed: %v", i+1, sampleCount, err)
			if m.metrics != nil {
				m.metrics.RecordScanFailure()
			}
		} else if len(scan) > 0 {
			scans = append(scans, scan)
		}
		if i < sampleCount-1 {
			time.Sleep(interval)
		}
	}

	model := BuildBaseline(scans)
	if model == nil {
		log.Printf("Monitor: warning: no baseline data captured (is the RTL-SDR connected?)")
		return
	}

	m.baselineMu.Lock()
	m.baseline = model
	m.baselineMu.Unlock()

	if err := model.Save(m.baselinePath); err != nil {
		log.Printf("Monitor: warning: failed to persist baseline: %v", err)
	}

	log.Printf("Monitor: baseline captured: %d frequency bins from %d scans", model.Size(), len(scans))
}

// DetectAnomalies takes one fresh scan and compares it against the baseline.
// Frequencies absent from the baseline are skipped (inner join); bins with
// zero historical variance never trigger. Returns an empty slice when no
// baseline exists or the scan fails. Ordering of the result is unspecified.
func (m *Monitor) DetectAnomalies(thresholdSigma float64) []Anomaly {
	baseline := m.Baseline()
	if baseline == nil {
		return []Anomaly{}
	}

	scan, err := m.scanner.Scan()
	if err != nil {
		log.Printf("Monitor: scan failed, skipping detection pass: %v", err)
		if m.metrics != nil {
			m.metrics.RecordScanFailure()
		}
		return []Anomaly{}
	}

	return detectAgainstBaseline(scan, baseline, thresholdSigma)
}

// detectAgainstBaseline is the pure comparison step, split out for testing
func detectAgainstBaseline(scan map[float64]float64, baseline *BaselineModel, thresholdSigma float64) []Anomaly {
	anomalies := []Anomaly{}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	for freq, power := range scan {
		bl, ok := baseline.Lookup(freq)
		if !ok || bl.Std <= 0 {
			continue
		}
		sigma := (power - bl.Mean) / bl.Std
		if math.Abs(sigma) > thresholdSigma {
			anomalies = append(anomalies, Anomaly{
				FrequencyHz:  freq,
				PowerDB:      power,
				BaselineMean: bl.Mean,
				BaselineStd:  bl.Std,
				Sigma:        sigma,
				Timestamp:    now,
			})
		}
	}

	return anomalies
}

// StrongestAnomaly returns the anomaly with the largest |sigma|, ties broken
// by first encountered. Returns false for an empty slice.
func StrongestAnomaly(anomalies []Anomaly) (Anomaly, bool) {
	if len(anomalies) == 0 {
		return Anomaly{}, false
	}
	strongest := anomalies[0]
	for _, a := range anomalies[1:] {
		if math.Abs(a.Sigma) > math.Abs(strongest.Sigma) {
			strongest = a
		}
	}
	return strongest, true
}

// StartContinuous starts the background detection loop. Every interval it
// runs one detection pass and logs each anomaly found. Transient scan
// failures degrade to an empty pass; only an explicit stop ends the loop.
func (m *Monitor) StartContinuous(interval time.Duration, thresholdSigma float64) {
	m.runMu.Lock()
	defer m.runMu.Unlock()

	if m.running {
		return
	}

	m.running = true
	m.stopChan = make(chan struct{})
	m.doneChan = make(chan struct{})

	go m.continuousLoop(interval, thresholdSigma)

	log.Printf("Monitor: continuous monitoring started (interval=%v, threshold=%.1f sigma)", interval, thresholdSigma)
}

// continuousLoop is the background polling loop
func (m *Monitor) continuousLoop(interval time.Duration, thresholdSigma float64) {
	defer close(m.doneChan)

	for {
		select {
		case <-m.stopChan:
			return
		default:
		}

		anomalies := m.DetectAnomalies(thresholdSigma)
		for _, a := range anomalies {
			if _, err := m.events.Append("anomaly", a.eventData()); err != nil {
				log.Printf("Monitor: failed to log anomaly: %v", err)
			}
			log.Printf("Monitor: ANOMALY %.3f MHz, %.1f sigma from baseline (%.1f dB)",
				a.FrequencyHz/1e6, a.Sigma, a.PowerDB)
			if m.metrics != nil {
				m.metrics.RecordAnomaly("continuous")
			}
			if m.publisher != nil {
				m.publisher.PublishAnomaly(a)
			}
		}

		select {
		case <-m.stopChan:
			return
		case <-time.After(interval):
		}
	}
}

// StopContinuous stops the background loop and blocks until it has exited,
// bounded by monitorStopTimeout. A loop that fails to exit within the bound
// must not hang shutdown; the caller proceeds regardless.
func (m *Monitor) StopContinuous() {
	m.runMu.Lock()
	defer m.runMu.Unlock()

	if !m.running {
		return
	}

	close(m.stopChan)
	select {
	case <-m.doneChan:
	case <-time.After(monitorStopTimeout):
		log.Printf("Monitor: warning: continuous loop did not stop within %v", monitorStopTimeout)
	}

	m.running = false
	log.Printf("Monitor: continuous monitoring stopped")
}
