package main

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v3/cpu"
)

// protocolPhases lists every phase exported by the phase gauge
var protocolPhases = []ProtocolState{
	StateIdle, StateTransmitting, StateListening, StateAnalysing, StateAdapting,
}

// PrometheusMetrics holds all Prometheus collectors for the beacon
type PrometheusMetrics struct {
	registry *prometheus.Registry

	cyclesTotal       prometheus.Counter
	lastCycleDuration prometheus.Gauge
	anomaliesTotal    *prometheus.CounterVec // 'source' label: continuous | cycle
	scanFailuresTotal prometheus.Counter
	transmitSeconds   prometheus.Counter
	currentPhase      *prometheus.GaugeVec // 'phase' label, 1 for the active phase
	cpuLoadPercent    prometheus.Gauge

	stopChan chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewPrometheusMetrics creates the metric collectors on a private registry
func NewPrometheusMetrics() *PrometheusMetrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	pm := &PrometheusMetrics{
		registry: registry,
		cyclesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "hlbeacon_cycles_total",
			Help: "Completed protocol cycles",
		}),
		lastCycleDuration: factory.NewGauge(prometheus.GaugeOpts{
			Name: "hlbeacon_last_cycle_duration_seconds",
			Help: "Wall-clock duration of the most recent protocol cycle",
		}),
		anomaliesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "hlbeacon_anomalies_total",
			Help: "Detected spectral anomalies by detection source",
		}, []string{"source"}),
		scanFailuresTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "hlbeacon_scan_failures_total",
			Help: "Failed spectrum scans",
		}),
		transmitSeconds: factory.NewCounter(prometheus.CounterOpts{
			Name: "hlbeacon_transmit_seconds_total",
			Help: "Nominal seconds spent in the transmit phase",
		}),
		currentPhase: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "hlbeacon_protocol_phase",
			Help: "Current protocol phase (1 for the active phase)",
		}, []string{"phase"}),
		cpuLoadPercent: factory.NewGauge(prometheus.GaugeOpts{
			Name: "hlbeacon_cpu_load_percent",
			Help: "Host CPU utilisation percent",
		}),
		stopChan: make(chan struct{}),
	}

	pm.SetPhase(StateIdle)
	return pm
}

// Registry returns the underlying registry, used by the MQTT metric snapshots
func (pm *PrometheusMetrics) Registry() *prometheus.Registry {
	return pm.registry
}

// RecordCycle records one completed protocol cycle
func (pm *PrometheusMetrics) RecordCycle(duration time.Duration) {
	pm.cyclesTotal.Inc()
	pm.lastCycleDuration.Set(duration.Seconds())
}

// RecordAnomaly records one detected anomaly. source is "continuous" for the
// background monitor and "cycle" for the analyse phase.
func (pm *PrometheusMetrics) RecordAnomaly(source string) {
	pm.anomaliesTotal.WithLabelValues(source).Inc()
}

// RecordScanFailure records one failed spectrum scan
func (pm *PrometheusMetrics) RecordScanFailure() {
	pm.scanFailuresTotal.Inc()
}

// AddTransmitSeconds accumulates nominal transmit time
func (pm *PrometheusMetrics) AddTransmitSeconds(seconds float64) {
	pm.transmitSeconds.Add(seconds)
}

// SetPhase marks the active protocol phase
func (pm *PrometheusMetrics) SetPhase(state ProtocolState) {
	for _, phase := range protocolPhases {
		val := 0.0
		if phase == state {
			val = 1.0
		}
		pm.currentPhase.WithLabelValues(string(phase)).Set(val)
	}
}

// StartServer serves /metrics on the given address and starts the CPU
// sampler. Returns the server so the caller can close it at shutdown.
func (pm *PrometheusMetrics) StartServer(listen string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(pm.registry, promhttp.HandlerOpts{}))

	server := &http.Server{Addr: listen, Handler: mux}
	go func() {
		log.Printf("Prometheus: metrics listening on %s", listen)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("Prometheus: metrics server error: %v", err)
		}
	}()

	pm.wg.Add(1)
	go pm.cpuSampleLoop()

	return server
}

// cpuSampleLoop periodically samples host CPU utilisation
func (pm *PrometheusMetrics) cpuSampleLoop() {
	defer pm.wg.Done()

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			percents, err := cpu.Percent(0, false)
			if err != nil || len(percents) == 0 {
				continue
			}
			pm.cpuLoadPercent.Set(percents[0])
		case <-pm.stopChan:
			return
		}
	}
}

// Stop stops the CPU sampler
func (pm *PrometheusMetrics) Stop() {
	pm.stopOnce.Do(func() { close(pm.stopChan) })
	pm.wg.Wait()
}
