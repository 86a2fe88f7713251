package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"
)

// ProtocolState tracks which phase the controller is in
type ProtocolState string

const (
	StateIdle         ProtocolState = "idle"
	StateTransmitting ProtocolState = "transmitting"
	StateListening    ProtocolState = "listening"
	StateAnalysing    ProtocolState = "analysing"
	StateAdapting     ProtocolState = "adapting"
)

// Poll granularity for interruptible waits: a shutdown request is honoured
// within roughly one tick
const (
	transmitPollTick = 500 * time.Millisecond
	listenPollTick   = time.Second
)

// SessionSummary is persisted exactly once at shutdown
type SessionSummary struct {
	SessionID string            `json:"session_id"`
	Cycles    int               `json:"cycles"`
	Config    map[string]string `json:"config"`
	Events    int               `json:"events"`
	Anomalies int               `json:"anomalies"` // Cycles containing at least one anomaly
}

// ProtocolController is the call-and-response state machine.
//
// One cycle:
//
//	1. TRANSMIT - emit on all enabled channels
//	2. LISTEN   - passive wait
//	3. ANALYSE  - compare spectrum against baseline
//	4. ADAPT    - record the strongest anomaly (extension point)
//
// The controller owns phase transitions and the emission lifecycle; the
// background monitor never touches phase state.
type ProtocolController struct {
	config  *Config
	events  *EventLog
	monitor *Monitor

	metrics   *PrometheusMetrics
	publisher *MQTTPublisher

	channels         []EmissionChannel
	monitorAvailable bool

	sessionID     string
	cycleCount    int
	eventCount    int
	anomalyCycles int

	stateMu sync.RWMutex
	state   ProtocolState

	shutdownCh   chan struct{}
	shutdownOnce sync.Once
	finalOnce    sync.Once
}

// NewProtocolController creates a controller for one session. The session ID
// is derived from the start time.
func NewProtocolController(config *Config, events *EventLog, monitor *Monitor) *ProtocolController {
	return &ProtocolController{
		config:     config,
		events:     events,
		monitor:    monitor,
		sessionID:  time.Now().UTC().Format("20060102_150405"),
		state:      StateIdle,
		shutdownCh: make(chan struct{}),
	}
}

// SetMetrics attaches Prometheus metrics (optional)
func (p *ProtocolController) SetMetrics(metrics *PrometheusMetrics) {
	p.metrics = metrics
}

// SetPublisher attaches an MQTT publisher (optional)
func (p *ProtocolController) SetPublisher(publisher *MQTTPublisher) {
	p.publisher = publisher
}

// SessionID returns the session identifier
func (p *ProtocolController) SessionID() string {
	return p.sessionID
}

// State returns the current phase, safe for concurrent status queries
func (p *ProtocolController) State() ProtocolState {
	p.stateMu.RLock()
	defer p.stateMu.RUnlock()
	return p.state
}

func (p *ProtocolController) setState(s ProtocolState) {
	p.stateMu.Lock()
	p.state = s
	p.stateMu.Unlock()
	if p.metrics != nil {
		p.metrics.SetPhase(s)
	}
}

// RequestShutdown asks the controller to stop cooperatively. Safe to call
// multiple times and from any goroutine; the polling loops observe it within
// one tick.
func (p *ProtocolController) RequestShutdown() {
	p.shutdownOnce.Do(func() { close(p.shutdownCh) })
}

// shutdownRequested reports whether a shutdown request is pending
func (p *ProtocolController) shutdownRequested() bool {
	select {
	case <-p.shutdownCh:
		return true
	default:
		return false
	}
}

// logEvent appends a protocol event and tallies it for the session summary
func (p *ProtocolController) logEvent(eventType string, data map[string]interface{}) {
	if _, err := p.events.Append(eventType, data); err != nil {
		log.Printf("Protocol: failed to log %s event: %v", eventType, err)
		return
	}
	p.eventCount++
}

// initialise sets up emission channels and captures the baseline. A requested
// channel whose hardware is absent is disabled with a warning, never fatal;
// starting with no baseline is a degraded-but-valid state.
func (p *ProtocolController) initialise() {
	log.Printf("============================================================")
	log.Printf("  HYDROGEN LINE BEACON %s - Protocol Controller", Version)
	log.Printf("============================================================")
	log.Printf("  Session:    %s", p.sessionID)
	log.Printf("  RF:         %v", p.config.RF.Enabled)
	if p.config.RF.Enabled {
		log.Printf("  RF carrier: %.3f MHz", p.config.RF.CarrierHz()/1e6)
	}
	log.Printf("  Mechanical: %v (programme=%s)", p.config.Mechanical.Enabled, p.config.Mechanical.Programme)
	log.Printf("  Duration:   %d min", p.config.Protocol.TotalDurationSec/60)
	log.Printf("============================================================")

	var candidates []EmissionChannel
	if p.config.RF.Enabled {
		candidates = append(candidates, NewRFChannel(&p.config.RF, p.config.Protocol.TxDurationSec))
	}
	if p.config.Mechanical.Enabled {
		candidates = append(candidates, NewMechanicalChannel(&p.config.Mechanical, p.config.Protocol.CycleDurationSec))
	}

	for _, ch := range candidates {
		if !ch.IsAvailable() {
			log.Printf("Protocol: warning: %s channel hardware not detected - channel disabled", ch.Name())
			continue
		}
		if err := ch.Prepare(); err != nil {
			log.Printf("Protocol: warning: failed to prepare %s channel, disabling: %v", ch.Name(), err)
			continue
		}
		p.channels = append(p.channels, ch)
	}

	if p.config.Monitor.Enabled && p.monitor.IsAvailable() {
		p.monitorAvailable = true
		p.monitor.CaptureBaseline(
			p.config.Monitor.BaselineSamples,
			time.Duration(p.config.Monitor.BaselineIntervalSec)*time.Second,
		)
	} else if p.config.Monitor.Enabled {
		log.Printf("Protocol: warning: RTL-SDR not detected - monitoring disabled")
	}

	log.Printf("Protocol: initialisation complete")
}

// Run executes the protocol loop until the configured total duration elapses
// or a shutdown is requested. External interrupt and terminate signals are
// translated into a cooperative shutdown request.
func (p *ProtocolController) Run() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case <-sigChan:
			log.Printf("Protocol: shutdown requested by signal")
			p.RequestShutdown()
		case <-p.shutdownCh:
		}
	}()

	// The shutdown procedure must run even if a phase panics, so the session
	// summary is never lost
	defer p.shutdown()

	p.initialise()

	if p.monitorAvailable {
		p.monitor.StartContinuous(
			time.Duration(p.config.Monitor.IntervalSec)*time.Second,
			p.config.Monitor.AnomalyThreshold,
		)
	}

	start := time.Now()
	total := time.Duration(p.config.Protocol.TotalDurationSec) * time.Second

	for !p.shutdownRequested() && time.Since(start) < total {
		p.cycleCount++
		cycleStart := time.Now()

		log.Printf("Protocol: --- cycle %d ---", p.cycleCount)

		p.transmitPhase()
		if p.shutdownRequested() {
			break
		}

		p.listenPhase()
		if p.shutdownRequested() {
			break
		}

		anomalies := p.analysePhase()

		if len(anomalies) > 0 {
			p.adaptPhase(anomalies)
			p.anomalyCycles++
		}

		cycleElapsed := time.Since(cycleStart)
		p.logEvent("cycle_complete", map[string]interface{}{
			"cycle":              p.cycleCount,
			"duration":           cycleElapsed.Seconds(),
			"anomalies_detected": len(anomalies),
		})
		if p.metrics != nil {
			p.metrics.RecordCycle(cycleElapsed)
		}
		if p.publisher != nil {
			p.publisher.PublishCycle(p.sessionID, p.cycleCount, cycleElapsed, len(anomalies))
		}

		remaining := total - time.Since(start)
		if remaining > 0 {
			log.Printf("Protocol: %.0f min remaining", remaining.Minutes())
		}
	}
}

// transmitPhase starts all enabled channels, waits the nominal transmit
// duration (interruptible), then stops them regardless of how the wait ended
func (p *ProtocolController) transmitPhase() {
	p.setState(StateTransmitting)
	txDur := time.Duration(p.config.Protocol.TxDurationSec) * time.Second
	log.Printf("Protocol: TRANSMIT (%ds)", p.config.Protocol.TxDurationSec)

	for _, ch := range p.channels {
		if err := ch.StartEmission(); err != nil {
			// A failed start degrades this pass; the channel stays configured
			log.Printf("Protocol: warning: failed to start %s emission: %v", ch.Name(), err)
		}
	}

	p.waitInterruptible(txDur, transmitPollTick)

	for _, ch := range p.channels {
		ch.StopEmission()
	}

	// The nominal duration is recorded even when a shutdown interrupted the
	// wait early
	p.logEvent("transmit", map[string]interface{}{
		"duration": p.config.Protocol.TxDurationSec,
	})
	if p.metrics != nil {
		p.metrics.AddTransmitSeconds(float64(p.config.Protocol.TxDurationSec))
	}
}

// listenPhase waits the receive duration with no emission active
func (p *ProtocolController) listenPhase() {
	p.setState(StateListening)
	log.Printf("Protocol: LISTEN (%ds)", p.config.Protocol.RxDurationSec)

	p.waitInterruptible(time.Duration(p.config.Protocol.RxDurationSec)*time.Second, listenPollTick)

	p.logEvent("listen", map[string]interface{}{
		"duration": p.config.Protocol.RxDurationSec,
	})
}

// analysePhase runs one detection pass and logs per-cycle anomaly events.
// Each anomaly is logged again tagged with the cycle number so a reader can
// filter by cycle without joining against the continuous monitor's stream.
func (p *ProtocolController) analysePhase() []Anomaly {
	p.setState(StateAnalysing)
	log.Printf("Protocol: ANALYSE")

	anomalies := p.monitor.DetectAnomalies(p.config.Monitor.AnomalyThreshold)

	if len(anomalies) > 0 {
		log.Printf("Protocol: %d anomalies detected", len(anomalies))
		for _, a := range anomalies {
			log.Printf("Protocol:   %.3f MHz: %.1f sigma (%.1f dB)", a.FrequencyHz/1e6, a.Sigma, a.PowerDB)
			data := a.eventData()
			data["cycle"] = p.cycleCount
			p.logEvent("anomaly_in_cycle", data)
			if p.metrics != nil {
				p.metrics.RecordAnomaly("cycle")
			}
		}
	} else {
		log.Printf("Protocol: no anomalies")
	}

	p.logEvent("analyse", map[string]interface{}{
		"anomaly_count": len(anomalies),
	})

	return anomalies
}

// adaptPhase records the strongest anomaly. Parameter adaptation is a future
// extension; today this phase is log-only.
func (p *ProtocolController) adaptPhase(anomalies []Anomaly) {
	p.setState(StateAdapting)
	log.Printf("Protocol: ADAPT")

	strongest, ok := StrongestAnomaly(anomalies)
	if !ok {
		return
	}
	log.Printf("Protocol: strongest anomaly %.3f MHz (%.1f sigma)", strongest.FrequencyHz/1e6, strongest.Sigma)

	p.logEvent("adapt", map[string]interface{}{
		"strongest_freq":  strongest.FrequencyHz,
		"strongest_sigma": strongest.Sigma,
	})
}

// waitInterruptible sleeps for d in tick-sized slices, returning early when a
// shutdown is requested. Returns true if the full duration elapsed.
func (p *ProtocolController) waitInterruptible(d, tick time.Duration) bool {
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		remaining := time.Until(deadline)
		if remaining < tick {
			tick = remaining
		}
		select {
		case <-p.shutdownCh:
			return false
		case <-time.After(tick):
		}
	}
	return true
}

// shutdown is the idempotent shutdown procedure: stop emission, stop the
// monitor (bounded wait), persist the session summary exactly once. Safe to
// invoke even if initialise never completed.
func (p *ProtocolController) shutdown() {
	p.finalOnce.Do(func() {
		log.Printf("Protocol: shutting down...")
		p.RequestShutdown()
		p.setState(StateIdle)

		for _, ch := range p.channels {
			ch.StopEmission()
		}

		p.monitor.StopContinuous()

		summary := SessionSummary{
			SessionID: p.sessionID,
			Cycles:    p.cycleCount,
			Config:    p.config.Stringified(),
			Events:    p.eventCount,
			Anomalies: p.anomalyCycles,
		}

		path := filepath.Join(p.config.EventLog.DataDir, fmt.Sprintf("session_%s.json", p.sessionID))
		if err := writeSessionSummary(path, summary); err != nil {
			log.Printf("Protocol: failed to write session summary: %v", err)
		} else {
			log.Printf("Protocol: session saved to %s", path)
		}

		log.Printf("Protocol: session %s: %d cycles complete", p.sessionID, p.cycleCount)
	})
}

// writeSessionSummary persists the summary as indented JSON
func writeSessionSummary(path string, summary SessionSummary) error {
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal session summary: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write session summary: %w", err)
	}
	return nil
}
