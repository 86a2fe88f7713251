package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"syscall"
	"time"
)

// EmissionChannel is an actor capable of starting and stopping playback of a
// pre-rendered signal payload. Channels probe their own hardware; an
// unavailable channel is disabled, never fatal.
type EmissionChannel interface {
	Name() string
	IsAvailable() bool
	Prepare() error
	StartEmission() error
	StopEmission()
}

const (
	hackrfProbeTimeout = 5 * time.Second
	emissionKillWait   = 5 * time.Second
)

// RFChannel transmits the rendered IQ baseband through a HackRF One via
// hackrf_transfer. The baseband carries Schumann AM modulation with optional
// prime-number pulse gating; the HackRF upconverts to the carrier.
type RFChannel struct {
	config      *RFConfig
	durationSec int

	procMu  sync.Mutex
	process *exec.Cmd
}

// NewRFChannel creates an RF channel that pre-renders durationSec seconds of
// baseband
func NewRFChannel(config *RFConfig, durationSec int) *RFChannel {
	return &RFChannel{config: config, durationSec: durationSec}
}

// Name implements EmissionChannel
func (rf *RFChannel) Name() string {
	return "rf"
}

// IsAvailable checks whether HackRF tools are installed and a device responds
func (rf *RFChannel) IsAvailable() bool {
	ctx, cancel := context.WithTimeout(context.Background(), hackrfProbeTimeout)
	defer cancel()

	return exec.CommandContext(ctx, "hackrf_info").Run() == nil
}

// GenerateBaseband renders interleaved IQ int8 samples for the configured
// modulation:
//
//	schumann - AM with the full Schumann resonance series
//	single   - AM with the fundamental mode only (7.83 Hz)
//	cw       - continuous wave, no modulation
func (rf *RFChannel) GenerateBaseband(durationSec int) []int8 {
	duration := float64(durationSec)
	sr := rf.config.SampleRate

	var envelope []float64
	switch rf.config.Modulation {
	case "single":
		envelope = schumannEnvelope(duration, map[int]float64{1: 1.0}, sr)
	case "cw":
		n := int(float64(sr) * duration)
		envelope = make([]float64, n)
		for i := range envelope {
			envelope[i] = 1.0
		}
	default:
		envelope = schumannEnvelope(duration, nil, sr)
	}

	if rf.config.Pulsed {
		gate := primePulseGate(duration, sr)
		for i := range envelope {
			envelope[i] *= gate[i]
		}
	}

	// Real-valued AM: the envelope drives I, Q stays zero
	return toIQInt8(envelope, nil)
}

// SaveBaseband renders the baseband and writes it to path
func (rf *RFChannel) SaveBaseband(path string, durationSec int) error {
	iq := rf.GenerateBaseband(durationSec)

	buf := make([]byte, len(iq))
	for i, v := range iq {
		buf[i] = byte(v)
	}
	if err := os.WriteFile(path, buf, 0644); err != nil {
		return fmt.Errorf("failed to write IQ baseband: %w", err)
	}
	return nil
}

// Prepare pre-renders the emission payload to the configured IQ file
func (rf *RFChannel) Prepare() error {
	if err := rf.SaveBaseband(rf.config.IQFile, rf.durationSec); err != nil {
		return fmt.Errorf("failed to prepare RF baseband: %w", err)
	}
	log.Printf("RF: baseband saved to %s (%ds, %s%s)", rf.config.IQFile, rf.durationSec,
		rf.config.Modulation, pulsedSuffix(rf.config.Pulsed))
	return nil
}

func pulsedSuffix(pulsed bool) string {
	if pulsed {
		return ", pulsed"
	}
	return ""
}

// StartEmission starts hackrf_transfer looping the rendered IQ file
func (rf *RFChannel) StartEmission() error {
	rf.procMu.Lock()
	defer rf.procMu.Unlock()

	if rf.process != nil {
		return fmt.Errorf("rf emission already running")
	}

	cmd := exec.Command("hackrf_transfer",
		"-t", rf.config.IQFile,
		"-f", strconv.FormatInt(int64(rf.config.CarrierHz()), 10),
		"-s", strconv.Itoa(rf.config.SampleRate),
		"-x", strconv.Itoa(rf.config.Gain),
		"-R", // loop the file continuously
	)
	cmd.Stdout = nil
	cmd.Stderr = nil

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start hackrf_transfer: %w", err)
	}

	rf.process = cmd
	log.Printf("RF: transmitting at %.3f MHz", rf.config.CarrierHz()/1e6)
	return nil
}

// StopEmission stops the transmission process, escalating to SIGKILL after
// the kill timeout
func (rf *RFChannel) StopEmission() {
	rf.procMu.Lock()
	defer rf.procMu.Unlock()

	if rf.process == nil {
		return
	}
	stopProcess(rf.process, emissionKillWait, "hackrf_transfer")
	rf.process = nil
}

// IsTransmitting reports whether the transmit process is running
func (rf *RFChannel) IsTransmitting() bool {
	rf.procMu.Lock()
	defer rf.procMu.Unlock()
	return rf.process != nil
}

// stopProcess terminates a started process, waiting up to timeout before
// killing it outright
func stopProcess(cmd *exec.Cmd, timeout time.Duration, name string) {
	if cmd.Process == nil {
		return
	}

	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		log.Printf("Failed to signal %s: %v", name, err)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case <-done:
	case <-time.After(timeout):
		log.Printf("%s did not exit within %v, killing", name, timeout)
		if err := cmd.Process.Kill(); err != nil {
			log.Printf("Failed to kill %s: %v", name, err)
		}
		<-done
	}
}
