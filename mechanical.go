package main

import (
	"fmt"
	"log"
	"os/exec"
	"sync"
)

// MechanicalChannel is the ground-coupled seismic transduction channel. It
// renders low-frequency programmes at the Schumann resonance modes to a WAV
// file and plays it through aplay (DAC, amplifier, bass shaker, ground plate).
type MechanicalChannel struct {
	config      *MechanicalConfig
	sampleRate  int
	durationSec int

	procMu  sync.Mutex
	process *exec.Cmd
}

// NewMechanicalChannel creates a mechanical channel that pre-renders
// durationSec seconds of the configured programme
func NewMechanicalChannel(config *MechanicalConfig, durationSec int) *MechanicalChannel {
	return &MechanicalChannel{
		config:      config,
		sampleRate:  AudioSampleRate,
		durationSec: durationSec,
	}
}

// Name implements EmissionChannel
func (mc *MechanicalChannel) Name() string {
	return "mechanical"
}

// IsAvailable checks whether aplay is installed
func (mc *MechanicalChannel) IsAvailable() bool {
	_, err := exec.LookPath("aplay")
	return err == nil
}

// schumannFundamental is 7.83 Hz, the Earth's fundamental resonance
func (mc *MechanicalChannel) schumannFundamental(duration float64) []float64 {
	return sineWave(SchumannFrequencies[0], duration, mc.sampleRate)
}

// schumannSecond is the 14.3 Hz second harmonic
func (mc *MechanicalChannel) schumannSecond(duration float64) []float64 {
	return sineWave(SchumannFrequencies[1], duration, mc.sampleRate)
}

// schumannCombined mixes all five modes, weighted by amplitude
func (mc *MechanicalChannel) schumannCombined(duration float64) []float64 {
	n := int(float64(mc.sampleRate) * duration)
	signal := make([]float64, n)
	weights := []float64{1.0, 0.7, 0.5, 0.3, 0.2}
	for i, freq := range SchumannFrequencies {
		tone := sineWave(freq, duration, mc.sampleRate)
		for j := range signal {
			signal[j] += weights[i] * tone[j]
		}
	}
	return normaliseSignal(signal, 1.0)
}

// infrasoundChirp sweeps through the infrasound range
func (mc *MechanicalChannel) infrasoundChirp(duration float64) []float64 {
	return chirpWave(1.0, 20.0, duration, mc.sampleRate)
}

// schumannScan steps through each mode sequentially
func (mc *MechanicalChannel) schumannScan(duration float64) []float64 {
	segmentDur := duration / float64(len(SchumannFrequencies))
	signal := make([]float64, 0, int(float64(mc.sampleRate)*duration))
	for _, freq := range SchumannFrequencies {
		signal = append(signal, sineWave(freq, segmentDur, mc.sampleRate)...)
	}
	return normaliseSignal(signal, 1.0)
}

// breathingSchumann is the fundamental with a breathing amplitude envelope
func (mc *MechanicalChannel) breathingSchumann(duration float64) []float64 {
	carrier := sineWave(SchumannFrequencies[0], duration, mc.sampleRate)
	envelope := breathingEnvelope(duration, 0.25, mc.sampleRate)
	for i := range carrier {
		carrier[i] *= envelope[i]
	}
	return carrier
}

// pulsedSchumann is the combined modes with prime-number pulse gating
func (mc *MechanicalChannel) pulsedSchumann(duration float64) []float64 {
	signal := mc.schumannCombined(duration)
	gate := primePulseGate(duration, mc.sampleRate)
	for i := range signal {
		signal[i] *= gate[i]
	}
	return signal
}

// fullProgramme is one complete 10-minute protocol cycle, repeated and
// trimmed to the requested duration:
//
//	0:00-0:30  fundamental
//	0:30-1:00  second harmonic
//	1:00-2:00  combined
//	2:00-3:00  infrasound chirp
//	3:00-5:00  breathing
//	5:00-8:00  pulsed combined
//	8:00-10:00 combined, sustained
func (mc *MechanicalChannel) fullProgramme(duration float64) []float64 {
	cycle := make([]float64, 0, mc.sampleRate*600)
	cycle = append(cycle, mc.schumannFundamental(30)...)
	cycle = append(cycle, mc.schumannSecond(30)...)
	cycle = append(cycle, mc.schumannCombined(60)...)
	cycle = append(cycle, mc.infrasoundChirp(60)...)
	cycle = append(cycle, mc.breathingSchumann(120)...)
	cycle = append(cycle, mc.pulsedSchumann(180)...)
	cycle = append(cycle, mc.schumannCombined(120)...)

	want := int(float64(mc.sampleRate) * duration)
	full := make([]float64, 0, want)
	for len(full) < want {
		full = append(full, cycle...)
	}
	return full[:want]
}

// Generate renders the named programme for duration seconds. Unknown
// programme names fall back to the fundamental.
func (mc *MechanicalChannel) Generate(programme string, duration float64) []float64 {
	var signal []float64
	switch programme {
	case "fundamental":
		signal = mc.schumannFundamental(duration)
	case "combined":
		signal = mc.schumannCombined(duration)
	case "scan":
		signal = mc.schumannScan(duration)
	case "chirp":
		signal = mc.infrasoundChirp(duration)
	case "breathing":
		signal = mc.breathingSchumann(duration)
	case "pulsed":
		signal = mc.pulsedSchumann(duration)
	case "full":
		signal = mc.fullProgramme(duration)
	default:
		log.Printf("Mechanical: unknown programme %q, using fundamental", programme)
		signal = mc.schumannFundamental(duration)
	}
	return normaliseSignal(signal, 1.0)
}

// SaveWAV renders the programme and writes it as 16-bit PCM WAV
func (mc *MechanicalChannel) SaveWAV(filename, programme string, duration float64) error {
	signal := mc.Generate(programme, duration)

	writer, err := NewWAVWriter(filename, mc.sampleRate, 1, AudioBitDepth)
	if err != nil {
		return err
	}
	if err := writer.WriteSamples(toInt16PCM(signal)); err != nil {
		writer.Close()
		return err
	}
	return writer.Close()
}

// Prepare pre-renders the emission payload to the configured WAV file
func (mc *MechanicalChannel) Prepare() error {
	if err := mc.SaveWAV(mc.config.WAVFile, mc.config.Programme, float64(mc.durationSec)); err != nil {
		return fmt.Errorf("failed to prepare mechanical payload: %w", err)
	}
	log.Printf("Mechanical: payload saved to %s (%ds, programme=%s)",
		mc.config.WAVFile, mc.durationSec, mc.config.Programme)
	return nil
}

// StartEmission starts aplay on the rendered WAV file
func (mc *MechanicalChannel) StartEmission() error {
	mc.procMu.Lock()
	defer mc.procMu.Unlock()

	if mc.process != nil {
		return fmt.Errorf("mechanical emission already running")
	}

	cmd := exec.Command("aplay", mc.config.WAVFile)
	cmd.Stdout = nil
	cmd.Stderr = nil

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start aplay: %w", err)
	}

	mc.process = cmd
	log.Printf("Mechanical: playing %s", mc.config.WAVFile)
	return nil
}

// StopEmission stops playback, escalating to SIGKILL after the kill timeout
func (mc *MechanicalChannel) StopEmission() {
	mc.procMu.Lock()
	defer mc.procMu.Unlock()

	if mc.process == nil {
		return
	}
	stopProcess(mc.process, emissionKillWait, "aplay")
	mc.process = nil
}
