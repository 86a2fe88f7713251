package main

import (
	"math"
)

// Waveform synthesis primitives. All generators return float64 sample buffers
// normalised to [-1, 1] unless noted otherwise.

// sineWave generates a pure sine at freq Hz for duration seconds
func sineWave(freq, duration float64, sampleRate int) []float64 {
	n := int(float64(sampleRate) * duration)
	out := make([]float64, n)
	for i := range out {
		t := float64(i) / float64(sampleRate)
		out[i] = math.Sin(2 * math.Pi * freq * t)
	}
	return out
}

// amModulate generates a carrier amplitude-modulated by modFreq
func amModulate(carrierFreq, modFreq, duration, depth float64, sampleRate int) []float64 {
	n := int(float64(sampleRate) * duration)
	out := make([]float64, n)
	for i := range out {
		t := float64(i) / float64(sampleRate)
		carrier := math.Sin(2 * math.Pi * carrierFreq * t)
		modulator := 0.5 * (1 + depth*math.Sin(2*math.Pi*modFreq*t))
		out[i] = carrier * modulator
	}
	return out
}

// schumannEnvelope combines the five Schumann modes into a low-frequency
// modulation signal, normalised to [0, 1] for use as an AM envelope.
// modeWeights maps mode number (1-5) to weight; nil selects the default
// amplitude-weighted set.
func schumannEnvelope(duration float64, modeWeights map[int]float64, sampleRate int) []float64 {
	if modeWeights == nil {
		modeWeights = map[int]float64{1: 1.0, 2: 0.7, 3: 0.5, 4: 0.3, 5: 0.2}
	}

	n := int(float64(sampleRate) * duration)
	envelope := make([]float64, n)
	for i := range envelope {
		t := float64(i) / float64(sampleRate)
		for mode, freq := range SchumannFrequencies {
			weight := modeWeights[mode+1]
			envelope[i] += weight * math.Sin(2*math.Pi*freq*t)
		}
	}

	// Rescale to [0, 1]
	min, max := envelope[0], envelope[0]
	for _, v := range envelope {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	if max > min {
		for i := range envelope {
			envelope[i] = (envelope[i] - min) / (max - min)
		}
	}
	return envelope
}

// primePulseGate builds an on/off gate: on for p_n seconds, off for p_{n+1}
// seconds, walking the prime sequence. Returns 0/1 samples.
func primePulseGate(duration float64, sampleRate int) []float64 {
	n := int(float64(sampleRate) * duration)
	gate := make([]float64, n)

	t := 0.0
	primeIdx := 0
	on := true

	for t < duration && primeIdx < len(Primes) {
		p := float64(Primes[primeIdx%len(Primes)])
		start := int(t * float64(sampleRate))
		end := int((t + p) * float64(sampleRate))
		if end > n {
			end = n
		}

		if on {
			for i := start; i < end; i++ {
				gate[i] = 1.0
			}
		}

		t += p
		on = !on
		primeIdx++
	}

	return gate
}

// chirpWave sweeps linearly from fStart to fEnd over duration seconds
func chirpWave(fStart, fEnd, duration float64, sampleRate int) []float64 {
	n := int(float64(sampleRate) * duration)
	out := make([]float64, n)
	phase := 0.0
	for i := range out {
		t := float64(i) / float64(sampleRate)
		freq := fStart + (fEnd-fStart)*(t/duration)
		phase += 2 * math.Pi * freq / float64(sampleRate)
		out[i] = math.Sin(phase)
	}
	return out
}

// breathingEnvelope produces a smooth breathing-like amplitude envelope in [0, 1]
func breathingEnvelope(duration, breathRate float64, sampleRate int) []float64 {
	n := int(float64(sampleRate) * duration)
	out := make([]float64, n)
	for i := range out {
		t := float64(i) / float64(sampleRate)
		v := 0.5 * (1 + math.Sin(2*math.Pi*breathRate*t))
		out[i] = v * v
	}
	return out
}

// pingTrain generates short exponentially-decaying pings at freq Hz every
// interval seconds
func pingTrain(freq, duration, interval, pingLength float64, sampleRate int) []float64 {
	n := int(float64(sampleRate) * duration)
	out := make([]float64, n)
	pingSamples := int(pingLength * float64(sampleRate))

	for startTime := 0.0; startTime < duration; startTime += interval {
		startIdx := int(startTime * float64(sampleRate))
		endIdx := startIdx + pingSamples
		if endIdx > n {
			endIdx = n
		}
		for i := startIdx; i < endIdx; i++ {
			t := float64(i) / float64(sampleRate)
			pingT := t - float64(startIdx)/float64(sampleRate)
			out[i] = math.Sin(2*math.Pi*freq*t) * math.Exp(-pingT*40)
		}
	}

	return out
}

// normaliseSignal scales the signal so its peak magnitude equals peak.
// A silent signal is returned unchanged.
func normaliseSignal(signal []float64, peak float64) []float64 {
	maxVal := 0.0
	for _, v := range signal {
		if a := math.Abs(v); a > maxVal {
			maxVal = a
		}
	}
	if maxVal == 0 {
		return signal
	}
	out := make([]float64, len(signal))
	scale := peak / maxVal
	for i, v := range signal {
		out[i] = v * scale
	}
	return out
}

// toInt16PCM converts a float signal to 16-bit PCM, normalising to 0.9 peak first
func toInt16PCM(signal []float64) []int16 {
	norm := normaliseSignal(signal, 0.9)
	out := make([]int16, len(norm))
	for i, v := range norm {
		out[i] = int16(v * 32767)
	}
	return out
}

// toIQInt8 converts I and Q signals to interleaved int8 IQ samples for the
// HackRF. A nil Q produces a zero quadrature channel.
func toIQInt8(iSignal, qSignal []float64) []int8 {
	iNorm := normaliseSignal(iSignal, 0.99)
	var qNorm []float64
	if qSignal != nil {
		qNorm = normaliseSignal(qSignal, 0.99)
	}

	out := make([]int8, len(iNorm)*2)
	for i, v := range iNorm {
		out[i*2] = int8(v * 127)
		if qNorm != nil {
			out[i*2+1] = int8(qNorm[i] * 127)
		}
	}
	return out
}
