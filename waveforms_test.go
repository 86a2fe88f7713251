package main

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSineWave(t *testing.T) {
	signal := sineWave(1.0, 1.0, 4)
	require.Len(t, signal, 4)

	// 1 Hz at 4 samples/s: 0, 1, 0, -1
	assert.InDelta(t, 0.0, signal[0], 1e-9)
	assert.InDelta(t, 1.0, signal[1], 1e-9)
	assert.InDelta(t, 0.0, signal[2], 1e-9)
	assert.InDelta(t, -1.0, signal[3], 1e-9)
}

func TestSineWaveBounded(t *testing.T) {
	signal := sineWave(7.83, 2.0, 1000)
	assert.Len(t, signal, 2000)
	for _, v := range signal {
		assert.LessOrEqual(t, math.Abs(v), 1.0)
	}
}

func TestSchumannEnvelopeRange(t *testing.T) {
	envelope := schumannEnvelope(1.0, nil, 1000)
	require.Len(t, envelope, 1000)

	min, max := envelope[0], envelope[0]
	for _, v := range envelope {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	assert.InDelta(t, 0.0, min, 1e-9)
	assert.InDelta(t, 1.0, max, 1e-9)
}

func TestPrimePulseGate(t *testing.T) {
	// Prime walk: on 2s, off 3s, on 5s, off 7s, ...
	gate := primePulseGate(12.0, 10)
	require.Len(t, gate, 120)

	assert.Equal(t, 1.0, gate[10])  // t=1s, inside first on-burst
	assert.Equal(t, 0.0, gate[30])  // t=3s, inside first gap
	assert.Equal(t, 1.0, gate[60])  // t=6s, inside second on-burst
	assert.Equal(t, 0.0, gate[110]) // t=11s, inside second gap
}

func TestChirpWave(t *testing.T) {
	signal := chirpWave(1.0, 20.0, 1.0, 1000)
	require.Len(t, signal, 1000)
	for _, v := range signal {
		assert.LessOrEqual(t, math.Abs(v), 1.0+1e-9)
	}
}

func TestBreathingEnvelopeRange(t *testing.T) {
	envelope := breathingEnvelope(4.0, 0.25, 100)
	require.Len(t, envelope, 400)
	for _, v := range envelope {
		assert.GreaterOrEqual(t, v, 0.0)
		assert.LessOrEqual(t, v, 1.0+1e-9)
	}
}

func TestNormaliseSignal(t *testing.T) {
	out := normaliseSignal([]float64{0.5, -0.25, 0.1}, 1.0)
	assert.InDelta(t, 1.0, out[0], 1e-9)
	assert.InDelta(t, -0.5, out[1], 1e-9)

	// Silence passes through untouched
	silent := normaliseSignal([]float64{0, 0, 0}, 1.0)
	assert.Equal(t, []float64{0, 0, 0}, silent)
}

func TestToInt16PCM(t *testing.T) {
	pcm := toInt16PCM([]float64{1.0, -1.0, 0.0})
	require.Len(t, pcm, 3)

	// Peak is normalised to 0.9 of full scale
	pcmScale := 0.9
	want := int16(pcmScale * 32767)
	assert.Equal(t, want, pcm[0])
	assert.Equal(t, -want, pcm[1])
	assert.Equal(t, int16(0), pcm[2])
}

func TestToIQInt8(t *testing.T) {
	iq := toIQInt8([]float64{1.0, -1.0}, nil)
	require.Len(t, iq, 4)

	peakScale := 0.99
	peak := int8(peakScale * 127)
	assert.Equal(t, peak, iq[0])
	assert.Equal(t, int8(0), iq[1], "nil Q yields a zero quadrature channel")
	assert.Equal(t, -peak, iq[2])
	assert.Equal(t, int8(0), iq[3])
}

func TestAmModulateBounded(t *testing.T) {
	signal := amModulate(100.0, 7.83, 0.5, 0.8, 1000)
	require.Len(t, signal, 500)
	for _, v := range signal {
		assert.LessOrEqual(t, math.Abs(v), 1.0+1e-9)
	}
}

func TestPingTrainSilentBetweenPings(t *testing.T) {
	// 0.1s pings every 1s at 100 samples/s
	signal := pingTrain(10.0, 2.0, 1.0, 0.1, 100)
	require.Len(t, signal, 200)

	// Well after the ping decays, before the next one starts
	assert.Equal(t, 0.0, signal[50])
	assert.Equal(t, 0.0, signal[150])
}
