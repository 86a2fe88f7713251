package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateBasebandLength(t *testing.T) {
	for _, modulation := range []string{"schumann", "single", "cw"} {
		rf := NewRFChannel(&RFConfig{SampleRate: 100, Modulation: modulation}, 2)
		iq := rf.GenerateBaseband(2)
		// Interleaved I/Q pairs
		assert.Len(t, iq, 400, modulation)
	}
}

func TestGenerateBasebandCW(t *testing.T) {
	rf := NewRFChannel(&RFConfig{SampleRate: 100, Modulation: "cw"}, 1)
	iq := rf.GenerateBaseband(1)

	// Unmodulated carrier: constant I, zero Q
	peakScale := 0.99
	peak := int8(peakScale * 127)
	for i := 0; i < len(iq); i += 2 {
		assert.Equal(t, peak, iq[i])
		assert.Equal(t, int8(0), iq[i+1])
	}
}

func TestGenerateBasebandPulsed(t *testing.T) {
	rf := NewRFChannel(&RFConfig{SampleRate: 100, Modulation: "cw", Pulsed: true}, 10)
	iq := rf.GenerateBaseband(10)

	// The prime gate opens with a 2-second burst then a 3-second gap
	assert.NotEqual(t, int8(0), iq[2*100], "t=1s should be inside the first burst")
	assert.Equal(t, int8(0), iq[2*300], "t=3s should be inside the first gap")
	assert.NotEqual(t, int8(0), iq[2*600], "t=6s should be inside the second burst")
}

func TestSaveBaseband(t *testing.T) {
	path := filepath.Join(t.TempDir(), "payload.iq")
	rf := NewRFChannel(&RFConfig{SampleRate: 100, Modulation: "cw"}, 3)

	require.NoError(t, rf.SaveBaseband(path, 3))

	info, err := os.Stat(path)
	require.NoError(t, err)
	// 3 seconds of interleaved int8 IQ at 100 samples/s
	assert.Equal(t, int64(600), info.Size())
}
