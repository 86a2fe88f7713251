package main

// Hydrogen line - 21 cm spin-flip transition of neutral hydrogen
const HydrogenLineHz = 1_420_405_751.768

// Water hole - quietest part of the microwave spectrum, bounded by the
// hydrogen (H) and hydroxyl (OH) lines
const (
	WaterHoleLowHz  = 1.42e9
	WaterHoleHighHz = 1.66e9
)

// SchumannFrequencies lists the first five Schumann resonance modes of the
// Earth-ionosphere cavity, in Hz
var SchumannFrequencies = []float64{7.83, 14.3, 20.8, 27.3, 33.8}

// ISMBand describes a licence-free ISM allocation
type ISMBand struct {
	Frequency  float64 `json:"frequency"`
	MaxPowerMW int     `json:"max_power_mw"`
	Region     string  `json:"region"`
}

// ISMBands maps band names to licence-free allocations (UK/EU)
var ISMBands = map[string]ISMBand{
	"433":  {Frequency: 433.92e6, MaxPowerMW: 25, Region: "EU"},
	"868":  {Frequency: 868e6, MaxPowerMW: 500, Region: "EU"},
	"2400": {Frequency: 2.4e9, MaxPowerMW: 100, Region: "Global"},
}

// Audio output parameters for the mechanical channel
const (
	AudioSampleRate = 44100
	AudioBitDepth   = 16
)

// RF baseband parameters for the HackRF channel
const (
	RFSampleRate  = 2_000_000
	RFDefaultGain = 20 // dB TX gain, conservative for ISM compliance
)

// Primes drives the prime-number pulse gate timing
var Primes = []int{2, 3, 5, 7, 11, 13, 17, 19, 23, 29, 31, 37, 41, 43, 47,
	53, 59, 61, 67, 71, 73, 79, 83, 89, 97}

// Default protocol timing, seconds
const (
	DefaultTxDuration    = 60
	DefaultRxDuration    = 120
	DefaultCycleDuration = 600
	DefaultTotalDuration = 3600
)
