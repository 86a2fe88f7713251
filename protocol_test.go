package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeChannel records emission lifecycle calls without touching hardware
type fakeChannel struct {
	mu       sync.Mutex
	starts   int
	stops    int
	emitting bool
}

func (f *fakeChannel) Name() string      { return "fake" }
func (f *fakeChannel) IsAvailable() bool { return true }
func (f *fakeChannel) Prepare() error    { return nil }

func (f *fakeChannel) StartEmission() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	f.emitting = true
	return nil
}

func (f *fakeChannel) StopEmission() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.emitting {
		f.stops++
		f.emitting = false
	}
}

func (f *fakeChannel) isEmitting() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.emitting
}

// newTestController builds a controller with both hardware channels disabled
// and a fake emission channel injected. scanner may be nil for no monitoring.
func newTestController(t *testing.T, scanner *fakeScanner, mutate func(*Config)) (*ProtocolController, *fakeChannel, *Config) {
	t.Helper()

	config := DefaultConfig()
	config.RF.Enabled = false
	config.Mechanical.Enabled = false
	config.Monitor.Enabled = scanner != nil
	config.Monitor.BaselineIntervalSec = 0
	config.Monitor.IntervalSec = 1
	config.EventLog.DataDir = t.TempDir()
	if mutate != nil {
		mutate(config)
	}
	require.NoError(t, config.Validate())

	events, err := NewEventLog(config.EventLog.DataDir)
	require.NoError(t, err)
	t.Cleanup(func() { events.Close() })

	if scanner == nil {
		scanner = &fakeScanner{available: false}
	}
	monitor := NewMonitor(scanner, events, filepath.Join(config.EventLog.DataDir, "baseline.json"))

	controller := NewProtocolController(config, events, monitor)
	channel := &fakeChannel{}
	controller.channels = append(controller.channels, channel)
	return controller, channel, config
}

func readSummary(t *testing.T, config *Config, sessionID string) SessionSummary {
	t.Helper()
	path := filepath.Join(config.EventLog.DataDir, fmt.Sprintf("session_%s.json", sessionID))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var summary SessionSummary
	require.NoError(t, json.Unmarshal(data, &summary))
	return summary
}

func eventTypes(t *testing.T, controller *ProtocolController) map[string]int {
	t.Helper()
	events, err := controller.events.Read(time.Now().UTC().Format("20060102"))
	require.NoError(t, err)
	counts := make(map[string]int)
	for _, e := range events {
		counts[e.Type]++
	}
	return counts
}

func TestProtocolSingleCycle(t *testing.T) {
	controller, channel, config := newTestController(t, nil, func(c *Config) {
		c.Protocol.TxDurationSec = 1
		c.Protocol.RxDurationSec = 1
		c.Protocol.TotalDurationSec = 2
	})

	controller.Run()

	assert.Equal(t, 1, controller.cycleCount)
	assert.Equal(t, StateIdle, controller.State())
	assert.Equal(t, 1, channel.starts)
	assert.False(t, channel.isEmitting())

	counts := eventTypes(t, controller)
	assert.Equal(t, 1, counts["transmit"])
	assert.Equal(t, 1, counts["listen"])
	assert.Equal(t, 1, counts["analyse"])
	assert.Equal(t, 1, counts["cycle_complete"])

	summary := readSummary(t, config, controller.SessionID())
	assert.Equal(t, controller.SessionID(), summary.SessionID)
	assert.Equal(t, 1, summary.Cycles)
	assert.Equal(t, 0, summary.Anomalies)
	assert.Equal(t, controller.eventCount, summary.Events)
	assert.Equal(t, "false", summary.Config["rf_enabled"])
}

func TestProtocolShutdownMidTransmit(t *testing.T) {
	controller, channel, config := newTestController(t, nil, func(c *Config) {
		c.Protocol.TxDurationSec = 60
		c.Protocol.RxDurationSec = 60
		c.Protocol.TotalDurationSec = 3600
	})

	done := make(chan struct{})
	go func() {
		controller.Run()
		close(done)
	}()

	// Let the transmit phase start, then request a stop
	time.Sleep(700 * time.Millisecond)
	assert.Equal(t, StateTransmitting, controller.State())
	controller.RequestShutdown()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("controller did not shut down after a shutdown request")
	}

	assert.Equal(t, StateIdle, controller.State())
	assert.False(t, channel.isEmitting())

	summary := readSummary(t, config, controller.SessionID())
	assert.Equal(t, 1, summary.Cycles)

	// The interrupted transmit still records its nominal duration
	counts := eventTypes(t, controller)
	assert.Equal(t, 1, counts["transmit"])
	assert.Equal(t, 0, counts["listen"])
}

func TestProtocolShutdownBeforeFirstCycle(t *testing.T) {
	controller, channel, config := newTestController(t, nil, nil)

	controller.RequestShutdown()
	controller.Run()

	assert.Equal(t, 0, controller.cycleCount)
	assert.Equal(t, 0, channel.starts)

	summary := readSummary(t, config, controller.SessionID())
	assert.Equal(t, 0, summary.Cycles)
}

func TestProtocolSummaryWrittenOnce(t *testing.T) {
	controller, _, config := newTestController(t, nil, func(c *Config) {
		c.Protocol.TxDurationSec = 1
		c.Protocol.RxDurationSec = 1
		c.Protocol.TotalDurationSec = 1
	})

	controller.Run()

	path := filepath.Join(config.EventLog.DataDir, fmt.Sprintf("session_%s.json", controller.SessionID()))
	require.NoError(t, os.Remove(path))

	// A second shutdown must not write a second summary
	controller.shutdown()
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestProtocolAnomalyCycle(t *testing.T) {
	scanner := &fakeScanner{
		available: true,
		scans: []map[float64]float64{
			{1.42e9: 8.0},  // baseline sample
			{1.42e9: 12.0}, // baseline sample
			{1.42e9: 17.0}, // 3.5 sigma, repeats
		},
	}
	controller, _, config := newTestController(t, scanner, func(c *Config) {
		c.Protocol.TxDurationSec = 1
		c.Protocol.RxDurationSec = 1
		c.Protocol.TotalDurationSec = 2
		c.Monitor.BaselineSamples = 2
	})

	controller.Run()

	assert.Equal(t, 1, controller.cycleCount)
	assert.Equal(t, 1, controller.anomalyCycles)

	counts := eventTypes(t, controller)
	assert.GreaterOrEqual(t, counts["anomaly_in_cycle"], 1)
	assert.Equal(t, 1, counts["adapt"])

	summary := readSummary(t, config, controller.SessionID())
	assert.Equal(t, 1, summary.Anomalies)
}

func TestWaitInterruptibleFullDuration(t *testing.T) {
	controller, _, _ := newTestController(t, nil, nil)

	start := time.Now()
	completed := controller.waitInterruptible(50*time.Millisecond, 10*time.Millisecond)
	assert.True(t, completed)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestWaitInterruptibleEarlyReturn(t *testing.T) {
	controller, _, _ := newTestController(t, nil, nil)

	go func() {
		time.Sleep(20 * time.Millisecond)
		controller.RequestShutdown()
	}()

	start := time.Now()
	completed := controller.waitInterruptible(10*time.Second, 10*time.Millisecond)
	assert.False(t, completed)
	assert.Less(t, time.Since(start), time.Second)
}
