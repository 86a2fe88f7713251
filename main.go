package main

import (
	"flag"
	"fmt"
	"log"
	"os/exec"
	"path/filepath"
	"time"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config file")
	rfEnabled := flag.Bool("rf", false, "Enable RF channel (requires HackRF One)")
	freq := flag.String("freq", "", "RF frequency: hydrogen, 433, 868, 2400, or Hz value")
	duration := flag.Int("duration", 0, "Session duration in seconds")
	programme := flag.String("programme", "", "Mechanical programme (full, pulsed, combined, fundamental, scan, chirp, breathing)")
	gain := flag.Int("gain", -1, "RF TX gain in dB (keep <=20 for ISM compliance)")
	logDir := flag.String("log-dir", "", "Directory for event logs and session summaries")
	generateWAV := flag.String("generate", "", "Generate mechanical WAV file only (no playback/protocol)")
	generateIQ := flag.String("generate-rf", "", "Generate RF baseband IQ file only")
	baselineOnly := flag.Bool("baseline", false, "Capture spectral baseline only (no transmission)")
	check := flag.Bool("check", false, "Check connected hardware and exit")
	legal := flag.Bool("legal", false, "Print legal frequency information and exit")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("hlbeacon %s\n", Version)
		return
	}
	if *legal {
		printLegalInfo()
		return
	}
	if *check {
		checkHardware()
		return
	}

	config, err := LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Flag overrides
	if *rfEnabled {
		config.RF.Enabled = true
	}
	if *freq != "" {
		config.RF.Frequency = *freq
	}
	if *duration > 0 {
		config.Protocol.TotalDurationSec = *duration
	}
	if *programme != "" {
		config.Mechanical.Programme = *programme
	}
	if *gain >= 0 {
		config.RF.Gain = *gain
	}
	if *logDir != "" {
		config.EventLog.DataDir = *logDir
	}
	if err := config.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	switch {
	case *generateWAV != "":
		mech := NewMechanicalChannel(&config.Mechanical, config.Protocol.TotalDurationSec)
		if err := mech.SaveWAV(*generateWAV, config.Mechanical.Programme, float64(config.Protocol.TotalDurationSec)); err != nil {
			log.Fatalf("Failed to generate WAV: %v", err)
		}
		log.Printf("Generated %s", *generateWAV)

	case *generateIQ != "":
		seconds := config.Protocol.TxDurationSec
		if *duration > 0 && *duration < seconds {
			seconds = *duration
		}
		rf := NewRFChannel(&config.RF, seconds)
		if err := rf.SaveBaseband(*generateIQ, seconds); err != nil {
			log.Fatalf("Failed to generate IQ baseband: %v", err)
		}
		log.Printf("Generated %s", *generateIQ)

	case *baselineOnly:
		events, err := NewEventLog(config.EventLog.DataDir)
		if err != nil {
			log.Fatalf("Failed to open event log: %v", err)
		}
		defer events.Close()

		monitor := newMonitorFromConfig(config, events)
		if !monitor.IsAvailable() {
			log.Fatalf("RTL-SDR not detected. Connect an RTL-SDR dongle.")
		}
		monitor.CaptureBaseline(
			config.Monitor.BaselineSamples,
			time.Duration(config.Monitor.BaselineIntervalSec)*time.Second,
		)

	default:
		runProtocol(config)
	}
}

// newMonitorFromConfig wires a Monitor with an rtl_power scanner and the
// baseline file under the data directory
func newMonitorFromConfig(config *Config, events *EventLog) *Monitor {
	scanner := NewRTLPowerScanner(&config.Monitor, config.EventLog.DataDir)
	baselinePath := filepath.Join(config.EventLog.DataDir, "baseline.json")
	return NewMonitor(scanner, events, baselinePath)
}

// runProtocol wires everything together and runs the full session
func runProtocol(config *Config) {
	events, err := NewEventLog(config.EventLog.DataDir)
	if err != nil {
		log.Fatalf("Failed to open event log: %v", err)
	}
	defer events.Close()

	if config.EventLog.ArchiveEnabled {
		archived, err := ArchiveOldPartitions(config.EventLog.DataDir, config.EventLog.ArchiveAfterDays)
		if err != nil {
			log.Printf("Warning: event log archiving failed: %v", err)
		} else if archived > 0 {
			log.Printf("Archived %d old event log partitions", archived)
		}
	}

	monitor := newMonitorFromConfig(config, events)
	controller := NewProtocolController(config, events, monitor)

	var metrics *PrometheusMetrics
	if config.Prometheus.Enabled {
		metrics = NewPrometheusMetrics()
		server := metrics.StartServer(config.Prometheus.Listen)
		defer func() {
			server.Close()
			metrics.Stop()
		}()
		monitor.SetMetrics(metrics)
		controller.SetMetrics(metrics)
	}

	if config.MQTT.Enabled {
		publisher, err := newPublisher(config, metrics)
		if err != nil {
			log.Printf("Warning: MQTT disabled: %v", err)
		} else {
			defer publisher.Stop()
			monitor.SetPublisher(publisher)
			controller.SetPublisher(publisher)
		}
	}

	if config.VersionCheck.Enabled {
		checker := NewVersionChecker(time.Duration(config.VersionCheck.IntervalMin) * time.Minute)
		checker.Start()
		defer checker.Stop()
	}

	controller.Run()
}

// newPublisher creates the MQTT publisher, passing the metric registry when
// Prometheus is enabled
func newPublisher(config *Config, metrics *PrometheusMetrics) (*MQTTPublisher, error) {
	if metrics != nil {
		return NewMQTTPublisher(&config.MQTT, metrics.Registry())
	}
	return NewMQTTPublisher(&config.MQTT, nil)
}

// checkHardware prints which collaborating hardware is reachable
func checkHardware() {
	fmt.Println("Hardware check:")

	rf := &RFChannel{config: &RFConfig{}}
	fmt.Printf("  HackRF One:    %s\n", availabilityMark(rf.IsAvailable()))

	scanner := &RTLPowerScanner{}
	fmt.Printf("  RTL-SDR:       %s\n", availabilityMark(scanner.IsAvailable()))

	_, err := exec.LookPath("aplay")
	fmt.Printf("  Audio (aplay): %s\n", availabilityMark(err == nil))
}

func availabilityMark(ok bool) string {
	if ok {
		return "connected"
	}
	return "not found"
}

// printLegalInfo prints licence-free frequency information
func printLegalInfo() {
	fmt.Println("Legal frequencies (UK/EU, no licence required):")
	fmt.Println()
	for name, band := range ISMBands {
		fmt.Printf("  %s MHz ISM:\n", name)
		fmt.Printf("    Frequency:  %.2f MHz\n", band.Frequency/1e6)
		fmt.Printf("    Max power:  %d mW\n", band.MaxPowerMW)
		fmt.Printf("    Region:     %s\n", band.Region)
		fmt.Println()
	}
	fmt.Printf("Hydrogen line (%.3f MHz):\n", HydrogenLineHz/1e6)
	fmt.Println("  Requires an amateur radio licence (Foundation minimum in the UK)")
	fmt.Println()
	fmt.Println("Transmitting outside ISM bands without a licence is illegal.")
}
