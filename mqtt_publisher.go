package main

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// MQTTPublisher publishes protocol events and metric snapshots to an MQTT
// broker so external dashboards can follow a session live
type MQTTPublisher struct {
	client   mqtt.Client
	config   *MQTTConfig
	registry *prometheus.Registry

	stopChan chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// MetricPayload represents a metric snapshot message
type MetricPayload struct {
	Timestamp int64              `json:"timestamp"`
	Metrics   map[string]float64 `json:"metrics"`
}

// generateClientID creates a unique client ID for the MQTT connection
func generateClientID() string {
	return "hlbeacon_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// NewMQTTPublisher connects to the configured broker. registry may be nil
// when Prometheus metrics are disabled; metric snapshots are skipped then.
func NewMQTTPublisher(config *MQTTConfig, registry *prometheus.Registry) (*MQTTPublisher, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(config.Broker)
	opts.SetClientID(generateClientID())

	if config.Username != "" {
		opts.SetUsername(config.Username)
	}
	if config.Password != "" {
		opts.SetPassword(config.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(10 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	opts.SetOnConnectHandler(func(client mqtt.Client) {
		log.Println("MQTT: connected to broker")
	})
	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		log.Printf("MQTT: connection lost: %v", err)
	})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	log.Printf("MQTT: connected to %s", config.Broker)

	pub := &MQTTPublisher{
		client:   client,
		config:   config,
		registry: registry,
		stopChan: make(chan struct{}),
	}

	if registry != nil && config.PublishIntervalSec > 0 {
		pub.wg.Add(1)
		go pub.metricSnapshotLoop(time.Duration(config.PublishIntervalSec) * time.Second)
	}

	return pub, nil
}

// publishJSON marshals payload and publishes it under the topic prefix
func (mp *MQTTPublisher) publishJSON(subtopic string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("MQTT: failed to marshal %s payload: %v", subtopic, err)
		return
	}
	topic := mp.config.TopicPrefix + "/" + subtopic
	if token := mp.client.Publish(topic, 0, false, data); token.Wait() && token.Error() != nil {
		log.Printf("MQTT: failed to publish to %s: %v", topic, token.Error())
	}
}

// PublishAnomaly publishes one detected anomaly
func (mp *MQTTPublisher) PublishAnomaly(a Anomaly) {
	mp.publishJSON("anomaly", a)
}

// PublishCycle publishes a completed protocol cycle
func (mp *MQTTPublisher) PublishCycle(sessionID string, cycle int, duration time.Duration, anomalies int) {
	mp.publishJSON("cycle", map[string]interface{}{
		"session_id": sessionID,
		"cycle":      cycle,
		"duration":   duration.Seconds(),
		"anomalies":  anomalies,
	})
}

// metricSnapshotLoop periodically gathers the Prometheus registry and
// publishes counter/gauge values as a flat snapshot
func (mp *MQTTPublisher) metricSnapshotLoop(interval time.Duration) {
	defer mp.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			mp.publishMetricSnapshot()
		case <-mp.stopChan:
			return
		}
	}
}

// publishMetricSnapshot gathers and publishes the current metric values
func (mp *MQTTPublisher) publishMetricSnapshot() {
	families, err := mp.registry.Gather()
	if err != nil {
		log.Printf("MQTT: failed to gather metrics: %v", err)
		return
	}

	snapshot := make(map[string]float64)
	for _, family := range families {
		for _, metric := range family.GetMetric() {
			name := family.GetName()
			for _, label := range metric.GetLabel() {
				name += "_" + label.GetValue()
			}
			switch family.GetType() {
			case dto.MetricType_COUNTER:
				snapshot[name] = metric.GetCounter().GetValue()
			case dto.MetricType_GAUGE:
				snapshot[name] = metric.GetGauge().GetValue()
			}
		}
	}

	mp.publishJSON("metrics", MetricPayload{
		Timestamp: time.Now().Unix(),
		Metrics:   snapshot,
	})
}

// Stop stops the snapshot loop and disconnects from the broker
func (mp *MQTTPublisher) Stop() {
	mp.stopOnce.Do(func() { close(mp.stopChan) })
	mp.wg.Wait()
	mp.client.Disconnect(250)
	log.Println("MQTT: disconnected")
}
