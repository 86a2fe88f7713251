package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
)

// Event is the append-only unit of record in the event log
type Event struct {
	Type      string                 `json:"type"`
	Timestamp string                 `json:"timestamp"` // ISO-8601 UTC
	Data      map[string]interface{} `json:"data"`
}

// EventLog handles append-only JSONL event logging, one file per UTC day.
// Appends are mutex-serialised so the protocol loop and the background
// monitor can both write without interleaving partial records.
type EventLog struct {
	dataDir string

	// JSONL logging (one file per day)
	openFile    *os.File
	currentDate string
	fileMu      sync.Mutex
}

// NewEventLog creates a new event log writing under dataDir
func NewEventLog(dataDir string) (*EventLog, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create event log directory: %w", err)
	}
	return &EventLog{dataDir: dataDir}, nil
}

// partitionPath returns the JSONL file path for a date in YYYYMMDD form
func (el *EventLog) partitionPath(date string) string {
	return filepath.Join(el.dataDir, fmt.Sprintf("events_%s.jsonl", date))
}

// Append writes one event to the partition for the current UTC date and
// returns the event as written
func (el *EventLog) Append(eventType string, data map[string]interface{}) (Event, error) {
	now := time.Now().UTC()
	event := Event{
		Type:      eventType,
		Timestamp: now.Format(time.RFC3339Nano),
		Data:      data,
	}

	line, err := json.Marshal(event)
	if err != nil {
		return event, fmt.Errorf("failed to marshal event: %w", err)
	}

	el.fileMu.Lock()
	defer el.fileMu.Unlock()

	file, err := el.getOrCreateFile(now)
	if err != nil {
		return event, err
	}

	if _, err := file.Write(append(line, '\n')); err != nil {
		return event, fmt.Errorf("failed to append event: %w", err)
	}

	return event, nil
}

// getOrCreateFile gets or creates the log file for the given time, rotating
// when the UTC date changes. Must be called with fileMu held.
func (el *EventLog) getOrCreateFile(now time.Time) (*os.File, error) {
	dateStr := now.Format("20060102")

	if el.currentDate != dateStr {
		if el.openFile != nil {
			el.openFile.Close()
		}

		file, err := os.OpenFile(el.partitionPath(dateStr), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open event log file: %w", err)
		}

		el.openFile = file
		el.currentDate = dateStr
	}

	return el.openFile, nil
}

// Read returns all events for a date (YYYYMMDD) in append order. Malformed
// lines are skipped, not fatal. A missing plain partition falls back to the
// zstd archive written by the archiver.
func (el *EventLog) Read(date string) ([]Event, error) {
	var reader io.Reader

	file, err := os.Open(el.partitionPath(date))
	if err == nil {
		defer file.Close()
		reader = file
	} else if os.IsNotExist(err) {
		archived, aerr := os.Open(el.partitionPath(date) + ".zst")
		if aerr != nil {
			if os.IsNotExist(aerr) {
				return []Event{}, nil
			}
			return nil, fmt.Errorf("failed to open archived event log: %w", aerr)
		}
		defer archived.Close()

		dec, derr := zstd.NewReader(archived)
		if derr != nil {
			return nil, fmt.Errorf("failed to create zstd reader: %w", derr)
		}
		defer dec.Close()
		reader = dec
	} else {
		return nil, fmt.Errorf("failed to open event log: %w", err)
	}

	events := []Event{}
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var event Event
		if err := json.Unmarshal(line, &event); err != nil {
			log.Printf("Event log: skipping malformed line in %s: %v", date, err)
			continue
		}
		events = append(events, event)
	}
	if err := scanner.Err(); err != nil {
		return events, fmt.Errorf("failed to read event log: %w", err)
	}

	return events, nil
}

// Close closes the open log file
func (el *EventLog) Close() error {
	el.fileMu.Lock()
	defer el.fileMu.Unlock()

	if el.openFile != nil {
		err := el.openFile.Close()
		el.openFile = nil
		el.currentDate = ""
		return err
	}
	return nil
}
