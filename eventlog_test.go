package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventLogAppendRead(t *testing.T) {
	el, err := NewEventLog(t.TempDir())
	require.NoError(t, err)
	defer el.Close()

	_, err = el.Append("transmit", map[string]interface{}{"duration": 60})
	require.NoError(t, err)
	_, err = el.Append("listen", map[string]interface{}{"duration": 120})
	require.NoError(t, err)
	_, err = el.Append("analyse", map[string]interface{}{"anomaly_count": 0})
	require.NoError(t, err)

	events, err := el.Read(time.Now().UTC().Format("20060102"))
	require.NoError(t, err)
	require.Len(t, events, 3)

	// Append order is preserved
	assert.Equal(t, "transmit", events[0].Type)
	assert.Equal(t, "listen", events[1].Type)
	assert.Equal(t, "analyse", events[2].Type)

	// JSON numbers decode as float64
	assert.Equal(t, float64(60), events[0].Data["duration"])

	// Timestamps parse as RFC 3339
	_, err = time.Parse(time.RFC3339Nano, events[0].Timestamp)
	assert.NoError(t, err)
}

func TestEventLogReadMissingDate(t *testing.T) {
	el, err := NewEventLog(t.TempDir())
	require.NoError(t, err)
	defer el.Close()

	events, err := el.Read("19700101")
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestEventLogSkipsMalformedLines(t *testing.T) {
	dir := t.TempDir()
	el, err := NewEventLog(dir)
	require.NoError(t, err)
	defer el.Close()

	date := time.Now().UTC().Format("20060102")
	_, err = el.Append("first", nil)
	require.NoError(t, err)

	// A truncated write in the middle of the partition
	f, err := os.OpenFile(el.partitionPath(date), os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.WriteString("{\"type\":\"broken\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, err = el.Append("second", nil)
	require.NoError(t, err)

	events, err := el.Read(date)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "first", events[0].Type)
	assert.Equal(t, "second", events[1].Type)
}

func TestEventLogArchiveAndReadBack(t *testing.T) {
	dir := t.TempDir()
	el, err := NewEventLog(dir)
	require.NoError(t, err)
	defer el.Close()

	// An old partition, written by hand since Append always targets today
	oldPath := filepath.Join(dir, "events_20200101.jsonl")
	lines := `{"type":"transmit","timestamp":"2020-01-01T00:00:00Z","data":{"duration":60}}
{"type":"listen","timestamp":"2020-01-01T00:01:00Z","data":{"duration":120}}
`
	require.NoError(t, os.WriteFile(oldPath, []byte(lines), 0644))

	archived, err := ArchiveOldPartitions(dir, 7)
	require.NoError(t, err)
	assert.Equal(t, 1, archived)

	_, err = os.Stat(oldPath)
	assert.True(t, os.IsNotExist(err), "plain partition should be removed after archiving")
	_, err = os.Stat(oldPath + ".zst")
	assert.NoError(t, err)

	// Read falls back to the archive transparently
	events, err := el.Read("20200101")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "transmit", events[0].Type)
	assert.Equal(t, "listen", events[1].Type)
}

func TestArchiveSkipsCurrentPartition(t *testing.T) {
	dir := t.TempDir()
	el, err := NewEventLog(dir)
	require.NoError(t, err)
	defer el.Close()

	_, err = el.Append("transmit", nil)
	require.NoError(t, err)

	archived, err := ArchiveOldPartitions(dir, 7)
	require.NoError(t, err)
	assert.Equal(t, 0, archived)

	date := time.Now().UTC().Format("20060102")
	_, err = os.Stat(el.partitionPath(date))
	assert.NoError(t, err)
}

func TestArchiveIgnoresForeignFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "events_notadate.jsonl"), []byte("{}\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "baseline.json"), []byte("{}"), 0644))

	archived, err := ArchiveOldPartitions(dir, 7)
	require.NoError(t, err)
	assert.Equal(t, 0, archived)
}
