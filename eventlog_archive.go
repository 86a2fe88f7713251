package main

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
)

// ArchiveOldPartitions compresses event log partitions older than afterDays
// with zstd, replacing events_YYYYMMDD.jsonl with events_YYYYMMDD.jsonl.zst.
// The current day's partition is never touched. Returns the number of
// partitions archived.
func ArchiveOldPartitions(dataDir string, afterDays int) (int, error) {
	entries, err := os.ReadDir(dataDir)
	if err != nil {
		return 0, fmt.Errorf("failed to read event log directory: %w", err)
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -afterDays)
	archived := 0

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, "events_") || !strings.HasSuffix(name, ".jsonl") {
			continue
		}

		dateStr := strings.TrimSuffix(strings.TrimPrefix(name, "events_"), ".jsonl")
		date, err := time.Parse("20060102", dateStr)
		if err != nil {
			// Not one of ours
			continue
		}

		if !date.Before(cutoff) {
			continue
		}

		path := filepath.Join(dataDir, name)
		if err := archivePartition(path); err != nil {
			log.Printf("Event log archiver: failed to archive %s: %v", name, err)
			continue
		}
		archived++
	}

	return archived, nil
}

// archivePartition compresses a single partition file and removes the original
func archivePartition(path string) error {
	src, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open partition: %w", err)
	}
	defer src.Close()

	dst, err := os.Create(path + ".zst")
	if err != nil {
		return fmt.Errorf("failed to create archive: %w", err)
	}

	enc, err := zstd.NewWriter(dst)
	if err != nil {
		dst.Close()
		return fmt.Errorf("failed to create zstd writer: %w", err)
	}

	if _, err := io.Copy(enc, src); err != nil {
		enc.Close()
		dst.Close()
		os.Remove(path + ".zst")
		return fmt.Errorf("failed to compress partition: %w", err)
	}

	if err := enc.Close(); err != nil {
		dst.Close()
		os.Remove(path + ".zst")
		return fmt.Errorf("failed to finish archive: %w", err)
	}
	if err := dst.Close(); err != nil {
		return fmt.Errorf("failed to close archive: %w", err)
	}

	if err := os.Remove(path); err != nil {
		return fmt.Errorf("failed to remove archived partition: %w", err)
	}

	return nil
}
