package main

import (
	"encoding/binary"
	"fmt"
	"os"
)

// WAVWriter handles writing PCM audio data to WAV files
type WAVWriter struct {
	file          *os.File
	sampleRate    int
	channels      int
	bitsPerSample int
	dataSize      int64
}

// wavHeader represents a simplified WAV file header
type wavHeader struct {
	// RIFF chunk
	ChunkID   [4]byte // "RIFF"
	ChunkSize uint32  // File size - 8
	Format    [4]byte // "WAVE"

	// fmt sub-chunk
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM
	AudioFormat   uint16  // 1 for PCM
	NumChannels   uint16  // 1 or 2
	SampleRate    uint32  // Sample rate in Hz
	ByteRate      uint32  // SampleRate * NumChannels * BitsPerSample/8
	BlockAlign    uint16  // NumChannels * BitsPerSample/8
	BitsPerSample uint16  // 8, 16, etc.

	// data sub-chunk
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32  // NumSamples * NumChannels * BitsPerSample/8
}

// NewWAVWriter creates a new WAV file writer
func NewWAVWriter(filename string, sampleRate, channels, bitsPerSample int) (*WAVWriter, error) {
	file, err := os.Create(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to create WAV file: %w", err)
	}

	w := &WAVWriter{
		file:          file,
		sampleRate:    sampleRate,
		channels:      channels,
		bitsPerSample: bitsPerSample,
	}

	// Write placeholder header (updated with real sizes on close)
	if err := w.writeHeader(); err != nil {
		file.Close()
		return nil, err
	}

	return w, nil
}

// writeHeader writes the WAV header at the start of the file
func (w *WAVWriter) writeHeader() error {
	if _, err := w.file.Seek(0, 0); err != nil {
		return fmt.Errorf("failed to seek to header: %w", err)
	}

	bytesPerSample := w.bitsPerSample / 8
	header := wavHeader{
		ChunkSize:     uint32(36 + w.dataSize),
		Subchunk1Size: 16,
		AudioFormat:   1,
		NumChannels:   uint16(w.channels),
		SampleRate:    uint32(w.sampleRate),
		ByteRate:      uint32(w.sampleRate * w.channels * bytesPerSample),
		BlockAlign:    uint16(w.channels * bytesPerSample),
		BitsPerSample: uint16(w.bitsPerSample),
		Subchunk2Size: uint32(w.dataSize),
	}
	copy(header.ChunkID[:], "RIFF")
	copy(header.Format[:], "WAVE")
	copy(header.Subchunk1ID[:], "fmt ")
	copy(header.Subchunk2ID[:], "data")

	if err := binary.Write(w.file, binary.LittleEndian, &header); err != nil {
		return fmt.Errorf("failed to write WAV header: %w", err)
	}
	return nil
}

// WriteSamples appends 16-bit PCM samples to the file
func (w *WAVWriter) WriteSamples(samples []int16) error {
	if err := binary.Write(w.file, binary.LittleEndian, samples); err != nil {
		return fmt.Errorf("failed to write samples: %w", err)
	}
	w.dataSize += int64(len(samples) * 2)
	return nil
}

// Close updates the header with the final data size and closes the file
func (w *WAVWriter) Close() error {
	if err := w.writeHeader(); err != nil {
		w.file.Close()
		return err
	}
	return w.file.Close()
}
