// Package merger implements the Merger (§4.F): the single-writer assembler
// that lets a bounded worker pool fetch segments in any order while
// guaranteeing the output file holds their concatenation in strictly
// ascending index order. Grounded on original_source/src/downloader.rs's
// Merger struct and the mutex+pending-map pattern in
// other_examples/.../vget/internal/downloader/hls.go's
// downloadSegmentsOrdered.
package merger

import (
	"fmt"
	"os"
	"sync"
)

// Merger serializes out-of-order segment writes into an ascending-index
// byte stream on disk. The zero value is not usable; construct with New.
type Merger struct {
	mu sync.Mutex

	file          *os.File
	segmentCount  int
	nextIndex     int
	pending       map[int][]byte
	storedBytes   int64
	writtenCount  int
}

// New creates a Merger that will write segmentCount segments to a fresh
// file at outputPath, truncating any existing content.
func New(segmentCount int, outputPath string) (*Merger, error) {
	f, err := os.Create(outputPath)
	if err != nil {
		return nil, fmt.Errorf("creating merger output %s: %w", outputPath, err)
	}
	return &Merger{
		file:         f,
		segmentCount: segmentCount,
		pending:      make(map[int][]byte),
	}, nil
}

// Write accepts segment index i's bytes from a worker. Concurrent calls
// with distinct indices are safe; i may arrive in any order, but the bytes
// written to the underlying file are always the concatenation of
// segments 0..n-1 in order (§8 testable property 1).
func (m *Merger) Write(i int, b []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if i != m.nextIndex {
		m.pending[i] = b
		return nil
	}

	if err := m.writeLocked(b); err != nil {
		return err
	}
	m.nextIndex++

	for {
		next, ok := m.pending[m.nextIndex]
		if !ok {
			break
		}
		delete(m.pending, m.nextIndex)
		if err := m.writeLocked(next); err != nil {
			return err
		}
		m.nextIndex++
	}
	return nil
}

// writeLocked appends b to the file. Caller must hold m.mu.
func (m *Merger) writeLocked(b []byte) error {
	if _, err := m.file.Write(b); err != nil {
		return fmt.Errorf("writing to merger output: %w", err)
	}
	m.storedBytes += int64(len(b))
	m.writtenCount++
	return nil
}

// Flush syncs the underlying file to durable storage and closes it. Call
// once after every segment has been written.
func (m *Merger) Flush() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.file.Sync(); err != nil {
		return fmt.Errorf("syncing merger output: %w", err)
	}
	return m.file.Close()
}

// Buffered reports whether at least one byte has been durably written.
func (m *Merger) Buffered() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.storedBytes > 0
}

// Stored returns the cumulative number of bytes written to disk so far.
func (m *Merger) Stored() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.storedBytes
}

// Estimate projects the total output size as stored*segmentCount/written,
// based on the average segment size observed so far. It returns 0 before
// the first segment lands.
func (m *Merger) Estimate() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writtenCount == 0 {
		return 0
	}
	return m.storedBytes * int64(m.segmentCount) / int64(m.writtenCount)
}
