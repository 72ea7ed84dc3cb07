// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bldclink

import (
	"fmt"
	"sync"
	"time"
)

// Counters is a point-in-time copy of the link statistics
type Counters struct {
	StartTime      time.Time
	LastUpdateTime time.Time

	TotalFrames    uint64
	ValidFrames    uint64
	ChecksumErrors uint64
	MarkerErrors   uint64
	IndexErrors    uint64
	DiscardedBytes uint64
	SentMessages   uint64
	SendErrors     uint64

	// Rates (calculated)
	FrameRate float64 // frames/sec
	ErrorRate float64 // errors/sec
}

// Statistics tracks frame counters and error rates for one link. It is safe
// for concurrent use.
type Statistics struct {
	mu sync.Mutex
	c  Counters
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	now := time.Now()
	return &Statistics{c: Counters{
		StartTime:      now,
		LastUpdateTime: now,
	}}
}

// Update accounts for one decoder result
func (s *Statistics) Update(r Result) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.c.TotalFrames++
	s.c.LastUpdateTime = time.Now()

	if r.Err == nil {
		s.c.ValidFrames++
		return
	}

	reason := RejectNone
	if fe, ok := r.Err.(*FrameError); ok {
		reason = fe.Reason
	}
	switch reason {
	case RejectChecksum:
		s.c.ChecksumErrors++
	case RejectStartMarker, RejectEndMarker:
		s.c.MarkerErrors++
	case RejectUnknownIndex:
		s.c.IndexErrors++
	}
}

// SetDiscarded records the decoder's running discarded byte count
func (s *Statistics) SetDiscarded(n uint64) {
	s.mu.Lock()
	s.c.DiscardedBytes = n
	s.mu.Unlock()
}

// RecordSend accounts for one outbound message
func (s *Statistics) RecordSend(err error) {
	s.mu.Lock()
	if err != nil {
		s.c.SendErrors++
	} else {
		s.c.SentMessages++
	}
	s.mu.Unlock()
}

// Snapshot returns a copy of the counters with rates calculated
func (s *Statistics) Snapshot() Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.c.calculateRates()
	return s.c
}

func (c *Counters) calculateRates() {
	elapsed := time.Since(c.StartTime).Seconds()
	if elapsed > 0 {
		c.FrameRate = float64(c.TotalFrames) / elapsed
		c.ErrorRate = float64(c.ChecksumErrors+c.MarkerErrors+c.IndexErrors) / elapsed
	}
}

// String returns a formatted statistics summary
func (s *Statistics) String() string {
	return s.Snapshot().String()
}

// String returns a formatted summary of the counters
func (snap Counters) String() string {
	var validPercent float64
	if snap.TotalFrames > 0 {
		validPercent = float64(snap.ValidFrames) * 100.0 / float64(snap.TotalFrames)
	}

	elapsed := time.Since(snap.StartTime)

	result := fmt.Sprintf("=== Statistics (%.0f seconds) ===\n", elapsed.Seconds())
	result += fmt.Sprintf("Total Frames:    %8d\n", snap.TotalFrames)
	result += fmt.Sprintf("Valid Frames:    %8d (%.1f%%)\n", snap.ValidFrames, validPercent)
	if snap.ChecksumErrors > 0 {
		result += fmt.Sprintf("Checksum Errors: %8d\n", snap.ChecksumErrors)
	}
	if snap.MarkerErrors > 0 {
		result += fmt.Sprintf("Marker Errors:   %8d\n", snap.MarkerErrors)
	}
	if snap.IndexErrors > 0 {
		result += fmt.Sprintf("Index Errors:    %8d\n", snap.IndexErrors)
	}
	if snap.DiscardedBytes > 0 {
		result += fmt.Sprintf("Discarded Bytes: %8d\n", snap.DiscardedBytes)
	}
	result += fmt.Sprintf("Sent Messages:   %8d\n", snap.SentMessages)
	if snap.SendErrors > 0 {
		result += fmt.Sprintf("Send Errors:     %8d\n", snap.SendErrors)
	}
	result += fmt.Sprintf("Frame Rate:      %8.1f frames/sec\n", snap.FrameRate)
	result += fmt.Sprintf("Error Rate:      %8.1f errors/sec\n", snap.ErrorRate)
	result += "================================\n"

	return result
}

// Reset resets all statistics counters
func (s *Statistics) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	s.c = Counters{StartTime: now, LastUpdateTime: now}
}
