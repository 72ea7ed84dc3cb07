// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bldclink

import (
	"errors"
	"fmt"
)

// Decode errors
var (
	ErrMessageLength = errors.New("bldclink: message must be 3 bytes")
	ErrFrameLength   = errors.New("bldclink: frame must be 7 bytes")
	ErrStartMarker   = errors.New("bldclink: bad start marker")
	ErrEndMarker     = errors.New("bldclink: bad end marker")
	ErrChecksum      = errors.New("bldclink: checksum mismatch")
	ErrUnknownIndex  = errors.New("bldclink: unknown index")
)

// RejectReason classifies why a frame was dropped
type RejectReason int

const (
	RejectNone RejectReason = iota
	RejectStartMarker
	RejectEndMarker
	RejectChecksum
	RejectUnknownIndex
)

// String returns the metric label for the reason
func (r RejectReason) String() string {
	switch r {
	case RejectNone:
		return "none"
	case RejectStartMarker:
		return "start_marker"
	case RejectEndMarker:
		return "end_marker"
	case RejectChecksum:
		return "checksum"
	case RejectUnknownIndex:
		return "unknown_index"
	default:
		return "unknown"
	}
}

// IndexError reports an index that does not resolve for its message type
type IndexError struct {
	Type  MsgType
	Index uint8
}

// Error implements the error interface
func (e *IndexError) Error() string {
	return fmt.Sprintf("%v: 0x%02X for %s", ErrUnknownIndex, e.Index, FormatMessageType(e.Type))
}

// Unwrap lets errors.Is match ErrUnknownIndex
func (e *IndexError) Unwrap() error {
	return ErrUnknownIndex
}

// FrameError describes a syntactically complete frame that failed validation
type FrameError struct {
	Reason RejectReason
	Frame  Frame
	Err    error
}

// Error implements the error interface
func (e *FrameError) Error() string {
	return fmt.Sprintf("invalid frame % X: %v", e.Frame.Bytes(), e.Err)
}

// Unwrap returns the underlying sentinel
func (e *FrameError) Unwrap() error {
	return e.Err
}

func reasonFor(err error) RejectReason {
	switch {
	case err == nil:
		return RejectNone
	case errors.Is(err, ErrStartMarker):
		return RejectStartMarker
	case errors.Is(err, ErrEndMarker):
		return RejectEndMarker
	case errors.Is(err, ErrChecksum):
		return RejectChecksum
	case errors.Is(err, ErrUnknownIndex):
		return RejectUnknownIndex
	}
	return RejectNone
}
