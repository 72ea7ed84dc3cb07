// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bldclink

import (
	"bytes"
	"time"
)

// Result is one frame extracted by the decoder. Err is nil for a valid frame,
// otherwise a *FrameError and Message must not be dispatched.
type Result struct {
	Message   Message
	Frame     Frame
	Err       error
	Timestamp time.Time
}

// Valid reports whether the result carries a dispatchable message
func (r Result) Valid() bool {
	return r.Err == nil
}

// Decoder extracts frames from an unreliable byte stream. It is not safe for
// concurrent use; the receive loop owns it.
type Decoder struct {
	buf       []byte
	discarded uint64
}

// NewDecoder creates a new stream decoder
func NewDecoder() *Decoder {
	return &Decoder{buf: make([]byte, 0, FrameSize*8)}
}

// Reset drops any buffered bytes
func (d *Decoder) Reset() {
	d.buf = d.buf[:0]
}

// Buffered returns the number of bytes waiting for a complete frame
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

// Discarded returns the total number of bytes skipped while resynchronizing
func (d *Decoder) Discarded() uint64 {
	return d.discarded
}

// Feed appends data to the buffer and returns every frame that could be
// extracted, valid or not, in stream order.
//
// A frame that fails validation only consumes its start byte, so a false
// start marker or a corrupted frame costs at most one frame of data.
func (d *Decoder) Feed(data []byte) []Result {
	d.buf = append(d.buf, data...)

	var results []Result
	head := 0
	for len(d.buf)-head >= FrameSize {
		i := bytes.IndexByte(d.buf[head:], StartByte)
		if i < 0 {
			d.discarded += uint64(len(d.buf) - head)
			head = len(d.buf)
			break
		}
		if i > 0 {
			d.discarded += uint64(i)
			head += i
		}
		if len(d.buf)-head < FrameSize {
			break
		}

		frame, _ := DecodeFrame(d.buf[head : head+FrameSize])
		// Message is filled even for rejected frames, for diagnostics only
		msg, _ := frame.Message()
		res := Result{Message: msg, Frame: frame, Timestamp: time.Now()}
		err := frame.Validate()
		if err == nil {
			results = append(results, res)
			head += FrameSize
			continue
		}

		res.Err = &FrameError{Reason: reasonFor(err), Frame: frame, Err: err}
		results = append(results, res)
		d.discarded++
		head++
	}

	// Compact so the buffer never grows past one partial frame plus a read
	n := copy(d.buf, d.buf[head:])
	d.buf = d.buf[:n]
	return results
}
