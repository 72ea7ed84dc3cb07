// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bldclink

// Frame is the fixed seven byte envelope around a message. DecodeFrame fills
// the fields positionally without validating them so a rejected frame can
// still be inspected.
type Frame struct {
	Start      byte
	Raw        [MessageSize]byte
	Checksum   byte
	End        byte
	Terminator byte
}

// NewFrame wraps a message with the fixed markers and its checksum
func NewFrame(m Message) Frame {
	raw := m.Encode()
	return Frame{
		Start:      StartByte,
		Raw:        raw,
		Checksum:   Checksum(raw[:]),
		End:        EndByte,
		Terminator: TerminatorByte,
	}
}

// EncodeFrame returns the wire bytes for a message
func EncodeFrame(m Message) []byte {
	f := NewFrame(m)
	return f.Bytes()
}

// Bytes returns the frame as written on the wire
func (f Frame) Bytes() []byte {
	return []byte{f.Start, f.Raw[0], f.Raw[1], f.Raw[2], f.Checksum, f.End, f.Terminator}
}

// DecodeFrame unpacks seven bytes positionally. The only error is a length
// mismatch; use Validate or IsValid to check the content.
func DecodeFrame(data []byte) (Frame, error) {
	if len(data) != FrameSize {
		return Frame{}, ErrFrameLength
	}
	var f Frame
	f.Start = data[0]
	copy(f.Raw[:], data[1:1+MessageSize])
	f.Checksum = data[4]
	f.End = data[5]
	f.Terminator = data[6]
	return f, nil
}

// Message decodes the embedded message bytes
func (f Frame) Message() (Message, error) {
	return DecodeMessage(f.Raw[:])
}

// Validate returns nil for a valid frame, otherwise the first failing check.
// The terminator byte is not checked.
func (f Frame) Validate() error {
	if f.Start != StartByte {
		return ErrStartMarker
	}
	if f.End != EndByte {
		return ErrEndMarker
	}
	if Checksum(f.Raw[:]) != f.Checksum {
		return ErrChecksum
	}
	_, err := f.Message()
	return err
}

// IsValid reports whether markers and checksum match and the message decodes
func (f Frame) IsValid() bool {
	return f.Validate() == nil
}
