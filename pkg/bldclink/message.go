// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bldclink

import "encoding/binary"

// Message is one logical link message: type, 6-bit index and 16-bit payload.
// The payload is stored as raw bits; callers pick the signed or unsigned view.
type Message struct {
	msgType MsgType
	index   uint8
	payload uint16
}

// NewMessage creates a message from raw fields. The index is masked to 6 bits.
func NewMessage(t MsgType, index uint8, payload uint16) Message {
	return Message{msgType: t, index: index & indexMask, payload: payload}
}

// NewReadRequest creates a READ_REQUEST for a parameter
func NewReadRequest(p ParamIndex) Message {
	return NewMessage(MsgReadRequest, uint8(p), 0)
}

// NewWriteRequest creates a WRITE_REQUEST carrying an unsigned payload
func NewWriteRequest(p ParamIndex, value uint16) Message {
	return NewMessage(MsgWriteRequest, uint8(p), value)
}

// NewWriteRequestSigned creates a WRITE_REQUEST carrying a signed payload
func NewWriteRequestSigned(p ParamIndex, value int16) Message {
	return NewMessage(MsgWriteRequest, uint8(p), uint16(value))
}

// NewResponse creates a RESPONSE for a parameter (device side, used by
// simulators and tests)
func NewResponse(p ParamIndex, value uint16) Message {
	return NewMessage(MsgResponse, uint8(p), value)
}

// NewStatusMessage creates a STATUS message with a signed code
func NewStatusMessage(s StatusIndex, code int16) Message {
	return NewMessage(MsgStatus, uint8(s), uint16(code))
}

// Type returns the message type
func (m Message) Type() MsgType {
	return m.msgType
}

// Index returns the raw 6-bit index
func (m Message) Index() uint8 {
	return m.index
}

// Param returns the index as a parameter. ok is false for STATUS messages or
// unknown parameter indices.
func (m Message) Param() (ParamIndex, bool) {
	if m.msgType == MsgStatus {
		return 0, false
	}
	p := ParamIndex(m.index)
	return p, p.Valid()
}

// Status returns the index as a status code. ok is false for data messages
// or unknown status indices.
func (m Message) Status() (StatusIndex, bool) {
	if m.msgType != MsgStatus {
		return 0, false
	}
	s := StatusIndex(m.index)
	return s, s.Valid()
}

// PayloadUnsigned returns the payload as uint16
func (m Message) PayloadUnsigned() uint16 {
	return m.payload
}

// PayloadSigned returns the payload as int16
func (m Message) PayloadSigned() int16 {
	return int16(m.payload)
}

// WithPayloadUnsigned returns a copy with the payload replaced
func (m Message) WithPayloadUnsigned(v uint16) Message {
	m.payload = v
	return m
}

// WithPayloadSigned returns a copy with the payload replaced
func (m Message) WithPayloadSigned(v int16) Message {
	m.payload = uint16(v)
	return m
}

// Validate checks that the index resolves against the enum for the type
func (m Message) Validate() error {
	if m.msgType == MsgStatus {
		if !StatusIndex(m.index).Valid() {
			return &IndexError{Type: m.msgType, Index: m.index}
		}
		return nil
	}
	if !ParamIndex(m.index).Valid() {
		return &IndexError{Type: m.msgType, Index: m.index}
	}
	return nil
}

// ID returns the packed type/index byte
func (m Message) ID() byte {
	return byte(m.msgType)<<typeShift | m.index&indexMask
}

// Encode packs the message into its three wire bytes
func (m Message) Encode() [MessageSize]byte {
	var out [MessageSize]byte
	out[0] = m.ID()
	binary.BigEndian.PutUint16(out[1:], m.payload)
	return out
}

// DecodeMessage unpacks three wire bytes. The returned message is always
// populated; a non-nil error means the index is unknown and the message
// must not be dispatched.
func DecodeMessage(data []byte) (Message, error) {
	if len(data) != MessageSize {
		return Message{}, ErrMessageLength
	}
	id := data[0]
	m := Message{
		msgType: MsgType(id >> typeShift & 0x03),
		index:   id & indexMask,
		payload: binary.BigEndian.Uint16(data[1:]),
	}
	return m, m.Validate()
}

// String returns a short human-readable form
func (m Message) String() string {
	return FormatMessage(m)
}
