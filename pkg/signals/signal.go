// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package signals

import (
	"math"
	"sync"
	"time"

	"github.com/Thermoquad/commutator/pkg/bldclink"
)

// RequestKind tells why the scheduler is sending a message for a signal
type RequestKind int

const (
	RequestWrite RequestKind = iota + 1
	RequestRefresh
	RequestCyclic
)

// String implements fmt.Stringer
func (k RequestKind) String() string {
	switch k {
	case RequestWrite:
		return "write"
	case RequestRefresh:
		return "refresh"
	case RequestCyclic:
		return "cyclic"
	default:
		return "none"
	}
}

// Request is the one message a signal wants sent in a scheduler tick. It is
// handed back to Sent once the message is on the wire.
type Request struct {
	Kind    RequestKind
	Message bldclink.Message
	seq     uint64
}

// Signal is one named value synchronized with the device. All methods are
// safe for concurrent use; each signal has its own lock.
type Signal struct {
	def Definition

	mu              sync.Mutex
	value           float64
	cyclic          bool
	cycleTime       time.Duration
	lastReceived    time.Time
	lastTransmitted time.Time

	// pendingValue outlives pendingWrite: it is the last value the
	// application asked for and is replayed by Retransmit
	pendingWrite  bool
	hasPending    bool
	pendingValue  float64
	writeSeq      uint64
	readRequested bool
}

// NewSignal creates a signal in its idle state
func NewSignal(def Definition) *Signal {
	if def.Factor == 0 {
		def.Factor = 1
	}
	return &Signal{
		def:       def,
		cyclic:    def.Cyclic,
		cycleTime: def.CycleTime,
	}
}

// Definition returns the static description
func (s *Signal) Definition() Definition {
	return s.def
}

// Name returns the table key
func (s *Signal) Name() string {
	return s.def.Name
}

// Index returns the parameter index
func (s *Signal) Index() bldclink.ParamIndex {
	return s.def.Index
}

// Value returns the current engineering value
func (s *Signal) Value() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value
}

// Write records a local write. Nothing happens when value equals the value
// already on its way to the device: the pending value while a write is
// pending, the current value otherwise. Persistent signals take the new value
// immediately; others keep showing the device value until it is confirmed by
// a read.
func (s *Signal) Write(value float64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	target := s.value
	if s.pendingWrite {
		target = s.pendingValue
	}
	if value == target {
		return false
	}
	if s.def.Persistent {
		s.value = value
	}
	s.pendingValue = value
	s.hasPending = true
	s.pendingWrite = true
	s.writeSeq++
	return true
}

// Update applies a raw wire value received from the device. It is ignored
// while a local write is pending. lastReceived is refreshed either way.
func (s *Signal) Update(raw int, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastReceived = now
	if s.pendingWrite {
		return false
	}
	s.value = s.fromRaw(raw)
	return true
}

// RawFromPayload interprets a message payload the way this signal is encoded
func (s *Signal) RawFromPayload(m bldclink.Message) int {
	if s.def.AllowNegative {
		return int(m.PayloadSigned())
	}
	return int(m.PayloadUnsigned())
}

func (s *Signal) fromRaw(raw int) float64 {
	if s.def.Raw {
		return float64(raw)
	}
	return float64(raw)*s.def.Factor + s.def.Offset
}

// GetRaw converts the pending value to the 16-bit wire payload, rounding to
// nearest and clamping to the range of the signal's payload interpretation
func (s *Signal) GetRaw() uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.toRaw(s.pendingValue)
}

func (s *Signal) toRaw(v float64) uint16 {
	if !s.def.Raw {
		v = (v - s.def.Offset) / s.def.Factor
	}
	v = math.Round(v)
	if s.def.AllowNegative {
		v = math.Max(math.MinInt16, math.Min(math.MaxInt16, v))
		return uint16(int16(v))
	}
	return uint16(math.Max(0, math.Min(math.MaxUint16, v)))
}

// Retransmit re-arms the last requested value so the device gets it again,
// for example after it reports a reset. Only persistent signals without
// NoRetransmit that have been written at least once take part.
func (s *Signal) Retransmit() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.def.Persistent || s.def.NoRetransmit || !s.hasPending {
		return false
	}
	s.pendingWrite = true
	s.writeSeq++
	return true
}

// RequestRead asks the scheduler for one READ_REQUEST regardless of the
// cyclic schedule
func (s *Signal) RequestRead() {
	s.mu.Lock()
	s.readRequested = true
	s.mu.Unlock()
}

// SetSchedule changes cyclic polling at runtime. A non-positive cycle time
// keeps the current one.
func (s *Signal) SetSchedule(cyclic bool, cycleTime time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cyclic = cyclic
	if cycleTime > 0 {
		s.cycleTime = cycleTime
	}
}

// Next returns the message this signal needs sent at now, if any. A pending
// write beats a requested read, which beats a due cyclic read. Next does not
// change state; call Sent after the message was written.
func (s *Signal) Next(now time.Time) (Request, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.pendingWrite:
		m := bldclink.NewWriteRequest(s.def.Index, s.toRaw(s.pendingValue))
		return Request{Kind: RequestWrite, Message: m, seq: s.writeSeq}, true
	case s.readRequested:
		return Request{Kind: RequestRefresh, Message: bldclink.NewReadRequest(s.def.Index)}, true
	case s.cyclic && now.Sub(s.lastTransmitted) >= s.cycleTime:
		return Request{Kind: RequestCyclic, Message: bldclink.NewReadRequest(s.def.Index)}, true
	}
	return Request{}, false
}

// Sent commits a request returned by Next. A write made after Next keeps its
// own pending flag.
func (s *Signal) Sent(r Request, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch r.Kind {
	case RequestWrite:
		if s.writeSeq == r.seq {
			s.pendingWrite = false
		}
	case RequestRefresh:
		s.readRequested = false
	}
	s.lastTransmitted = now
}

// State is a point-in-time copy of a signal
type State struct {
	Name            string        `json:"name" yaml:"name" cbor:"name"`
	Label           string        `json:"label" yaml:"label" cbor:"label"`
	Index           uint8         `json:"index" yaml:"index" cbor:"index"`
	Unit            string        `json:"unit,omitempty" yaml:"unit,omitempty" cbor:"unit,omitempty"`
	Value           float64       `json:"value" yaml:"value" cbor:"value"`
	Text            string        `json:"text,omitempty" yaml:"text,omitempty" cbor:"text,omitempty"`
	Raw             bool          `json:"raw" yaml:"raw" cbor:"raw"`
	Factor          float64       `json:"factor" yaml:"factor" cbor:"factor"`
	Offset          float64       `json:"offset" yaml:"offset" cbor:"offset"`
	AllowNegative   bool          `json:"allowNegative" yaml:"allowNegative" cbor:"allowNegative"`
	Cyclic          bool          `json:"cyclic" yaml:"cyclic" cbor:"cyclic"`
	CycleTime       time.Duration `json:"cycleTime" yaml:"cycleTime" cbor:"cycleTime"`
	Persistent      bool          `json:"persistent" yaml:"persistent" cbor:"persistent"`
	NoRetransmit    bool          `json:"noRetransmit" yaml:"noRetransmit" cbor:"noRetransmit"`
	PendingWrite    bool          `json:"pendingWrite" yaml:"pendingWrite" cbor:"pendingWrite"`
	PendingValue    *float64      `json:"pendingValue,omitempty" yaml:"pendingValue,omitempty" cbor:"pendingValue,omitempty"`
	LastReceived    time.Time     `json:"lastReceived" yaml:"lastReceived" cbor:"lastReceived"`
	LastTransmitted time.Time     `json:"lastTransmitted" yaml:"lastTransmitted" cbor:"lastTransmitted"`
}

// State returns a consistent copy of the signal
func (s *Signal) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := State{
		Name:            s.def.Name,
		Label:           s.def.Label,
		Index:           uint8(s.def.Index),
		Unit:            s.def.Unit,
		Value:           s.value,
		Raw:             s.def.Raw,
		Factor:          s.def.Factor,
		Offset:          s.def.Offset,
		AllowNegative:   s.def.AllowNegative,
		Cyclic:          s.cyclic,
		CycleTime:       s.cycleTime,
		Persistent:      s.def.Persistent,
		NoRetransmit:    s.def.NoRetransmit,
		PendingWrite:    s.pendingWrite,
		LastReceived:    s.lastReceived,
		LastTransmitted: s.lastTransmitted,
	}
	if s.hasPending {
		v := s.pendingValue
		st.PendingValue = &v
	}
	if s.def.Options != nil {
		st.Text, _ = s.def.Options.Label(int(s.value))
	}
	return st
}

// String formats the value with its unit, or its option label
func (st State) String() string {
	if st.Text != "" {
		return st.Text
	}
	if st.Unit == "" {
		return formatValue(st.Value)
	}
	return formatValue(st.Value) + " " + st.Unit
}
