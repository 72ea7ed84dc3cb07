// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package signals

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/Thermoquad/commutator/pkg/bldclink"
)

var (
	ErrUnknownSignal = errors.New("signals: unknown signal")
	ErrInvalidValue  = errors.New("signals: invalid value")
	ErrDuplicate     = errors.New("signals: duplicate signal")
)

// Table is the fixed, ordered set of signals shared by the receive and send
// paths. The set never changes after construction; per-signal state is
// guarded by each Signal.
type Table struct {
	ordered []*Signal
	byName  map[string]*Signal
	byIndex map[bldclink.ParamIndex]*Signal
}

// NewTable builds a table from definitions, keeping their order
func NewTable(defs []Definition) (*Table, error) {
	t := &Table{
		ordered: make([]*Signal, 0, len(defs)),
		byName:  make(map[string]*Signal, len(defs)),
		byIndex: make(map[bldclink.ParamIndex]*Signal, len(defs)),
	}
	for _, def := range defs {
		if def.Name == "" {
			return nil, fmt.Errorf("%w: empty name", ErrInvalidValue)
		}
		if !def.Index.Valid() {
			return nil, fmt.Errorf("signal %q: %w", def.Name, &bldclink.IndexError{Type: bldclink.MsgResponse, Index: uint8(def.Index)})
		}
		if _, ok := t.byName[def.Name]; ok {
			return nil, fmt.Errorf("%w: name %q", ErrDuplicate, def.Name)
		}
		if _, ok := t.byIndex[def.Index]; ok {
			return nil, fmt.Errorf("%w: index %s", ErrDuplicate, def.Index)
		}
		s := NewSignal(def)
		t.ordered = append(t.ordered, s)
		t.byName[def.Name] = s
		t.byIndex[def.Index] = s
	}
	return t, nil
}

// DefaultTable builds the table for the inverter catalog
func DefaultTable() *Table {
	t, err := NewTable(Catalog())
	if err != nil {
		panic(err)
	}
	return t
}

// Signals returns the signals in insertion order
func (t *Table) Signals() []*Signal {
	return t.ordered
}

// Len returns the number of signals
func (t *Table) Len() int {
	return len(t.ordered)
}

// Names returns the signal names in insertion order
func (t *Table) Names() []string {
	out := make([]string, len(t.ordered))
	for i, s := range t.ordered {
		out[i] = s.def.Name
	}
	return out
}

// ByName looks a signal up by its table key
func (t *Table) ByName(name string) (*Signal, bool) {
	s, ok := t.byName[name]
	return s, ok
}

// ByIndex looks a signal up by its parameter index
func (t *Table) ByIndex(p bldclink.ParamIndex) (*Signal, bool) {
	s, ok := t.byIndex[p]
	return s, ok
}

// Write records a local write of an engineering value
func (t *Table) Write(name string, value float64) (bool, error) {
	s, ok := t.byName[name]
	if !ok {
		return false, fmt.Errorf("%w: %q", ErrUnknownSignal, name)
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return false, fmt.Errorf("%w: %v for %s", ErrInvalidValue, value, name)
	}
	return s.Write(value), nil
}

// WriteText parses text as a number or, for selector signals, an option
// label, and writes it
func (t *Table) WriteText(name, text string) (bool, error) {
	s, ok := t.byName[name]
	if !ok {
		return false, fmt.Errorf("%w: %q", ErrUnknownSignal, name)
	}
	v, err := s.ParseValue(text)
	if err != nil {
		return false, err
	}
	return t.Write(name, v)
}

// ParseValue turns operator input into an engineering value
func (s *Signal) ParseValue(text string) (float64, error) {
	text = strings.TrimSpace(text)
	if s.def.Options != nil {
		if v, ok := s.def.Options.Value(text); ok {
			return float64(v), nil
		}
	}
	v, err := strconv.ParseFloat(text, 64)
	if err != nil {
		if s.def.Options != nil {
			return 0, fmt.Errorf("%w: %q for %s (options: %s)", ErrInvalidValue, text, s.def.Name,
				strings.Join(s.def.Options.Labels(), ", "))
		}
		return 0, fmt.Errorf("%w: %q for %s", ErrInvalidValue, text, s.def.Name)
	}
	return v, nil
}

// SetSchedule changes the polling schedule of one signal
func (t *Table) SetSchedule(name string, cyclic bool, cycleTime time.Duration) error {
	s, ok := t.byName[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownSignal, name)
	}
	s.SetSchedule(cyclic, cycleTime)
	return nil
}

// Snapshot returns the state of every signal in insertion order
func (t *Table) Snapshot() []State {
	out := make([]State, len(t.ordered))
	for i, s := range t.ordered {
		out[i] = s.State()
	}
	return out
}

// RetransmitPersistent re-arms the last written value of every eligible
// signal and returns how many were re-armed
func (t *Table) RetransmitPersistent() int {
	n := 0
	for _, s := range t.ordered {
		if s.Retransmit() {
			n++
		}
	}
	return n
}

// RequestReadAll marks every signal for one READ_REQUEST
func (t *Table) RequestReadAll() {
	for _, s := range t.ordered {
		s.RequestRead()
	}
}

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'g', 6, 64)
}
