// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package link

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/time/rate"

	"github.com/Thermoquad/commutator/pkg/bldclink"
	"github.com/Thermoquad/commutator/pkg/signals"
)

// scheduler walks the signal table every tick and sends at most one message
// per signal: a pending write, else a requested read, else a due cyclic read
type scheduler struct {
	table   *signals.Table
	send    func(bldclink.Message) error
	publish func(Event)
	log     *zap.Logger
	diag    *rate.Limiter
}

func (s *scheduler) run(stop <-chan struct{}, tick time.Duration) {
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case now := <-ticker.C:
			if err := s.tick(now); errors.Is(err, ErrNotConnected) {
				return
			}
		}
	}
}

// tick runs one pass over the table. A failed send leaves the signal's
// request in place for the next tick.
func (s *scheduler) tick(now time.Time) error {
	var firstErr error
	for _, sig := range s.table.Signals() {
		req, ok := sig.Next(now)
		if !ok {
			continue
		}
		if err := s.send(req.Message); err != nil {
			if errors.Is(err, ErrNotConnected) {
				return err
			}
			if firstErr == nil {
				firstErr = err
			}
			if s.diag.Allow() {
				s.log.Warn("send failed", zap.String("signal", sig.Name()), zap.Error(err))
			}
			continue
		}
		sig.Sent(req, now)

		if req.Kind == signals.RequestWrite {
			s.log.Debug("write sent", zap.String("signal", sig.Name()), zap.Uint16("raw", req.Message.PayloadUnsigned()))
		}
		s.publish(Event{
			Time:   now,
			Kind:   EventMessageSent,
			Level:  zapcore.DebugLevel,
			Text:   req.Kind.String() + " " + bldclink.FormatMessage(req.Message),
			Signal: sig.Name(),
		})
	}
	return firstErr
}
