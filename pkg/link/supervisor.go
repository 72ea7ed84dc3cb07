// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package link

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Supervisor keeps a session connected to one device, reconnecting with
// exponential backoff after the transport is lost
type Supervisor struct {
	session    *Session
	device     string
	minBackoff time.Duration
	maxBackoff time.Duration
	log        *zap.Logger
}

// NewSupervisor creates a supervisor. Non-positive backoffs default to 1s
// and 30s.
func NewSupervisor(s *Session, device string, minBackoff, maxBackoff time.Duration, log *zap.Logger) *Supervisor {
	if minBackoff <= 0 {
		minBackoff = time.Second
	}
	if maxBackoff < minBackoff {
		maxBackoff = 30 * time.Second
		if maxBackoff < minBackoff {
			maxBackoff = minBackoff
		}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Supervisor{
		session:    s,
		device:     device,
		minBackoff: minBackoff,
		maxBackoff: maxBackoff,
		log:        log,
	}
}

// Run connects and reconnects until ctx is done or the session is
// disconnected on purpose. It returns ctx.Err() or nil.
func (sv *Supervisor) Run(ctx context.Context) error {
	backoff := sv.minBackoff
	for {
		if !sv.session.Connected() {
			if err := sv.session.Connect(ctx, sv.device); err != nil {
				sv.log.Info("reconnect failed", zap.String("device", sv.device),
					zap.Duration("retry_in", backoff), zap.Error(err))
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(backoff):
				}
				backoff *= 2
				if backoff > sv.maxBackoff {
					backoff = sv.maxBackoff
				}
				continue
			}
		}
		backoff = sv.minBackoff

		err := sv.session.Wait(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err == nil {
			return nil
		}
		sv.log.Warn("link lost, reconnecting", zap.String("device", sv.device), zap.Error(err))
	}
}
