// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package link

import (
	"errors"
	"io"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Thermoquad/commutator/pkg/bldclink"
)

// maxReadErrors is how many consecutive transient read errors end a link
const maxReadErrors = 10

// receiver reads the transport, splits it into frames and forwards results
// to the reconciler. It owns its decoder.
type receiver struct {
	conn    Connection
	dec     *bldclink.Decoder
	out     chan<- bldclink.Result
	stop    <-chan struct{}
	stats   *bldclink.Statistics
	metrics Metrics
	log     *zap.Logger
	diag    *rate.Limiter
}

// run returns nil after a stop request and the transport error when the
// link is lost
func (r *receiver) run() error {
	buf := make([]byte, 256)
	errCount := 0
	for {
		select {
		case <-r.stop:
			return nil
		default:
		}

		n, err := r.conn.Read(buf)
		if n > 0 {
			if !r.feed(buf[:n]) {
				return nil
			}
		}
		if err == nil {
			errCount = 0
			continue
		}

		select {
		case <-r.stop:
			return nil
		default:
		}
		errCount++
		if isFatalReadError(err) || errCount >= maxReadErrors {
			return err
		}
		if r.diag.Allow() {
			r.log.Debug("transient read error", zap.Error(err), zap.Int("consecutive", errCount))
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// feed decodes data and forwards the results. It returns false when a stop
// request interrupted delivery.
func (r *receiver) feed(data []byte) bool {
	before := r.dec.Discarded()
	results := r.dec.Feed(data)
	if d := r.dec.Discarded() - before; d > 0 {
		r.metrics.BytesDiscarded(d)
		r.stats.SetDiscarded(r.dec.Discarded())
	}

	for _, res := range results {
		r.stats.Update(res)
		if res.Err != nil {
			var fe *bldclink.FrameError
			reason := bldclink.RejectNone
			if errors.As(res.Err, &fe) {
				reason = fe.Reason
			}
			r.metrics.FrameRejected(reason)
			if r.diag.Allow() {
				r.log.Debug("dropped frame", zap.Stringer("reason", reason), zap.Error(res.Err))
			}
			// An intact frame with an unknown status code still goes to the
			// reconciler so it can be reported
			if reason != bldclink.RejectUnknownIndex || res.Message.Type() != bldclink.MsgStatus {
				continue
			}
		} else {
			r.metrics.FrameReceived()
		}

		select {
		case r.out <- res:
		case <-r.stop:
			return false
		}
	}
	return true
}

func isFatalReadError(err error) bool {
	return errors.Is(err, ErrConnectionClosed) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrClosedPipe)
}
