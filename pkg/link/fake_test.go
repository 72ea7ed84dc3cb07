// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package link

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/Thermoquad/commutator/pkg/bldclink"
)

// fakeConn is an in-memory transport. Bytes injected on the device side are
// read by the session; bytes the session writes are recorded.
type fakeConn struct {
	r  *io.PipeReader
	dw *io.PipeWriter

	mu      sync.Mutex
	written []byte
	closed  bool
}

func newFakeConn() *fakeConn {
	r, w := io.Pipe()
	return &fakeConn{r: r, dw: w}
}

func (c *fakeConn) Read(p []byte) (int, error) {
	return c.r.Read(p)
}

func (c *fakeConn) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, io.ErrClosedPipe
	}
	c.written = append(c.written, p...)
	return len(p), nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return c.r.Close()
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// inject writes raw bytes as if the device sent them
func (c *fakeConn) inject(t *testing.T, data []byte) {
	t.Helper()
	if _, err := c.dw.Write(data); err != nil {
		t.Fatalf("inject: %v", err)
	}
}

func (c *fakeConn) injectMessage(t *testing.T, m bldclink.Message) {
	t.Helper()
	c.inject(t, bldclink.EncodeFrame(m))
}

// hangup makes the next read fail as if the device went away
func (c *fakeConn) hangup() {
	c.dw.CloseWithError(io.EOF)
}

// sent decodes everything the session has written so far
func (c *fakeConn) sent() []bldclink.Message {
	c.mu.Lock()
	data := append([]byte(nil), c.written...)
	c.mu.Unlock()

	var out []bldclink.Message
	for _, r := range bldclink.NewDecoder().Feed(data) {
		if r.Valid() {
			out = append(out, r.Message)
		}
	}
	return out
}

func (c *fakeConn) reset() {
	c.mu.Lock()
	c.written = nil
	c.mu.Unlock()
}

// fakeDialer hands out the queued connections and errors in order
type fakeDialer struct {
	mu      sync.Mutex
	conns   []*fakeConn
	errs    []error
	devices []string
}

func (d *fakeDialer) dial(_ context.Context, device string) (Connection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.devices = append(d.devices, device)
	if len(d.errs) > 0 {
		err := d.errs[0]
		d.errs = d.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	if len(d.conns) == 0 {
		return nil, errors.New("no device")
	}
	c := d.conns[0]
	d.conns = d.conns[1:]
	return c, nil
}

func (d *fakeDialer) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.devices)
}

// waitEvent reads events until one of kind arrives
func waitEvent(t *testing.T, ch <-chan Event, kind EventKind) Event {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case e, ok := <-ch:
			if !ok {
				t.Fatalf("event channel closed while waiting for %s", kind)
			}
			if e.Kind == kind {
				return e
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s event", kind)
		}
	}
}

func hasMessage(msgs []bldclink.Message, t bldclink.MsgType, p bldclink.ParamIndex) bool {
	for _, m := range msgs {
		if m.Type() == t && m.Index() == uint8(p) {
			return true
		}
	}
	return false
}
