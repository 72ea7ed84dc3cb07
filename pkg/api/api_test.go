// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Thermoquad/commutator/pkg/link"
	"github.com/Thermoquad/commutator/pkg/signals"
)

// fakeController is a connected session without a transport
type fakeController struct {
	table     *signals.Table
	connected bool
	device    string
	refreshed int
	dialErr   error
}

func newFake() *fakeController {
	return &fakeController{table: signals.DefaultTable(), connected: true, device: "/dev/ttyACM0"}
}

func (f *fakeController) Connect(_ context.Context, device string) error {
	if f.connected {
		return link.ErrAlreadyConnected
	}
	if f.dialErr != nil {
		return f.dialErr
	}
	f.connected, f.device = true, device
	return nil
}

func (f *fakeController) Disconnect() error {
	if !f.connected {
		return link.ErrNotConnected
	}
	f.connected = false
	return nil
}

func (f *fakeController) Connected() bool { return f.connected }

func (f *fakeController) ListDevices() ([]string, error) {
	return []string{"/dev/ttyACM0", "/dev/ttyUSB0"}, nil
}

func (f *fakeController) Signal(name string) (signals.State, error) {
	s, ok := f.table.ByName(name)
	if !ok {
		return signals.State{}, signals.ErrUnknownSignal
	}
	return s.State(), nil
}

func (f *fakeController) Snapshot() []signals.State { return f.table.Snapshot() }

func (f *fakeController) WriteSignal(name string, v float64) error {
	if !f.connected {
		return link.ErrNotConnected
	}
	_, err := f.table.Write(name, v)
	return err
}

func (f *fakeController) WriteSignalText(name, text string) error {
	if !f.connected {
		return link.ErrNotConnected
	}
	_, err := f.table.WriteText(name, text)
	return err
}

func (f *fakeController) SetSchedule(name string, cyclic bool, d time.Duration) error {
	return f.table.SetSchedule(name, cyclic, d)
}

func (f *fakeController) ForceRefreshAllSignals() error {
	if !f.connected {
		return link.ErrNotConnected
	}
	f.refreshed++
	return nil
}

func (f *fakeController) Status() link.Status {
	return link.Status{Connected: f.connected, Device: f.device}
}

func do(t *testing.T, r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(b))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func router(t *testing.T, ctrl Controller) *gin.Engine {
	gin.SetMode(gin.TestMode)
	return NewRouter(ctrl, "/metrics", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("# metrics"))
	}), zaptest.NewLogger(t))
}

func TestHealthAndMetrics(t *testing.T) {
	f := newFake()
	r := router(t, f)

	assert.Equal(t, http.StatusOK, do(t, r, http.MethodGet, "/healthz", nil).Code)
	assert.Equal(t, http.StatusOK, do(t, r, http.MethodGet, "/readyz", nil).Code)

	rec := do(t, r, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "# metrics", rec.Body.String())

	f.connected = false
	assert.Equal(t, http.StatusServiceUnavailable, do(t, r, http.MethodGet, "/readyz", nil).Code)
}

func TestListSignals(t *testing.T) {
	r := router(t, newFake())

	rec := do(t, r, http.MethodGet, "/api/v1/signals", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var out struct {
		Signals []signals.State `json:"signals"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out.Signals, 17)
	assert.Equal(t, "bat_voltage", out.Signals[0].Name)
}

func TestGetSignal(t *testing.T) {
	r := router(t, newFake())

	rec := do(t, r, http.MethodGet, "/api/v1/signals/rpm", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var st signals.State
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, "rpm", st.Name)

	assert.Equal(t, http.StatusNotFound, do(t, r, http.MethodGet, "/api/v1/signals/nope", nil).Code)
}

func TestWriteSignal(t *testing.T) {
	f := newFake()
	r := router(t, f)

	rec := do(t, r, http.MethodPut, "/api/v1/signals/pwm_p", map[string]any{"value": 1.5})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var st signals.State
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.True(t, st.PendingWrite)
	assert.Equal(t, 1.5, st.Value)

	rec = do(t, r, http.MethodPut, "/api/v1/signals/commutation", map[string]any{"label": "S-PWM"})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	s, _ := f.table.ByName("commutation")
	assert.Equal(t, float64(0x30), s.Value())
}

func TestWriteSignal_Errors(t *testing.T) {
	tests := []struct {
		name      string
		path      string
		body      any
		connected bool
		want      int
	}{
		{"unknown signal", "/api/v1/signals/nope", map[string]any{"value": 1}, true, http.StatusNotFound},
		{"malformed body", "/api/v1/signals/pwm", "{", true, http.StatusBadRequest},
		{"empty body", "/api/v1/signals/pwm", map[string]any{}, true, http.StatusBadRequest},
		{"bad label", "/api/v1/signals/commutation", map[string]any{"label": "warp"}, true, http.StatusBadRequest},
		{"not connected", "/api/v1/signals/pwm", map[string]any{"value": 10}, false, http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFake()
			f.connected = tt.connected
			rec := do(t, router(t, f), http.MethodPut, tt.path, tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestSetSchedule(t *testing.T) {
	f := newFake()
	r := router(t, f)

	rec := do(t, r, http.MethodPut, "/api/v1/signals/rpm/schedule", map[string]any{"cyclic": true, "cycleTime": "100ms"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	s, _ := f.table.ByName("rpm")
	assert.Equal(t, 100*time.Millisecond, s.State().CycleTime)

	rec = do(t, r, http.MethodPut, "/api/v1/signals/rpm/schedule", map[string]any{"cyclic": true, "cycleTime": "soon"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, r, http.MethodPut, "/api/v1/signals/nope/schedule", map[string]any{"cyclic": false})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRefresh(t *testing.T) {
	f := newFake()
	r := router(t, f)

	assert.Equal(t, http.StatusAccepted, do(t, r, http.MethodPost, "/api/v1/refresh", nil).Code)
	assert.Equal(t, 1, f.refreshed)

	f.connected = false
	assert.Equal(t, http.StatusConflict, do(t, r, http.MethodPost, "/api/v1/refresh", nil).Code)
}

func TestConnectDisconnect(t *testing.T) {
	f := newFake()
	r := router(t, f)

	assert.Equal(t, http.StatusConflict,
		do(t, r, http.MethodPost, "/api/v1/connect", map[string]any{"device": "/dev/ttyUSB0"}).Code)

	assert.Equal(t, http.StatusNoContent, do(t, r, http.MethodPost, "/api/v1/disconnect", nil).Code)
	assert.Equal(t, http.StatusConflict, do(t, r, http.MethodPost, "/api/v1/disconnect", nil).Code)

	assert.Equal(t, http.StatusBadRequest, do(t, r, http.MethodPost, "/api/v1/connect", map[string]any{}).Code)

	f.dialErr = errors.New("no such device")
	assert.Equal(t, http.StatusBadGateway,
		do(t, r, http.MethodPost, "/api/v1/connect", map[string]any{"device": "/dev/ttyUSB9"}).Code)

	f.dialErr = nil
	rec := do(t, r, http.MethodPost, "/api/v1/connect", map[string]any{"device": "/dev/ttyUSB0"})
	require.Equal(t, http.StatusOK, rec.Code)
	var st link.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.True(t, st.Connected)
	assert.Equal(t, "/dev/ttyUSB0", st.Device)
}

func TestDevicesAndStatus(t *testing.T) {
	r := router(t, newFake())

	rec := do(t, r, http.MethodGet, "/api/v1/devices", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"devices":["/dev/ttyACM0","/dev/ttyUSB0"]}`, rec.Body.String())

	rec = do(t, r, http.MethodGet, "/api/v1/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"connected":true`)
}

func TestSessionController(t *testing.T) {
	// A real session that was never connected
	s := link.NewSession(signals.DefaultTable())
	r := router(t, s)

	assert.Equal(t, http.StatusOK, do(t, r, http.MethodGet, "/api/v1/signals/enable", nil).Code)
	assert.Equal(t, http.StatusConflict,
		do(t, r, http.MethodPut, "/api/v1/signals/enable", map[string]any{"value": 1}).Code)
	assert.Equal(t, http.StatusServiceUnavailable, do(t, r, http.MethodGet, "/readyz", nil).Code)
}
