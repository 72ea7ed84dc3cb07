// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package link runs the BLDC inverter link over a byte transport: a receive
// loop that decodes frames, a scheduler that sends writes and polls, and a
// reconciler that applies responses to the signal table and raises events.
// Session is the entry point for applications.
package link

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/time/rate"

	"github.com/Thermoquad/commutator/pkg/bldclink"
	"github.com/Thermoquad/commutator/pkg/signals"
)

var (
	ErrNotConnected     = errors.New("link: not connected")
	ErrAlreadyConnected = errors.New("link: already connected")
)

// Config holds the timing and queueing settings of a session
type Config struct {
	Tick              time.Duration // scheduler period
	StopTimeout       time.Duration // bound on waiting for the loops at teardown
	InboundQueue      int           // decoded frames buffered for the reconciler
	RefreshOnConnect  bool          // read every signal once after connecting
	RetransmitOnReady bool          // replay persistent writes on STATUS_READY
}

// DefaultConfig returns the settings used when no config is given
func DefaultConfig() Config {
	return Config{
		Tick:              2 * time.Millisecond,
		StopTimeout:       2 * time.Second,
		InboundQueue:      256,
		RefreshOnConnect:  true,
		RetransmitOnReady: true,
	}
}

// Option configures a Session
type Option func(*Session)

// WithConfig replaces the default Config. Zero fields keep their defaults.
func WithConfig(cfg Config) Option {
	return func(s *Session) {
		def := DefaultConfig()
		if cfg.Tick <= 0 {
			cfg.Tick = def.Tick
		}
		if cfg.StopTimeout <= 0 {
			cfg.StopTimeout = def.StopTimeout
		}
		if cfg.InboundQueue <= 0 {
			cfg.InboundQueue = def.InboundQueue
		}
		s.cfg = cfg
	}
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(s *Session) { s.log = l }
}

// WithMetrics sets the metrics sink
func WithMetrics(m Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// WithDialer sets how device names are opened
func WithDialer(d Dialer) Option {
	return func(s *Session) { s.dial = d }
}

// WithDeviceLister sets how available devices are listed
func WithDeviceLister(f func() ([]string, error)) Option {
	return func(s *Session) { s.list = f }
}

// active is one open transport and the loops running on it
type active struct {
	conn    Connection
	device  string
	id      string
	since   time.Time
	log     *zap.Logger
	writeMu sync.Mutex

	stop     chan struct{}
	stopOnce sync.Once
	loops    sync.WaitGroup // scheduler and reconciler
	rx       sync.WaitGroup // receiver

	done chan struct{}
	err  error // why the link ended, nil after Disconnect; read after done
}

func (a *active) halt() {
	a.stopOnce.Do(func() { close(a.stop) })
}

// Session connects a signal table to a device. All methods are safe for
// concurrent use.
type Session struct {
	cfg     Config
	table   *signals.Table
	log     *zap.Logger
	metrics Metrics
	dial    Dialer
	list    func() ([]string, error)
	events  *broadcaster
	stats   *bldclink.Statistics
	diag    *rate.Limiter

	mu         sync.Mutex
	link       *active
	last       *active
	connecting bool
}

// NewSession creates a disconnected session over table
func NewSession(table *signals.Table, opts ...Option) *Session {
	s := &Session{
		cfg:     DefaultConfig(),
		table:   table,
		log:     zap.NewNop(),
		metrics: nopMetrics{},
		dial:    NewDialer(DialConfig{BaudRate: 115200, ReadTimeout: 50 * time.Millisecond}),
		list:    ListDevices,
		events:  newBroadcaster(),
		stats:   bldclink.NewStatistics(),
		diag:    rate.NewLimiter(rate.Every(time.Second), 10),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Table returns the signal table
func (s *Session) Table() *signals.Table {
	return s.table
}

// Connect opens device and starts the link loops
func (s *Session) Connect(ctx context.Context, device string) error {
	s.mu.Lock()
	if s.link != nil || s.connecting {
		s.mu.Unlock()
		return ErrAlreadyConnected
	}
	s.connecting = true
	s.mu.Unlock()

	conn, err := s.dial(ctx, device)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.connecting = false
	if err != nil {
		s.log.Warn("connect failed", zap.String("device", device), zap.Error(err))
		return fmt.Errorf("connect %s: %w", device, err)
	}

	a := &active{
		conn:   conn,
		device: device,
		id:     uuid.NewString(),
		since:  time.Now(),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	a.log = s.log.With(zap.String("session", a.id), zap.String("device", device))
	s.start(a)
	s.link = a
	s.last = a

	s.metrics.SetConnected(true)
	a.log.Info("connected")
	s.events.publish(Event{
		Kind:  EventConnected,
		Level: zapcore.InfoLevel,
		Text:  "Connected to " + device,
	})
	return nil
}

func (s *Session) start(a *active) {
	inbound := make(chan bldclink.Result, s.cfg.InboundQueue)

	rx := &receiver{
		conn:    a.conn,
		dec:     bldclink.NewDecoder(),
		out:     inbound,
		stop:    a.stop,
		stats:   s.stats,
		metrics: s.metrics,
		log:     a.log,
		diag:    s.diag,
	}
	rec := &reconciler{
		table:   s.table,
		publish: s.events.publish,
		metrics: s.metrics,
		log:     a.log,
		diag:    s.diag,
	}
	if s.cfg.RetransmitOnReady {
		rec.onReady = func() {
			n := s.table.RetransmitPersistent()
			a.log.Info("device ready, retransmitting persistent signals", zap.Int("count", n))
		}
	}
	sch := &scheduler{
		table:   s.table,
		send:    func(m bldclink.Message) error { return s.sendOn(a, m) },
		publish: s.events.publish,
		log:     a.log,
		diag:    s.diag,
	}

	if s.cfg.RefreshOnConnect {
		s.table.RequestReadAll()
	}

	a.loops.Add(2)
	go func() {
		defer a.loops.Done()
		rec.run(inbound, a.stop)
	}()
	go func() {
		defer a.loops.Done()
		sch.run(a.stop, s.cfg.Tick)
	}()

	a.rx.Add(1)
	go func() {
		defer a.rx.Done()
		if err := rx.run(); err != nil {
			s.lost(a, err)
		}
	}()
}

// lost tears a link down after a transport failure. It runs on the receiver
// goroutine so it must not wait for a.rx.
func (s *Session) lost(a *active, err error) {
	s.mu.Lock()
	if s.link != a {
		// Disconnect got there first
		s.mu.Unlock()
		return
	}
	s.link = nil
	s.mu.Unlock()

	a.err = err
	a.halt()
	a.conn.Close()
	if !waitTimeout(&a.loops, s.cfg.StopTimeout) {
		a.log.Warn("link loops did not stop in time")
	}

	s.metrics.SetConnected(false)
	a.log.Warn("connection lost", zap.Error(err))
	s.events.publish(Event{
		Kind:  EventDisconnected,
		Level: zapcore.WarnLevel,
		Text:  fmt.Sprintf("Connection lost: %v", err),
	})
	close(a.done)
}

// Disconnect stops the loops and closes the transport
func (s *Session) Disconnect() error {
	s.mu.Lock()
	a := s.link
	s.link = nil
	s.mu.Unlock()
	if a == nil {
		return ErrNotConnected
	}

	a.halt()
	stopped := waitTimeout(&a.loops, s.cfg.StopTimeout)
	// Closing unblocks a receiver parked in Read
	closeErr := a.conn.Close()
	stopped = waitTimeout(&a.rx, s.cfg.StopTimeout) && stopped
	if !stopped {
		a.log.Warn("link loops did not stop in time", zap.Duration("timeout", s.cfg.StopTimeout))
	}

	s.metrics.SetConnected(false)
	a.log.Info("disconnected")
	s.events.publish(Event{
		Kind:  EventDisconnected,
		Level: zapcore.InfoLevel,
		Text:  "Disconnected from " + a.device,
	})
	close(a.done)
	if closeErr != nil {
		return fmt.Errorf("close %s: %w", a.device, closeErr)
	}
	return nil
}

// Wait blocks until the most recent link ends. It returns the transport
// error that ended it, or nil after Disconnect.
func (s *Session) Wait(ctx context.Context) error {
	s.mu.Lock()
	a := s.last
	s.mu.Unlock()
	if a == nil {
		return ErrNotConnected
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-a.done:
		return a.err
	}
}

// Close disconnects and ends every event subscription
func (s *Session) Close() error {
	err := s.Disconnect()
	if errors.Is(err, ErrNotConnected) {
		err = nil
	}
	s.events.close()
	return err
}

func (s *Session) current() *active {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.link
}

// Connected reports whether a link is up
func (s *Session) Connected() bool {
	return s.current() != nil
}

// Device returns the connected device name, or "" when disconnected
func (s *Session) Device() string {
	if a := s.current(); a != nil {
		return a.device
	}
	return ""
}

// ListDevices returns the device names that can be passed to Connect
func (s *Session) ListDevices() ([]string, error) {
	return s.list()
}

// Send writes one message to the device
func (s *Session) Send(m bldclink.Message) error {
	a := s.current()
	if a == nil {
		return ErrNotConnected
	}
	return s.sendOn(a, m)
}

func (s *Session) sendOn(a *active, m bldclink.Message) error {
	select {
	case <-a.stop:
		return ErrNotConnected
	default:
	}

	frame := bldclink.EncodeFrame(m)
	a.writeMu.Lock()
	_, err := a.conn.Write(frame)
	a.writeMu.Unlock()

	s.stats.RecordSend(err)
	if err != nil {
		s.metrics.SendFailed()
		return fmt.Errorf("send %s: %w", bldclink.FormatIndex(m), err)
	}
	s.metrics.MessageSent(m.Type())
	return nil
}

// WriteSignal queues a write of an engineering value; the scheduler sends
// it on its next tick
func (s *Session) WriteSignal(name string, value float64) error {
	if !s.Connected() {
		return ErrNotConnected
	}
	_, err := s.table.Write(name, value)
	return err
}

// WriteSignalText is WriteSignal for operator input: a number, or an option
// label for selector signals
func (s *Session) WriteSignalText(name, text string) error {
	if !s.Connected() {
		return ErrNotConnected
	}
	_, err := s.table.WriteText(name, text)
	return err
}

// Signal returns the current state of one signal
func (s *Session) Signal(name string) (signals.State, error) {
	sig, ok := s.table.ByName(name)
	if !ok {
		return signals.State{}, fmt.Errorf("%w: %q", signals.ErrUnknownSignal, name)
	}
	return sig.State(), nil
}

// Snapshot returns the state of every signal in table order
func (s *Session) Snapshot() []signals.State {
	return s.table.Snapshot()
}

// ForceRefreshAllSignals asks the scheduler to read every signal once
func (s *Session) ForceRefreshAllSignals() error {
	if !s.Connected() {
		return ErrNotConnected
	}
	s.table.RequestReadAll()
	return nil
}

// SetSchedule changes the polling schedule of one signal
func (s *Session) SetSchedule(name string, cyclic bool, cycleTime time.Duration) error {
	return s.table.SetSchedule(name, cyclic, cycleTime)
}

// Subscribe returns a channel of events and a function that ends the
// subscription. Events are dropped for a subscriber whose buffer is full.
func (s *Session) Subscribe(buffer int) (<-chan Event, func()) {
	return s.events.subscribe(buffer)
}

// DroppedEvents returns how many events subscribers have missed
func (s *Session) DroppedEvents() uint64 {
	return s.events.dropped.Load()
}

// Statistics returns the link counters
func (s *Session) Statistics() bldclink.Counters {
	return s.stats.Snapshot()
}

// Status summarizes the session
type Status struct {
	Connected  bool              `json:"connected"`
	Device     string            `json:"device,omitempty"`
	Session    string            `json:"session,omitempty"`
	Since      time.Time         `json:"since,omitempty"`
	Statistics bldclink.Counters `json:"statistics"`
}

// Status returns the connection state and counters
func (s *Session) Status() Status {
	st := Status{Statistics: s.stats.Snapshot()}
	if a := s.current(); a != nil {
		st.Connected = true
		st.Device = a.device
		st.Session = a.id
		st.Since = a.since
	}
	return st
}

func waitTimeout(wg *sync.WaitGroup, d time.Duration) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(d):
		return false
	}
}
