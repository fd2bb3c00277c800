// Package supervisor keeps a single logical Lark session per account alive
// against an unreliable streaming transport. It detects silent death via an
// idle watchdog, reconnects with jittered exponential backoff, and coalesces
// concurrent restart requests so at most one reconnect is ever in flight.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// State is the connection lifecycle state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateRestarting
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateRestarting:
		return "restarting"
	default:
		return "disconnected"
	}
}

// Transport is one session handle over the long connection. Start dials and
// performs the handshake, spawning the internal read loop; session-ending
// errors surface on Done. The supervisor owns at most one live Transport.
type Transport interface {
	Start(ctx context.Context) error
	Done() <-chan error
	Close() error
}

// DialFunc creates a fresh transport handle for one connection attempt.
type DialFunc func(ctx context.Context) (Transport, error)

// Config tunes the supervisor.
type Config struct {
	// IdleTimeout is how long the session may go without an inbound event
	// before the watchdog forces a restart. Zero or negative disables the
	// watchdog.
	IdleTimeout time.Duration

	// WatchdogInterval is how often the watchdog checks. Zero derives
	// max(15s, min(60s, IdleTimeout/3)).
	WatchdogInterval time.Duration

	// StartTimeout bounds the wait for the transport start acknowledgement.
	// On timeout the session is treated optimistically as pending-connected;
	// the transport confirms (or fails) asynchronously. Default 5s.
	StartTimeout time.Duration

	Backoff Backoff
}

// Status is the externally polled connection status surface.
type Status struct {
	Running           bool      `json:"running"`
	Connected         bool      `json:"connected"`
	State             string    `json:"state"`
	LastStartAt       time.Time `json:"last_start_at,omitzero"`
	LastStopAt        time.Time `json:"last_stop_at,omitzero"`
	LastConnectedAt   time.Time `json:"last_connected_at,omitzero"`
	LastDisconnectAt  time.Time `json:"last_disconnect_at,omitzero"`
	LastInboundAt     time.Time `json:"last_inbound_at,omitzero"`
	LastOutboundAt    time.Time `json:"last_outbound_at,omitzero"`
	ReconnectAttempts int       `json:"reconnect_attempts"`
	LastError         string    `json:"last_error,omitempty"`
}

// Supervisor owns the lifecycle of one persistent session per account.
type Supervisor struct {
	name string
	dial DialFunc
	cfg  Config

	mu         sync.Mutex
	state      State
	status     Status
	transport  Transport
	restarting bool
	queued     bool

	restartCh chan string
	stopOnce  sync.Once
	stopCh    chan struct{}

	now func() time.Time // test hook
}

// New creates a supervisor for one account.
func New(name string, dial DialFunc, cfg Config) *Supervisor {
	if cfg.StartTimeout <= 0 {
		cfg.StartTimeout = 5 * time.Second
	}
	if cfg.Backoff == (Backoff{}) {
		cfg.Backoff = DefaultBackoff()
	}
	if cfg.WatchdogInterval <= 0 {
		cfg.WatchdogInterval = deriveWatchdogInterval(cfg.IdleTimeout)
	}
	return &Supervisor{
		name:      name,
		dial:      dial,
		cfg:       cfg,
		restartCh: make(chan string, 1),
		stopCh:    make(chan struct{}),
		now:       time.Now,
	}
}

// deriveWatchdogInterval returns max(15s, min(60s, idle/3)).
func deriveWatchdogInterval(idle time.Duration) time.Duration {
	iv := idle / 3
	if iv > 60*time.Second {
		iv = 60 * time.Second
	}
	if iv < 15*time.Second {
		iv = 15 * time.Second
	}
	return iv
}

// Run drives the connection until the context is cancelled or Stop is
// called. Shutdown is terminal: the supervisor never restarts afterward.
func (s *Supervisor) Run(ctx context.Context) error {
	s.mu.Lock()
	s.status.Running = true
	s.status.LastStartAt = s.now()
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.status.Running = false
		s.status.Connected = false
		s.status.LastStopAt = s.now()
		s.setStateLocked(StateDisconnected)
		tr := s.transport
		s.transport = nil
		s.mu.Unlock()
		if tr != nil {
			if err := tr.Close(); err != nil {
				slog.Debug("transport close failed", "account", s.name, "error", err)
			}
		}
	}()

	attempt := 0
	for {
		if stopped(ctx, s.stopCh) {
			return ctx.Err()
		}

		s.setState(StateConnecting)
		tr, err := s.connect(ctx)
		if err != nil {
			if stopped(ctx, s.stopCh) {
				return ctx.Err()
			}
			attempt++
			s.recordError(err, attempt)
			delay := s.cfg.Backoff.Delay(attempt)
			slog.Warn("connect failed, backing off",
				"account", s.name, "attempt", attempt, "delay", delay, "error", err)
			if !s.sleep(ctx, delay) {
				return ctx.Err()
			}
			continue
		}

		// Connected. Reset the attempt counter and refresh the inbound
		// stamp so the watchdog does not fire immediately on a quiet chat.
		attempt = 0
		now := s.now()
		s.mu.Lock()
		s.transport = tr
		s.status.Connected = true
		s.status.LastConnectedAt = now
		s.status.LastInboundAt = now
		s.status.ReconnectAttempts = 0
		s.setStateLocked(StateConnected)
		s.mu.Unlock()
		slog.Info("session connected", "account", s.name)

		reason := s.waitForRestart(ctx, tr)
		if reason == "" {
			return ctx.Err() // shutdown
		}

		s.setState(StateRestarting)
		now = s.now()
		s.mu.Lock()
		s.status.Connected = false
		s.status.LastDisconnectAt = now
		s.transport = nil
		s.mu.Unlock()

		if err := tr.Close(); err != nil {
			slog.Debug("transport close failed", "account", s.name, "error", err)
		}

		slog.Warn("session restarting", "account", s.name, "reason", reason)

		attempt++
		s.mu.Lock()
		s.status.ReconnectAttempts = attempt
		s.mu.Unlock()

		if !s.sleep(ctx, s.cfg.Backoff.Delay(attempt)) {
			return ctx.Err()
		}

		// Triggers that fired while this restart was in flight only set the
		// queued flag; clearing it here means they are absorbed into the
		// reconnect the loop performs next, never spawning a second one.
		if s.drainQueued() {
			slog.Debug("coalesced restart triggers absorbed", "account", s.name)
		}
	}
}

// waitForRestart blocks while connected, returning the restart reason, or ""
// on shutdown. Watches the idle watchdog, transport termination, and
// explicit restart requests.
func (s *Supervisor) waitForRestart(ctx context.Context, tr Transport) string {
	var tick <-chan time.Time
	if s.cfg.IdleTimeout > 0 {
		ticker := time.NewTicker(s.cfg.WatchdogInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return ""
		case <-s.stopCh:
			return ""

		case reason := <-s.restartCh:
			s.beginRestart()
			return reason

		case err, ok := <-tr.Done():
			s.beginRestart()
			if !ok || err == nil {
				return "transport closed"
			}
			s.mu.Lock()
			s.status.LastError = err.Error()
			s.mu.Unlock()
			return fmt.Sprintf("transport error: %v", err)

		case <-tick:
			s.mu.Lock()
			idleFor := s.now().Sub(s.status.LastInboundAt)
			s.mu.Unlock()
			if idleFor >= s.cfg.IdleTimeout {
				s.beginRestart()
				return fmt.Sprintf("idle for %s", idleFor.Round(time.Second))
			}
		}
	}
}

// connect dials a fresh transport and waits for the start acknowledgement.
// A start that has not acked within StartTimeout is treated optimistically
// as pending-connected; a late failure surfaces as a restart request.
func (s *Supervisor) connect(ctx context.Context) (Transport, error) {
	tr, err := s.dial(ctx)
	if err != nil {
		return nil, err
	}

	startCh := make(chan error, 1)
	go func() { startCh <- tr.Start(ctx) }()

	select {
	case err := <-startCh:
		if err != nil {
			tr.Close()
			return nil, err
		}
		return tr, nil

	case <-time.After(s.cfg.StartTimeout):
		slog.Debug("transport start pending, proceeding optimistically", "account", s.name)
		go func() {
			if err := <-startCh; err != nil {
				s.RequestRestart(fmt.Sprintf("late start failure: %v", err))
			}
		}()
		return tr, nil

	case <-ctx.Done():
		tr.Close()
		return nil, ctx.Err()
	case <-s.stopCh:
		tr.Close()
		return nil, errors.New("supervisor stopped")
	}
}

// RequestRestart asks for a reconnect. Requests are coalesced: while a
// restart is in flight a new request only sets the queued flag, guaranteeing
// at most one concurrent reconnect attempt.
func (s *Supervisor) RequestRestart(reason string) {
	s.mu.Lock()
	if s.restarting {
		s.queued = true
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	select {
	case s.restartCh <- reason:
	default:
		// A request is already pending delivery; coalesce.
		s.mu.Lock()
		s.queued = true
		s.mu.Unlock()
	}
}

func (s *Supervisor) beginRestart() {
	s.mu.Lock()
	s.restarting = true
	s.mu.Unlock()
}

// drainQueued clears the restart-in-flight state and reports whether a
// trigger fired while it was set.
func (s *Supervisor) drainQueued() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	queued := s.queued
	s.queued = false
	s.restarting = false
	// Drop a stale pending request left from the race between beginRestart
	// and a concurrent trigger.
	select {
	case <-s.restartCh:
		queued = true
	default:
	}
	return queued
}

// Stop terminates the supervisor. Idempotent; always wins over any newly
// scheduled restart.
func (s *Supervisor) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// NoteInbound refreshes the liveness stamp. Called by the channel for every
// inbound transport event.
func (s *Supervisor) NoteInbound() {
	s.mu.Lock()
	s.status.LastInboundAt = s.now()
	s.mu.Unlock()
}

// NoteOutbound records outbound delivery activity and its error, if any.
func (s *Supervisor) NoteOutbound(err error) {
	s.mu.Lock()
	s.status.LastOutboundAt = s.now()
	if err != nil {
		s.status.LastError = err.Error()
	}
	s.mu.Unlock()
}

// Status returns a snapshot of the connection status.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.status
	st.State = s.state.String()
	return st
}

func (s *Supervisor) setState(st State) {
	s.mu.Lock()
	s.setStateLocked(st)
	s.mu.Unlock()
}

func (s *Supervisor) setStateLocked(st State) {
	if s.state != st {
		slog.Debug("connection state", "account", s.name, "from", s.state, "to", st)
		s.state = st
	}
}

func (s *Supervisor) recordError(err error, attempt int) {
	s.mu.Lock()
	s.status.LastError = err.Error()
	s.status.ReconnectAttempts = attempt
	s.mu.Unlock()
}

// sleep waits for d, returning false if shutdown interrupted the wait.
func (s *Supervisor) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-s.stopCh:
		return false
	case <-t.C:
		return true
	}
}

func stopped(ctx context.Context, stopCh chan struct{}) bool {
	select {
	case <-ctx.Done():
		return true
	case <-stopCh:
		return true
	default:
		return false
	}
}
