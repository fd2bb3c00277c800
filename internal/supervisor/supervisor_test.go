package supervisor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeTransport struct {
	done      chan error
	closeOnce sync.Once
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{done: make(chan error, 1)}
}

func (t *fakeTransport) Start(ctx context.Context) error { return nil }
func (t *fakeTransport) Done() <-chan error              { return t.done }
func (t *fakeTransport) Close() error {
	t.closeOnce.Do(func() { close(t.done) })
	return nil
}

func (t *fakeTransport) fail(err error) {
	select {
	case t.done <- err:
	default:
	}
}

// fakeDialer counts dials and hands out fresh transports.
type fakeDialer struct {
	mu         sync.Mutex
	dials      int32
	transports []*fakeTransport
	err        error
}

func (d *fakeDialer) dial(ctx context.Context) (Transport, error) {
	atomic.AddInt32(&d.dials, 1)
	if d.err != nil {
		return nil, d.err
	}
	tr := newFakeTransport()
	d.mu.Lock()
	d.transports = append(d.transports, tr)
	d.mu.Unlock()
	return tr, nil
}

func (d *fakeDialer) dialCount() int32 { return atomic.LoadInt32(&d.dials) }

func (d *fakeDialer) last() *fakeTransport {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.transports) == 0 {
		return nil
	}
	return d.transports[len(d.transports)-1]
}

func testConfig() Config {
	return Config{
		Backoff: Backoff{Initial: time.Millisecond, Max: 5 * time.Millisecond, Factor: 1.8},
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestSupervisorConnectsAndStops(t *testing.T) {
	d := &fakeDialer{}
	s := New("test", d.dial, testConfig())

	runDone := make(chan error, 1)
	go func() { runDone <- s.Run(context.Background()) }()

	waitFor(t, time.Second, func() bool { return s.Status().Connected })

	st := s.Status()
	if !st.Running || st.State != "connected" {
		t.Errorf("status = running=%v state=%q, want running/connected", st.Running, st.State)
	}

	s.Stop()
	select {
	case <-runDone:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Stop")
	}

	st = s.Status()
	if st.Running || st.Connected {
		t.Errorf("status after stop = running=%v connected=%v, want false/false", st.Running, st.Connected)
	}
}

func TestSupervisorReconnectsOnTransportError(t *testing.T) {
	d := &fakeDialer{}
	s := New("test", d.dial, testConfig())

	go s.Run(context.Background())
	defer s.Stop()

	waitFor(t, time.Second, func() bool { return s.Status().Connected })
	d.last().fail(errors.New("connection reset"))

	waitFor(t, time.Second, func() bool { return d.dialCount() >= 2 && s.Status().Connected })

	if st := s.Status(); st.LastError == "" {
		t.Error("expected LastError to record the transport failure")
	}
}

func TestSupervisorRetriesFailedDial(t *testing.T) {
	d := &fakeDialer{err: errors.New("endpoint unavailable")}
	s := New("test", d.dial, testConfig())

	go s.Run(context.Background())
	defer s.Stop()

	waitFor(t, time.Second, func() bool { return d.dialCount() >= 3 })

	if st := s.Status(); st.ReconnectAttempts < 2 {
		t.Errorf("ReconnectAttempts = %d, want >= 2", st.ReconnectAttempts)
	}
}

func TestRestartRequestsCoalesce(t *testing.T) {
	d := &fakeDialer{}
	s := New("test", d.dial, testConfig())

	go s.Run(context.Background())
	defer s.Stop()

	waitFor(t, time.Second, func() bool { return s.Status().Connected })

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.RequestRestart("probe")
		}()
	}
	wg.Wait()

	waitFor(t, time.Second, func() bool { return d.dialCount() >= 2 && s.Status().Connected })

	// Give any spurious extra restarts time to surface.
	time.Sleep(50 * time.Millisecond)
	if got := d.dialCount(); got != 2 {
		t.Errorf("dial count = %d, want 2 (initial connect + one coalesced restart)", got)
	}
}

func TestWatchdogRestartsIdleSession(t *testing.T) {
	cfg := testConfig()
	cfg.IdleTimeout = 30 * time.Millisecond
	cfg.WatchdogInterval = 10 * time.Millisecond

	d := &fakeDialer{}
	s := New("test", d.dial, cfg)

	go s.Run(context.Background())
	defer s.Stop()

	waitFor(t, time.Second, func() bool { return d.dialCount() >= 2 })
}

func TestWatchdogSpareActiveSession(t *testing.T) {
	cfg := testConfig()
	cfg.IdleTimeout = 40 * time.Millisecond
	cfg.WatchdogInterval = 10 * time.Millisecond

	d := &fakeDialer{}
	s := New("test", d.dial, cfg)

	go s.Run(context.Background())
	defer s.Stop()

	waitFor(t, time.Second, func() bool { return s.Status().Connected })

	// Keep feeding inbound activity; the watchdog must never fire.
	for i := 0; i < 15; i++ {
		s.NoteInbound()
		time.Sleep(10 * time.Millisecond)
	}
	if got := d.dialCount(); got != 1 {
		t.Errorf("dial count = %d, want 1 (watchdog must not restart an active session)", got)
	}
}

func TestWatchdogDisabled(t *testing.T) {
	d := &fakeDialer{}
	s := New("test", d.dial, testConfig()) // IdleTimeout zero

	go s.Run(context.Background())
	defer s.Stop()

	waitFor(t, time.Second, func() bool { return s.Status().Connected })
	time.Sleep(100 * time.Millisecond)

	if got := d.dialCount(); got != 1 {
		t.Errorf("dial count = %d, want 1 (watchdog disabled)", got)
	}
}

func TestStopIsTerminal(t *testing.T) {
	d := &fakeDialer{}
	s := New("test", d.dial, testConfig())

	runDone := make(chan error, 1)
	go func() { runDone <- s.Run(context.Background()) }()

	waitFor(t, time.Second, func() bool { return s.Status().Connected })
	s.Stop()
	<-runDone

	s.RequestRestart("after stop")
	time.Sleep(50 * time.Millisecond)
	if got := d.dialCount(); got != 1 {
		t.Errorf("dial count = %d, want 1 (no reconnects after Stop)", got)
	}
}
