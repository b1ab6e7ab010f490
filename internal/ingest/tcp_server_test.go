package ingest

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"loginwatch/internal/correlate"
	"loginwatch/internal/detect"
	"loginwatch/internal/event"
	"loginwatch/internal/session"
	"loginwatch/internal/storage"
)

// recordingDispatcher collects dispatched observations.
type recordingDispatcher struct {
	mu  sync.Mutex
	got []event.Observation
}

func (d *recordingDispatcher) Observe(_ context.Context, obs event.Observation) error {
	d.mu.Lock()
	d.got = append(d.got, obs)
	d.mu.Unlock()
	return nil
}

func (d *recordingDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.got)
}

func newTestTCPServer(t *testing.T, overrides ...func(*TCPServerConfig)) (*TCPServer, *recordingDispatcher) {
	t.Helper()

	dispatcher := &recordingDispatcher{}

	cfg := DefaultTCPServerConfig()
	cfg.Address = "127.0.0.1:0" // kernel-assigned port
	for _, fn := range overrides {
		fn(&cfg)
	}

	srv := NewTCPServer(cfg, event.NewValidator(), dispatcher)
	return srv, dispatcher
}

// waitForCondition polls until fn returns true or the timeout elapses.
func waitForCondition(timeout time.Duration, fn func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false
}

func validTunnelLine() string {
	return `{"kind":"tunnel_open","client":"10.0.0.1:5000","target_host":"login.microsoftonline.com"}` + "\n"
}

func validRequestLine() string {
	return `{"kind":"request","client":"10.0.0.1:5000","url":"https://app.example/callback?code=X"}` + "\n"
}

func TestTCPServer_StartStop(t *testing.T) {
	srv, _ := newTestTCPServer(t)

	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	addr := srv.Addr().String()

	conn, err := net.DialTimeout("tcp", addr, time.Second)
	if err != nil {
		t.Fatalf("Dial() should succeed while server is running: %v", err)
	}
	conn.Close()

	srv.Stop()

	if _, err := net.DialTimeout("tcp", addr, 500*time.Millisecond); err == nil {
		t.Error("Dial() should fail after Stop()")
	}
}

func TestTCPServer_DispatchesObservations(t *testing.T) {
	srv, dispatcher := newTestTCPServer(t)

	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer srv.Stop()

	conn, err := net.DialTimeout("tcp", srv.Addr().String(), time.Second)
	if err != nil {
		t.Fatalf("Dial() error: %v", err)
	}

	if _, err := conn.Write([]byte(validTunnelLine() + validRequestLine())); err != nil {
		t.Fatalf("Write() error: %v", err)
	}
	conn.Close()

	if !waitForCondition(2*time.Second, func() bool { return dispatcher.count() >= 2 }) {
		t.Fatalf("dispatched %d observations, want 2", dispatcher.count())
	}

	dispatcher.mu.Lock()
	defer dispatcher.mu.Unlock()
	if dispatcher.got[0].Kind != event.KindTunnelOpen {
		t.Errorf("first observation kind = %q, want tunnel_open", dispatcher.got[0].Kind)
	}
	if dispatcher.got[0].TargetHost != "login.microsoftonline.com" {
		t.Errorf("TargetHost = %q", dispatcher.got[0].TargetHost)
	}
	if dispatcher.got[1].Kind != event.KindRequest {
		t.Errorf("second observation kind = %q, want request", dispatcher.got[1].Kind)
	}
}

func TestTCPServer_RejectsMalformedAndInvalidLines(t *testing.T) {
	srv, dispatcher := newTestTCPServer(t)

	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer srv.Stop()

	conn, err := net.DialTimeout("tcp", srv.Addr().String(), time.Second)
	if err != nil {
		t.Fatalf("Dial() error: %v", err)
	}

	lines := "not json at all\n" +
		`{"kind":"tunnel_open","client":"10.0.0.1:5000"}` + "\n" + // missing target_host
		`{"kind":"teleport","client":"10.0.0.1:5000"}` + "\n" + // unknown kind
		validTunnelLine()
	if _, err := conn.Write([]byte(lines)); err != nil {
		t.Fatalf("Write() error: %v", err)
	}
	conn.Close()

	if !waitForCondition(2*time.Second, func() bool { return srv.Metrics().Received >= 4 }) {
		t.Fatalf("Received = %d, want 4", srv.Metrics().Received)
	}

	m := srv.Metrics()
	if m.Dispatched != 1 {
		t.Errorf("Dispatched = %d, want 1", m.Dispatched)
	}
	if m.Errors != 3 {
		t.Errorf("Errors = %d, want 3", m.Errors)
	}
	if dispatcher.count() != 1 {
		t.Errorf("dispatcher saw %d observations, want 1", dispatcher.count())
	}
}

func TestTCPServer_MaxConnections(t *testing.T) {
	const maxConns = 2

	srv, _ := newTestTCPServer(t, func(cfg *TCPServerConfig) {
		cfg.MaxConnections = maxConns
	})

	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer srv.Stop()

	addr := srv.Addr().String()

	conns := make([]net.Conn, 0, maxConns)
	for i := 0; i < maxConns; i++ {
		c, err := net.DialTimeout("tcp", addr, time.Second)
		if err != nil {
			t.Fatalf("Dial() error for connection %d: %v", i, err)
		}
		if _, err := c.Write([]byte(validTunnelLine())); err != nil {
			t.Fatalf("Write() error for connection %d: %v", i, err)
		}
		conns = append(conns, c)
	}
	defer func() {
		for _, c := range conns {
			c.Close()
		}
	}()

	if !waitForCondition(2*time.Second, func() bool {
		return srv.ActiveConnections() >= maxConns
	}) {
		t.Fatalf("ActiveConnections() = %d, want %d", srv.ActiveConnections(), maxConns)
	}

	extra, err := net.DialTimeout("tcp", addr, time.Second)
	if err != nil {
		t.Fatalf("Dial() error for extra connection: %v", err)
	}
	defer extra.Close()

	// The rejected connection is closed by the server.
	extra.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1)
	if _, readErr := extra.Read(buf); readErr == nil {
		t.Error("expected error when reading from rejected connection, got nil")
	}

	if srv.ActiveConnections() > maxConns {
		t.Errorf("ActiveConnections() = %d, should not exceed %d", srv.ActiveConnections(), maxConns)
	}
}

// End-to-end: wire the server to a real correlator and confirm a login
// lands in the store.
func TestTCPServer_EndToEndWithCorrelator(t *testing.T) {
	tracker := session.NewMemoryTracker(session.DefaultTimeout)
	store := storage.NewMemoryStore()
	correlator := correlate.New(detect.NewClassifier(""), tracker, store)

	cfg := DefaultTCPServerConfig()
	cfg.Address = "127.0.0.1:0"
	srv := NewTCPServer(cfg, event.NewValidator(), correlator)

	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer srv.Stop()

	conn, err := net.DialTimeout("tcp", srv.Addr().String(), time.Second)
	if err != nil {
		t.Fatalf("Dial() error: %v", err)
	}
	if _, err := conn.Write([]byte(validTunnelLine() + validRequestLine())); err != nil {
		t.Fatalf("Write() error: %v", err)
	}
	conn.Close()

	ok := waitForCondition(2*time.Second, func() bool {
		n, err := store.TotalCount(context.Background())
		return err == nil && n == 1
	})
	if !ok {
		n, _ := store.TotalCount(context.Background())
		t.Fatalf("store has %d events, want 1", n)
	}
}
