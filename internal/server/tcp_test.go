package server

import (
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/skypro1111/sales-intake-service/internal/config"
	"github.com/skypro1111/sales-intake-service/internal/protocol"
	"github.com/skypro1111/sales-intake-service/internal/session"
	"github.com/skypro1111/sales-intake-service/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

type testServer struct {
	tcp     *TCPServer
	store   *store.Store
	manager *session.Manager
}

func newTestServer(t *testing.T, modify func(cfg *config.ServerConfig)) *testServer {
	t.Helper()
	logger := testLogger()

	cfg := config.Default().Server
	cfg.Port = 0
	if modify != nil {
		modify(&cfg)
	}

	st := store.New(store.Config{Root: filepath.Join(t.TempDir(), "data")}, logger)
	if err := st.Init(); err != nil {
		t.Fatalf("Failed to init store: %v", err)
	}

	mgr := session.NewManager(logger, nil)
	handler := session.NewHandler(session.Config{
		FrameSize: cfg.FrameSize,
		Timeout:   cfg.GetSessionTimeoutDuration(),
	}, st, mgr, logger)

	srv := NewTCPServer(&cfg, logger, handler, mgr, nil)
	if err := srv.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	t.Cleanup(func() { srv.Close() })

	return &testServer{tcp: srv, store: st, manager: mgr}
}

// runClient plays one branch session against addr and returns every
// byte the server sent before closing the connection.
func runClient(t *testing.T, addr string, frames ...string) string {
	t.Helper()

	got, err := dialAndPlay(addr, frames...)
	if err != nil {
		t.Fatalf("Failed to dial: %v", err)
	}
	return got
}

// dialAndPlay is runClient without the test hooks, for use from
// goroutines.
func dialAndPlay(addr string, frames ...string) (string, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return "", err
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(5 * time.Second))

	var received []byte
	ack := make([]byte, len(protocol.Ack))
	for _, frame := range frames {
		if _, err := conn.Write([]byte(frame)); err != nil {
			break
		}
		if _, err := io.ReadFull(conn, ack); err != nil {
			break
		}
		received = append(received, ack...)
	}

	rest, _ := io.ReadAll(conn)
	return string(append(received, rest...)), nil
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("Timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestTCPServerStoresReport(t *testing.T) {
	ts := newTestServer(t, nil)

	got := runClient(t, ts.tcp.Addr().String(), "~BR01~", "~SGVsbG8sIFdvcmxkIQ==~")
	if got != "OKOK" {
		t.Fatalf("Expected OKOK, got %q", got)
	}

	data, err := ts.store.ReadReport("BR01")
	if err != nil {
		t.Fatalf("Failed to read report: %v", err)
	}
	if string(data) != "Hello, World!" {
		t.Errorf("Expected 'Hello, World!', got %q", data)
	}

	waitFor(t, "session to complete", func() bool {
		return ts.manager.GetStatistics().Completed == 1
	})
}

func TestTCPServerConcurrentBranches(t *testing.T) {
	ts := newTestServer(t, nil)
	addr := ts.tcp.Addr().String()

	const branches = 10
	var wg sync.WaitGroup
	results := make([]string, branches)

	for i := 0; i < branches; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			report := fmt.Sprintf("week %d totals", i)
			got, err := dialAndPlay(addr,
				fmt.Sprintf("~BR%02d~", i),
				"~"+protocol.EncodeReport([]byte(report))+"~",
			)
			if err != nil {
				got = err.Error()
			}
			results[i] = got
		}(i)
	}
	wg.Wait()

	for i := 0; i < branches; i++ {
		if results[i] != "OKOK" {
			t.Errorf("Branch %d: expected OKOK, got %q", i, results[i])
			continue
		}

		data, err := ts.store.ReadReport(fmt.Sprintf("BR%02d", i))
		if err != nil {
			t.Errorf("Branch %d: failed to read report: %v", i, err)
			continue
		}
		if expected := fmt.Sprintf("week %d totals", i); string(data) != expected {
			t.Errorf("Branch %d: expected %q, got %q", i, expected, data)
		}
	}
}

func TestTCPServerKeepsAcceptingAfterFailures(t *testing.T) {
	ts := newTestServer(t, nil)
	addr := ts.tcp.Addr().String()

	if got := runClient(t, addr, "NOTILDE"); got != "" {
		t.Errorf("Expected no acknowledgement for malformed identification, got %q", got)
	}

	if got := runClient(t, addr, "~BR02~", "~!!!notbase64~"); got != "OK" {
		t.Errorf("Expected a single OK for invalid payload, got %q", got)
	}

	if got := runClient(t, addr, "~BR03~", "~QUJD~"); got != "OKOK" {
		t.Errorf("Expected OKOK after earlier failures, got %q", got)
	}

	if _, err := os.Stat(filepath.Join(ts.store.Root(), "NOTILDE")); !os.IsNotExist(err) {
		t.Errorf("Expected no directory for malformed identification, got %v", err)
	}

	waitFor(t, "all sessions to finish", func() bool {
		stats := ts.manager.GetStatistics()
		return stats.Completed+stats.Aborted == 3
	})

	stats := ts.manager.GetStatistics()
	if stats.ByStage[session.StageParseIdent] != 1 {
		t.Errorf("Expected 1 parse_ident abort, got %d", stats.ByStage[session.StageParseIdent])
	}
	if stats.ByStage[session.StageDecodePayload] != 1 {
		t.Errorf("Expected 1 decode_payload abort, got %d", stats.ByStage[session.StageDecodePayload])
	}

	if accepted := ts.tcp.GetStatistics().ConnectionsAccepted; accepted != 3 {
		t.Errorf("Expected 3 accepted connections, got %d", accepted)
	}
}

func TestTCPServerMaxSessions(t *testing.T) {
	ts := newTestServer(t, func(cfg *config.ServerConfig) {
		cfg.MaxSessions = 1
	})
	addr := ts.tcp.Addr().String()

	idle, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("Failed to dial: %v", err)
	}
	waitFor(t, "first session to open", func() bool {
		return ts.manager.GetActiveSessionCount() == 1
	})

	done := make(chan string, 1)
	go func() {
		got, err := dialAndPlay(addr, "~BR07~", "~QUJD~")
		if err != nil {
			got = err.Error()
		}
		done <- got
	}()

	select {
	case got := <-done:
		t.Fatalf("Expected second session to wait for a free slot, got %q", got)
	case <-time.After(100 * time.Millisecond):
	}

	idle.Close()

	select {
	case got := <-done:
		if got != "OKOK" {
			t.Errorf("Expected OKOK once a slot was free, got %q", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Second session never completed")
	}
}

func TestTCPServerClose(t *testing.T) {
	ts := newTestServer(t, nil)
	addr := ts.tcp.Addr().String()

	if err := ts.tcp.Close(); err != nil {
		t.Fatalf("Expected clean close, got %v", err)
	}

	conn, err := net.DialTimeout("tcp", addr, time.Second)
	if err == nil {
		conn.Close()
		t.Errorf("Expected connection to be refused after Close")
	}
}

func TestTCPServerListenFailure(t *testing.T) {
	occupied, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	defer occupied.Close()

	cfg := config.Default().Server
	cfg.Port = occupied.Addr().(*net.TCPAddr).Port

	logger := testLogger()
	srv := NewTCPServer(&cfg, logger, nil, session.NewManager(logger, nil), nil)
	if err := srv.Listen(); err == nil {
		t.Errorf("Expected bind failure on an occupied port")
	}
}

func TestTCPServerServeWithoutListen(t *testing.T) {
	cfg := config.Default().Server
	logger := testLogger()

	srv := NewTCPServer(&cfg, logger, nil, nil, nil)
	if err := srv.Serve(); err == nil {
		t.Errorf("Expected error when serving before Listen")
	}
	if srv.Addr() != nil {
		t.Errorf("Expected nil address before Listen, got %v", srv.Addr())
	}
}
