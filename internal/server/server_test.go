package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"reflect"
	"testing"
	"time"
)

func newTestServer() *Server {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New("test", http.NotFoundHandler(), 0, time.Second, time.Second, time.Second, logger)
}

func TestServer_ShutdownOrderIsLIFO(t *testing.T) {
	t.Parallel()

	s := newTestServer()
	var order []string
	for _, name := range []string{"audit-worker", "ops-server", "redis"} {
		name := name
		s.OnShutdown(name, func(ctx context.Context) error {
			order = append(order, name)
			return nil
		})
	}

	if err := s.runShutdownFuncs(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []string{"redis", "ops-server", "audit-worker"}
	if !reflect.DeepEqual(order, want) {
		t.Errorf("shutdown order = %v, want %v", order, want)
	}
}

func TestServer_ShutdownContinuesAfterError(t *testing.T) {
	t.Parallel()

	s := newTestServer()
	boom := errors.New("boom")
	ran := 0

	s.OnShutdown("first", func(ctx context.Context) error { ran++; return nil })
	s.OnShutdown("failing", func(ctx context.Context) error { ran++; return boom })

	err := s.runShutdownFuncs(context.Background())
	if !errors.Is(err, boom) {
		t.Errorf("expected boom, got %v", err)
	}
	if ran != 2 {
		t.Errorf("expected both components to run, ran %d", ran)
	}
}

func TestServer_RunContextCancel(t *testing.T) {
	t.Parallel()

	s := newTestServer()
	stopped := false
	s.OnShutdown("component", func(ctx context.Context) error {
		stopped = true
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := s.RunContext(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !stopped {
		t.Error("registered component was not shut down")
	}
}

func TestServer_Addr(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := New("web", http.NotFoundHandler(), 8000, time.Second, time.Second, time.Second, logger)
	if s.Addr() != ":8000" {
		t.Errorf("Addr() = %q, want :8000", s.Addr())
	}
}
