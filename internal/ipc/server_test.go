package ipc

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func startServer(t *testing.T, handle HandlerFunc) (string, context.CancelFunc, <-chan error) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.socket")

	srv, err := Listen(path, handle)
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()
	return path, cancel, done
}

func TestServerAnswersInOrder(t *testing.T) {
	path, cancel, done := startServer(t, func(_ context.Context, req DaemonRequest) DaemonResponse {
		if req.Kind == KindPing {
			return OkResponse()
		}
		return ErrResponse(errors.New(req.Variant()))
	})
	defer cancel()

	ctx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()

	client, err := Dial(ctx, path)
	if err != nil {
		t.Fatalf("Failed to dial: %v", err)
	}
	defer client.Close()

	resp, err := client.Send(ctx, Ping())
	if err != nil {
		t.Fatalf("Failed to send: %v", err)
	}
	if !resp.Ok {
		t.Errorf("Expected Ok, got: %+v", resp)
	}

	resp, err = client.Send(ctx, Daemon(SaveProfile))
	if err != nil {
		t.Fatalf("Failed to send: %v", err)
	}
	if err := resp.Error(); err == nil || err.Error() != "Daemon.SaveProfile" {
		t.Errorf("Expected echoed variant error, got: %v", err)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Expected clean shutdown, got: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Server did not stop")
	}

	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("Expected socket to be removed, got: %v", err)
	}
}

func TestServerDropsOnlyBrokenConnection(t *testing.T) {
	path, cancel, _ := startServer(t, func(context.Context, DaemonRequest) DaemonResponse {
		return OkResponse()
	})
	defer cancel()

	raw, err := net.Dial("unix", path)
	if err != nil {
		t.Fatalf("Failed to dial: %v", err)
	}
	raw.Write([]byte{0, 0, 0, 3, '{', '{', '{'})

	buf := make([]byte, 1)
	raw.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, err := raw.Read(buf); err == nil {
		t.Errorf("Expected broken connection to be closed")
	}
	raw.Close()

	ctx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	client, err := Dial(ctx, path)
	if err != nil {
		t.Fatalf("Failed to dial: %v", err)
	}
	defer client.Close()

	if resp, err := client.Send(ctx, GetStatus()); err != nil || !resp.Ok {
		t.Errorf("Expected Ok from healthy client, got: %+v, %v", resp, err)
	}
}

func TestListenRefusesLiveDaemon(t *testing.T) {
	path, cancel, _ := startServer(t, func(context.Context, DaemonRequest) DaemonResponse {
		return OkResponse()
	})
	defer cancel()

	if _, err := Listen(path, nil); !errors.Is(err, ErrDaemonRunning) {
		t.Errorf("Expected ErrDaemonRunning, got: %v", err)
	}
}

func TestListenRemovesStaleSocket(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stale.socket")
	if err := os.WriteFile(path, nil, 0600); err != nil {
		t.Fatalf("Failed to create stale file: %v", err)
	}

	srv, err := Listen(path, func(context.Context, DaemonRequest) DaemonResponse { return OkResponse() })
	if err != nil {
		t.Fatalf("Expected stale socket to be replaced, got: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := srv.Serve(ctx); err != nil {
		t.Errorf("Expected clean shutdown, got: %v", err)
	}
}
