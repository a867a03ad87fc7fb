package server

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/creachadair/jrpc2"
	"github.com/creachadair/jrpc2/channel"

	"github.com/hostup/hostup/common"
)

func TestSocketPathEnvOverride(t *testing.T) {
	t.Setenv(common.SocketPathEnv, "/tmp/custom-test.sock")
	if got := SocketPath(); got != "/tmp/custom-test.sock" {
		t.Fatalf("expected env override, got %q", got)
	}

	t.Setenv(common.SocketPathEnv, "")
	want := filepath.Join(os.TempDir(), "hostup.sock")
	if got := SocketPath(); got != want {
		t.Fatalf("expected default %q, got %q", want, got)
	}
}

func TestServerServesUnixSocket(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix sockets not available")
	}
	env := newTestEnv(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- env.srv.Start(ctx) }()

	// wait for the socket file to appear
	sockPath := env.srv.cfg.SocketPath
	deadline := time.Now().Add(3 * time.Second)
	var conn net.Conn
	var err error
	for {
		conn, err = net.Dial("unix", sockPath)
		if err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("dial socket: %v", err)
		}
		time.Sleep(20 * time.Millisecond)
	}

	cli := jrpc2.NewClient(channel.Line(conn, conn), nil)
	var version common.VersionResult
	if err := cli.CallResult(ctx, common.MethodVersion, nil, &version); err != nil {
		t.Fatalf("call over socket: %v", err)
	}
	if version.Version != "1.0.0" {
		t.Fatalf("expected version 1.0.0, got %q", version.Version)
	}
	cli.Close()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("server returned error: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("server did not stop after cancel")
	}

	if _, err := os.Stat(sockPath); !os.IsNotExist(err) {
		t.Fatalf("expected socket file removed, stat err = %v", err)
	}
}
