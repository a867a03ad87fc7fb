package server

import (
	"encoding/json"
	"errors"
	"io"
	"testing"

	"github.com/creachadair/jrpc2"
	"github.com/creachadair/jrpc2/channel"
	"github.com/creachadair/jrpc2/handler"

	"github.com/hostup/hostup/common"
	"github.com/hostup/hostup/pkg/logger"
)

// newPushServer creates a jrpc2 server with push support backed by an
// io.Pipe-based channel. The client channel must be drained or closed
// to avoid blocking the server's push operations.
func newPushServer(t *testing.T) (channel.Channel, *jrpc2.Server, func()) {
	t.Helper()
	cr, sw := io.Pipe()
	sr, cw := io.Pipe()
	cli := channel.Line(cr, cw)
	srvCh := channel.Line(sr, sw)

	srv := jrpc2.NewServer(handler.Map{}, &jrpc2.ServerOptions{AllowPush: true})
	srv.Start(srvCh)

	cleanup := func() {
		cli.Close()
		_ = srv.Wait()
	}
	return cli, srv, cleanup
}

func TestNotifierRegisterUnregister(t *testing.T) {
	n := NewRPCNotifier(nil)
	if n.Count() != 0 {
		t.Fatalf("expected 0 servers, got %d", n.Count())
	}

	_, srv, cleanup := newPushServer(t)
	defer cleanup()

	n.Register(srv)
	if n.Count() != 1 {
		t.Fatalf("expected 1 server, got %d", n.Count())
	}

	n.Unregister(srv)
	if n.Count() != 0 {
		t.Fatalf("expected 0 servers after unregister, got %d", n.Count())
	}

	// unregistering twice is harmless
	n.Unregister(srv)
	if n.Count() != 0 {
		t.Fatalf("expected 0 servers, got %d", n.Count())
	}
}

func TestNotifierBroadcastNoServers(t *testing.T) {
	n := NewRPCNotifier(nil)
	n.Broadcast("upload.progress", map[string]string{"id": "x"})
}

func TestNotifierBroadcastReachesAllServers(t *testing.T) {
	n := NewRPCNotifier(logger.NewNopLogger())

	cli1, srv1, cleanup1 := newPushServer(t)
	defer cleanup1()
	cli2, srv2, cleanup2 := newPushServer(t)
	defer cleanup2()

	n.Register(srv1)
	n.Register(srv2)

	done := make(chan []byte, 2)
	go func() { data, _ := cli1.Recv(); done <- data }()
	go func() { data, _ := cli2.Recv(); done <- data }()

	n.Broadcast(common.NotifyUploadProgress, common.UploadProgressNotification{
		ID: "job-1", UploadedBytes: 512,
	})

	for i := 0; i < 2; i++ {
		data := <-done
		var msg struct {
			Method string                           `json:"method"`
			Params common.UploadProgressNotification `json:"params"`
		}
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("unmarshal push: %v", err)
		}
		if msg.Method != common.NotifyUploadProgress {
			t.Fatalf("expected method %s, got %s", common.NotifyUploadProgress, msg.Method)
		}
		if msg.Params.ID != "job-1" || msg.Params.UploadedBytes != 512 {
			t.Fatalf("unexpected params: %+v", msg.Params)
		}
	}

	if n.Count() != 2 {
		t.Fatalf("expected 2 servers after broadcast, got %d", n.Count())
	}
}

func TestNotifierDropsDisconnectedServers(t *testing.T) {
	n := NewRPCNotifier(logger.NewNopLogger())

	cli1, srv1, cleanup1 := newPushServer(t)
	defer cleanup1()
	cli2, srv2, _ := newPushServer(t)

	n.Register(srv1)
	n.Register(srv2)

	cli2.Close()
	_ = srv2.Wait()

	done := make(chan struct{}, 1)
	go func() { _, _ = cli1.Recv(); done <- struct{}{} }()

	n.Broadcast(common.NotifyUploadFailed, common.UploadFailedNotification{
		ID: "job-1", Host: "sharebox", Error: "connection lost",
	})
	<-done

	if n.Count() != 1 {
		t.Fatalf("expected 1 server after disconnect, got %d", n.Count())
	}
}

func TestEngineHandlersBroadcastEvents(t *testing.T) {
	n := NewRPCNotifier(nil)
	cli, srv, cleanup := newPushServer(t)
	defer cleanup()
	n.Register(srv)

	handlers := n.EngineHandlers()

	recv := func() (string, json.RawMessage) {
		t.Helper()
		data, err := cli.Recv()
		if err != nil {
			t.Fatalf("recv: %v", err)
		}
		var msg struct {
			Method string          `json:"method"`
			Params json.RawMessage `json:"params"`
		}
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		return msg.Method, msg.Params
	}

	go handlers.UploadStartedHandler("job-1", "sharebox", 2048)
	method, params := recv()
	if method != common.NotifyUploadStarted {
		t.Fatalf("expected %s, got %s", common.NotifyUploadStarted, method)
	}
	var started common.UploadStartedNotification
	if err := json.Unmarshal(params, &started); err != nil {
		t.Fatal(err)
	}
	if started.ID != "job-1" || started.Host != "sharebox" || started.TotalBytes != 2048 {
		t.Fatalf("unexpected payload: %+v", started)
	}

	go handlers.UploadCompleteHandler("job-1", "sharebox", "https://sharebox.example/f/1")
	method, params = recv()
	if method != common.NotifyUploadComplete {
		t.Fatalf("expected %s, got %s", common.NotifyUploadComplete, method)
	}
	var complete common.UploadCompleteNotification
	if err := json.Unmarshal(params, &complete); err != nil {
		t.Fatal(err)
	}
	if complete.DownloadURL != "https://sharebox.example/f/1" {
		t.Fatalf("unexpected payload: %+v", complete)
	}

	go handlers.SpinupCompleteHandler("sharebox", errors.New("login failed"))
	method, params = recv()
	if method != common.NotifySpinupComplete {
		t.Fatalf("expected %s, got %s", common.NotifySpinupComplete, method)
	}
	var spinup common.SpinupCompleteNotification
	if err := json.Unmarshal(params, &spinup); err != nil {
		t.Fatal(err)
	}
	if spinup.Error != "login failed" {
		t.Fatalf("unexpected payload: %+v", spinup)
	}

	go handlers.BandwidthHandler(1 << 20)
	method, params = recv()
	if method != common.NotifyBandwidth {
		t.Fatalf("expected %s, got %s", common.NotifyBandwidth, method)
	}
	var bw common.BandwidthNotification
	if err := json.Unmarshal(params, &bw); err != nil {
		t.Fatal(err)
	}
	if bw.BytesPerSecond != 1<<20 {
		t.Fatalf("unexpected payload: %+v", bw)
	}
}
