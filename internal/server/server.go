// Package server exposes the daemon's operations over JSON-RPC 2.0.
// CLI clients connect through a unix socket (TCP fallback); GUI
// observers attach over a WebSocket bridge carrying the same methods
// plus push notifications.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/creachadair/jrpc2"
	"github.com/creachadair/jrpc2/channel"
	"github.com/creachadair/jrpc2/handler"
	"github.com/creachadair/jrpc2/jhttp"

	"github.com/hostup/hostup/common"
	"github.com/hostup/hostup/internal/scheduler"
	"github.com/hostup/hostup/internal/store"
	"github.com/hostup/hostup/pkg/credman"
	"github.com/hostup/hostup/pkg/hostlib"
	"github.com/hostup/hostup/pkg/logger"
)

// Config holds the server configuration.
type Config struct {
	// Port is the TCP fallback port. The HTTP bridge, when enabled,
	// listens on Port+1.
	Port int
	// Secret enables the HTTP RPC bridge when non-empty.
	Secret     string
	Version    string
	Commit     string
	BuildType  string
	SocketPath string
}

// Deps are the daemon collaborators the RPC methods operate on.
type Deps struct {
	Store       *store.Store
	Manager     *hostlib.HostWorkerManager
	Loader      *hostlib.DescriptorLoader
	Credentials *credman.Manager
	Coordinator *hostlib.ConnectionCoordinator
	Scheduler   *scheduler.Scheduler
	Notifier    *RPCNotifier
	Logger      logger.Logger
}

// Server accepts RPC connections and dispatches daemon operations.
type Server struct {
	cfg  *Config
	deps *Deps
	l    logger.Logger

	methods handler.Map

	mu       sync.Mutex
	listener net.Listener
	httpSrv  *http.Server
	wg       sync.WaitGroup
}

// New creates a Server. Store, Manager and Loader are required.
func New(cfg *Config, deps *Deps) (*Server, error) {
	if deps == nil || deps.Store == nil || deps.Manager == nil || deps.Loader == nil {
		return nil, fmt.Errorf("server: missing collaborators")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Port <= 0 {
		cfg.Port = common.DefaultTCPPort
	}
	if cfg.SocketPath == "" {
		cfg.SocketPath = SocketPath()
	}
	l := deps.Logger
	if l == nil {
		l = logger.NewNopLogger()
	}
	if deps.Notifier == nil {
		deps.Notifier = NewRPCNotifier(l)
	}
	s := &Server{
		cfg:  cfg,
		deps: deps,
		l:    l.WithCategory("server"),
	}
	s.methods = s.methodMap()
	return s, nil
}

// Notifier returns the push-notification broadcaster.
func (s *Server) Notifier() *RPCNotifier {
	return s.deps.Notifier
}

// createListener opens the unix socket, falling back to TCP on the
// configured port when the socket cannot be created.
func (s *Server) createListener() (net.Listener, error) {
	_ = os.Remove(s.cfg.SocketPath)
	l, err := net.ListenUnix("unix", &net.UnixAddr{Name: s.cfg.SocketPath, Net: "unix"})
	if err != nil {
		s.l.Warning("unix socket unavailable: %s", err.Error())
		s.l.Warning("falling back to tcp")
		tcpListener, tcpErr := net.Listen("tcp", fmt.Sprintf("%s:%d", common.TCPHost, s.cfg.Port))
		if tcpErr != nil {
			return nil, fmt.Errorf("listen: %w", tcpErr)
		}
		return tcpListener, nil
	}
	_ = os.Chmod(s.cfg.SocketPath, 0766)
	return l, nil
}

// Start begins accepting connections and blocks until ctx is
// cancelled. Each connection gets its own jrpc2 server registered with
// the notifier, so every connected client receives push events.
func (s *Server) Start(ctx context.Context) error {
	l, err := s.createListener()
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.listener = l
	s.mu.Unlock()
	s.l.Info("listening on %s", l.Addr().String())

	if s.cfg.Secret != "" {
		s.startHTTP()
	}

	go func() {
		<-ctx.Done()
		s.Shutdown()
	}()

	for {
		conn, err := l.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				s.wg.Wait()
				return nil
			default:
			}
			s.l.Warning("accept: %s", err.Error())
			continue
		}
		s.wg.Add(1)
		go s.serveConn(conn)
	}
}

// serveConn runs one jrpc2 server over a socket connection until the
// client disconnects.
func (s *Server) serveConn(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	srv := jrpc2.NewServer(s.methods, &jrpc2.ServerOptions{AllowPush: true})
	srv.Start(channel.Line(conn, conn))
	s.deps.Notifier.Register(srv)
	srv.Wait()
	s.deps.Notifier.Unregister(srv)
}

// startHTTP serves the bearer-authenticated HTTP bridge and the
// WebSocket endpoint on the port above the socket fallback port.
func (s *Server) startHTTP() {
	bridge := jhttp.NewBridge(s.methods, nil)

	mux := http.NewServeMux()
	mux.Handle("/rpc", requireToken(s.cfg.Secret, bridge))
	mux.Handle("/ws", requireToken(s.cfg.Secret, http.HandlerFunc(s.handleWS)))

	addr := fmt.Sprintf("%s:%d", common.TCPHost, s.cfg.Port+1)
	s.mu.Lock()
	s.httpSrv = &http.Server{Addr: addr, Handler: mux}
	srv := s.httpSrv
	s.mu.Unlock()

	s.l.Info("http bridge on %s", addr)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.l.Error("http bridge: %s", err.Error())
		}
		bridge.Close()
	}()
}

// Shutdown closes the listeners and removes the socket file. In-flight
// connections are left to drain; Start returns once the accept loop
// observes the closed listener.
func (s *Server) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil {
		if err := s.listener.Close(); err != nil {
			s.l.Warning("closing listener: %s", err.Error())
		}
		s.listener = nil
	}
	if s.httpSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.l.Warning("closing http bridge: %s", err.Error())
		}
		cancel()
		s.httpSrv = nil
	}
	if err := os.Remove(s.cfg.SocketPath); err != nil && !os.IsNotExist(err) {
		s.l.Warning("removing socket file: %s", err.Error())
	}
}
