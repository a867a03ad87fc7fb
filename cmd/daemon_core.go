package cmd

import (
	"context"
	"path/filepath"
	"time"

	"github.com/hostup/hostup/internal/archive"
	"github.com/hostup/hostup/internal/config"
	"github.com/hostup/hostup/internal/scheduler"
	"github.com/hostup/hostup/internal/server"
	"github.com/hostup/hostup/internal/store"
	"github.com/hostup/hostup/pkg/credman"
	"github.com/hostup/hostup/pkg/hostlib"
	"github.com/hostup/hostup/pkg/logger"
	"github.com/spf13/afero"
)

// DaemonComponents holds all initialized daemon components for
// unified startup and cleanup.
type DaemonComponents struct {
	Config      *config.Config
	Store       *store.Store
	Credentials *credman.Manager
	Loader      *hostlib.DescriptorLoader
	Packager    *archive.Packager
	Coordinator *hostlib.ConnectionCoordinator
	Manager     *hostlib.HostWorkerManager
	Scheduler   *scheduler.Scheduler
	Server      *server.Server
	logger      logger.Logger
}

// Close releases daemon resources in reverse order of initialization.
func (c *DaemonComponents) Close() {
	if c.logger != nil {
		c.logger.Info("shutting down daemon")
	}
	if c.Server != nil {
		c.Server.Shutdown()
	}
	if c.Manager != nil {
		c.Manager.ShutdownAll()
	}
	if c.Store != nil {
		_ = c.Store.Close()
	}
	if c.logger != nil {
		c.logger.Info("daemon stopped")
		_ = c.logger.Close()
	}
}

// initDaemonComponents wires the daemon: config, store, credentials,
// descriptor loader, packager, worker manager, scheduler and RPC
// server. On error, partially initialized components are cleaned up
// before returning.
var initDaemonComponents = func(ctx context.Context, log logger.Logger) (*DaemonComponents, error) {
	configDir, err := config.Dir()
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(configDir)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(filepath.Join(configDir, "state.db"))
	if err != nil {
		return nil, err
	}

	var creds *credman.Manager
	if cfg.Passphrase != "" {
		creds, err = credman.OpenWithPassphrase(configDir, cfg.Passphrase)
	} else {
		creds, err = credman.Open(configDir)
	}
	if err != nil {
		log.Error("credential store initialization failed: %v", err)
		_ = st.Close()
		return nil, err
	}

	loader := hostlib.NewDescriptorLoader(
		afero.NewOsFs(),
		config.HostsDir(configDir),
		config.CustomHostsDir(configDir),
		log,
	)
	if err := loader.Load(); err != nil {
		log.Error("descriptor load failed: %v", err)
		_ = st.Close()
		return nil, err
	}

	packager := archive.NewPackager(cfg.TempDir, log)
	coordinator := hostlib.NewConnectionCoordinator(cfg.GlobalLimit, cfg.PerHostLimit)
	tokens, err := hostlib.NewTokenCacheWithSink(creds)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	notifier := server.NewRPCNotifier(log)
	manager, err := hostlib.NewHostWorkerManager(&hostlib.WorkerOpts{
		Loader:      loader,
		Store:       st,
		Archiver:    packager,
		Settings:    st,
		Credentials: creds,
		Stats:       st,
		Coordinator: coordinator,
		Tokens:      tokens,
		HTTPClient:  hostlib.NewHTTPClient(cfg.Proxy),
		Logger:      log,
		Handlers:    notifier.EngineHandlers(),
	})
	if err != nil {
		log.Error("worker manager initialization failed: %v", err)
		_ = st.Close()
		return nil, err
	}

	// a fired schedule releases the job into the pending view; for
	// recurring jobs this also resets a completed run back to pending
	sched := scheduler.New(ctx, func(jobID string) {
		if err := st.Reschedule(jobID, time.Now()); err != nil {
			log.Warning("rescheduling %s: %v", jobID, err)
		}
	})
	scheduled, err := st.ListScheduled()
	if err != nil {
		log.Warning("loading schedules: %v", err)
	}
	for _, event := range scheduler.LoadSchedules(scheduled, time.Now()) {
		sched.Add(event)
	}

	srv, err := server.New(&server.Config{
		Port:       cfg.Port,
		Secret:     cfg.Secret,
		Version:    currentBuildArgs.Version,
		Commit:     currentBuildArgs.Commit,
		BuildType:  currentBuildArgs.BuildType,
		SocketPath: cfg.SocketPath,
	}, &server.Deps{
		Store:       st,
		Manager:     manager,
		Loader:      loader,
		Credentials: creds,
		Coordinator: coordinator,
		Scheduler:   sched,
		Notifier:    notifier,
		Logger:      log,
	})
	if err != nil {
		log.Error("server initialization failed: %v", err)
		_ = st.Close()
		return nil, err
	}

	return &DaemonComponents{
		Config:      cfg,
		Store:       st,
		Credentials: creds,
		Loader:      loader,
		Packager:    packager,
		Coordinator: coordinator,
		Manager:     manager,
		Scheduler:   sched,
		Server:      srv,
		logger:      log,
	}, nil
}
