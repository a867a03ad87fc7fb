package hostlib

import (
	"context"
	"fmt"
	"sort"

	"github.com/hostup/hostup/pkg/logger"
)

// HostWorkerManager supervises one HostWorker per enabled host. A host
// lives in exactly one of two registries at a time: pending while its
// spinup validation runs, running once validated. Only hosts in the
// running registry receive job dispatch, and the persisted enabled
// flag changes only on a definitive outcome: spinup success or an
// explicit disable. A failed enable attempt leaves the flag untouched
// so a transient failure cannot erase a working configuration.
type HostWorkerManager struct {
	opts     *WorkerOpts
	l        logger.Logger
	handlers *Handlers

	pending VMap[string, *HostWorker]
	running VMap[string, *HostWorker]
}

// NewHostWorkerManager wires the manager. The handlers in opts are the
// external observer surface; the manager interposes on the spinup
// callback to drive its registries before fanning the event out.
func NewHostWorkerManager(opts *WorkerOpts) (*HostWorkerManager, error) {
	if opts == nil || opts.Loader == nil || opts.Store == nil || opts.Settings == nil {
		return nil, fmt.Errorf("worker manager: missing collaborators")
	}
	l := opts.Logger
	if l == nil {
		l = logger.NewNopLogger()
	}
	handlers := opts.Handlers
	if handlers == nil {
		handlers = &Handlers{}
	}
	handlers.setDefault(l)
	if opts.Coordinator == nil {
		opts.Coordinator = NewConnectionCoordinator(0, 0)
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = NewHTTPClient("")
	}
	return &HostWorkerManager{
		opts:     opts,
		l:        l.WithCategory("manager"),
		handlers: handlers,
		pending:  NewVMap[string, *HostWorker](),
		running:  NewVMap[string, *HostWorker](),
	}, nil
}

// EnableHost starts a worker for the host unless one is already
// running or mid-spinup. The host is not considered enabled until the
// spinup outcome arrives.
func (m *HostWorkerManager) EnableHost(host string) error {
	if !m.opts.Loader.Has(host) {
		return fmt.Errorf("%w: %s", ErrHostNotFound, host)
	}
	if _, ok := m.running.Get(host); ok {
		return ErrWorkerAlreadyUp
	}
	if _, ok := m.pending.Get(host); ok {
		return ErrWorkerAlreadyUp
	}

	workerOpts := *m.opts
	workerHandlers := *m.handlers
	workerHandlers.SpinupCompleteHandler = m.spinupObserver()
	workerOpts.Handlers = &workerHandlers

	worker, err := NewHostWorker(host, &workerOpts)
	if err != nil {
		return err
	}
	m.pending.Set(host, worker)
	m.l.Info("spinning up worker for %s", host)
	worker.Start()
	return nil
}

// spinupObserver moves the worker between registries on the outcome,
// persists the enabled flag only on success, and fans the event out.
func (m *HostWorkerManager) spinupObserver() SpinupCompleteHandlerFunc {
	return func(host string, err error) {
		worker, ok := m.pending.Pop(host)
		if !ok {
			// stray event, still fan out
			m.handlers.SpinupCompleteHandler(host, err)
			return
		}
		if err != nil {
			// runs on the worker's own goroutine, which exits right
			// after this callback; no join needed
			worker.Stop()
			m.l.Warning("spinup failed for %s: %s", host, err.Error())
			m.handlers.SpinupCompleteHandler(host, err)
			return
		}
		m.running.Set(host, worker)
		if serr := m.opts.Settings.SetBool(host, SettingEnabled, true); serr != nil {
			m.l.Error("persisting enabled flag for %s: %s", host, serr.Error())
		}
		m.l.Info("worker for %s is running", host)
		m.handlers.SpinupCompleteHandler(host, nil)
		m.handlers.EnabledHostsChangedHandler(m.RunningHosts())
	}
}

// DisableHost stops the host's worker, waits for it to exit, persists
// enabled=false and notifies observers.
func (m *HostWorkerManager) DisableHost(host string) error {
	worker, ok := m.running.Pop(host)
	if !ok {
		return ErrWorkerNotRunning
	}
	worker.Stop()
	worker.Join()
	if err := m.opts.Settings.SetBool(host, SettingEnabled, false); err != nil {
		m.l.Error("persisting enabled flag for %s: %s", host, err.Error())
	}
	m.l.Info("worker for %s stopped", host)
	m.handlers.EnabledHostsChangedHandler(m.RunningHosts())
	return nil
}

// StartEnabled enables every host whose persisted flag says so. Used
// at daemon startup.
func (m *HostWorkerManager) StartEnabled() {
	for _, host := range m.opts.Loader.Names() {
		if m.opts.Settings.Bool(host, SettingEnabled, false) {
			if err := m.EnableHost(host); err != nil && err != ErrWorkerAlreadyUp {
				m.l.Warning("enabling %s: %s", host, err.Error())
			}
		}
	}
}

// ShutdownAll stops and joins every worker, pending ones included.
// The persisted enabled flags are left alone so the next start
// restores the same host set.
func (m *HostWorkerManager) ShutdownAll() {
	var workers []*HostWorker
	m.pending.Range(func(_ string, w *HostWorker) bool {
		workers = append(workers, w)
		return true
	})
	m.running.Range(func(_ string, w *HostWorker) bool {
		workers = append(workers, w)
		return true
	})
	for _, w := range workers {
		w.Stop()
	}
	for _, w := range workers {
		w.Join()
		m.pending.Delete(w.Host())
		m.running.Delete(w.Host())
	}
	m.l.Info("all workers stopped")
}

// RunningHosts lists hosts with a validated running worker, sorted.
func (m *HostWorkerManager) RunningHosts() []string {
	hosts := m.running.Keys()
	sort.Strings(hosts)
	return hosts
}

// Worker returns the running worker for a host.
func (m *HostWorkerManager) Worker(host string) (*HostWorker, error) {
	worker, ok := m.running.Get(host)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrWorkerNotRunning, host)
	}
	return worker, nil
}

// RequestTest queues a connection test on the host's running worker.
func (m *HostWorkerManager) RequestTest(host string) error {
	worker, err := m.Worker(host)
	if err != nil {
		return err
	}
	return worker.RequestTest()
}

// CheckStorage proxies to the host's running worker.
func (m *HostWorkerManager) CheckStorage(ctx context.Context, host string) (*UserInfo, error) {
	worker, err := m.Worker(host)
	if err != nil {
		return nil, err
	}
	return worker.CheckStorage(ctx)
}

// CancelJob flags a job on the host's running worker.
func (m *HostWorkerManager) CancelJob(host, jobID string) error {
	worker, err := m.Worker(host)
	if err != nil {
		return err
	}
	worker.CancelJob(jobID)
	return nil
}

// PauseHost and ResumeHost toggle a running worker without touching
// the persisted enabled flag.
func (m *HostWorkerManager) PauseHost(host string) error {
	worker, err := m.Worker(host)
	if err != nil {
		return err
	}
	worker.Pause()
	return nil
}

func (m *HostWorkerManager) ResumeHost(host string) error {
	worker, err := m.Worker(host)
	if err != nil {
		return err
	}
	worker.Resume()
	return nil
}
