// Package lifecycle implements Process Lifecycle: launch, stop, crash
// handling, shutdown, and the session-change drain, with launch
// serialized per app id via a singleflight group so "already running"
// stays reliably detectable under concurrent launch requests. The
// launch/stop/crash state machine and the
// stop-in-arbitrary-order-but-never-concurrent drain are grounded on
// headscale's registration/deregistration pairing in
// hscontrol/mapper/batcher_lockfree.go's AddNode/RemoveNode, generalized
// from node connections to app instances.
package lifecycle

import (
	"sync"
	"time"

	"github.com/b0czek/eden/internal/coreerr"
	"github.com/b0czek/eden/internal/corebus"
	"github.com/b0czek/eden/internal/manifest"
	"github.com/go-viper/mapstructure/v2"
	"github.com/samber/lo"
	"golang.org/x/sync/singleflight"
)

// invokeMethod is the one wire method every app instance's port answers
// requests on; the Command Router resolves the actual namespaced command
// from the envelope rather than one Port.Handle registration per command.
const invokeMethod = "command/invoke"

// CommandExecutor is satisfied by internal/router.Router: the dispatch
// target for every app instance's "command/invoke" requests.
type CommandExecutor interface {
	Execute(fullCommand string, args any, callerAppID, callerViewID string) (any, error)
}

// invokeEnvelope is the payload shape a view or worker sends over
// invokeMethod to reach the Command Router.
type invokeEnvelope struct {
	Command string
	Args    any
}

// LaunchChecker is satisfied by internal/session.Manager.
type LaunchChecker interface {
	CanLaunchApp(appID string) bool
}

// ManifestLookup resolves an installed app's manifest.
type ManifestLookup interface {
	Lookup(appID string) (*manifest.Manifest, bool)
}

// ServiceRevoker is satisfied by internal/appbus.Bus.
type ServiceRevoker interface {
	TerminateApp(appID string)
}

// SubscriptionRevoker is satisfied by internal/subscription.Bus.
type SubscriptionRevoker interface {
	RevokeApp(appID string)
}

// Notifier is satisfied by internal/subscription.Bus for emitting
// process/* lifecycle events.
type Notifier interface {
	Notify(subject string, payload any)
}

// ViewHost creates and tears down the view half of an app instance.
type ViewHost interface {
	CreateView(appID string, bounds *manifest.Bounds) (viewID string, err error)
	LoadFrontend(viewID string, entry manifest.FrontendEntry) error
	TransferPort(viewID string, port *corebus.Port) error
	RemoveView(viewID string) error
}

// WorkerHost spawns and terminates the worker half of an app instance.
type WorkerHost interface {
	SpawnWorker(appID string, entry manifest.WorkerEntry, m *manifest.Manifest) (port *corebus.Port, exited <-chan int, err error)
	TerminateWorker(appID string) error
}

// AppInstance is the running record for a launched app.
type AppInstance struct {
	AppID      string
	ViewID     string
	HasWorker  bool
	WorkerPort *corebus.Port
	LaunchedAt time.Time
}

// Manager coordinates process lifecycle for every installed app.
type Manager struct {
	session    LaunchChecker
	manifests  ManifestLookup
	appbus     ServiceRevoker
	subs       SubscriptionRevoker
	views      ViewHost
	workers    WorkerHost
	notifier   Notifier
	commands   CommandExecutor
	loginAppID string

	backendReadyTimeout time.Duration

	mu      sync.Mutex
	running map[string]*AppInstance

	launchGroup singleflight.Group
}

// New constructs a Process Lifecycle manager. loginAppID identifies the
// login shell app, exempt from session-change drains and from the
// can-launch check. commands is the Command Router every launched app's
// port is bound to for its invokeMethod requests.
func New(session LaunchChecker, manifests ManifestLookup, appbus ServiceRevoker, subs SubscriptionRevoker, views ViewHost, workers WorkerHost, notifier Notifier, commands CommandExecutor, loginAppID string) *Manager {
	return &Manager{
		session:             session,
		manifests:           manifests,
		appbus:              appbus,
		subs:                subs,
		views:               views,
		workers:             workers,
		notifier:            notifier,
		commands:            commands,
		loginAppID:          loginAppID,
		backendReadyTimeout: 30 * time.Second,
		running:             make(map[string]*AppInstance),
	}
}

// IsRunning satisfies internal/appbus.RunningChecker.
func (m *Manager) IsRunning(appID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.running[appID]
	return ok
}

// GetRunningApps returns the app ids currently running.
func (m *Manager) GetRunningApps() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.running))
	for id := range m.running {
		out = append(out, id)
	}
	return out
}

// Launch starts appID, serialized per app id so concurrent callers never
// race past the "already running" check.
func (m *Manager) Launch(appID string, bounds *manifest.Bounds) (*AppInstance, error) {
	v, err, _ := m.launchGroup.Do(appID, func() (any, error) {
		return m.doLaunch(appID, bounds)
	})
	if err != nil {
		return nil, err
	}
	return v.(*AppInstance), nil
}

func (m *Manager) doLaunch(appID string, bounds *manifest.Bounds) (*AppInstance, error) {
	if appID != m.loginAppID && !m.session.CanLaunchApp(appID) {
		return nil, coreerr.NotAuthorized(appID)
	}

	mf, ok := m.manifests.Lookup(appID)
	if !ok {
		return nil, coreerr.New(coreerr.KindManifestInvalid, "manifest for %s not found", appID)
	}
	if !mf.HasFrontend() && !mf.HasWorker() {
		return nil, coreerr.New(coreerr.KindManifestInvalid, "manifest for %s declares neither frontend nor worker", appID)
	}

	m.mu.Lock()
	if _, already := m.running[appID]; already {
		m.mu.Unlock()
		return nil, coreerr.AlreadyRunning(appID)
	}
	m.mu.Unlock()

	inst := &AppInstance{AppID: appID, LaunchedAt: time.Now()}

	if mf.HasWorker() {
		port, exited, err := m.workers.SpawnWorker(appID, *mf.Worker, mf)
		if err != nil {
			return nil, err
		}
		inst.HasWorker = true
		inst.WorkerPort = port
		m.bindInvoke(port, appID)
		go m.watchForCrash(appID, exited)

		if err := m.waitBackendReady(port); err != nil {
			m.workers.TerminateWorker(appID)
			return nil, err
		}
	}

	if mf.HasFrontend() {
		viewID, err := m.views.CreateView(appID, bounds)
		if err != nil {
			if inst.HasWorker {
				m.workers.TerminateWorker(appID)
			}
			return nil, err
		}
		if err := m.views.LoadFrontend(viewID, *mf.Frontend); err != nil {
			m.views.RemoveView(viewID)
			if inst.HasWorker {
				m.workers.TerminateWorker(appID)
			}
			return nil, err
		}
		inst.ViewID = viewID

		// Port transfer is the sole moment the worker's port crosses to the
		// view, once the view has confirmed it loaded.
		if inst.HasWorker {
			if err := m.views.TransferPort(viewID, inst.WorkerPort); err != nil {
				m.views.RemoveView(viewID)
				m.workers.TerminateWorker(appID)
				return nil, err
			}
		}
	}

	m.mu.Lock()
	m.running[appID] = inst
	m.mu.Unlock()

	m.notify("process/launched", map[string]any{"appId": appID})
	return inst, nil
}

// bindInvoke wires appID's port so its invokeMethod requests reach the
// Command Router with the caller's identity already attached. The same
// *corebus.Port later crosses to its view on TransferPort, so this
// binding survives the transfer without being rebound. The view id is
// looked up fresh from m.running on every call, since it isn't known
// until after the view is created later in the same launch.
func (m *Manager) bindInvoke(port *corebus.Port, appID string) {
	if m.commands == nil {
		return
	}
	port.Handle(invokeMethod, func(payload any) (any, error) {
		var env invokeEnvelope
		if err := mapstructure.Decode(payload, &env); err != nil {
			return nil, coreerr.New(coreerr.KindUnknownCommand, "malformed invoke envelope: %v", err)
		}
		return m.commands.Execute(env.Command, env.Args, appID, m.viewIDFor(appID))
	})
}

func (m *Manager) viewIDFor(appID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if inst, ok := m.running[appID]; ok {
		return inst.ViewID
	}
	return ""
}

func (m *Manager) waitBackendReady(port *corebus.Port) error {
	ready := make(chan struct{}, 1)
	port.Once("backend-ready", func(payload any) {
		select {
		case ready <- struct{}{}:
		default:
		}
	})

	select {
	case <-ready:
		return nil
	case <-time.After(m.backendReadyTimeout):
		return coreerr.New(coreerr.KindRequestTimeout, "worker did not post backend-ready in time")
	}
}

func (m *Manager) watchForCrash(appID string, exited <-chan int) {
	code, ok := <-exited
	if !ok {
		return
	}
	m.handleCrash(appID, code)
}

func (m *Manager) handleCrash(appID string, code int) {
	m.mu.Lock()
	inst, ok := m.running[appID]
	if ok {
		delete(m.running, appID)
	}
	m.mu.Unlock()

	if !ok {
		return // stop already ran; crash handler is a no-op
	}

	m.teardown(appID, inst, true)
	m.notify("process/exited", map[string]any{"appId": appID, "code": code})
}

// Stop terminates appID's instance, view-before-worker.
func (m *Manager) Stop(appID string) error {
	m.mu.Lock()
	inst, ok := m.running[appID]
	if ok {
		delete(m.running, appID)
	}
	m.mu.Unlock()

	if !ok {
		return coreerr.NotRunning(appID)
	}

	m.teardown(appID, inst, false)
	m.notify("process/stopped", map[string]any{"appId": appID})
	return nil
}

// teardown releases AppBus services, event subscriptions, the view, and
// the worker, in that order. workerAlreadyExited skips TerminateWorker on
// the crash path, where the worker process is already gone.
func (m *Manager) teardown(appID string, inst *AppInstance, workerAlreadyExited bool) {
	m.appbus.TerminateApp(appID)
	m.subs.RevokeApp(appID)

	if inst.ViewID != "" {
		m.views.RemoveView(inst.ViewID)
	}
	if inst.HasWorker && !workerAlreadyExited {
		m.workers.TerminateWorker(appID)
	}
}

// Shutdown stops every running app sequentially, login-app exempt. The
// next launch must not begin until every stop from this drain has
// completed.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	all := lo.Keys(m.running)
	m.mu.Unlock()

	ids := lo.Filter(all, func(id string, _ int) bool { return id != m.loginAppID })

	for _, id := range ids {
		m.Stop(id)
	}
}

func (m *Manager) notify(subject string, payload any) {
	if m.notifier != nil {
		m.notifier.Notify(subject, payload)
	}
}
