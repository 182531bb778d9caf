package lifecycle

import (
	"context"
	"testing"
	"time"

	"github.com/b0czek/eden/internal/coreerr"
	"github.com/b0czek/eden/internal/corebus"
	"github.com/b0czek/eden/internal/manifest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeManifests struct {
	byID map[string]*manifest.Manifest
}

func (f *fakeManifests) Lookup(appID string) (*manifest.Manifest, bool) {
	m, ok := f.byID[appID]
	return m, ok
}

type fakeLaunchChecker struct {
	allowed map[string]bool
}

func (f *fakeLaunchChecker) CanLaunchApp(appID string) bool { return f.allowed[appID] }

type fakeAppbus struct{ terminated []string }

func (f *fakeAppbus) TerminateApp(appID string) { f.terminated = append(f.terminated, appID) }

type fakeSubs struct{ revoked []string }

func (f *fakeSubs) RevokeApp(appID string) { f.revoked = append(f.revoked, appID) }

type fakeNotifier struct{ events []string }

func (f *fakeNotifier) Notify(subject string, payload any) { f.events = append(f.events, subject) }

type fakeViews struct {
	created []string
	removed []string
}

func (f *fakeViews) CreateView(appID string, bounds *manifest.Bounds) (string, error) {
	viewID := "view-" + appID
	f.created = append(f.created, viewID)
	return viewID, nil
}
func (f *fakeViews) LoadFrontend(viewID string, entry manifest.FrontendEntry) error { return nil }
func (f *fakeViews) TransferPort(viewID string, port *corebus.Port) error           { return nil }
func (f *fakeViews) RemoveView(viewID string) error {
	f.removed = append(f.removed, viewID)
	return nil
}

type fakeWorkers struct {
	hostPorts  map[string]*corebus.Port
	peerPorts  map[string]*corebus.Port
	exitChans  map[string]chan int
	terminated []string
}

func newFakeWorkers() *fakeWorkers {
	return &fakeWorkers{
		hostPorts: map[string]*corebus.Port{},
		peerPorts: map[string]*corebus.Port{},
		exitChans: map[string]chan int{},
	}
}

func (f *fakeWorkers) SpawnWorker(appID string, entry manifest.WorkerEntry, m *manifest.Manifest) (*corebus.Port, <-chan int, error) {
	a, b := corebus.NewChannelPortPair()
	hostPort := corebus.NewPort(a)
	peerPort := corebus.NewPort(b)
	f.hostPorts[appID] = hostPort
	f.peerPorts[appID] = peerPort

	exited := make(chan int, 1)
	f.exitChans[appID] = exited
	return hostPort, exited, nil
}

func (f *fakeWorkers) TerminateWorker(appID string) error {
	f.terminated = append(f.terminated, appID)
	if p, ok := f.peerPorts[appID]; ok {
		p.Close()
	}
	return nil
}

type fakeCommands struct {
	lastCommand string
	lastArgs    any
	lastCaller  string
	lastView    string
	result      any
}

func (f *fakeCommands) Execute(fullCommand string, args any, callerAppID, callerViewID string) (any, error) {
	f.lastCommand, f.lastArgs, f.lastCaller, f.lastView = fullCommand, args, callerAppID, callerViewID
	return f.result, nil
}

func newTestManager(t *testing.T, loginAppID string) (*Manager, *fakeManifests, *fakeLaunchChecker, *fakeAppbus, *fakeSubs, *fakeViews, *fakeWorkers, *fakeNotifier) {
	t.Helper()
	m, manifests, launch, ab, subs, views, workers, notifier, _ := newTestManagerWithCommands(t, loginAppID)
	return m, manifests, launch, ab, subs, views, workers, notifier
}

func newTestManagerWithCommands(t *testing.T, loginAppID string) (*Manager, *fakeManifests, *fakeLaunchChecker, *fakeAppbus, *fakeSubs, *fakeViews, *fakeWorkers, *fakeNotifier, *fakeCommands) {
	t.Helper()
	manifests := &fakeManifests{byID: map[string]*manifest.Manifest{}}
	launch := &fakeLaunchChecker{allowed: map[string]bool{}}
	ab := &fakeAppbus{}
	subs := &fakeSubs{}
	views := &fakeViews{}
	workers := newFakeWorkers()
	notifier := &fakeNotifier{}
	commands := &fakeCommands{}

	m := New(launch, manifests, ab, subs, views, workers, notifier, commands, loginAppID)
	m.backendReadyTimeout = time.Second
	return m, manifests, launch, ab, subs, views, workers, notifier, commands
}

func withWorkerAndFrontend(id string) *manifest.Manifest {
	return &manifest.Manifest{
		ID:       id,
		Frontend: &manifest.FrontendEntry{Path: "index.html"},
		Worker:   &manifest.WorkerEntry{Path: "worker.js"},
	}
}

func TestLaunchDeniedWithoutAuthorization(t *testing.T) {
	m, manifests, _, _, _, _, _, _ := newTestManager(t, "")
	manifests.byID["A"] = withWorkerAndFrontend("A")

	_, err := m.Launch("A", nil)
	require.Error(t, err)
	var ce *coreerr.CoreError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, coreerr.KindNotAuthorized, ce.Kind)
}

func TestLaunchWaitsForBackendReadyThenTransfersPort(t *testing.T) {
	m, manifests, launch, _, _, views, workers, notifier := newTestManager(t, "")
	manifests.byID["A"] = withWorkerAndFrontend("A")
	launch.allowed["A"] = true

	done := make(chan error, 1)
	go func() {
		_, err := m.Launch("A", nil)
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, workers.peerPorts["A"].Send("backend-ready", nil))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("launch never completed")
	}

	assert.True(t, m.IsRunning("A"))
	assert.Contains(t, views.created, "view-A")
	assert.Contains(t, notifier.events, "process/launched")
}

func TestLaunchBindsInvokeToCommandRouter(t *testing.T) {
	m, manifests, launch, _, _, _, workers, _, commands := newTestManagerWithCommands(t, "")
	manifests.byID["A"] = withWorkerAndFrontend("A")
	launch.allowed["A"] = true
	commands.result = "ok"

	done := make(chan error, 1)
	go func() {
		_, err := m.Launch("A", nil)
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, workers.peerPorts["A"].Send("backend-ready", nil))
	require.NoError(t, <-done)

	peer := workers.peerPorts["A"]
	result, err := peer.Request(context.Background(), invokeMethod, invokeEnvelope{Command: "fs/read", Args: map[string]any{"path": "/tmp"}}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, "fs/read", commands.lastCommand)
	assert.Equal(t, "A", commands.lastCaller)
	assert.Equal(t, "view-A", commands.lastView, "view id must be resolved once the launch has created the view")
}

func TestLaunchAlreadyRunningFails(t *testing.T) {
	m, manifests, launch, _, _, _, workers, _ := newTestManager(t, "")
	manifests.byID["A"] = &manifest.Manifest{ID: "A", Frontend: &manifest.FrontendEntry{}}
	launch.allowed["A"] = true

	_, err := m.Launch("A", nil)
	require.NoError(t, err)
	_ = workers

	_, err = m.Launch("A", nil)
	require.Error(t, err)
	var ce *coreerr.CoreError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, coreerr.KindAlreadyRunning, ce.Kind)
}

func TestStopRevokesServicesSubscriptionsAndView(t *testing.T) {
	m, manifests, launch, ab, subs, views, workers, notifier := newTestManager(t, "")
	manifests.byID["A"] = &manifest.Manifest{ID: "A", Frontend: &manifest.FrontendEntry{}}
	launch.allowed["A"] = true

	_, err := m.Launch("A", nil)
	require.NoError(t, err)

	require.NoError(t, m.Stop("A"))
	assert.False(t, m.IsRunning("A"))
	assert.Contains(t, ab.terminated, "A")
	assert.Contains(t, subs.revoked, "A")
	assert.Contains(t, views.removed, "view-A")
	assert.Contains(t, notifier.events, "process/stopped")
	_ = workers
}

// Covers: worker exit fires
// process/exited, and a Stop afterward reports the app as not running.
func TestCrashEmitsProcessExitedAndLaterStopReportsNotRunning(t *testing.T) {
	m, manifests, launch, _, _, _, workers, notifier := newTestManager(t, "")
	manifests.byID["W"] = withWorkerAndFrontend("W")
	launch.allowed["W"] = true

	done := make(chan error, 1)
	go func() {
		_, err := m.Launch("W", nil)
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, workers.peerPorts["W"].Send("backend-ready", nil))
	require.NoError(t, <-done)

	workers.exitChans["W"] <- 137
	require.Eventually(t, func() bool { return !m.IsRunning("W") }, time.Second, 5*time.Millisecond)
	assert.Contains(t, notifier.events, "process/exited")

	err := m.Stop("W")
	require.Error(t, err, "stop after crash cleanup observes not-running")
}

// Covers: session change drains apps sequentially,
// login app exempt, and launches during the drain are rejected upstream
// by the session layer (not exercised here, which only covers the drain).
func TestShutdownStopsAllRunningAppsExceptLoginApp(t *testing.T) {
	m, manifests, launch, _, _, _, _, notifier := newTestManager(t, "login")
	manifests.byID["X"] = &manifest.Manifest{ID: "X", Frontend: &manifest.FrontendEntry{}}
	manifests.byID["Y"] = &manifest.Manifest{ID: "Y", Frontend: &manifest.FrontendEntry{}}
	manifests.byID["login"] = &manifest.Manifest{ID: "login", Frontend: &manifest.FrontendEntry{}}
	launch.allowed["X"] = true
	launch.allowed["Y"] = true

	_, err := m.Launch("X", nil)
	require.NoError(t, err)
	_, err = m.Launch("Y", nil)
	require.NoError(t, err)
	_, err = m.Launch("login", nil)
	require.NoError(t, err)

	m.Shutdown()

	assert.ElementsMatch(t, []string{"login"}, m.GetRunningApps())
	stoppedCount := 0
	for _, e := range notifier.events {
		if e == "process/stopped" {
			stoppedCount++
		}
	}
	assert.Equal(t, 2, stoppedCount)
}
