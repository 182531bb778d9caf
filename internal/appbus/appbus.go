// Package appbus implements the AppBus: a host-side
// service registry plus a connect handshake that hands each end of a
// fresh corebus.Port pair to the calling and serving apps. Connection
// tracking (connectionId -> both endpoints, owning app ids) and the
// termination-triggers-onClose behavior are grounded on
// hscontrol/mapper/batcher_lockfree.go's LockFreeBatcher.AddNode/RemoveNode
// bookkeeping and its multiChannelNodeConn per-peer entry; connection id
// minting uses a real id generator rather than a
// counter.
package appbus

import (
	"sync"

	"github.com/b0czek/eden/internal/coreerr"
	"github.com/b0czek/eden/internal/corebus"
	"github.com/b0czek/eden/internal/metrics"
	"github.com/gofrs/uuid/v5"
)

// ServiceOptions configures a registry entry.
type ServiceOptions struct {
	Description    string
	AllowedClients []string // nil/empty means any app may connect
	IsBackend      bool
}

// OnConnect is invoked on the exposing app's side with the fresh service
// endpoint and the id of the app that connected.
type OnConnect func(port *corebus.Port, sourceAppID string)

type serviceEntry struct {
	ownerAppID string
	onConnect  OnConnect
	options    ServiceOptions
}

type connRecord struct {
	id           string
	servicePort  *corebus.Port
	clientPort   *corebus.Port
	serviceAppID string
	clientAppID  string
}

// RunningChecker is satisfied by internal/lifecycle.Manager: the AppBus
// must verify the target app is running before brokering a connection.
type RunningChecker interface {
	IsRunning(appID string) bool
}

// Bus is the AppBus: service registry plus active connection tracking.
type Bus struct {
	running RunningChecker

	mu       sync.RWMutex
	services map[string]serviceEntry // serviceName -> entry

	connMu sync.RWMutex
	conns  map[string]*connRecord // connectionId -> record
}

// New constructs an AppBus bound to a running-app checker.
func New(running RunningChecker) *Bus {
	return &Bus{
		running:  running,
		services: make(map[string]serviceEntry),
		conns:    make(map[string]*connRecord),
	}
}

// ExposeService registers a service entry, replacing any prior entry
// under the same name.
func (b *Bus) ExposeService(name, ownerAppID string, onConnect OnConnect, options ServiceOptions) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.services[name] = serviceEntry{ownerAppID: ownerAppID, onConnect: onConnect, options: options}
}

// UnexposeService removes a service entry.
func (b *Bus) UnexposeService(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.services, name)
}

// ServiceInfo is the discovery-facing view of a registered service.
type ServiceInfo struct {
	Name        string
	OwnerAppID  string
	Description string
	IsBackend   bool
}

// ListServices enumerates every registered service.
func (b *Bus) ListServices() []ServiceInfo {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]ServiceInfo, 0, len(b.services))
	for name, e := range b.services {
		out = append(out, ServiceInfo{Name: name, OwnerAppID: e.ownerAppID, Description: e.options.Description, IsBackend: e.options.IsBackend})
	}
	return out
}

// ListServicesByApp enumerates the services exposed by appID.
func (b *Bus) ListServicesByApp(appID string) []ServiceInfo {
	all := b.ListServices()
	out := all[:0]
	for _, s := range all {
		if s.OwnerAppID == appID {
			out = append(out, s)
		}
	}
	return out
}

// Connect performs the three-step handshake: it
// verifies the target app is running and admits the caller per
// allowedClients, mints a connection id, wires a fresh port pair, invokes
// the service's onConnect with its endpoint, and returns the caller's
// endpoint synchronously.
func (b *Bus) Connect(callerAppID, targetAppID, serviceName string) (connectionID string, clientPort *corebus.Port, err error) {
	b.mu.RLock()
	entry, ok := b.services[serviceName]
	b.mu.RUnlock()

	if !ok {
		return "", nil, coreerr.New(coreerr.KindNotRunning, "service %s is not exposed", serviceName)
	}
	if entry.ownerAppID != targetAppID {
		return "", nil, coreerr.New(coreerr.KindNotRunning, "service %s is not owned by %s", serviceName, targetAppID)
	}
	if b.running != nil && !b.running.IsRunning(targetAppID) {
		return "", nil, coreerr.NotRunning(targetAppID)
	}
	if len(entry.options.AllowedClients) > 0 && !contains(entry.options.AllowedClients, callerAppID) {
		return "", nil, coreerr.New(coreerr.KindPermissionDenied, "app %s is not an allowed client of %s", callerAppID, serviceName)
	}

	id, err := uuid.NewV4()
	if err != nil {
		return "", nil, err
	}
	connectionID = id.String()

	serviceRaw, clientRaw := corebus.NewChannelPortPair()
	servicePort := corebus.NewPort(serviceRaw)
	clientPort = corebus.NewPort(clientRaw)

	rec := &connRecord{
		id:           connectionID,
		servicePort:  servicePort,
		clientPort:   clientPort,
		serviceAppID: targetAppID,
		clientAppID:  callerAppID,
	}
	b.connMu.Lock()
	b.conns[connectionID] = rec
	b.connMu.Unlock()

	cleanup := func() {
		b.connMu.Lock()
		delete(b.conns, connectionID)
		b.connMu.Unlock()
	}
	servicePort.OnClose(cleanup)
	clientPort.OnClose(cleanup)

	entry.onConnect(servicePort, callerAppID)
	metrics.AppBusConnections.Inc()

	return connectionID, clientPort, nil
}

// TerminateApp closes every connection owned by appID on both ends,
// forcing the surviving peer's onClose to fire even though the
// terminated app never explicitly closed its own side.
func (b *Bus) TerminateApp(appID string) {
	b.connMu.RLock()
	var affected []*connRecord
	for _, rec := range b.conns {
		if rec.serviceAppID == appID || rec.clientAppID == appID {
			affected = append(affected, rec)
		}
	}
	b.connMu.RUnlock()

	for _, rec := range affected {
		rec.servicePort.Close()
		rec.clientPort.Close()
	}

	b.mu.Lock()
	for name, e := range b.services {
		if e.ownerAppID == appID {
			delete(b.services, name)
		}
	}
	b.mu.Unlock()
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
