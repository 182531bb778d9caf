// Package viewhost adapts internal/viewmanager.Manager to the
// lifecycle.ViewHost contract. Frontend embedding (the actual webview
// surface a view renders into) is explicitly out of this core's scope,
// treated as opaque, so LoadFrontend only records the entry for whatever
// embedder the host process wires in; it never touches a rendering
// toolkit.
package viewhost

import (
	"sync"

	"github.com/b0czek/eden/internal/corebus"
	"github.com/b0czek/eden/internal/manifest"
	"github.com/b0czek/eden/internal/viewmanager"
)

// Host adapts a viewmanager.Manager into the lifecycle.ViewHost contract.
type Host struct {
	views *viewmanager.Manager

	mu       sync.Mutex
	frontend map[string]manifest.FrontendEntry
	ports    map[string]*corebus.Port
}

// New wraps views for use as a lifecycle.ViewHost.
func New(views *viewmanager.Manager) *Host {
	return &Host{
		views:    views,
		frontend: make(map[string]manifest.FrontendEntry),
		ports:    make(map[string]*corebus.Port),
	}
}

// CreateView creates the bookkeeping entry for appID's view with window
// mode "both". bounds, when non-nil, is stored as the window config's
// DefaultPosition; the View Manager's tiling and floating placement do
// not read DefaultPosition, so the resulting bounds are the same with or
// without it.
func (h *Host) CreateView(appID string, bounds *manifest.Bounds) (string, error) {
	win := manifest.WindowConfig{Mode: manifest.WindowModeBoth}
	if bounds != nil {
		win.DefaultPosition = bounds
	}
	v, err := h.views.CreateView(appID, win, false)
	if err != nil {
		return "", err
	}
	return v.ID, nil
}

// LoadFrontend records the frontend entry for viewID. The actual asset
// load/render is the embedder's responsibility.
func (h *Host) LoadFrontend(viewID string, entry manifest.FrontendEntry) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.frontend[viewID] = entry
	return nil
}

// TransferPort hands viewID its worker's client-side port. Retrievable by
// the embedder via Port.
func (h *Host) TransferPort(viewID string, port *corebus.Port) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ports[viewID] = port
	return nil
}

// Port returns the port transferred to viewID, if any.
func (h *Host) Port(viewID string) (*corebus.Port, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	p, ok := h.ports[viewID]
	return p, ok
}

// RemoveView tears down viewID's bookkeeping and any transferred port.
func (h *Host) RemoveView(viewID string) error {
	h.mu.Lock()
	delete(h.frontend, viewID)
	delete(h.ports, viewID)
	h.mu.Unlock()

	return h.views.RemoveView(viewID)
}
