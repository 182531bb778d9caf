package viewmanager

import (
	"github.com/b0czek/eden/internal/coreerr"
	"github.com/b0czek/eden/internal/manifest"
)

type dragKind int

const (
	dragKindMove dragKind = iota
	dragKindResize
)

type activeDrag struct {
	kind       dragKind
	startX     float64
	startY     float64
	baseBounds manifest.Bounds
}

// StartDrag records a move subscriber for viewID and ref-counts the
// shared mouse tracker: it holds exactly one
// interval, and start/stop is reference-counted across drag and resize
// subscribers.
func (m *Manager) StartDrag(viewID string, startX, startY float64) error {
	return m.startTracking(viewID, dragKindMove, startX, startY)
}

// StartResize records a resize subscriber for viewID.
func (m *Manager) StartResize(viewID string, startX, startY float64) error {
	return m.startTracking(viewID, dragKindResize, startX, startY)
}

func (m *Manager) startTracking(viewID string, kind dragKind, startX, startY float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.views[viewID]
	if !ok {
		return coreerr.ViewNotFound(viewID)
	}
	if _, already := m.drags[viewID]; already {
		return nil
	}

	m.drags[viewID] = &activeDrag{kind: kind, startX: startX, startY: startY, baseBounds: v.Bounds}
	m.trackerActive++
	return nil
}

// Tick applies the current cursor position to viewID's active
// drag/resize. Only floating views accept bounds updates; tiled-view
// ticks are silently ignored.
func (m *Manager) Tick(viewID string, curX, curY float64) {
	m.mu.Lock()
	drag, ok := m.drags[viewID]
	if !ok {
		m.mu.Unlock()
		return
	}
	v, ok := m.views[viewID]
	if !ok || v.Mode != manifest.WindowModeFloating {
		m.mu.Unlock()
		return
	}

	dx := curX - drag.startX
	dy := curY - drag.startY

	switch drag.kind {
	case dragKindMove:
		v.Bounds.X = drag.baseBounds.X + dx
		v.Bounds.Y = drag.baseBounds.Y + dy
	case dragKindResize:
		v.Bounds.W = drag.baseBounds.W + dx
		v.Bounds.H = drag.baseBounds.H + dy
	}
	bounds := v.Bounds
	m.mu.Unlock()

	m.notify("view/bounds-updated", viewID, bounds)
}

// EndDrag clears viewID's active drag/resize and decrements the tracker
// ref count.
func (m *Manager) EndDrag(viewID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.drags[viewID]; ok {
		delete(m.drags, viewID)
		m.trackerActive--
	}
}

// MouseUp is the global mouse-up signal: it clears every active
// drag/resize subscriber at once.
func (m *Manager) MouseUp() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.trackerActive -= len(m.drags)
	m.drags = make(map[string]*activeDrag)
}

// IsTrackerRunning reports whether the shared mouse tracker has at least
// one active subscriber.
func (m *Manager) IsTrackerRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.trackerActive > 0
}
