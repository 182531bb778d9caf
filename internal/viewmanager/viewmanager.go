// Package viewmanager implements the View Manager: the
// host window's child view stack, tiling/floating/overlay z-ordering,
// capacity-bounded tiling with least-recently-focused eviction, floating
// placement and drag/resize, mode switching, focus, and interface
// scaling. The deterministic "recompute the whole layout on any change"
// rule is grounded on headscale's LockFreeBatcher, which recomputes a
// node's full map distribution from scratch on every relevant change
// rather than patching incrementally; the host-window stack mutex uses
// go-deadlock for the same reason headscale does
// (a single guard protecting interdependent maps where a mis-ordered
// lock would deadlock silently under -race).
package viewmanager

import (
	"math"
	"sort"
	"time"

	"github.com/b0czek/eden/internal/coreerr"
	"github.com/b0czek/eden/internal/manifest"
	deadlock "github.com/sasha-s/go-deadlock"
	"github.com/samber/lo"
)

// TilingMode is the tiling layout algorithm.
type TilingMode string

const (
	TilingNone       TilingMode = "none"
	TilingHorizontal TilingMode = "horizontal"
	TilingVertical   TilingMode = "vertical"
	TilingGrid       TilingMode = "grid"
)

// TilingConfig is the host's tiling policy.
type TilingConfig struct {
	Mode    TilingMode
	Gap     float64
	Padding float64
	Columns *int
	Rows    *int
}

// capacity returns the maximum number of simultaneously visible tiled
// views, or math.MaxInt when unbounded.
func (c TilingConfig) capacity(visibleCount int) int {
	switch c.Mode {
	case TilingGrid:
		if c.Columns != nil && c.Rows != nil {
			return (*c.Columns) * (*c.Rows)
		}
	case TilingHorizontal:
		if c.Columns != nil {
			return *c.Columns
		}
	case TilingVertical:
		if c.Rows != nil {
			return *c.Rows
		}
	}
	return math.MaxInt
}

const overlayZIndexBase = 10000

// View is a single child view in the host window stack.
type View struct {
	ID            string
	AppID         string
	Window        manifest.WindowConfig
	Overlay       bool
	Mode          manifest.WindowMode // WindowModeTiled or WindowModeFloating
	Visible       bool
	TileIndex     int
	ZIndex        int
	Bounds        manifest.Bounds
	LastFocusedAt time.Time
}

// Notifier is satisfied by internal/subscription.Bus: mode changes and
// bounds updates are targeted unicasts to the affected view.
type Notifier interface {
	NotifyView(subject, viewID string, payload any)
}

// Manager owns the host window's child view stack.
type Manager struct {
	mu deadlock.Mutex

	tiling    TilingConfig
	workspace manifest.Bounds
	zoom      float64
	notifier  Notifier

	views      map[string]*View
	tiledOrder []string // canonical left-to-right/top-to-bottom order, visible and hidden

	nextFloatZIndex   int
	nextOverlayZIndex int

	drags         map[string]*activeDrag
	trackerActive int // ref count across all drag/resize subscribers
}

// New constructs a Manager for a host window of the given workspace size.
func New(tiling TilingConfig, workspace manifest.Bounds, notifier Notifier) *Manager {
	return &Manager{
		tiling:            tiling,
		workspace:         workspace,
		zoom:              1.0,
		notifier:          notifier,
		views:             make(map[string]*View),
		nextFloatZIndex:   1,
		nextOverlayZIndex: overlayZIndexBase,
		drags:             make(map[string]*activeDrag),
	}
}

// CreateView adds a new view for appID. overlay views always start
// floating-positioned in the overlay band; non-overlay views start in
// whichever mode window.mode permits, preferring tiled.
func (m *Manager) CreateView(appID string, win manifest.WindowConfig, overlay bool) (*View, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v := &View{
		ID:      newViewID(),
		AppID:   appID,
		Window:  win,
		Overlay: overlay,
	}

	initialMode := manifest.WindowModeFloating
	if !overlay && (win.Mode == manifest.WindowModeTiled || win.Mode == manifest.WindowModeBoth) {
		initialMode = manifest.WindowModeTiled
	}
	v.Mode = initialMode
	v.Visible = true
	v.LastFocusedAt = now()

	m.views[v.ID] = v

	if overlay {
		v.ZIndex = m.nextOverlayZIndex
		m.nextOverlayZIndex++
	} else if initialMode == manifest.WindowModeTiled {
		m.tiledOrder = append(m.tiledOrder, v.ID)
		m.enforceCapacityLocked(v.ID)
	} else {
		m.placeFloatingLocked(v)
	}

	m.relayoutTiledLocked()
	return v, nil
}

// RemoveView deletes viewID from the stack.
func (m *Manager) RemoveView(viewID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.views[viewID]; !ok {
		return coreerr.ViewNotFound(viewID)
	}
	delete(m.views, viewID)
	m.tiledOrder = removeString(m.tiledOrder, viewID)
	m.reshowVacatedSlotsLocked()
	m.relayoutTiledLocked()
	return nil
}

// OrderedStack returns the views in host re-add order: visible tiled
// views (ascending tileIndex), then floating (ascending zIndex), then
// overlays (ascending zIndex within their reserved band). Tiled views
// hidden by capacity are left out.
func (m *Manager) OrderedStack() []*View {
	m.mu.Lock()
	defer m.mu.Unlock()

	all := lo.Values(m.views)

	overlays := lo.Filter(all, func(v *View, _ int) bool { return v.Overlay })
	tiled := lo.Filter(all, func(v *View, _ int) bool { return !v.Overlay && v.Mode == manifest.WindowModeTiled && v.Visible })
	floating := lo.Filter(all, func(v *View, _ int) bool { return !v.Overlay && v.Mode != manifest.WindowModeTiled })

	sort.Slice(tiled, func(i, j int) bool { return tiled[i].TileIndex < tiled[j].TileIndex })
	sort.Slice(floating, func(i, j int) bool { return floating[i].ZIndex < floating[j].ZIndex })
	sort.Slice(overlays, func(i, j int) bool { return overlays[i].ZIndex < overlays[j].ZIndex })

	out := make([]*View, 0, len(tiled)+len(floating)+len(overlays))
	out = append(out, tiled...)
	out = append(out, floating...)
	out = append(out, overlays...)
	return out
}

// ToggleMode switches viewID between floating and tiled, respecting
// window.mode, and emits view/mode-changed.
func (m *Manager) ToggleMode(viewID string, mode manifest.WindowMode) error {
	m.mu.Lock()
	v, ok := m.views[viewID]
	if !ok {
		m.mu.Unlock()
		return coreerr.ViewNotFound(viewID)
	}
	if !supportsMode(v.Window.Mode, mode) {
		m.mu.Unlock()
		return coreerr.New(coreerr.KindUnsupportedMode, "view %s does not support mode %s", viewID, mode)
	}

	switch mode {
	case manifest.WindowModeFloating:
		v.Mode = manifest.WindowModeFloating
		v.TileIndex = 0
		m.tiledOrder = removeString(m.tiledOrder, viewID)
		m.placeFloatingLocked(v)
		m.reshowVacatedSlotsLocked()
		m.relayoutTiledLocked()
	case manifest.WindowModeTiled:
		v.Mode = manifest.WindowModeTiled
		v.Visible = true
		m.tiledOrder = append(m.tiledOrder, viewID)
		m.enforceCapacityLocked(viewID)
		m.relayoutTiledLocked()
	}
	m.mu.Unlock()

	m.notify("view/mode-changed", viewID, map[string]any{"mode": mode})
	return nil
}

func supportsMode(declared, requested manifest.WindowMode) bool {
	m := manifest.Manifest{Window: manifest.WindowConfig{Mode: declared}}
	return m.SupportsMode(requested)
}

// FocusView raises viewID within its band and updates lastFocusedAt.
func (m *Manager) FocusView(viewID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.views[viewID]
	if !ok {
		return coreerr.ViewNotFound(viewID)
	}

	v.LastFocusedAt = now()
	if v.Overlay {
		v.ZIndex = m.nextOverlayZIndex
		m.nextOverlayZIndex++
	} else if v.Mode == manifest.WindowModeFloating {
		v.ZIndex = m.nextFloatZIndex
		m.nextFloatZIndex++
	}
	return nil
}

// SetZoom applies a new host-wide zoom factor (clamped 0.5-2.0) to every
// live view that does not declare manual scaling and is not an overlay.
func (m *Manager) SetZoom(factor float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if factor < 0.5 {
		factor = 0.5
	}
	if factor > 2.0 {
		factor = 2.0
	}
	m.zoom = factor
}

// Zoom returns the effective zoom factor for viewID (1.0 for manual or
// overlay views).
func (m *Manager) Zoom(viewID string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.views[viewID]
	if !ok || v.Overlay || v.Window.Scaling == manifest.ScalingManual {
		return 1.0
	}
	return m.zoom
}

func (m *Manager) placeFloatingLocked(v *View) {
	existing := 0
	for _, other := range m.views {
		if other.ID != v.ID && !other.Overlay && other.Mode == manifest.WindowModeFloating {
			existing++
		}
	}

	size := v.Window.DefaultSize
	cascade := 30.0 * float64(existing)

	x := m.workspace.X + (m.workspace.W-size.W)/2 + cascade
	y := m.workspace.Y + (m.workspace.H-size.H)/2 + cascade

	minVisible := 100.0
	if x+size.W < m.workspace.X+minVisible {
		x = m.workspace.X + minVisible - size.W
	}
	if x > m.workspace.X+m.workspace.W-minVisible {
		x = m.workspace.X + m.workspace.W - minVisible
	}
	if y < m.workspace.Y {
		y = m.workspace.Y
	}

	v.Bounds = manifest.Bounds{X: x, Y: y, W: size.W, H: size.H}
	v.ZIndex = m.nextFloatZIndex
	m.nextFloatZIndex++
}

// reshowVacatedSlotsLocked brings hidden tiled views back into view, in
// tiledOrder, as capacity allows: a freed tile
// slot is refilled rather than left idle).
func (m *Manager) reshowVacatedSlotsLocked() {
	capacity := m.tiling.capacity(len(m.tiledOrder))

	for {
		visible := m.visibleTiledLocked()
		if len(visible) >= capacity {
			return
		}

		reshown := false
		for _, id := range m.tiledOrder {
			v, ok := m.views[id]
			if !ok || v.Visible {
				continue
			}
			v.Visible = true
			reshown = true
			break
		}
		if !reshown {
			return
		}
	}
}

func (m *Manager) enforceCapacityLocked(preferredID string) {
	capacity := m.tiling.capacity(len(m.tiledOrder))

	for {
		visible := m.visibleTiledLocked()
		if len(visible) <= capacity {
			return
		}

		var victim *View
		for _, v := range visible {
			if v.ID == preferredID {
				continue
			}
			if victim == nil || v.LastFocusedAt.Before(victim.LastFocusedAt) {
				victim = v
			}
		}
		if victim == nil {
			return
		}
		victim.Visible = false
	}
}

func (m *Manager) visibleTiledLocked() []*View {
	var out []*View
	for _, id := range m.tiledOrder {
		if v, ok := m.views[id]; ok && v.Visible {
			out = append(out, v)
		}
	}
	return out
}

func (m *Manager) relayoutTiledLocked() {
	visible := m.visibleTiledLocked()
	total := len(visible)
	for i, v := range visible {
		v.TileIndex = i
		v.Bounds = calculateTileBounds(i, total, m.tiling, m.workspace)
	}
}

func calculateTileBounds(index, total int, cfg TilingConfig, workspace manifest.Bounds) manifest.Bounds {
	avail := manifest.Bounds{
		X: workspace.X + cfg.Padding,
		Y: workspace.Y + cfg.Padding,
		W: workspace.W - 2*cfg.Padding,
		H: workspace.H - 2*cfg.Padding,
	}
	if total <= 0 {
		return avail
	}

	switch cfg.Mode {
	case TilingHorizontal:
		colWidth := (avail.W - cfg.Gap*float64(total-1)) / float64(total)
		return manifest.Bounds{X: avail.X + float64(index)*(colWidth+cfg.Gap), Y: avail.Y, W: colWidth, H: avail.H}
	case TilingVertical:
		rowHeight := (avail.H - cfg.Gap*float64(total-1)) / float64(total)
		return manifest.Bounds{X: avail.X, Y: avail.Y + float64(index)*(rowHeight+cfg.Gap), W: avail.W, H: rowHeight}
	case TilingGrid:
		cols := total
		if cfg.Columns != nil {
			cols = *cfg.Columns
		} else {
			cols = int(math.Ceil(math.Sqrt(float64(total))))
		}
		if cols < 1 {
			cols = 1
		}
		rows := int(math.Ceil(float64(total) / float64(cols)))
		if cfg.Rows != nil {
			rows = *cfg.Rows
		}
		colWidth := (avail.W - cfg.Gap*float64(cols-1)) / float64(cols)
		rowHeight := (avail.H - cfg.Gap*float64(rows-1)) / float64(rows)
		col := index % cols
		row := index / cols
		return manifest.Bounds{
			X: avail.X + float64(col)*(colWidth+cfg.Gap),
			Y: avail.Y + float64(row)*(rowHeight+cfg.Gap),
			W: colWidth,
			H: rowHeight,
		}
	default:
		return avail
	}
}

func (m *Manager) notify(subject, viewID string, payload any) {
	if m.notifier != nil {
		m.notifier.NotifyView(subject, viewID, payload)
	}
}

func removeString(list []string, v string) []string {
	out := list[:0]
	for _, item := range list {
		if item != v {
			out = append(out, item)
		}
	}
	return out
}

var viewIDCounter int64

func newViewID() string {
	viewIDCounter++
	return "view-" + itoa(viewIDCounter)
}

func itoa(n int64) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	neg := n < 0
	if neg {
		n = -n
	}
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

func now() time.Time { return time.Now() }
