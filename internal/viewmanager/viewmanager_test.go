package viewmanager

import (
	"testing"
	"time"

	"github.com/b0czek/eden/internal/manifest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeNotifier struct {
	events []notifyRecord
}

type notifyRecord struct {
	subject string
	viewID  string
	payload any
}

func (f *fakeNotifier) NotifyView(subject, viewID string, payload any) {
	f.events = append(f.events, notifyRecord{subject, viewID, payload})
}

func gridConfig(cols, rows int) TilingConfig {
	return TilingConfig{Mode: TilingGrid, Gap: 4, Padding: 4, Columns: &cols, Rows: &rows}
}

func tiledWindow() manifest.WindowConfig {
	return manifest.WindowConfig{Mode: manifest.WindowModeTiled, DefaultSize: manifest.Bounds{W: 400, H: 300}}
}

func floatingWindow() manifest.WindowConfig {
	return manifest.WindowConfig{Mode: manifest.WindowModeFloating, DefaultSize: manifest.Bounds{W: 400, H: 300}}
}

func bothWindow() manifest.WindowConfig {
	return manifest.WindowConfig{Mode: manifest.WindowModeBoth, DefaultSize: manifest.Bounds{W: 400, H: 300}}
}

// Covers: mode switch with capacity.
func TestModeSwitchWithCapacityScenario(t *testing.T) {
	m := New(gridConfig(2, 2), manifest.Bounds{W: 1000, H: 1000}, &fakeNotifier{})

	a, err := m.CreateView("A", tiledWindow(), false)
	require.NoError(t, err)
	time.Sleep(time.Millisecond)
	m.FocusView(a.ID)

	b, err := m.CreateView("B", bothWindow(), false)
	require.NoError(t, err)
	time.Sleep(time.Millisecond)
	m.FocusView(b.ID)

	c, err := m.CreateView("C", tiledWindow(), false)
	require.NoError(t, err)
	time.Sleep(time.Millisecond)
	m.FocusView(c.ID)

	d, err := m.CreateView("D", tiledWindow(), false)
	require.NoError(t, err)
	time.Sleep(time.Millisecond)
	m.FocusView(d.ID)

	e, err := m.CreateView("E", tiledWindow(), false)
	require.NoError(t, err)
	time.Sleep(time.Millisecond)
	m.FocusView(e.ID)

	// A is least-recently-focused; it must be hidden once E pushes the
	// visible tiled set past capacity 4.
	aAfter := m.views[a.ID]
	assert.False(t, aAfter.Visible)

	visible := m.visibleTiledLocked()
	assert.Len(t, visible, 4)

	require.NoError(t, m.ToggleMode(b.ID, manifest.WindowModeFloating))
	bAfter := m.views[b.ID]
	assert.Equal(t, manifest.WindowModeFloating, bAfter.Mode)

	aAfter = m.views[a.ID]
	assert.True(t, aAfter.Visible, "A reappears in B's vacated slot")
}

func TestTileBoundsMatchGridConfiguration(t *testing.T) {
	m := New(gridConfig(2, 2), manifest.Bounds{X: 0, Y: 0, W: 1000, H: 1000}, &fakeNotifier{})

	ids := []string{}
	for _, name := range []string{"A", "B", "C", "D"} {
		v, err := m.CreateView(name, tiledWindow(), false)
		require.NoError(t, err)
		ids = append(ids, v.ID)
		time.Sleep(time.Millisecond)
		m.FocusView(v.ID)
	}

	for _, id := range ids {
		v := m.views[id]
		expected := calculateTileBounds(v.TileIndex, 4, m.tiling, m.workspace)
		assert.Equal(t, expected, v.Bounds)
	}
}

func TestFloatingAndOverlayZIndexOrdering(t *testing.T) {
	m := New(TilingConfig{Mode: TilingNone}, manifest.Bounds{W: 1000, H: 1000}, &fakeNotifier{})

	f1, _ := m.CreateView("F1", floatingWindow(), false)
	f2, _ := m.CreateView("F2", floatingWindow(), false)
	o1, _ := m.CreateView("O1", bothWindow(), true)

	assert.NotEqual(t, f1.ZIndex, f2.ZIndex)
	assert.Greater(t, o1.ZIndex, f1.ZIndex)
	assert.Greater(t, o1.ZIndex, f2.ZIndex)

	stack := m.OrderedStack()
	require.Len(t, stack, 3)
	assert.Equal(t, o1.ID, stack[len(stack)-1].ID, "overlay sits at the top of the stack")
}

// Covers: subscription targeting via drag bounds
// updates, the View Manager's half of the targeted-unicast story.
func TestDragProducesTargetedBoundsUpdates(t *testing.T) {
	notifier := &fakeNotifier{}
	m := New(TilingConfig{Mode: TilingNone}, manifest.Bounds{W: 1000, H: 1000}, notifier)

	v, err := m.CreateView("V", floatingWindow(), false)
	require.NoError(t, err)

	require.NoError(t, m.StartDrag(v.ID, 0, 0))
	assert.True(t, m.IsTrackerRunning())

	for i := 0; i < 100; i++ {
		m.Tick(v.ID, float64(i), float64(i))
	}

	count := 0
	for _, e := range notifier.events {
		if e.subject == "view/bounds-updated" && e.viewID == v.ID {
			count++
		}
	}
	assert.Equal(t, 100, count)

	m.MouseUp()
	assert.False(t, m.IsTrackerRunning())

	before := len(notifier.events)
	m.Tick(v.ID, 999, 999)
	assert.Equal(t, before, len(notifier.events), "no further payloads arrive after end-drag")
}

func TestTiledViewIgnoresDragTicks(t *testing.T) {
	notifier := &fakeNotifier{}
	m := New(gridConfig(2, 2), manifest.Bounds{W: 1000, H: 1000}, notifier)

	v, err := m.CreateView("T", tiledWindow(), false)
	require.NoError(t, err)

	require.NoError(t, m.StartDrag(v.ID, 0, 0))
	m.Tick(v.ID, 50, 50)

	for _, e := range notifier.events {
		assert.NotEqual(t, "view/bounds-updated", e.subject, "tiled views silently ignore bounds updates")
	}
}

func TestRemoveViewRelayoutsRemainingTiles(t *testing.T) {
	m := New(gridConfig(2, 2), manifest.Bounds{W: 1000, H: 1000}, &fakeNotifier{})

	a, _ := m.CreateView("A", tiledWindow(), false)
	b, _ := m.CreateView("B", tiledWindow(), false)

	require.NoError(t, m.RemoveView(a.ID))
	assert.Equal(t, 0, m.views[b.ID].TileIndex)
}

func TestFloatingPlacementCascades(t *testing.T) {
	m := New(TilingConfig{Mode: TilingNone}, manifest.Bounds{X: 0, Y: 0, W: 1000, H: 1000}, &fakeNotifier{})

	f1, _ := m.CreateView("F1", floatingWindow(), false)
	f2, _ := m.CreateView("F2", floatingWindow(), false)

	assert.NotEqual(t, f1.Bounds.X, f2.Bounds.X)
}
