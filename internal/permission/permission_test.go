package permission

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHasPermissionMatchesExactWildcardAndNamespace(t *testing.T) {
	e := New()
	e.Register("A.one", []string{"fs/*"}, nil)

	assert.True(t, e.HasPermission("A.one", "fs/read"))
	assert.True(t, e.HasPermission("A.one", "fs/write"))
	assert.False(t, e.HasPermission("A.one", "view/manage"))

	e.Register("A.super", []string{"*"}, nil)
	assert.True(t, e.HasPermission("A.super", "anything/goes"))

	e.Register("A.exact", []string{"view/manage"}, nil)
	assert.True(t, e.HasPermission("A.exact", "view/manage"))
	assert.False(t, e.HasPermission("A.exact", "view/manage-extra"))
}

func TestHasPermissionUnknownAppIsFalse(t *testing.T) {
	e := New()
	assert.False(t, e.HasPermission("A.two", "fs/read"))
}

func TestIsBasePermissionIgnoresGrants(t *testing.T) {
	e := New()
	e.Register("A.one", nil, map[string][]string{"g1": {"fs/read"}})

	assert.False(t, e.IsBasePermission("A.one", "fs/read"))
	assert.True(t, e.HasPermission("A.one", "fs/read"))
}

func TestGetRequiredGrantIdsEmptyForBasePermission(t *testing.T) {
	e := New()
	e.Register("A.one", []string{"fs/read"}, map[string][]string{"g1": {"fs/read"}})

	assert.Empty(t, e.GetRequiredGrantIds("A.one", "fs/read"))
}

func TestGetRequiredGrantIdsReturnsCoveringGrants(t *testing.T) {
	e := New()
	e.Register("A.one", nil, map[string][]string{
		"g1": {"fs/read"},
		"g2": {"fs/*"},
		"g3": {"view/manage"},
	})

	ids := e.GetRequiredGrantIds("A.one", "fs/read")
	assert.ElementsMatch(t, []string{"g1", "g2"}, ids)
}

func TestRegisterEmptyUnregisters(t *testing.T) {
	e := New()
	e.Register("A.one", []string{"fs/read"}, nil)
	require.True(t, e.HasPermission("A.one", "fs/read"))

	e.Register("A.one", nil, nil)
	assert.False(t, e.HasPermission("A.one", "fs/read"))
}

func TestUnregisterRemovesState(t *testing.T) {
	e := New()
	e.Register("A.one", []string{"fs/read"}, nil)
	e.Unregister("A.one")
	assert.False(t, e.HasPermission("A.one", "fs/read"))
}

func TestEventPermissionTable(t *testing.T) {
	e := New()
	assert.Equal(t, "", e.EventPermission("view/bounds-updated"))

	e.SetEventPermission("view/bounds-updated", "view/manage")
	assert.Equal(t, "view/manage", e.EventPermission("view/bounds-updated"))
}
