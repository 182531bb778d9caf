package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/b0czek/eden/internal/manifest"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func writeManifest(t *testing.T, dir, appID, body string) {
	t.Helper()
	appDir := filepath.Join(dir, appID)
	require.NoError(t, os.MkdirAll(appDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(appDir, "manifest.json"), []byte(body), 0o644))
}

func TestLoadDirParsesPlainAndLocaleDisplayNames(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "com.eden.notes", `{
		"id": "com.eden.notes",
		"displayName": "Notes",
		"permissions": ["fs/read"],
		"grants": [{"presetId": "read-only"}]
	}`)
	writeManifest(t, dir, "com.eden.clock", `{
		"id": "com.eden.clock",
		"displayName": {"en": "Clock", "pl": "Zegar"}
	}`)

	r := New(manifest.PresetTable{"read-only": {"fs/read"}})
	require.NoError(t, r.LoadDir(dir))

	notes, ok := r.Record("com.eden.notes")
	require.True(t, ok)

	want := manifest.AppRecord{
		Manifest: manifest.Manifest{
			ID:          "com.eden.notes",
			DisplayName: manifest.DisplayName{Plain: "Notes"},
			Permissions: []string{"fs/read"},
			Grants:      []manifest.GrantDeclaration{{PresetID: "read-only"}},
		},
		ResolvedGrants: []manifest.ResolvedGrant{{GrantID: "read-only", Permissions: []string{"fs/read"}}},
	}
	if diff := cmp.Diff(want, notes); diff != "" {
		t.Errorf("notes record mismatch (-want +got):\n%s", diff)
	}

	clock, ok := r.Lookup("com.eden.clock")
	require.True(t, ok)
	require.Equal(t, "Zegar", clock.DisplayName.Resolve("pl"))
}

func TestLoadDirRejectsMalformedDisplayName(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "com.eden.broken", `{"id": "com.eden.broken", "displayName": 42}`)

	r := New(manifest.PresetTable{})
	require.Error(t, r.LoadDir(dir))
}

func TestLoadDirSkipsDirectoriesWithoutManifest(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "not-an-app"), 0o755))
	writeManifest(t, dir, "com.eden.clock", `{"id": "com.eden.clock", "displayName": "Clock"}`)

	r := New(manifest.PresetTable{})
	require.NoError(t, r.LoadDir(dir))
	require.Len(t, r.List(), 1)
}

func TestLoadDirReplacesPriorContents(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "com.eden.a", `{"id": "com.eden.a", "displayName": "A"}`)

	r := New(manifest.PresetTable{})
	require.NoError(t, r.LoadDir(dir))
	require.Len(t, r.List(), 1)

	require.NoError(t, os.RemoveAll(filepath.Join(dir, "com.eden.a")))
	writeManifest(t, dir, "com.eden.b", `{"id": "com.eden.b", "displayName": "B"}`)

	require.NoError(t, r.LoadDir(dir))
	require.Len(t, r.List(), 1)
	_, ok := r.Lookup("com.eden.a")
	require.False(t, ok)
}
