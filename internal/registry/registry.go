// Package registry loads installed app manifests from disk into
// internal/manifest.AppRecord, and answers the listing/lookup queries
// the Command Router's app-management namespace and Process Lifecycle's
// launch path need. Structured the way headscale's in-memory node
// registry is built at startup from persisted rows, except the source of
// truth here is one manifest.json per app directory rather than a table.
package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/b0czek/eden/internal/manifest"
)

type manifestFile struct {
	ID          string                      `json:"id"`
	DisplayName json.RawMessage             `json:"displayName"`
	IconPath    string                      `json:"iconPath"`
	Version     string                      `json:"version"`
	Hidden      bool                        `json:"hidden"`
	Overlay     bool                        `json:"overlay"`
	Frontend    *manifest.FrontendEntry     `json:"frontend"`
	Worker      *manifest.WorkerEntry       `json:"worker"`
	Window      manifest.WindowConfig       `json:"window"`
	Permissions []string                    `json:"permissions"`
	Grants      []manifest.GrantDeclaration `json:"grants"`
	IsPrebuilt  bool                        `json:"prebuilt"`
	IsCore      bool                        `json:"core"`
}

// Registry holds every installed app's manifest and resolved grants.
type Registry struct {
	presets manifest.PresetTable

	mu      sync.RWMutex
	records map[string]manifest.AppRecord
}

// New constructs an empty Registry bound to a fixed preset table.
func New(presets manifest.PresetTable) *Registry {
	return &Registry{presets: presets, records: make(map[string]manifest.AppRecord)}
}

// LoadDir walks dir for one level of subdirectories, each expected to
// contain a manifest.json, and replaces the registry's contents with what
// it finds. A malformed manifest fails the whole load rather than
// silently dropping one app.
func (r *Registry) LoadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("reading apps dir %s: %w", dir, err)
	}

	loaded := make(map[string]manifest.AppRecord, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		path := filepath.Join(dir, e.Name(), "manifest.json")
		rec, err := loadManifest(path, r.presets)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return fmt.Errorf("loading %s: %w", path, err)
		}
		loaded[rec.Manifest.ID] = rec
	}

	r.mu.Lock()
	r.records = loaded
	r.mu.Unlock()
	return nil
}

func loadManifest(path string, presets manifest.PresetTable) (manifest.AppRecord, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return manifest.AppRecord{}, err
	}

	var mf manifestFile
	if err := json.Unmarshal(raw, &mf); err != nil {
		return manifest.AppRecord{}, fmt.Errorf("parsing manifest: %w", err)
	}
	if mf.ID == "" {
		return manifest.AppRecord{}, fmt.Errorf("manifest at %s has no id", path)
	}

	display, err := parseDisplayName(mf.DisplayName)
	if err != nil {
		return manifest.AppRecord{}, err
	}

	m := manifest.Manifest{
		ID:          mf.ID,
		DisplayName: display,
		IconPath:    mf.IconPath,
		Version:     mf.Version,
		Hidden:      mf.Hidden,
		Overlay:     mf.Overlay,
		Frontend:    mf.Frontend,
		Worker:      mf.Worker,
		Window:      mf.Window,
		Permissions: mf.Permissions,
		Grants:      mf.Grants,
	}

	return manifest.AppRecord{
		Manifest:       m,
		IsPrebuilt:     mf.IsPrebuilt,
		IsCore:         mf.IsCore,
		ResolvedGrants: manifest.ResolveGrants(mf.Grants, presets),
	}, nil
}

func parseDisplayName(raw json.RawMessage) (manifest.DisplayName, error) {
	if len(raw) == 0 {
		return manifest.DisplayName{}, nil
	}

	var plain string
	if err := json.Unmarshal(raw, &plain); err == nil {
		return manifest.DisplayName{Plain: plain}, nil
	}

	var locale map[string]string
	if err := json.Unmarshal(raw, &locale); err != nil {
		return manifest.DisplayName{}, fmt.Errorf("displayName is neither a string nor a locale map: %w", err)
	}
	return manifest.DisplayName{Locale: locale}, nil
}

// Lookup satisfies internal/lifecycle.ManifestLookup.
func (r *Registry) Lookup(appID string) (*manifest.Manifest, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[appID]
	if !ok {
		return nil, false
	}
	m := rec.Manifest
	return &m, true
}

// Record returns the full AppRecord, including resolved grants.
func (r *Registry) Record(appID string) (manifest.AppRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[appID]
	return rec, ok
}

// List enumerates every installed app's record.
func (r *Registry) List() []manifest.AppRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]manifest.AppRecord, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec)
	}
	return out
}
