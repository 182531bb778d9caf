// Package manifest defines the immutable descriptor for an installed
// application and the runtime AppRecord the package registry
// holds for the lifetime of the installation. Modeled on the plain-struct
// plus helper-method shape of headscale's hscontrol/types package.
package manifest

// WindowMode controls which layout modes a view may occupy.
type WindowMode string

const (
	WindowModeFloating WindowMode = "floating"
	WindowModeTiled    WindowMode = "tiled"
	WindowModeBoth     WindowMode = "both"
)

// Scaling controls whether the host zoom factor applies to a view.
type Scaling string

const (
	ScalingAuto   Scaling = "auto"
	ScalingManual Scaling = "manual"
)

// DisplayName is either a plain string or a locale->string mapping.
type DisplayName struct {
	Plain  string
	Locale map[string]string
}

// Resolve returns the display string for locale, falling back to "en" and
// then to Plain.
func (d DisplayName) Resolve(locale string) string {
	if d.Locale != nil {
		if s, ok := d.Locale[locale]; ok {
			return s
		}
		if s, ok := d.Locale["en"]; ok {
			return s
		}
	}
	return d.Plain
}

// FrontendEntry describes the view process entry point.
type FrontendEntry struct {
	Path             string
	RemoteURL        string
	EmbeddingAllowed bool
}

// WorkerEntry describes the background process entry point.
type WorkerEntry struct {
	Path string
}

// Bounds is a rectangle in workspace coordinates.
type Bounds struct {
	X, Y, W, H float64
}

// WindowConfig is the manifest's window policy.
type WindowConfig struct {
	Mode            WindowMode
	DefaultSize     Bounds
	MinSize         Bounds
	MaxSize         Bounds
	DefaultPosition *Bounds
	Movable         bool
	Resizable       bool
	Scaling         Scaling
	InjectionAllow  bool
}

// GrantDeclaration is either a preset reference or an app-scoped grant.
type GrantDeclaration struct {
	PresetID    string
	Permissions []string
}

// IsPreset reports whether the declaration references a built-in preset.
func (g GrantDeclaration) IsPreset() bool {
	return g.PresetID != ""
}

// Manifest is the immutable descriptor for an installed application.
type Manifest struct {
	ID          string
	DisplayName DisplayName
	IconPath    string
	Version     string
	Hidden      bool
	Overlay     bool
	Frontend    *FrontendEntry
	Worker      *WorkerEntry
	Window      WindowConfig
	Permissions []string
	Grants      []GrantDeclaration
}

// IsHidden resolves the hidden/overlay listing flag:
// hidden iff manifest.Hidden, or, when that field is absent
// (zero value), manifest.Overlay.
func (m Manifest) IsHidden() bool {
	return m.Hidden || m.Overlay
}

// HasFrontend reports whether the manifest declares a view entry.
func (m Manifest) HasFrontend() bool {
	return m.Frontend != nil
}

// HasWorker reports whether the manifest declares a worker entry.
func (m Manifest) HasWorker() bool {
	return m.Worker != nil
}

// SupportsMode reports whether the manifest's window.mode permits the given
// view Mode.
func (m Manifest) SupportsMode(mode WindowMode) bool {
	switch m.Window.Mode {
	case WindowModeBoth:
		return true
	case WindowModeFloating:
		return mode == WindowModeFloating
	case WindowModeTiled:
		return mode == WindowModeTiled
	default:
		return false
	}
}

// ResolvedGrant is a grant after preset expansion.
type ResolvedGrant struct {
	GrantID     string
	Permissions []string
}

// PresetTable maps a preset id to its fixed permission set. Built-in,
// populated at construction.
type PresetTable map[string][]string

// ResolveGrants expands GrantDeclarations against presets and drops empty
// results, matching "Resolution expands presets and filters empty grants."
func ResolveGrants(decls []GrantDeclaration, presets PresetTable) []ResolvedGrant {
	var out []ResolvedGrant
	for i, d := range decls {
		var perms []string
		var id string
		if d.IsPreset() {
			perms = presets[d.PresetID]
			id = d.PresetID
		} else {
			perms = d.Permissions
			id = syntheticGrantID(i)
		}
		if len(perms) == 0 {
			continue
		}
		out = append(out, ResolvedGrant{GrantID: id, Permissions: perms})
	}
	return out
}

func syntheticGrantID(i int) string {
	const letters = "abcdefghijklmnopqrstuvwxyz"
	return "grant-" + string(letters[i%len(letters)])
}

// AppRecord is the runtime form of a Manifest held by the package registry
// for the lifetime of the installation.
type AppRecord struct {
	Manifest       Manifest
	IsPrebuilt     bool
	IsCore         bool
	IsRestricted   bool
	ResolvedGrants []ResolvedGrant
}

// ListingFlags are the hidden/restricted flags exposed at every listing
// boundary.
type ListingFlags struct {
	Hidden     bool
	Restricted bool
}

// Flags computes the listing flags for this record given a launch
// authorization check (session.CanLaunchApp).
func (r AppRecord) Flags(canLaunch bool) ListingFlags {
	return ListingFlags{
		Hidden:     r.Manifest.IsHidden(),
		Restricted: !canLaunch,
	}
}
