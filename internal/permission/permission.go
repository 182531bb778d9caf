// Package permission implements the Permission & Grant Engine: per-app
// base permissions and grants, glob matching, and required-grant
// resolution for the Command Router and Subscription Bus. The concurrent
// per-app record map is an xsync.Map, the same lock-free concurrent map
// headscale uses for its node registry in
// hscontrol/mapper/batcher_lockfree.go, since permission lookups sit on
// every command-dispatch hot path.
package permission

import (
	"strings"

	"github.com/puzpuzpuz/xsync/v4"
)

// record is the per-application permission state.
type record struct {
	base   map[string]struct{}
	grants map[string]map[string]struct{} // grantId -> permission set
}

// Engine stores per-application capabilities and evaluates glob matches.
type Engine struct {
	apps *xsync.Map[string, *record]

	// eventPerms maps a subscription subject to the permission required to
	// subscribe to it, consulted by the Subscription Bus.
	eventPerms *xsync.Map[string, string]
}

// New constructs an empty Engine.
func New() *Engine {
	return &Engine{
		apps:       xsync.NewMap[string, *record](),
		eventPerms: xsync.NewMap[string, string](),
	}
}

// Register sets an app's base permissions and grants. Registering with
// empty bases and empty grants unregisters the app (idempotent).
func (e *Engine) Register(appID string, basePermissions []string, grants map[string][]string) {
	if len(basePermissions) == 0 && len(grants) == 0 {
		e.apps.Delete(appID)
		return
	}

	r := &record{
		base:   make(map[string]struct{}, len(basePermissions)),
		grants: make(map[string]map[string]struct{}, len(grants)),
	}
	for _, p := range basePermissions {
		r.base[p] = struct{}{}
	}
	for grantID, perms := range grants {
		set := make(map[string]struct{}, len(perms))
		for _, p := range perms {
			set[p] = struct{}{}
		}
		r.grants[grantID] = set
	}

	e.apps.Store(appID, r)
}

// Unregister removes all permission state for an app. Process Lifecycle's
// Stop and crash cleanup do not call it.
func (e *Engine) Unregister(appID string) {
	e.apps.Delete(appID)
}

// matches reports whether pattern covers perm: equality, the super-wildcard
// "*", or a "ns/*" namespace-prefix wildcard.
func matches(pattern, perm string) bool {
	if pattern == perm || pattern == "*" {
		return true
	}
	if strings.HasSuffix(pattern, "/*") {
		prefix := strings.TrimSuffix(pattern, "*") // "ns/"
		return strings.HasPrefix(perm, prefix)
	}
	return false
}

// IsBasePermission checks only base patterns.
func (e *Engine) IsBasePermission(appID, perm string) bool {
	r, ok := e.apps.Load(appID)
	if !ok {
		return false
	}
	for pattern := range r.base {
		if matches(pattern, perm) {
			return true
		}
	}
	return false
}

// HasPermission succeeds when any base pattern or any grant's pattern
// matches perm.
func (e *Engine) HasPermission(appID, perm string) bool {
	r, ok := e.apps.Load(appID)
	if !ok {
		return false
	}
	for pattern := range r.base {
		if matches(pattern, perm) {
			return true
		}
	}
	for _, set := range r.grants {
		for pattern := range set {
			if matches(pattern, perm) {
				return true
			}
		}
	}
	return false
}

// GetRequiredGrantIds returns all grant ids whose patterns cover perm, or an
// empty list when perm is already a base permission.
func (e *Engine) GetRequiredGrantIds(appID, perm string) []string {
	if e.IsBasePermission(appID, perm) {
		return nil
	}

	r, ok := e.apps.Load(appID)
	if !ok {
		return nil
	}

	var ids []string
	for grantID, set := range r.grants {
		for pattern := range set {
			if matches(pattern, perm) {
				ids = append(ids, grantID)
				break
			}
		}
	}
	return ids
}

// SetEventPermission registers the permission required to subscribe to
// subject, consulted by the Subscription Bus's subscribe guard.
func (e *Engine) SetEventPermission(subject, requiredPermission string) {
	e.eventPerms.Store(subject, requiredPermission)
}

// EventPermission returns the permission required to subscribe to subject,
// or "" if the subject is unrestricted.
func (e *Engine) EventPermission(subject string) string {
	perm, _ := e.eventPerms.Load(subject)
	return perm
}
