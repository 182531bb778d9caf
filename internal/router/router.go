// Package router implements the Command Router: a registry
// mapping namespaced commands to handler descriptors, permission/grant
// arbitration, and caller-context injection. The manager/handler split into
// decorators is reimplemented as an explicit
// registration table built at construction time.
// Idempotent-registration-with-warning is grounded on the
// upsert-and-log pattern seen throughout hscontrol/db (Save semantics) and
// its zerolog usage.
package router

import (
	"errors"
	"fmt"
	"sync"

	"github.com/b0czek/eden/internal/coreerr"
	"github.com/b0czek/eden/internal/metrics"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

// CallerContext is the explicit caller-identity record the router passes
// alongside the request payload, resolving the Design Note that forbids
// merging _callerAppId/_callerWebContentsId/_isFoundation into the
// user-visible argument type.
type CallerContext struct {
	AppID        string // "" when the caller is the trusted foundation
	ViewID       string
	IsFoundation bool
}

// Handler is a registered command implementation.
type Handler func(ctx CallerContext, args any) (any, error)

// PermissionChecker is satisfied by internal/permission.Engine.
type PermissionChecker interface {
	HasPermission(appID, perm string) bool
	IsBasePermission(appID, perm string) bool
	GetRequiredGrantIds(appID, perm string) []string
}

// GrantChecker is satisfied by internal/session.Manager.
type GrantChecker interface {
	HasGrant(required string) bool
}

// descriptor is a registered command's handler plus its gating rules.
type descriptor struct {
	invoke             Handler
	ownerRef           string
	requiredPermission string
	requiredGrant      string
	methodName         string
}

// Router dispatches namespaced commands to handlers.
type Router struct {
	perms  PermissionChecker
	grants GrantChecker
	logger zerolog.Logger

	mu       sync.RWMutex
	handlers map[string]descriptor
}

// New constructs a Router bound to a Permission Engine and the current
// session's grant checker.
func New(perms PermissionChecker, grants GrantChecker, logger zerolog.Logger) *Router {
	return &Router{
		perms:    perms,
		grants:   grants,
		logger:   logger,
		handlers: make(map[string]descriptor),
	}
}

// Register adds a command handler. Registration is idempotent per command;
// overwriting logs a warning rather than failing, so two successive
// register(cmd, h) calls leave exactly h resolvable.
func (r *Router) Register(fullCommand, ownerRef, requiredPermission, requiredGrant, methodName string, invoke Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[fullCommand]; exists {
		r.logger.Warn().Str("command", fullCommand).Msg("overwriting already-registered command handler")
	}

	r.handlers[fullCommand] = descriptor{
		invoke:             invoke,
		ownerRef:           ownerRef,
		requiredPermission: requiredPermission,
		requiredGrant:      requiredGrant,
		methodName:         methodName,
	}
}

// Verbs enumerates the commands registered for ownerRef, the router's
// stand-in for reflection-based metadata enumeration.
func (r *Router) Verbs(ownerRef string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	type entry struct {
		cmd string
		d   descriptor
	}
	entries := make([]entry, 0, len(r.handlers))
	for cmd, d := range r.handlers {
		entries = append(entries, entry{cmd, d})
	}

	owned := lo.Filter(entries, func(e entry, _ int) bool { return e.d.ownerRef == ownerRef })
	return lo.Map(owned, func(e entry, _ int) string { return e.cmd })
}

// Execute dispatches fullCommand with the given caller app and view id,
// enforcing permission and grant arbitration. callerViewID is "" for
// callers with no originating view (workers, the foundation itself).
func (r *Router) Execute(fullCommand string, args any, callerAppID, callerViewID string) (result any, err error) {
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = "denied"
			var ce *coreerr.CoreError
			if !errors.As(err, &ce) || ce.Kind != coreerr.KindPermissionDenied && ce.Kind != coreerr.KindGrantDenied {
				outcome = "error"
			}
		}
		metrics.CommandsTotal.WithLabelValues(fullCommand, outcome).Inc()
	}()

	r.mu.RLock()
	d, ok := r.handlers[fullCommand]
	r.mu.RUnlock()

	if !ok {
		return nil, coreerr.UnknownCommand(fullCommand)
	}

	// Step 2: permission check, skipped entirely when the caller is the
	// trusted foundation (callerAppID == "").
	if d.requiredPermission != "" && callerAppID != "" {
		if !r.perms.HasPermission(callerAppID, d.requiredPermission) {
			return nil, coreerr.PermissionDenied(d.requiredPermission, fullCommand)
		}

		if !r.perms.IsBasePermission(callerAppID, d.requiredPermission) {
			grantIDs := r.perms.GetRequiredGrantIds(callerAppID, d.requiredPermission)
			if !r.anyGrantHeld(callerAppID, grantIDs) {
				return nil, coreerr.GrantDenied(grantKey(callerAppID, grantIDs), fullCommand)
			}
		}
	}

	// Step 3: direct user-grant requirement, enforced regardless of caller
	// identity (foundation callers still need user grants).
	if d.requiredGrant != "" {
		if r.grants == nil || !r.grants.HasGrant(d.requiredGrant) {
			return nil, coreerr.GrantDenied(d.requiredGrant, fullCommand)
		}
	}

	ctx := CallerContext{
		AppID:        callerAppID,
		ViewID:       callerViewID,
		IsFoundation: callerAppID == "",
	}

	return d.invoke(ctx, args)
}

func (r *Router) anyGrantHeld(callerAppID string, grantIDs []string) bool {
	if r.grants == nil {
		return false
	}
	for _, id := range grantIDs {
		if r.grants.HasGrant(fmt.Sprintf("app/%s/%s", callerAppID, id)) {
			return true
		}
	}
	return false
}

func grantKey(appID string, grantIDs []string) string {
	if len(grantIDs) == 0 {
		return ""
	}
	return fmt.Sprintf("app/%s/%s", appID, grantIDs[0])
}
