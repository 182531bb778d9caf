// Package session implements User & Session: profile
// storage, authentication, the current-user singleton, grant evaluation,
// and the session-gated autostart variant chosen in DESIGN.md. Password
// hashing follows the bcrypt hash/verify pattern in hscontrol/api_key.go.
package session

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/b0czek/eden/internal/coreerr"
	"golang.org/x/crypto/bcrypt"
)

// Role is a user's role.
type Role string

const (
	RoleVendor   Role = "vendor"
	RoleStandard Role = "standard"
)

// ChangeReason is carried on every user/changed event.
type ChangeReason string

const (
	ReasonLogin  ChangeReason = "login"
	ReasonLogout ChangeReason = "logout"
	ReasonSystem ChangeReason = "system"
)

// Profile is the persisted user record, password material
// stored separately from the profile by the Store.
type Profile struct {
	Username    string
	DisplayName string
	Role        Role
	Grants      []string // ordered set of strings
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ChangeEvent is published on the Subscription Bus subject "user/changed".
type ChangeEvent struct {
	CurrentUser       string
	PreviousUsername  string
	Reason            ChangeReason
}

// Store persists user profiles and credentials. Implemented by
// internal/store atop gorm, matching hscontrol/api_key.go's persistence
// shape.
type Store interface {
	GetProfile(username string) (*Profile, bool, error)
	PutProfile(p *Profile) error
	GetPasswordHash(username string) ([]byte, bool, error)
	PutPasswordHash(username string, hash []byte) error
	DefaultUsername() (string, bool, error)
	SetDefaultUsername(username string) error
}

var (
	ErrAuthFailed            = errors.New("authentication failed")
	ErrIllegalRoleTransition = errors.New("illegal role transition")
)

// CoreSet identifies apps that every user may launch regardless of grants
// evaluated by canLaunchApp.
type CoreSet map[string]struct{}

// Manager owns the current-user singleton and grant evaluation.
type Manager struct {
	store   Store
	coreSet CoreSet

	mu          sync.RWMutex
	current     *Profile
	autostartOK bool // true once a prior session's stops have fully drained

	onChange func(ChangeEvent)
}

// New constructs a Manager. onChange is invoked synchronously on every
// user change; callers typically wire it to publish on the Subscription
// Bus subject "user/changed".
func New(store Store, coreSet CoreSet, onChange func(ChangeEvent)) *Manager {
	return &Manager{store: store, coreSet: coreSet, onChange: onChange}
}

// Bootstrap establishes the default user as current at startup, silently,
// so the first CanLaunchApp call after boot already has a current user.
func (m *Manager) Bootstrap() error {
	username, ok, err := m.store.DefaultUsername()
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	profile, found, err := m.store.GetProfile(username)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}

	m.mu.Lock()
	m.current = profile
	m.autostartOK = true
	m.mu.Unlock()

	return nil
}

// Login verifies the password hash and switches the current user.
func (m *Manager) Login(username, password string) error {
	hash, found, err := m.store.GetPasswordHash(username)
	if err != nil {
		return err
	}
	if !found {
		return coreerr.Wrap(coreerr.KindAuthFailed, ErrAuthFailed, "authentication failed")
	}

	if err := bcrypt.CompareHashAndPassword(hash, []byte(password)); err != nil {
		return coreerr.Wrap(coreerr.KindAuthFailed, ErrAuthFailed, "authentication failed")
	}

	profile, found, err := m.store.GetProfile(username)
	if err != nil {
		return err
	}
	if !found {
		return coreerr.Wrap(coreerr.KindAuthFailed, ErrAuthFailed, "authentication failed")
	}

	m.mu.Lock()
	prev := ""
	if m.current != nil {
		prev = m.current.Username
	}
	m.current = profile
	m.mu.Unlock()

	m.emit(ChangeEvent{CurrentUser: username, PreviousUsername: prev, Reason: ReasonLogin})
	return nil
}

// Logout clears the current user.
func (m *Manager) Logout() {
	m.mu.Lock()
	prev := ""
	if m.current != nil {
		prev = m.current.Username
	}
	m.current = nil
	m.autostartOK = false
	m.mu.Unlock()

	m.emit(ChangeEvent{CurrentUser: "", PreviousUsername: prev, Reason: ReasonLogout})
}

// MarkDrained is called once Process Lifecycle has finished sequentially
// stopping every running app after a session change. Only after this call
// may the next session's apps be autostarted, resolving the session-gated
// autostart variant chosen in DESIGN.md.
func (m *Manager) MarkDrained() {
	m.mu.Lock()
	m.autostartOK = true
	m.mu.Unlock()
}

// AutostartReady reports whether stored per-app autostart toggles may be
// applied for the current session.
func (m *Manager) AutostartReady() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.autostartOK
}

func (m *Manager) emit(ev ChangeEvent) {
	if m.onChange != nil {
		m.onChange(ev)
	}
}

// Current returns the current profile, or nil if logged out.
func (m *Manager) Current() *Profile {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil {
		return nil
	}
	cp := *m.current
	return &cp
}

// IsVendor reports whether the current user is a vendor (bypasses all
// grant checks).
func (m *Manager) IsVendor() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current != nil && m.current.Role == RoleVendor
}

// HasGrant succeeds when the current user is a vendor, or their grant set
// contains required, "*", or any "ns/*" pattern covering required.
func (m *Manager) HasGrant(required string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.current == nil {
		return false
	}
	if m.current.Role == RoleVendor {
		return true
	}

	for _, g := range m.current.Grants {
		if grantMatches(g, required) {
			return true
		}
	}
	return false
}

func grantMatches(pattern, required string) bool {
	if pattern == required || pattern == "*" {
		return true
	}
	if strings.HasSuffix(pattern, "/*") {
		return strings.HasPrefix(required, strings.TrimSuffix(pattern, "*"))
	}
	return false
}

// CanLaunchApp succeeds when the app is in the core set, the user is a
// vendor, or their grants cover apps/launch/<appId>.
func (m *Manager) CanLaunchApp(appID string) bool {
	if _, core := m.coreSet[appID]; core {
		return true
	}
	if m.IsVendor() {
		return true
	}
	return m.HasGrant("apps/launch/" + appID)
}

// Grant adds permission to the current user's grant set, persisting the
// change. A no-op if the user already holds an equal or broader pattern.
func (m *Manager) Grant(permission string) error {
	m.mu.Lock()
	if m.current == nil {
		m.mu.Unlock()
		return coreerr.Wrap(coreerr.KindAuthFailed, ErrAuthFailed, "no current user")
	}
	for _, g := range m.current.Grants {
		if grantMatches(g, permission) {
			m.mu.Unlock()
			return nil
		}
	}
	m.current.Grants = append(m.current.Grants, permission)
	cp := *m.current
	m.mu.Unlock()

	return m.store.PutProfile(&cp)
}

// Revoke removes permission from the current user's grant set.
func (m *Manager) Revoke(permission string) error {
	m.mu.Lock()
	if m.current == nil {
		m.mu.Unlock()
		return coreerr.Wrap(coreerr.KindAuthFailed, ErrAuthFailed, "no current user")
	}
	out := m.current.Grants[:0:0]
	for _, g := range m.current.Grants {
		if g != permission {
			out = append(out, g)
		}
	}
	m.current.Grants = out
	cp := *m.current
	m.mu.Unlock()

	return m.store.PutProfile(&cp)
}

// CanAccessSetting consults settings/<appId>/<key>.
func (m *Manager) CanAccessSetting(appID, key string) bool {
	if m.IsVendor() {
		return true
	}
	return m.HasGrant("settings/" + appID + "/" + key)
}

// SetRole enforces role-transition invariants: vendor cannot be demoted,
// non-vendor cannot be promoted to vendor (vendor seats are seed-only).
func SetRole(p *Profile, newRole Role) error {
	if p.Role == RoleVendor && newRole != RoleVendor {
		return coreerr.Wrap(coreerr.KindIllegalRoleTransition, ErrIllegalRoleTransition, "vendor cannot be demoted")
	}
	if p.Role != RoleVendor && newRole == RoleVendor {
		return coreerr.Wrap(coreerr.KindIllegalRoleTransition, ErrIllegalRoleTransition, "non-vendor cannot be promoted to vendor")
	}
	p.Role = newRole
	return nil
}

// HashPassword hashes a plaintext password for storage.
func HashPassword(password string) ([]byte, error) {
	return bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
}
