package store

import (
	"testing"
	"time"

	"github.com/b0czek/eden/internal/session"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenSQLite("file::memory:?cache=shared")
	require.NoError(t, err)
	return s
}

func TestProfileRoundTrip(t *testing.T) {
	s := newTestStore(t)

	p := &session.Profile{
		Username:    "alice",
		DisplayName: "Alice",
		Role:        session.RoleStandard,
		Grants:      []string{"apps/launch/com.example.foo", "settings/com.example/theme"},
		UpdatedAt:   time.Now(),
	}
	require.NoError(t, s.PutProfile(p))

	got, found, err := s.GetProfile("alice")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, p.Username, got.Username)
	require.ElementsMatch(t, p.Grants, got.Grants)
}

func TestPasswordHashRoundTrip(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.PutProfile(&session.Profile{Username: "bob"}))
	require.NoError(t, s.PutPasswordHash("bob", []byte("hashed")))

	hash, found, err := s.GetPasswordHash("bob")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("hashed"), hash)
}

// Covers: a later PutProfile (as Grant/Revoke issue on every call) must not
// wipe out a password hash set by an earlier, independent write.
func TestPutProfileDoesNotClearPasswordHash(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.PutProfile(&session.Profile{Username: "carol", Role: session.RoleStandard}))
	require.NoError(t, s.PutPasswordHash("carol", []byte("hashed")))

	require.NoError(t, s.PutProfile(&session.Profile{
		Username: "carol",
		Role:     session.RoleStandard,
		Grants:   []string{"fs/read"},
	}))

	hash, found, err := s.GetPasswordHash("carol")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("hashed"), hash)

	profile, found, err := s.GetProfile("carol")
	require.NoError(t, err)
	require.True(t, found)
	require.False(t, profile.CreatedAt.IsZero())
	require.ElementsMatch(t, []string{"fs/read"}, profile.Grants)
}

func TestDefaultUsername(t *testing.T) {
	s := newTestStore(t)

	_, found, err := s.DefaultUsername()
	require.NoError(t, err)
	require.False(t, found)

	require.NoError(t, s.SetDefaultUsername("alice"))
	username, found, err := s.DefaultUsername()
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "alice", username)
}

func TestSettingsAndBlobStoresAreIndependent(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.PutSetting("com.example.foo", "theme", "dark"))
	require.NoError(t, s.PutBlob("com.example.foo", "theme", []byte("binary-dark")))

	settingVal, found, err := s.GetSetting("com.example.foo", "theme")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "dark", settingVal)

	blobVal, found, err := s.GetBlob("com.example.foo", "theme")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("binary-dark"), blobVal)
}

func TestSeedVersionMarkers(t *testing.T) {
	s := newTestStore(t)

	v, err := s.SeedVersion("users")
	require.NoError(t, err)
	require.Equal(t, 0, v)

	require.NoError(t, s.SetSeedVersion("users", 3))
	v, err = s.SeedVersion("users")
	require.NoError(t, err)
	require.Equal(t, 3, v)
}
