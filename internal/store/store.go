// Package store implements the persisted state layout: three key-value
// stores (users, settings, app-scoped blobs) plus per-section seed
// version markers, on gorm+sqlite exactly as hscontrol/db and
// hscontrol/api_key.go persist headscale's API keys and routes.
package store

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/b0czek/eden/internal/session"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// userRow is the gorm model backing the users store
// (user:<username>, users:index, users:default).
type userRow struct {
	Username    string `gorm:"primaryKey"`
	DisplayName string
	Role        string
	GrantsJSON  string
	PasswordHash []byte
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (userRow) TableName() string { return "eden_users" }

// metaRow is a generic key/value row used for the users:default marker and
// the seed version markers (_seed:users:version, _seed:settings:version).
type metaRow struct {
	Key   string `gorm:"primaryKey"`
	Value string
}

func (metaRow) TableName() string { return "eden_meta" }

// settingRow backs the settings store (<appId>:<key>).
type settingRow struct {
	AppID string `gorm:"primaryKey"`
	Key   string `gorm:"primaryKey"`
	Value string
}

func (settingRow) TableName() string { return "eden_settings" }

// blobRow backs the app-scoped blob store (<appId>:<key>), distinct from
// settings in that values are opaque app data rather than grant-gated
// settings.
type blobRow struct {
	AppID string `gorm:"primaryKey"`
	Key   string `gorm:"primaryKey"`
	Value []byte
}

func (blobRow) TableName() string { return "eden_app_blobs" }

const defaultUsernameKey = "users:default"

// Store is the gorm-backed implementation of the persisted layout.
type Store struct {
	db *gorm.DB
}

// Open runs auto-migration and returns a ready Store, matching the
// teacher's db.NewHeadscaleDatabase migrate-then-serve pattern.
func Open(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&userRow{}, &metaRow{}, &settingRow{}, &blobRow{}); err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// OpenSQLite opens a gorm DB backed by the pure-Go modernc sqlite driver
// (via glebarez/sqlite, the same dialector headscale carries for
// architectures where cgo sqlite is unavailable) and runs migrations.
func OpenSQLite(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	return Open(db)
}

// --- session.Store ---

var _ session.Store = (*Store)(nil)

func (s *Store) GetProfile(username string) (*session.Profile, bool, error) {
	var row userRow
	err := s.db.First(&row, "username = ?", username).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var grants []string
	if row.GrantsJSON != "" {
		if err := json.Unmarshal([]byte(row.GrantsJSON), &grants); err != nil {
			return nil, false, err
		}
	}

	return &session.Profile{
		Username:    row.Username,
		DisplayName: row.DisplayName,
		Role:        session.Role(row.Role),
		Grants:      grants,
		CreatedAt:   row.CreatedAt,
		UpdatedAt:   row.UpdatedAt,
	}, true, nil
}

// PutProfile upserts a user row, creating it on first write and otherwise
// updating only display_name, role, grants_json, and updated_at. The
// conflict clause is deliberate: a plain Save on a struct built without
// PasswordHash/CreatedAt would issue a full-column UPDATE and zero both out
// on every Grant/Revoke.
func (s *Store) PutProfile(p *session.Profile) error {
	grantsJSON, err := json.Marshal(p.Grants)
	if err != nil {
		return err
	}

	now := time.Now()
	row := userRow{
		Username:    p.Username,
		DisplayName: p.DisplayName,
		Role:        string(p.Role),
		GrantsJSON:  string(grantsJSON),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "username"}},
		DoUpdates: clause.AssignmentColumns([]string{"display_name", "role", "grants_json", "updated_at"}),
	}).Create(&row).Error
}

func (s *Store) GetPasswordHash(username string) ([]byte, bool, error) {
	var row userRow
	err := s.db.Select("password_hash").First(&row, "username = ?", username).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if len(row.PasswordHash) == 0 {
		return nil, false, nil
	}
	return row.PasswordHash, true, nil
}

func (s *Store) PutPasswordHash(username string, hash []byte) error {
	return s.db.Model(&userRow{}).Where("username = ?", username).Update("password_hash", hash).Error
}

func (s *Store) DefaultUsername() (string, bool, error) {
	var row metaRow
	err := s.db.First(&row, "key = ?", defaultUsernameKey).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return row.Value, true, nil
}

func (s *Store) SetDefaultUsername(username string) error {
	return s.db.Save(&metaRow{Key: defaultUsernameKey, Value: username}).Error
}

// --- settings store ---

func (s *Store) GetSetting(appID, key string) (string, bool, error) {
	var row settingRow
	err := s.db.First(&row, "app_id = ? AND key = ?", appID, key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return row.Value, true, nil
}

func (s *Store) PutSetting(appID, key, value string) error {
	return s.db.Save(&settingRow{AppID: appID, Key: key, Value: value}).Error
}

// --- app-scoped blob store ---

func (s *Store) GetBlob(appID, key string) ([]byte, bool, error) {
	var row blobRow
	err := s.db.First(&row, "app_id = ? AND key = ?", appID, key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return row.Value, true, nil
}

func (s *Store) PutBlob(appID, key string, value []byte) error {
	return s.db.Save(&blobRow{AppID: appID, Key: key, Value: value}).Error
}

// --- seed version markers ---

// SeedVersion returns the applied version for a seed section
// (_seed:<section>:version), or 0 if never applied.
func (s *Store) SeedVersion(section string) (int, error) {
	var row metaRow
	err := s.db.First(&row, "key = ?", seedKey(section)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	var v int
	if err := json.Unmarshal([]byte(row.Value), &v); err != nil {
		return 0, err
	}
	return v, nil
}

// SetSeedVersion records that a seed section has been applied up to
// version.
func (s *Store) SetSeedVersion(section string, version int) error {
	b, err := json.Marshal(version)
	if err != nil {
		return err
	}
	return s.db.Save(&metaRow{Key: seedKey(section), Value: string(b)}).Error
}

func seedKey(section string) string {
	return "_seed:" + section + ":version"
}
