package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"chromefleet/internal/storage"
	"chromefleet/internal/storage/models"
	pkgerrors "chromefleet/pkg/errors"
)

// dbHandle is the common interface between *sql.DB and *sql.Tx.
type dbHandle interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// DB implements the Storage interface using SQLite
type DB struct {
	db *sql.DB
}

// New creates a new SQLite storage instance
func New(dbPath string) (*DB, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite serializes writers; one connection avoids SQLITE_BUSY between
	// the scheduler and CLI commands in the same process.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)

	storage := &DB{db: db}

	if err := runMigrations(storage); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return storage, nil
}

// Close closes the database connection
func (d *DB) Close() error {
	return d.db.Close()
}

func (d *DB) handle() dbHandle { return d.db }

// BeginTx starts a new transaction
func (d *DB) BeginTx(ctx context.Context) (storage.Transaction, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &Tx{tx: tx}, nil
}

// Tx implements the Transaction interface
type Tx struct {
	tx *sql.Tx
}

func (t *Tx) Commit() error    { return t.tx.Commit() }
func (t *Tx) Rollback() error  { return t.tx.Rollback() }
func (t *Tx) handle() dbHandle { return t.tx }

func (t *Tx) BeginTx(ctx context.Context) (storage.Transaction, error) {
	return nil, fmt.Errorf("nested transactions not supported")
}

func (t *Tx) Close() error { return nil }

// ─── Profile operations ─────────────────────────────────────────────────────

const profileColumns = `
	id, name, user_agent, language, timezone, preset, apply_cdp_overrides, force_webrtc_proxy,
	proxy_scheme, proxy_host, proxy_port, proxy_username, proxy_password, proxy_country,
	screen_width, screen_height, status, tags, os_name, last_used, created_at, updated_at
`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanProfile(s scanner) (*models.Profile, error) {
	p := &models.Profile{}
	err := s.Scan(
		&p.ID, &p.Name, &p.UserAgent, &p.Language, &p.Timezone, &p.Preset,
		&p.ApplyCDPOverrides, &p.ForceWebRTCProxy,
		&p.Scheme, &p.Host, &p.Port, &p.Username, &p.Password, &p.Country,
		&p.ScreenWidth, &p.ScreenHeight, &p.Status, &p.Tags, &p.OSName,
		&p.LastUsed, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (d *DB) CreateProfile(ctx context.Context, profile *models.Profile) error {
	return createProfile(ctx, d.handle(), profile)
}
func (t *Tx) CreateProfile(ctx context.Context, profile *models.Profile) error {
	return createProfile(ctx, t.handle(), profile)
}

func createProfile(ctx context.Context, h dbHandle, p *models.Profile) error {
	if p.ID == "" {
		p.ID = models.NewID()
	}
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = now
	}

	query := `
		INSERT INTO profiles (` + profileColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := h.ExecContext(ctx, query,
		p.ID, p.Name, p.UserAgent, p.Language, p.Timezone, p.Preset,
		p.ApplyCDPOverrides, p.ForceWebRTCProxy,
		p.Scheme, p.Host, p.Port, p.Username, p.Password, p.Country,
		p.ScreenWidth, p.ScreenHeight, p.Status, p.Tags, p.OSName,
		p.LastUsed, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create profile: %w", err)
	}
	return nil
}

func (d *DB) GetProfile(ctx context.Context, id string) (*models.Profile, error) {
	return getProfile(ctx, d.handle(), id)
}
func (t *Tx) GetProfile(ctx context.Context, id string) (*models.Profile, error) {
	return getProfile(ctx, t.handle(), id)
}

func getProfile(ctx context.Context, h dbHandle, id string) (*models.Profile, error) {
	query := `SELECT ` + profileColumns + ` FROM profiles WHERE id = ?`
	p, err := scanProfile(h.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, &pkgerrors.ProfileError{ProfileID: id, Err: pkgerrors.ErrProfileNotFound}
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (d *DB) GetAllProfiles(ctx context.Context, filter storage.ProfileFilter) ([]*models.Profile, error) {
	return getAllProfiles(ctx, d.handle(), filter)
}
func (t *Tx) GetAllProfiles(ctx context.Context, filter storage.ProfileFilter) ([]*models.Profile, error) {
	return getAllProfiles(ctx, t.handle(), filter)
}

func getAllProfiles(ctx context.Context, h dbHandle, filter storage.ProfileFilter) ([]*models.Profile, error) {
	query := `SELECT ` + profileColumns + ` FROM profiles WHERE 1=1`
	args := []interface{}{}

	if filter.Status != nil {
		query += " AND status = ?"
		args = append(args, *filter.Status)
	}
	if filter.Preset != nil {
		query += " AND preset = ?"
		args = append(args, *filter.Preset)
	}
	if filter.SearchTerm != "" {
		query += " AND (name LIKE ? OR tags LIKE ? OR proxy_host LIKE ?)"
		searchPattern := "%" + filter.SearchTerm + "%"
		args = append(args, searchPattern, searchPattern, searchPattern)
	}
	query += " ORDER BY name ASC, created_at ASC"

	rows, err := h.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var profiles []*models.Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, p)
	}
	return profiles, rows.Err()
}

func (d *DB) UpdateProfile(ctx context.Context, profile *models.Profile) error {
	return updateProfile(ctx, d.handle(), profile)
}
func (t *Tx) UpdateProfile(ctx context.Context, profile *models.Profile) error {
	return updateProfile(ctx, t.handle(), profile)
}

func updateProfile(ctx context.Context, h dbHandle, p *models.Profile) error {
	p.UpdatedAt = time.Now().UTC()
	query := `
		UPDATE profiles
		SET name = ?, user_agent = ?, language = ?, timezone = ?, preset = ?,
		    apply_cdp_overrides = ?, force_webrtc_proxy = ?,
		    proxy_scheme = ?, proxy_host = ?, proxy_port = ?, proxy_username = ?, proxy_password = ?, proxy_country = ?,
		    screen_width = ?, screen_height = ?, status = ?, tags = ?, os_name = ?,
		    last_used = ?, updated_at = ?
		WHERE id = ?
	`
	result, err := h.ExecContext(ctx, query,
		p.Name, p.UserAgent, p.Language, p.Timezone, p.Preset,
		p.ApplyCDPOverrides, p.ForceWebRTCProxy,
		p.Scheme, p.Host, p.Port, p.Username, p.Password, p.Country,
		p.ScreenWidth, p.ScreenHeight, p.Status, p.Tags, p.OSName,
		p.LastUsed, p.UpdatedAt, p.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update profile: %w", err)
	}
	return requireRow(result, p.ID)
}

func (d *DB) DeleteProfile(ctx context.Context, id string) error {
	return deleteProfile(ctx, d.handle(), id)
}
func (t *Tx) DeleteProfile(ctx context.Context, id string) error {
	return deleteProfile(ctx, t.handle(), id)
}

func deleteProfile(ctx context.Context, h dbHandle, id string) error {
	result, err := h.ExecContext(ctx, "DELETE FROM profiles WHERE id = ?", id)
	if err != nil {
		return err
	}
	return requireRow(result, id)
}

func (d *DB) SetProfileStatus(ctx context.Context, id, status string) error {
	return setProfileStatus(ctx, d.handle(), id, status)
}
func (t *Tx) SetProfileStatus(ctx context.Context, id, status string) error {
	return setProfileStatus(ctx, t.handle(), id, status)
}

func setProfileStatus(ctx context.Context, h dbHandle, id, status string) error {
	result, err := h.ExecContext(ctx,
		"UPDATE profiles SET status = ?, updated_at = ? WHERE id = ?",
		status, time.Now().UTC(), id,
	)
	if err != nil {
		return err
	}
	return requireRow(result, id)
}

func (d *DB) MarkLaunched(ctx context.Context, id string) error {
	return markLaunched(ctx, d.handle(), id)
}
func (t *Tx) MarkLaunched(ctx context.Context, id string) error {
	return markLaunched(ctx, t.handle(), id)
}

func markLaunched(ctx context.Context, h dbHandle, id string) error {
	now := time.Now().UTC()
	result, err := h.ExecContext(ctx,
		"UPDATE profiles SET status = ?, last_used = ?, updated_at = ? WHERE id = ?",
		models.StatusRunning, now, now, id,
	)
	if err != nil {
		return err
	}
	return requireRow(result, id)
}

func requireRow(result sql.Result, id string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return &pkgerrors.ProfileError{ProfileID: id, Err: pkgerrors.ErrProfileNotFound}
	}
	return nil
}

// ─── Launch history ─────────────────────────────────────────────────────────

func (d *DB) RecordLaunch(ctx context.Context, launch *models.Launch) error {
	return recordLaunch(ctx, d.handle(), launch)
}
func (t *Tx) RecordLaunch(ctx context.Context, launch *models.Launch) error {
	return recordLaunch(ctx, t.handle(), launch)
}

func recordLaunch(ctx context.Context, h dbHandle, launch *models.Launch) error {
	if launch.StartedAt.IsZero() {
		launch.StartedAt = time.Now().UTC()
	}
	query := `
		INSERT INTO launches (profile_id, pid, proxy, proxy_source, relay, started_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	result, err := h.ExecContext(ctx, query,
		launch.ProfileID, launch.PID, launch.Proxy, launch.ProxySource, launch.Relay, launch.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record launch: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	launch.ID = id
	return nil
}

func (d *DB) GetLaunchHistory(ctx context.Context, profileID string, limit int) ([]*models.Launch, error) {
	return getLaunchHistory(ctx, d.handle(), profileID, limit)
}
func (t *Tx) GetLaunchHistory(ctx context.Context, profileID string, limit int) ([]*models.Launch, error) {
	return getLaunchHistory(ctx, t.handle(), profileID, limit)
}

func getLaunchHistory(ctx context.Context, h dbHandle, profileID string, limit int) ([]*models.Launch, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `
		SELECT id, profile_id, pid, proxy, proxy_source, relay, started_at
		FROM launches
		WHERE profile_id = ?
		ORDER BY started_at DESC, id DESC
		LIMIT ?
	`
	rows, err := h.QueryContext(ctx, query, profileID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var launches []*models.Launch
	for rows.Next() {
		l := &models.Launch{}
		if err := rows.Scan(&l.ID, &l.ProfileID, &l.PID, &l.Proxy, &l.ProxySource, &l.Relay, &l.StartedAt); err != nil {
			return nil, err
		}
		launches = append(launches, l)
	}
	return launches, rows.Err()
}

// ─── Settings operations ────────────────────────────────────────────────────

func (d *DB) GetSetting(ctx context.Context, key string) (string, error) {
	return getSetting(ctx, d.handle(), key)
}
func (t *Tx) GetSetting(ctx context.Context, key string) (string, error) {
	return getSetting(ctx, t.handle(), key)
}

func getSetting(ctx context.Context, h dbHandle, key string) (string, error) {
	var value string
	err := h.QueryRowContext(ctx, "SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("%w: %s", pkgerrors.ErrSettingNotFound, key)
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

func (d *DB) SetSetting(ctx context.Context, key, value string) error {
	return setSetting(ctx, d.handle(), key, value)
}
func (t *Tx) SetSetting(ctx context.Context, key, value string) error {
	return setSetting(ctx, t.handle(), key, value)
}

func setSetting(ctx context.Context, h dbHandle, key, value string) error {
	query := `
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`
	_, err := h.ExecContext(ctx, query, key, value)
	return err
}

func (d *DB) GetAllSettings(ctx context.Context) (map[string]string, error) {
	return getAllSettings(ctx, d.handle())
}
func (t *Tx) GetAllSettings(ctx context.Context) (map[string]string, error) {
	return getAllSettings(ctx, t.handle())
}

func getAllSettings(ctx context.Context, h dbHandle) (map[string]string, error) {
	rows, err := h.QueryContext(ctx, "SELECT key, value FROM settings")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	settings := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		settings[key] = value
	}
	return settings, rows.Err()
}
