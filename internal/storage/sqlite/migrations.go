package sqlite

const schema = `
-- Browser profiles
CREATE TABLE IF NOT EXISTS profiles (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL DEFAULT '',
    user_agent TEXT NOT NULL DEFAULT '',
    language TEXT NOT NULL DEFAULT '',
    timezone TEXT NOT NULL DEFAULT '',
    preset TEXT NOT NULL DEFAULT 'none',
    apply_cdp_overrides BOOLEAN NOT NULL DEFAULT 1,
    force_webrtc_proxy BOOLEAN NOT NULL DEFAULT 1,

    -- Upstream proxy
    proxy_scheme TEXT NOT NULL DEFAULT 'http',
    proxy_host TEXT NOT NULL DEFAULT '',
    proxy_port INTEGER,
    proxy_username TEXT NOT NULL DEFAULT '',
    proxy_password TEXT NOT NULL DEFAULT '',
    proxy_country TEXT NOT NULL DEFAULT '',

    screen_width INTEGER NOT NULL DEFAULT 1920,
    screen_height INTEGER NOT NULL DEFAULT 1080,
    status TEXT NOT NULL DEFAULT 'offline',
    tags TEXT NOT NULL DEFAULT '',
    os_name TEXT NOT NULL DEFAULT 'Windows',

    last_used TIMESTAMP,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

-- Launch history
CREATE TABLE IF NOT EXISTS launches (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    profile_id TEXT NOT NULL,
    pid INTEGER NOT NULL,
    proxy TEXT NOT NULL DEFAULT '',
    proxy_source TEXT NOT NULL DEFAULT 'direct',
    relay BOOLEAN NOT NULL DEFAULT 0,
    started_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (profile_id) REFERENCES profiles(id) ON DELETE CASCADE
);

-- Application settings
CREATE TABLE IF NOT EXISTS settings (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_profiles_status ON profiles(status);
CREATE INDEX IF NOT EXISTS idx_profiles_name ON profiles(name);
CREATE INDEX IF NOT EXISTS idx_launches_profile_id ON launches(profile_id);
CREATE INDEX IF NOT EXISTS idx_launches_started_at ON launches(started_at);

CREATE TRIGGER IF NOT EXISTS update_settings_timestamp AFTER UPDATE ON settings
BEGIN
    UPDATE settings SET updated_at = CURRENT_TIMESTAMP WHERE key = NEW.key;
END;
`

const defaultData = `
INSERT OR IGNORE INTO settings (key, value) VALUES
    ('scan_workers', '24'),
    ('validate_timeout_ms', '6000'),
    ('default_preset', 'none');
`

// runMigrations executes the database schema and default data
func runMigrations(db *DB) error {
	if _, err := db.db.Exec(schema); err != nil {
		return err
	}
	if _, err := db.db.Exec(defaultData); err != nil {
		return err
	}
	return nil
}
