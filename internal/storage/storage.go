package storage

import (
	"context"

	"chromefleet/internal/storage/models"
)

// Storage defines the interface for data persistence
type Storage interface {
	// Profile operations
	CreateProfile(ctx context.Context, profile *models.Profile) error
	GetProfile(ctx context.Context, id string) (*models.Profile, error)
	GetAllProfiles(ctx context.Context, filter ProfileFilter) ([]*models.Profile, error)
	UpdateProfile(ctx context.Context, profile *models.Profile) error
	DeleteProfile(ctx context.Context, id string) error
	SetProfileStatus(ctx context.Context, id, status string) error
	MarkLaunched(ctx context.Context, id string) error

	// Launch history
	RecordLaunch(ctx context.Context, launch *models.Launch) error
	GetLaunchHistory(ctx context.Context, profileID string, limit int) ([]*models.Launch, error)

	// Settings operations
	GetSetting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key, value string) error
	GetAllSettings(ctx context.Context) (map[string]string, error)

	// Transactions
	BeginTx(ctx context.Context) (Transaction, error)

	// Close closes the storage connection
	Close() error
}

// ProfileFilter represents filters for querying profiles
type ProfileFilter struct {
	Status     *string
	Preset     *string
	SearchTerm string // Search in name, tags, proxy host
}

// Transaction represents a database transaction
type Transaction interface {
	Commit() error
	Rollback() error
	Storage
}
