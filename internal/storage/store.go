package storage

import (
	"context"
	"errors"

	"github.com/espnow-hub/espnow-hub-pro/internal/models"
	"github.com/espnow-hub/espnow-hub-pro/pkg/espnow"
)

// Common errors
var (
	ErrNotFound     = errors.New("not found")
	ErrDuplicateKey = errors.New("duplicate key")
)

// Store defines the collector's storage interface
type Store interface {
	// Device methods
	CreateDevice(ctx context.Context, device *models.Device) error
	GetDevice(ctx context.Context, addr espnow.Addr) (*models.Device, error)
	UpdateDevice(ctx context.Context, device *models.Device) error
	ListDevices(ctx context.Context, limit, offset int) ([]*models.Device, int64, error)

	// Reading methods
	CreateReading(ctx context.Context, reading *models.Reading) error
	ListReadings(ctx context.Context, addr espnow.Addr, limit, offset int) ([]*models.Reading, int64, error)
	LatestReading(ctx context.Context, addr espnow.Addr) (*models.Reading, error)

	Close() error
}
