package storage

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/espnow-hub/espnow-hub-pro/internal/models"
	"github.com/espnow-hub/espnow-hub-pro/pkg/espnow"
)

// ========== Device Methods ==========

// CreateDevice creates a new device
func (s *PostgresStore) CreateDevice(ctx context.Context, device *models.Device) error {
	now := time.Now()
	device.CreatedAt = now
	device.UpdatedAt = now

	query := `
        INSERT INTO devices (
            addr, device_id, name, description, first_seen_at, last_seen_at,
            last_channel, created_at, updated_at
        ) VALUES (
            $1, $2, $3, $4, $5, $6, $7, $8, $9
        )`

	_, err := s.db.ExecContext(ctx, query,
		device.Addr[:], device.DeviceID, device.Name, device.Description,
		device.FirstSeenAt, device.LastSeenAt, device.LastChannel,
		device.CreatedAt, device.UpdatedAt,
	)

	if err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			return ErrDuplicateKey
		}
		return err
	}

	return nil
}

// GetDevice gets a device by hardware address
func (s *PostgresStore) GetDevice(ctx context.Context, addr espnow.Addr) (*models.Device, error) {
	query := `
        SELECT addr, device_id, name, description, first_seen_at, last_seen_at,
               last_channel, created_at, updated_at
        FROM devices
        WHERE addr = $1`

	device := &models.Device{}
	var addrBytes []byte

	err := s.db.QueryRowContext(ctx, query, addr[:]).Scan(
		&addrBytes, &device.DeviceID, &device.Name, &device.Description,
		&device.FirstSeenAt, &device.LastSeenAt, &device.LastChannel,
		&device.CreatedAt, &device.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	copy(device.Addr[:], addrBytes)
	return device, nil
}

// UpdateDevice updates a device
func (s *PostgresStore) UpdateDevice(ctx context.Context, device *models.Device) error {
	device.UpdatedAt = time.Now()

	query := `
        UPDATE devices SET
            device_id = $2, name = $3, description = $4, first_seen_at = $5,
            last_seen_at = $6, last_channel = $7, updated_at = $8
        WHERE addr = $1`

	result, err := s.db.ExecContext(ctx, query,
		device.Addr[:], device.DeviceID, device.Name, device.Description,
		device.FirstSeenAt, device.LastSeenAt, device.LastChannel,
		device.UpdatedAt,
	)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// ListDevices lists devices ordered by last activity
func (s *PostgresStore) ListDevices(ctx context.Context, limit, offset int) ([]*models.Device, int64, error) {
	var total int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM devices`).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `
        SELECT addr, device_id, name, description, first_seen_at, last_seen_at,
               last_channel, created_at, updated_at
        FROM devices
        ORDER BY last_seen_at DESC NULLS LAST
        LIMIT $1 OFFSET $2`

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var devices []*models.Device
	for rows.Next() {
		device := &models.Device{}
		var addrBytes []byte

		if err := rows.Scan(
			&addrBytes, &device.DeviceID, &device.Name, &device.Description,
			&device.FirstSeenAt, &device.LastSeenAt, &device.LastChannel,
			&device.CreatedAt, &device.UpdatedAt,
		); err != nil {
			return nil, 0, err
		}

		copy(device.Addr[:], addrBytes)
		devices = append(devices, device)
	}

	return devices, total, rows.Err()
}
