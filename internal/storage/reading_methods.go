package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/espnow-hub/espnow-hub-pro/internal/models"
	"github.com/espnow-hub/espnow-hub-pro/pkg/espnow"
)

// ========== Reading Methods ==========

// CreateReading inserts one reading
func (s *PostgresStore) CreateReading(ctx context.Context, reading *models.Reading) error {
	if reading.ID == uuid.Nil {
		reading.ID = uuid.New()
	}
	reading.CreatedAt = time.Now()

	query := `
        INSERT INTO readings (
            id, addr, device_id, timestamp_ms, received_at, hub_addr, channel,
            soil_voltage, soil_percent, soil_raw_adc, batt_voltage, batt_percent,
            created_at
        ) VALUES (
            $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13
        )`

	_, err := s.db.ExecContext(ctx, query,
		reading.ID, reading.Addr[:], reading.DeviceID, reading.TimestampMS,
		reading.ReceivedAt, reading.HubAddr[:], reading.Channel,
		reading.SoilVoltage, reading.SoilPercent, reading.SoilRawADC,
		reading.BattVoltage, reading.BattPercent, reading.CreatedAt,
	)

	return err
}

func scanReading(scan func(dest ...interface{}) error) (*models.Reading, error) {
	reading := &models.Reading{}
	var addrBytes, hubAddrBytes []byte

	err := scan(
		&reading.ID, &addrBytes, &reading.DeviceID, &reading.TimestampMS,
		&reading.ReceivedAt, &hubAddrBytes, &reading.Channel,
		&reading.SoilVoltage, &reading.SoilPercent, &reading.SoilRawADC,
		&reading.BattVoltage, &reading.BattPercent, &reading.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	copy(reading.Addr[:], addrBytes)
	copy(reading.HubAddr[:], hubAddrBytes)
	return reading, nil
}

const readingColumns = `id, addr, device_id, timestamp_ms, received_at, hub_addr, channel,
        soil_voltage, soil_percent, soil_raw_adc, batt_voltage, batt_percent, created_at`

// ListReadings lists readings for one device, newest first
func (s *PostgresStore) ListReadings(ctx context.Context, addr espnow.Addr, limit, offset int) ([]*models.Reading, int64, error) {
	var total int64
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM readings WHERE addr = $1`, addr[:]).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `
        SELECT ` + readingColumns + `
        FROM readings
        WHERE addr = $1
        ORDER BY received_at DESC
        LIMIT $2 OFFSET $3`

	rows, err := s.db.QueryContext(ctx, query, addr[:], limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var readings []*models.Reading
	for rows.Next() {
		reading, err := scanReading(rows.Scan)
		if err != nil {
			return nil, 0, err
		}
		readings = append(readings, reading)
	}

	return readings, total, rows.Err()
}

// LatestReading returns the most recent reading for one device
func (s *PostgresStore) LatestReading(ctx context.Context, addr espnow.Addr) (*models.Reading, error) {
	query := `
        SELECT ` + readingColumns + `
        FROM readings
        WHERE addr = $1
        ORDER BY received_at DESC
        LIMIT 1`

	reading, err := scanReading(s.db.QueryRowContext(ctx, query, addr[:]).Scan)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return reading, nil
}
