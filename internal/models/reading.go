package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/espnow-hub/espnow-hub-pro/pkg/espnow"
)

// Reading is one soil/battery measurement stored by the collector
type Reading struct {
	ID       uuid.UUID   `json:"id" db:"id"`
	Addr     espnow.Addr `json:"addr" db:"addr"`
	DeviceID string      `json:"deviceId" db:"device_id"`

	// Timestamp from the sensor node's clock, milliseconds
	TimestampMS uint64 `json:"timestampMs" db:"timestamp_ms"`
	// When the hub received the frame
	ReceivedAt time.Time `json:"receivedAt" db:"received_at"`

	HubAddr espnow.Addr `json:"hubAddr" db:"hub_addr"`
	Channel uint8       `json:"channel" db:"channel"`

	SoilVoltage float32 `json:"soilVoltage" db:"soil_voltage"`
	SoilPercent float32 `json:"soilPercent" db:"soil_percent"`
	SoilRawADC  int32   `json:"soilRawAdc" db:"soil_raw_adc"`
	BattVoltage float32 `json:"battVoltage" db:"batt_voltage"`
	BattPercent float32 `json:"battPercent" db:"batt_percent"`

	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}
