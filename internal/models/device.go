package models

import (
	"time"

	"github.com/espnow-hub/espnow-hub-pro/pkg/espnow"
)

// Device represents a sensor node known to the collector. Devices are
// auto-registered the first time a reading arrives from their address.
type Device struct {
	Addr        espnow.Addr `json:"addr" db:"addr"`
	DeviceID    string      `json:"deviceId" db:"device_id"`
	Name        string      `json:"name" db:"name"`
	Description string      `json:"description" db:"description"`

	// Status
	FirstSeenAt *time.Time `json:"firstSeenAt,omitempty" db:"first_seen_at"`
	LastSeenAt  *time.Time `json:"lastSeenAt,omitempty" db:"last_seen_at"`
	LastChannel uint8      `json:"lastChannel" db:"last_channel"`

	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}
