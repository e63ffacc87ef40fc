package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/espnow-hub/espnow-hub-pro/pkg/espnow"
)

// RxSubject returns the NATS subject readings from deviceID are published on
func RxSubject(deviceID string) string {
	return fmt.Sprintf("hub.%s.rx", deviceID)
}

// RxMessage is the JSON payload published for every acknowledged reading
type RxMessage struct {
	HubAddr    espnow.Addr        `json:"hubAddr"`
	SensorAddr espnow.Addr        `json:"sensorAddr"`
	Channel    uint8              `json:"channel"`
	ReceivedAt time.Time          `json:"receivedAt"`
	Reading    *espnow.SensorData `json:"reading"`
}

// NATSForwarder publishes acknowledged readings to NATS for the collector
type NATSForwarder struct {
	nc      *nats.Conn
	hubAddr espnow.Addr
	channel func() uint8
}

var _ Sink = (*NATSForwarder)(nil)

// NewNATSForwarder creates a forwarder. channel is queried per message so the
// published value follows the per-boot rotation.
func NewNATSForwarder(nc *nats.Conn, hubAddr espnow.Addr, channel func() uint8) *NATSForwarder {
	return &NATSForwarder{nc: nc, hubAddr: hubAddr, channel: channel}
}

// Publish sends one reading to NATS
func (f *NATSForwarder) Publish(ctx context.Context, src espnow.Addr, data *espnow.SensorData) error {
	msg := RxMessage{
		HubAddr:    f.hubAddr,
		SensorAddr: src,
		Channel:    f.channel(),
		ReceivedAt: time.Now().UTC(),
		Reading:    data,
	}

	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal rx message: %w", err)
	}

	subject := RxSubject(data.DeviceID)
	if err := f.nc.Publish(subject, raw); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}

	log.Debug().Str("subject", subject).Int("size", len(raw)).Msg("读数已发布到 NATS")
	return nil
}
