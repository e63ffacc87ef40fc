package collector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/espnow-hub/espnow-hub-pro/internal/hub"
	"github.com/espnow-hub/espnow-hub-pro/internal/models"
	"github.com/espnow-hub/espnow-hub-pro/internal/storage"
)

// NATSSubscriber consumes hub readings from NATS and persists them
type NATSSubscriber struct {
	nc    *nats.Conn
	store storage.Store
	subs  []*nats.Subscription
}

// NewNATSSubscriber creates NATS subscriber
func NewNATSSubscriber(nc *nats.Conn, store storage.Store) *NATSSubscriber {
	return &NATSSubscriber{
		nc:    nc,
		store: store,
		subs:  make([]*nats.Subscription, 0),
	}
}

// Start starts subscriptions and blocks until ctx is cancelled
func (s *NATSSubscriber) Start(ctx context.Context) error {
	sub, err := s.nc.Subscribe("hub.*.rx", s.handleReading)
	if err != nil {
		return fmt.Errorf("subscribe hub readings: %w", err)
	}
	s.subs = append(s.subs, sub)

	log.Info().
		Int("subscriptions", len(s.subs)).
		Msg("NATS subscriber started")

	<-ctx.Done()

	// Unsubscribe
	for _, sub := range s.subs {
		sub.Unsubscribe()
	}

	return ctx.Err()
}

// handleReading handles one acknowledged sensor reading
func (s *NATSSubscriber) handleReading(msg *nats.Msg) {
	log.Debug().
		Str("subject", msg.Subject).
		Int("size", len(msg.Data)).
		Msg("Received hub reading")

	var rx hub.RxMessage
	if err := json.Unmarshal(msg.Data, &rx); err != nil {
		log.Error().Err(err).Str("subject", msg.Subject).Msg("Failed to unmarshal hub reading")
		return
	}

	if rx.Reading == nil {
		log.Warn().Str("subject", msg.Subject).Msg("收到空读数，已丢弃")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.registerDevice(ctx, &rx); err != nil {
		log.Error().Err(err).
			Str("addr", rx.SensorAddr.String()).
			Msg("Failed to register device")
		return
	}

	reading := &models.Reading{
		Addr:        rx.SensorAddr,
		DeviceID:    rx.Reading.DeviceID,
		TimestampMS: rx.Reading.TimestampMS,
		ReceivedAt:  rx.ReceivedAt,
		HubAddr:     rx.HubAddr,
		Channel:     rx.Channel,
		SoilVoltage: rx.Reading.SoilVoltage,
		SoilPercent: rx.Reading.SoilPercent,
		SoilRawADC:  rx.Reading.SoilRawADC,
		BattVoltage: rx.Reading.BattVoltage,
		BattPercent: rx.Reading.BattPercent,
	}

	if err := s.store.CreateReading(ctx, reading); err != nil {
		log.Error().Err(err).
			Str("addr", rx.SensorAddr.String()).
			Msg("Failed to store reading")
		return
	}

	log.Info().
		Str("addr", rx.SensorAddr.String()).
		Str("device_id", rx.Reading.DeviceID).
		Uint8("channel", rx.Channel).
		Float32("soil_percent", rx.Reading.SoilPercent).
		Float32("batt_voltage", rx.Reading.BattVoltage).
		Msg("读数已入库")
}

// registerDevice auto-registers unknown devices and refreshes last-seen state
func (s *NATSSubscriber) registerDevice(ctx context.Context, rx *hub.RxMessage) error {
	now := time.Now().UTC()

	device, err := s.store.GetDevice(ctx, rx.SensorAddr)
	if errors.Is(err, storage.ErrNotFound) {
		device = &models.Device{
			Addr:        rx.SensorAddr,
			DeviceID:    rx.Reading.DeviceID,
			Name:        rx.Reading.DeviceID,
			FirstSeenAt: &now,
			LastSeenAt:  &now,
			LastChannel: rx.Channel,
		}
		if err := s.store.CreateDevice(ctx, device); err != nil {
			// Another reading from the same device may have won the race
			if errors.Is(err, storage.ErrDuplicateKey) {
				return nil
			}
			return err
		}
		log.Info().
			Str("addr", rx.SensorAddr.String()).
			Str("device_id", rx.Reading.DeviceID).
			Msg("新设备已自动注册")
		return nil
	}
	if err != nil {
		return err
	}

	device.DeviceID = rx.Reading.DeviceID
	device.LastSeenAt = &now
	device.LastChannel = rx.Channel
	return s.store.UpdateDevice(ctx, device)
}
