// Package hub implements the passive receiving side: listen on one channel,
// acknowledge every valid data frame, hand the decoded reading to a sink.
package hub

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/espnow-hub/espnow-hub-pro/internal/radio"
	"github.com/espnow-hub/espnow-hub-pro/internal/storage"
	"github.com/espnow-hub/espnow-hub-pro/pkg/espnow"
)

// Sink receives every decoded reading the hub acknowledged
type Sink interface {
	Publish(ctx context.Context, src espnow.Addr, data *espnow.SensorData) error
}

// Config configures a hub
type Config struct {
	// PublishTimeout bounds the sink call per reading
	PublishTimeout time.Duration
}

// Hub is the receiving counterpart of the sensor sender
type Hub struct {
	drv   *radio.Driver
	state storage.ChannelStateStore
	sink  Sink
	cfg   Config

	// read from the receive context while Start owns the write
	channel atomic.Uint32
}

// New creates a hub
func New(drv *radio.Driver, state storage.ChannelStateStore, sink Sink, cfg Config) *Hub {
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 5 * time.Second
	}
	return &Hub{drv: drv, state: state, sink: sink, cfg: cfg}
}

// Channel returns the channel the hub is listening on (valid after Start)
func (h *Hub) Channel() uint8 {
	return uint8(h.channel.Load())
}

// Start rotates the listening channel, tunes the radio and blocks until the
// context is cancelled.
//
// The rotation is a deliberately simple load-spreading policy for setups
// with several independent hubs: every boot moves one channel up, wrapping
// from 13 back to 1. The new value is persisted before tuning, so a crash
// between the two still advances the rotation next boot.
func (h *Hub) Start(ctx context.Context) error {
	ch := uint8(espnow.MinChannel)
	prev, err := h.state.LoadHubChannel()
	switch {
	case errors.Is(err, storage.ErrNotFound):
		// first boot, start at the bottom of the band
	case err != nil:
		return fmt.Errorf("load hub channel: %w", err)
	default:
		ch = espnow.NextChannel(prev)
	}

	if err := h.state.SaveHubChannel(ch); err != nil {
		return fmt.Errorf("save hub channel: %w", err)
	}

	if err := h.drv.SetChannel(ch); err != nil {
		return fmt.Errorf("tune channel %d: %w", ch, err)
	}
	h.channel.Store(uint32(ch))

	h.drv.OnData(func(src espnow.Addr, data []byte) {
		h.handleData(ctx, src, data)
	})

	log.Info().
		Uint8("previous", prev).
		Uint8("channel", ch).
		Str("addr", h.drv.LocalAddr().String()).
		Msg("集线器信道轮换完成，开始监听")

	<-ctx.Done()
	return ctx.Err()
}

// handleData runs on the transport's receive context for every non-ACK frame
func (h *Hub) handleData(ctx context.Context, src espnow.Addr, data []byte) {
	if len(data) < 1 || espnow.MsgType(data[0]) != espnow.MsgTypeData {
		return
	}

	reading, err := espnow.UnmarshalSensorData(data)
	if err != nil {
		log.Warn().Err(err).Str("src", src.String()).Msg("丢弃无法解析的数据帧")
		return
	}

	// the sensor is not a permanent peer; add it at the current channel so
	// the ACK can go out, tolerating entries left by earlier frames
	if err := h.drv.AddPeer(radio.Peer{Addr: src, Channel: h.Channel()}); err != nil {
		log.Error().Err(err).Str("src", src.String()).Msg("添加发送方 peer 失败")
		return
	}

	if err := h.drv.SendAck(src); err != nil {
		log.Error().Err(err).Str("src", src.String()).Msg("发送 ACK 失败")
		return
	}

	log.Info().
		Str("src", src.String()).
		Str("device", reading.DeviceID).
		Float32("soil_percent", reading.SoilPercent).
		Float32("batt_voltage", reading.BattVoltage).
		Msg("收到传感器数据，已应答")

	if h.sink == nil {
		return
	}

	pubCtx, cancel := context.WithTimeout(ctx, h.cfg.PublishTimeout)
	defer cancel()
	if err := h.sink.Publish(pubCtx, src, reading); err != nil {
		log.Error().Err(err).Str("device", reading.DeviceID).Msg("转发读数失败")
	}
}
