// Package sender is the one-call entry point the measurement cycle uses to
// deliver a reading to the hub.
package sender

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/espnow-hub/espnow-hub-pro/internal/discovery"
	"github.com/espnow-hub/espnow-hub-pro/internal/radio"
	"github.com/espnow-hub/espnow-hub-pro/pkg/espnow"
)

// Mode is the addressing mode, decided once at construction instead of being
// re-inferred from address contents at every call site.
type Mode int

const (
	// ModeDiscovery broadcasts; the first responder is adopted as the hub
	ModeDiscovery Mode = iota
	// ModeUnicast targets a previously discovered hub directly
	ModeUnicast
)

func (m Mode) String() string {
	if m == ModeDiscovery {
		return "discovery"
	}
	return "unicast"
}

// Status classifies the outcome of one delivery cycle
type Status int

const (
	StatusOK Status = iota
	StatusNoAck
	StatusAllChannelsFailed
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusNoAck:
		return "no_ack"
	case StatusAllChannelsFailed:
		return "all_channels_failed"
	}
	return "error"
}

// Outcome is the result of Send. Channel and Responder are only meaningful
// when Status is StatusOK; the caller persists them so the next power cycle
// can skip the scan.
type Outcome struct {
	Status    Status
	Channel   uint8
	Responder espnow.Addr
	Err       error
}

// Config configures a sender
type Config struct {
	// HubAddr is the destination. The all-ones broadcast sentinel selects
	// discovery mode; the all-zero address is rejected.
	HubAddr espnow.Addr

	// StartChannel is the remembered fast-path channel; 0 means none
	StartChannel uint8

	// Encrypt adds the hub as an encrypted peer. Ignored in discovery
	// mode: the broadcast peer is never encrypted.
	Encrypt bool

	MaxRetries int
	RetryDelay time.Duration
	AckTimeout time.Duration
}

// Sender combines the radio driver and the scan engine behind a single
// Send(data) call. It owns the peer entry for its destination and removes it
// on Close so no transport state leaks across reinitializations.
type Sender struct {
	drv    *radio.Driver
	engine *discovery.Engine
	cfg    Config
	mode   Mode

	// lastChannel feeds the fast path on repeated sends within one process
	lastChannel uint8
}

// New validates the destination, registers the peer and builds the engine
func New(drv *radio.Driver, cfg Config) (*Sender, error) {
	if cfg.HubAddr.IsZero() {
		// the zero address is not a sentinel here: callers normalize
		// "no hub known" to the broadcast address
		return nil, fmt.Errorf("%w: hub address unset, use the broadcast sentinel for discovery", espnow.ErrInvalidAddress)
	}
	if cfg.StartChannel != 0 && !espnow.ValidChannel(cfg.StartChannel) {
		return nil, espnow.ErrInvalidChannel
	}

	mode := ModeUnicast
	// the broadcast peer has no fixed channel, it follows the radio
	peerChannel := cfg.StartChannel
	if cfg.HubAddr.IsBroadcast() {
		mode = ModeDiscovery
		peerChannel = 0
		cfg.Encrypt = false
	}

	if err := drv.AddPeer(radio.Peer{Addr: cfg.HubAddr, Channel: peerChannel, Encrypt: cfg.Encrypt}); err != nil {
		return nil, fmt.Errorf("add hub peer: %w", err)
	}

	s := &Sender{
		drv: drv,
		engine: discovery.New(drv, discovery.Config{
			MaxRetries: cfg.MaxRetries,
			RetryDelay: cfg.RetryDelay,
			AckTimeout: cfg.AckTimeout,
			Encrypt:    cfg.Encrypt,
		}),
		cfg:         cfg,
		mode:        mode,
		lastChannel: cfg.StartChannel,
	}

	log.Info().
		Str("hub", cfg.HubAddr.String()).
		Str("mode", mode.String()).
		Uint8("start_channel", cfg.StartChannel).
		Msg("sender initialized")

	return s, nil
}

// Mode returns the addressing mode
func (s *Sender) Mode() Mode {
	return s.mode
}

// Send marshals the reading and runs the delivery policy. Delivery failure is
// reported in the outcome, never as a panic or fatal condition: one lost
// reading must not break the device's duty cycle.
func (s *Sender) Send(ctx context.Context, data *espnow.SensorData) Outcome {
	payload, err := data.Marshal()
	if err != nil {
		return Outcome{Status: StatusError, Err: fmt.Errorf("marshal packet: %w", err)}
	}

	res, err := s.engine.Deliver(ctx, s.cfg.HubAddr, s.lastChannel, payload)
	if err != nil {
		switch {
		case errors.Is(err, discovery.ErrNoAck):
			return Outcome{Status: StatusNoAck, Err: err}
		case errors.Is(err, discovery.ErrAllChannelsFailed):
			return Outcome{Status: StatusAllChannelsFailed, Err: err}
		default:
			return Outcome{Status: StatusError, Err: err}
		}
	}

	s.lastChannel = res.Channel

	out := Outcome{
		Status:  StatusOK,
		Channel: res.Channel,
	}
	if s.mode == ModeDiscovery {
		out.Responder = res.Responder
	}
	return out
}

// Close removes the peer this sender registered
func (s *Sender) Close() error {
	if err := s.drv.RemovePeer(s.cfg.HubAddr); err != nil && !errors.Is(err, radio.ErrPeerNotFound) {
		return fmt.Errorf("remove hub peer: %w", err)
	}
	return nil
}
