// Package discovery decides which channels to try, in what order and with how
// many retries, when delivering a frame to a hub whose channel (and in
// discovery mode, address) is unknown.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/espnow-hub/espnow-hub-pro/internal/radio"
	"github.com/espnow-hub/espnow-hub-pro/pkg/espnow"
)

// Engine errors
var (
	// ErrNoAck: the single permitted channel was exhausted without an ACK
	ErrNoAck = errors.New("no ack on available channel")
	// ErrAllChannelsFailed: the full 1-13 scan was exhausted without an ACK
	ErrAllChannelsFailed = errors.New("no ack on any channel")
)

// Config is the retry/timeout policy
type Config struct {
	MaxRetries int
	RetryDelay time.Duration
	AckTimeout time.Duration

	// Encrypt marks the destination peer for payload encryption on every
	// bind and rebind
	Encrypt bool
}

// Result reports the successful delivery. Responder is the address that
// answered; it is only meaningful when the destination was the broadcast
// sentinel (discovery mode).
type Result struct {
	Channel   uint8
	Responder espnow.Addr
}

// Engine runs the channel policy on top of one radio driver. It never
// persists anything; the caller writes the result back to its state store.
type Engine struct {
	drv *radio.Driver
	cfg Config
}

// New creates an engine
func New(drv *radio.Driver, cfg Config) *Engine {
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 1
	}
	return &Engine{drv: drv, cfg: cfg}
}

// Deliver sends the payload to dest, trying channels in this order:
//
//  1. station-locked: only the access point's channel, no scan
//  2. lastChannel (the remembered fast path)
//  3. full ascending scan 1..13, first ACK wins
//
// Discovery mode (dest is the broadcast sentinel) skips peer retargeting,
// since the broadcast peer is bound to the wildcard channel.
func (e *Engine) Deliver(ctx context.Context, dest espnow.Addr, lastChannel uint8, payload []byte) (*Result, error) {
	if dest.IsZero() {
		return nil, espnow.ErrInvalidAddress
	}

	unicast := !dest.IsBroadcast()

	// 已关联 AP：信道被锁定，只能在 AP 信道上重试，绝不扫描
	if st := e.drv.StationChannel(); st != 0 {
		log.Info().Uint8("channel", st).Msg("station association active, channel locked")

		// the peer may still be bound to a stale remembered channel.
		// Rebinding moves only the peer table entry, not the radio, so
		// the association is untouched.
		if unicast {
			if err := e.drv.RetargetPeer(radio.Peer{Addr: dest, Channel: st, Encrypt: e.cfg.Encrypt}); err != nil {
				return nil, fmt.Errorf("rebind peer to station channel %d: %w", st, err)
			}
		}

		ok, err := e.tryChannel(ctx, dest, payload)
		if err != nil {
			return nil, err
		}
		if ok {
			return e.result(st), nil
		}
		return nil, ErrNoAck
	}

	// fast path: the last remembered channel, so most deep-sleep cycles
	// skip the scan entirely. With nothing remembered there is no fast
	// path and the full scan starts right away.
	if espnow.ValidChannel(lastChannel) {
		ok, err := e.tryOn(ctx, dest, lastChannel, unicast, payload)
		switch {
		case err != nil && errors.Is(err, errPeerRebind):
			// the remembered peer/channel combination is dead, scan anyway
			log.Error().Err(err).Uint8("channel", lastChannel).Msg("peer rebind failed on remembered channel")
		case err != nil:
			return nil, err
		case ok:
			return e.result(lastChannel), nil
		default:
			log.Warn().Uint8("channel", lastChannel).Msg("no ack on remembered channel, scanning")
		}
	}

	// full scan, ascending, skipping none
	for ch := uint8(espnow.MinChannel); ch <= espnow.MaxChannel; ch++ {
		ok, err := e.tryOn(ctx, dest, ch, unicast, payload)
		if err != nil {
			if errors.Is(err, errPeerRebind) {
				// that peer/channel combination is dead, move on
				log.Error().Err(err).Uint8("channel", ch).Msg("peer rebind failed, skipping channel")
				continue
			}
			return nil, err
		}
		if ok {
			return e.result(ch), nil
		}
	}

	return nil, ErrAllChannelsFailed
}

var errPeerRebind = errors.New("peer rebind")

// tryOn tunes to ch, rebinds the peer there in unicast mode, and runs the
// retry budget
func (e *Engine) tryOn(ctx context.Context, dest espnow.Addr, ch uint8, unicast bool, payload []byte) (bool, error) {
	if err := e.drv.SetChannel(ch); err != nil {
		return false, fmt.Errorf("set channel %d: %w", ch, err)
	}

	// the transport binds a peer's channel at add time, so a unicast peer
	// must follow the radio onto each candidate channel
	if unicast {
		if err := e.drv.RetargetPeer(radio.Peer{Addr: dest, Channel: ch, Encrypt: e.cfg.Encrypt}); err != nil {
			return false, fmt.Errorf("%w: %v", errPeerRebind, err)
		}
	}

	return e.tryChannel(ctx, dest, payload)
}

// tryChannel runs MaxRetries attempts on the current channel with RetryDelay
// between them. A transport send failure aborts: retrying a broken send
// cannot succeed, unlike a missing ACK.
func (e *Engine) tryChannel(ctx context.Context, dest espnow.Addr, payload []byte) (bool, error) {
	for attempt := 0; attempt < e.cfg.MaxRetries; attempt++ {
		status, err := e.drv.SendWithAck(dest, payload, e.cfg.AckTimeout)
		switch status {
		case radio.SendSuccess:
			return true, nil
		case radio.SendFail:
			return false, fmt.Errorf("send attempt %d: %w", attempt+1, err)
		}

		if attempt < e.cfg.MaxRetries-1 {
			if err := sleep(ctx, e.cfg.RetryDelay); err != nil {
				return false, err
			}
		}
	}
	return false, nil
}

func (e *Engine) result(ch uint8) *Result {
	return &Result{
		Channel:   ch,
		Responder: e.drv.AckResponder(),
	}
}

// sleep is a context-aware inter-retry delay
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
