package storage

import (
	"github.com/espnow-hub/espnow-hub-pro/pkg/espnow"
)

// SenderState is what a sensor node remembers across deep-sleep power
// cycles: the last channel that produced an ACK and the hub discovered on it.
type SenderState struct {
	Channel uint8
	HubAddr espnow.Addr
}

// ChannelStateStore persists radio channel state across power cycles. The
// protocol core never touches it directly; the measurement cycle loads state
// before a send and writes it back only when something actually changed, to
// minimize flash wear before deep sleep.
//
// Sender and hub roles are namespaced separately so one process can play
// both without key collisions.
type ChannelStateStore interface {
	// LoadSenderState returns the remembered sender state, or ErrNotFound
	LoadSenderState() (*SenderState, error)

	// SaveSenderState persists the sender state
	SaveSenderState(st *SenderState) error

	// LoadHubChannel returns the hub's last listening channel, or ErrNotFound
	LoadHubChannel() (uint8, error)

	// SaveHubChannel persists the hub's listening channel
	SaveHubChannel(ch uint8) error

	Close() error
}
