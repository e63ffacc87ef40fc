package radio

import (
	"errors"

	"github.com/espnow-hub/espnow-hub-pro/pkg/espnow"
)

// Transport errors
var (
	ErrPeerExists      = errors.New("peer already exists")
	ErrPeerNotFound    = errors.New("peer not found")
	ErrChannelMismatch = errors.New("peer channel does not match current channel")
	ErrStationLocked   = errors.New("channel locked by station association")
	ErrTransportClosed = errors.New("transport closed")
)

// Peer is one entry in the transport peer table. The transport binds a peer's
// channel at add time; changing it requires remove + re-add.
type Peer struct {
	Addr    espnow.Addr
	Channel uint8 // 0 = wildcard, follows the current channel
	Encrypt bool
}

// RecvHandler is invoked for every received frame. It runs on the transport's
// receive context, not the caller's goroutine.
type RecvHandler func(src espnow.Addr, data []byte)

// Transport is the connectionless datagram primitive under the radio driver.
// It provides no delivery guarantee of its own; acknowledgment is an
// application-level concern handled by the Driver.
type Transport interface {
	// LocalAddr returns this node's hardware address
	LocalAddr() espnow.Addr

	// AddPeer registers a peer. Returns ErrPeerExists if the address is
	// already registered.
	AddPeer(p Peer) error

	// RemovePeer unregisters a peer. Returns ErrPeerNotFound if absent.
	RemovePeer(addr espnow.Addr) error

	// HasPeer reports whether the address is a registered peer
	HasPeer(addr espnow.Addr) bool

	// Send transmits one frame to a registered peer on the current channel.
	// The peer's bound channel must be 0 or equal to the current channel.
	Send(dst espnow.Addr, payload []byte) error

	// SetChannel tunes the radio. Valid range 1-13. Fails with
	// ErrStationLocked when an access-point association pins the channel.
	SetChannel(ch uint8) error

	// Channel returns the currently tuned channel
	Channel() uint8

	// StationChannel returns the access point's channel when the radio is
	// associated in station mode, 0 otherwise.
	StationChannel() uint8

	// SetRecvHandler registers the receive callback
	SetRecvHandler(h RecvHandler)

	// Close releases the transport
	Close() error
}
