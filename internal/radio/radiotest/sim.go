// Package radiotest provides an in-memory Transport implementation connecting
// several simulated nodes through a shared ether. Frames are only delivered
// between nodes tuned to the same channel, which is what the scan logic is
// exercised against.
package radiotest

import (
	"fmt"
	"sync"

	"github.com/espnow-hub/espnow-hub-pro/internal/radio"
	"github.com/espnow-hub/espnow-hub-pro/pkg/espnow"
)

// Ether connects simulated transports
type Ether struct {
	mu    sync.Mutex
	nodes []*SimTransport
}

// NewEther creates an empty ether
func NewEther() *Ether {
	return &Ether{}
}

// Node attaches a new simulated transport tuned to startCh
func (e *Ether) Node(addr espnow.Addr, startCh uint8) *SimTransport {
	t := &SimTransport{
		ether:         e,
		local:         addr,
		channel:       startCh,
		peers:         make(map[espnow.Addr]radio.Peer),
		SentByChannel: make(map[uint8]int),
	}

	e.mu.Lock()
	e.nodes = append(e.nodes, t)
	e.mu.Unlock()
	return t
}

// deliver hands the frame to every other node tuned to the channel. Delivery
// is synchronous: the receive handler runs before deliver returns, which
// keeps tests deterministic while still exercising the cross-context handoff
// in the driver.
func (e *Ether) deliver(from *SimTransport, dst espnow.Addr, channel uint8, payload []byte) {
	e.mu.Lock()
	nodes := append([]*SimTransport(nil), e.nodes...)
	e.mu.Unlock()

	for _, n := range nodes {
		if n == from {
			continue
		}

		n.mu.Lock()
		match := n.channel == channel && !n.closed
		h := n.handler
		n.mu.Unlock()

		if !match || h == nil {
			continue
		}
		if dst != n.local && !dst.IsBroadcast() {
			continue
		}

		cp := append([]byte(nil), payload...)
		h(from.local, cp)
	}
}

// SimTransport is one simulated node. The exported counters let tests assert
// how often which channel was attempted.
type SimTransport struct {
	ether *Ether
	local espnow.Addr

	mu      sync.Mutex
	channel uint8
	station uint8
	peers   map[espnow.Addr]radio.Peer
	handler radio.RecvHandler
	closed  bool

	// SendErr, when set, makes every Send fail with it
	SendErr error

	// SentByChannel counts outgoing frames per channel
	SentByChannel map[uint8]int
	// ChannelLog records the channel of every outgoing frame in order
	ChannelLog []uint8
}

var _ radio.Transport = (*SimTransport)(nil)

// SetStationChannel emulates an access-point association on ch
func (t *SimTransport) SetStationChannel(ch uint8) {
	t.mu.Lock()
	t.station = ch
	if ch != 0 {
		t.channel = ch
	}
	t.mu.Unlock()
}

// LocalAddr returns the node's hardware address
func (t *SimTransport) LocalAddr() espnow.Addr { return t.local }

// AddPeer registers a peer
func (t *SimTransport) AddPeer(p radio.Peer) error {
	if p.Addr.IsZero() {
		return espnow.ErrInvalidAddress
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.peers[p.Addr]; ok {
		return radio.ErrPeerExists
	}
	t.peers[p.Addr] = p
	return nil
}

// RemovePeer unregisters a peer
func (t *SimTransport) RemovePeer(addr espnow.Addr) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.peers[addr]; !ok {
		return radio.ErrPeerNotFound
	}
	delete(t.peers, addr)
	return nil
}

// HasPeer reports whether the address is registered
func (t *SimTransport) HasPeer(addr espnow.Addr) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.peers[addr]
	return ok
}

// PeerChannel returns the bound channel of a registered peer
func (t *SimTransport) PeerChannel(addr espnow.Addr) (uint8, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.peers[addr]
	return p.Channel, ok
}

// PeerEncrypt reports whether a registered peer was added with encryption
func (t *SimTransport) PeerEncrypt(addr espnow.Addr) (bool, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.peers[addr]
	return p.Encrypt, ok
}

// Send transmits one frame over the ether on the current channel
func (t *SimTransport) Send(dst espnow.Addr, payload []byte) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return radio.ErrTransportClosed
	}
	if t.SendErr != nil {
		err := t.SendErr
		t.mu.Unlock()
		return err
	}
	peer, ok := t.peers[dst]
	ch := t.channel
	if ok && (peer.Channel == 0 || peer.Channel == ch) {
		t.SentByChannel[ch]++
		t.ChannelLog = append(t.ChannelLog, ch)
	}
	t.mu.Unlock()

	if !ok {
		return radio.ErrPeerNotFound
	}
	if peer.Channel != 0 && peer.Channel != ch {
		return fmt.Errorf("%w: peer=%d radio=%d", radio.ErrChannelMismatch, peer.Channel, ch)
	}

	t.ether.deliver(t, dst, ch, payload)
	return nil
}

// SetChannel tunes the node
func (t *SimTransport) SetChannel(ch uint8) error {
	if !espnow.ValidChannel(ch) {
		return espnow.ErrInvalidChannel
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.station != 0 && ch != t.station {
		return radio.ErrStationLocked
	}
	t.channel = ch
	return nil
}

// Channel returns the currently tuned channel
func (t *SimTransport) Channel() uint8 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.channel
}

// StationChannel returns the emulated AP channel
func (t *SimTransport) StationChannel() uint8 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.station
}

// SetRecvHandler registers the receive callback
func (t *SimTransport) SetRecvHandler(h radio.RecvHandler) {
	t.mu.Lock()
	t.handler = h
	t.mu.Unlock()
}

// Close detaches the node
func (t *SimTransport) Close() error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	return nil
}
