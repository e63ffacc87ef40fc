package radio

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/espnow-hub/espnow-hub-pro/pkg/espnow"
)

// SendStatus is the result of a single acknowledged send attempt
type SendStatus int

const (
	SendSuccess SendStatus = iota
	SendFail
	SendNoAck
)

func (s SendStatus) String() string {
	switch s {
	case SendSuccess:
		return "success"
	case SendFail:
		return "fail"
	case SendNoAck:
		return "no_ack"
	}
	return "unknown"
}

// ErrNoAck is returned by callers that treat a missing acknowledgment as an
// error; SendWithAck itself reports it through SendNoAck.
var ErrNoAck = errors.New("no ack within timeout")

type ackEvent struct {
	src espnow.Addr
}

// Driver is one radio session: peer management plus a blocking
// send-with-acknowledgment primitive over the raw transport. There is exactly
// one radio, so at most one ACK wait is in flight at a time; the session
// mutex enforces that even if a caller misbehaves.
type Driver struct {
	tr Transport

	// serializes the whole send-or-scan sequence
	sendMu sync.Mutex

	// single-slot handoff from the receive context to the ACK waiter.
	// Drained at the start of every SendWithAck so a stale ACK from an
	// earlier attempt cannot be misattributed.
	ackCh chan ackEvent

	mu        sync.Mutex
	responder espnow.Addr
	onData    RecvHandler
}

// New creates a driver around the transport and hooks its receive path
func New(tr Transport) *Driver {
	d := &Driver{
		tr:    tr,
		ackCh: make(chan ackEvent, 1),
	}
	tr.SetRecvHandler(d.handleRecv)
	return d
}

// handleRecv runs on the transport's receive context. ACK frames are routed
// to the waiting sender; everything else goes to the application callback.
func (d *Driver) handleRecv(src espnow.Addr, data []byte) {
	if espnow.IsAck(data) {
		d.mu.Lock()
		d.responder = src
		d.mu.Unlock()

		select {
		case d.ackCh <- ackEvent{src: src}:
		default:
			// nobody waiting and slot already full: stale, drop
		}
		return
	}

	d.mu.Lock()
	h := d.onData
	d.mu.Unlock()
	if h != nil {
		h(src, data)
	}
}

// OnData registers the application callback for non-ACK frames
func (d *Driver) OnData(h RecvHandler) {
	d.mu.Lock()
	d.onData = h
	d.mu.Unlock()
}

// LocalAddr returns the transport's hardware address
func (d *Driver) LocalAddr() espnow.Addr {
	return d.tr.LocalAddr()
}

// AddPeer registers a peer, tolerating an existing entry with the same
// address (idempotent; the entry is not modified).
func (d *Driver) AddPeer(p Peer) error {
	if p.Addr.IsZero() {
		return espnow.ErrInvalidAddress
	}
	if p.Channel != 0 && !espnow.ValidChannel(p.Channel) {
		return espnow.ErrInvalidChannel
	}

	err := d.tr.AddPeer(p)
	if errors.Is(err, ErrPeerExists) {
		return nil
	}
	return err
}

// RemovePeer unregisters a peer
func (d *Driver) RemovePeer(addr espnow.Addr) error {
	return d.tr.RemovePeer(addr)
}

// RetargetPeer rebinds a peer to a new channel. The transport fixes a peer's
// channel at add time, so this is a remove-then-re-add; callers never touch
// peer lifecycle directly when scanning.
func (d *Driver) RetargetPeer(p Peer) error {
	if err := d.tr.RemovePeer(p.Addr); err != nil && !errors.Is(err, ErrPeerNotFound) {
		return fmt.Errorf("remove peer: %w", err)
	}
	if err := d.tr.AddPeer(p); err != nil {
		return fmt.Errorf("add peer: %w", err)
	}
	return nil
}

// SetChannel tunes the radio
func (d *Driver) SetChannel(ch uint8) error {
	if !espnow.ValidChannel(ch) {
		return espnow.ErrInvalidChannel
	}
	return d.tr.SetChannel(ch)
}

// Channel returns the currently tuned channel
func (d *Driver) Channel() uint8 {
	return d.tr.Channel()
}

// StationChannel returns the access point channel when associated, 0 otherwise
func (d *Driver) StationChannel() uint8 {
	return d.tr.StationChannel()
}

// AckResponder returns the address of the device that sent the most recent
// ACK. In discovery mode this is the hub that answered the broadcast.
func (d *Driver) AckResponder() espnow.Addr {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.responder
}

// SendAck replies with the one-byte ACK frame
func (d *Driver) SendAck(dst espnow.Addr) error {
	return d.tr.Send(dst, espnow.AckFrame)
}

// SendWithAck sends one frame and blocks until a one-byte ACK arrives from
// any sender or the timeout elapses. The wait primitive is re-armed before
// the send so an ACK arriving between send and wait is not lost.
//
// SendFail means the transport send itself failed; that is fatal for the
// attempt and never retried here. Retries are the scan engine's policy.
func (d *Driver) SendWithAck(dst espnow.Addr, payload []byte, timeout time.Duration) (SendStatus, error) {
	if dst.IsZero() {
		return SendFail, espnow.ErrInvalidAddress
	}
	if len(payload) == 0 {
		return SendFail, fmt.Errorf("empty payload")
	}
	if len(payload) > espnow.MaxDataLen {
		return SendFail, espnow.ErrPayloadTooLarge
	}

	d.sendMu.Lock()
	defer d.sendMu.Unlock()

	// re-arm: drain a stale ACK left over from a previous attempt
	select {
	case <-d.ackCh:
	default:
	}

	if err := d.tr.Send(dst, payload); err != nil {
		return SendFail, fmt.Errorf("transport send: %w", err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case ev := <-d.ackCh:
		log.Debug().
			Str("responder", ev.src.String()).
			Uint8("channel", d.tr.Channel()).
			Msg("ACK received")
		return SendSuccess, nil
	case <-timer.C:
		return SendNoAck, nil
	}
}

// Close releases the underlying transport
func (d *Driver) Close() error {
	return d.tr.Close()
}
