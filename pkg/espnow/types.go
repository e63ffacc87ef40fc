package espnow

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// MaxDataLen is the hard transport limit for a single frame
const MaxDataLen = 250

// Channel range usable by the radio
const (
	MinChannel = 1
	MaxChannel = 13
)

// MsgType represents the message type carried in byte 0 of every frame
type MsgType byte

const (
	MsgTypeData MsgType = 0
	MsgTypeAck  MsgType = 1
)

// Common errors
var (
	ErrInvalidAddress  = errors.New("invalid address")
	ErrInvalidChannel  = errors.New("invalid channel")
	ErrPayloadTooLarge = errors.New("payload exceeds frame limit")
	ErrFrameTooShort   = errors.New("frame too short")
)

// Addr represents a 6-byte hardware address
type Addr [6]byte

// Broadcast is the all-ones discovery sentinel. It is reserved and must not
// be used as a real unicast destination.
var Broadcast = Addr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

// String returns the colon-separated hex representation
func (a Addr) String() string {
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x", a[0], a[1], a[2], a[3], a[4], a[5])
}

// IsBroadcast reports whether a is the all-ones discovery sentinel
func (a Addr) IsBroadcast() bool {
	return a == Broadcast
}

// IsZero reports whether a is the all-zero address. The zero address is not a
// sentinel: call paths reject it as invalid.
func (a Addr) IsZero() bool {
	return a == Addr{}
}

// MarshalJSON implements json.Marshaler
func (a Addr) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// UnmarshalJSON implements json.Unmarshaler
func (a *Addr) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	parsed, err := ParseAddr(s)
	if err != nil {
		return err
	}

	*a = parsed
	return nil
}

// ParseAddr parses an address from "aa:bb:cc:dd:ee:ff" or plain hex form
func ParseAddr(s string) (Addr, error) {
	var a Addr

	s = strings.ReplaceAll(s, ":", "")
	b, err := hex.DecodeString(s)
	if err != nil {
		return a, fmt.Errorf("%w: %s", ErrInvalidAddress, s)
	}
	if len(b) != 6 {
		return a, fmt.Errorf("%w: want 6 bytes, got %d", ErrInvalidAddress, len(b))
	}

	copy(a[:], b)
	return a, nil
}

// ValidChannel reports whether ch is inside the usable 1-13 range
func ValidChannel(ch uint8) bool {
	return ch >= MinChannel && ch <= MaxChannel
}

// NextChannel returns the channel after ch, wrapping from 13 back to 1.
// Used by the hub's per-boot rotation.
func NextChannel(ch uint8) uint8 {
	if ch >= MaxChannel {
		return MinChannel
	}
	return ch + 1
}
