package espnow

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseAddr(t *testing.T) {
	a, err := ParseAddr("a4:cf:12:e8:b3:c0")
	require.NoError(t, err)
	require.Equal(t, Addr{0xa4, 0xcf, 0x12, 0xe8, 0xb3, 0xc0}, a)
	require.Equal(t, "a4:cf:12:e8:b3:c0", a.String())

	// plain hex form
	b, err := ParseAddr("a4cf12e8b3c0")
	require.NoError(t, err)
	require.Equal(t, a, b)

	_, err = ParseAddr("a4:cf:12")
	require.ErrorIs(t, err, ErrInvalidAddress)

	_, err = ParseAddr("not-hex-at-all")
	require.ErrorIs(t, err, ErrInvalidAddress)
}

func TestAddrJSON(t *testing.T) {
	a := Addr{0xa4, 0xcf, 0x12, 0xe8, 0xb3, 0xc0}
	raw, err := json.Marshal(a)
	require.NoError(t, err)
	require.JSONEq(t, `"a4:cf:12:e8:b3:c0"`, string(raw))

	var back Addr
	require.NoError(t, json.Unmarshal(raw, &back))
	require.Equal(t, a, back)
}

func TestSentinels(t *testing.T) {
	require.True(t, Broadcast.IsBroadcast())
	require.False(t, Broadcast.IsZero())
	require.True(t, Addr{}.IsZero())
	require.False(t, Addr{}.IsBroadcast())
}

func TestChannelHelpers(t *testing.T) {
	require.False(t, ValidChannel(0))
	require.True(t, ValidChannel(1))
	require.True(t, ValidChannel(13))
	require.False(t, ValidChannel(14))

	require.Equal(t, uint8(2), NextChannel(1))
	require.Equal(t, uint8(1), NextChannel(13))
	// out-of-range input still lands back inside the range
	require.Equal(t, uint8(1), NextChannel(200))
}
