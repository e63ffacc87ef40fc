package radio_test

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/espnow-hub/espnow-hub-pro/internal/radio"
	"github.com/espnow-hub/espnow-hub-pro/pkg/crypto"
	"github.com/espnow-hub/espnow-hub-pro/pkg/espnow"
)

const testBasePort = 47900

// frameCapture collects received frames behind a lock
type frameCapture struct {
	mu     sync.Mutex
	src    espnow.Addr
	frames [][]byte
}

func (c *frameCapture) handler(src espnow.Addr, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.src = src
	c.frames = append(c.frames, append([]byte(nil), data...))
}

func (c *frameCapture) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames)
}

func (c *frameCapture) last() (espnow.Addr, []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.src, c.frames[len(c.frames)-1]
}

// newUDPPair brings up two nodes on separate loopback addresses wired at each
// other, standing in for the shared broadcast medium.
func newUDPPair(t *testing.T, pmk []byte) (*radio.UDPTransport, *radio.UDPTransport) {
	t.Helper()

	a, err := radio.NewUDPTransport(radio.UDPConfig{
		Local:        sensorAddr,
		BasePort:     testBasePort,
		ListenIP:     "127.0.0.2",
		BroadcastIP:  "127.0.0.3",
		StartChannel: 1,
		PMK:          pmk,
	})
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })

	b, err := radio.NewUDPTransport(radio.UDPConfig{
		Local:        hubAddr,
		BasePort:     testBasePort,
		ListenIP:     "127.0.0.3",
		BroadcastIP:  "127.0.0.2",
		StartChannel: 1,
		PMK:          pmk,
	})
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })

	return a, b
}

func TestUDPSendReceive(t *testing.T) {
	a, b := newUDPPair(t, nil)

	rx := &frameCapture{}
	b.SetRecvHandler(rx.handler)

	require.NoError(t, a.AddPeer(radio.Peer{Addr: hubAddr, Channel: 1}))

	payload := []byte{byte(espnow.MsgTypeData), 0xca, 0xfe}
	require.NoError(t, a.Send(hubAddr, payload))

	require.Eventually(t, func() bool { return rx.count() == 1 }, time.Second, time.Millisecond)
	src, data := rx.last()
	require.Equal(t, sensorAddr, src)
	require.Equal(t, payload, data)
}

func TestUDPBroadcastDestination(t *testing.T) {
	a, b := newUDPPair(t, nil)

	rx := &frameCapture{}
	b.SetRecvHandler(rx.handler)

	require.NoError(t, a.AddPeer(radio.Peer{Addr: espnow.Broadcast}))
	require.NoError(t, a.Send(espnow.Broadcast, []byte{byte(espnow.MsgTypeData)}))

	require.Eventually(t, func() bool { return rx.count() == 1 }, time.Second, time.Millisecond)
}

func TestUDPEncryptedPeerRoundTrip(t *testing.T) {
	pmk := bytes.Repeat([]byte{0x42}, crypto.PMKLen)
	a, b := newUDPPair(t, pmk)

	rx := &frameCapture{}
	b.SetRecvHandler(rx.handler)

	require.NoError(t, a.AddPeer(radio.Peer{Addr: hubAddr, Channel: 1, Encrypt: true}))

	payload := []byte{byte(espnow.MsgTypeData), 0xde, 0xad, 0xbe, 0xef}
	require.NoError(t, a.Send(hubAddr, payload))

	// the receiver sees the decrypted payload
	require.Eventually(t, func() bool { return rx.count() == 1 }, time.Second, time.Millisecond)
	_, data := rx.last()
	require.Equal(t, payload, data)
}

func TestUDPEncryptedPeerRequiresPMK(t *testing.T) {
	a, _ := newUDPPair(t, nil)

	err := a.AddPeer(radio.Peer{Addr: hubAddr, Channel: 1, Encrypt: true})
	require.Error(t, err)
}

func TestUDPChannelFiltering(t *testing.T) {
	a, b := newUDPPair(t, nil)

	rx := &frameCapture{}
	b.SetRecvHandler(rx.handler)

	// receiver tunes away; a frame on channel 1 must not arrive
	require.NoError(t, b.SetChannel(2))
	require.NoError(t, a.AddPeer(radio.Peer{Addr: hubAddr, Channel: 1}))
	require.NoError(t, a.Send(hubAddr, []byte{byte(espnow.MsgTypeData)}))

	time.Sleep(50 * time.Millisecond)
	require.Equal(t, 0, rx.count())

	// retuning the sender restores delivery
	require.NoError(t, a.SetChannel(2))
	require.NoError(t, a.RemovePeer(hubAddr))
	require.NoError(t, a.AddPeer(radio.Peer{Addr: hubAddr, Channel: 2}))
	require.NoError(t, a.Send(hubAddr, []byte{byte(espnow.MsgTypeData)}))
	require.Eventually(t, func() bool { return rx.count() == 1 }, time.Second, time.Millisecond)
}

func TestUDPChannelMismatch(t *testing.T) {
	a, _ := newUDPPair(t, nil)

	require.NoError(t, a.AddPeer(radio.Peer{Addr: hubAddr, Channel: 5}))
	err := a.Send(hubAddr, []byte{byte(espnow.MsgTypeData)})
	require.ErrorIs(t, err, radio.ErrChannelMismatch)
}

func TestUDPStationLock(t *testing.T) {
	tr, err := radio.NewUDPTransport(radio.UDPConfig{
		Local:          sensorAddr,
		BasePort:       testBasePort + 100,
		ListenIP:       "127.0.0.2",
		BroadcastIP:    "127.0.0.3",
		StationChannel: 6,
	})
	require.NoError(t, err)
	defer tr.Close()

	require.Equal(t, uint8(6), tr.Channel())
	require.Equal(t, uint8(6), tr.StationChannel())
	require.ErrorIs(t, tr.SetChannel(7), radio.ErrStationLocked)
	require.NoError(t, tr.SetChannel(6))
}
