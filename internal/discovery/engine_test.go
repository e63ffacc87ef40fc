package discovery_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/espnow-hub/espnow-hub-pro/internal/discovery"
	"github.com/espnow-hub/espnow-hub-pro/internal/radio"
	"github.com/espnow-hub/espnow-hub-pro/internal/radio/radiotest"
	"github.com/espnow-hub/espnow-hub-pro/pkg/espnow"
)

var (
	sensorAddr = espnow.Addr{0x24, 0x6f, 0x28, 0x00, 0x00, 0x01}
	hubAddr    = espnow.Addr{0x24, 0x6f, 0x28, 0x00, 0x00, 0x02}
)

var payload = []byte{byte(espnow.MsgTypeData), 0xde, 0xad}

func testConfig() discovery.Config {
	return discovery.Config{
		MaxRetries: 2,
		RetryDelay: time.Millisecond,
		AckTimeout: 20 * time.Millisecond,
	}
}

// attachHub puts an acknowledging hub on ch. skip ignores the first n data
// frames before the hub starts answering.
func attachHub(t *testing.T, ether *radiotest.Ether, ch uint8, skip int) *radiotest.SimTransport {
	t.Helper()

	tr := ether.Node(hubAddr, ch)
	drv := radio.New(tr)
	seen := 0
	drv.OnData(func(src espnow.Addr, data []byte) {
		seen++
		if seen <= skip {
			return
		}
		require.NoError(t, drv.AddPeer(radio.Peer{Addr: src}))
		require.NoError(t, drv.SendAck(src))
	})
	return tr
}

func newSensor(ether *radiotest.Ether, startCh uint8) (*radio.Driver, *radiotest.SimTransport) {
	tr := ether.Node(sensorAddr, startCh)
	return radio.New(tr), tr
}

func TestDeliverFastPath(t *testing.T) {
	ether := radiotest.NewEther()
	attachHub(t, ether, 7, 0)
	drv, tr := newSensor(ether, 1)

	eng := discovery.New(drv, testConfig())
	res, err := eng.Deliver(context.Background(), hubAddr, 7, payload)
	require.NoError(t, err)
	require.Equal(t, uint8(7), res.Channel)

	// one frame, no scan
	require.Equal(t, []uint8{7}, tr.ChannelLog)
}

func TestDeliverScanOrder(t *testing.T) {
	ether := radiotest.NewEther()
	attachHub(t, ether, 7, 0)
	drv, tr := newSensor(ether, 1)

	eng := discovery.New(drv, testConfig())

	// nothing remembered: the full ascending scan runs, every channel
	// below the hub's gets the whole retry budget
	res, err := eng.Deliver(context.Background(), hubAddr, 0, payload)
	require.NoError(t, err)
	require.Equal(t, uint8(7), res.Channel)

	want := []uint8{1, 1, 2, 2, 3, 3, 4, 4, 5, 5, 6, 6, 7}
	require.Equal(t, want, tr.ChannelLog)
}

func TestDeliverFastPathMissThenScan(t *testing.T) {
	ether := radiotest.NewEther()
	attachHub(t, ether, 3, 0)
	drv, tr := newSensor(ether, 1)

	eng := discovery.New(drv, testConfig())

	// the remembered channel is stale; after exhausting it the scan
	// starts over from 1
	res, err := eng.Deliver(context.Background(), hubAddr, 9, payload)
	require.NoError(t, err)
	require.Equal(t, uint8(3), res.Channel)

	want := []uint8{9, 9, 1, 1, 2, 2, 3}
	require.Equal(t, want, tr.ChannelLog)
}

func TestDeliverRetriesOnLostAck(t *testing.T) {
	ether := radiotest.NewEther()
	// hub drops the first two frames, answers the third
	attachHub(t, ether, 5, 2)
	drv, tr := newSensor(ether, 5)

	cfg := testConfig()
	cfg.MaxRetries = 3

	eng := discovery.New(drv, cfg)
	res, err := eng.Deliver(context.Background(), hubAddr, 5, payload)
	require.NoError(t, err)
	require.Equal(t, uint8(5), res.Channel)

	// exactly two failed attempts preceded the success
	require.Equal(t, 3, tr.SentByChannel[5])
}

func TestDeliverAllChannelsFailed(t *testing.T) {
	ether := radiotest.NewEther()
	drv, tr := newSensor(ether, 1)

	eng := discovery.New(drv, testConfig())
	_, err := eng.Deliver(context.Background(), hubAddr, 0, payload)
	require.ErrorIs(t, err, discovery.ErrAllChannelsFailed)

	// every channel got the full retry budget
	for ch := uint8(espnow.MinChannel); ch <= espnow.MaxChannel; ch++ {
		require.Equal(t, 2, tr.SentByChannel[ch], "channel %d", ch)
	}
}

func TestDeliverStationLockedNeverScans(t *testing.T) {
	ether := radiotest.NewEther()
	attachHub(t, ether, 7, 0)
	drv, tr := newSensor(ether, 6)
	tr.SetStationChannel(6)

	require.NoError(t, drv.AddPeer(radio.Peer{Addr: hubAddr}))

	eng := discovery.New(drv, testConfig())
	_, err := eng.Deliver(context.Background(), hubAddr, 7, payload)
	require.ErrorIs(t, err, discovery.ErrNoAck)

	// the radio never left the access point's channel
	require.Equal(t, uint8(6), tr.Channel())
	for _, ch := range tr.ChannelLog {
		require.Equal(t, uint8(6), ch)
	}
}

func TestDeliverStationLockedRebindsStalePeer(t *testing.T) {
	ether := radiotest.NewEther()
	attachHub(t, ether, 6, 0)
	drv, tr := newSensor(ether, 6)
	tr.SetStationChannel(6)

	// the peer still carries last cycle's channel; the engine must move
	// it to the access point's channel without touching the radio
	require.NoError(t, drv.AddPeer(radio.Peer{Addr: hubAddr, Channel: 7}))

	eng := discovery.New(drv, testConfig())
	res, err := eng.Deliver(context.Background(), hubAddr, 7, payload)
	require.NoError(t, err)
	require.Equal(t, uint8(6), res.Channel)
	require.Equal(t, uint8(6), tr.Channel())

	ch, ok := tr.PeerChannel(hubAddr)
	require.True(t, ok)
	require.Equal(t, uint8(6), ch)
}

func TestDeliverCarriesEncryptOnRebind(t *testing.T) {
	ether := radiotest.NewEther()
	attachHub(t, ether, 4, 0)
	drv, tr := newSensor(ether, 1)

	cfg := testConfig()
	cfg.Encrypt = true

	eng := discovery.New(drv, cfg)
	res, err := eng.Deliver(context.Background(), hubAddr, 0, payload)
	require.NoError(t, err)
	require.Equal(t, uint8(4), res.Channel)

	// the flag survives every scan rebind
	enc, ok := tr.PeerEncrypt(hubAddr)
	require.True(t, ok)
	require.True(t, enc)
}

func TestDeliverStationLockedSuccess(t *testing.T) {
	ether := radiotest.NewEther()
	attachHub(t, ether, 6, 0)
	drv, tr := newSensor(ether, 6)
	tr.SetStationChannel(6)

	require.NoError(t, drv.AddPeer(radio.Peer{Addr: hubAddr}))

	eng := discovery.New(drv, testConfig())
	res, err := eng.Deliver(context.Background(), hubAddr, 0, payload)
	require.NoError(t, err)
	require.Equal(t, uint8(6), res.Channel)
}

func TestDeliverDiscoveryBroadcast(t *testing.T) {
	ether := radiotest.NewEther()
	attachHub(t, ether, 4, 0)
	drv, _ := newSensor(ether, 1)

	require.NoError(t, drv.AddPeer(radio.Peer{Addr: espnow.Broadcast}))

	eng := discovery.New(drv, testConfig())
	res, err := eng.Deliver(context.Background(), espnow.Broadcast, 0, payload)
	require.NoError(t, err)
	require.Equal(t, uint8(4), res.Channel)
	require.Equal(t, hubAddr, res.Responder)
}

func TestDeliverZeroAddress(t *testing.T) {
	ether := radiotest.NewEther()
	drv, _ := newSensor(ether, 1)

	eng := discovery.New(drv, testConfig())
	_, err := eng.Deliver(context.Background(), espnow.Addr{}, 0, payload)
	require.ErrorIs(t, err, espnow.ErrInvalidAddress)
}

func TestDeliverTransportFailureAborts(t *testing.T) {
	ether := radiotest.NewEther()
	drv, tr := newSensor(ether, 1)
	tr.SendErr = errors.New("radio dead")

	eng := discovery.New(drv, testConfig())
	_, err := eng.Deliver(context.Background(), hubAddr, 0, payload)
	require.Error(t, err)
	require.False(t, errors.Is(err, discovery.ErrAllChannelsFailed))
}

func TestDeliverContextCancelled(t *testing.T) {
	ether := radiotest.NewEther()
	drv, _ := newSensor(ether, 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cfg := testConfig()
	cfg.RetryDelay = time.Second

	eng := discovery.New(drv, cfg)
	_, err := eng.Deliver(ctx, hubAddr, 0, payload)
	require.ErrorIs(t, err, context.Canceled)
}
