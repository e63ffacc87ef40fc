package sender_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/espnow-hub/espnow-hub-pro/internal/radio"
	"github.com/espnow-hub/espnow-hub-pro/internal/radio/radiotest"
	"github.com/espnow-hub/espnow-hub-pro/internal/sender"
	"github.com/espnow-hub/espnow-hub-pro/pkg/espnow"
)

var (
	sensorAddr = espnow.Addr{0x24, 0x6f, 0x28, 0x00, 0x00, 0x01}
	hubAddr    = espnow.Addr{0x24, 0x6f, 0x28, 0x00, 0x00, 0x02}
)

func testReading() *espnow.SensorData {
	return &espnow.SensorData{
		TimestampMS: 1700000000000,
		DeviceID:    "soil-01",
		SoilVoltage: 1.42,
		SoilPercent: 63.5,
		SoilRawADC:  1762,
		BattVoltage: 3.91,
		BattPercent: 87.0,
	}
}

func testConfig(dest espnow.Addr, startCh uint8) sender.Config {
	return sender.Config{
		HubAddr:      dest,
		StartChannel: startCh,
		MaxRetries:   2,
		RetryDelay:   time.Millisecond,
		AckTimeout:   20 * time.Millisecond,
	}
}

// attachHub puts an acknowledging hub on ch
func attachHub(t *testing.T, ether *radiotest.Ether, ch uint8) {
	t.Helper()

	drv := radio.New(ether.Node(hubAddr, ch))
	drv.OnData(func(src espnow.Addr, data []byte) {
		require.NoError(t, drv.AddPeer(radio.Peer{Addr: src}))
		require.NoError(t, drv.SendAck(src))
	})
}

func TestSendDiscovery(t *testing.T) {
	ether := radiotest.NewEther()
	attachHub(t, ether, 5)
	drv := radio.New(ether.Node(sensorAddr, 1))

	snd, err := sender.New(drv, testConfig(espnow.Broadcast, 0))
	require.NoError(t, err)
	defer snd.Close()
	require.Equal(t, sender.ModeDiscovery, snd.Mode())

	out := snd.Send(context.Background(), testReading())
	require.Equal(t, sender.StatusOK, out.Status)
	require.Equal(t, uint8(5), out.Channel)
	require.Equal(t, hubAddr, out.Responder)
}

func TestSendUnicastFastPath(t *testing.T) {
	ether := radiotest.NewEther()
	attachHub(t, ether, 8)
	tr := ether.Node(sensorAddr, 1)
	drv := radio.New(tr)

	snd, err := sender.New(drv, testConfig(hubAddr, 8))
	require.NoError(t, err)
	defer snd.Close()
	require.Equal(t, sender.ModeUnicast, snd.Mode())

	out := snd.Send(context.Background(), testReading())
	require.Equal(t, sender.StatusOK, out.Status)
	require.Equal(t, uint8(8), out.Channel)
	// the responder is only reported in discovery mode
	require.True(t, out.Responder.IsZero())

	// the remembered channel was right, no scan happened
	require.Equal(t, []uint8{8}, tr.ChannelLog)
}

func TestSendLearnsChannelWithinProcess(t *testing.T) {
	ether := radiotest.NewEther()
	attachHub(t, ether, 8)
	tr := ether.Node(sensorAddr, 1)
	drv := radio.New(tr)

	// no remembered channel: the first send scans up to 8
	snd, err := sender.New(drv, testConfig(hubAddr, 0))
	require.NoError(t, err)
	defer snd.Close()

	out := snd.Send(context.Background(), testReading())
	require.Equal(t, sender.StatusOK, out.Status)
	require.Equal(t, uint8(8), out.Channel)
	firstLen := len(tr.ChannelLog)
	require.Greater(t, firstLen, 1)

	// the second send reuses the learned channel directly
	out = snd.Send(context.Background(), testReading())
	require.Equal(t, sender.StatusOK, out.Status)
	require.Equal(t, uint8(8), out.Channel)
	require.Equal(t, firstLen+1, len(tr.ChannelLog))
	require.Equal(t, uint8(8), tr.ChannelLog[firstLen])
}

func TestSendAllChannelsFailed(t *testing.T) {
	ether := radiotest.NewEther()
	drv := radio.New(ether.Node(sensorAddr, 1))

	snd, err := sender.New(drv, testConfig(hubAddr, 0))
	require.NoError(t, err)
	defer snd.Close()

	out := snd.Send(context.Background(), testReading())
	require.Equal(t, sender.StatusAllChannelsFailed, out.Status)
	require.Error(t, out.Err)
}

func TestSendStationLockedNoAck(t *testing.T) {
	ether := radiotest.NewEther()
	attachHub(t, ether, 7)
	tr := ether.Node(sensorAddr, 6)
	tr.SetStationChannel(6)
	drv := radio.New(tr)

	snd, err := sender.New(drv, testConfig(hubAddr, 0))
	require.NoError(t, err)
	defer snd.Close()

	out := snd.Send(context.Background(), testReading())
	require.Equal(t, sender.StatusNoAck, out.Status)
	require.Equal(t, uint8(6), tr.Channel())
}

func TestSendStationLockedStaleStartChannel(t *testing.T) {
	ether := radiotest.NewEther()
	attachHub(t, ether, 6)
	tr := ether.Node(sensorAddr, 6)
	tr.SetStationChannel(6)
	drv := radio.New(tr)

	// the remembered channel from the last wake cycle disagrees with the
	// access point's; delivery must still go out on the locked channel
	snd, err := sender.New(drv, testConfig(hubAddr, 7))
	require.NoError(t, err)
	defer snd.Close()

	out := snd.Send(context.Background(), testReading())
	require.Equal(t, sender.StatusOK, out.Status)
	require.Equal(t, uint8(6), out.Channel)
	require.Equal(t, uint8(6), tr.Channel())
}

func TestSendEncryptedPeer(t *testing.T) {
	ether := radiotest.NewEther()
	attachHub(t, ether, 3)
	tr := ether.Node(sensorAddr, 1)
	drv := radio.New(tr)

	cfg := testConfig(hubAddr, 0)
	cfg.Encrypt = true

	snd, err := sender.New(drv, cfg)
	require.NoError(t, err)
	defer snd.Close()

	enc, ok := tr.PeerEncrypt(hubAddr)
	require.True(t, ok)
	require.True(t, enc)

	// a scan rebinds the peer on every candidate channel; the flag stays
	out := snd.Send(context.Background(), testReading())
	require.Equal(t, sender.StatusOK, out.Status)
	require.Equal(t, uint8(3), out.Channel)

	enc, ok = tr.PeerEncrypt(hubAddr)
	require.True(t, ok)
	require.True(t, enc)
}

func TestNewBroadcastNeverEncrypts(t *testing.T) {
	ether := radiotest.NewEther()
	tr := ether.Node(sensorAddr, 1)
	drv := radio.New(tr)

	cfg := testConfig(espnow.Broadcast, 0)
	cfg.Encrypt = true

	snd, err := sender.New(drv, cfg)
	require.NoError(t, err)
	defer snd.Close()

	enc, ok := tr.PeerEncrypt(espnow.Broadcast)
	require.True(t, ok)
	require.False(t, enc)
}

func TestNewRejectsZeroAddress(t *testing.T) {
	ether := radiotest.NewEther()
	drv := radio.New(ether.Node(sensorAddr, 1))

	_, err := sender.New(drv, testConfig(espnow.Addr{}, 0))
	require.ErrorIs(t, err, espnow.ErrInvalidAddress)
}

func TestNewRejectsBadStartChannel(t *testing.T) {
	ether := radiotest.NewEther()
	drv := radio.New(ether.Node(sensorAddr, 1))

	_, err := sender.New(drv, testConfig(hubAddr, 14))
	require.ErrorIs(t, err, espnow.ErrInvalidChannel)
}

func TestCloseRemovesPeer(t *testing.T) {
	ether := radiotest.NewEther()
	tr := ether.Node(sensorAddr, 1)
	drv := radio.New(tr)

	snd, err := sender.New(drv, testConfig(hubAddr, 1))
	require.NoError(t, err)
	require.True(t, tr.HasPeer(hubAddr))

	require.NoError(t, snd.Close())
	require.False(t, tr.HasPeer(hubAddr))

	// closing twice must not fail on the missing peer
	require.NoError(t, snd.Close())
}
