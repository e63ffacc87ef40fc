package radio

import (
	"fmt"
	"net"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/espnow-hub/espnow-hub-pro/pkg/crypto"
	"github.com/espnow-hub/espnow-hub-pro/pkg/espnow"
)

// UDP 线路格式: src(6) | dst(6) | flags(1) | payload
const (
	udpHeaderLen = 13

	flagEncrypted = 0x01
)

// UDPConfig configures the UDP link emulation
type UDPConfig struct {
	// Local is this node's hardware address
	Local espnow.Addr

	// BasePort maps channel n to UDP port BasePort+n
	BasePort int

	// BroadcastIP is where frames are transmitted (default 255.255.255.255)
	BroadcastIP string

	// ListenIP is the bind address (default 0.0.0.0)
	ListenIP string

	// StartChannel is the initially tuned channel
	StartChannel uint8

	// StationChannel, when non-zero, emulates an access-point association
	// pinning the radio to that channel.
	StationChannel uint8

	// PMK is the 16-byte pairwise master key for peers added with the
	// encrypt flag. Required only when such peers exist.
	PMK []byte

	// TxPowerDBm limits transmit power; 0 means radio default. The
	// emulation only records and logs it.
	TxPowerDBm int8
}

// UDPTransport emulates the connectionless ESP-NOW link over UDP broadcast.
// A channel is a UDP port, so a node tuned to the wrong channel genuinely
// does not hear the frame.
type UDPTransport struct {
	cfg UDPConfig

	mu      sync.Mutex
	conn    *net.UDPConn
	channel uint8
	peers   map[espnow.Addr]Peer
	handler RecvHandler
	closed  bool
	gen     uint64 // socket generation, stops stale read loops
}

// NewUDPTransport binds the emulated radio on its starting channel
func NewUDPTransport(cfg UDPConfig) (*UDPTransport, error) {
	if cfg.Local.IsZero() || cfg.Local.IsBroadcast() {
		return nil, espnow.ErrInvalidAddress
	}
	if cfg.BasePort <= 0 {
		return nil, fmt.Errorf("base port required")
	}
	if cfg.BroadcastIP == "" {
		cfg.BroadcastIP = "255.255.255.255"
	}
	if cfg.ListenIP == "" {
		cfg.ListenIP = "0.0.0.0"
	}

	start := cfg.StartChannel
	if cfg.StationChannel != 0 {
		// 已关联 AP，信道被锁定
		start = cfg.StationChannel
	}
	if !espnow.ValidChannel(start) {
		return nil, espnow.ErrInvalidChannel
	}
	if len(cfg.PMK) != 0 && len(cfg.PMK) != crypto.PMKLen {
		return nil, fmt.Errorf("pmk must be %d bytes", crypto.PMKLen)
	}

	t := &UDPTransport{
		cfg:   cfg,
		peers: make(map[espnow.Addr]Peer),
	}

	if err := t.retune(start); err != nil {
		return nil, err
	}

	if cfg.TxPowerDBm > 0 {
		log.Info().Int8("tx_power_dbm", cfg.TxPowerDBm).Msg("发射功率已限制")
	}

	log.Info().
		Str("addr", cfg.Local.String()).
		Uint8("channel", start).
		Int("port", cfg.BasePort+int(start)).
		Msg("UDP 射频仿真已启动")

	return t, nil
}

// retune rebinds the listening socket to the port of the given channel.
// Must be called without t.mu held.
func (t *UDPTransport) retune(ch uint8) error {
	addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", t.cfg.ListenIP, t.cfg.BasePort+int(ch)))
	if err != nil {
		return err
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("bind channel %d: %w", ch, err)
	}

	t.mu.Lock()
	old := t.conn
	t.conn = conn
	t.channel = ch
	t.gen++
	gen := t.gen
	t.mu.Unlock()

	if old != nil {
		old.Close()
	}

	go t.readLoop(conn, gen)
	return nil
}

// readLoop 处理接收到的帧，直到套接字换代或关闭
func (t *UDPTransport) readLoop(conn *net.UDPConn, gen uint64) {
	buf := make([]byte, espnow.MaxDataLen+udpHeaderLen)
	for {
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			t.mu.Lock()
			stale := t.gen != gen || t.closed
			t.mu.Unlock()
			if stale {
				return
			}
			log.Error().Err(err).Msg("读取 UDP 帧错误")
			continue
		}

		t.handleFrame(buf[:n])
	}
}

// handleFrame filters, decrypts and delivers one raw frame
func (t *UDPTransport) handleFrame(raw []byte) {
	if len(raw) < udpHeaderLen {
		return
	}

	var src, dst espnow.Addr
	copy(src[:], raw[0:6])
	copy(dst[:], raw[6:12])
	flags := raw[12]
	payload := raw[udpHeaderLen:]

	// 广播环回会回显自己的帧
	if src == t.cfg.Local {
		return
	}
	if dst != t.cfg.Local && !dst.IsBroadcast() {
		return
	}

	if flags&flagEncrypted != 0 {
		if len(t.cfg.PMK) == 0 {
			log.Warn().Str("src", src.String()).Msg("收到加密帧但未配置 PMK")
			return
		}
		plain, err := crypto.OpenFrame(t.cfg.PMK, payload)
		if err != nil {
			log.Warn().Err(err).Str("src", src.String()).Msg("帧解密失败")
			return
		}
		payload = plain
	}

	t.mu.Lock()
	h := t.handler
	t.mu.Unlock()
	if h != nil {
		h(src, payload)
	}
}

// LocalAddr returns this node's hardware address
func (t *UDPTransport) LocalAddr() espnow.Addr {
	return t.cfg.Local
}

// AddPeer registers a peer; its channel is bound now
func (t *UDPTransport) AddPeer(p Peer) error {
	if p.Addr.IsZero() {
		return espnow.ErrInvalidAddress
	}
	if p.Channel != 0 && !espnow.ValidChannel(p.Channel) {
		return espnow.ErrInvalidChannel
	}
	if p.Encrypt && len(t.cfg.PMK) != crypto.PMKLen {
		return fmt.Errorf("encrypted peer requires a configured pmk")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ErrTransportClosed
	}
	if _, ok := t.peers[p.Addr]; ok {
		return ErrPeerExists
	}
	t.peers[p.Addr] = p
	return nil
}

// RemovePeer unregisters a peer
func (t *UDPTransport) RemovePeer(addr espnow.Addr) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.peers[addr]; !ok {
		return ErrPeerNotFound
	}
	delete(t.peers, addr)
	return nil
}

// HasPeer reports whether the address is registered
func (t *UDPTransport) HasPeer(addr espnow.Addr) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.peers[addr]
	return ok
}

// Send transmits one frame on the current channel. The destination must be a
// registered peer whose bound channel is 0 or equal to the current channel.
func (t *UDPTransport) Send(dst espnow.Addr, payload []byte) error {
	if len(payload) > espnow.MaxDataLen {
		return espnow.ErrPayloadTooLarge
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrTransportClosed
	}
	peer, ok := t.peers[dst]
	ch := t.channel
	t.mu.Unlock()

	if !ok {
		return ErrPeerNotFound
	}
	if peer.Channel != 0 && peer.Channel != ch {
		return fmt.Errorf("%w: peer=%d radio=%d", ErrChannelMismatch, peer.Channel, ch)
	}

	if peer.Encrypt {
		sealed, err := crypto.SealFrame(t.cfg.PMK, payload)
		if err != nil {
			return fmt.Errorf("seal frame: %w", err)
		}
		payload = sealed
	}

	frame := make([]byte, udpHeaderLen+len(payload))
	copy(frame[0:6], t.cfg.Local[:])
	copy(frame[6:12], dst[:])
	if peer.Encrypt {
		frame[12] = flagEncrypted
	}
	copy(frame[udpHeaderLen:], payload)

	target := &net.UDPAddr{
		IP:   net.ParseIP(t.cfg.BroadcastIP),
		Port: t.cfg.BasePort + int(ch),
	}

	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()

	if _, err := conn.WriteToUDP(frame, target); err != nil {
		return fmt.Errorf("udp send: %w", err)
	}
	return nil
}

// SetChannel tunes to another channel by rebinding the socket
func (t *UDPTransport) SetChannel(ch uint8) error {
	if !espnow.ValidChannel(ch) {
		return espnow.ErrInvalidChannel
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrTransportClosed
	}
	locked := t.cfg.StationChannel
	cur := t.channel
	t.mu.Unlock()

	if locked != 0 && ch != locked {
		return ErrStationLocked
	}
	if ch == cur {
		return nil
	}

	if err := t.retune(ch); err != nil {
		return err
	}

	log.Debug().Uint8("channel", ch).Msg("信道已切换")
	return nil
}

// Channel returns the currently tuned channel
func (t *UDPTransport) Channel() uint8 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.channel
}

// StationChannel returns the emulated AP channel, 0 when not associated
func (t *UDPTransport) StationChannel() uint8 {
	return t.cfg.StationChannel
}

// SetRecvHandler registers the receive callback
func (t *UDPTransport) SetRecvHandler(h RecvHandler) {
	t.mu.Lock()
	t.handler = h
	t.mu.Unlock()
}

// Close shuts the socket down
func (t *UDPTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true
	if t.conn != nil {
		return t.conn.Close()
	}
	return nil
}
