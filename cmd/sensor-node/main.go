package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/espnow-hub/espnow-hub-pro/internal/config"
	"github.com/espnow-hub/espnow-hub-pro/internal/radio"
	"github.com/espnow-hub/espnow-hub-pro/internal/sender"
	"github.com/espnow-hub/espnow-hub-pro/internal/storage"
	"github.com/espnow-hub/espnow-hub-pro/internal/storage/badgerstate"
	"github.com/espnow-hub/espnow-hub-pro/pkg/espnow"
)

// The sensor node runs one measurement cycle per invocation, matching a
// battery device that wakes from deep sleep, reports and powers down. The
// process exits 0 even when delivery fails: a lost reading must not break
// the wake cycle.
func main() {
	// Command line flags
	var configFile string
	flag.StringVar(&configFile, "config", "config/sensor-node.yml", "Configuration file path")
	flag.Parse()

	// Setup logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	// Load configuration
	cfg, err := config.Load(configFile)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Set log level
	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	localAddr, err := cfg.RadioAddr()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid radio address")
	}

	// Open persisted delivery state, the fast path across sleep cycles
	state, err := badgerstate.Open(cfg.Sensor.StateDir)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open state store")
	}
	defer state.Close()

	hubAddr, err := cfg.HubAddr()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid hub address")
	}

	var startChannel uint8
	st, err := state.LoadSenderState()
	switch {
	case errors.Is(err, storage.ErrNotFound):
		log.Info().Msg("无历史状态，将从全信道扫描开始")
	case err != nil:
		log.Fatal().Err(err).Msg("Failed to load sender state")
	default:
		startChannel = st.Channel
		if !st.HubAddr.IsZero() {
			hubAddr = st.HubAddr
		}
		log.Info().
			Uint8("channel", startChannel).
			Str("hub", hubAddr.String()).
			Msg("使用上次成功的信道")
	}

	trStart := startChannel
	if !espnow.ValidChannel(trStart) {
		trStart = espnow.MinChannel
	}

	tr, err := radio.NewUDPTransport(radio.UDPConfig{
		Local:       localAddr,
		BasePort:    cfg.Radio.BasePort,
		BroadcastIP: cfg.Radio.BroadcastIP,
		ListenIP:    cfg.Radio.ListenIP,

		StartChannel:   trStart,
		StationChannel: cfg.Radio.StationChannel,
		PMK:            cfg.PMK(),
		TxPowerDBm:     cfg.Radio.TxPowerDBm,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to start radio")
	}
	defer tr.Close()

	drv := radio.New(tr)

	snd, err := sender.New(drv, sender.Config{
		HubAddr:      hubAddr,
		StartChannel: startChannel,
		Encrypt:      cfg.Sensor.Encrypt,
		MaxRetries:   cfg.Sensor.MaxRetries,
		RetryDelay:   cfg.Sensor.RetryDelay,
		AckTimeout:   cfg.Sensor.AckTimeout,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create sender")
	}
	defer snd.Close()

	reading := &espnow.SensorData{
		TimestampMS: uint64(time.Now().UnixMilli()),
		DeviceID:    cfg.Sensor.DeviceID,
		SoilVoltage: cfg.Sensor.SoilVoltage,
		SoilPercent: cfg.Sensor.SoilPercent,
		SoilRawADC:  cfg.Sensor.SoilRawADC,
		BattVoltage: cfg.Sensor.BattVoltage,
		BattPercent: cfg.Sensor.BattPercent,
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	outcome := snd.Send(ctx, reading)
	switch outcome.Status {
	case sender.StatusOK:
		log.Info().
			Uint8("channel", outcome.Channel).
			Str("hub", deliveredHub(hubAddr, outcome).String()).
			Msg("数据发送成功")
		persistState(state, st, outcome, hubAddr)
	case sender.StatusNoAck:
		log.Warn().Msg("集线器未应答，本轮读数丢弃")
	case sender.StatusAllChannelsFailed:
		log.Warn().Msg("全信道扫描失败，本轮读数丢弃")
	default:
		log.Error().Err(outcome.Err).Msg("发送出错，本轮读数丢弃")
	}

	log.Info().Msg("测量周期结束，进入休眠")
}

// deliveredHub resolves which hub actually took the frame
func deliveredHub(configured espnow.Addr, outcome sender.Outcome) espnow.Addr {
	if !outcome.Responder.IsZero() {
		return outcome.Responder
	}
	return configured
}

// persistState writes the fast-path state, but only when it changed: flash
// wear matters on the real device and the emulation keeps the same shape.
func persistState(state storage.ChannelStateStore, prev *storage.SenderState, outcome sender.Outcome, hubAddr espnow.Addr) {
	next := &storage.SenderState{
		Channel: outcome.Channel,
		HubAddr: deliveredHub(hubAddr, outcome),
	}

	if prev != nil && prev.Channel == next.Channel && prev.HubAddr == next.HubAddr {
		return
	}

	if err := state.SaveSenderState(next); err != nil {
		log.Error().Err(err).Msg("Failed to persist sender state")
		return
	}

	log.Info().
		Uint8("channel", next.Channel).
		Str("hub", next.HubAddr.String()).
		Msg("信道状态已持久化")
}
