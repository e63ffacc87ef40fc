package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/espnow-hub/espnow-hub-pro/internal/config"
	"github.com/espnow-hub/espnow-hub-pro/internal/hub"
	"github.com/espnow-hub/espnow-hub-pro/internal/radio"
	"github.com/espnow-hub/espnow-hub-pro/internal/storage/badgerstate"
	"github.com/espnow-hub/espnow-hub-pro/pkg/espnow"
)

func main() {
	// Command line flags
	var configFile string
	flag.StringVar(&configFile, "config", "config/hub.yml", "Configuration file path")
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

	// Open channel rotation state
	state, err := badgerstate.Open(cfg.Hub.StateDir)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open state store")
	}
	defer state.Close()

	// Bring up the radio. The hub retunes to its rotated channel on start,
	// the initial channel just has to be valid.
	tr, err := radio.NewUDPTransport(radio.UDPConfig{
		Local:       localAddr,
		BasePort:    cfg.Radio.BasePort,
		BroadcastIP: cfg.Radio.BroadcastIP,
		ListenIP:    cfg.Radio.ListenIP,

		StartChannel: espnow.MinChannel,
		PMK:          cfg.PMK(),
		TxPowerDBm:   cfg.Radio.TxPowerDBm,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to start radio")
	}
	defer tr.Close()

	drv := radio.New(tr)

	// Connect to NATS
	log.Info().Str("url", cfg.NATS.URL).Msg("Connecting to NATS...")

	nc, err := nats.Connect(cfg.NATS.URL,
		nats.Name("soil-hub"),
		nats.UserInfo(cfg.NATS.Username, cfg.NATS.Password),
		nats.ReconnectWait(cfg.NATS.ReconnectInterval),
		nats.MaxReconnects(cfg.NATS.MaxReconnects),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Warn().Err(err).Msg("Disconnected from NATS")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Msg("Reconnected to NATS")
		}),
	)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to NATS")
	}
	defer nc.Close()

	log.Info().Msg("Connected to NATS")

	var h *hub.Hub
	forwarder := hub.NewNATSForwarder(nc, localAddr, func() uint8 { return h.Channel() })
	h = hub.New(drv, state, forwarder, hub.Config{
		PublishTimeout: cfg.Hub.PublishTimeout,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- h.Start(ctx)
	}()

	// Wait for signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("Received signal, shutting down")
		cancel()
		<-errCh
	case err := <-errCh:
		if err != nil && err != context.Canceled {
			log.Fatal().Err(err).Msg("Hub stopped")
		}
	}

	log.Info().Msg("Hub stopped")
}
