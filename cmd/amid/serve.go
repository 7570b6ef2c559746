package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/inconshreveable/log15"
	"github.com/nats-io/nats.go"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sufficit/asterisk-manager-go/internal/config"
	"github.com/sufficit/asterisk-manager-go/pkg/ami"
	"github.com/sufficit/asterisk-manager-go/pkg/bridge"
	"github.com/sufficit/asterisk-manager-go/pkg/supervisor"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the supervisor until signalled",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(ctx context.Context) error {
	log := log15.New()
	log.SetHandler(log15.StdoutHandler)

	cfg, err := config.Load(configPath)
	if err != nil {
		return eris.Wrap(err, "failed to load config")
	}
	healthCfg, err := cfg.HealthEvaluatorConfig()
	if err != nil {
		return eris.Wrap(err, "invalid health config")
	}

	sup := supervisor.New(cfg.RetryPolicy(), healthCfg, log)
	for _, p := range cfg.ProviderConfigs() {
		sup.AddProvider(p)
	}

	var closers []func()
	if cfg.BridgeNATSURL != "" {
		conn, err := nats.Connect(cfg.BridgeNATSURL)
		if err != nil {
			return eris.Wrap(err, "failed to connect to nats for bridge")
		}
		nb := bridge.NewNATSBridge(conn, cfg.BridgeSubjectRoot, log.New("bridge", "nats"))
		sup.Subscribe(ami.AllEvents, nb)
		closers = append(closers, func() { nb.Close(); conn.Close() })
	}
	if cfg.BridgeAMQPURL != "" {
		conn, err := amqp.Dial(cfg.BridgeAMQPURL)
		if err != nil {
			return eris.Wrap(err, "failed to connect to amqp for bridge")
		}
		ch, err := conn.Channel()
		if err != nil {
			return eris.Wrap(err, "failed to open amqp channel for bridge")
		}
		ab, err := bridge.NewAMQPBridge(ch, "amid.events", cfg.BridgeSubjectRoot, log.New("bridge", "amqp"))
		if err != nil {
			return eris.Wrap(err, "failed to declare amqp bridge exchange")
		}
		sup.Subscribe(ami.AllEvents, ab)
		closers = append(closers, func() { ab.Close(); ch.Close(); conn.Close() })
	}

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := sup.Start(sigCtx); err != nil {
		return eris.Wrap(err, "failed to start supervisor")
	}
	log.Info("amid started", "providers", len(cfg.Providers))

	<-sigCtx.Done()
	log.Info("shutting down")

	if err := sup.Stop(context.Background(), 5*time.Second); err != nil {
		log.Warn("supervisor stop returned error", "error", err)
	}
	for _, c := range closers {
		c()
	}
	return nil
}
