package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/inconshreveable/log15"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sufficit/asterisk-manager-go/internal/config"
	"github.com/sufficit/asterisk-manager-go/pkg/supervisor"
)

func healthCmd() *cobra.Command {
	var wait time.Duration
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Connect briefly and print a health report as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHealth(cmd.Context(), wait)
		},
	}
	cmd.Flags().DurationVar(&wait, "wait", 3*time.Second, "time to allow providers to connect before reporting")
	return cmd
}

func runHealth(ctx context.Context, wait time.Duration) error {
	log := log15.New()
	log.SetHandler(log15.DiscardHandler())

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

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := sup.Start(runCtx); err != nil {
		return eris.Wrap(err, "failed to start supervisor")
	}
	select {
	case <-time.After(wait):
	case <-ctx.Done():
	}

	report := sup.CheckHealth()
	sup.Stop(context.Background(), time.Second)
	out, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return eris.Wrap(err, "failed to marshal report")
	}
	fmt.Println(string(out))
	return nil
}
