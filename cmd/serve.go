package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/compresr/guard-gateway/internal/gateway"
	"github.com/compresr/guard-gateway/internal/guardrail"
	"github.com/compresr/guard-gateway/internal/monitoring"
)

func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	configPath := fs.String("config", os.Getenv("GUARD_GATEWAY_CONFIG"), "path to the YAML config")
	debug := fs.Bool("debug", false, "force debug logging")
	port := fs.Int("port", 0, "override server.port")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	if *port > 0 {
		cfg.Server.Port = *port
	}
	setupLogging(cfg.Monitoring, *debug, os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Monitoring.TracingEnabled {
		shutdownTracing, err := monitoring.SetupTracing(os.Stderr, Version)
		if err != nil {
			return err
		}
		defer func() {
			tctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			if err := shutdownTracing(tctx); err != nil {
				log.Warn().Err(err).Msg("trace flush failed")
			}
		}()
	}

	gw, err := gateway.New(ctx, cfg, Version)
	if err != nil {
		return fmt.Errorf("starting gateway: %w", err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- gw.Start() }()

	select {
	case err := <-errCh:
		_ = gw.Close()
		return err
	case <-ctx.Done():
	}

	log.Info().Dur("timeout", cfg.Server.ShutdownTimeout).Msg("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := gw.Shutdown(sctx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return nil
}

// runCheck validates a config file and compiles its rule set without
// contacting any oracle.
func runCheck(args []string) error {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	configPath := fs.String("config", os.Getenv("GUARD_GATEWAY_CONFIG"), "path to the YAML config")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	rs, err := guardrail.LoadRuleSet(cfg.Guardrails.Screen.RulesFile)
	if err != nil {
		return err
	}
	screen, err := guardrail.NewScreen(rs)
	if err != nil {
		return err
	}
	if _, err := guardrail.NewLocalRedactor(rs); err != nil {
		return err
	}

	source := *configPath
	if source == "" {
		source = "defaults"
	}
	g := cfg.Guardrails
	fmt.Printf("%sconfig ok%s  source=%s\n", colorCyan, colorReset, source)
	fmt.Printf("  screen      rules=%d\n", screen.RuleCount())
	fmt.Printf("  redactor    backend=%s workers=%d queue=%d policy=%s\n",
		g.Redactor.Backend, g.Redactor.Workers, g.Redactor.QueueDepth, g.Redactor.FailurePolicy)
	fmt.Printf("  classifier  backend=%s policy=%s\n", g.Classifier.Backend, g.Classifier.FailurePolicy)
	fmt.Printf("  breaker     ratio=%.2f min=%d cool_down=%s first_byte=%s\n",
		cfg.Breaker.FailureRatio, cfg.Breaker.MinRequests, cfg.Breaker.CoolDown, cfg.Breaker.FirstByteTimeout)
	fmt.Printf("  downstream  %s\n", cfg.Downstream.URL)
	return nil
}
