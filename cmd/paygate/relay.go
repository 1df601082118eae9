package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"
	"github.com/vitwit/paygate/logger"
	"github.com/vitwit/paygate/metrics"
	"github.com/vitwit/paygate/relay"
	"github.com/vitwit/paygate/types"
	"github.com/vitwit/paygate/utils"
	"github.com/vitwit/paygate/verification"
)

func relayCommand() *cli.Command {
	return &cli.Command{
		Name:  "relay",
		Usage: "run the upload relay",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "listen", Usage: "listen address (overrides relay.listen_addr)"},
		},
		Action: runRelay,
	}
}

func runRelay(c *cli.Context) error {
	cfg, log, err := setup(c)
	if err != nil {
		return err
	}
	defer log.Sync() //nolint:errcheck

	if addr := c.String("listen"); addr != "" {
		cfg.Relay.ListenAddr = addr
	}

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	rec := metrics.NewPrometheusRecorder(reg)

	store, err := relay.NewStore(ctx, cfg.Relay)
	if err != nil {
		return err
	}

	opts := []relay.Option{
		relay.WithLogger(log),
		relay.WithMetrics(rec),
		relay.WithMetricsHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})),
	}

	if cfg.Relay.VerifyPayments {
		verifier, closeFn, err := newVerifier(ctx, cfg, log, rec)
		if err != nil {
			return err
		}
		defer closeFn()
		opts = append(opts, relay.WithVerifier(verifier))
	}

	srv := &http.Server{
		Addr: cfg.Relay.ListenAddr,
		Handler: relay.NewServer(relay.Config{
			GatewayURL:  cfg.Relay.GatewayURL,
			MaxFileSize: cfg.Relay.MaxFileSize,
		}, store, opts...),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info("relay listening", map[string]any{
			"addr":   cfg.Relay.ListenAddr,
			"store":  cfg.Relay.Store,
			"verify": cfg.Relay.VerifyPayments,
		})
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("relay shutting down", nil)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func newVerifier(ctx context.Context, cfg *types.Config, log logger.Logger, rec metrics.Recorder) (*verification.VerificationService, func(), error) {
	if cfg.RPCURL == "" {
		return nil, nil, types.NewError(types.ErrConfigurationError, "payment verification requires rpc_url", nil)
	}
	fee, err := utils.FeeWei(cfg)
	if err != nil {
		return nil, nil, err
	}
	contract, err := utils.ContractAddress(cfg)
	if err != nil {
		return nil, nil, err
	}

	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to Ethereum RPC: %w", err)
	}

	svc, err := verification.NewVerificationService(client, contract, fee,
		verification.WithLogger(log),
		verification.WithMetrics(rec),
		verification.WithFromBlock(cfg.Relay.FromBlock),
		verification.WithCacheSize(cfg.Relay.CacheSize),
	)
	if err != nil {
		client.Close()
		return nil, nil, err
	}
	return svc, client.Close, nil
}
