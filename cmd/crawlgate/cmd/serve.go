package cmd

import (
	"context"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"

	"github.com/solatis/crawlgate/internal/cache"
	"github.com/solatis/crawlgate/internal/core/api"
	"github.com/solatis/crawlgate/internal/core/auth"
	"github.com/solatis/crawlgate/internal/core/config"
	"github.com/solatis/crawlgate/internal/core/metrics"
	"github.com/solatis/crawlgate/internal/core/server"
	"github.com/solatis/crawlgate/internal/counter"
	"github.com/solatis/crawlgate/internal/events"
	"github.com/solatis/crawlgate/internal/geo"
	"github.com/solatis/crawlgate/internal/rules"
	"github.com/solatis/crawlgate/internal/store"
)

// snapshotSize bounds the number of publishers with a cached rule snapshot.
const snapshotSize = 4096

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gRPC rule engine service",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("host", "0.0.0.0", "gRPC server host")
	serveCmd.Flags().Int("port", 50061, "gRPC server port")
	serveCmd.Flags().String("metrics-addr", ":9090", "Prometheus metrics listen address (empty disables)")
	serveCmd.Flags().String("geoip-db", "", "GeoIP2/GeoLite2 country database path")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, map[string]string{
		"host":         "server.host",
		"port":         "server.port",
		"metrics-addr": "server.metrics_addr",
		"geoip-db":     "geo.database_path",
	})
	if err != nil {
		return err
	}
	logger, err := newLogger(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	secrets, err := config.HMACSecrets()
	if err != nil {
		return errors.Wrap(err, "load HMAC secrets")
	}
	if len(secrets) == 0 {
		return errors.New("no HMAC secrets configured (set CG_HMAC_SECRET environment variable)")
	}

	database, queries, err := openDatabase(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer database.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewMetrics(reg)

	var ruleStore rules.RuleStore = store.NewSQLStore(queries, logger)
	if cfg.Engine.SnapshotTTL > 0 {
		ruleStore = store.NewSnapshotStore(ruleStore, snapshotSize, cfg.Engine.SnapshotTTL)
	}

	requests := counter.NewMemory(cfg.Engine.CountWindow, logger)
	defer requests.Close()

	opts := []rules.Option{
		rules.WithLogger(logger),
		rules.WithMetrics(m),
		rules.WithCounter(requests),
	}
	if cfg.Geo.DatabasePath != "" {
		locator, err := geo.Open(cfg.Geo.DatabasePath)
		if err != nil {
			return err
		}
		defer locator.Close()
		opts = append(opts, rules.WithGeoLocator(locator))
	}
	if cfg.Cache.Enabled {
		opts = append(opts, rules.WithCache(cache.New(cache.NewMemoryBackend(cfg.Cache.Size, cfg.Cache.TTL), logger, m)))
	}
	if cfg.Events.Enabled {
		sink, err := events.NewSink(events.Config{
			BufferSize: cfg.Events.BufferSize,
			Queries:    queries,
			JSONLDir:   filepath.Join(cfg.Server.DataDir, "events"),
		}, logger, m)
		if err != nil {
			return err
		}
		opts = append(opts, rules.WithEventSink(sink))
	}

	engine := rules.NewEngine(cfg.Rules(), ruleStore, opts...)
	if err := engine.Initialize(ctx); err != nil {
		return errors.Wrap(err, "initialize rule engine")
	}
	defer engine.Shutdown()

	service, err := api.NewRuleEngineService(engine, requests, cfg.Server.RequestTimeout, logger)
	if err != nil {
		return err
	}
	authenticator := auth.NewAuthenticator(secrets, queries)

	grpcServer, err := server.NewGRPCServer(&cfg.Server, service,
		[]grpc.UnaryServerInterceptor{authenticator.UnaryInterceptor()}, m.Handler(), logger)
	if err != nil {
		return err
	}

	logger.Info().
		Str("version", Version).
		Str("addr", cfg.Server.Addr()).
		Msg("starting crawlgate")

	errChan := make(chan error, 1)
	go func() {
		errChan <- grpcServer.Start(ctx)
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		logger.Info().Msg("shutting down gracefully")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return grpcServer.Shutdown(shutdownCtx)
	}
}
