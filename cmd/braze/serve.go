package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sourcegraph/conc/pool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/RichardKnop/braze/internal/config"
	"github.com/RichardKnop/braze/internal/database"
	"github.com/RichardKnop/braze/internal/protocol"
	"github.com/RichardKnop/braze/internal/stmt"
	"github.com/RichardKnop/braze/internal/transport"
)

var (
	serveListen      string
	serveWorkers     int
	serveMetricsAddr string
	serveDBDriver    string
	serveDBDSN       string
	serveDialect     string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the statement server",
	Long: `Listens on the configured service and answers ping, classify,
placeholders, rewrite and exec requests, one client per worker at a time.

Example:
  braze serve --listen "tcp://:7070?backlog=32&timeout=30s" --workers 4 \
    --db-driver sqlite --db-dsn ./braze.db --metrics-addr :9100`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVarP(&serveListen, "listen", "l", "", "address string, overrides server.* in the config file")
	serveCmd.Flags().IntVarP(&serveWorkers, "workers", "w", 0, "number of clients served concurrently")
	serveCmd.Flags().StringVar(&serveMetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	serveCmd.Flags().StringVar(&serveDBDriver, "db-driver", "", "database driver: postgres or sqlite")
	serveCmd.Flags().StringVar(&serveDBDSN, "db-dsn", "", "database connection string")
	serveCmd.Flags().StringVar(&serveDialect, "dialect", "", "placeholder dialect, defaults to the driver's")
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	serverCfg, err := serveConfig()
	if err != nil {
		return err
	}

	var opts []protocol.ServerOption
	conn, err := openDatabase(ctx, dbOverrides{driver: serveDBDriver, dsn: serveDBDSN, dialect: serveDialect})
	if err != nil {
		return err
	}
	if conn != nil {
		defer conn.Close()
		opts = append(opts, protocol.WithDatabase(conn))
	}

	metrics := protocol.NewMetrics(prometheus.DefaultRegisterer)
	opts = append(opts,
		protocol.WithMetrics(metrics),
		protocol.WithPollInterval(serverCfg.PollInterval.Duration),
	)

	if serverCfg.MetricsAddr != "" {
		stopMetrics := serveMetrics(serverCfg.MetricsAddr)
		defer stopMetrics()
	}

	workers, err := openWorkers(serverCfg)
	if err != nil {
		return err
	}
	defer func() {
		// Managed workers first, the owner of the listener last.
		for i := len(workers) - 1; i >= 0; i-- {
			if err := workers[i].Close(); err != nil {
				logger.Warn("error closing worker", zap.Int("worker", i), zap.Error(err))
			}
		}
	}()

	p := pool.New().WithContext(ctx).WithCancelOnError()
	for i, w := range workers {
		workerOpts := append(slices.Clone(opts), protocol.WithServerLogger(logger.With(zap.Int("worker", i))))
		aServer := protocol.NewServer(w, workerOpts...)
		p.Go(func(ctx context.Context) error {
			return aServer.Serve(ctx)
		})
	}

	logger.Info("serving",
		zap.String("addr", workers[0].Addr().String()),
		zap.Int("workers", len(workers)),
	)

	if err := p.Wait(); err != nil {
		return err
	}
	logger.Info("shutting down")
	return nil
}

// serveConfig merges the --listen address and flags into the config file's
// server section.
func serveConfig() (config.ServerConfig, error) {
	serverCfg := cfg.Server
	if serveListen != "" {
		addr, err := config.ParseAddress(serveListen)
		if err != nil {
			return config.ServerConfig{}, err
		}
		serverCfg.Service = addr.Service
		serverCfg.Backlog = addr.Backlog
		serverCfg.MultiSocket = addr.MultiSocket
		serverCfg.Timeout = config.Duration{Duration: addr.Timeout}
		serverCfg.Retries = addr.Retries
	}
	if serveWorkers > 0 {
		serverCfg.Workers = serveWorkers
	}
	if serveMetricsAddr != "" {
		serverCfg.MetricsAddr = serveMetricsAddr
	}
	return serverCfg, nil
}

// openWorkers opens one transport per worker. With multi_socket every worker
// binds its own socket and the kernel spreads clients between them,
// otherwise the first worker's listener is shared.
func openWorkers(serverCfg config.ServerConfig) ([]*transport.Server, error) {
	workers := make([]*transport.Server, 0, serverCfg.Workers)
	closeAll := func() {
		for i := len(workers) - 1; i >= 0; i-- {
			workers[i].Close()
		}
	}

	for i := range serverCfg.Workers {
		w := transport.NewServer(
			transport.WithTimeout(serverCfg.Timeout.Duration),
			transport.WithRetries(serverCfg.Retries),
			transport.WithLogger(logger.With(zap.Int("worker", i))),
		)

		var err error
		if i == 0 || serverCfg.MultiSocket {
			err = w.Open(serverCfg.Service, serverCfg.Backlog, serverCfg.MultiSocket)
		} else {
			err = w.OpenManaged(workers[0].Listener())
		}
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("worker %d: %w", i, err)
		}
		workers = append(workers, w)
	}

	return workers, nil
}

func serveMetrics(addr string) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("serving metrics", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Warn("error stopping metrics server", zap.Error(err))
		}
	}
}

type dbOverrides struct {
	driver  string
	dsn     string
	dialect string
}

// openDatabase opens the configured database, or returns nil when no driver
// is configured.
func openDatabase(ctx context.Context, o dbOverrides) (database.Conn, error) {
	dbCfg := cfg.Database
	if o.driver != "" {
		dbCfg.Driver = o.driver
	}
	if o.dsn != "" {
		dbCfg.DSN = o.dsn
	}
	if o.dialect != "" {
		dbCfg.Dialect = o.dialect
	}
	if dbCfg.Driver == "" {
		return nil, nil
	}

	opts := []database.Option{
		database.WithLogger(logger),
		database.WithCacheSize(dbCfg.CacheSize),
	}
	if dbCfg.Dialect != "" {
		d, err := stmt.ParseDialect(dbCfg.Dialect)
		if err != nil {
			return nil, err
		}
		opts = append(opts, database.WithDialect(d))
	}

	conn, err := database.Open(ctx, dbCfg.Driver, dbCfg.DSN, opts...)
	if err != nil {
		return nil, err
	}
	logger.Info("database ready",
		zap.String("driver", dbCfg.Driver),
		zap.String("dialect", conn.Dialect().String()),
	)
	return conn, nil
}
