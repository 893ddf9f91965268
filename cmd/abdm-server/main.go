package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/10bedicu/care-abdm/internal/carecontext"
	"github.com/10bedicu/care-abdm/internal/config"
	"github.com/10bedicu/care-abdm/internal/consent"
	"github.com/10bedicu/care-abdm/internal/dataflow"
	"github.com/10bedicu/care-abdm/internal/facility"
	"github.com/10bedicu/care-abdm/internal/gateway"
	"github.com/10bedicu/care-abdm/internal/ledger"
	"github.com/10bedicu/care-abdm/internal/linking"
	"github.com/10bedicu/care-abdm/internal/platform/auth"
	"github.com/10bedicu/care-abdm/internal/platform/cache"
	"github.com/10bedicu/care-abdm/internal/platform/db"
	"github.com/10bedicu/care-abdm/internal/platform/middleware"
	"github.com/10bedicu/care-abdm/internal/records"
	"github.com/10bedicu/care-abdm/migrations"
)

const cacheSize = 4096

func main() {
	rootCmd := &cobra.Command{
		Use:   "abdm-server",
		Short: "ABDM consent and health-information exchange service",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(sweepCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API and callback server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			count, err := db.NewMigrator(pool, migrations.Files).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Printf("Applied %d migration(s).\n", count)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, migrations.Files).Status(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			for _, s := range statuses {
				status, appliedAt := "pending", ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	})

	return cmd
}

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Re-drive stuck link transactions once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			app, cleanup, err := buildApp(context.Background(), logger)
			if err != nil {
				return err
			}
			defer cleanup()

			return app.sweeper.RunOnce(context.Background())
		},
	}
}

// app holds the wired services shared by the serve and sweep commands.
type app struct {
	cfg      *config.Config
	pool     *pgxpool.Pool
	ledger   *ledger.Service
	consents *consent.Service
	dataflow *dataflow.Service
	recs     *records.Service
	links    *linking.Service
	notifier *linking.Notifier
	sweeper  *linking.Sweeper
	facility *facility.Service
}

func buildApp(ctx context.Context, logger zerolog.Logger) (*app, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return nil, nil, err
	}

	c, err := cache.New(cacheSize)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}

	gw := gateway.New(gateway.Config{
		BaseURL:      cfg.GatewayURL,
		CMID:         cfg.CMID,
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		HIUID:        cfg.HIUID,
		HIPID:        cfg.HIPID,
		Timeout:      cfg.RequestTimeout(),
	}, c, logger)

	ledgerSvc := ledger.NewService(ledger.NewRepo(pool), logger)
	resolver := carecontext.NewResolver(carecontext.NewSource(pool))

	consentRepo := consent.NewRepo(pool)
	recordsSvc := records.NewService(records.NewRepo(pool), ledgerSvc, logger)
	dataflowSvc := dataflow.NewService(consentRepo, gw, ledgerSvc, recordsSvc,
		cfg.BackendDomain, logger)
	consentSvc := consent.NewService(consentRepo, pool, gw, dataflowSvc, cfg.HIUID, logger)

	linkSvc := linking.NewService(gw, ledgerSvc, resolver, c, cfg.RetryBatchSize, logger)
	notifier := linking.NewNotifier(logger)
	notifier.Subscribe(linkSvc.OnCareEvent)

	sweeper := linking.NewSweeper(linkSvc,
		time.Duration(cfg.RetryStuckHours)*time.Hour, cfg.SweepHourUTC, logger)

	facilitySvc := facility.NewService(facility.NewRepo(pool), pool, gw, ledgerSvc, logger)

	return &app{
		cfg:      cfg,
		pool:     pool,
		ledger:   ledgerSvc,
		consents: consentSvc,
		dataflow: dataflowSvc,
		recs:     recordsSvc,
		links:    linkSvc,
		notifier: notifier,
		sweeper:  sweeper,
		facility: facilitySvc,
	}, pool.Close, nil
}

func newLogger() zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return logger
}

func runServer() error {
	logger := newLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, cleanup, err := buildApp(ctx, logger)
	if err != nil {
		return err
	}
	defer cleanup()
	logger.Info().Msg("connected to database")

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.Metrics())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: app.cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": "0.1.0",
		})
	})
	e.GET("/health/db", db.HealthHandler(app.pool))
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// EMR-facing API.
	api := e.Group("/api/v1")
	consent.NewHandler(app.consents).RegisterRoutes(api)
	records.NewHandler(app.recs).RegisterRoutes(api)
	facility.NewHandler(app.facility).RegisterRoutes(api)
	linking.NewHandler(app.notifier).RegisterRoutes(api)
	ledger.NewHandler(app.ledger).RegisterRoutes(api)

	// Gateway callbacks, verified against the gateway's signing keys.
	callbackAuth := auth.CallbackAuth(auth.CallbackConfig{
		GatewayURL: app.cfg.GatewayURL,
		SkipVerify: app.cfg.IsDev(),
	})
	consentCallbacks := consent.NewCallbackHandler(app.consents, logger)
	dataflowCallbacks := dataflow.NewCallbackHandler(app.dataflow, logger)

	hiu := e.Group("/v3/hiu", callbackAuth)
	consentCallbacks.Register(hiu)
	dataflowCallbacks.Register(hiu)

	hip := e.Group("/v3/hip", callbackAuth)
	linking.NewCallbackHandler(app.links, logger).Register(hip)
	consentCallbacks.RegisterHIP(hip)
	dataflowCallbacks.RegisterHIP(hip)

	go app.sweeper.Run(ctx)

	go func() {
		addr := ":" + app.cfg.Port
		var err error
		if app.cfg.TLSEnabled {
			err = e.StartTLS(addr, app.cfg.TLSCertFile, app.cfg.TLSKeyFile)
		} else {
			err = e.Start(addr)
		}
		if err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()
	logger.Info().Str("port", app.cfg.Port).Msg("server started")

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}
