package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/servicegate/internal/config"
	"github.com/ehr/servicegate/internal/domain/audit"
	"github.com/ehr/servicegate/internal/domain/billing"
	"github.com/ehr/servicegate/internal/domain/catalog"
	"github.com/ehr/servicegate/internal/domain/orders"
	"github.com/ehr/servicegate/internal/domain/payment"
	"github.com/ehr/servicegate/internal/domain/visit"
	"github.com/ehr/servicegate/internal/domain/workflow"
	"github.com/ehr/servicegate/internal/platform/auth"
	"github.com/ehr/servicegate/internal/platform/db"
	"github.com/ehr/servicegate/internal/platform/events"
	"github.com/ehr/servicegate/internal/platform/middleware"
	"github.com/ehr/servicegate/migrations"
)

const version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:           "gate-server",
		Short:         "Service-driven workflow gate API server",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(catalogCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func openPool(ctx context.Context) (*config.Config, *pgxpool.Pool, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return nil, nil, err
	}
	return cfg, pool, nil
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
			ctx := cmd.Context()
			_, pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			count, err := db.NewMigrator(pool, migrations.FS).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			_, pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, migrations.FS).Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}
			printStatus(cmd, statuses)
			return nil
		},
	})

	return cmd
}

func printStatus(cmd *cobra.Command, statuses []db.MigrationStatus) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	fmt.Fprintln(out, "---------- ---------------------------------------- ---------- --------------------")
	for _, s := range statuses {
		status := "pending"
		appliedAt := ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(out, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}

func catalogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Manage the service catalog",
	}

	importCmd := &cobra.Command{
		Use:   "import",
		Short: "Create, update and publish catalog entries from a JSON file",
		RunE: func(cmd *cobra.Command, args []string) error {
			file, _ := cmd.Flags().GetString("file")
			if file == "" {
				return fmt.Errorf("--file is required")
			}
			entries, err := readCatalogFile(file)
			if err != nil {
				return err
			}

			ctx := auth.WithUser(cmd.Context(), "catalog-import", []string{auth.RoleAdmin})
			_, pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			svc := catalog.NewService(catalog.NewRepoPG(pool))
			svc.SetAuditAppender(audit.NewRepoPG(pool))

			var res catalog.ImportResult
			err = db.NewTxManager(pool).WithinTx(ctx, func(ctx context.Context) error {
				res, err = svc.Import(ctx, entries)
				return err
			})
			if err != nil {
				return fmt.Errorf("import %s: %w", file, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created=%d updated=%d published=%d skipped=%d\n",
				res.Created, res.Updated, res.Published, res.Skipped)
			return nil
		},
	}
	importCmd.Flags().String("file", "", "Path to a JSON array of catalog entries")
	cmd.AddCommand(importCmd)

	return cmd
}

// readCatalogFile accepts either a JSON array of entries or {"entries": [...]}.
func readCatalogFile(path string) ([]*catalog.Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog file: %w", err)
	}
	var entries []*catalog.Entry
	if err := json.Unmarshal(data, &entries); err == nil {
		return entries, nil
	}
	var wrapped struct {
		Entries []*catalog.Entry `json:"entries"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return nil, fmt.Errorf("parse catalog file: %w", err)
	}
	return wrapped.Entries, nil
}

func newLogger(env, level string) zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if env == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	return logger.Level(lvl)
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := newLogger(cfg.Env, cfg.LogLevel)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}
	if cfg.IsDev() {
		logger.Warn().Msg("ENV=development: DevAuthMiddleware is active and trusts X-User-ID / X-User-Roles headers")
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	healthChecks := map[string]db.Check{}

	// Payment clearance
	var payments payment.StateProvider = payment.VisitStatusProvider{}
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("invalid REDIS_URL")
		}
		rdb := redis.NewClient(opts)
		defer rdb.Close()
		payments = payment.NewRedisProvider(rdb, payment.VisitStatusProvider{}, logger)
		healthChecks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
		logger.Info().Msg("payment clearance read from redis")
	}

	// Outbound events
	var publisher events.Publisher = events.Nop{}
	if cfg.AMQPURL != "" {
		conn, err := amqp091.Dial(cfg.AMQPURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to rabbitmq")
		}
		defer conn.Close()
		ch, err := conn.Channel()
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to open rabbitmq channel")
		}
		if err := events.DeclareQueue(ch, cfg.AMQPOrderQueue); err != nil {
			logger.Fatal().Err(err).Str("queue", cfg.AMQPOrderQueue).Msg("failed to declare queue")
		}
		amqpPub := events.NewAMQPPublisher(ch, cfg.AMQPOrderQueue, cfg.EventBufferSize, logger)
		amqpPub.Start()
		defer amqpPub.Close()
		publisher = amqpPub
		healthChecks["rabbitmq"] = func(context.Context) error {
			if conn.IsClosed() {
				return fmt.Errorf("connection closed")
			}
			return nil
		}
		logger.Info().Str("queue", cfg.AMQPOrderQueue).Msg("publishing order events to rabbitmq")
	}

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader, workflow.ActingRoleHeader},
	}))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok", "version": version})
	})
	e.GET("/health/ready", db.HealthHandler(pool, healthChecks))

	apiV1 := e.Group("/api/v1")
	if cfg.IsDev() {
		apiV1.Use(auth.DevAuthMiddleware())
	} else {
		apiV1.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			JWKSURL:    cfg.AuthJWKSURL,
			SigningKey: []byte(cfg.AuthSigningKey),
		}))
	}
	apiV1.Use(catalog.RequestCacheMiddleware())

	tx := db.NewTxManager(pool)
	auditRepo := audit.NewRepoPG(pool)

	catalogRepo := catalog.NewRepoPG(pool)
	catalogSvc := catalog.NewService(catalogRepo)
	catalogSvc.SetAuditAppender(auditRepo)
	catalog.NewHandler(catalogSvc).RegisterRoutes(apiV1)

	visitRepo := visit.NewRepoPG(pool)
	visit.NewHandler(visit.NewService(visitRepo, tx, auditRepo)).RegisterRoutes(apiV1)

	orderRepo := orders.NewRepoPG(pool)
	orders.NewHandler(orders.NewService(orderRepo)).RegisterRoutes(apiV1)

	ledger := billing.NewLedger(billing.NewRepoPG(pool), tx, auditRepo,
		billing.NewPreclearPolicy(cfg.BillingPreclearMethods), logger)
	billing.NewHandler(ledger).RegisterRoutes(apiV1)

	workflowSvc := workflow.NewService(workflow.Deps{
		Catalog:  catalog.NewRegistry(catalogRepo),
		Visits:   visitRepo,
		Orders:   orderRepo,
		Billing:  ledger,
		Payments: payments,
		Audit:    auditRepo,
		Events:   publisher,
		Tx:       tx,
		Logger:   logger,
	})
	workflow.NewHandler(workflowSvc).RegisterRoutes(apiV1)

	audit.NewHandler(auditRepo).RegisterRoutes(apiV1)

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("version", version).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}
