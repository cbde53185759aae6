package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/vbonduro/tileinv/internal/auth"
	"github.com/vbonduro/tileinv/internal/config"
	"github.com/vbonduro/tileinv/internal/db"
	"github.com/vbonduro/tileinv/internal/logging"
	"github.com/vbonduro/tileinv/internal/metrics"
	"github.com/vbonduro/tileinv/internal/postgrest"
	"github.com/vbonduro/tileinv/internal/service"
	"github.com/vbonduro/tileinv/internal/session"
	"github.com/vbonduro/tileinv/internal/store"
	"github.com/vbonduro/tileinv/internal/web"
	"github.com/vbonduro/tileinv/internal/web/templates"
)

// Set at build time with -ldflags "-X main.Version=...".
var Version = "dev"

func main() {
	// A missing .env is normal in containers.
	_ = godotenv.Load()

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "tileinv",
		Short:         "Password-gated tile inventory manager",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context())
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the web server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context())
		},
	})
	cmd.AddCommand(migrateCmd())
	cmd.AddCommand(hashPasswordCmd())
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "tileinv version %s\n", Version)
		},
	})

	return cmd
}

func serve(ctx context.Context) error {
	cfg := config.Load()

	logger, cleanup, err := logging.New(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer cleanup()

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	inventory, closeTable, err := newInventory(cfg, m, logger)
	if err != nil {
		return err
	}
	defer closeTable()

	gate, err := newGate(cfg)
	if err != nil {
		return err
	}

	loc, err := cfg.DisplayLocation()
	if err != nil {
		return err
	}

	sessions, closeSessions, err := newSessionStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeSessions()

	server := web.NewServer(inventory, gate, sessions, templates.FS, m, web.Options{
		SecureCookie: cfg.CookieSecure,
		SessionTTL:   cfg.SessionTTL,
		Gatherer:     reg,
		Location:     loc,
	}, logger)

	if err := server.ListenAndServe(ctx, cfg.ListenAddr); err != nil {
		logger.Error("server error", "error", err)
		return err
	}
	return nil
}

// newInventory wires the inventory service to the configured table backend.
func newInventory(cfg *config.Config, m *metrics.Metrics, logger *slog.Logger) (*service.InventoryService, func(), error) {
	switch cfg.TableBackend {
	case config.BackendSupabase:
		logger.Info("using supabase table backend", "url", cfg.SupabaseURL, "table", cfg.SupabaseTable)
		client := postgrest.NewClient(cfg.SupabaseURL, cfg.SupabaseKey, cfg.SupabaseTable, cfg.RemoteTimeout)
		return service.NewInventoryService(client, m, logger), func() {}, nil

	case config.BackendPostgres, config.BackendSQLite:
		driver, dsn := sqlTarget(cfg)
		logger.Info("using sql table backend", "driver", driver)
		database, err := db.Open(driver, dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open database: %w", err)
		}
		closeDB := func() {
			if err := database.Close(); err != nil {
				logger.Error("failed to close database", "error", err)
			}
		}
		return service.NewInventoryService(store.NewTileStore(database, driver), m, logger), closeDB, nil
	}
	return nil, nil, fmt.Errorf("unknown table backend %q", cfg.TableBackend)
}

func sqlTarget(cfg *config.Config) (driver, dsn string) {
	if cfg.TableBackend == config.BackendSQLite {
		return db.DriverSQLite, db.SQLiteDSN(cfg.DBPath)
	}
	return db.DriverPostgres, cfg.DatabaseURL
}

func newGate(cfg *config.Config) (*auth.Gate, error) {
	if cfg.AdminPasswordHash != "" {
		gate, err := auth.NewGateFromHash(cfg.AdminPasswordHash)
		if err != nil {
			return nil, fmt.Errorf("invalid ADMIN_PASSWORD_HASH: %w", err)
		}
		return gate, nil
	}
	gate, err := auth.NewGate(cfg.AdminPassword)
	if err != nil {
		return nil, fmt.Errorf("invalid ADMIN_PASSWORD: %w", err)
	}
	return gate, nil
}

func newSessionStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (session.Store, func(), error) {
	if cfg.SessionBackend != config.SessionRedis {
		logger.Info("using in-memory sessions", "ttl", cfg.SessionTTL.String())
		return session.NewMemoryStore(cfg.SessionTTL), func() {}, nil
	}

	client, err := session.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("using redis sessions", "ttl", cfg.SessionTTL.String())
	closeClient := func() {
		if err := client.Close(); err != nil {
			logger.Error("failed to close redis client", "error", err)
		}
	}
	return session.NewRedisStore(client, cfg.SessionTTL), closeClient, nil
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "migrate [up|down]",
		Short:     "Apply or roll back the tiles schema",
		Long:      "Runs schema migrations against DATABASE_URL (postgres and supabase backends) or DB_PATH (sqlite).",
		Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"up", "down"},
		RunE: func(cmd *cobra.Command, args []string) error {
			direction := "up"
			if len(args) == 1 {
				direction = args[0]
			}

			cfg := config.Load()
			logger, cleanup, err := logging.New(cfg.LogLevel, cfg.LogFile)
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			defer cleanup()

			driver, dsn := sqlTarget(cfg)
			if driver == db.DriverPostgres && dsn == "" {
				return errors.New("DATABASE_URL is required to migrate a postgres or supabase table")
			}

			if err := db.Migrate(driver, dsn, direction); err != nil {
				return err
			}
			logger.Info("migration complete", "driver", driver, "direction", direction)
			return nil
		},
	}
}

func hashPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password",
		Short: "Read a password from stdin and print an ADMIN_PASSWORD_HASH value",
		RunE: func(cmd *cobra.Command, args []string) error {
			password, err := readSecret(cmd.InOrStdin())
			if err != nil {
				return err
			}
			encoded, err := auth.HashPassword(password)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), encoded)
			return nil
		},
	}
}

// readSecret reads the first line of r without its line ending.
func readSecret(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
