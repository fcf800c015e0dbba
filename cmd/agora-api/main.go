package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/agora-labs/agora/internal/auth"
	"github.com/agora-labs/agora/internal/chemistry"
	"github.com/agora-labs/agora/internal/config"
	"github.com/agora-labs/agora/internal/database"
	"github.com/agora-labs/agora/internal/logging"
	"github.com/agora-labs/agora/internal/metrics"
	"github.com/agora-labs/agora/internal/notes"
	"github.com/agora-labs/agora/internal/ratelimit"
	"github.com/agora-labs/agora/internal/server"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "agora-api",
		Short: "Knowledge Agora notes and chemistry API",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("allowed-hosts", defaults.GetString("http.allowed_hosts"), "Comma separated trusted Host values")
	cmd.PersistentFlags().String("allowed-origins", defaults.GetString("http.allowed_origins"), "Comma separated CORS origins")
	cmd.PersistentFlags().String("database-driver", defaults.GetString("database.driver"), "Database driver (sqlite, postgres, mysql)")
	cmd.PersistentFlags().String("database-dsn", defaults.GetString("database.dsn"), "Database DSN or SQLite path")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("log-format", defaults.GetString("log.format"), "Log format (json, console)")
	cmd.PersistentFlags().String("admin-api-key", "", "Admin API key (overrides env)")
	cmd.PersistentFlags().String("redis-address", defaults.GetString("ratelimit.redis_address"), "Redis address for the shared identity rate limiter")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "http.allowed_hosts", "allowed-hosts")
	bindFlag(cmd, "http.allowed_origins", "allowed-origins")
	bindFlag(cmd, "database.driver", "database-driver")
	bindFlag(cmd, "database.dsn", "database-dsn")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "log.format", "log-format")
	bindFlag(cmd, "auth.admin_api_key", "admin-api-key")
	bindFlag(cmd, "ratelimit.redis_address", "redis-address")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel, appConfig.LogFormat)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.Open(database.Config{
		Driver: appConfig.DatabaseDriver,
		DSN:    appConfig.DatabaseDSN,
	}, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	recorder := metrics.NewRecorder()
	if err := recorder.ObserveDatabase(sqlDB, appConfig.DatabaseDriver); err != nil {
		return err
	}

	credentials := auth.LoadCredentialStore(auth.CredentialConfig{
		APIKeys:     appConfig.APIKeys,
		AdminAPIKey: appConfig.AdminAPIKey,
		Logger:      logger,
	})
	authenticator, err := auth.NewAuthenticator(credentials)
	if err != nil {
		return err
	}

	identityLimiter, closeLimiter := newIdentityLimiter(ctx, appConfig.RedisAddress, logger)
	defer closeLimiter()

	events := server.NewNoteEventDispatcher()
	notesService, err := notes.NewService(notes.ServiceConfig{
		Database: db,
		Clock:    time.Now,
		Logger:   logger,
		Events:   server.MultiPublisher{events, recorder},
	})
	if err != nil {
		return err
	}
	chemistryService, err := chemistry.NewService(chemistry.ServiceConfig{
		Database: db,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		NotesService:       notesService,
		ChemistryService:   chemistryService,
		Authenticator:      authenticator,
		IdentityLimiter:    identityLimiter,
		IdentityLimit:      appConfig.IdentityPerMinute,
		IdentityWindow:     ratelimit.DefaultWindow,
		CreateNotesLimiter: ratelimit.PerMinute(int64(appConfig.CreateNotesPerMinute)),
		ListNotesLimiter:   ratelimit.PerMinute(int64(appConfig.ListNotesPerMinute)),
		Events:             events,
		Metrics:            recorder,
		Logger:             logger,
		AllowedOrigins:     appConfig.AllowedOrigins,
		AllowedHosts:       appConfig.AllowedHosts,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              appConfig.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("address", appConfig.HTTPAddress),
			zap.String("database_driver", appConfig.DatabaseDriver),
			zap.Int("api_keys", credentials.Len()))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		logger.Info("server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// newIdentityLimiter shares the identity window through Redis when an address is configured.
// An unreachable Redis at startup degrades to the in-memory window.
func newIdentityLimiter(ctx context.Context, address string, logger *zap.Logger) (ratelimit.Limiter, func()) {
	memory := ratelimit.NewSlidingWindow(ratelimit.SlidingWindowConfig{Window: ratelimit.DefaultWindow})
	if address == "" {
		return memory, func() {}
	}

	client := redis.NewClient(&redis.Options{Addr: address})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis unavailable, using in-memory rate limiter",
			zap.String("address", address),
			zap.Error(err))
		_ = client.Close()
		return memory, func() {}
	}

	logger.Info("redis rate limiter connected", zap.String("address", address))
	limiter := ratelimit.NewRedisSlidingWindow(ratelimit.RedisSlidingWindowConfig{
		Client:   client,
		Window:   ratelimit.DefaultWindow,
		Fallback: memory,
		Logger:   logger,
	})
	return limiter, func() { _ = client.Close() }
}
