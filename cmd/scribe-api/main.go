package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/scribe/internal/auth"
	"github.com/MarcoPoloResearchLab/scribe/internal/config"
	"github.com/MarcoPoloResearchLab/scribe/internal/database"
	"github.com/MarcoPoloResearchLab/scribe/internal/logging"
	"github.com/MarcoPoloResearchLab/scribe/internal/notes"
	"github.com/MarcoPoloResearchLab/scribe/internal/realtime"
	"github.com/MarcoPoloResearchLab/scribe/internal/server"
	"github.com/MarcoPoloResearchLab/scribe/internal/users"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "scribe-api",
		Short: "Scribe collaborative notes backend service",
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
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().Int("grace-period-seconds", defaults.GetInt("realtime.grace_period_s"), "Idle session teardown grace period in seconds")
	cmd.PersistentFlags().Int("persist-interval-seconds", defaults.GetInt("realtime.persist_interval_s"), "Periodic snapshot interval in seconds (0 disables)")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "Backend signing secret (overrides env)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "realtime.grace_period_s", "grace-period-seconds")
	bindFlag(cmd, "realtime.persist_interval_s", "persist-interval-seconds")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
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

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	tokenManager := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
	})

	notesService, err := notes.NewService(notes.ServiceConfig{
		Database: db,
		Clock:    time.Now,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	identityService, err := users.NewService(users.ServiceConfig{Database: db})
	if err != nil {
		return err
	}

	realtimeService, err := realtime.NewService(realtime.ServiceConfig{
		Store:           realtime.NewStore(),
		Notes:           notesService,
		Permissions:     notesService,
		PersistInterval: appConfig.PersistInterval,
		GracePeriod:     appConfig.GracePeriod,
		Logger:          logger,
	})
	if err != nil {
		return err
	}

	eventBus := realtime.NewEventBus()
	unsubscribeEvents := realtimeService.SubscribeEvents(eventBus)
	defer unsubscribeEvents()

	handler, err := server.NewHTTPHandler(server.Dependencies{
		TokenManager: tokenManager,
		NotesService: notesService,
		Realtime:     realtimeService,
		Identities:   identityService,
		Events:       eventBus,
		Logger:       logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		shutdownErr := httpServer.Shutdown(shutdownCtx)
		realtimeService.Shutdown()
		return shutdownErr
	case err := <-errCh:
		return err
	}
}
