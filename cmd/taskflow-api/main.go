package main

import (
	"context"
	"errors"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/taskflow/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/taskflow/backend/internal/config"
	"github.com/MarcoPoloResearchLab/taskflow/backend/internal/server"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
	envFile string
)

func main() {
	rootCmd := newRootCommand()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "taskflow-api",
		Short: "TaskFlow backend service",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
		SilenceUsage: true,
	}

	setupFlags(rootCmd)

	rootCmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	})
	rootCmd.AddCommand(newBootstrapAdminCommand(), newRepairAdminRoleCommand(), newListUsersCommand())
	return rootCmd
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Path to a dotenv file loaded before reading the environment")
	cmd.PersistentFlags().String("port", defaults.GetString("http.port"), "HTTP listen port")
	cmd.PersistentFlags().String("store-url", "", "Relational store URL (postgres:// URL or SQLite path)")
	cmd.PersistentFlags().String("identity-url", "", "Hosted identity service base URL; empty keeps identities in the store")
	cmd.PersistentFlags().Int("token-ttl-minutes", defaults.GetInt("auth.token_ttl_minutes"), "Session token TTL in minutes")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "Session signing secret (overrides env)")

	bindFlag(cmd, "http.port", "port")
	bindFlag(cmd, "store.url", "store-url")
	bindFlag(cmd, "identity.url", "identity-url")
	bindFlag(cmd, "auth.token_ttl_minutes", "token-ttl-minutes")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}

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
	app, err := newApplication(ctx)
	if err != nil {
		return err
	}
	defer app.Close()

	tokenIssuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(app.config.SigningSecret),
		Issuer:        auth.DefaultIssuer,
		Audience:      auth.DefaultAudience,
		TokenTTL:      app.config.TokenTTL,
	})
	if err != nil {
		return err
	}
	sessionValidator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(app.config.SigningSecret),
		Issuer:        auth.DefaultIssuer,
		Audience:      auth.DefaultAudience,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Users:          app.users,
		Tasks:          app.tasks,
		Notifications:  app.notifications,
		Sessions:       sessionValidator,
		Tokens:         tokenIssuer,
		ServiceKey:     app.config.ServiceKey,
		AllowedOrigins: app.config.AllowedOrigins,
		Realtime:       app.realtime,
		Database:       app.db,
		Logger:         app.logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              app.config.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		app.logger.Info("server starting",
			zap.String("address", app.config.HTTPAddress),
			zap.Strings("allowed_origins", app.config.AllowedOrigins),
			zap.Bool("hosted_identity", app.config.UsesHostedIdentity()),
		)
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		app.logger.Info("server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
