package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/gatekeeper/internal/config"
	"github.com/MarcoPoloResearchLab/gatekeeper/internal/logging"
	"github.com/MarcoPoloResearchLab/gatekeeper/internal/server"
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
		Use:   "gatekeeper-api",
		Short: "Gatekeeper identity and session service",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
		SilenceUsage: true,
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(newGrantRoleCommand(), newRevokeRoleCommand(), newPurgeSessionsCommand())

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	defaults := viper.GetViper()
	config.ApplyDefaults(defaults)
	flags := cmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "Path to configuration file")
	flags.String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	flags.String("database-path", defaults.GetString("database.path"), "SQLite database path")
	flags.String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	flags.String("signing-secret", "", "Session signing secret (overrides env)")
	flags.Bool("secure-cookie", defaults.GetBool("session.secure_cookie"), "Mark the session cookie Secure")
	flags.Duration("session-ttl", defaults.GetDuration("session.ttl"), "Session lifetime")
	flags.String("session-store", defaults.GetString("session.store"), "Session store (database or redis)")
	flags.String("redis-address", defaults.GetString("redis.address"), "Redis address for the redis session store")
	flags.String("link-policy", defaults.GetString("identity.link_policy"), "Provider linking policy (auto or verified_email)")
	flags.StringSlice("cors-allowed-origins", nil, "Origins allowed to call the API with credentials")
	flags.String("google-client-id", defaults.GetString("google.client_id"), "Google OAuth client ID")
	flags.String("apple-client-id", defaults.GetString("apple.client_id"), "Sign in with Apple service ID")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "session.signing_secret", "signing-secret")
	bindFlag(cmd, "session.secure_cookie", "secure-cookie")
	bindFlag(cmd, "session.ttl", "session-ttl")
	bindFlag(cmd, "session.store", "session-store")
	bindFlag(cmd, "redis.address", "redis-address")
	bindFlag(cmd, "identity.link_policy", "link-policy")
	bindFlag(cmd, "cors.allowed_origins", "cors-allowed-origins")
	bindFlag(cmd, "google.client_id", "google-client-id")
	bindFlag(cmd, "apple.client_id", "apple-client-id")
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
		if cfgFile != "" || !errors.As(err, &configNotFound) {
			return fmt.Errorf("read config: %w", err)
		}
	}

	return nil
}

func loadRuntime() (config.AppConfig, *zap.Logger, error) {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return config.AppConfig{}, nil, err
	}
	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return config.AppConfig{}, nil, err
	}
	return appConfig, logger, nil
}

func runServer(ctx context.Context) error {
	appConfig, logger, err := loadRuntime()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	app, err := newApplication(ctx, appConfig, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Identity:       app.identity,
		Gate:           app.gate,
		Verifiers:      app.verifiers,
		CookieName:     appConfig.SessionCookieName,
		SecureCookies:  appConfig.SecureCookies,
		AllowedOrigins: appConfig.CORSAllowedOrigins,
		Logger:         logger,
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
			zap.String("session_store", appConfig.SessionStore),
			zap.Strings("providers", appConfig.EnabledProviders()))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func newGrantRoleCommand() *cobra.Command {
	return newRoleCommand("grant-role", "Grant a role to the account registered under an email", func(ctx context.Context, app *application, email, role string) error {
		account, err := app.identity.GrantRole(ctx, email, role)
		if err != nil {
			return err
		}
		fmt.Printf("%s now holds roles %v\n", account.Email, account.RoleNames())
		return nil
	})
}

func newRevokeRoleCommand() *cobra.Command {
	return newRoleCommand("revoke-role", "Revoke a role from the account registered under an email", func(ctx context.Context, app *application, email, role string) error {
		account, err := app.identity.RevokeRole(ctx, email, role)
		if err != nil {
			return err
		}
		fmt.Printf("%s now holds roles %v\n", account.Email, account.RoleNames())
		return nil
	})
}

func newRoleCommand(use, short string, apply func(context.Context, *application, string, string) error) *cobra.Command {
	var email, role string
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			appConfig, logger, err := loadRuntime()
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			app, err := newApplication(cmd.Context(), appConfig, logger)
			if err != nil {
				return err
			}
			defer app.Close()
			return apply(cmd.Context(), app, email, role)
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "Account email")
	cmd.Flags().StringVar(&role, "role", "admin", "Role name")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func newPurgeSessionsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "purge-sessions",
		Short: "Delete expired sessions from the database session store",
		RunE: func(cmd *cobra.Command, args []string) error {
			appConfig, logger, err := loadRuntime()
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			app, err := newApplication(cmd.Context(), appConfig, logger)
			if err != nil {
				return err
			}
			defer app.Close()

			removed, err := app.purgeExpiredSessions(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("removed %d expired sessions\n", removed)
			return nil
		},
	}
}
