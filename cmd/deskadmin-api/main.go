package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/deskadmin/internal/accounts"
	"github.com/MarcoPoloResearchLab/deskadmin/internal/auth"
	"github.com/MarcoPoloResearchLab/deskadmin/internal/catalog"
	"github.com/MarcoPoloResearchLab/deskadmin/internal/config"
	"github.com/MarcoPoloResearchLab/deskadmin/internal/database"
	"github.com/MarcoPoloResearchLab/deskadmin/internal/desk"
	"github.com/MarcoPoloResearchLab/deskadmin/internal/devproxy"
	"github.com/MarcoPoloResearchLab/deskadmin/internal/logging"
	"github.com/MarcoPoloResearchLab/deskadmin/internal/metrics"
	"github.com/MarcoPoloResearchLab/deskadmin/internal/server"
	"github.com/MarcoPoloResearchLab/deskadmin/internal/transport"
	"github.com/MarcoPoloResearchLab/deskadmin/internal/upstream"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	metricsNamespace = "deskadmin"
	shutdownTimeout  = 10 * time.Second
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "deskadmin-api",
		Short: "Admin desk backend for the myusta and chat services",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	proxyCmd := &cobra.Command{
		Use:   "proxy",
		Short: "Run the development proxy that records backend traffic",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProxy(cmd.Context())
		},
	}

	setupFlags(rootCmd)
	setupProxyFlags(proxyCmd)
	rootCmd.AddCommand(proxyCmd)

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
	cmd.PersistentFlags().Int("token-ttl-minutes", defaults.GetInt("token.ttl_minutes"), "Session token TTL in minutes")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "Session signing secret (overrides env)")
	cmd.PersistentFlags().String("myusta-url", defaults.GetString("backends.myusta.base_url"), "Base URL of the myusta backend")
	cmd.PersistentFlags().String("chat-url", defaults.GetString("backends.chat.base_url"), "Base URL of the chat backend")
	cmd.PersistentFlags().String("allowed-origins", defaults.GetString("cors.allowed_origins"), "Comma separated CORS origins")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "token.ttl_minutes", "token-ttl-minutes")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "backends.myusta.base_url", "myusta-url")
	bindFlag(cmd, "backends.chat.base_url", "chat-url")
	bindFlag(cmd, "cors.allowed_origins", "allowed-origins")
}

func setupProxyFlags(cmd *cobra.Command) {
	defaults := config.NewViper()
	cmd.Flags().String("proxy-address", defaults.GetString("proxy.address"), "Development proxy listen address")
	cmd.Flags().Int("log-capacity", defaults.GetInt("proxy.log_capacity"), "Number of exchanges kept in the traffic log")

	bindFlag(cmd, "proxy.address", "proxy-address")
	bindFlag(cmd, "proxy.log_capacity", "log-capacity")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	lookup := cmd.PersistentFlags().Lookup(flag)
	if lookup == nil {
		lookup = cmd.Flags().Lookup(flag)
	}
	if err := viper.BindPFlag(key, lookup); err != nil {
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

	collectors := metrics.New(metricsNamespace)
	roundTripper := transport.Chain(nil,
		transport.WithObserver(collectors, time.Now),
		transport.WithLogging(logger),
	)
	registry, err := upstream.NewRegistry(appConfig.Backends, roundTripper, logger)
	if err != nil {
		return err
	}

	catalogService, err := catalog.NewService(catalog.ServiceConfig{
		Backends:        catalog.BackendsFromRegistry(registry),
		SchemaCacheSize: appConfig.SchemaCacheSize,
		Clock:           time.Now,
		Logger:          logger,
	})
	if err != nil {
		return err
	}

	layoutStore, err := desk.NewStore(db, time.Now)
	if err != nil {
		return err
	}
	deskService, err := desk.NewService(desk.ServiceConfig{
		Geometry: desk.Geometry{
			Viewport:     desk.Size{Width: appConfig.Desk.ViewportWidth, Height: appConfig.Desk.ViewportHeight},
			SidebarWidth: appConfig.Desk.SidebarWidth,
			ChromeHeight: appConfig.Desk.ChromeHeight,
		},
		Store:      layoutStore,
		Dispatcher: desk.NewDispatcher(),
		Clock:      time.Now,
		IDProvider: desk.NewUUIDProvider(),
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	profiles, err := accounts.NewService(accounts.ServiceConfig{
		Database: db,
		Clock:    time.Now,
	})
	if err != nil {
		return err
	}

	tokenIssuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        appConfig.Issuer,
		Audience:      appConfig.Audience,
		TokenTTL:      appConfig.TokenTTL,
	})
	if err != nil {
		return err
	}
	sessionValidator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        appConfig.Issuer,
		Audience:      appConfig.Audience,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Sessions:       tokenIssuer,
		Validator:      sessionValidator,
		Authenticator:  registry.Primary(),
		Profiles:       profiles,
		DeskService:    deskService,
		CatalogService: catalogService,
		Metrics:        collectors,
		AllowedOrigins: appConfig.AllowedOrigins,
		SessionTTL:     tokenIssuer.TTL(),
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	return serve(ctx, &http.Server{Addr: appConfig.HTTPAddress, Handler: handler}, logger)
}

func runProxy(ctx context.Context) error {
	proxyConfig, err := config.LoadProxy(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewConsoleLogger(proxyConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	collectors := metrics.New(metricsNamespace + "_proxy")
	trafficLog := devproxy.NewTrafficLog(proxyConfig.LogCapacity, time.Now)
	proxy, err := devproxy.New(devproxy.Config{
		Backends:  proxyConfig.Backends,
		Log:       trafficLog,
		Observers: []transport.Observer{collectors},
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	router, err := devproxy.NewRouter(devproxy.RouterDependencies{
		Proxy:   proxy,
		Log:     trafficLog,
		Metrics: collectors,
		Logger:  logger,
		Clock:   time.Now,
	})
	if err != nil {
		return err
	}

	for backend, target := range proxy.Targets() {
		logger.Info("proxy target", zap.String("backend", backend), zap.String("target", target))
	}
	return serve(ctx, &http.Server{Addr: proxyConfig.Address, Handler: router}, logger)
}

func serve(ctx context.Context, httpServer *http.Server, logger *zap.Logger) error {
	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", httpServer.Addr))
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
