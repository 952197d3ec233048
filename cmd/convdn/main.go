package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/tallisward/convdn/api"
	"github.com/tallisward/convdn/internal/config"
	"github.com/tallisward/convdn/pkg/marketdata"
	"github.com/tallisward/convdn/pkg/monitor"
	"github.com/tallisward/convdn/pkg/nuke"
)

var (
	cfgFile      string
	scenarioFile string
)

func main() {
	// .env is optional; real deployments use config + secrets
	godotenv.Load()

	rootCmd := &cobra.Command{
		Use:   "convdn",
		Short: "Convertible bond dollar-neutral monitor",
		Long:  `Computes synthetic delta-hedge reprice curves for convertible bonds and the dollar-neutral residual against observed prices`,
		Run:   runServe,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the monitor and HTTP API",
		Run:   runServe,
	}

	computeCmd := &cobra.Command{
		Use:   "compute",
		Short: "Run one dollar-neutral computation from a scenario file",
		Run:   runCompute,
	}
	computeCmd.Flags().StringVar(&scenarioFile, "scenario", "", "scenario YAML file with the input series")
	computeCmd.MarkFlagRequired("scenario")

	rootCmd.AddCommand(serveCmd, computeCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func newLogger(cfg config.LoggingConfig) *logrus.Logger {
	logger := logrus.New()

	if cfg.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		logger.WithError(err).Error("Invalid log level, using INFO")
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if cfg.File != "" {
		logger.SetOutput(io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    50, // MB
			MaxBackups: 5,
			MaxAge:     30, // days
			Compress:   true,
		}))
	}

	return logger
}

func runServe(cmd *cobra.Command, args []string) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}

	logger := newLogger(cfg.Logging)

	auth, err := newAuthenticator(cfg.Platform)
	if err != nil {
		logger.WithError(err).Fatal("Failed to build platform authenticator")
	}

	dataClient := marketdata.NewHTTPClient(marketdata.ClientConfig{
		BaseURL:   cfg.Platform.BaseURL,
		Timeout:   secondsDuration(cfg.Platform.Timeout),
		RateLimit: cfg.Platform.RateLimit,
	}, auth, logger)

	var curves monitor.CurveSource
	if cfg.Nuke.Enabled {
		provider := nuke.NewHTTPProvider(nuke.ProviderConfig{
			BaseURL: cfg.Nuke.BaseURL,
			APIKey:  cfg.Nuke.APIKey,
			Timeout: secondsDuration(cfg.Nuke.Timeout),
		}, logger)
		curves = &nuke.FallbackPolicy{Provider: provider, Logger: logger}
	}

	var stream monitor.Streamer
	if cfg.Platform.StreamURL != "" {
		stream = marketdata.NewStreamClient(cfg.Platform.StreamURL, cfg.Platform.APIKey, logger)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mon := monitor.New(monitor.Options{
		Data: dataClient,
		Fields: marketdata.FieldConfig{
			PriceField: cfg.Data.PriceField,
			DeltaField: cfg.Data.DeltaField,
			HedgeModel: cfg.Data.HedgeModel,
		},
		Freq:   marketdata.Frequency(cfg.Data.Frequency),
		Curves: curves,
		Stream: stream,
		Logger: logger,
	})

	if err := mon.Start(ctx); err != nil {
		logger.WithError(err).Warn("Live price feed unavailable, continuing without snapshots")
	}

	apiServer := api.NewServer(mon, logger, strconv.Itoa(cfg.Server.Port))
	go func() {
		if err := apiServer.Start(); err != nil {
			logger.WithError(err).Fatal("Failed to start API server")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("convdn is running. Press Ctrl+C to stop.")

	<-sigChan
	logger.Info("Received shutdown signal")

	mon.Stop()
	cancel()

	logger.Info("convdn stopped")
}

func newAuthenticator(cfg config.PlatformConfig) (marketdata.Authenticator, error) {
	switch marketdata.AuthType(cfg.AuthType) {
	case marketdata.AuthTypeJWT:
		return marketdata.NewJWTAuthenticator(cfg.APIKeyName, cfg.PrivateKeyPEM)
	case marketdata.AuthTypeHMAC, "":
		return marketdata.NewHMACAuthenticator(cfg.APIKey, cfg.APISecret), nil
	default:
		return nil, fmt.Errorf("unknown auth type %q", cfg.AuthType)
	}
}

func secondsDuration(s int) time.Duration {
	return time.Duration(s) * time.Second
}
