// Copyright 2025 Wabiifour Tech
// SPDX-License-Identifier: Apache-2.0

// Command sync-server runs the reference remote record store that
// RunHealthCentre offline clients replay their mutation queues against.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/wabiifour-tech/runhealthcentre-sub000/offlinedb"
	"github.com/wabiifour-tech/runhealthcentre-sub000/remotestore"
)

type serverConfig struct {
	ListenAddr     string        `mapstructure:"listen_addr"`
	DatabaseURL    string        `mapstructure:"database_url"`
	JWTSecret      string        `mapstructure:"jwt_secret"`
	AppName        string        `mapstructure:"app_name"`
	LogLevel       string        `mapstructure:"log_level"`
	AuditRetention time.Duration `mapstructure:"audit_retention"`
	AuditSchedule  string        `mapstructure:"audit_schedule"`
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "sync-server",
		Short: "RunHealthCentre record sync server",
	}
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(tokenCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the sync server",
		RunE: func(cmd *cobra.Command, args []string) error {
			configFile, _ := cmd.Flags().GetString("config")
			cfg, err := loadConfig(configFile)
			if err != nil {
				return err
			}
			return runServer(cfg)
		},
	}
	cmd.Flags().String("config", "", "Path to config file (default: sync-server.yaml in cwd)")
	return cmd
}

// tokenCmd issues a device token, for provisioning clinic tablets.
func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a device JWT",
		RunE: func(cmd *cobra.Command, args []string) error {
			configFile, _ := cmd.Flags().GetString("config")
			userID, _ := cmd.Flags().GetString("user")
			deviceID, _ := cmd.Flags().GetString("device")
			ttl, _ := cmd.Flags().GetDuration("ttl")
			if userID == "" || deviceID == "" {
				return fmt.Errorf("--user and --device are required")
			}

			cfg, err := loadConfig(configFile)
			if err != nil {
				return err
			}
			auth := remotestore.NewJWTAuth(cfg.JWTSecret, nil)
			token, err := auth.GenerateToken(userID, deviceID, ttl)
			if err != nil {
				return fmt.Errorf("failed to generate token: %w", err)
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().String("config", "", "Path to config file")
	cmd.Flags().String("user", "", "User ID (sub claim)")
	cmd.Flags().String("device", "", "Device ID (did claim)")
	cmd.Flags().Duration("ttl", 30*24*time.Hour, "Token lifetime")
	return cmd
}

func loadConfig(configFile string) (*serverConfig, error) {
	v := viper.New()
	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("app_name", "runhealthcentre-sync")
	v.SetDefault("log_level", "info")
	v.SetDefault("audit_retention", 90*24*time.Hour)
	v.SetDefault("audit_schedule", "0 3 * * *")

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("sync-server")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	v.SetEnvPrefix("SYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg serverConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("database_url is required (or set SYNC_DATABASE_URL)")
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("jwt_secret is required (or set SYNC_JWT_SECRET)")
	}
	return &cfg, nil
}

func runServer(cfg *serverConfig) error {
	logger := newLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to create connection pool: %w", err)
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	logger.Info("Connected to database")

	service, err := remotestore.NewService(ctx, pool, &remotestore.ServiceConfig{
		EntityTypes: offlinedb.Stores(),
	}, logger)
	if err != nil {
		return err
	}

	auth := remotestore.NewJWTAuth(cfg.JWTSecret, logger)
	handlers := remotestore.NewHandlers(service, auth, cfg.AppName, logger)

	janitor := remotestore.NewJanitor(service, cfg.AuditSchedule, cfg.AuditRetention, logger)
	if err := janitor.Start(); err != nil {
		return err
	}
	defer janitor.Stop()

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handlers.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Sync server listening", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutting down")
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	logger.Info("Server stopped")
	return nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
