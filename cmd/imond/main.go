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

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/Joseda-hg/imon/internal/config"
	"github.com/Joseda-hg/imon/internal/db"
	"github.com/Joseda-hg/imon/internal/logger"
	"github.com/Joseda-hg/imon/internal/web"
)

var Version = "dev"

const shutdownTimeout = 10 * time.Second

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "imond",
		Short:         "imon task tracking service",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path")

	rootCmd.AddCommand(serveCmd(&configPath))
	rootCmd.AddCommand(configCmd(&configPath))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd(configPath *string) *cobra.Command {
	var (
		addr     string
		dbPath   string
		poolSize int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP service",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Service.Addr = addr
			}
			if dbPath != "" {
				cfg.Service.DBPath = dbPath
			}
			if poolSize > 0 {
				cfg.Service.PoolSize = poolSize
			}

			logger.Init(os.Stderr, cfg.Log.Format, cfg.Log.Level)
			return serve(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address")
	cmd.Flags().StringVar(&dbPath, "db", "", "sqlite db path")
	cmd.Flags().IntVar(&poolSize, "pool-size", 0, "maximum open database connections")

	return cmd
}

func configCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			data, err := config.Marshal(cfg)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}

func serve(ctx context.Context, cfg config.Config) error {
	store, err := openStore(cfg.Service)
	if err != nil {
		return err
	}
	defer store.DB.Close()

	gin.SetMode(gin.ReleaseMode)
	srv := &http.Server{
		Addr:              cfg.Service.Addr,
		Handler:           web.NewServer(store).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Main.Info("listening", "addr", cfg.Service.Addr, "db", cfg.Service.DBPath, "pool_size", cfg.Service.PoolSize)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Main.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func loadConfig(flagValue string) (config.Config, error) {
	cfgPath, err := resolveConfigPath(flagValue)
	if err != nil {
		return config.Config{}, err
	}
	return config.Load(cfgPath)
}

func resolveConfigPath(flagValue string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	return config.DefaultConfigPath()
}

func openStore(cfg config.ServiceConfig) (*db.Store, error) {
	if err := config.EnsureDir(cfg.DBPath); err != nil {
		return nil, err
	}

	sqlDB, err := db.Open(cfg.DBPath, cfg.PoolSize)
	if err != nil {
		return nil, err
	}

	return db.NewStore(sqlDB, db.WithTimeout(cfg.StoreTimeout)), nil
}
