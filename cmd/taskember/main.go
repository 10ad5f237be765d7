package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jvilhena/taskember/internal/aging"
	"github.com/jvilhena/taskember/internal/config"
	"github.com/jvilhena/taskember/internal/db"
	"github.com/jvilhena/taskember/internal/engine"
	"github.com/jvilhena/taskember/internal/ledger"
	"github.com/jvilhena/taskember/internal/notify"
	"github.com/jvilhena/taskember/internal/web"
)

var (
	flagConfig string
	flagDB     string
	flagAddr   string
)

var rootCmd = &cobra.Command{
	Use:           "taskember",
	Short:         "Personal task tracker with priority aging",
	SilenceErrors: true,
	SilenceUsage:  true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the aging scheduler",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, store, err := setup()
		if err != nil {
			return err
		}
		defer store.DB.Close()

		logger := log.New(os.Stderr, "", log.LstdFlags)
		broker := notify.NewBroker()

		eng := engine.New(store, broker)
		led := ledger.New(store, broker)
		scheduler := aging.New(store, broker, logger, aging.Config{
			Threshold: cfg.Aging.Threshold(),
			Bump:      cfg.Aging.PriorityBump,
			Interval:  cfg.Aging.Interval(),
		})

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		go scheduler.Run(ctx)

		server := &http.Server{
			Addr:              cfg.Addr,
			Handler:           web.NewServer(eng, led, broker, logger).Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			logger.Printf("listening on %s", cfg.Addr)
			errCh <- server.ListenAndServe()
		}()

		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		}
	},
}

var ageCmd = &cobra.Command{
	Use:   "age",
	Short: "Run a single aging pass and exit",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, store, err := setup()
		if err != nil {
			return err
		}
		defer store.DB.Close()

		logger := log.New(os.Stderr, "", log.LstdFlags)
		scheduler := aging.New(store, &notify.LogSink{Logger: logger}, logger, aging.Config{
			Threshold: cfg.Aging.Threshold(),
			Bump:      cfg.Aging.PriorityBump,
			Interval:  cfg.Aging.Interval(),
		})

		return scheduler.Tick(cmd.Context())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&flagDB, "db", "", "sqlite db path")
	rootCmd.PersistentFlags().StringVar(&flagAddr, "addr", "", "listen address")
	rootCmd.AddCommand(serveCmd, ageCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func setup() (config.Config, *db.Store, error) {
	cfgPath := flagConfig
	if cfgPath == "" {
		var err error
		cfgPath, err = config.DefaultConfigPath()
		if err != nil {
			return config.Config{}, nil, err
		}
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return config.Config{}, nil, err
	}

	if flagDB != "" {
		cfg.DBPath = flagDB
	}
	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join(filepath.Dir(cfgPath), "taskember.db")
	}
	if flagAddr != "" {
		cfg.Addr = flagAddr
	}

	store, err := openStore(cfg.DBPath)
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, store, nil
}

func openStore(dbPath string) (*db.Store, error) {
	if err := config.EnsureDir(dbPath); err != nil {
		return nil, err
	}

	sqlDB, err := db.Open(dbPath)
	if err != nil {
		return nil, err
	}

	return db.NewStore(sqlDB), nil
}
