package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.etcd.io/bbolt"

	"github.com/cuemby/engineeye/pkg/appmetrics"
	"github.com/cuemby/engineeye/pkg/applog"
	"github.com/cuemby/engineeye/pkg/config"
	"github.com/cuemby/engineeye/pkg/connstrategy"
	"github.com/cuemby/engineeye/pkg/credentials"
	"github.com/cuemby/engineeye/pkg/hostregistry"
	"github.com/cuemby/engineeye/pkg/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the refresh loop against the active host and serve a metrics endpoint",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().String("metrics-addr", "127.0.0.1:9090", "Address for the /metrics endpoint")
}

func runServe(cmd *cobra.Command, args []string) error {
	dataDir, _ := cmd.Root().PersistentFlags().GetString("data-dir")
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

	logger := applog.WithComponent("serve")

	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	db, err := bbolt.Open(filepath.Join(dataDir, "engineeye.db"), 0o600, nil)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	// Shares db with hostregistry and credentials below; Close is intentionally
	// not deferred here since BoltStore.Close closes the shared handle.
	cfgStore, err := config.NewBoltStoreFromDB(db)
	if err != nil {
		return fmt.Errorf("opening settings store: %w", err)
	}

	settings, err := cfgStore.Load()
	if err != nil {
		return fmt.Errorf("loading settings: %w", err)
	}

	hosts, err := hostregistry.New(db)
	if err != nil {
		return fmt.Errorf("opening host registry: %w", err)
	}
	defer hosts.Close()

	masterKey, err := loadOrCreateMasterKey(dataDir)
	if err != nil {
		return fmt.Errorf("preparing credentials key: %w", err)
	}
	creds, err := credentials.NewBoltStore(db, masterKey)
	if err != nil {
		return fmt.Errorf("opening credentials store: %w", err)
	}

	strategy := connstrategy.New(creds)
	dataStore := store.New(strategy, hosts)
	dataStore.Start()
	defer dataStore.Stop()

	if active := hosts.Active(); active != "" {
		dataStore.SetHost(active)
	}
	dataStore.StartAutorefresh(store.RefreshInterval(settings.RefreshInterval))

	mux := http.NewServeMux()
	mux.Handle("/metrics", appmetrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	go func() {
		logger.Info().Str("addr", metricsAddr).Msg("serving metrics")
		if err := http.ListenAndServe(metricsAddr, mux); err != nil {
			logger.Error().Err(err).Msg("metrics server stopped")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info().Msg("shutting down")
	return nil
}
