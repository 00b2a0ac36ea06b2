// Copyright 2025 The go-obsidian Authors
// This file is part of the go-obsidian library.

package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/HITEYY/obsidian-station/api"
	"github.com/HITEYY/obsidian-station/core/station"
	"github.com/ethereum/go-ethereum/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the station operations over HTTP",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if listen, _ := cmd.Flags().GetString("listen"); listen != "" {
			cfg.ListenAddr = listen
		}

		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

		ctx := cmd.Context()
		st, closeFn, err := openStation(ctx, cfg, station.WithMetrics(station.NewMetrics(reg)))
		if err != nil {
			return err
		}
		defer closeFn()

		srv := &http.Server{
			Addr:              cfg.ListenAddr,
			Handler:           api.NewHandler(st, reg),
			ReadHeaderTimeout: 10 * time.Second,
		}
		serverErrors := make(chan error, 1)
		go func() {
			log.Info("Starting station server", "addr", srv.Addr, "owner", st.Owner(), "factory", st.Factory())
			serverErrors <- srv.ListenAndServe()
		}()

		select {
		case err := <-serverErrors:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		case <-ctx.Done():
			log.Info("Shutting down station server")
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(sctx); err != nil {
				log.Warn("Graceful shutdown did not complete", "timeout", shutdownTimeout, "err", err)
				return srv.Close()
			}
			gasCost, txs, reverted := st.Sponsor().Stats()
			log.Info("Station server stopped", "transactions", txs, "reverted", reverted, "gasCost", gasCost)
			return nil
		}
	},
}

func init() {
	serveCmd.Flags().String("listen", "", "Listen address (overrides LISTEN_ADDR)")
	rootCmd.AddCommand(serveCmd)
}
