// Copyright 2025 The go-obsidian Authors
// This file is part of the go-obsidian library.

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/HITEYY/obsidian-station/core/nonce"
	"github.com/HITEYY/obsidian-station/core/station"
	"github.com/HITEYY/obsidian-station/internal/config"
	"github.com/ethereum/go-ethereum/log"
	"github.com/spf13/cobra"
)

// nonceTTL is how long a reserved nonce stays in the shared registry.
const nonceTTL = 24 * time.Hour

var rootCmd = &cobra.Command{
	Use:   "station",
	Short: "Machine station relay",
	Long: `station signs machine station authorizations with the owner (and
optionally the machine owner) key and relays them through the
MachineStationFactory, paying gas from the owner account.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		verbosity, _ := cmd.Flags().GetInt("verbosity")
		log.SetDefault(log.NewLogger(log.NewTerminalHandlerWithLevel(os.Stderr, log.FromLegacyLevel(verbosity), true)))
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "YAML configuration file (environment variables override it)")
	rootCmd.PersistentFlags().Int("verbosity", 3, "Log level: 0=silent, 1=error, 2=warn, 3=info, 4=debug, 5=trace")
}

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	return config.Load(path)
}

// openStation dials the configured node. The returned cleanup closes the
// station and any registry connection.
func openStation(ctx context.Context, cfg config.Config, opts ...station.Option) (*station.Station, func(), error) {
	cleanup := func() {}
	if cfg.ReceiptPollInterval > 0 {
		opts = append(opts, station.WithPollInterval(cfg.ReceiptPollInterval))
	}
	switch {
	case cfg.NonceRedisURL != "":
		reg, client, err := nonce.DialRedisRegistry(cfg.NonceRedisURL, nonceTTL)
		if err != nil {
			return nil, nil, err
		}
		opts = append(opts, station.WithNonceRegistry(reg))
		cleanup = func() { client.Close() }
	case cfg.NonceDBPath != "":
		reg, err := nonce.OpenDBRegistry(cfg.NonceDBPath, nonceTTL)
		if err != nil {
			return nil, nil, err
		}
		opts = append(opts, station.WithNonceRegistry(reg))
		cleanup = func() { reg.Close() }
	}
	st, err := station.Dial(ctx, cfg.Station(), opts...)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return st, func() { st.Close(); cleanup() }, nil
}

// withStation runs fn against a station built from the command's config.
func withStation(cmd *cobra.Command, fn func(ctx context.Context, st *station.Station) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	st, closeFn, err := openStation(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeFn()
	return fn(ctx, st)
}
