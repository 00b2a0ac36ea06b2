// Copyright 2025 The go-obsidian Authors
// This file is part of the go-obsidian library.

// Package config loads the station configuration.
//
// Values come from an optional YAML file and are then overridden by
// environment variables using the names of the original deployment
// (RPC_URL, CHAIN_ID, ...). The result is a plain value; nothing is kept in
// package state.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/HITEYY/obsidian-station/core/station"
	"gopkg.in/yaml.v3"
)

// Environment variable names.
const (
	EnvRPCURL              = "RPC_URL"
	EnvChainID             = "CHAIN_ID"
	EnvFactoryAddress      = "MACHINE_STATION_FACTORY_CONTRACT_ADDRESS"
	EnvOwnerPrivateKey     = "CONTRACT_OWNER_PRIVATE_KEY"
	EnvMachineOwnerKey     = "MACHINE_OWNER_PRIVATE_KEY"
	EnvServiceURL          = "PEAQ_SERVICE_URL"
	EnvAPIKey              = "API_KEY"
	EnvProjectAPIKey       = "PROJECT_API_KEY"
	EnvDIDSeed             = "SEED_PHRASE"
	EnvNonceRedisURL       = "NONCE_REDIS_URL"
	EnvNonceDBPath         = "NONCE_DB_PATH"
	EnvReceiptPollInterval = "RECEIPT_POLL_INTERVAL"
	EnvListenAddr          = "LISTEN_ADDR"
)

const (
	DefaultListenAddr = ":8080"
	redacted          = "<redacted>"
)

var ErrInvalidValue = errors.New("invalid configuration value")

// Config is the full deployment configuration.
type Config struct {
	RPCURL                 string `yaml:"rpc_url"`
	ChainID                uint64 `yaml:"chain_id"`
	FactoryAddress         string `yaml:"factory_address"`
	OwnerPrivateKey        string `yaml:"owner_private_key"`
	MachineOwnerPrivateKey string `yaml:"machine_owner_private_key"`

	ServiceURL    string `yaml:"service_url"`
	APIKey        string `yaml:"api_key"`
	ProjectAPIKey string `yaml:"project_api_key"`
	DIDSeed       string `yaml:"did_seed"`

	// NonceRedisURL enables the shared nonce registry. NonceDBPath enables
	// a local persistent one and is ignored when NonceRedisURL is set.
	NonceRedisURL       string        `yaml:"nonce_redis_url"`
	NonceDBPath         string        `yaml:"nonce_db_path"`
	ReceiptPollInterval time.Duration `yaml:"receipt_poll_interval"`
	ListenAddr          string        `yaml:"listen_addr"`
}

// Load reads path, if non-empty, and applies overrides from the process
// environment.
func Load(path string) (Config, error) {
	return LoadWith(path, os.Getenv)
}

// LoadWith is Load with an explicit environment lookup.
func LoadWith(path string, getenv func(string) string) (Config, error) {
	cfg := Config{ListenAddr: DefaultListenAddr}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(getenv); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	strs := map[string]*string{
		EnvRPCURL:          &c.RPCURL,
		EnvFactoryAddress:  &c.FactoryAddress,
		EnvOwnerPrivateKey: &c.OwnerPrivateKey,
		EnvMachineOwnerKey: &c.MachineOwnerPrivateKey,
		EnvServiceURL:      &c.ServiceURL,
		EnvAPIKey:          &c.APIKey,
		EnvProjectAPIKey:   &c.ProjectAPIKey,
		EnvDIDSeed:         &c.DIDSeed,
		EnvNonceRedisURL:   &c.NonceRedisURL,
		EnvNonceDBPath:     &c.NonceDBPath,
		EnvListenAddr:      &c.ListenAddr,
	}
	for name, dst := range strs {
		if v := strings.TrimSpace(getenv(name)); v != "" {
			*dst = v
		}
	}
	if v := strings.TrimSpace(getenv(EnvChainID)); v != "" {
		id, err := strconv.ParseUint(v, 0, 64)
		if err != nil {
			return fmt.Errorf("%w: %s=%q: %v", ErrInvalidValue, EnvChainID, v, err)
		}
		c.ChainID = id
	}
	if v := strings.TrimSpace(getenv(EnvReceiptPollInterval)); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return fmt.Errorf("%w: %s=%q", ErrInvalidValue, EnvReceiptPollInterval, v)
		}
		c.ReceiptPollInterval = d
	}
	return nil
}

// Station returns the core station configuration.
func (c Config) Station() station.Config {
	return station.Config{
		RPCURL:                 c.RPCURL,
		ChainID:                c.ChainID,
		FactoryAddress:         c.FactoryAddress,
		OwnerPrivateKey:        c.OwnerPrivateKey,
		MachineOwnerPrivateKey: c.MachineOwnerPrivateKey,
		ServiceURL:             c.ServiceURL,
		APIKey:                 c.APIKey,
		ProjectAPIKey:          c.ProjectAPIKey,
		DIDSeed:                c.DIDSeed,
	}
}

// Redacted returns a copy safe to print, with key material and API keys
// masked.
func (c Config) Redacted() Config {
	for _, s := range []*string{&c.OwnerPrivateKey, &c.MachineOwnerPrivateKey, &c.APIKey, &c.ProjectAPIKey, &c.DIDSeed} {
		if *s != "" {
			*s = redacted
		}
	}
	return c
}

// YAML renders the configuration as a config file.
func (c Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}
