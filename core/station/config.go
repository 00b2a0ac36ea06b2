// Copyright 2025 The go-obsidian Authors
// This file is part of the go-obsidian library.

package station

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/HITEYY/obsidian-station/crypto/eip712"
	"github.com/ethereum/go-ethereum/common"
)

// Config holds everything a station needs. It is read once at construction
// and never modified afterwards.
type Config struct {
	RPCURL         string
	ChainID        uint64
	FactoryAddress string

	OwnerPrivateKey        string
	MachineOwnerPrivateKey string // Optional, enables the dual-signer operations

	ServiceURL    string
	APIKey        string
	ProjectAPIKey string

	// DIDSeed is reserved for DID document hash derivation.
	DIDSeed string
}

// requiredField pairs a configuration value with its name.
type requiredField struct {
	name  string
	value string
}

func (c *Config) required() []requiredField {
	chainID := ""
	if c.ChainID != 0 {
		chainID = fmt.Sprint(c.ChainID)
	}
	return []requiredField{
		{"rpc url", c.RPCURL},
		{"chain id", chainID},
		{"factory address", c.FactoryAddress},
		{"owner private key", c.OwnerPrivateKey},
		{"service url", c.ServiceURL},
		{"api key", c.APIKey},
		{"project api key", c.ProjectAPIKey},
		{"did seed", c.DIDSeed},
	}
}

// principals are the parsed key material and addresses of a valid config.
type principals struct {
	chainID      *big.Int
	factory      common.Address
	owner        *eip712.Signer
	machineOwner *eip712.Signer // nil when not configured
}

// validate checks every required field and parses the keys.
func (c *Config) validate() (*principals, error) {
	for _, f := range c.required() {
		if strings.TrimSpace(f.value) == "" {
			return nil, fmt.Errorf("%w: missing %s", ErrConfiguration, f.name)
		}
	}
	if !common.IsHexAddress(c.FactoryAddress) {
		return nil, fmt.Errorf("%w: invalid factory address %q", ErrConfiguration, c.FactoryAddress)
	}
	owner, err := eip712.HexToSigner(c.OwnerPrivateKey)
	if err != nil {
		return nil, fmt.Errorf("%w: owner private key: %w", ErrConfiguration, err)
	}
	p := &principals{
		chainID: new(big.Int).SetUint64(c.ChainID),
		factory: common.HexToAddress(c.FactoryAddress),
		owner:   owner,
	}
	if c.MachineOwnerPrivateKey != "" {
		if p.machineOwner, err = eip712.HexToSigner(c.MachineOwnerPrivateKey); err != nil {
			return nil, fmt.Errorf("%w: machine owner private key: %w", ErrConfiguration, err)
		}
	}
	return p, nil
}
