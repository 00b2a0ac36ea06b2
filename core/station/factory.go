// Copyright 2025 The go-obsidian Authors
// This file is part of the go-obsidian library.

package station

import (
	"fmt"
	"strings"

	"github.com/HITEYY/obsidian-station/core/types"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// FactoryABI is the MachineStationFactory interface used by the relay.
const FactoryABI = `[
	{
		"inputs": [
			{"internalType": "address", "name": "target", "type": "address"},
			{"internalType": "bytes", "name": "data", "type": "bytes"},
			{"internalType": "uint256", "name": "nonce", "type": "uint256"},
			{"internalType": "bytes", "name": "signature", "type": "bytes"}
		],
		"name": "executeTransaction",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	},
	{
		"inputs": [
			{"internalType": "address", "name": "machineAddress", "type": "address"},
			{"internalType": "address", "name": "target", "type": "address"},
			{"internalType": "bytes", "name": "data", "type": "bytes"},
			{"internalType": "uint256", "name": "nonce", "type": "uint256"},
			{"internalType": "bytes", "name": "signature", "type": "bytes"},
			{"internalType": "bytes", "name": "machineOwnerSignature", "type": "bytes"}
		],
		"name": "executeMachineTransaction",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	},
	{
		"inputs": [
			{"internalType": "address", "name": "machineOwner", "type": "address"},
			{"internalType": "uint256", "name": "nonce", "type": "uint256"},
			{"internalType": "bytes", "name": "signature", "type": "bytes"}
		],
		"name": "deployMachineSmartAccount",
		"outputs": [{"internalType": "address", "name": "", "type": "address"}],
		"stateMutability": "nonpayable",
		"type": "function"
	},
	{
		"anonymous": false,
		"inputs": [
			{"indexed": true, "internalType": "address", "name": "machineAddress", "type": "address"}
		],
		"name": "MachineSmartAccountDeployed",
		"type": "event"
	}
]`

// MachineSmartAccountDeployedTopic is keccak256("MachineSmartAccountDeployed(address)").
var MachineSmartAccountDeployedTopic = crypto.Keccak256Hash([]byte("MachineSmartAccountDeployed(address)"))

var factoryABI = mustParseABI(FactoryABI)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("invalid abi: %v", err))
	}
	return parsed
}

// ParseABI parses a JSON contract interface, for use with WithErrorABI.
func ParseABI(def string) (abi.ABI, error) {
	return abi.JSON(strings.NewReader(def))
}

// packEnvelope encodes the factory call carrying env.
func packEnvelope(env *types.CallEnvelope) ([]byte, error) {
	switch env.Method {
	case types.MethodExecuteTransaction:
		return factoryABI.Pack("executeTransaction", env.Target, env.Data, env.Nonce, env.Signature)
	case types.MethodExecuteMachineTransaction:
		return factoryABI.Pack("executeMachineTransaction", env.Machine, env.Target, env.Data, env.Nonce, env.Signature, env.MachineOwnerSignature)
	case types.MethodDeployMachineSmartAccount:
		return factoryABI.Pack("deployMachineSmartAccount", env.Machine, env.Nonce, env.Signature)
	default:
		return nil, fmt.Errorf("%w: %d", types.ErrUnknownMethod, env.Method)
	}
}

// DeployedAddress returns the machine account announced by the first
// MachineSmartAccountDeployed log, taken from the low 20 bytes of its
// indexed topic.
func DeployedAddress(logs []*ethtypes.Log) (common.Address, error) {
	for _, l := range logs {
		if l == nil || len(l.Topics) == 0 || l.Topics[0] != MachineSmartAccountDeployedTopic {
			continue
		}
		if len(l.Topics) < 2 {
			return common.Address{}, fmt.Errorf("%w: log %d has no indexed address", ErrEventNotFound, l.Index)
		}
		return common.BytesToAddress(l.Topics[1].Bytes()[12:]), nil
	}
	return common.Address{}, ErrEventNotFound
}
