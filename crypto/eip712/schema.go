// Copyright 2025 The go-obsidian Authors
// This file is part of the go-obsidian library.

package eip712

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

const (
	FactoryDomainName = "MachineStationFactory"
	MachineDomainName = "MachineSmartAccount"
	DomainVersion     = "1"
)

// Domain is the EIP-712 domain of a verifying contract.
type Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract common.Address
}

// FactoryDomain is the domain verified by the station factory.
func FactoryDomain(chainID *big.Int, factory common.Address) Domain {
	return Domain{Name: FactoryDomainName, Version: DomainVersion, ChainID: chainID, VerifyingContract: factory}
}

// MachineDomain is the domain verified by a machine smart account.
func MachineDomain(chainID *big.Int, machine common.Address) Domain {
	return Domain{Name: MachineDomainName, Version: DomainVersion, ChainID: chainID, VerifyingContract: machine}
}

func (d Domain) typed() apitypes.TypedDataDomain {
	var chainID *math.HexOrDecimal256
	if d.ChainID != nil {
		chainID = (*math.HexOrDecimal256)(new(big.Int).Set(d.ChainID))
	}
	return apitypes.TypedDataDomain{
		Name:              d.Name,
		Version:           d.Version,
		ChainId:           chainID,
		VerifyingContract: d.VerifyingContract.Hex(),
	}
}

// Field is one named member of a struct type.
type Field struct {
	Name string
	Type string
}

// Schema is a named, ordered struct type.
type Schema struct {
	PrimaryType string
	Fields      []Field
}

var domainFields = []apitypes.Type{
	{Name: "name", Type: "string"},
	{Name: "version", Type: "string"},
	{Name: "chainId", Type: "uint256"},
	{Name: "verifyingContract", Type: "address"},
}

var (
	DeployMachineSmartAccount = Schema{
		PrimaryType: "DeployMachineSmartAccount",
		Fields: []Field{
			{Name: "machineOwner", Type: "address"},
			{Name: "nonce", Type: "uint256"},
		},
	}
	ExecuteTransaction = Schema{
		PrimaryType: "ExecuteTransaction",
		Fields: []Field{
			{Name: "target", Type: "address"},
			{Name: "data", Type: "bytes"},
			{Name: "nonce", Type: "uint256"},
		},
	}
	ExecuteMachineTransaction = Schema{
		PrimaryType: "ExecuteMachineTransaction",
		Fields: []Field{
			{Name: "machineAddress", Type: "address"},
			{Name: "target", Type: "address"},
			{Name: "data", Type: "bytes"},
			{Name: "nonce", Type: "uint256"},
		},
	}
	// Execute is signed by the machine owner over the machine domain.
	Execute = Schema{
		PrimaryType: "Execute",
		Fields: []Field{
			{Name: "target", Type: "address"},
			{Name: "data", Type: "bytes"},
			{Name: "nonce", Type: "uint256"},
		},
	}
)

func (s Schema) types() apitypes.Types {
	fields := make([]apitypes.Type, len(s.Fields))
	for i, f := range s.Fields {
		fields[i] = apitypes.Type{Name: f.Name, Type: f.Type}
	}
	return apitypes.Types{
		"EIP712Domain": domainFields,
		s.PrimaryType:  fields,
	}
}

// Message is the value of a typed-data struct keyed by field name.
type Message map[string]interface{}

func DeployMessage(machineOwner common.Address, nonce *big.Int) Message {
	return Message{
		"machineOwner": machineOwner.Hex(),
		"nonce":        new(big.Int).Set(nonce),
	}
}

// ExecuteMessage serves both ExecuteTransaction and the machine-local Execute.
func ExecuteMessage(target common.Address, data []byte, nonce *big.Int) Message {
	return Message{
		"target": target.Hex(),
		"data":   hexutil.Bytes(common.CopyBytes(data)),
		"nonce":  new(big.Int).Set(nonce),
	}
}

func MachineExecuteMessage(machine, target common.Address, data []byte, nonce *big.Int) Message {
	return Message{
		"machineAddress": machine.Hex(),
		"target":         target.Hex(),
		"data":           hexutil.Bytes(common.CopyBytes(data)),
		"nonce":          new(big.Int).Set(nonce),
	}
}
