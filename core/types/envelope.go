// Copyright 2025 The go-obsidian Authors
// This file is part of the go-obsidian library.
//
// Call envelopes are the unit relayed to the machine station factory: a
// target call plus the contract-level nonce and the typed-data signature(s)
// authorizing it.

package types

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
)

// Method selects the factory entry point an envelope is relayed through.
type Method uint8

const (
	MethodExecuteTransaction        Method = iota + 1 // owner signature only
	MethodExecuteMachineTransaction                   // owner + machine owner signatures
	MethodDeployMachineSmartAccount                   // owner signature, deploys a machine account
)

func (m Method) String() string {
	switch m {
	case MethodExecuteTransaction:
		return "executeTransaction"
	case MethodExecuteMachineTransaction:
		return "executeMachineTransaction"
	case MethodDeployMachineSmartAccount:
		return "deployMachineSmartAccount"
	default:
		return fmt.Sprintf("method(%d)", uint8(m))
	}
}

var (
	ErrUnknownMethod         = errors.New("unknown envelope method")
	ErrMissingNonce          = errors.New("envelope has no nonce")
	ErrMissingSignature      = errors.New("envelope is missing the owner signature")
	ErrMissingMachineSig     = errors.New("envelope is missing the machine owner signature")
	ErrUnexpectedMachineSig  = errors.New("single-signer envelope carries a machine owner signature")
	ErrMissingMachineAddress = errors.New("envelope has no machine address")
)

// CallEnvelope is a relayable, signed call.
type CallEnvelope struct {
	Method Method

	// Machine is the machine smart account for MethodExecuteMachineTransaction
	// and the machine owner for MethodDeployMachineSmartAccount.
	Machine common.Address

	Target common.Address // Ignored for deployments
	Data   []byte         // Inner calldata, ignored for deployments
	Nonce  *big.Int       // Contract-level anti-replay nonce

	Signature             []byte // Owner signature over the factory domain
	MachineOwnerSignature []byte // Machine owner signature over the machine domain
}

// IsDual reports whether the envelope needs both signatures.
func (env *CallEnvelope) IsDual() bool {
	return env.Method == MethodExecuteMachineTransaction
}

// Validate checks that the signatures required by the method are present.
func (env *CallEnvelope) Validate() error {
	switch env.Method {
	case MethodExecuteTransaction, MethodDeployMachineSmartAccount:
		if len(env.MachineOwnerSignature) != 0 {
			return ErrUnexpectedMachineSig
		}
	case MethodExecuteMachineTransaction:
		if env.Machine == (common.Address{}) {
			return ErrMissingMachineAddress
		}
		if len(env.MachineOwnerSignature) == 0 {
			return ErrMissingMachineSig
		}
	default:
		return fmt.Errorf("%w: %d", ErrUnknownMethod, env.Method)
	}
	if env.Nonce == nil {
		return ErrMissingNonce
	}
	if len(env.Signature) == 0 {
		return ErrMissingSignature
	}
	return nil
}

// Copy returns a deep copy of the envelope.
func (env *CallEnvelope) Copy() *CallEnvelope {
	cpy := &CallEnvelope{
		Method:                env.Method,
		Machine:               env.Machine,
		Target:                env.Target,
		Data:                  common.CopyBytes(env.Data),
		Signature:             common.CopyBytes(env.Signature),
		MachineOwnerSignature: common.CopyBytes(env.MachineOwnerSignature),
	}
	if env.Nonce != nil {
		cpy.Nonce = new(big.Int).Set(env.Nonce)
	}
	return cpy
}

// Hash identifies the envelope in logs. It is keccak256(method ‖ rlp(fields))
// and has no meaning on chain.
func (env *CallEnvelope) Hash() common.Hash {
	enc, err := rlp.EncodeToBytes([]interface{}{
		env.Machine,
		env.Target,
		env.Data,
		bigOrZero(env.Nonce),
		env.Signature,
		env.MachineOwnerSignature,
	})
	if err != nil {
		// Only reachable through an rlp encoder bug; all fields are rlp-native.
		panic(fmt.Sprintf("rlp encode envelope: %v", err))
	}
	return crypto.Keccak256Hash([]byte{byte(env.Method)}, enc)
}

// TransactionOutcome is the confirmed result of a relayed envelope.
type TransactionOutcome struct {
	Envelope common.Hash
	TxHash   common.Hash
	Receipt  *ethtypes.Receipt

	// DeployedAddress is set for MethodDeployMachineSmartAccount.
	DeployedAddress common.Address
}

// Logs returns the receipt's event logs.
func (o *TransactionOutcome) Logs() []*ethtypes.Log {
	if o == nil || o.Receipt == nil {
		return nil
	}
	return o.Receipt.Logs
}

// Succeeded reports whether the transaction executed without reverting.
func (o *TransactionOutcome) Succeeded() bool {
	return o != nil && o.Receipt != nil && o.Receipt.Status == ethtypes.ReceiptStatusSuccessful
}

func bigOrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
