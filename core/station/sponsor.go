// Copyright 2025 The go-obsidian Authors
// This file is part of the go-obsidian library.
//
// The sponsor is the owner principal: it signs factory-domain authorizations,
// is the only account that submits relayed transactions, and pays their gas.

package station

import (
	"crypto/ecdsa"
	"math/big"
	"sync"

	"github.com/HITEYY/obsidian-station/crypto/eip712"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
)

// Sponsor pays gas for relayed calls.
type Sponsor struct {
	signer *eip712.Signer

	mu           sync.RWMutex
	totalGasCost *big.Int
	txCount      uint64
	reverted     uint64
}

// NewSponsor creates the sponsor for the owner key.
func NewSponsor(signer *eip712.Signer) *Sponsor {
	return &Sponsor{
		signer:       signer,
		totalGasCost: big.NewInt(0),
	}
}

// Address returns the owner account address.
func (s *Sponsor) Address() common.Address {
	return s.signer.Address()
}

func (s *Sponsor) key() *ecdsa.PrivateKey {
	return s.signer.Key()
}

// SignTypedData signs a factory-domain message with the owner key.
func (s *Sponsor) SignTypedData(domain eip712.Domain, schema eip712.Schema, msg eip712.Message) ([]byte, error) {
	return s.signer.SignTypedData(domain, schema, msg)
}

// record accounts for the gas paid by a mined transaction.
func (s *Sponsor) record(receipt *ethtypes.Receipt) {
	cost := new(big.Int)
	if receipt.EffectiveGasPrice != nil {
		cost.Mul(new(big.Int).SetUint64(receipt.GasUsed), receipt.EffectiveGasPrice)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.totalGasCost.Add(s.totalGasCost, cost)
	s.txCount++
	if receipt.Status != ethtypes.ReceiptStatusSuccessful {
		s.reverted++
	}
	log.Debug("Sponsor paid gas", "tx", receipt.TxHash, "gasUsed", receipt.GasUsed, "cost", cost, "status", receipt.Status)
}

// Stats returns the gas paid and the number of mined transactions, of which
// reverted failed on chain.
func (s *Sponsor) Stats() (totalGasCost *big.Int, txCount, reverted uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return new(big.Int).Set(s.totalGasCost), s.txCount, s.reverted
}
