// Copyright 2024 The go-obsidian Authors
// This file is part of the go-obsidian library.
//
// Database accessors for relayed nonce reservations.

// Package rawdb holds the low level key/value layout of the station's
// persistent state.
package rawdb

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethdb"
)

var errCorruptReservation = errors.New("corrupt nonce reservation")

var (
	// noncePrefix + contract + signer + nonce (32 bytes) -> reservation time (ms)
	noncePrefix = []byte("stn-")
)

// nonceScope is the key prefix shared by every nonce of a contract / signer pair.
func nonceScope(contract, signer common.Address) []byte {
	key := make([]byte, 0, len(noncePrefix)+2*common.AddressLength+common.HashLength)
	key = append(key, noncePrefix...)
	key = append(key, contract.Bytes()...)
	return append(key, signer.Bytes()...)
}

// nonceKey returns the database key for a reserved nonce. Nonces are
// left-padded to 32 bytes, wider values are truncated to their low word.
func nonceKey(contract, signer common.Address, nonce *big.Int) []byte {
	return append(nonceScope(contract, signer), common.BigToHash(nonce).Bytes()...)
}

// HasNonceReservation checks if a nonce has been handed out.
func HasNonceReservation(db ethdb.KeyValueReader, contract, signer common.Address, nonce *big.Int) (bool, error) {
	return db.Has(nonceKey(contract, signer, nonce))
}

// WriteNonceReservation records a nonce with its reservation time.
func WriteNonceReservation(db ethdb.KeyValueWriter, contract, signer common.Address, nonce *big.Int, at uint64) error {
	var data [8]byte
	binary.BigEndian.PutUint64(data[:], at)
	return db.Put(nonceKey(contract, signer, nonce), data[:])
}

// ReadNonceReservation returns the time a nonce was reserved. A missing
// reservation is not an error; a failed or corrupt read is.
func ReadNonceReservation(db ethdb.KeyValueReader, contract, signer common.Address, nonce *big.Int) (uint64, bool, error) {
	has, err := HasNonceReservation(db, contract, signer, nonce)
	if err != nil || !has {
		return 0, false, err
	}
	data, err := db.Get(nonceKey(contract, signer, nonce))
	if err != nil {
		return 0, false, err
	}
	if len(data) != 8 {
		return 0, false, fmt.Errorf("%w: %d bytes", errCorruptReservation, len(data))
	}
	return binary.BigEndian.Uint64(data), true, nil
}

// DeleteNonceReservation releases a nonce.
func DeleteNonceReservation(db ethdb.KeyValueWriter, contract, signer common.Address, nonce *big.Int) error {
	return db.Delete(nonceKey(contract, signer, nonce))
}

// IterateNonceReservations walks the nonces reserved for a contract / signer
// pair in key order until fn returns false.
func IterateNonceReservations(db ethdb.Iteratee, contract, signer common.Address, fn func(nonce *big.Int, at uint64) bool) error {
	prefix := nonceScope(contract, signer)
	it := db.NewIterator(prefix, nil)
	defer it.Release()

	for it.Next() {
		key, value := it.Key(), it.Value()
		if len(key) != len(prefix)+common.HashLength || len(value) != 8 {
			continue
		}
		if !fn(new(big.Int).SetBytes(key[len(prefix):]), binary.BigEndian.Uint64(value)) {
			break
		}
	}
	return it.Error()
}
