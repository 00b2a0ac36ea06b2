// Copyright 2025 The go-obsidian Authors
// This file is part of the go-obsidian library.

package eip712

import (
	"crypto/ecdsa"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

var (
	ErrMissingKey       = errors.New("missing signing key")
	ErrMissingChainID   = errors.New("typed-data domain has no chain id")
	ErrMessageMismatch  = errors.New("message does not match schema")
	ErrInvalidSignature = errors.New("invalid typed-data signature")
)

// TypedData assembles the apitypes representation of a message.
func TypedData(domain Domain, schema Schema, msg Message) apitypes.TypedData {
	return apitypes.TypedData{
		Types:       schema.types(),
		PrimaryType: schema.PrimaryType,
		Domain:      domain.typed(),
		Message:     apitypes.TypedDataMessage(msg),
	}
}

func checkMessage(schema Schema, msg Message) error {
	if len(msg) != len(schema.Fields) {
		return fmt.Errorf("%w: %s has %d fields, message has %d", ErrMessageMismatch, schema.PrimaryType, len(schema.Fields), len(msg))
	}
	for _, f := range schema.Fields {
		if v, ok := msg[f.Name]; !ok || v == nil {
			return fmt.Errorf("%w: %s.%s missing", ErrMessageMismatch, schema.PrimaryType, f.Name)
		}
	}
	return nil
}

// Hash returns the EIP-712 digest keccak256(0x19 0x01 ‖ domainSeparator ‖ hashStruct(message)).
func Hash(domain Domain, schema Schema, msg Message) (common.Hash, error) {
	if domain.ChainID == nil {
		return common.Hash{}, ErrMissingChainID
	}
	if err := checkMessage(schema, msg); err != nil {
		return common.Hash{}, err
	}
	digest, _, err := apitypes.TypedDataAndHash(TypedData(domain, schema, msg))
	if err != nil {
		return common.Hash{}, fmt.Errorf("%w: %v", ErrMessageMismatch, err)
	}
	return common.BytesToHash(digest), nil
}

// Sign signs the typed data with key. The returned signature is r ‖ s ‖ v
// with v in {27, 28}, the form accepted by ECDSA.recover in Solidity.
func Sign(domain Domain, schema Schema, msg Message, key *ecdsa.PrivateKey) ([]byte, error) {
	if key == nil {
		return nil, ErrMissingKey
	}
	digest, err := Hash(domain, schema, msg)
	if err != nil {
		return nil, err
	}
	sig, err := crypto.Sign(digest.Bytes(), key)
	if err != nil {
		return nil, err
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}

// Recover returns the address that produced sig over the typed data.
func Recover(domain Domain, schema Schema, msg Message, sig []byte) (common.Address, error) {
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("%w: length %d", ErrInvalidSignature, len(sig))
	}
	digest, err := Hash(domain, schema, msg)
	if err != nil {
		return common.Address{}, err
	}
	cpy := common.CopyBytes(sig)
	if cpy[crypto.RecoveryIDOffset] >= 27 {
		cpy[crypto.RecoveryIDOffset] -= 27
	}
	pub, err := crypto.SigToPub(digest.Bytes(), cpy)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// Verify reports whether sig over the typed data was produced by want.
func Verify(domain Domain, schema Schema, msg Message, sig []byte, want common.Address) bool {
	got, err := Recover(domain, schema, msg, sig)
	return err == nil && got == want
}

// Signer binds a private key to typed-data signing.
type Signer struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// NewSigner wraps key. A nil key yields ErrMissingKey.
func NewSigner(key *ecdsa.PrivateKey) (*Signer, error) {
	if key == nil {
		return nil, ErrMissingKey
	}
	return &Signer{key: key, address: crypto.PubkeyToAddress(key.PublicKey)}, nil
}

// HexToSigner parses a hex private key, with or without 0x prefix.
func HexToSigner(hexkey string) (*Signer, error) {
	key, err := crypto.HexToECDSA(trim0x(hexkey))
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return NewSigner(key)
}

func trim0x(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}

func (s *Signer) Address() common.Address { return s.address }

// Key exposes the private key for transaction signing.
func (s *Signer) Key() *ecdsa.PrivateKey { return s.key }

func (s *Signer) SignTypedData(domain Domain, schema Schema, msg Message) ([]byte, error) {
	if s == nil {
		return nil, ErrMissingKey
	}
	return Sign(domain, schema, msg, s.key)
}
