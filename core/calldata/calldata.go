// Copyright 2025 The go-obsidian Authors
// This file is part of the go-obsidian library.
//
// Package calldata derives function selectors and ABI-encodes the argument
// tuples of calls relayed through the machine station factory.

package calldata

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/sha3"
)

var (
	ErrSignatureMismatch = errors.New("function signature does not match argument types")
	ErrInvalidType       = errors.New("invalid abi type")
	ErrPack              = errors.New("abi pack failed")
	ErrShortPayload      = errors.New("calldata shorter than selector")
	ErrSelectorMismatch  = errors.New("calldata selector mismatch")
)

var (
	// IdentityPrecompile stores DID attributes.
	IdentityPrecompile = common.HexToAddress("0x0000000000000000000000000000000000000800")
	// StoragePrecompile stores generic item records.
	StoragePrecompile = common.HexToAddress("0x0000000000000000000000000000000000000801")
)

const (
	AddAttributeSignature = "addAttribute(address,bytes,bytes,uint32)"
	AddItemSignature      = "addItem(bytes,bytes)"
)

// Selector returns the first four bytes of keccak256(signature).
func Selector(signature string) [4]byte {
	hasher := sha3.NewLegacyKeccak256()
	hasher.Write([]byte(signature))

	var sel [4]byte
	copy(sel[:], hasher.Sum(nil))
	return sel
}

// ParamTypes returns the comma separated parameter list of a canonical
// signature such as "addItem(bytes,bytes)".
func ParamTypes(signature string) ([]string, error) {
	open := strings.IndexByte(signature, '(')
	if open <= 0 || !strings.HasSuffix(signature, ")") {
		return nil, fmt.Errorf("%w: malformed signature %q", ErrSignatureMismatch, signature)
	}
	inner := signature[open+1 : len(signature)-1]
	if inner == "" {
		return nil, nil
	}
	return strings.Split(inner, ","), nil
}

func arguments(types []string) (abi.Arguments, error) {
	args := make(abi.Arguments, len(types))
	for i, t := range types {
		typ, err := abi.NewType(t, "", nil)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrInvalidType, t, err)
		}
		args[i] = abi.Argument{Type: typ}
	}
	return args, nil
}

// Build encodes values per types and prefixes the selector of signature.
// The signature's parameter list must equal types.
func Build(signature string, types []string, values ...interface{}) ([]byte, error) {
	params, err := ParamTypes(signature)
	if err != nil {
		return nil, err
	}
	if strings.Join(params, ",") != strings.Join(types, ",") {
		return nil, fmt.Errorf("%w: %s vs (%s)", ErrSignatureMismatch, signature, strings.Join(types, ","))
	}
	args, err := arguments(types)
	if err != nil {
		return nil, err
	}
	encoded, err := args.Pack(values...)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrPack, signature, err)
	}
	sel := Selector(signature)

	out := make([]byte, 0, len(sel)+len(encoded))
	out = append(out, sel[:]...)
	return append(out, encoded...), nil
}

// Unpack decodes the argument tuple of payload, checking its selector
// against signature.
func Unpack(signature string, types []string, payload []byte) ([]interface{}, error) {
	if len(payload) < 4 {
		return nil, ErrShortPayload
	}
	sel := Selector(signature)
	if !bytes.Equal(payload[:4], sel[:]) {
		return nil, fmt.Errorf("%w: have %x want %x", ErrSelectorMismatch, payload[:4], sel)
	}
	args, err := arguments(types)
	if err != nil {
		return nil, err
	}
	return args.Unpack(payload[4:])
}

// AddAttribute encodes addAttribute(did, name, value, validity) for the
// identity precompile.
func AddAttribute(did common.Address, name, value []byte, validity uint32) ([]byte, error) {
	return Build(AddAttributeSignature, []string{"address", "bytes", "bytes", "uint32"}, did, name, value, validity)
}

// AddItem encodes addItem(itemType, item) for the storage precompile.
func AddItem(itemType, item []byte) ([]byte, error) {
	return Build(AddItemSignature, []string{"bytes", "bytes"}, itemType, item)
}
