// Copyright 2025 The go-obsidian Authors
// This file is part of the go-obsidian library.

package station

import (
	"errors"
	"fmt"

	"github.com/HITEYY/obsidian-station/core/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

var (
	ErrConfiguration   = errors.New("invalid configuration")
	ErrSignature       = errors.New("signature error")
	ErrEncoding        = errors.New("encoding error")
	ErrNonce           = errors.New("nonce assignment failed")
	ErrNetwork         = errors.New("network error")
	ErrContractRevert  = errors.New("execution reverted")
	ErrEventNotFound   = errors.New("MachineSmartAccountDeployed event not found in logs")
	ErrExternalService = errors.New("external service error")
	ErrNotSupported    = errors.New("operation not supported")

	// ErrDIDHashUnimplemented is returned by the default DIDHasher.
	ErrDIDHashUnimplemented = errors.New("DID document hash derivation is not implemented")
)

// errNoMachineOwner rejects dual-signer operations on a station without a
// machine owner key.
var errNoMachineOwner = fmt.Errorf("%w: %w: machine owner key not configured", ErrSignature, ErrNotSupported)

// RevertError is an on-chain rejection of a relayed call. It matches
// ErrContractRevert under errors.Is.
type RevertError struct {
	Method types.Method
	TxHash common.Hash // Zero when the call was rejected before broadcast
	Data   []byte      // Raw revert payload, may be empty
	Reason DecodedReason
	Err    error // Transport error carrying the revert, if any
}

func (e *RevertError) Error() string {
	msg := fmt.Sprintf("%s reverted", e.Method)
	if e.TxHash != (common.Hash{}) {
		msg += fmt.Sprintf(" (tx %s)", e.TxHash.Hex())
	}
	switch {
	case e.Reason.Decoded:
		msg += ": " + e.Reason.String()
	case len(e.Data) > 0:
		msg += ": undecoded " + hexutil.Encode(e.Data)
	case e.Err != nil:
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *RevertError) Is(target error) bool { return target == ErrContractRevert }

func (e *RevertError) Unwrap() error { return e.Err }
