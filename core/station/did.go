// Copyright 2025 The go-obsidian Authors
// This file is part of the go-obsidian library.

package station

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
)

// DIDDocumentInput is what a DID document hash is derived from.
type DIDDocumentInput struct {
	MachineOwner   common.Address
	DIDAddress     common.Address
	EmailSignature string // Issuer signature returned by the sign service
}

// DIDHasher derives the document hash stored by addAttribute.
type DIDHasher interface {
	DocumentHash(ctx context.Context, in DIDDocumentInput) ([]byte, error)
}

// UnimplementedDIDHasher is the default hasher. The derivation algorithm is
// not settled, so it always fails and callers must supply the hash through
// AddAttributeParams.DocumentHash or install their own hasher.
type UnimplementedDIDHasher struct{}

func (UnimplementedDIDHasher) DocumentHash(context.Context, DIDDocumentInput) ([]byte, error) {
	return nil, ErrDIDHashUnimplemented
}
