// Copyright 2026 The go-obsidian Authors

package types

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
)

func makeDualEnvelope() *CallEnvelope {
	return &CallEnvelope{
		Method:                MethodExecuteMachineTransaction,
		Machine:               common.HexToAddress("0x1111111111111111111111111111111111111111"),
		Target:                common.HexToAddress("0x0000000000000000000000000000000000000801"),
		Data:                  []byte{0x02, 0x03},
		Nonce:                 big.NewInt(42),
		Signature:             []byte{0xaa},
		MachineOwnerSignature: []byte{0xbb},
	}
}

func TestEnvelopeZeroValueDoesNotPanic(t *testing.T) {
	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("zero-value envelope should not panic: %v", r)
		}
	}()
	env := &CallEnvelope{}
	_ = env.Hash()
	_ = env.Copy()
	_ = env.Validate()
	_ = env.Method.String()
}

func TestEnvelopeValidate(t *testing.T) {
	if err := makeDualEnvelope().Validate(); err != nil {
		t.Fatalf("dual envelope should validate: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*CallEnvelope)
		want   error
	}{
		{"missing machine sig", func(e *CallEnvelope) { e.MachineOwnerSignature = nil }, ErrMissingMachineSig},
		{"missing machine", func(e *CallEnvelope) { e.Machine = common.Address{} }, ErrMissingMachineAddress},
		{"missing owner sig", func(e *CallEnvelope) { e.Signature = nil }, ErrMissingSignature},
		{"missing nonce", func(e *CallEnvelope) { e.Nonce = nil }, ErrMissingNonce},
		{"single with machine sig", func(e *CallEnvelope) { e.Method = MethodExecuteTransaction }, ErrUnexpectedMachineSig},
		{"unknown method", func(e *CallEnvelope) { e.Method = 99 }, ErrUnknownMethod},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := makeDualEnvelope()
			tt.mutate(env)
			if err := env.Validate(); !errors.Is(err, tt.want) {
				t.Fatalf("have %v want %v", err, tt.want)
			}
		})
	}

	single := &CallEnvelope{Method: MethodExecuteTransaction, Nonce: big.NewInt(1), Signature: []byte{1}}
	if err := single.Validate(); err != nil {
		t.Fatalf("single-signer envelope should validate: %v", err)
	}
	if single.IsDual() {
		t.Fatal("single-signer envelope reported as dual")
	}
}

func TestEnvelopeCopyIsDeep(t *testing.T) {
	env := makeDualEnvelope()
	cpy := env.Copy()

	cpy.Data[0] = 0xff
	cpy.Nonce.SetInt64(7)
	cpy.Signature[0] = 0x00

	if env.Data[0] != 0x02 || env.Nonce.Int64() != 42 || env.Signature[0] != 0xaa {
		t.Fatal("mutating copy changed the original")
	}
	if env.Hash() == cpy.Hash() {
		t.Fatal("hash should change with content")
	}
}

func TestEnvelopeHashCoversMethod(t *testing.T) {
	a := &CallEnvelope{Method: MethodExecuteTransaction, Nonce: big.NewInt(1), Signature: []byte{1}}
	b := a.Copy()
	b.Method = MethodDeployMachineSmartAccount
	if a.Hash() == b.Hash() {
		t.Fatal("envelopes differing only in method share a hash")
	}
	if a.Hash() != a.Copy().Hash() {
		t.Fatal("hash is not stable across copies")
	}
}

func TestOutcome(t *testing.T) {
	var nilOutcome *TransactionOutcome
	if nilOutcome.Logs() != nil || nilOutcome.Succeeded() {
		t.Fatal("nil outcome should be empty and unsuccessful")
	}
	out := &TransactionOutcome{Receipt: &ethtypes.Receipt{
		Status: ethtypes.ReceiptStatusSuccessful,
		Logs:   []*ethtypes.Log{{Index: 3}},
	}}
	if !out.Succeeded() || len(out.Logs()) != 1 {
		t.Fatal("successful outcome misreported")
	}
}
