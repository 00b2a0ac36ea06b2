// Copyright 2025 The go-obsidian Authors

package eip712

import (
	"bytes"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	testChainID = big.NewInt(3338)
	testFactory = common.HexToAddress("0x4444444444444444444444444444444444444444")
	testMachine = common.HexToAddress("0x5555555555555555555555555555555555555555")
	testTarget  = common.HexToAddress("0x0000000000000000000000000000000000000801")
	testData    = []byte{0xde, 0xad, 0xbe, 0xef}
	testNonce   = big.NewInt(1_700_000_000_000)
)

func newTestSigner(t *testing.T) *Signer {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	s, err := NewSigner(key)
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	return s
}

func TestSignDeterministic(t *testing.T) {
	s := newTestSigner(t)
	domain := FactoryDomain(testChainID, testFactory)
	msg := ExecuteMessage(testTarget, testData, testNonce)

	sig1, err := s.SignTypedData(domain, ExecuteTransaction, msg)
	if err != nil {
		t.Fatalf("first sign: %v", err)
	}
	sig2, err := s.SignTypedData(domain, ExecuteTransaction, msg)
	if err != nil {
		t.Fatalf("second sign: %v", err)
	}
	if len(sig1) != crypto.SignatureLength {
		t.Fatalf("unexpected signature length %d", len(sig1))
	}
	if v := sig1[crypto.RecoveryIDOffset]; v != 27 && v != 28 {
		t.Fatalf("unexpected v %d", v)
	}
	if !bytes.Equal(sig1, sig2) {
		t.Fatalf("signatures differ:\n%x\n%x", sig1, sig2)
	}
	for i, sig := range [][]byte{sig1, sig2} {
		got, err := Recover(domain, ExecuteTransaction, msg, sig)
		if err != nil {
			t.Fatalf("recover %d: %v", i, err)
		}
		if got != s.Address() {
			t.Fatalf("recover %d: have %s want %s", i, got, s.Address())
		}
	}
}

func TestAllSchemasRecover(t *testing.T) {
	s := newTestSigner(t)
	tests := []struct {
		name   string
		domain Domain
		schema Schema
		msg    Message
	}{
		{"deploy", FactoryDomain(testChainID, testFactory), DeployMachineSmartAccount, DeployMessage(testMachine, testNonce)},
		{"execute", FactoryDomain(testChainID, testFactory), ExecuteTransaction, ExecuteMessage(testTarget, testData, testNonce)},
		{"machine-execute", FactoryDomain(testChainID, testFactory), ExecuteMachineTransaction, MachineExecuteMessage(testMachine, testTarget, testData, testNonce)},
		{"machine-local", MachineDomain(testChainID, testMachine), Execute, ExecuteMessage(testTarget, testData, testNonce)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sig, err := s.SignTypedData(tt.domain, tt.schema, tt.msg)
			if err != nil {
				t.Fatalf("sign: %v", err)
			}
			if !Verify(tt.domain, tt.schema, tt.msg, sig, s.Address()) {
				t.Fatal("signature does not verify")
			}
		})
	}
}

func TestCrossDomainRejection(t *testing.T) {
	s := newTestSigner(t)
	msg := ExecuteMessage(testTarget, testData, testNonce)

	factory := FactoryDomain(testChainID, testFactory)
	sig, err := s.SignTypedData(factory, ExecuteTransaction, msg)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	others := map[string]Domain{
		"other chain":    FactoryDomain(big.NewInt(1), testFactory),
		"other contract": FactoryDomain(testChainID, testMachine),
		"machine name":   {Name: MachineDomainName, Version: DomainVersion, ChainID: testChainID, VerifyingContract: testFactory},
		"other version":  {Name: FactoryDomainName, Version: "2", ChainID: testChainID, VerifyingContract: testFactory},
	}
	for name, d := range others {
		if Verify(d, ExecuteTransaction, msg, sig, s.Address()) {
			t.Errorf("%s: signature accepted under foreign domain", name)
		}
	}
}

func TestCrossSchemaRejection(t *testing.T) {
	s := newTestSigner(t)
	domain := FactoryDomain(testChainID, testFactory)
	msg := ExecuteMessage(testTarget, testData, testNonce)

	sig, err := s.SignTypedData(domain, ExecuteTransaction, msg)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	// Execute has the same fields under a different type name.
	if Verify(domain, Execute, msg, sig, s.Address()) {
		t.Fatal("ExecuteTransaction signature accepted as Execute")
	}

	reordered := Schema{
		PrimaryType: "ExecuteTransaction",
		Fields: []Field{
			{Name: "data", Type: "bytes"},
			{Name: "target", Type: "address"},
			{Name: "nonce", Type: "uint256"},
		},
	}
	if Verify(domain, reordered, msg, sig, s.Address()) {
		t.Fatal("signature accepted under reordered fields")
	}
}

func TestTypeEncoding(t *testing.T) {
	td := TypedData(FactoryDomain(testChainID, testFactory), ExecuteMachineTransaction,
		MachineExecuteMessage(testMachine, testTarget, testData, testNonce))

	want := "ExecuteMachineTransaction(address machineAddress,address target,bytes data,uint256 nonce)"
	if got := string(td.EncodeType("ExecuteMachineTransaction")); got != want {
		t.Fatalf("type encoding mismatch:\nhave %s\nwant %s", got, want)
	}
}

func TestSignErrors(t *testing.T) {
	domain := FactoryDomain(testChainID, testFactory)

	if _, err := Sign(domain, ExecuteTransaction, ExecuteMessage(testTarget, testData, testNonce), nil); !errors.Is(err, ErrMissingKey) {
		t.Fatalf("expected ErrMissingKey, got %v", err)
	}
	var nilSigner *Signer
	if _, err := nilSigner.SignTypedData(domain, ExecuteTransaction, ExecuteMessage(testTarget, testData, testNonce)); !errors.Is(err, ErrMissingKey) {
		t.Fatalf("expected ErrMissingKey for nil signer, got %v", err)
	}
	if _, err := NewSigner(nil); !errors.Is(err, ErrMissingKey) {
		t.Fatalf("expected ErrMissingKey from NewSigner, got %v", err)
	}

	s := newTestSigner(t)
	short := Message{"target": testTarget.Hex(), "nonce": testNonce}
	if _, err := s.SignTypedData(domain, ExecuteTransaction, short); !errors.Is(err, ErrMessageMismatch) {
		t.Fatalf("expected ErrMessageMismatch, got %v", err)
	}
	renamed := Message{"target": testTarget.Hex(), "payload": testData, "nonce": testNonce}
	if _, err := s.SignTypedData(domain, ExecuteTransaction, renamed); !errors.Is(err, ErrMessageMismatch) {
		t.Fatalf("expected ErrMessageMismatch for renamed field, got %v", err)
	}

	noChain := Domain{Name: FactoryDomainName, Version: DomainVersion, VerifyingContract: testFactory}
	if _, err := s.SignTypedData(noChain, ExecuteTransaction, ExecuteMessage(testTarget, testData, testNonce)); !errors.Is(err, ErrMissingChainID) {
		t.Fatalf("expected ErrMissingChainID, got %v", err)
	}
}

func TestRecoverMalformedSignature(t *testing.T) {
	domain := FactoryDomain(testChainID, testFactory)
	msg := ExecuteMessage(testTarget, testData, testNonce)

	if _, err := Recover(domain, ExecuteTransaction, msg, []byte{0x01}); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature for short signature, got %v", err)
	}
	if Verify(domain, ExecuteTransaction, msg, make([]byte, crypto.SignatureLength), common.Address{}) {
		t.Fatal("zero signature must not verify")
	}
}

func TestHexToSigner(t *testing.T) {
	key, _ := crypto.GenerateKey()
	hexkey := common.Bytes2Hex(crypto.FromECDSA(key))

	for _, in := range []string{hexkey, "0x" + hexkey} {
		s, err := HexToSigner(in)
		if err != nil {
			t.Fatalf("HexToSigner(%q): %v", in, err)
		}
		if s.Address() != crypto.PubkeyToAddress(key.PublicKey) {
			t.Fatal("address mismatch")
		}
	}
	if _, err := HexToSigner("0xnothex"); err == nil {
		t.Fatal("expected error for malformed key")
	}
}
