// Copyright 2026 The go-obsidian Authors

package station

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/HITEYY/obsidian-station/core/calldata"
	"github.com/HITEYY/obsidian-station/core/nonce"
	"github.com/HITEYY/obsidian-station/crypto/eip712"
	"github.com/HITEYY/obsidian-station/services/offchain"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.UnixMilli(1700000000000)

// mockService implements ServiceClient for testing.
type mockService struct {
	mu      sync.Mutex
	backend *mockBackend

	signature string
	signErr   error
	storeErr  error

	signs  []offchain.SignRequest
	stores []offchain.StoreRequest

	// chain requests seen by the backend when StoreData was called
	requestsAtStore int
}

func (m *mockService) Sign(ctx context.Context, req offchain.SignRequest) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.signs = append(m.signs, req)
	if m.signErr != nil {
		return "", m.signErr
	}
	return m.signature, nil
}

func (m *mockService) StoreData(ctx context.Context, req offchain.StoreRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stores = append(m.stores, req)
	m.requestsAtStore = m.backend.requestCount()
	return m.storeErr
}

type fixedHasher struct {
	hash []byte
	in   []DIDDocumentInput
}

func (h *fixedHasher) DocumentHash(ctx context.Context, in DIDDocumentInput) ([]byte, error) {
	h.in = append(h.in, in)
	return h.hash, nil
}

type failingSource struct{}

func (failingSource) Nonce(context.Context, common.Address, common.Address) (*big.Int, error) {
	return nil, errors.New("entropy unavailable")
}

func newTestStation(t *testing.T, cfg Config, opts ...Option) (*Station, *mockBackend, *mockService) {
	t.Helper()
	backend := newMockBackend()
	svc := &mockService{backend: backend, signature: "0xemailsig"}
	opts = append([]Option{
		WithServiceClient(svc),
		WithClock(func() time.Time { return testNow }),
		WithPollInterval(time.Millisecond),
	}, opts...)
	s, err := New(cfg, backend, opts...)
	require.NoError(t, err)
	return s, backend, svc
}

// outerArgs decodes the factory call of the only transaction sent.
func outerArgs(t *testing.T, backend *mockBackend, method string) []interface{} {
	t.Helper()
	require.Len(t, backend.sent, 1)
	data := backend.sent[0].Data()
	require.Equal(t, factoryABI.Methods[method].ID, data[:4])
	args, err := factoryABI.Methods[method].Inputs.Unpack(data[4:])
	require.NoError(t, err)
	return args
}

func TestAddAttribute(t *testing.T) {
	hasher := &fixedHasher{hash: []byte("0xdidhash")}
	s, backend, svc := newTestStation(t, testConfig(), WithDIDHasher(hasher))
	did := common.HexToAddress("0x00000000000000000000000000000000000000d1")

	outcome, err := s.AddAttribute(context.Background(), AddAttributeParams{DIDAddress: did.Hex(), Email: "a@b.com", Tag: "TAG"})
	require.NoError(t, err)
	require.NotNil(t, outcome)
	assert.Equal(t, backend.sent[0].Hash(), outcome.TxHash)
	assert.NotEmpty(t, outcome.TxHash.Hex())

	require.Len(t, svc.signs, 1)
	assert.Equal(t, offchain.SignRequest{Email: "a@b.com", DIDAddress: did.Hex(), Tag: "TAG"}, svc.signs[0])

	require.Len(t, hasher.in, 1)
	assert.Equal(t, "0xemailsig", hasher.in[0].EmailSignature)
	assert.Equal(t, s.machineOwner.Address(), hasher.in[0].MachineOwner)
	assert.Equal(t, did, hasher.in[0].DIDAddress)

	args := outerArgs(t, backend, "executeTransaction")
	inner, err := calldata.AddAttribute(did, []byte("did:peaq:"+did.Hex()+"#test"), []byte("0xdidhash"), 0)
	require.NoError(t, err)
	assert.Equal(t, calldata.IdentityPrecompile, args[0])
	assert.Equal(t, inner, args[1])

	msg := eip712.ExecuteMessage(calldata.IdentityPrecompile, inner, args[2].(*big.Int))
	assert.True(t, eip712.Verify(eip712.FactoryDomain(testChainID, testFactory), eip712.ExecuteTransaction, msg, args[3].([]byte), s.Owner()))
}

func TestAddAttributeCallerHash(t *testing.T) {
	s, backend, _ := newTestStation(t, testConfig())
	did := "0x00000000000000000000000000000000000000d1"

	_, err := s.AddAttribute(context.Background(), AddAttributeParams{DIDAddress: did, Email: "a@b.com", Tag: "TAG", DocumentHash: "abc"})
	require.NoError(t, err)

	args := outerArgs(t, backend, "executeTransaction")
	values, err := calldata.Unpack(calldata.AddAttributeSignature, []string{"address", "bytes", "bytes", "uint32"}, args[1].([]byte))
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), values[2])
	assert.Equal(t, uint32(0), values[3])
}

func TestAddAttributeKeepsCallerDIDString(t *testing.T) {
	s, backend, svc := newTestStation(t, testConfig())
	did := "0x5fbdb2315678afecb367f032d93f642f64180aa3"

	_, err := s.AddAttribute(context.Background(), AddAttributeParams{DIDAddress: did, Email: "a@b.com", Tag: "TAG", DocumentHash: "abc"})
	require.NoError(t, err)

	require.Len(t, svc.signs, 1)
	assert.Equal(t, did, svc.signs[0].DIDAddress)

	args := outerArgs(t, backend, "executeTransaction")
	values, err := calldata.Unpack(calldata.AddAttributeSignature, []string{"address", "bytes", "bytes", "uint32"}, args[1].([]byte))
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress(did), values[0])
	assert.Equal(t, []byte("did:peaq:"+did+"#test"), values[1])
}

func TestAddAttributeInvalidDID(t *testing.T) {
	s, backend, svc := newTestStation(t, testConfig())

	_, err := s.AddAttribute(context.Background(), AddAttributeParams{DIDAddress: "did-123", Email: "a@b.com", Tag: "TAG", DocumentHash: "abc"})
	require.ErrorIs(t, err, ErrEncoding)
	assert.Empty(t, svc.signs)
	assert.Zero(t, backend.requestCount())
}

func TestAddAttributeWithoutHash(t *testing.T) {
	s, backend, _ := newTestStation(t, testConfig())

	_, err := s.AddAttribute(context.Background(), AddAttributeParams{DIDAddress: testTarget.Hex(), Email: "a@b.com", Tag: "TAG"})
	require.ErrorIs(t, err, ErrNotSupported)
	require.ErrorIs(t, err, ErrDIDHashUnimplemented)
	assert.Zero(t, backend.requestCount())
}

func TestAddAttributeServiceFailure(t *testing.T) {
	s, backend, svc := newTestStation(t, testConfig())
	svc.signErr = offchain.ErrUnexpectedStatus

	_, err := s.AddAttribute(context.Background(), AddAttributeParams{DIDAddress: testTarget.Hex(), Email: "a@b.com", Tag: "TAG", DocumentHash: "abc"})
	require.ErrorIs(t, err, ErrExternalService)
	require.ErrorIs(t, err, offchain.ErrUnexpectedStatus)
	assert.Zero(t, backend.requestCount())
}

func TestStoreData(t *testing.T) {
	s, backend, svc := newTestStation(t, testConfig())
	tags := []string{"TAG", "20_TAG", "30_TAG"}

	outcome, err := s.StoreData(context.Background(), StoreDataParams{Email: "a@b.com", Tag: "TAG", Tags: tags, CustomTag: "TAG"})
	require.NoError(t, err)
	assert.True(t, outcome.Succeeded())

	require.Len(t, svc.stores, 1)
	assert.Equal(t, offchain.StoreRequest{ItemType: "TAG-1700000000000", Email: "a@b.com", Tag: "TAG", Tags: tags}, svc.stores[0])
	assert.Zero(t, svc.requestsAtStore, "item type must be registered before any chain call")

	args := outerArgs(t, backend, "executeTransaction")
	inner, err := calldata.AddItem([]byte("TAG-1700000000000"), []byte(DefaultItem))
	require.NoError(t, err)
	assert.Equal(t, calldata.StoragePrecompile, args[0])
	assert.Equal(t, inner, args[1])
}

func TestStoreDataServiceFailure(t *testing.T) {
	s, backend, svc := newTestStation(t, testConfig())
	svc.storeErr = errors.New("boom")

	_, err := s.StoreData(context.Background(), StoreDataParams{Email: "a@b.com", Tag: "TAG", CustomTag: "TAG", Item: "X"})
	require.ErrorIs(t, err, ErrExternalService)
	assert.Zero(t, backend.requestCount())
}

func TestDeploySmartAccount(t *testing.T) {
	s, backend, _ := newTestStation(t, testConfig())
	backend.logs = []*ethtypes.Log{{
		Address: testFactory,
		Topics: []common.Hash{
			MachineSmartAccountDeployedTopic,
			common.HexToHash("0x00000000000000000000000000000000000000000000000000000000deadbeef"),
		},
	}}

	addr, outcome, err := s.DeploySmartAccount(context.Background())
	require.NoError(t, err)
	want := common.HexToAddress("0x00000000000000000000000000000000deadbeef")
	assert.Equal(t, want, addr)
	assert.Equal(t, want, outcome.DeployedAddress)

	args := outerArgs(t, backend, "deployMachineSmartAccount")
	assert.Equal(t, s.machineOwner.Address(), args[0])
	msg := eip712.DeployMessage(s.machineOwner.Address(), args[1].(*big.Int))
	assert.True(t, eip712.Verify(eip712.FactoryDomain(testChainID, testFactory), eip712.DeployMachineSmartAccount, msg, args[2].([]byte), s.Owner()))
}

func TestDeploySmartAccountMissingEvent(t *testing.T) {
	s, backend, _ := newTestStation(t, testConfig())
	backend.logs = []*ethtypes.Log{{Topics: []common.Hash{common.HexToHash("0x1234")}}}

	_, outcome, err := s.DeploySmartAccount(context.Background())
	require.ErrorIs(t, err, ErrEventNotFound)
	assert.NotErrorIs(t, err, ErrContractRevert)
	assert.NotErrorIs(t, err, ErrNetwork)
	require.NotNil(t, outcome)
	assert.True(t, outcome.Succeeded())
}

func TestDeploySingleSignerUsesOwner(t *testing.T) {
	cfg := testConfig()
	cfg.MachineOwnerPrivateKey = ""
	s, backend, _ := newTestStation(t, cfg)
	backend.logs = []*ethtypes.Log{{Topics: []common.Hash{MachineSmartAccountDeployedTopic, common.HexToHash("0x01")}}}

	_, _, err := s.DeploySmartAccount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, s.Owner(), outerArgs(t, backend, "deployMachineSmartAccount")[0])
}

func TestExecuteMachineTransaction(t *testing.T) {
	s, backend, _ := newTestStation(t, testConfig())
	machine := common.HexToAddress("0x00000000000000000000000000000000deadbeef")
	data := []byte{0xca, 0xfe}

	_, err := s.ExecuteMachineTransaction(context.Background(), machine, testTarget, data)
	require.NoError(t, err)

	args := outerArgs(t, backend, "executeMachineTransaction")
	assert.Equal(t, machine, args[0])
	assert.Equal(t, testTarget, args[1])
	assert.Equal(t, data, args[2])
	n := args[3].(*big.Int)

	ownerMsg := eip712.MachineExecuteMessage(machine, testTarget, data, n)
	assert.True(t, eip712.Verify(eip712.FactoryDomain(testChainID, testFactory), eip712.ExecuteMachineTransaction, ownerMsg, args[4].([]byte), s.Owner()))

	machineMsg := eip712.ExecuteMessage(testTarget, data, n)
	assert.True(t, eip712.Verify(eip712.MachineDomain(testChainID, machine), eip712.Execute, machineMsg, args[5].([]byte), s.machineOwner.Address()))
	assert.False(t, eip712.Verify(eip712.FactoryDomain(testChainID, testFactory), eip712.Execute, machineMsg, args[5].([]byte), s.machineOwner.Address()))
}

func TestExecuteMachineTransactionWithoutMachineOwner(t *testing.T) {
	cfg := testConfig()
	cfg.MachineOwnerPrivateKey = ""
	s, backend, _ := newTestStation(t, cfg)

	_, err := s.ExecuteMachineTransaction(context.Background(), testTarget, testTarget, nil)
	require.ErrorIs(t, err, ErrSignature)
	require.ErrorIs(t, err, ErrNotSupported)
	assert.Zero(t, backend.requestCount(), "no chain call may happen")
	assert.Empty(t, backend.sent)
}

func TestExecuteTransactionRevert(t *testing.T) {
	s, backend, _ := newTestStation(t, testConfig())
	backend.status = ethtypes.ReceiptStatusFailed

	_, err := s.ExecuteTransaction(context.Background(), testTarget, []byte{1})
	var rerr *RevertError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, backend.sent[0].Hash(), rerr.TxHash)
}

func TestNonceFailure(t *testing.T) {
	s, backend, _ := newTestStation(t, testConfig(), WithNonceGenerator(failingSource{}))

	_, err := s.ExecuteTransaction(context.Background(), testTarget, nil)
	require.ErrorIs(t, err, ErrNonce)
	assert.Zero(t, backend.requestCount())
}

func TestNonceRegistry(t *testing.T) {
	reg := nonce.NewMemoryRegistry()
	s, _, _ := newTestStation(t, testConfig(), WithNonceRegistry(reg))

	for i := 0; i < 3; i++ {
		_, err := s.ExecuteTransaction(context.Background(), testTarget, nil)
		require.NoError(t, err)
	}
	assert.Equal(t, 3, reg.Len())
}

func TestNonceReleasedWhenNeverBroadcast(t *testing.T) {
	reg := nonce.NewMemoryRegistry()
	s, backend, _ := newTestStation(t, testConfig(), WithNonceRegistry(reg))
	backend.estimateErr = &rpcRevert{data: "0x"}

	_, err := s.ExecuteTransaction(context.Background(), testTarget, nil)
	require.ErrorIs(t, err, ErrContractRevert)
	assert.Zero(t, reg.Len())
	assert.Empty(t, backend.sent)
}

func TestNonceKeptAfterBroadcast(t *testing.T) {
	reg := nonce.NewMemoryRegistry()
	s, backend, _ := newTestStation(t, testConfig(), WithNonceRegistry(reg))
	backend.status = ethtypes.ReceiptStatusFailed

	_, err := s.ExecuteTransaction(context.Background(), testTarget, nil)
	require.ErrorIs(t, err, ErrContractRevert)
	assert.Equal(t, 1, reg.Len())

	// An ambiguous transport failure keeps the reservation too.
	backend.status = ethtypes.ReceiptStatusSuccessful
	backend.sendErr = errors.New("connection reset")
	_, err = s.ExecuteTransaction(context.Background(), testTarget, nil)
	require.ErrorIs(t, err, ErrNetwork)
	assert.Equal(t, 2, reg.Len())
}

func TestFactoryFollowsRelay(t *testing.T) {
	s, _, _ := newTestStation(t, testConfig())
	assert.Equal(t, testFactory, s.Factory())
	assert.Equal(t, s.relay.Factory(), s.Factory())
}
