// Copyright 2025 The go-obsidian Authors
// This file is part of the go-obsidian library.

package station

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/HITEYY/obsidian-station/core/calldata"
	"github.com/HITEYY/obsidian-station/core/nonce"
	"github.com/HITEYY/obsidian-station/core/types"
	"github.com/HITEYY/obsidian-station/crypto/eip712"
	"github.com/HITEYY/obsidian-station/services/offchain"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"
)

// DefaultItem is the record appended by StoreData when none is given.
const DefaultItem = "TASK-COMPLETED"

// ServiceClient is the off-chain sign and registration service.
type ServiceClient interface {
	Sign(ctx context.Context, req offchain.SignRequest) (string, error)
	StoreData(ctx context.Context, req offchain.StoreRequest) error
}

// Station runs the orchestrated machine station operations. It is safe for
// concurrent use.
type Station struct {
	chainID      *big.Int
	sponsor      *Sponsor
	machineOwner *eip712.Signer

	relay   *Relay
	nonces  nonce.Source
	service ServiceClient
	hasher  DIDHasher
	now     func() time.Time

	closer func()
}

type options struct {
	service      ServiceClient
	nonces       nonce.Source
	registry     nonce.Registry
	hasher       DIDHasher
	now          func() time.Time
	pollInterval time.Duration
	metrics      *Metrics
	errorABI     *abi.ABI
}

// Option configures a Station.
type Option func(*options)

// WithServiceClient replaces the off-chain client built from the config.
func WithServiceClient(c ServiceClient) Option {
	return func(o *options) { o.service = c }
}

// WithNonceGenerator replaces the timestamp * random nonce source.
func WithNonceGenerator(src nonce.Source) Option {
	return func(o *options) { o.nonces = src }
}

// WithNonceRegistry rejects nonces already handed out for the same
// signer / contract pair.
func WithNonceRegistry(reg nonce.Registry) Option {
	return func(o *options) { o.registry = reg }
}

// WithDIDHasher installs the DID document hash derivation.
func WithDIDHasher(h DIDHasher) Option {
	return func(o *options) { o.hasher = h }
}

// WithClock sets the time source used for item type labels and nonces.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithPollInterval sets how often pending receipts are polled.
func WithPollInterval(d time.Duration) Option {
	return func(o *options) { o.pollInterval = d }
}

// WithMetrics enables relay metrics.
func WithMetrics(m *Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithErrorABI adds the custom errors of a contract to revert decoding.
func WithErrorABI(contract abi.ABI) Option {
	return func(o *options) { o.errorABI = &contract }
}

// New creates a station on top of backend. It fails with ErrConfiguration
// if cfg is incomplete.
func New(cfg Config, backend Backend, opts ...Option) (*Station, error) {
	p, err := cfg.validate()
	if err != nil {
		log.Error("Invalid station configuration", "err", err)
		return nil, err
	}
	o := &options{now: time.Now, hasher: UnimplementedDIDHasher{}}
	for _, opt := range opts {
		opt(o)
	}
	if o.service == nil {
		c, err := offchain.NewClient(cfg.ServiceURL, cfg.APIKey, cfg.ProjectAPIKey)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
		}
		o.service = c
	}
	if o.nonces == nil {
		o.nonces = nonce.NewGenerator().WithClock(o.now)
	}
	if o.registry != nil {
		o.nonces = nonce.NewGuarded(o.nonces, o.registry, 0)
	}

	contract := factoryABI
	if o.errorABI != nil {
		contract = *o.errorABI
	}
	sponsor := NewSponsor(p.owner)
	relay := NewRelay(backend, p.chainID, p.factory, sponsor, NewErrorDecoder(contract))
	relay.metrics = o.metrics
	if o.pollInterval > 0 {
		relay.pollInterval = o.pollInterval
	}

	s := &Station{
		chainID:      p.chainID,
		sponsor:      sponsor,
		machineOwner: p.machineOwner,
		relay:        relay,
		nonces:       o.nonces,
		service:      o.service,
		hasher:       o.hasher,
		now:          o.now,
	}
	log.Info("Machine station ready", "chain", p.chainID, "factory", p.factory, "owner", sponsor.Address(), "dualSigner", s.HasMachineOwner())
	return s, nil
}

// Dial connects to cfg.RPCURL and creates a station on the connection. The
// node must report cfg.ChainID.
func Dial(ctx context.Context, cfg Config, opts ...Option) (*Station, error) {
	if _, err := cfg.validate(); err != nil {
		return nil, err
	}
	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %w", ErrNetwork, cfg.RPCURL, err)
	}
	chainID, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: chain id: %w", ErrNetwork, err)
	}
	if chainID.Uint64() != cfg.ChainID {
		client.Close()
		return nil, fmt.Errorf("%w: node chain id %d, configured %d", ErrConfiguration, chainID, cfg.ChainID)
	}
	s, err := New(cfg, client, opts...)
	if err != nil {
		client.Close()
		return nil, err
	}
	s.closer = client.Close
	return s, nil
}

// Close releases the RPC connection opened by Dial.
func (s *Station) Close() {
	if s.closer != nil {
		s.closer()
	}
}

// Owner returns the relaying owner account.
func (s *Station) Owner() common.Address { return s.sponsor.Address() }

// Factory returns the MachineStationFactory address.
func (s *Station) Factory() common.Address { return s.relay.Factory() }

// Sponsor returns the gas-paying principal.
func (s *Station) Sponsor() *Sponsor { return s.sponsor }

// HasMachineOwner reports whether dual-signer operations are available.
func (s *Station) HasMachineOwner() bool { return s.machineOwner != nil }

// machineOwnerAddress is the machine owner, or the owner on a single-signer
// station.
func (s *Station) machineOwnerAddress() common.Address {
	if s.machineOwner != nil {
		return s.machineOwner.Address()
	}
	return s.sponsor.Address()
}

func (s *Station) nextNonce(ctx context.Context, logger log.Logger) (*big.Int, error) {
	n, err := s.nonces.Nonce(ctx, s.sponsor.Address(), s.Factory())
	if err != nil {
		logger.Error("Nonce assignment failed", "err", err)
		return nil, fmt.Errorf("%w: %w", ErrNonce, err)
	}
	logger.Debug("Nonce assigned", "nonce", n)
	return n, nil
}

func (s *Station) ownerSign(logger log.Logger, schema eip712.Schema, msg eip712.Message) ([]byte, error) {
	sig, err := s.sponsor.SignTypedData(eip712.FactoryDomain(s.chainID, s.Factory()), schema, msg)
	if err != nil {
		logger.Error("Owner signing failed", "schema", schema.PrimaryType, "err", err)
		return nil, fmt.Errorf("%w: %w", ErrSignature, err)
	}
	return sig, nil
}

// releaseNonce hands n back to the nonce source when err shows the call
// never reached the chain.
func (s *Station) releaseNonce(ctx context.Context, logger log.Logger, n *big.Int, err error) {
	r, ok := s.nonces.(nonce.Releaser)
	if !ok || !neverBroadcast(err) {
		return
	}
	if rerr := r.Release(ctx, s.sponsor.Address(), s.Factory(), n); rerr != nil {
		logger.Warn("Failed to release nonce", "nonce", n, "err", rerr)
		return
	}
	logger.Debug("Nonce released", "nonce", n)
}

// neverBroadcast reports whether err was raised before any transaction left
// the relayer. Network failures are ambiguous and keep the nonce reserved.
func neverBroadcast(err error) bool {
	var rerr *RevertError
	if errors.As(err, &rerr) {
		return rerr.TxHash == (common.Hash{})
	}
	return errors.Is(err, ErrSignature) || errors.Is(err, ErrEncoding)
}

// DeploySmartAccount deploys a machine smart account for the machine owner
// and returns its address.
func (s *Station) DeploySmartAccount(ctx context.Context) (common.Address, *types.TransactionOutcome, error) {
	logger := log.New("op", uuid.NewString(), "method", types.MethodDeployMachineSmartAccount)

	machineOwner := s.machineOwnerAddress()
	n, err := s.nextNonce(ctx, logger)
	if err != nil {
		return common.Address{}, nil, err
	}
	sig, err := s.ownerSign(logger, eip712.DeployMachineSmartAccount, eip712.DeployMessage(machineOwner, n))
	if err != nil {
		s.releaseNonce(ctx, logger, n, err)
		return common.Address{}, nil, err
	}
	outcome, err := s.relay.Submit(withLogger(ctx, logger), &types.CallEnvelope{
		Method:    types.MethodDeployMachineSmartAccount,
		Machine:   machineOwner,
		Nonce:     n,
		Signature: sig,
	})
	if err != nil {
		s.releaseNonce(ctx, logger, n, err)
		return common.Address{}, nil, err
	}
	addr, err := DeployedAddress(outcome.Logs())
	if err != nil {
		logger.Error("Deployment receipt has no account address", "tx", outcome.TxHash, "err", err)
		return common.Address{}, outcome, err
	}
	outcome.DeployedAddress = addr
	logger.Info("Machine smart account deployed", "address", addr, "machineOwner", machineOwner, "tx", outcome.TxHash)
	return addr, outcome, nil
}

// ExecuteTransaction relays a call to target authorized by the owner alone.
func (s *Station) ExecuteTransaction(ctx context.Context, target common.Address, data []byte) (*types.TransactionOutcome, error) {
	logger := log.New("op", uuid.NewString(), "method", types.MethodExecuteTransaction)
	return s.executeTransaction(ctx, logger, target, data)
}

func (s *Station) executeTransaction(ctx context.Context, logger log.Logger, target common.Address, data []byte) (*types.TransactionOutcome, error) {
	n, err := s.nextNonce(ctx, logger)
	if err != nil {
		return nil, err
	}
	sig, err := s.ownerSign(logger, eip712.ExecuteTransaction, eip712.ExecuteMessage(target, data, n))
	if err != nil {
		s.releaseNonce(ctx, logger, n, err)
		return nil, err
	}
	outcome, err := s.relay.Submit(withLogger(ctx, logger), &types.CallEnvelope{
		Method:    types.MethodExecuteTransaction,
		Target:    target,
		Data:      data,
		Nonce:     n,
		Signature: sig,
	})
	if err != nil {
		s.releaseNonce(ctx, logger, n, err)
		return nil, err
	}
	logger.Info("Transaction executed", "target", target, "tx", outcome.TxHash)
	return outcome, nil
}

// ExecuteMachineTransaction relays a call from the machine smart account,
// authorized by both the machine owner and the owner under the same nonce.
func (s *Station) ExecuteMachineTransaction(ctx context.Context, machine, target common.Address, data []byte) (*types.TransactionOutcome, error) {
	logger := log.New("op", uuid.NewString(), "method", types.MethodExecuteMachineTransaction)

	if s.machineOwner == nil {
		logger.Error("Dual-signer call on single-signer station", "machine", machine)
		return nil, errNoMachineOwner
	}
	n, err := s.nextNonce(ctx, logger)
	if err != nil {
		return nil, err
	}
	machineSig, err := s.machineOwner.SignTypedData(eip712.MachineDomain(s.chainID, machine), eip712.Execute, eip712.ExecuteMessage(target, data, n))
	if err != nil {
		logger.Error("Machine owner signing failed", "err", err)
		err = fmt.Errorf("%w: %w", ErrSignature, err)
		s.releaseNonce(ctx, logger, n, err)
		return nil, err
	}
	ownerSig, err := s.ownerSign(logger, eip712.ExecuteMachineTransaction, eip712.MachineExecuteMessage(machine, target, data, n))
	if err != nil {
		s.releaseNonce(ctx, logger, n, err)
		return nil, err
	}
	outcome, err := s.relay.Submit(withLogger(ctx, logger), &types.CallEnvelope{
		Method:                types.MethodExecuteMachineTransaction,
		Machine:               machine,
		Target:                target,
		Data:                  data,
		Nonce:                 n,
		Signature:             ownerSig,
		MachineOwnerSignature: machineSig,
	})
	if err != nil {
		s.releaseNonce(ctx, logger, n, err)
		return nil, err
	}
	logger.Info("Machine transaction executed", "machine", machine, "target", target, "tx", outcome.TxHash)
	return outcome, nil
}

// AddAttributeParams describes a DID attribute registration.
type AddAttributeParams struct {
	// DIDAddress is kept as given; it names the attribute and is sent to
	// the sign service verbatim.
	DIDAddress string
	Email      string
	Tag        string

	// DocumentHash overrides the DIDHasher when non-empty.
	DocumentHash string
}

// AddAttribute registers a DID attribute through the identity precompile.
func (s *Station) AddAttribute(ctx context.Context, p AddAttributeParams) (*types.TransactionOutcome, error) {
	logger := log.New("op", uuid.NewString(), "flow", "addAttribute", "did", p.DIDAddress)

	if !common.IsHexAddress(p.DIDAddress) {
		logger.Error("Malformed DID address")
		return nil, fmt.Errorf("%w: invalid DID address %q", ErrEncoding, p.DIDAddress)
	}
	did := common.HexToAddress(p.DIDAddress)

	emailSig, err := s.service.Sign(ctx, offchain.SignRequest{
		Email:      p.Email,
		DIDAddress: p.DIDAddress,
		Tag:        p.Tag,
	})
	if err != nil {
		logger.Error("Email signature request failed", "err", err)
		return nil, fmt.Errorf("%w: sign: %w", ErrExternalService, err)
	}

	value := []byte(p.DocumentHash)
	if p.DocumentHash == "" {
		value, err = s.hasher.DocumentHash(ctx, DIDDocumentInput{
			MachineOwner:   s.machineOwnerAddress(),
			DIDAddress:     did,
			EmailSignature: emailSig,
		})
		if err != nil {
			logger.Error("DID document hash unavailable", "err", err)
			if errors.Is(err, ErrDIDHashUnimplemented) {
				return nil, fmt.Errorf("%w: %w", ErrNotSupported, err)
			}
			return nil, err
		}
	}

	name := "did:peaq:" + p.DIDAddress + "#test"
	data, err := calldata.AddAttribute(did, []byte(name), value, 0)
	if err != nil {
		logger.Error("Failed to encode addAttribute", "err", err)
		return nil, fmt.Errorf("%w: %w", ErrEncoding, err)
	}
	return s.executeTransaction(ctx, logger, calldata.IdentityPrecompile, data)
}

// StoreDataParams describes an item record.
type StoreDataParams struct {
	Email     string
	Tag       string
	Tags      []string
	CustomTag string
	Item      string // Defaults to DefaultItem
}

// ItemType is the label an item is registered under.
func ItemType(customTag string, at time.Time) string {
	return fmt.Sprintf("%s-%d", customTag, at.UnixMilli())
}

// StoreData registers an item type with the service and appends the item
// through the storage precompile.
func (s *Station) StoreData(ctx context.Context, p StoreDataParams) (*types.TransactionOutcome, error) {
	itemType := ItemType(p.CustomTag, s.now())
	logger := log.New("op", uuid.NewString(), "flow", "storeData", "itemType", itemType)

	err := s.service.StoreData(ctx, offchain.StoreRequest{
		ItemType: itemType,
		Email:    p.Email,
		Tag:      p.Tag,
		Tags:     p.Tags,
	})
	if err != nil {
		logger.Error("Item registration failed", "err", err)
		return nil, fmt.Errorf("%w: store: %w", ErrExternalService, err)
	}

	item := p.Item
	if item == "" {
		item = DefaultItem
	}
	data, err := calldata.AddItem([]byte(itemType), []byte(item))
	if err != nil {
		logger.Error("Failed to encode addItem", "err", err)
		return nil, fmt.Errorf("%w: %w", ErrEncoding, err)
	}
	return s.executeTransaction(ctx, logger, calldata.StoragePrecompile, data)
}
