// Copyright 2025 The go-obsidian Authors
// This file is part of the go-obsidian library.
//
// Relay submits signed call envelopes to the MachineStationFactory from the
// sponsoring owner account and interprets the outcome.

package station

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/HITEYY/obsidian-station/core/types"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
)

// DefaultPollInterval is how often the relay asks for a pending receipt.
const DefaultPollInterval = time.Second

// Backend is the chain access needed by the relay. *ethclient.Client
// implements it.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*ethtypes.Header, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *ethtypes.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*ethtypes.Receipt, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

type loggerKey struct{}

// withLogger attaches an operation logger to ctx for the relay to use.
func withLogger(ctx context.Context, logger log.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

func loggerFrom(ctx context.Context) log.Logger {
	if l, ok := ctx.Value(loggerKey{}).(log.Logger); ok {
		return l
	}
	return log.Root()
}

// Relay sends envelopes through the factory. Building and broadcasting are
// serialised so concurrent submissions read distinct pending nonces of the
// owner account; separate relays sharing one owner key are not coordinated.
type Relay struct {
	backend      Backend
	chainID      *big.Int
	factory      common.Address
	sponsor      *Sponsor
	decoder      *ErrorDecoder
	metrics      *Metrics
	pollInterval time.Duration

	sendMu sync.Mutex
}

// NewRelay creates a relay sending from the sponsor to factory.
func NewRelay(backend Backend, chainID *big.Int, factory common.Address, sponsor *Sponsor, decoder *ErrorDecoder) *Relay {
	return &Relay{
		backend:      backend,
		chainID:      new(big.Int).Set(chainID),
		factory:      factory,
		sponsor:      sponsor,
		decoder:      decoder,
		pollInterval: DefaultPollInterval,
	}
}

// Factory returns the factory address calls are sent to.
func (r *Relay) Factory() common.Address {
	return r.factory
}

// Pack encodes the factory call carrying env.
func (r *Relay) Pack(env *types.CallEnvelope) ([]byte, error) {
	input, err := packEnvelope(env)
	if err != nil {
		return nil, fmt.Errorf("%w: pack %s: %w", ErrEncoding, env.Method, err)
	}
	return input, nil
}

// Submit relays env and blocks until its transaction is mined or ctx ends.
func (r *Relay) Submit(ctx context.Context, env *types.CallEnvelope) (*types.TransactionOutcome, error) {
	env = env.Copy()
	envHash := env.Hash()
	logger := loggerFrom(ctx)
	logger.Debug("Relaying envelope", "method", env.Method, "envelope", envHash, "dual", env.IsDual())

	if err := env.Validate(); err != nil {
		if errors.Is(err, types.ErrUnknownMethod) {
			err = fmt.Errorf("%w: %w", ErrEncoding, err)
		} else {
			err = fmt.Errorf("%w: %w", ErrSignature, err)
		}
		r.fail(logger, env, envHash, common.Hash{}, err)
		return nil, err
	}
	input, err := r.Pack(env)
	if err != nil {
		r.fail(logger, env, envHash, common.Hash{}, err)
		return nil, err
	}

	tx, err := r.send(ctx, logger, env, input)
	if err != nil {
		var txHash common.Hash
		if tx != nil {
			txHash = tx.Hash()
		}
		r.fail(logger, env, envHash, txHash, err)
		return nil, err
	}
	logger.Info("Submitted relayed transaction", "method", env.Method, "envelope", envHash, "tx", tx.Hash(), "nonce", tx.Nonce(), "gas", tx.Gas())

	sent := time.Now()
	receipt, err := r.waitMined(ctx, logger, tx.Hash())
	if err != nil {
		r.fail(logger, env, envHash, tx.Hash(), err)
		return nil, err
	}
	r.sponsor.record(receipt)

	if receipt.Status != ethtypes.ReceiptStatusSuccessful {
		err := r.replayRevert(ctx, env, input, receipt)
		r.fail(logger, env, envHash, tx.Hash(), err)
		return nil, err
	}
	r.metrics.observe(env.Method, resultConfirmed)
	r.metrics.confirmed(env.Method, sent)
	logger.Info("Relayed transaction confirmed", "method", env.Method, "tx", tx.Hash(), "block", receipt.BlockNumber, "gasUsed", receipt.GasUsed)

	return &types.TransactionOutcome{
		Envelope: envHash,
		TxHash:   tx.Hash(),
		Receipt:  receipt,
	}, nil
}

// send builds and broadcasts the owner transaction. The signed transaction
// is returned alongside a broadcast error.
func (r *Relay) send(ctx context.Context, logger log.Logger, env *types.CallEnvelope, input []byte) (*ethtypes.Transaction, error) {
	r.sendMu.Lock()
	defer r.sendMu.Unlock()

	tx, err := r.buildTx(ctx, env, input)
	if err != nil {
		return nil, err
	}
	if err := r.backend.SendTransaction(ctx, tx); err != nil {
		return tx, r.classify(logger, env, common.Hash{}, err)
	}
	return tx, nil
}

// buildTx estimates, prices and signs the owner transaction.
func (r *Relay) buildTx(ctx context.Context, env *types.CallEnvelope, input []byte) (*ethtypes.Transaction, error) {
	from := r.sponsor.Address()
	msg := ethereum.CallMsg{From: from, To: &r.factory, Data: input}

	gas, err := r.backend.EstimateGas(ctx, msg)
	if err != nil {
		return nil, r.classify(loggerFrom(ctx), env, common.Hash{}, err)
	}
	nonce, err := r.backend.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, fmt.Errorf("%w: pending nonce: %w", ErrNetwork, err)
	}
	head, err := r.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: latest header: %w", ErrNetwork, err)
	}

	var txdata ethtypes.TxData
	if head.BaseFee != nil {
		tip, err := r.backend.SuggestGasTipCap(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: gas tip: %w", ErrNetwork, err)
		}
		feeCap := new(big.Int).Add(tip, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
		txdata = &ethtypes.DynamicFeeTx{
			ChainID:   r.chainID,
			Nonce:     nonce,
			GasTipCap: tip,
			GasFeeCap: feeCap,
			Gas:       gas,
			To:        &r.factory,
			Data:      input,
		}
	} else {
		price, err := r.backend.SuggestGasPrice(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: gas price: %w", ErrNetwork, err)
		}
		txdata = &ethtypes.LegacyTx{
			Nonce:    nonce,
			GasPrice: price,
			Gas:      gas,
			To:       &r.factory,
			Data:     input,
		}
	}
	tx, err := ethtypes.SignNewTx(r.sponsor.key(), ethtypes.LatestSignerForChainID(r.chainID), txdata)
	if err != nil {
		return nil, fmt.Errorf("%w: sign transaction: %w", ErrSignature, err)
	}
	return tx, nil
}

// waitMined polls for the receipt of hash.
func (r *Relay) waitMined(ctx context.Context, logger log.Logger, hash common.Hash) (*ethtypes.Receipt, error) {
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := r.backend.TransactionReceipt(ctx, hash)
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			return nil, fmt.Errorf("%w: receipt %s: %w", ErrNetwork, hash.Hex(), err)
		}
		logger.Trace("Transaction not yet mined", "tx", hash)

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: waiting for %s: %w", ErrNetwork, hash.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}

// replayRevert re-executes a failed call at its block to recover the revert
// payload. The replay is best effort; its own failure leaves the error
// undecoded.
func (r *Relay) replayRevert(ctx context.Context, env *types.CallEnvelope, input []byte, receipt *ethtypes.Receipt) error {
	msg := ethereum.CallMsg{From: r.sponsor.Address(), To: &r.factory, Data: input}
	_, err := r.backend.CallContract(ctx, msg, receipt.BlockNumber)

	rerr := &RevertError{Method: env.Method, TxHash: receipt.TxHash}
	if err != nil {
		if data, ok := RevertData(err); ok {
			rerr.Data = data
		}
	}
	rerr.Reason = r.decoder.Decode(rerr.Data)
	return rerr
}

// classify turns a pre-mining RPC error into a RevertError or ErrNetwork.
func (r *Relay) classify(logger log.Logger, env *types.CallEnvelope, txHash common.Hash, err error) error {
	if !isRevert(err) {
		return fmt.Errorf("%w: %w", ErrNetwork, err)
	}
	rerr := &RevertError{Method: env.Method, TxHash: txHash, Err: err}
	if data, ok := RevertData(err); ok {
		rerr.Data = data
	}
	rerr.Reason = r.decoder.Decode(rerr.Data)
	if !rerr.Reason.Decoded && len(rerr.Data) > 0 {
		logger.Warn("Failed to decode revert data", "method", env.Method, "data", rerr.Reason)
	}
	return rerr
}

func (r *Relay) fail(logger log.Logger, env *types.CallEnvelope, envHash, txHash common.Hash, err error) {
	result := resultNetwork
	if errors.Is(err, ErrContractRevert) {
		result = resultReverted
	} else if errors.Is(err, ErrSignature) || errors.Is(err, ErrEncoding) {
		result = resultRejected
	}
	r.metrics.observe(env.Method, result)
	logger.Error("Transaction failed", "method", env.Method, "envelope", envHash, "tx", txHash, "err", err)
}
