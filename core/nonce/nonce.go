// Copyright 2025 The go-obsidian Authors
// This file is part of the go-obsidian library.

package nonce

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// drawLimit is the exclusive upper bound of the random factor.
var drawLimit = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

var ErrNonceExhausted = errors.New("no unreserved nonce found")

// Source hands out nonces for a signer / verifying-contract pair.
type Source interface {
	Nonce(ctx context.Context, signer, contract common.Address) (*big.Int, error)
}

// Generator is the stateless timestamp * random nonce source.
type Generator struct {
	now  func() time.Time
	draw func() (*big.Int, error)
}

// NewGenerator creates a generator backed by the wall clock and crypto/rand.
func NewGenerator() *Generator {
	return &Generator{
		now:  time.Now,
		draw: func() (*big.Int, error) { return rand.Int(rand.Reader, drawLimit) },
	}
}

// WithClock returns a copy of the generator reading time from now.
func (g *Generator) WithClock(now func() time.Time) *Generator {
	cpy := *g
	cpy.now = now
	return &cpy
}

// Next returns currentTimeMillis * randomInteger(0, 10^18).
func (g *Generator) Next() (*big.Int, error) {
	r, err := g.draw()
	if err != nil {
		return nil, fmt.Errorf("nonce draw: %w", err)
	}
	if r.Sign() < 0 || r.Cmp(drawLimit) >= 0 {
		return nil, fmt.Errorf("nonce draw out of range: %s", r)
	}
	ms := g.now().UnixMilli()
	if ms < 0 {
		ms = 0
	}
	n := new(uint256.Int).Mul(uint256.NewInt(uint64(ms)), uint256.MustFromBig(r))
	return n.ToBig(), nil
}

// Nonce implements Source. The signer and contract are ignored.
func (g *Generator) Nonce(ctx context.Context, signer, contract common.Address) (*big.Int, error) {
	return g.Next()
}

// Guarded wraps a Source and reserves every handed out nonce in a Registry,
// redrawing when the pair already used the value.
type Guarded struct {
	src      Source
	reg      Registry
	attempts int
}

// NewGuarded creates a guarded source. attempts <= 0 defaults to 8.
func NewGuarded(src Source, reg Registry, attempts int) *Guarded {
	if attempts <= 0 {
		attempts = 8
	}
	return &Guarded{src: src, reg: reg, attempts: attempts}
}

// Nonce implements Source.
func (g *Guarded) Nonce(ctx context.Context, signer, contract common.Address) (*big.Int, error) {
	for i := 0; i < g.attempts; i++ {
		n, err := g.src.Nonce(ctx, signer, contract)
		if err != nil {
			return nil, err
		}
		ok, err := g.reg.Reserve(ctx, signer, contract, n)
		if err != nil {
			return nil, fmt.Errorf("reserve nonce: %w", err)
		}
		if ok {
			return n, nil
		}
	}
	return nil, fmt.Errorf("%w after %d attempts (signer %s, contract %s)", ErrNonceExhausted, g.attempts, signer, contract)
}

// Release hands n back to the registry if it supports releasing.
func (g *Guarded) Release(ctx context.Context, signer, contract common.Address, n *big.Int) error {
	if r, ok := g.reg.(Releaser); ok {
		return r.Release(ctx, signer, contract, n)
	}
	return nil
}
