// Copyright 2025 The go-obsidian Authors
// This file is part of the go-obsidian library.

package nonce

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/HITEYY/obsidian-station/core/rawdb"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethdb"
	"github.com/ethereum/go-ethereum/ethdb/leveldb"
	"github.com/redis/go-redis/v9"
)

// Registry records nonces already handed out per signer / contract pair.
type Registry interface {
	// Reserve marks the nonce as used and reports whether it was free.
	Reserve(ctx context.Context, signer, contract common.Address, nonce *big.Int) (bool, error)
}

// Releaser is implemented by registries that can hand a reserved nonce back,
// used when a request never reached the chain.
type Releaser interface {
	Release(ctx context.Context, signer, contract common.Address, nonce *big.Int) error
}

type reservation struct {
	signer   common.Address
	contract common.Address
	nonce    string
}

// MemoryRegistry is a process-local Registry.
type MemoryRegistry struct {
	mu   sync.Mutex
	used map[reservation]struct{}
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{used: make(map[reservation]struct{})}
}

func (r *MemoryRegistry) Reserve(ctx context.Context, signer, contract common.Address, nonce *big.Int) (bool, error) {
	key := reservation{signer: signer, contract: contract, nonce: nonce.String()}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.used[key]; ok {
		return false, nil
	}
	r.used[key] = struct{}{}
	return true, nil
}

func (r *MemoryRegistry) Release(ctx context.Context, signer, contract common.Address, nonce *big.Int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.used, reservation{signer: signer, contract: contract, nonce: nonce.String()})
	return nil
}

// Len returns the number of reserved nonces.
func (r *MemoryRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.used)
}

// RedisRegistry shares reservations between relayer processes.
type RedisRegistry struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
}

// NewRedisRegistry creates a registry on client. A zero ttl keeps
// reservations forever.
func NewRedisRegistry(client redis.Cmdable, ttl time.Duration) *RedisRegistry {
	return &RedisRegistry{client: client, prefix: "station:nonce", ttl: ttl}
}

// DialRedisRegistry parses a redis:// URL and connects a registry to it.
func DialRedisRegistry(url string, ttl time.Duration) (*RedisRegistry, *redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	return NewRedisRegistry(client, ttl), client, nil
}

func (r *RedisRegistry) key(signer, contract common.Address, nonce *big.Int) string {
	return fmt.Sprintf("%s:%s:%s:%s", r.prefix, contract.Hex(), signer.Hex(), nonce.Text(16))
}

func (r *RedisRegistry) Reserve(ctx context.Context, signer, contract common.Address, nonce *big.Int) (bool, error) {
	return r.client.SetNX(ctx, r.key(signer, contract, nonce), 1, r.ttl).Result()
}

func (r *RedisRegistry) Release(ctx context.Context, signer, contract common.Address, nonce *big.Int) error {
	return r.client.Del(ctx, r.key(signer, contract, nonce)).Err()
}

// KeyValueStore is the database a DBRegistry persists reservations in.
type KeyValueStore interface {
	ethdb.KeyValueReader
	ethdb.KeyValueWriter
	ethdb.Iteratee
}

// DBRegistry keeps reservations in a local key/value database so they
// survive relayer restarts. Reservations are only coordinated within one
// process.
type DBRegistry struct {
	mu    sync.Mutex
	db    KeyValueStore
	ttl   time.Duration
	now   func() time.Time
	close func() error
}

// NewDBRegistry creates a registry on db. A zero ttl keeps reservations
// forever.
func NewDBRegistry(db KeyValueStore, ttl time.Duration) *DBRegistry {
	return &DBRegistry{db: db, ttl: ttl, now: time.Now, close: func() error { return nil }}
}

// OpenDBRegistry opens (or creates) a LevelDB registry at path.
func OpenDBRegistry(path string, ttl time.Duration) (*DBRegistry, error) {
	db, err := leveldb.New(path, 16, 16, "station/nonce/", false)
	if err != nil {
		return nil, fmt.Errorf("open nonce database %s: %w", path, err)
	}
	r := NewDBRegistry(db, ttl)
	r.close = db.Close
	return r, nil
}

func (r *DBRegistry) Reserve(ctx context.Context, signer, contract common.Address, nonce *big.Int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := uint64(r.now().UnixMilli())
	at, ok, err := rawdb.ReadNonceReservation(r.db, contract, signer, nonce)
	if err != nil {
		return false, fmt.Errorf("read nonce reservation: %w", err)
	}
	if ok {
		if r.ttl == 0 || now < at+uint64(r.ttl.Milliseconds()) {
			return false, nil
		}
	}
	if err := rawdb.WriteNonceReservation(r.db, contract, signer, nonce, now); err != nil {
		return false, fmt.Errorf("store nonce reservation: %w", err)
	}
	return true, nil
}

func (r *DBRegistry) Release(ctx context.Context, signer, contract common.Address, nonce *big.Int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := rawdb.DeleteNonceReservation(r.db, contract, signer, nonce); err != nil {
		return fmt.Errorf("delete nonce reservation: %w", err)
	}
	return nil
}

// Reserved lists the live reservations of a signer / contract pair.
func (r *DBRegistry) Reserved(signer, contract common.Address) ([]*big.Int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var (
		out []*big.Int
		now = uint64(r.now().UnixMilli())
	)
	err := rawdb.IterateNonceReservations(r.db, contract, signer, func(nonce *big.Int, at uint64) bool {
		if r.ttl == 0 || now < at+uint64(r.ttl.Milliseconds()) {
			out = append(out, nonce)
		}
		return true
	})
	return out, err
}

// Close closes a database opened by OpenDBRegistry.
func (r *DBRegistry) Close() error {
	return r.close()
}
