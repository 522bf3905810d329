package blockchain

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/bubled33/supply-chain-tracker/pkg/logger"
	"github.com/bubled33/supply-chain-tracker/pkg/redis"
)

// NonceManager allocates transaction nonces for a sender address.
//
// NextNonce must hand out strictly increasing values across every
// process sharing the same backing store. SyncFromChain realigns the
// counter with the chain's pending nonce and returns that nonce.
type NonceManager interface {
	NextNonce(ctx context.Context, address string) (uint64, error)
	SyncFromChain(ctx context.Context, address string) (uint64, error)
}

// PendingNonceReader is the slice of the chain client the nonce
// manager needs for resync. *ethclient.Client satisfies it.
type PendingNonceReader interface {
	PendingNonceAtHex(ctx context.Context, address string) (uint64, error)
}

const noncePrefix = "blockchain:nonce:"

// RedisNonceManager keeps one INCR counter per (network, address) in
// Redis so concurrent submitters never reuse a nonce, and the same
// address on two networks never shares a counter.
//
// The counter stores the last nonce handed out, so INCR returns the
// next one to use. SyncFromChain sets it to pending-1, making the next
// NextNonce return exactly the chain's pending nonce. Call it once at
// startup; an unsynced counter starts at 0 and INCR would hand out 1.
type RedisNonceManager struct {
	client  *redis.Client
	chain   PendingNonceReader
	network string

	mu sync.Mutex
}

var _ NonceManager = (*RedisNonceManager)(nil)

// NewRedisNonceManager creates a nonce manager backed by Redis for the
// named network.
func NewRedisNonceManager(client *redis.Client, chain PendingNonceReader, network string) *RedisNonceManager {
	if network == "" {
		network = "default"
	}
	return &RedisNonceManager{client: client, chain: chain, network: network}
}

func (m *RedisNonceManager) key(address string) string {
	return noncePrefix + m.network + ":" + strings.ToLower(address)
}

// NextNonce atomically allocates the next nonce for the address.
func (m *RedisNonceManager) NextNonce(ctx context.Context, address string) (uint64, error) {
	next, err := m.client.Incr(ctx, m.key(address)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to allocate nonce for %s: %w", address, err)
	}
	return uint64(next), nil
}

// SyncFromChain resets the counter to the chain's pending nonce.
// Serialized so two concurrent resyncs cannot interleave their writes.
func (m *RedisNonceManager) SyncFromChain(ctx context.Context, address string) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pending, err := m.chain.PendingNonceAtHex(ctx, address)
	if err != nil {
		return 0, fmt.Errorf("failed to read pending nonce for %s: %w", address, err)
	}

	// Store pending-1 so the next INCR yields pending. Pending 0 means
	// a fresh account; -1 keeps the arithmetic right.
	if err := m.client.Set(ctx, m.key(address), int64(pending)-1, 0).Err(); err != nil {
		return 0, fmt.Errorf("failed to store synced nonce for %s: %w", address, err)
	}

	logger.Get().Info("nonce counter synced from chain",
		zap.String("network", m.network),
		zap.String("address", address),
		zap.Uint64("pending_nonce", pending))

	return pending, nil
}
