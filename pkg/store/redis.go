package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-training/cms-oauth/pkg/core"
	"github.com/redis/rueidis"
)

const (
	// Key prefix for Redis storage
	flowStatePrefix = "oauth_state:"
)

// RedisStore implements the core.Store interface using Redis via rueidis.
// Nonces are shared across every replica pointing at the same Redis.
type RedisStore struct {
	client rueidis.Client
}

// NewRedisStore creates a new instance of RedisStore with the provided rueidis client.
func NewRedisStore(client rueidis.Client) *RedisStore {
	return &RedisStore{
		client: client,
	}
}

// RedisOptions contains configuration for Redis connection.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisStoreFromOptions creates a new RedisStore with simplified options.
// Client-side caching is disabled: nonces are written and read once.
func NewRedisStoreFromOptions(opts RedisOptions) (*RedisStore, error) {
	return NewRedisStoreFromClientOption(rueidis.ClientOption{
		InitAddress:  []string{opts.Addr},
		Password:     opts.Password,
		SelectDB:     opts.DB,
		DisableCache: true,
	})
}

// NewRedisStoreFromClientOption creates a new RedisStore with full rueidis client options.
func NewRedisStoreFromClientOption(opts rueidis.ClientOption) (*RedisStore, error) {
	client, err := rueidis.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create redis client: %w", err)
	}
	return NewRedisStore(client), nil
}

// Close closes the Redis client connection.
func (r *RedisStore) Close() {
	r.client.Close()
}

// Ping checks that Redis is reachable.
func (r *RedisStore) Ping(ctx context.Context) error {
	if err := r.client.Do(ctx, r.client.B().Ping().Build()).Error(); err != nil {
		return fmt.Errorf("failed to ping redis: %w", err)
	}
	return nil
}

// SaveFlowState stores a nonce in Redis with a TTL derived from its expiry.
// SET NX guarantees a nonce is never overwritten.
func (r *RedisStore) SaveFlowState(ctx context.Context, state *core.FlowState) error {
	if state == nil {
		return ErrNilFlowState
	}
	if state.Nonce == "" {
		return ErrEmptyNonce
	}

	ttl := time.Until(time.Unix(state.ExpiresAt, 0))
	if ttl < time.Second {
		return ErrStateExpired
	}

	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal flow state: %w", err)
	}

	key := flowStatePrefix + state.Nonce
	cmd := r.client.B().Set().Key(key).Value(string(data)).Nx().ExSeconds(int64(ttl.Seconds())).Build()
	if err := r.client.Do(ctx, cmd).Error(); err != nil {
		if rueidis.IsRedisNil(err) {
			return ErrDuplicateNonce
		}
		return fmt.Errorf("failed to save flow state to redis: %w", err)
	}

	return nil
}

// ConsumeFlowState fetches and deletes a nonce in one GETDEL round trip.
// It returns ErrStateNotFound if the nonce does not exist or has expired.
func (r *RedisStore) ConsumeFlowState(ctx context.Context, nonce string) (*core.FlowState, error) {
	if nonce == "" {
		return nil, ErrEmptyNonce
	}

	key := flowStatePrefix + nonce
	cmd := r.client.B().Getdel().Key(key).Build()
	result, err := r.client.Do(ctx, cmd).ToString()
	if err != nil {
		if rueidis.IsRedisNil(err) {
			return nil, ErrStateNotFound
		}
		return nil, fmt.Errorf("failed to consume flow state from redis: %w", err)
	}

	var state core.FlowState
	if err := json.Unmarshal([]byte(result), &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal flow state: %w", err)
	}

	// Redis TTL has second granularity; re-check the recorded expiry.
	if state.Expired(time.Now()) {
		return nil, ErrStateNotFound
	}

	return &state, nil
}
