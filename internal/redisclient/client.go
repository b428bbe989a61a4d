package redisclient

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"producer-dashboard/internal/models"

	"github.com/go-redis/redis/v8"
)

//go:embed scripts/consume_nonce.lua
var consumeNonceScript string

//go:embed scripts/release_lock.lua
var releaseLockScript string

type Client struct {
	rdb                *redis.Client
	consumeNonceScript *redis.Script
	releaseLockScript  *redis.Script
}

// NewClient creates a new Redis client with Lua scripts loaded
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{
		rdb:                rdb,
		consumeNonceScript: redis.NewScript(consumeNonceScript),
		releaseLockScript:  redis.NewScript(releaseLockScript),
	}, nil
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping checks the connection
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// ProfileKey is the cache key of a producer profile
func ProfileKey(address string) string {
	return fmt.Sprintf("producer:%s", strings.ToLower(address))
}

// ProductsKey is the cache key of a producer's product list
func ProductsKey(address string) string {
	return fmt.Sprintf("products:%s", strings.ToLower(address))
}

// GetJSON decodes the value at key into dest. It reports false when the key is absent.
func (c *Client) GetJSON(ctx context.Context, key string, dest interface{}) (bool, error) {
	raw, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis get %s failed: %w", key, err)
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return false, fmt.Errorf("failed to decode cached %s: %w", key, err)
	}
	return true, nil
}

// SetJSON stores value at key as JSON. A zero ttl keeps the key until it is deleted.
func (c *Client) SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	return c.rdb.Set(ctx, key, raw, ttl).Err()
}

// Delete removes keys
func (c *Client) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return c.rdb.Del(ctx, keys...).Err()
}

// SetNonce stores a sign-in nonce for address
func (c *Client) SetNonce(ctx context.Context, address, nonce string, ttl time.Duration) error {
	return c.rdb.Set(ctx, nonceKey(address), nonce, ttl).Err()
}

// ConsumeNonce atomically reads and deletes the nonce for address.
// It returns "" when no nonce is outstanding.
func (c *Client) ConsumeNonce(ctx context.Context, address string) (string, error) {
	result, err := c.consumeNonceScript.Run(ctx, c.rdb, []string{nonceKey(address)}).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("consume nonce script failed: %w", err)
	}

	nonce, ok := result.(string)
	if !ok {
		return "", fmt.Errorf("unexpected script result type")
	}
	return nonce, nil
}

// SaveSession stores a wallet session
func (c *Client) SaveSession(ctx context.Context, session *models.Session, ttl time.Duration) error {
	return c.SetJSON(ctx, sessionKey(session.ID), session, ttl)
}

// GetSession loads a wallet session, nil when unknown or expired
func (c *Client) GetSession(ctx context.Context, id string) (*models.Session, error) {
	var session models.Session
	found, err := c.GetJSON(ctx, sessionKey(id), &session)
	if err != nil || !found {
		return nil, err
	}
	return &session, nil
}

// DeleteSession removes a wallet session and its feedback state
func (c *Client) DeleteSession(ctx context.Context, id string) error {
	return c.Delete(ctx, sessionKey(id), feedbackKey(id))
}

// SetFeedback stores the feedback state of a session
func (c *Client) SetFeedback(ctx context.Context, sessionID string, state models.FeedbackState, ttl time.Duration) error {
	return c.SetJSON(ctx, feedbackKey(sessionID), state, ttl)
}

// GetFeedback loads the feedback state of a session, idle when none is stored
func (c *Client) GetFeedback(ctx context.Context, sessionID string) (models.FeedbackState, error) {
	var state models.FeedbackState
	found, err := c.GetJSON(ctx, feedbackKey(sessionID), &state)
	if err != nil {
		return models.FeedbackState{}, err
	}
	if !found {
		return models.FeedbackState{Status: models.FeedbackIdle}, nil
	}
	return state, nil
}

// ClaimIdempotencyKey stores key if absent and reports whether this caller claimed it
func (c *Client) ClaimIdempotencyKey(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, fmt.Sprintf("idempotency:%s", key), "1", ttl).Result()
}

// ReleaseIdempotencyKey frees key so the same request can be made again
func (c *Client) ReleaseIdempotencyKey(ctx context.Context, key string) error {
	return c.rdb.Del(ctx, fmt.Sprintf("idempotency:%s", key)).Err()
}

// AcquireLock acquires a distributed lock owned by token
func (c *Client) AcquireLock(ctx context.Context, lockKey, token string, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, fmt.Sprintf("lock:%s", lockKey), token, ttl).Result()
}

// ReleaseLock releases a distributed lock if token still owns it
func (c *Client) ReleaseLock(ctx context.Context, lockKey, token string) error {
	_, err := c.releaseLockScript.Run(ctx, c.rdb, []string{fmt.Sprintf("lock:%s", lockKey)}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release lock script failed: %w", err)
	}
	return nil
}

func nonceKey(address string) string {
	return fmt.Sprintf("nonce:%s", strings.ToLower(address))
}

func sessionKey(id string) string {
	return fmt.Sprintf("session:%s", id)
}

func feedbackKey(sessionID string) string {
	return fmt.Sprintf("feedback:%s", sessionID)
}
