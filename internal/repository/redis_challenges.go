package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"secretshare-backend/internal/models"

	"github.com/redis/go-redis/v9"
)

const keyChallenge = "challenge:%s"

// RedisChallengeStore keeps challenges in Redis, one key per public address.
// Keys live until the challenge expires, so stale ones clean themselves up.
type RedisChallengeStore struct {
	cli *redis.Client
}

// NewRedisChallengeStore connects to the Redis instance at url
func NewRedisChallengeStore(ctx context.Context, url string) (*RedisChallengeStore, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	cli := redis.NewClient(opt)
	if err := cli.Ping(ctx).Err(); err != nil {
		cli.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &RedisChallengeStore{cli: cli}, nil
}

// NewRedisChallengeStoreFromClient wraps an existing client
func NewRedisChallengeStoreFromClient(cli *redis.Client) *RedisChallengeStore {
	return &RedisChallengeStore{cli: cli}
}

func (r *RedisChallengeStore) Close() error {
	return r.cli.Close()
}

func (r *RedisChallengeStore) UpsertChallenge(ctx context.Context, c *models.Challenge) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal challenge: %w", err)
	}

	ttl := time.Until(c.ExpiresAt)
	if ttl < time.Second {
		ttl = time.Second
	}
	if err := r.cli.Set(ctx, fmt.Sprintf(keyChallenge, c.PublicKey), data, ttl).Err(); err != nil {
		return fmt.Errorf("save challenge: %w", err)
	}
	return nil
}

func (r *RedisChallengeStore) GetChallenge(ctx context.Context, publicKey string) (*models.Challenge, error) {
	return r.get(ctx, r.cli, fmt.Sprintf(keyChallenge, publicKey))
}

func (r *RedisChallengeStore) get(ctx context.Context, cmd redis.Cmdable, key string) (*models.Challenge, error) {
	data, err := cmd.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get challenge: %w", err)
	}

	var c models.Challenge
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("unmarshal challenge: %w", err)
	}
	return &c, nil
}

// ExpireChallenge rewrites the stored challenge with an epoch expiry inside
// a WATCH transaction, so a concurrent upsert is never overwritten.
func (r *RedisChallengeStore) ExpireChallenge(ctx context.Context, publicKey string) error {
	key := fmt.Sprintf(keyChallenge, publicKey)
	return r.cli.Watch(ctx, func(tx *redis.Tx) error {
		c, err := r.get(ctx, tx, key)
		if err != nil {
			return err
		}
		c.ExpiresAt = time.Unix(0, 0).UTC()
		data, err := json.Marshal(c)
		if err != nil {
			return fmt.Errorf("marshal challenge: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.SetArgs(ctx, key, data, redis.SetArgs{KeepTTL: true})
			return nil
		})
		return err
	}, key)
}
