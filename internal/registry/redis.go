package registry

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const maxTxRetries = 16

type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	TLS      bool
	// KeyPrefix namespaces the user:<id> and conn:<id> keys.
	KeyPrefix string
}

// Redis stores the forward index as a set at user:<id> and the reverse index
// as a string at conn:<id>. Writes run as MULTI transactions guarded by WATCH
// on the channel's reverse key.
type Redis struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisClient(opts RedisOptions) *redis.Client {
	options := &redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	}
	if opts.TLS {
		options.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return redis.NewClient(options)
}

func NewRedis(client redis.UniversalClient, keyPrefix string) *Redis {
	return &Redis{client: client, prefix: keyPrefix}
}

func (r *Redis) userKey(userID string) string {
	return r.prefix + "user:" + userID
}

func (r *Redis) connKey(channelID string) string {
	return r.prefix + "conn:" + channelID
}

func (r *Redis) Register(ctx context.Context, userID, channelID string) error {
	if userID == "" || channelID == "" {
		return ErrInvalidArgument
	}
	connKey := r.connKey(channelID)

	return r.watch(ctx, connKey, func(tx *redis.Tx) error {
		old, err := tx.Get(ctx, connKey).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if old != "" && old != userID {
				pipe.SRem(ctx, r.userKey(old), channelID)
			}
			pipe.SAdd(ctx, r.userKey(userID), channelID)
			pipe.Set(ctx, connKey, userID, 0)
			return nil
		})
		return err
	})
}

func (r *Redis) Unregister(ctx context.Context, channelID string) error {
	if channelID == "" {
		return nil
	}
	connKey := r.connKey(channelID)

	return r.watch(ctx, connKey, func(tx *redis.Tx) error {
		userID, err := tx.Get(ctx, connKey).Result()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.SRem(ctx, r.userKey(userID), channelID)
			pipe.Del(ctx, connKey)
			return nil
		})
		return err
	})
}

func (r *Redis) ActiveChannels(ctx context.Context, userID string) ([]string, error) {
	channels, err := r.client.SMembers(ctx, r.userKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("list channels for %s: %w", userID, err)
	}
	return channels, nil
}

func (r *Redis) watch(ctx context.Context, key string, fn func(*redis.Tx) error) error {
	for i := 0; i < maxTxRetries; i++ {
		err := r.client.Watch(ctx, fn, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("update %s: %w", key, redis.TxFailedErr)
}
