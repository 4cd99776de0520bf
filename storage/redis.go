package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"headersmanager/logger"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

const maxTxRetries = 5

// RedisBackend keeps the synced area in one Redis hash. Every process sharing the namespace
// sees the same data, and change sets are published so other processes can reload.
type RedisBackend struct {
	client  *redis.Client
	key     string
	channel string
	reload  string
	quota   int64
	origin  string

	mu       sync.RWMutex
	watchers []ChangeFunc
}

type changeMessage struct {
	Origin  string  `json:"origin"`
	Changes Changes `json:"changes"`
}

// DialRedis connects and pings.
func DialRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}
	return client, nil
}

// NewRedisBackend stores data under "<namespace>:sync". quota <= 0 disables the quota check.
func NewRedisBackend(client *redis.Client, namespace string, quota int64) *RedisBackend {
	if namespace == "" {
		namespace = "headersmanager"
	}
	return &RedisBackend{
		client:  client,
		key:     namespace + ":sync",
		channel: namespace + ":changes",
		reload:  namespace + ":reloaded",
		quota:   quota,
		origin:  uuid.NewString(),
	}
}

func (r *RedisBackend) Area() Area { return AreaSync }

func (r *RedisBackend) Get(ctx context.Context, keys []string) (Items, error) {
	out := make(Items)
	if keys == nil {
		all, err := r.client.HGetAll(ctx, r.key).Result()
		if err != nil {
			return nil, fmt.Errorf("redis HGETALL %s: %w", r.key, err)
		}
		for k, v := range all {
			out[k] = json.RawMessage(v)
		}
		return out, nil
	}
	if len(keys) == 0 {
		return out, nil
	}
	vals, err := r.client.HMGet(ctx, r.key, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis HMGET %s: %w", r.key, err)
	}
	for i, v := range vals {
		if s, ok := v.(string); ok {
			out[keys[i]] = json.RawMessage(s)
		}
	}
	return out, nil
}

// watch runs fn in an optimistic WATCH/MULTI transaction, retrying on conflicts.
func (r *RedisBackend) watch(ctx context.Context, fn func(tx *redis.Tx) error) error {
	for i := 0; i < maxTxRetries; i++ {
		err := r.client.Watch(ctx, fn, r.key)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return fmt.Errorf("redis transaction on %s kept conflicting after %d attempts", r.key, maxTxRetries)
}

func (r *RedisBackend) Set(ctx context.Context, items Items) error {
	if len(items) == 0 {
		return nil
	}
	var changes Changes
	err := r.watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.HGetAll(ctx, r.key).Result()
		if err != nil {
			return err
		}
		prev := make(Items, len(current))
		var total int64
		for k, v := range current {
			prev[k] = json.RawMessage(v)
			if _, replaced := items[k]; !replaced {
				total += ItemSize(k, prev[k])
			}
		}
		for k, v := range items {
			total += ItemSize(k, v)
		}
		if r.quota > 0 && total > r.quota {
			return ErrQuotaExceeded
		}

		values := make(map[string]interface{}, len(items))
		for k, v := range items {
			values[k] = string(v)
		}
		if _, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, r.key, values)
			return nil
		}); err != nil {
			return err
		}
		changes = diff(prev, items)
		return nil
	})
	if errors.Is(err, ErrQuotaExceeded) {
		return err
	}
	if err != nil {
		return fmt.Errorf("redis set on %s: %w", r.key, err)
	}
	r.emit(ctx, changes)
	return nil
}

func (r *RedisBackend) Remove(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	changes := make(Changes)
	err := r.watch(ctx, func(tx *redis.Tx) error {
		vals, err := tx.HMGet(ctx, r.key, keys...).Result()
		if err != nil {
			return err
		}
		for k := range changes {
			delete(changes, k)
		}
		for i, v := range vals {
			if s, ok := v.(string); ok {
				changes[keys[i]] = Change{OldValue: json.RawMessage(s)}
			}
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HDel(ctx, r.key, keys...)
			return nil
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("redis remove on %s: %w", r.key, err)
	}
	r.emit(ctx, changes)
	return nil
}

func (r *RedisBackend) Clear(ctx context.Context) error {
	changes := make(Changes)
	err := r.watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.HGetAll(ctx, r.key).Result()
		if err != nil {
			return err
		}
		for k := range changes {
			delete(changes, k)
		}
		for k, v := range current {
			changes[k] = Change{OldValue: json.RawMessage(v)}
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, r.key)
			return nil
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("redis clear on %s: %w", r.key, err)
	}
	r.emit(ctx, changes)
	return nil
}

func (r *RedisBackend) BytesInUse(ctx context.Context) (int64, error) {
	all, err := r.client.HGetAll(ctx, r.key).Result()
	if err != nil {
		return 0, fmt.Errorf("redis HGETALL %s: %w", r.key, err)
	}
	var n int64
	for k, v := range all {
		n += int64(len(k) + len(v))
	}
	return n, nil
}

func (r *RedisBackend) Watch(fn ChangeFunc) {
	r.mu.Lock()
	r.watchers = append(r.watchers, fn)
	r.mu.Unlock()
}

func (r *RedisBackend) notifyLocal(changes Changes) {
	if len(changes) == 0 {
		return
	}
	r.mu.RLock()
	watchers := append([]ChangeFunc(nil), r.watchers...)
	r.mu.RUnlock()
	for _, fn := range watchers {
		fn(AreaSync, changes)
	}
}

// emit notifies local watchers and publishes the change set for other processes.
func (r *RedisBackend) emit(ctx context.Context, changes Changes) {
	if len(changes) == 0 {
		return
	}
	r.notifyLocal(changes)
	payload, err := json.Marshal(changeMessage{Origin: r.origin, Changes: changes})
	if err != nil {
		logger.Error("Redis backend: encoding change message: %v", err)
		return
	}
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		logger.WithComponent("redis").WithError(err).Warn("publishing change set failed")
	}
}

// Listen dispatches change sets published by other processes until ctx is done.
func (r *RedisBackend) Listen(ctx context.Context) error {
	log := logger.WithComponent("redis")
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribing to %s: %w", r.channel, err)
	}
	log.WithField("channel", r.channel).Info("listening for remote changes")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var cm changeMessage
			if err := json.Unmarshal([]byte(msg.Payload), &cm); err != nil {
				log.WithError(err).Warn("ignoring malformed change message")
				continue
			}
			if cm.Origin == r.origin {
				continue
			}
			log.WithField("keys", len(cm.Changes)).Debug("remote change received")
			r.notifyLocal(cm.Changes)
		}
	}
}

// Name identifies the backend as a reload consumer.
func (r *RedisBackend) Name() string { return "redis" }

// Notify announces a finished reload on "<namespace>:reloaded".
func (r *RedisBackend) Notify(ctx context.Context) error {
	return r.client.Publish(ctx, r.reload, time.Now().Unix()).Err()
}

// Close releases the client.
func (r *RedisBackend) Close() error {
	return r.client.Close()
}
