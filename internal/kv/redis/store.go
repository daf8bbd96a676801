// Package redis implements kv.Store on Redis.
//
// Documents are plain string keys holding JSON, with one Set per document
// type for enumeration. Counters are integer keys. Leases are separate keys
// holding the owner token, set with NX and a millisecond expiry; renew and
// release compare the token in a Lua script so a holder can never touch a
// lease it no longer owns.
//
// Usage:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	s := redisstore.New(client)
package redis

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	goredis "github.com/redis/go-redis/v9"

	"github.com/SirClappington/starjobs/internal/kv"
)

var _ kv.Store = (*Store)(nil)

const keyPrefix = "starjobs:"

func docKey(key string) string     { return keyPrefix + "doc:" + key }
func typeIndexKey(t string) string { return keyPrefix + "type:" + t }
func counterKey(key string) string { return keyPrefix + "counter:" + key }
func leaseKey(key string) string   { return keyPrefix + "lease:" + key }

var (
	incrementIfExists = goredis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
	return redis.call("INCRBY", KEYS[1], ARGV[1])
end
return false`)

	renewIfOwner = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

	releaseIfOwner = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)
)

// Store is a Redis-backed kv.Store. The caller owns the client lifecycle.
type Store struct {
	client goredis.UniversalClient
}

// New wraps an existing client.
func New(client goredis.UniversalClient) *Store {
	return &Store{client: client}
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := s.client.Get(ctx, docKey(key)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, kv.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "redis get %s", key)
	}
	return b, nil
}

func (s *Store) Insert(ctx context.Context, doc kv.Document) error {
	pipe := s.client.TxPipeline()
	set := pipe.SetNX(ctx, docKey(doc.Key), doc.Value, 0)
	pipe.SAdd(ctx, typeIndexKey(doc.Type), doc.Key)
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrapf(err, "redis insert %s", doc.Key)
	}
	if !set.Val() {
		return kv.ErrAlreadyExists
	}
	return nil
}

func (s *Store) Replace(ctx context.Context, doc kv.Document, ttl time.Duration) error {
	args := goredis.SetArgs{Mode: "XX"}
	if ttl > 0 {
		args.TTL = ttl
	}
	err := s.client.SetArgs(ctx, docKey(doc.Key), doc.Value, args).Err()
	if errors.Is(err, goredis.Nil) {
		return kv.ErrNotFound
	}
	if err != nil {
		return errors.Wrapf(err, "redis replace %s", doc.Key)
	}
	return nil
}

func (s *Store) Remove(ctx context.Context, key string) error {
	n, err := s.client.Del(ctx, docKey(key)).Result()
	if err != nil {
		return errors.Wrapf(err, "redis remove %s", key)
	}
	if n == 0 {
		return kv.ErrNotFound
	}
	return nil
}

// Query reads the type index and fetches members with MGET. Members whose
// document has expired or been removed are pruned from the index.
func (s *Store) Query(ctx context.Context, docType string) ([]kv.Document, error) {
	idx := typeIndexKey(docType)
	keys, err := s.client.SMembers(ctx, idx).Result()
	if err != nil {
		return nil, errors.Wrapf(err, "redis query %s", docType)
	}
	if len(keys) == 0 {
		return nil, nil
	}

	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = docKey(k)
	}
	vals, err := s.client.MGet(ctx, full...).Result()
	if err != nil {
		return nil, errors.Wrapf(err, "redis query %s", docType)
	}

	docs := make([]kv.Document, 0, len(vals))
	var stale []any
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			stale = append(stale, keys[i])
			continue
		}
		docs = append(docs, kv.Document{Key: keys[i], Type: docType, Value: []byte(str)})
	}
	if len(stale) > 0 {
		// Best effort: a failed prune only costs a wasted MGET next time.
		_ = s.client.SRem(ctx, idx, stale...).Err()
	}
	return docs, nil
}

func (s *Store) InitCounter(ctx context.Context, key string, initial int64) error {
	ok, err := s.client.SetNX(ctx, counterKey(key), initial, 0).Result()
	if err != nil {
		return errors.Wrapf(err, "redis init counter %s", key)
	}
	if !ok {
		return kv.ErrAlreadyExists
	}
	return nil
}

func (s *Store) Increment(ctx context.Context, key string, delta int64) (int64, error) {
	v, err := incrementIfExists.Run(ctx, s.client, []string{counterKey(key)}, delta).Int64()
	if errors.Is(err, goredis.Nil) {
		return 0, kv.ErrNotFound
	}
	if err != nil {
		return 0, errors.Wrapf(err, "redis increment %s", key)
	}
	return v, nil
}

func (s *Store) AcquireLease(ctx context.Context, key string, d time.Duration) (kv.Lease, error) {
	token := uuid.NewString()
	ok, err := s.client.SetNX(ctx, leaseKey(key), token, d).Result()
	if err != nil {
		return nil, errors.Wrapf(err, "redis acquire lease %s", key)
	}
	if !ok {
		return nil, kv.ErrLeaseUnavailable
	}
	return &lease{client: s.client, key: key, token: token}, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close is a no-op; the caller owns the client.
func (s *Store) Close() error { return nil }

type lease struct {
	client goredis.UniversalClient
	key    string
	token  string
}

func (l *lease) Key() string { return l.key }

func (l *lease) Renew(ctx context.Context, d time.Duration) error {
	n, err := renewIfOwner.Run(ctx, l.client, []string{leaseKey(l.key)}, l.token, d.Milliseconds()).Int64()
	if err != nil {
		return errors.Wrapf(err, "redis renew lease %s", l.key)
	}
	if n == 0 {
		return kv.ErrLeaseLost
	}
	return nil
}

func (l *lease) Release(ctx context.Context) error {
	n, err := releaseIfOwner.Run(ctx, l.client, []string{leaseKey(l.key)}, l.token).Int64()
	if err != nil {
		return errors.Wrapf(err, "redis release lease %s", l.key)
	}
	if n == 0 {
		return kv.ErrLeaseLost
	}
	return nil
}
