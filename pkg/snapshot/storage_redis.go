package snapshot

import (
	"context"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
)

const DefaultKey = "vertex:scene"

// RedisStorage stores snapshots as JSON under a single key. Each Store moves the previous value to
// "<key>:backup" in the same transaction.
type RedisStorage struct {
	client *redis.Client
	key    string
}

var _ Storage = (*RedisStorage)(nil)

// NewRedisStorage connects to Redis and verifies the connection.
func NewRedisStorage(ctx context.Context, opts RedisStorageOptions) (*RedisStorage, error) {
	if err := opts.Validate(); err != nil {
		return nil, eris.Wrap(err, "invalid options passed")
	}
	if opts.Key == "" {
		opts.Key = DefaultKey
	}

	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, eris.Wrapf(err, "failed to connect to redis at %s", opts.Addr)
	}
	return &RedisStorage{client: client, key: opts.Key}, nil
}

func (r *RedisStorage) Store(ctx context.Context, snapshot *Snapshot) error {
	if snapshot == nil {
		return eris.New("snapshot cannot be nil")
	}
	data, err := json.Marshal(snapshot)
	if err != nil {
		return eris.Wrap(err, "failed to marshal snapshot")
	}

	// Fails with redis.TxFailedErr if another writer touches the key between WATCH and EXEC.
	err = r.client.Watch(ctx, func(tx *redis.Tx) error {
		prev, err := tx.Get(ctx, r.key).Bytes()
		if err != nil && !eris.Is(err, redis.Nil) {
			return eris.Wrap(err, "failed to read current snapshot")
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if prev != nil {
				pipe.Set(ctx, r.backupKey(), prev, 0)
			}
			pipe.Set(ctx, r.key, data, 0)
			return nil
		})
		return err
	}, r.key)
	if err != nil {
		return eris.Wrapf(err, "failed to store snapshot under %s", r.key)
	}
	return nil
}

func (r *RedisStorage) Load(ctx context.Context) (*Snapshot, error) {
	return r.load(ctx, r.key)
}

// Backup returns the snapshot replaced by the most recent Store.
func (r *RedisStorage) Backup(ctx context.Context) (*Snapshot, error) {
	return r.load(ctx, r.backupKey())
}

// Close closes the Redis client.
func (r *RedisStorage) Close() error {
	return eris.Wrap(r.client.Close(), "failed to close redis client")
}

func (r *RedisStorage) load(ctx context.Context, key string) (*Snapshot, error) {
	data, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if eris.Is(err, redis.Nil) {
			return nil, eris.Wrapf(ErrSnapshotNotFound, "key %s", key)
		}
		return nil, eris.Wrapf(err, "failed to get snapshot from %s", key)
	}

	var snapshot Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, eris.Wrap(err, "failed to unmarshal snapshot")
	}
	return &snapshot, nil
}

func (r *RedisStorage) backupKey() string { return r.key + ":backup" }

// -------------------------------------------------------------------------------------------------
// Options
// -------------------------------------------------------------------------------------------------

type RedisStorageOptions struct {
	Addr     string
	Password string
	DB       int
	Key      string // Defaults to DefaultKey
}

func (opt *RedisStorageOptions) Validate() error {
	if opt.Addr == "" {
		return eris.New("redis address cannot be empty")
	}
	if opt.DB < 0 {
		return eris.New("redis db cannot be negative")
	}
	return nil
}
