package diag

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	"github.com/redis/go-redis/v9"

	"subjectbus/internal/core"
)

const keyPrefix = "subjectbus:diag:"

// RedisStore keeps snapshots in Redis hashes holding the encoded snapshot
// and a version that increases on every save.
type RedisStore struct {
	client *redis.Client
	logger core.Logger
}

// NewRedisStore returns a new RedisStore with given options.
func NewRedisStore(opts *redis.Options, logger core.Logger) *RedisStore {
	if logger == nil {
		logger = loggo.GetLogger("subjectbus.diag")
	}
	return &RedisStore{
		client: redis.NewClient(opts),
		logger: logger,
	}
}

func key(connection string) string { return keyPrefix + connection }

// Save stores snap as the latest snapshot of its connection and returns
// the new version. A positive ttl expires the entry.
func (s *RedisStore) Save(ctx context.Context, snap Snapshot, ttl time.Duration) (int64, error) {
	if snap.Connection == "" {
		return 0, errors.NotValidf("snapshot without connection id")
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return 0, errors.Trace(err)
	}
	hkey := key(snap.Connection)
	var ver int64
	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.HGet(ctx, hkey, "version").Int64()
		if err != nil && err != redis.Nil {
			return err
		}
		ver = cur + 1
		pipe := tx.TxPipeline()
		pipe.HSet(ctx, hkey, "snapshot", data, "version", ver)
		if ttl > 0 {
			pipe.Expire(ctx, hkey, ttl)
		}
		_, err = pipe.Exec(ctx)
		return err
	}, hkey)
	if err != nil {
		return 0, errors.Annotatef(err, "saving snapshot of %s", snap.Connection)
	}
	s.logger.Debugf("saved snapshot %d of %s", ver, snap.Connection)
	return ver, nil
}

// Load returns the latest snapshot of connection and its version.
func (s *RedisStore) Load(ctx context.Context, connection string) (Snapshot, int64, error) {
	res, err := s.client.HGetAll(ctx, key(connection)).Result()
	if err != nil {
		return Snapshot{}, 0, errors.Trace(err)
	}
	if len(res) == 0 {
		return Snapshot{}, 0, errors.NotFoundf("snapshot of %s", connection)
	}
	var snap Snapshot
	if err := json.Unmarshal([]byte(res["snapshot"]), &snap); err != nil {
		return Snapshot{}, 0, errors.Annotatef(err, "decoding snapshot of %s", connection)
	}
	ver, err := parseInt(res["version"])
	if err != nil {
		return Snapshot{}, 0, errors.Trace(err)
	}
	return snap, ver, nil
}

func parseInt(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseInt(s, 10, 64)
}

// Delete removes the snapshot of connection.
func (s *RedisStore) Delete(ctx context.Context, connection string) error {
	return errors.Trace(s.client.Del(ctx, key(connection)).Err())
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

var _ Store = (*RedisStore)(nil)
