package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-redis/redis/v8"

	"github.com/wfunc/econgames/logger"
	"github.com/wfunc/econgames/models"
)

// RedisOptions configures the redis store.
type RedisOptions struct {
	Addr       string
	Password   string
	DB         int
	Prefix     string
	MaxRetries uint64
}

// RedisStore keeps session documents in redis. Optimistic writes use
// WATCH/MULTI and change notifications travel over PUBLISH, so several
// server processes can share one store.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore connects to redis, retrying the initial ping with exponential backoff.
func NewRedisStore(ctx context.Context, opts RedisOptions) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	retries := opts.MaxRetries
	if retries == 0 {
		retries = 5
	}
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), retries), ctx)
	err := backoff.Retry(func() error {
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Log.Warnf("Redis connection to %s failed: %v, retrying...", opts.Addr, err)
			return err
		}
		return nil
	}, b)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("connect redis %s: %w", opts.Addr, err)
	}
	logger.Log.Infof("Redis store connected at %s", opts.Addr)
	return NewRedisStoreWithClient(client, opts.Prefix), nil
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "econgames:"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (r *RedisStore) docKey(id string) string { return r.prefix + "session:" + id }
func (r *RedisStore) eventsKey(id string) string { return r.prefix + "session:" + id + ":events" }
func (r *RedisStore) indexKey() string { return r.prefix + "sessions" }
func (r *RedisStore) recordsKey() string { return r.prefix + "records" }

func (r *RedisStore) Create(ctx context.Context, s *models.Session) error {
	stamp(s, 1)
	data, err := encodeSession(s)
	if err != nil {
		return err
	}
	ok, err := r.client.SetNX(ctx, r.docKey(s.ID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	if !ok {
		return ErrAlreadyExists
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, r.indexKey(), &redis.Z{Score: float64(s.CreatedAt.UnixNano()), Member: s.ID})
		pipe.Publish(ctx, r.eventsKey(s.ID), data)
		return nil
	})
	if err != nil {
		return fmt.Errorf("index session: %w", err)
	}
	return nil
}

func (r *RedisStore) Read(ctx context.Context, id string) (*models.Session, error) {
	data, err := r.client.Get(ctx, r.docKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read session: %w", err)
	}
	return decodeSession(data)
}

// swap runs build against the current document inside WATCH and writes its result.
func (r *RedisStore) swap(ctx context.Context, id string, build func(current []byte) (*models.Session, error)) (*models.Session, error) {
	key := r.docKey(id)
	var written *models.Session
	err := r.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrRecordNotFound
		}
		if err != nil {
			return err
		}
		next, err := build(current)
		if err != nil {
			return err
		}
		data, err := encodeSession(next)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			pipe.Publish(ctx, r.eventsKey(id), data)
			return nil
		})
		if err != nil {
			return err
		}
		written = next
		return nil
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return nil, ErrVersionConflict
	}
	if err != nil {
		return nil, err
	}
	return written, nil
}

func (r *RedisStore) Update(ctx context.Context, id string, fields map[string]any) (*models.Session, error) {
	for {
		doc, err := r.swap(ctx, id, func(current []byte) (*models.Session, error) {
			next, err := mergeFields(current, fields)
			if err != nil {
				return nil, err
			}
			stamp(next, next.Version+1)
			return next, nil
		})
		if errors.Is(err, ErrVersionConflict) {
			continue
		}
		return doc, err
	}
}

func (r *RedisStore) CompareAndSwap(ctx context.Context, s *models.Session, expected int64) error {
	written, err := r.swap(ctx, s.ID, func(current []byte) (*models.Session, error) {
		doc, err := decodeSession(current)
		if err != nil {
			return nil, err
		}
		if doc.Version != expected {
			return nil, ErrVersionConflict
		}
		next := *s
		stamp(&next, expected+1)
		return &next, nil
	})
	if err != nil {
		return err
	}
	*s = *written
	return nil
}

func (r *RedisStore) Delete(ctx context.Context, id string) error {
	var del *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		del = pipe.Del(ctx, r.docKey(id))
		pipe.ZRem(ctx, r.indexKey(), id)
		pipe.Publish(ctx, r.eventsKey(id), "")
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if del.Val() == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func (r *RedisStore) List(ctx context.Context) ([]*models.Session, error) {
	ids, err := r.client.ZRange(ctx, r.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	list := make([]*models.Session, 0, len(ids))
	for _, id := range ids {
		doc, err := r.Read(ctx, id)
		if errors.Is(err, ErrRecordNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		list = append(list, doc)
	}
	sortByCreated(list)
	return list, nil
}

func (r *RedisStore) Subscribe(ctx context.Context, id string) (<-chan *models.Session, error) {
	if _, err := r.Read(ctx, id); err != nil {
		return nil, err
	}
	pubsub := r.client.Subscribe(ctx, r.eventsKey(id))
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("subscribe session %s: %w", id, err)
	}

	out := make(chan *models.Session, 1)
	go func() {
		defer close(out)
		defer pubsub.Close()
		msgs := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				if msg.Payload == "" {
					return
				}
				doc, err := decodeSession([]byte(msg.Payload))
				if err != nil {
					logger.Log.Warnf("Dropping undecodable change for session %s: %v", id, err)
					continue
				}
				offer(out, doc)
			}
		}
	}()
	return out, nil
}

func (r *RedisStore) SaveGameRecord(ctx context.Context, rec *models.GameRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if err := r.client.RPush(ctx, r.recordsKey(), data).Err(); err != nil {
		return fmt.Errorf("save game record: %w", err)
	}
	return nil
}

func (r *RedisStore) ListGameRecords(ctx context.Context, playerID string) ([]*models.GameRecord, error) {
	raw, err := r.client.LRange(ctx, r.recordsKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list game records: %w", err)
	}
	var out []*models.GameRecord
	for _, item := range raw {
		var rec models.GameRecord
		if err := json.Unmarshal([]byte(item), &rec); err != nil {
			return nil, err
		}
		if recordInvolves(&rec, playerID) {
			out = append(out, &rec)
		}
	}
	return out, nil
}

// Close closes the redis client.
func (r *RedisStore) Close() error {
	return r.client.Close()
}
