// Package redis provides a Redis-backed session store for multi-instance
// deployments where session records must outlive any single process.
// Working directories and index files stay on the local filesystem; only
// the records are shared.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/nextlevelbuilder/capclaw/internal/store"
)

const keyPrefix = "capclaw:session:"

// SessionStore keeps session records as JSON values under
// capclaw:session:<id>. Records never expire; Destroy is the only removal.
type SessionStore struct {
	rdb  *goredis.Client
	root string
}

// Options configures the Redis connection.
type Options struct {
	Addr     string
	Password string
	DB       int
}

// NewSessionStore connects to Redis and verifies the connection.
func NewSessionStore(ctx context.Context, opts Options, root string) (*SessionStore, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &SessionStore{rdb: rdb, root: root}, nil
}

func (r *SessionStore) Create(ctx context.Context) (*store.Session, error) {
	return r.GetOrCreate(ctx, store.NewID())
}

func (r *SessionStore) GetOrCreate(ctx context.Context, id string) (*store.Session, error) {
	if s, err := r.Get(ctx, id); err == nil {
		return s, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	s, err := store.NewSession(r.root, id)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	// SETNX keeps the first writer's record if two nodes race on the same ID.
	set, err := r.rdb.SetNX(ctx, keyPrefix+id, data, 0).Result()
	if err != nil {
		store.RemoveWorkDir(s.Dir)
		return nil, fmt.Errorf("store session record: %w", err)
	}
	if !set {
		store.RemoveWorkDir(s.Dir)
		return r.Get(ctx, id)
	}
	return s, nil
}

func (r *SessionStore) Get(ctx context.Context, id string) (*store.Session, error) {
	data, err := r.rdb.Get(ctx, keyPrefix+id).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetch session record: %w", err)
	}
	var s store.Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode session record: %w", err)
	}
	return &s, nil
}

func (r *SessionStore) Put(ctx context.Context, s *store.Session) error {
	c := s.Clone()
	c.UpdatedAt = time.Now()
	data, err := json.Marshal(c)
	if err != nil {
		return err
	}
	if err := r.rdb.Set(ctx, keyPrefix+c.ID, data, 0).Err(); err != nil {
		return fmt.Errorf("store session record: %w", err)
	}
	return nil
}

func (r *SessionStore) List(ctx context.Context) ([]*store.Session, error) {
	var out []*store.Session
	iter := r.rdb.Scan(ctx, 0, keyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		data, err := r.rdb.Get(ctx, iter.Val()).Bytes()
		if err != nil {
			continue
		}
		var s store.Session
		if err := json.Unmarshal(data, &s); err != nil {
			continue
		}
		out = append(out, &s)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan session records: %w", err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *SessionStore) Destroy(ctx context.Context, id string) error {
	s, err := r.Get(ctx, id)
	if err == nil {
		store.RemoveWorkDir(s.Dir)
	}
	r.rdb.Del(ctx, keyPrefix+id)
	return nil
}

func (r *SessionStore) Close() error { return r.rdb.Close() }
