package coordinator

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// TagLocker serializes mutations against one (app_id, tag) pair, per the
// §4.9 concurrency contract. The default is localTagLocker, an in-process
// map of per-tag mutexes; when PUMAS_CLUSTER_CACHE_ADDR names a Redis instance (several
// coordinator processes sharing one launcher-data volume, e.g. a shared
// workstation), redisTagLocker takes over so the serialization guarantee
// holds across processes too.
type TagLocker interface {
	Lock(ctx context.Context, appID, tag string) (unlock func(), err error)
}

// localTagLocker wraps a plain map of per-tag mutexes for the common
// single-process deployment.
type localTagLocker struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newLocalTagLocker() *localTagLocker {
	return &localTagLocker{locks: map[string]*sync.Mutex{}}
}

func (l *localTagLocker) Lock(ctx context.Context, appID, tag string) (func(), error) {
	key := appID + "@" + tag
	l.mu.Lock()
	m, ok := l.locks[key]
	if !ok {
		m = &sync.Mutex{}
		l.locks[key] = m
	}
	l.mu.Unlock()
	m.Lock()
	return m.Unlock, nil
}

// redisTagLocker implements the same interface as a SET-NX/poll distributed
// mutex, so a tag lock held by one coordinator process is visible to every
// other process pointed at the same Redis instance.
type redisTagLocker struct {
	client *redis.Client
	ttl    time.Duration
	poll   time.Duration
}

func newRedisTagLocker(addr string) *redisTagLocker {
	return &redisTagLocker{
		client: redis.NewClient(&redis.Options{Addr: addr}),
		ttl:    2 * time.Minute,
		poll:   100 * time.Millisecond,
	}
}

func (l *redisTagLocker) Lock(ctx context.Context, appID, tag string) (func(), error) {
	key := "pumas:taglock:" + appID + "@" + tag
	ticker := time.NewTicker(l.poll)
	defer ticker.Stop()
	for {
		ok, err := l.client.SetNX(ctx, key, "1", l.ttl).Result()
		if err != nil {
			return nil, err
		}
		if ok {
			return func() { l.client.Del(context.Background(), key) }, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func newTagLocker(clusterCacheAddr string) TagLocker {
	if clusterCacheAddr == "" {
		return newLocalTagLocker()
	}
	return newRedisTagLocker(clusterCacheAddr)
}
