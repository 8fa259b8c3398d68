package redisstore

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	lockPrefix   = "linebot:stream_lock:"
	lockTTL      = 5 * time.Minute
	lockRetryGap = 100 * time.Millisecond
)

var ErrLockNotHeld = errors.New("lock not held")

// unlockScript deletes the key only if it still holds our token.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type Store struct {
	rdb *redis.Client
}

func NewStore(addr, password string, db int) *Store {
	return &Store{rdb: redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func (s *Store) Close() error {
	return s.rdb.Close()
}

// Lock takes the per-user stream lock shared by every worker process. It polls
// until the key is free or ctx is done. The lock expires after lockTTL if the
// holder dies.
func (s *Store) Lock(ctx context.Context, key string) (func(), error) {
	k := lockPrefix + key
	token := uuid.NewString()

	for {
		ok, err := s.rdb.SetNX(ctx, k, token, lockTTL).Result()
		if err != nil {
			return nil, err
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(lockRetryGap):
		}
	}

	return func() {
		uctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 3*time.Second)
		defer cancel()
		n, err := unlockScript.Run(uctx, s.rdb, []string{k}, token).Int()
		if err != nil {
			log.Printf("[redisstore] unlock failed key=%s err=%v", k, err)
			return
		}
		if n == 0 {
			log.Printf("[redisstore] unlock key=%s: %v", k, ErrLockNotHeld)
		}
	}, nil
}
