package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// ResponseLocker serialises recordResponse calls per (submission, question) pair.
type ResponseLocker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// ResponseLockKey names the lock guarding one question of one submission.
func ResponseLockKey(submissionID, questionID uint) string {
	return fmt.Sprintf("submission:%d:question:%d", submissionID, questionID)
}

type keyLock struct {
	sem  chan struct{}
	refs int
}

type localResponseLocker struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

// NewLocalResponseLocker returns an in-process keyed mutex.
func NewLocalResponseLocker() ResponseLocker {
	return newLocalResponseLocker()
}

func newLocalResponseLocker() *localResponseLocker {
	return &localResponseLocker{locks: make(map[string]*keyLock)}
}

func (l *localResponseLocker) Acquire(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	entry, ok := l.locks[key]
	if !ok {
		entry = &keyLock{sem: make(chan struct{}, 1)}
		l.locks[key] = entry
	}
	entry.refs++
	l.mu.Unlock()

	select {
	case entry.sem <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-entry.sem
				l.forget(key, entry)
			})
		}, nil
	case <-ctx.Done():
		l.forget(key, entry)
		return nil, ctx.Err()
	}
}

func (l *localResponseLocker) forget(key string, entry *keyLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry.refs--
	if entry.refs == 0 {
		delete(l.locks, key)
	}
}

var releaseLockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type redisResponseLocker struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	poll   time.Duration
	local  *localResponseLocker
	logger zerolog.Logger
}

// NewRedisResponseLocker returns a lock shared by every API instance. The lock expires after ttl
// so a crashed holder cannot block a question forever. Redis outages degrade to the in-process lock;
// the row lock taken while appending still guards the attempt limit.
func NewRedisResponseLocker(client *redis.Client, channelBase string, ttl time.Duration, logger zerolog.Logger) ResponseLocker {
	if ttl <= 0 {
		ttl = 3 * time.Minute
	}
	if channelBase == "" {
		channelBase = "gema:grading"
	}

	return &redisResponseLocker{
		client: client,
		prefix: channelBase + ":lock:",
		ttl:    ttl,
		poll:   50 * time.Millisecond,
		local:  newLocalResponseLocker(),
		logger: logger.With().Str("component", "response_lock").Logger(),
	}
}

func (l *redisResponseLocker) Acquire(ctx context.Context, key string) (func(), error) {
	releaseLocal, err := l.local.Acquire(ctx, key)
	if err != nil {
		return nil, err
	}

	redisKey := l.prefix + key
	token := uuid.NewString()

	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				releaseLocal()
				return nil, ctx.Err()
			}
			l.logger.Warn().Err(err).Str("key", key).Msg("redis lock unavailable, using local lock")
			return releaseLocal, nil
		}
		if ok {
			return func() {
				releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				if err := releaseLockScript.Run(releaseCtx, l.client, []string{redisKey}, token).Err(); err != nil {
					l.logger.Warn().Err(err).Str("key", key).Msg("failed to release redis lock")
				}
				releaseLocal()
			}, nil
		}

		timer := time.NewTimer(l.poll)
		select {
		case <-ctx.Done():
			timer.Stop()
			releaseLocal()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}
