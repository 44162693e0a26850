package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newMiniredis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	server, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(server.Close)

	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return server, client
}

func TestLocalResponseLockerSerialisesKey(t *testing.T) {
	locker := NewLocalResponseLocker()
	key := ResponseLockKey(1, 2)

	release, err := locker.Acquire(context.Background(), key)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = locker.Acquire(ctx, key)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	other, err := locker.Acquire(context.Background(), ResponseLockKey(1, 3))
	require.NoError(t, err, "different questions are independent")
	other()

	release()
	release()

	again, err := locker.Acquire(context.Background(), key)
	require.NoError(t, err)
	again()
}

func TestRedisResponseLockerOwnsKey(t *testing.T) {
	server, client := newMiniredis(t)
	locker := NewRedisResponseLocker(client, "gema:test", time.Minute, testLogger())
	key := ResponseLockKey(5, 6)

	release, err := locker.Acquire(context.Background(), key)
	require.NoError(t, err)
	require.True(t, server.Exists("gema:test:lock:"+key))

	competitor := NewRedisResponseLocker(client, "gema:test", time.Minute, testLogger())
	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Millisecond)
	defer cancel()
	_, err = competitor.Acquire(ctx, key)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	release()
	require.False(t, server.Exists("gema:test:lock:"+key))

	next, err := competitor.Acquire(context.Background(), key)
	require.NoError(t, err)
	next()
}

func TestRedisResponseLockerDoesNotReleaseForeignToken(t *testing.T) {
	server, client := newMiniredis(t)
	locker := NewRedisResponseLocker(client, "gema:test", time.Minute, testLogger())
	key := ResponseLockKey(8, 9)

	release, err := locker.Acquire(context.Background(), key)
	require.NoError(t, err)

	require.NoError(t, server.Set("gema:test:lock:"+key, "someone-else"))
	release()
	require.True(t, server.Exists("gema:test:lock:"+key))
}

func TestRedisResponseLockerDegradesWhenRedisIsDown(t *testing.T) {
	server, client := newMiniredis(t)
	server.Close()
	locker := NewRedisResponseLocker(client, "gema:test", time.Minute, testLogger())

	release, err := locker.Acquire(context.Background(), ResponseLockKey(1, 1))
	require.NoError(t, err)
	release()
}

func TestModerationCacheStoresVerdicts(t *testing.T) {
	server, client := newMiniredis(t)
	cache := NewModerationCache(client, "gema:test", time.Hour)

	_, found, err := cache.Lookup(context.Background(), "abc")
	require.NoError(t, err)
	require.False(t, found)

	require.NoError(t, cache.Store(context.Background(), "abc", true))
	require.NoError(t, cache.Store(context.Background(), "def", false))

	allowed, found, err := cache.Lookup(context.Background(), "abc")
	require.NoError(t, err)
	require.True(t, found)
	require.True(t, allowed)

	allowed, found, err = cache.Lookup(context.Background(), "def")
	require.NoError(t, err)
	require.True(t, found)
	require.False(t, allowed)

	require.Equal(t, time.Hour, server.TTL("gema:test:moderation:abc"))
}

func TestGradingEventPublisherFansOutToRedis(t *testing.T) {
	_, client := newMiniredis(t)
	publisher := NewGradingEventPublisher(client, "gema:test", nil, testLogger())

	subscription := client.Subscribe(context.Background(), "gema:test:events")
	defer subscription.Close()
	_, err := subscription.Receive(context.Background())
	require.NoError(t, err)

	require.NoError(t, publisher.Publish(context.Background(), GradingEvent{
		Type:         EventResponseRecorded,
		SubmissionID: 3,
		QuestionID:   4,
		Sequence:     2,
		Points:       7.5,
	}))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	message, err := subscription.ReceiveMessage(ctx)
	require.NoError(t, err)

	var event GradingEvent
	require.NoError(t, json.Unmarshal([]byte(message.Payload), &event))
	require.Equal(t, EventResponseRecorded, event.Type)
	require.Equal(t, uint(3), event.SubmissionID)
	require.Equal(t, 7.5, event.Points)
	require.NotEmpty(t, event.Source)
	require.False(t, event.OccurredAt.IsZero())
}
