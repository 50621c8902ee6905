package relay

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// PresenceStore is the subset of *redis.Client used by RedisPresence.
type PresenceStore interface {
	HSet(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	HDel(ctx context.Context, key string, fields ...string) *redis.IntCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisPresence mirrors live games into a Redis hash of gameID -> participant
// count for outside tooling. The in-memory registry stays authoritative.
type RedisPresence struct {
	store PresenceStore
	key   string
}

func NewRedisPresence(store PresenceStore, key string) *RedisPresence {
	return &RedisPresence{store: store, key: key}
}

// Reset clears entries left behind by a previous process.
func (p *RedisPresence) Reset(ctx context.Context) error {
	return p.store.Del(ctx, p.key).Err()
}

func (p *RedisPresence) Observe(ctx context.Context, evt Event) error {
	switch evt.Type {
	case EventGameClosed:
		return p.store.HDel(ctx, p.key, evt.GameID).Err()
	case EventParticipantJoined, EventParticipantLeft:
		if evt.Participants == 0 {
			return nil // game_closed follows.
		}
		return p.store.HSet(ctx, p.key, evt.GameID, evt.Participants).Err()
	default:
		return nil
	}
}
