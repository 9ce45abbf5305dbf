package rtc

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/huddleplan/call-service/internal/domain"
)

// RoomState is the persisted part of a room: identity, roles and metadata.
// Memberships are not persisted.
type RoomState struct {
	ID       string            `json:"id"`
	Kind     domain.RoomKind   `json:"kind"`
	Creator  string            `json:"creator"`
	Admins   []string          `json:"admins,omitempty"`
	Metadata map[string]string `json:"metadata"`
}

func (s RoomState) MarshalBinary() ([]byte, error) { return json.Marshal(s) }

func (s *RoomState) UnmarshalBinary(data []byte) error { return json.Unmarshal(data, s) }

type Store interface {
	SaveRoom(ctx context.Context, st RoomState) error
	LoadRooms(ctx context.Context) ([]RoomState, error)
	DeleteRoom(ctx context.Context, id string) error
}

const (
	redisRoomKeyPrefix = "call:room:"
	redisRoomIndexKey  = "call:rooms"
)

// RedisStore keeps each room's state as a JSON value plus a set of live room
// IDs, so a restarted node can rebuild its hub.
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{rdb: rdb, ttl: ttl}
}

func (s *RedisStore) SaveRoom(ctx context.Context, st RoomState) error {
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, redisRoomKeyPrefix+st.ID, st, s.ttl)
	pipe.SAdd(ctx, redisRoomIndexKey, st.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis save room %s: %w", st.ID, err)
	}
	return nil
}

func (s *RedisStore) LoadRooms(ctx context.Context) ([]RoomState, error) {
	ids, err := s.rdb.SMembers(ctx, redisRoomIndexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list rooms: %w", err)
	}

	out := make([]RoomState, 0, len(ids))
	for _, id := range ids {
		data, err := s.rdb.Get(ctx, redisRoomKeyPrefix+id).Bytes()
		if err == redis.Nil {
			// expired value, drop the dangling index entry
			_ = s.rdb.SRem(ctx, redisRoomIndexKey, id).Err()
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("redis load room %s: %w", id, err)
		}
		var st RoomState
		if err := st.UnmarshalBinary(data); err != nil {
			return nil, fmt.Errorf("redis decode room %s: %w", id, err)
		}
		out = append(out, st)
	}
	return out, nil
}

func (s *RedisStore) DeleteRoom(ctx context.Context, id string) error {
	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, redisRoomKeyPrefix+id)
	pipe.SRem(ctx, redisRoomIndexKey, id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis delete room %s: %w", id, err)
	}
	return nil
}
