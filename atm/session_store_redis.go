package atm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jonanatree/cyberbank-atm/atm/models"
)

const (
	redisSessionPrefix  = "atm:session:"
	redisOpenSessionSet = "atm:sessions:open"
)

// RedisSessionStore keeps sessions as JSON values with a TTL. Open sessions are
// also indexed in a sorted set scored by creation time for the reaper.
type RedisSessionStore struct {
	client redis.UniversalClient
	ttl    time.Duration
}

func NewRedisSessionStore(client redis.UniversalClient, ttl time.Duration) *RedisSessionStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisSessionStore{client: client, ttl: ttl}
}

func sessionKey(id string) string {
	return redisSessionPrefix + id
}

func (s *RedisSessionStore) SaveSession(ctx context.Context, sess *models.Session) error {
	b, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encoding session: %w", err)
	}
	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, sessionKey(sess.ID), b, s.ttl)
		if sess.Status.Terminal() {
			p.ZRem(ctx, redisOpenSessionSet, sess.ID)
		} else {
			p.ZAdd(ctx, redisOpenSessionSet, redis.Z{Score: float64(sess.CreatedAt.UnixMilli()), Member: sess.ID})
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("saving session: %w", err)
	}
	return nil
}

func (s *RedisSessionStore) FindSessionByID(ctx context.Context, id string) (*models.Session, error) {
	b, err := s.client.Get(ctx, sessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: session %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("finding session: %w", err)
	}
	var sess models.Session
	if err := json.Unmarshal(b, &sess); err != nil {
		return nil, fmt.Errorf("decoding session %s: %w", id, err)
	}
	return &sess, nil
}

func (s *RedisSessionStore) FindActiveSessionByID(ctx context.Context, id string) (*models.Session, error) {
	sess, err := s.FindSessionByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.Status == models.SessionClosed {
		return nil, fmt.Errorf("%w: session %s is closed", ErrNotFound, id)
	}
	return sess, nil
}

func (s *RedisSessionStore) ListOpenSessions(ctx context.Context, createdBefore time.Time, limit int) ([]*models.Session, error) {
	by := &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(createdBefore.UnixMilli(), 10),
	}
	if limit > 0 {
		by.Count = int64(limit)
	}
	ids, err := s.client.ZRangeByScore(ctx, redisOpenSessionSet, by).Result()
	if err != nil {
		return nil, fmt.Errorf("listing open sessions: %w", err)
	}
	out := make([]*models.Session, 0, len(ids))
	for _, id := range ids {
		sess, err := s.FindSessionByID(ctx, id)
		if errors.Is(err, ErrNotFound) {
			// value expired; drop the stale index entry
			s.client.ZRem(ctx, redisOpenSessionSet, id)
			continue
		}
		if err != nil {
			return nil, err
		}
		if !sess.Status.Terminal() {
			out = append(out, sess)
		}
	}
	return out, nil
}

func (s *RedisSessionStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

var _ SessionStore = (*RedisSessionStore)(nil)
