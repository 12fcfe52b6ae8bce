package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/molliey/taskboard/domain"
)

type backend interface {
	LoadProject(ctx context.Context, projectID string) (*domain.Board, error)
	FetchUser(ctx context.Context, userID string) (domain.User, error)
	PersistEvent(ctx context.Context, ev domain.Event) error
}

// Cache wraps a Storage instance with Redis-backed caching for the read
// paths. Persisting an event evicts the project's cached board so the next
// cold load observes the write.
type Cache struct {
	base  backend
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a caching Storage wrapper using the provided Redis
// client and TTL.
func NewCache(base backend, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base storage is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{base: base, redis: client, ttl: ttl}
}

func (c *Cache) LoadProject(ctx context.Context, projectID string) (*domain.Board, error) {
	if board, ok := c.loadBoardFromCache(ctx, projectID); ok {
		return board, nil
	}
	board, err := c.base.LoadProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	c.storeBoard(ctx, board)
	return board, nil
}

func (c *Cache) FetchUser(ctx context.Context, userID string) (domain.User, error) {
	if user, ok := c.loadUserFromCache(ctx, userID); ok {
		return user, nil
	}
	user, err := c.base.FetchUser(ctx, userID)
	if err != nil {
		return domain.User{}, err
	}
	c.storeUser(ctx, user)
	return user, nil
}

func (c *Cache) PersistEvent(ctx context.Context, ev domain.Event) error {
	if err := c.base.PersistEvent(ctx, ev); err != nil {
		return err
	}
	c.evictBoard(ctx, ev.ProjectID)
	return nil
}

func (c *Cache) loadBoardFromCache(ctx context.Context, projectID string) (*domain.Board, bool) {
	if c.redis == nil {
		return nil, false
	}
	data, err := c.redis.Get(ctx, boardCacheKey(projectID)).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the backing storage without failing.
			_ = c.redis.Del(ctx, boardCacheKey(projectID)).Err()
		}
		return nil, false
	}
	var board domain.Board
	if err := json.Unmarshal(data, &board); err != nil {
		_ = c.redis.Del(ctx, boardCacheKey(projectID)).Err()
		return nil, false
	}
	return &board, true
}

func (c *Cache) loadUserFromCache(ctx context.Context, userID string) (domain.User, bool) {
	if c.redis == nil {
		return domain.User{}, false
	}
	data, err := c.redis.Get(ctx, userCacheKey(userID)).Bytes()
	if err != nil {
		if err != redis.Nil {
			_ = c.redis.Del(ctx, userCacheKey(userID)).Err()
		}
		return domain.User{}, false
	}
	var user domain.User
	if err := json.Unmarshal(data, &user); err != nil {
		_ = c.redis.Del(ctx, userCacheKey(userID)).Err()
		return domain.User{}, false
	}
	return user, true
}

func (c *Cache) storeBoard(ctx context.Context, board *domain.Board) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := json.Marshal(board)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, boardCacheKey(board.ProjectID), data, c.ttl).Err()
}

func (c *Cache) storeUser(ctx context.Context, user domain.User) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := json.Marshal(user)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, userCacheKey(user.ID), data, c.ttl).Err()
}

func (c *Cache) evictBoard(ctx context.Context, projectID string) {
	if c.redis == nil {
		return
	}
	_, _ = c.redis.Del(ctx, boardCacheKey(projectID)).Result()
}

func boardCacheKey(projectID string) string {
	return "board:" + projectID
}

func userCacheKey(userID string) string {
	return "user:" + userID
}
