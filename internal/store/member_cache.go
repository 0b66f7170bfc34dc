package store

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"go-chat/internal/chat"
)

const memberKeyPrefix = "chat:members:"

// cacheClient is the slice of *redis.Client the member cache needs.
type cacheClient interface {
	SMembers(ctx context.Context, key string) *redis.StringSliceCmd
	SAdd(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// MemberCache answers membership lookups from a Redis set per conversation
// and falls through to source on a miss. Entries expire after ttl, so a
// membership change is visible at most ttl later unless Invalidate is called.
type MemberCache struct {
	rdb    cacheClient
	source chat.MembershipSource
	ttl    time.Duration
	log    *zap.Logger
}

func NewMemberCache(rdb cacheClient, source chat.MembershipSource, ttl time.Duration, log *zap.Logger) *MemberCache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &MemberCache{rdb: rdb, source: source, ttl: ttl, log: log}
}

func memberKey(conversationID string) string {
	return memberKeyPrefix + conversationID
}

func (c *MemberCache) Members(ctx context.Context, conversationID string) ([]chat.UserID, error) {
	key := memberKey(conversationID)

	cached, err := c.rdb.SMembers(ctx, key).Result()
	if err != nil {
		// Redis trouble should not take messaging down with it.
		c.log.Warn("member cache read failed", zap.String("conversation", conversationID), zap.Error(err))
	} else if len(cached) > 0 {
		out := make([]chat.UserID, len(cached))
		for i, m := range cached {
			out[i] = chat.UserID(m)
		}
		return out, nil
	}

	members, err := c.source.Members(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	vals := make([]interface{}, len(members))
	for i, m := range members {
		vals[i] = string(m)
	}
	if err := c.rdb.SAdd(ctx, key, vals...).Err(); err != nil {
		c.log.Warn("member cache write failed", zap.String("conversation", conversationID), zap.Error(err))
		return members, nil
	}
	if err := c.rdb.Expire(ctx, key, c.ttl).Err(); err != nil {
		c.log.Warn("member cache expire failed", zap.String("conversation", conversationID), zap.Error(err))
	}
	return members, nil
}

// Invalidate drops the cached member sets of the given conversations.
func (c *MemberCache) Invalidate(ctx context.Context, conversationIDs ...string) error {
	if len(conversationIDs) == 0 {
		return nil
	}
	keys := make([]string, len(conversationIDs))
	for i, id := range conversationIDs {
		keys[i] = memberKey(id)
	}
	return errors.Wrap(c.rdb.Del(ctx, keys...).Err(), "invalidate members")
}
