// Package refresh records which subscriptions received usage since the
// billing service last recomputed their current usage.
//
// Many processor instances flag concurrently; the billing service pops
// flagged subscriptions and refreshes them.
//
// Redis Key Structure:
//
//	subscription_refreshed              - Set of "{organization_id}:{external_subscription_id}"
//	subscription_refreshed:last:{org}   - Unix time of the most recent flag for an organization (expires 7d)
package refresh

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Key is the Redis set holding flagged subscriptions.
const Key = "subscription_refreshed"

// Flagger marks a subscription as needing a usage refresh.
type Flagger interface {
	Flag(ctx context.Context, organizationID, externalSubscriptionID string) error
}

// Subscription identifies a flagged subscription.
type Subscription struct {
	OrganizationID         string `json:"organization_id" yaml:"organization_id"`
	ExternalSubscriptionID string `json:"external_subscription_id" yaml:"external_subscription_id"`
}

func member(organizationID, externalSubscriptionID string) string {
	return organizationID + ":" + externalSubscriptionID
}

func parseMember(m string) (Subscription, bool) {
	org, sub, ok := strings.Cut(m, ":")
	if !ok || org == "" || sub == "" {
		return Subscription{}, false
	}
	return Subscription{OrganizationID: org, ExternalSubscriptionID: sub}, true
}

// RedisFlagger stores flags in Redis.
type RedisFlagger struct {
	redis *redis.Client
	now   func() time.Time
}

// NewRedisFlagger connects to redisURL and verifies the connection.
func NewRedisFlagger(ctx context.Context, redisURL string) (*RedisFlagger, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return NewRedisFlaggerFromClient(client), nil
}

// NewRedisFlaggerFromClient uses an existing connection.
func NewRedisFlaggerFromClient(client *redis.Client) *RedisFlagger {
	return &RedisFlagger{redis: client, now: time.Now}
}

// Flag adds the subscription to the refresh set. Flagging twice is a no-op.
func (f *RedisFlagger) Flag(ctx context.Context, organizationID, externalSubscriptionID string) error {
	pipe := f.redis.Pipeline()
	pipe.SAdd(ctx, Key, member(organizationID, externalSubscriptionID))

	lastKey := Key + ":last:" + organizationID
	pipe.Set(ctx, lastKey, strconv.FormatInt(f.now().Unix(), 10), 7*24*time.Hour)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to flag subscription: %w", err)
	}
	return nil
}

// Pending returns every flagged subscription without removing them.
func (f *RedisFlagger) Pending(ctx context.Context) ([]Subscription, error) {
	members, err := f.redis.SMembers(ctx, Key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list flagged subscriptions: %w", err)
	}
	return toSubscriptions(members), nil
}

// Take removes and returns up to n flagged subscriptions.
func (f *RedisFlagger) Take(ctx context.Context, n int64) ([]Subscription, error) {
	members, err := f.redis.SPopN(ctx, Key, n).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("failed to pop flagged subscriptions: %w", err)
	}
	return toSubscriptions(members), nil
}

// LastFlagged returns when the organization was last flagged. ok is false if
// it never was, or the record expired.
func (f *RedisFlagger) LastFlagged(ctx context.Context, organizationID string) (time.Time, bool, error) {
	v, err := f.redis.Get(ctx, Key+":last:"+organizationID).Int64()
	if err == redis.Nil {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to read last flag: %w", err)
	}
	return time.Unix(v, 0), true, nil
}

// CheckHealth pings Redis.
func (f *RedisFlagger) CheckHealth(ctx context.Context) error {
	return f.redis.Ping(ctx).Err()
}

func (f *RedisFlagger) Close() error {
	return f.redis.Close()
}

func toSubscriptions(members []string) []Subscription {
	out := make([]Subscription, 0, len(members))
	for _, m := range members {
		if s, ok := parseMember(m); ok {
			out = append(out, s)
		}
	}
	return out
}
