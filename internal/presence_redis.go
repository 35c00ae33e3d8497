package internal

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	presenceKeyPrefix  = "presence:"
	onlineSetKey       = "online_users"
	defaultPresenceTTL = 120 * time.Second
)

type presenceDocument struct {
	UserID   int64     `json:"user_id"`
	Status   string    `json:"status"`
	LastSeen time.Time `json:"last_seen"`
}

// RedisDirectory mirrors presence transitions into redis so sibling server
// instances and external services can read them. It wraps another
// UserDirectory (usually the SQLite store) and keeps that one authoritative:
// a redis failure is logged and the wrapped write still happens.
type RedisDirectory struct {
	client *redis.Client
	next   UserDirectory
	logger *log.Logger
	ttl    time.Duration
}

func NewRedisDirectory(client *redis.Client, next UserDirectory, logger *log.Logger) *RedisDirectory {
	return &RedisDirectory{
		client: client,
		next:   next,
		logger: logger,
		ttl:    defaultPresenceTTL,
	}
}

// OpenRedis parses the URL, dials and pings. A dead redis at startup is a
// configuration error and fails fast.
func OpenRedis(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func (d *RedisDirectory) SetOnline(ctx context.Context, userID int64, online bool) error {
	if online {
		d.mirrorOnline(ctx, userID)
	} else {
		d.mirrorOffline(ctx, userID)
	}
	if d.next == nil {
		return nil
	}
	return d.next.SetOnline(ctx, userID, online)
}

func (d *RedisDirectory) TouchLastSeen(ctx context.Context, userID int64) error {
	d.mirrorOnline(ctx, userID)
	if d.next == nil {
		return nil
	}
	return d.next.TouchLastSeen(ctx, userID)
}

func (d *RedisDirectory) mirrorOnline(ctx context.Context, userID int64) {
	doc := presenceDocument{UserID: userID, Status: "online", LastSeen: time.Now()}
	data, err := json.Marshal(doc)
	if err != nil {
		return
	}
	member := strconv.FormatInt(userID, 10)
	pipe := d.client.Pipeline()
	pipe.Set(ctx, presenceKeyPrefix+member, data, d.ttl)
	pipe.SAdd(ctx, onlineSetKey, member)
	pipe.Expire(ctx, onlineSetKey, d.ttl*2)
	if _, err := pipe.Exec(ctx); err != nil {
		d.logger.Printf("redis presence mirror failed user=%d err=%v", userID, err)
	}
}

func (d *RedisDirectory) mirrorOffline(ctx context.Context, userID int64) {
	member := strconv.FormatInt(userID, 10)
	pipe := d.client.Pipeline()
	pipe.Del(ctx, presenceKeyPrefix+member)
	pipe.SRem(ctx, onlineSetKey, member)
	if _, err := pipe.Exec(ctx); err != nil {
		d.logger.Printf("redis presence clear failed user=%d err=%v", userID, err)
	}
}

// OnlineUsers reads the mirrored online set, for cross-instance consumers.
func (d *RedisDirectory) OnlineUsers(ctx context.Context) ([]int64, error) {
	members, err := d.client.SMembers(ctx, onlineSetKey).Result()
	if err != nil {
		return nil, fmt.Errorf("read online set: %w", err)
	}
	out := make([]int64, 0, len(members))
	for _, m := range members {
		id, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			continue
		}
		out = append(out, id)
	}
	return out, nil
}
