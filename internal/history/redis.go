package history

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps each series in a sorted set scored by unix milliseconds.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore connects to url. Returns an error if the server is
// unreachable.
func NewRedisStore(url string, ttl time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return &RedisStore{
		client: client,
		prefix: "rice-bench:history:",
		ttl:    ttl,
	}, nil
}

// Record adds a point and trims points older than the TTL. The member is
// the JSON encoded point so repeated values stay distinct.
func (rs *RedisStore) Record(ctx context.Context, metric string, dp DataPoint) error {
	key := rs.prefix + metric
	member, err := json.Marshal(dp)
	if err != nil {
		return fmt.Errorf("encoding data point: %w", err)
	}

	pipe := rs.client.Pipeline()
	pipe.ZAdd(ctx, key, redis.Z{
		Score:  float64(dp.Timestamp.UnixMilli()),
		Member: string(member),
	})
	if rs.ttl > 0 {
		minScore := time.Now().Add(-rs.ttl).UnixMilli()
		pipe.ZRemRangeByScore(ctx, key, "-inf", "("+strconv.FormatInt(minScore, 10))
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("saving data point: %w", err)
	}
	return nil
}

// Load returns points at or after since, oldest first.
func (rs *RedisStore) Load(ctx context.Context, metric string, since time.Time) ([]DataPoint, error) {
	members, err := rs.client.ZRangeByScore(ctx, rs.prefix+metric, &redis.ZRangeBy{
		Min: strconv.FormatInt(since.UnixMilli(), 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("loading history: %w", err)
	}

	points := make([]DataPoint, 0, len(members))
	for _, m := range members {
		var dp DataPoint
		if err := json.Unmarshal([]byte(m), &dp); err != nil {
			// Skip invalid entries
			continue
		}
		points = append(points, dp)
	}
	return points, nil
}

// Metrics returns all series names, sorted.
func (rs *RedisStore) Metrics(ctx context.Context) ([]string, error) {
	var names []string
	iter := rs.client.Scan(ctx, 0, rs.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		names = append(names, iter.Val()[len(rs.prefix):])
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("listing metrics: %w", err)
	}
	sort.Strings(names)
	return names, nil
}

// Delete removes a series.
func (rs *RedisStore) Delete(ctx context.Context, metric string) error {
	if err := rs.client.Del(ctx, rs.prefix+metric).Err(); err != nil {
		return fmt.Errorf("deleting metric: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (rs *RedisStore) Close() error {
	return rs.client.Close()
}
