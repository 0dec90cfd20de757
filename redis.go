package attrsession

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrRedisNotReady is returned by ConnectRedis when no ping succeeded.
	ErrRedisNotReady = errors.New("redis did not become ready within the given time period")

	_ AttributeStore = (*RedisStore)(nil)
	_ DomainAdmin    = (*RedisStore)(nil)
)

// RedisStore keeps each item in a Redis hash, one field per attribute. HSET
// gives the field-level upsert the Domain contract asks for. A sorted set per
// domain, every member scored 0, indexes item names so Select can page by name
// with ZRANGEBYLEX. Keys of one domain share a hash tag, so the store also
// works against Redis Cluster.
type RedisStore struct {
	rdb    redis.UniversalClient
	prefix string
}

// RedisConfig holds configuration for the Redis store.
type RedisConfig struct {
	// KeyPrefix namespaces every key written by the store. Defaults to "attr:".
	KeyPrefix string
}

// NewRedisStore wraps an existing client. Closing the store closes the client.
func NewRedisStore(rdb redis.UniversalClient) *RedisStore {
	return NewRedisStoreWithConfig(rdb, RedisConfig{})
}

func NewRedisStoreWithConfig(rdb redis.UniversalClient, cfg RedisConfig) *RedisStore {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "attr:"
	}
	return &RedisStore{rdb: rdb, prefix: cfg.KeyPrefix}
}

// domainTag is the cluster hash tag shared by every key of a domain, so the
// MULTI blocks touching an item and its index stay in one slot. The length
// prefix keeps domain/item pairs from colliding.
func (s *RedisStore) domainTag(domain string) string {
	return s.prefix + "{" + strconv.Itoa(len(domain)) + ":" + domain + "}"
}

func (s *RedisStore) itemKey(domain, item string) string {
	return s.domainTag(domain) + ":item:" + item
}

func (s *RedisStore) indexKey(domain string) string {
	return s.domainTag(domain) + ":index"
}

func (s *RedisStore) domainsKey() string {
	return s.prefix + "domains"
}

func (s *RedisStore) GetAttributes(ctx context.Context, domain, item string, consistent bool, names []string) ([]Attribute, error) {
	key := s.itemKey(domain, item)

	if len(names) == 0 {
		values, err := s.rdb.HGetAll(ctx, key).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to get from redis: %w", err)
		}
		return mapToAttributes(values, nil), nil
	}

	raw, err := s.rdb.HMGet(ctx, key, names...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get from redis: %w", err)
	}
	values := make(map[string]string, len(names))
	for i, v := range raw {
		if str, ok := v.(string); ok {
			values[names[i]] = str
		}
	}
	return mapToAttributes(values, names), nil
}

// PutAttributes writes the hash fields and the index entry in one MULTI/EXEC.
func (s *RedisStore) PutAttributes(ctx context.Context, domain, item string, attrs []Attribute) error {
	if len(attrs) == 0 {
		return nil
	}
	fields := make([]any, 0, 2*len(attrs))
	for _, a := range attrs {
		fields = append(fields, a.Name, a.Value)
	}

	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.itemKey(domain, item), fields...)
		pipe.ZAdd(ctx, s.indexKey(domain), redis.Z{Member: item})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save to redis: %w", err)
	}
	return nil
}

func (s *RedisStore) DeleteAttributes(ctx context.Context, domain, item string) error {
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.itemKey(domain, item))
		pipe.ZRem(ctx, s.indexKey(domain), item)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete from redis: %w", err)
	}
	return nil
}

// Select reads the next names from the domain index and resumes after the
// last one returned. Filters are compared in Go, so values never reach a
// query language.
func (s *RedisStore) Select(ctx context.Context, in SelectInput) (SelectOutput, error) {
	limit := selectLimit(in.Limit)

	minName := "-"
	if in.NextToken != "" {
		minName = "(" + in.NextToken
	}
	names, err := s.rdb.ZRangeByLex(ctx, s.indexKey(in.Domain), &redis.ZRangeBy{
		Min:   minName,
		Max:   "+",
		Count: int64(limit + 1),
	}).Result()
	if err != nil {
		return SelectOutput{}, fmt.Errorf("failed to read redis index: %w", err)
	}

	var out SelectOutput
	if len(names) > limit {
		names = names[:limit]
		out.NextToken = names[len(names)-1]
	}
	if len(names) == 0 {
		return out, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(names))
	_, err = s.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, name := range names {
			cmds[i] = pipe.HGetAll(ctx, s.itemKey(in.Domain, name))
		}
		return nil
	})
	if err != nil {
		return SelectOutput{}, fmt.Errorf("failed to load items from redis: %w", err)
	}

	for i, name := range names {
		values := cmds[i].Val()
		if len(values) == 0 || !matchesFilters(values, in.Filters) {
			continue
		}
		out.Items = append(out.Items, Item{Name: name, Attributes: mapToAttributes(values, nil)})
	}
	return out, nil
}

func (s *RedisStore) CreateDomain(ctx context.Context, name string) error {
	if err := s.rdb.SAdd(ctx, s.domainsKey(), name).Err(); err != nil {
		return fmt.Errorf("failed to create domain in redis: %w", err)
	}
	return nil
}

// DeleteDomain removes every indexed item, the index and the domain entry.
func (s *RedisStore) DeleteDomain(ctx context.Context, name string) error {
	index := s.indexKey(name)
	for {
		names, err := s.rdb.ZRange(ctx, index, 0, int64(defaultSelectLimit)-1).Result()
		if err != nil {
			return fmt.Errorf("failed to read redis index: %w", err)
		}
		if len(names) == 0 {
			break
		}
		_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for _, item := range names {
				pipe.Del(ctx, s.itemKey(name, item))
				pipe.ZRem(ctx, index, item)
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("failed to delete items from redis: %w", err)
		}
	}

	// The domain set lives outside the domain's slot, so it is updated on its own.
	if err := s.rdb.Del(ctx, index).Err(); err != nil {
		return fmt.Errorf("failed to delete domain from redis: %w", err)
	}
	if err := s.rdb.SRem(ctx, s.domainsKey(), name).Err(); err != nil {
		return fmt.Errorf("failed to delete domain from redis: %w", err)
	}
	return nil
}

// ConnectRedis parses url and pings the server, retrying attempts times with
// interval between tries, all bounded by timeout.
func ConnectRedis(ctx context.Context, url string, attempts int, interval, timeout time.Duration) (*redis.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	for range max(attempts, 1) {
		rdb := redis.NewClient(opts)
		if err := rdb.Ping(ctx).Err(); err == nil {
			return rdb, nil
		}
		_ = rdb.Close()

		select {
		case <-ctx.Done():
			return nil, errors.Join(ErrRedisNotReady, ctx.Err())
		case <-time.After(interval):
		}
	}
	return nil, ErrRedisNotReady
}

func (s *RedisStore) Close() error {
	return s.rdb.Close()
}
