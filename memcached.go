package attrsession

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
)

const (
	maxMemcachedKeyLength = 250
	maxCASRetries         = 5
)

var (
	// ErrCASConflict is returned when concurrent writers kept invalidating a merge.
	ErrCASConflict = errors.New("too many concurrent updates")

	_ AttributeStore = (*MemcachedStore)(nil)
)

// MemcachedStore keeps each item as one JSON-encoded attribute map. Updates
// merge into the stored map with compare-and-swap. Memcached cannot enumerate
// keys, so Select is unsupported and the session cleanup worker is a no-op;
// items instead expire after the configured TTL.
type MemcachedStore struct {
	client *memcache.Client
	ttl    time.Duration
}

// MemcachedConfig holds configuration for the Memcached store.
type MemcachedConfig struct {
	Servers []string
	// TTL after which memcached evicts an item that was not rewritten. 0 keeps items until evicted.
	TTL     time.Duration
	Timeout time.Duration // Timeout for Memcached operations. Defaults to 0 (no timeout) if not set.
}

// NewMemcachedStore creates a new MemcachedStore.
func NewMemcachedStore(ttl time.Duration, servers ...string) *MemcachedStore {
	return NewMemcachedStoreWithConfig(MemcachedConfig{
		Servers: servers,
		TTL:     ttl,
		// Bound every call so a dead server cannot hang a request.
		Timeout: 1 * time.Second,
	})
}

// NewMemcachedStoreWithConfig creates a new MemcachedStore with custom configuration.
func NewMemcachedStoreWithConfig(cfg MemcachedConfig) *MemcachedStore {
	client := memcache.New(cfg.Servers...)
	client.Timeout = cfg.Timeout

	return &MemcachedStore{
		client: client,
		ttl:    cfg.TTL,
	}
}

// memcachedKey returns a readable key when memcached accepts it and a hash otherwise.
func memcachedKey(domain, item string) string {
	key := strconv.Itoa(len(domain)) + ":" + domain + ":" + item
	if len(key) <= maxMemcachedKeyLength && legalMemcachedKey(key) {
		return key
	}
	sum := sha256.Sum256([]byte(key))
	return "h:" + hex.EncodeToString(sum[:])
}

func legalMemcachedKey(key string) bool {
	for i := 0; i < len(key); i++ {
		if key[i] <= ' ' || key[i] == 0x7f {
			return false
		}
	}
	return true
}

func (s *MemcachedStore) expiration() int32 {
	if s.ttl <= 0 {
		return 0
	}
	return calculateMemcachedExpiration(time.Now(), time.Time{}, s.ttl)
}

func decodeMemcachedItem(value []byte) (map[string]string, error) {
	reader := bytes.NewReader(value)
	var attrs map[string]string
	if err := json.NewDecoder(reader).Decode(&attrs); err != nil {
		return nil, fmt.Errorf("failed to decode item: %w", err)
	}
	if attrs == nil {
		attrs = make(map[string]string)
	}
	return attrs, nil
}

func encodeMemcachedItem(attrs map[string]string) ([]byte, error) {
	buf := bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer PutBuffer(buf)

	if err := json.NewEncoder(buf).Encode(attrs); err != nil {
		return nil, fmt.Errorf("failed to encode item: %w", err)
	}
	// The buffer is wiped on return, so hand memcached its own copy.
	return bytes.Clone(buf.Bytes()), nil
}

// GetAttributes reads the item. Memcached has a single copy per key, so reads are consistent.
func (s *MemcachedStore) GetAttributes(ctx context.Context, domain, item string, consistent bool, names []string) ([]Attribute, error) {
	it, err := s.client.Get(memcachedKey(domain, item))
	if errors.Is(err, memcache.ErrCacheMiss) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get from memcached: %w", err)
	}
	attrs, err := decodeMemcachedItem(it.Value)
	if err != nil {
		return nil, err
	}
	return mapToAttributes(attrs, names), nil
}

// PutAttributes merges attrs into the stored map. A missing item is created
// with Add; an existing one is replaced with CompareAndSwap. Either fails when
// another writer got there first, and the merge is retried.
func (s *MemcachedStore) PutAttributes(ctx context.Context, domain, item string, attrs []Attribute) error {
	key := memcachedKey(domain, item)

	for range maxCASRetries {
		if err := ctx.Err(); err != nil {
			return err
		}

		current, err := s.client.Get(key)
		if err != nil && !errors.Is(err, memcache.ErrCacheMiss) {
			return fmt.Errorf("failed to get from memcached: %w", err)
		}

		merged := make(map[string]string, len(attrs))
		if current != nil {
			if merged, err = decodeMemcachedItem(current.Value); err != nil {
				return err
			}
		}
		for _, a := range attrs {
			merged[a.Name] = a.Value
		}
		value, err := encodeMemcachedItem(merged)
		if err != nil {
			return err
		}

		if current == nil {
			err = s.client.Add(&memcache.Item{Key: key, Value: value, Expiration: s.expiration()})
		} else {
			current.Value = value
			current.Expiration = s.expiration()
			err = s.client.CompareAndSwap(current)
		}
		switch {
		case err == nil:
			return nil
		case errors.Is(err, memcache.ErrNotStored), errors.Is(err, memcache.ErrCASConflict), errors.Is(err, memcache.ErrCacheMiss):
			continue
		default:
			return fmt.Errorf("failed to save to memcached: %w", err)
		}
	}
	return ErrCASConflict
}

// DeleteAttributes removes the item from Memcached.
func (s *MemcachedStore) DeleteAttributes(ctx context.Context, domain, item string) error {
	err := s.client.Delete(memcachedKey(domain, item))
	if err != nil && !errors.Is(err, memcache.ErrCacheMiss) {
		return fmt.Errorf("failed to delete from memcached: %w", err)
	}
	return nil
}

// Select is not available on Memcached.
func (s *MemcachedStore) Select(ctx context.Context, in SelectInput) (SelectOutput, error) {
	return SelectOutput{}, ErrSelectUnsupported
}

// Close is a no-op for Memcached client.
func (s *MemcachedStore) Close() error {
	return nil
}

// calculateMemcachedExpiration calculates the expiration value for Memcached.
// Memcached treats values > 30 days (60*60*24*30 seconds) as absolute Unix timestamps.
// Values <= 30 days are treated as a delta from the current time.
func calculateMemcachedExpiration(now time.Time, expiresAt time.Time, ttl time.Duration) int32 {
	const maxDelta = 30 * 24 * 60 * 60 // 30 days in seconds

	var duration time.Duration
	if !expiresAt.IsZero() {
		duration = expiresAt.Sub(now)
	} else {
		duration = ttl
	}

	// Past 30 days a delta would be read as a timestamp in 1970, i.e. already expired.
	if duration > maxDelta*time.Second {
		if !expiresAt.IsZero() {
			return int32(expiresAt.Unix())
		}
		return int32(now.Add(ttl).Unix())
	}

	if duration < 0 {
		return 0
	}
	return int32(duration.Seconds())
}
