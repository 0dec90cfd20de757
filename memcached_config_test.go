package attrsession

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestMemcachedStore_TimeoutConfig(t *testing.T) {
	t.Run("Default Timeout", func(t *testing.T) {
		store := NewMemcachedStore(time.Hour, "localhost:11211")

		// Inspect the unexported client field
		if store.client.Timeout != 1*time.Second {
			t.Errorf("Expected default timeout of 1s, got %v", store.client.Timeout)
		}
	})

	t.Run("Custom Timeout", func(t *testing.T) {
		timeout := 5 * time.Second
		store := NewMemcachedStoreWithConfig(MemcachedConfig{
			Servers: []string{"localhost:11211"},
			TTL:     time.Hour,
			Timeout: timeout,
		})

		if store.client.Timeout != timeout {
			t.Errorf("Expected timeout of %v, got %v", timeout, store.client.Timeout)
		}
	})

	t.Run("No Timeout (Explicit 0)", func(t *testing.T) {
		store := NewMemcachedStoreWithConfig(MemcachedConfig{
			Servers: []string{"localhost:11211"},
			TTL:     time.Hour,
			Timeout: 0,
		})

		if store.client.Timeout != 0 {
			t.Errorf("Expected timeout of 0, got %v", store.client.Timeout)
		}
	})
}

func TestMemcachedKey(t *testing.T) {
	if got := memcachedKey("session", "abc"); got != "7:session:abc" {
		t.Errorf("memcachedKey() = %q, want 7:session:abc", got)
	}

	// Length prefix keeps ("a:b", "c") and ("a", "b:c") apart.
	if memcachedKey("a:b", "c") == memcachedKey("a", "b:c") {
		t.Error("distinct domain/item pairs collided")
	}

	// Keys memcached would reject are hashed.
	for _, item := range []string{"with space", "new\nline", strings.Repeat("x", 300)} {
		key := memcachedKey("session", item)
		if !strings.HasPrefix(key, "h:") || len(key) > maxMemcachedKeyLength || !legalMemcachedKey(key) {
			t.Errorf("memcachedKey(%q) = %q, want hashed legal key", item, key)
		}
	}
}

func TestMemcachedItemCodec(t *testing.T) {
	value, err := encodeMemcachedItem(map[string]string{"id": "abc", "val": "{}"})
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	attrs, err := decodeMemcachedItem(value)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if attrs["id"] != "abc" || attrs["val"] != "{}" {
		t.Errorf("unexpected attributes: %v", attrs)
	}

	if _, err := decodeMemcachedItem([]byte("garbage")); err == nil {
		t.Error("expected decode error for garbage")
	}
}

func TestMemcachedStore_SelectUnsupported(t *testing.T) {
	store := NewMemcachedStore(time.Hour, "localhost:11211")
	if _, err := store.Select(context.Background(), SelectInput{Domain: "session"}); !errors.Is(err, ErrSelectUnsupported) {
		t.Errorf("expected ErrSelectUnsupported, got %v", err)
	}
}
