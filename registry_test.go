package attrsession

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry(t *testing.T) {
	store := NewMemoryStore()
	reg, err := NewRegistry(store, "users", "session", "users")
	require.NoError(t, err)

	assert.Equal(t, []string{"session", "users"}, reg.Names())

	d, err := reg.Lookup("session")
	require.NoError(t, err)
	assert.Equal(t, "session", d.Name())

	_, err = reg.Lookup("orders")
	assert.ErrorIs(t, err, ErrDomainNotFound)
}

func TestRegistry_InvalidName(t *testing.T) {
	_, err := NewRegistry(NewMemoryStore(), "session", "")
	assert.ErrorIs(t, err, ErrInvalidDomain)
}

func TestRegistry_CreateAndDestroy(t *testing.T) {
	store := NewMemoryStore()
	reg, err := NewRegistry(store, "session", "users")
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, reg.CreateAll(ctx))

	users, err := reg.Lookup("users")
	require.NoError(t, err)
	require.NoError(t, users.Update(ctx, "u1", map[string]string{"name": "alice"}))

	require.NoError(t, reg.DestroyAll(ctx))
	got, err := users.GetConsistent(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRegistry_AdminUnsupported(t *testing.T) {
	reg, err := NewRegistry(NewMemcachedStore(time.Hour, "127.0.0.1:1"), "session")
	require.NoError(t, err)

	assert.ErrorIs(t, reg.CreateAll(context.Background()), ErrDomainAdminUnsupported)
	assert.ErrorIs(t, reg.DestroyAll(context.Background()), ErrDomainAdminUnsupported)
}
