package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shoeboxhq/shoebox-go/internal/broadcast"
	"github.com/shoeboxhq/shoebox-go/internal/entity"
)

func populated() *Cache {
	c := New()
	c.Put(entity.KindDevice, "d-1", "device one")
	c.Put(entity.KindDevice, "d-2", "device two")
	c.PutList(entity.KindDevice, []string{"d-1", "d-2"})
	c.Put(entity.KindReceipt, "r-1", "receipt one")
	c.PutList(entity.KindReceipt, []string{"r-1"})
	c.PutSetting("paused", false)

	return c
}

func TestGetPut_RoundTrip(t *testing.T) {
	t.Parallel()

	c := New()

	_, ok := c.Get(entity.KindReceipt, "r-1")
	require.False(t, ok)

	c.Put(entity.KindReceipt, "r-1", 42)

	v, ok := c.Get(entity.KindReceipt, "r-1")
	require.True(t, ok)
	assert.Equal(t, 42, v)

	hits, misses := c.Stats()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(1), misses)
}

func TestApplyMessage_EntityUpdateEvictsOnlyItsScope(t *testing.T) {
	t.Parallel()

	c := populated()

	c.ApplyMessage(broadcast.EntityUpdated(entity.KindDevice, "d-1"))

	// The updated device and the device list are gone.
	_, ok := c.Get(entity.KindDevice, "d-1")
	assert.False(t, ok)
	_, ok = c.GetList(entity.KindDevice)
	assert.False(t, ok)

	// The sibling device survives; an entity hint is not a kind-wide flush.
	_, ok = c.Get(entity.KindDevice, "d-2")
	assert.True(t, ok)

	// Unrelated kinds and settings are untouched.
	_, ok = c.Get(entity.KindReceipt, "r-1")
	assert.True(t, ok)
	_, ok = c.GetList(entity.KindReceipt)
	assert.True(t, ok)
	_, ok = c.GetSetting("paused")
	assert.True(t, ok)
}

func TestApplyMessage_DeleteEvictsEntity(t *testing.T) {
	t.Parallel()

	c := populated()

	c.ApplyMessage(broadcast.EntityDeleted(entity.KindDevice, "d-2"))

	_, ok := c.Get(entity.KindDevice, "d-2")
	assert.False(t, ok)
	_, ok = c.GetList(entity.KindDevice)
	assert.False(t, ok)
}

func TestApplyMessage_CreatedEvictsList(t *testing.T) {
	t.Parallel()

	c := populated()

	// A created entity has no cached entry yet, but every cached list of
	// its kind is now incomplete.
	c.ApplyMessage(broadcast.EntityCreated(entity.KindReceipt, "r-new"))

	_, ok := c.GetList(entity.KindReceipt)
	assert.False(t, ok)
	_, ok = c.Get(entity.KindReceipt, "r-1")
	assert.True(t, ok)
}

func TestApplyMessage_GlobalTypesClearEverything(t *testing.T) {
	t.Parallel()

	for _, msgType := range []string{broadcast.TypeSyncCompleted, broadcast.TypeAuthChanged} {
		c := populated()

		c.ApplyMessage(broadcast.Message{Type: msgType})

		_, ok := c.Get(entity.KindDevice, "d-1")
		assert.False(t, ok, "%s must clear entities", msgType)
		_, ok = c.GetSetting("paused")
		assert.False(t, ok, "%s must clear settings", msgType)
	}
}

func TestApplyMessage_SettingsChangedClearsOnlySettings(t *testing.T) {
	t.Parallel()

	c := populated()

	c.ApplyMessage(broadcast.Message{Type: broadcast.TypeSettingsChanged})

	_, ok := c.GetSetting("paused")
	assert.False(t, ok)
	_, ok = c.Get(entity.KindDevice, "d-1")
	assert.True(t, ok)
}

func TestApplyMessage_UnknownTypeIsIgnored(t *testing.T) {
	t.Parallel()

	c := populated()

	c.ApplyMessage(broadcast.Message{Type: "entity-archived"})

	_, ok := c.Get(entity.KindDevice, "d-1")
	assert.True(t, ok)
}
