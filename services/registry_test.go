package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"jk-analytics/models"
)

func testDirectory() *memDirectory {
	return &memDirectory{complexes: []models.Complex{
		{ID: "101", Name: "Nurly Tau", City: "Almaty"},
		{ID: "102", Name: "Esentai City", City: "Almaty"},
		{ID: "201", Name: "Highvill", City: "Astana"},
	}}
}

func TestRegistryAddThenIsExcluded(t *testing.T) {
	ctx := context.Background()
	reg := NewExclusionRegistry(newMemExclusions(), testDirectory(), zap.NewNop())

	entry, created, err := reg.Add(ctx, "nurly tau", "bad data")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "101", entry.ComplexID)
	assert.Equal(t, "Nurly Tau", entry.ComplexName)

	for _, key := range []string{"101", "Nurly Tau", "NURLY TAU "} {
		excluded, err := reg.IsExcluded(ctx, key)
		require.NoError(t, err)
		assert.True(t, excluded, key)
	}

	excluded, err := reg.IsExcluded(ctx, "Esentai City")
	require.NoError(t, err)
	assert.False(t, excluded)
}

func TestRegistryAddTwiceIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := newMemExclusions()
	reg := NewExclusionRegistry(store, testDirectory(), zap.NewNop())

	_, created, err := reg.Add(ctx, "101", "first")
	require.NoError(t, err)
	assert.True(t, created)

	entry, created, err := reg.Add(ctx, "101", "second")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "second", entry.Reason)

	list, err := reg.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestRegistryRemove(t *testing.T) {
	ctx := context.Background()
	reg := NewExclusionRegistry(newMemExclusions(
		models.ExclusionEntry{ComplexID: "101", ComplexName: "Nurly Tau"},
	), testDirectory(), zap.NewNop())

	excluded, err := reg.IsExcluded(ctx, "Nurly Tau")
	require.NoError(t, err)
	assert.True(t, excluded)

	removed, err := reg.Remove(ctx, "nurly tau")
	require.NoError(t, err)
	assert.True(t, removed)

	excluded, err = reg.IsExcluded(ctx, "Nurly Tau")
	require.NoError(t, err)
	assert.False(t, excluded)

	removed, err = reg.Remove(ctx, "Nurly Tau")
	require.NoError(t, err)
	assert.False(t, removed)

	removed, err = reg.Remove(ctx, "Unknown JK")
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestRegistryUnknownComplex(t *testing.T) {
	reg := NewExclusionRegistry(newMemExclusions(), testDirectory(), zap.NewNop())

	_, err := reg.IsExcluded(context.Background(), "Unknown JK")
	assert.True(t, models.IsNotFound(err))

	_, _, err = reg.Add(context.Background(), "Unknown JK", "")
	assert.True(t, models.IsNotFound(err))
}

func TestRegistryCachesUntilChange(t *testing.T) {
	ctx := context.Background()
	store := newMemExclusions(models.ExclusionEntry{ComplexID: "201", ComplexName: "Highvill"})
	reg := NewExclusionRegistry(store, testDirectory(), zap.NewNop())

	for i := 0; i < 3; i++ {
		_, err := reg.IsExcludedComplex(ctx, models.Complex{ID: "201", Name: "Highvill"})
		require.NoError(t, err)
	}
	assert.Equal(t, 1, store.loads)

	_, _, err := reg.Add(ctx, "102", "")
	require.NoError(t, err)
	excluded, err := reg.IsExcludedComplex(ctx, models.Complex{ID: "102", Name: "Esentai City"})
	require.NoError(t, err)
	assert.True(t, excluded)
	assert.Equal(t, 2, store.loads)
}
