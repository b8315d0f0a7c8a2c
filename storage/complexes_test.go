package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jk-analytics/models"
)

func seedComplexes(t *testing.T, s *Store) {
	t.Helper()
	for _, c := range []models.Complex{
		{ID: "1121", Name: "Nurly Tau", City: "Almaty", District: "Bostandyk"},
		{ID: "2242", Name: "Esentai City", City: "Almaty", District: "Medeu"},
		{ID: "3363", Name: "Highvill", City: "Astana", District: "Yesil"},
	} {
		require.NoError(t, s.UpsertComplex(context.Background(), c))
	}
}

func TestResolveComplexByIDOrName(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seedComplexes(t, s)

	c, err := s.ResolveComplex(ctx, "2242")
	require.NoError(t, err)
	assert.Equal(t, "Esentai City", c.Name)

	c, err = s.ResolveComplex(ctx, "  nurly tau ")
	require.NoError(t, err)
	assert.Equal(t, "1121", c.ID)

	_, err = s.ResolveComplex(ctx, "Unknown JK")
	assert.True(t, models.IsNotFound(err))
}

func TestResolveComplexCyrillicName(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.UpsertComplex(ctx, models.Complex{ID: "777", Name: "Нурлы Тау", City: "Алматы"}))

	for _, key := range []string{"Нурлы Тау", "нурлы тау", "НУРЛЫ  ТАУ"} {
		c, err := s.ResolveComplex(ctx, key)
		require.NoError(t, err, key)
		assert.Equal(t, "777", c.ID, key)
	}

	require.NoError(t, s.UpsertComplex(ctx, models.Complex{ID: "777", Name: "Нурлы Тау Премиум", City: "Алматы"}))
	_, err := s.ResolveComplex(ctx, "нурлы тау")
	assert.True(t, models.IsNotFound(err), "rename refreshes the lookup key")
	c, err := s.ResolveComplex(ctx, "НУРЛЫ ТАУ ПРЕМИУМ")
	require.NoError(t, err)
	assert.Equal(t, "777", c.ID)
}

func TestNameKey(t *testing.T) {
	assert.Equal(t, "esentai city", NameKey("  Esentai   City "))
	assert.Equal(t, "хайвилл астана", NameKey("Хайвилл Астана"))
}

func TestListComplexesByCity(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seedComplexes(t, s)

	all, err := s.ListComplexes(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	almaty, err := s.ListComplexes(ctx, []string{"Almaty"})
	require.NoError(t, err)
	require.Len(t, almaty, 2)
	assert.Equal(t, "Esentai City", almaty[0].Name)
}

func TestUpsertComplexRefreshes(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seedComplexes(t, s)

	require.NoError(t, s.UpsertComplex(ctx, models.Complex{ID: "3363", Name: "Highvill Ishim", City: "Astana"}))

	c, err := s.ResolveComplex(ctx, "3363")
	require.NoError(t, err)
	assert.Equal(t, "Highvill Ishim", c.Name)

	err = s.UpsertComplex(ctx, models.Complex{Name: "no id"})
	assert.True(t, models.IsValidation(err))
}

type countingSource struct {
	*Store
	resolves int
}

func (c *countingSource) ResolveComplex(ctx context.Context, key string) (models.Complex, error) {
	c.resolves++
	return c.Store.ResolveComplex(ctx, key)
}

func TestCachedDirectory(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seedComplexes(t, s)
	src := &countingSource{Store: s}
	dir := NewCachedDirectory(src, time.Minute)

	for i := 0; i < 3; i++ {
		c, err := dir.Resolve(ctx, "Nurly Tau")
		require.NoError(t, err)
		assert.Equal(t, "1121", c.ID)
	}
	assert.Equal(t, 1, src.resolves)

	_, err := dir.Resolve(ctx, "Unknown")
	assert.True(t, models.IsNotFound(err))
	_, _ = dir.Resolve(ctx, "Unknown")
	assert.Equal(t, 3, src.resolves, "misses are not cached")

	require.NoError(t, dir.Upsert(ctx, models.Complex{ID: "1121", Name: "Nurly Tau 2", City: "Almaty"}))
	c, err := dir.Resolve(ctx, "1121")
	require.NoError(t, err)
	assert.Equal(t, "Nurly Tau 2", c.Name)
}

func TestExclusionPersistence(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	at := time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)
	created, err := s.SaveExclusion(ctx, models.ExclusionEntry{ComplexID: "1121", ComplexName: "Nurly Tau", Reason: "fake listings", ExcludedAt: at})
	require.NoError(t, err)
	assert.True(t, created)

	created, err = s.SaveExclusion(ctx, models.ExclusionEntry{ComplexID: "1121", ComplexName: "Nurly Tau", Reason: "agency spam", ExcludedAt: at.Add(time.Hour)})
	require.NoError(t, err)
	assert.False(t, created)

	list, err := s.ListExclusions(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "agency spam", list[0].Reason)
	assert.True(t, list[0].ExcludedAt.Equal(at.Add(time.Hour)))

	removed, err := s.DeleteExclusion(ctx, "1121")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = s.DeleteExclusion(ctx, "1121")
	require.NoError(t, err)
	assert.False(t, removed)
}
