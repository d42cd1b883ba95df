package cache

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/evalgo-org/evalcore/variables"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisMirrorPublishAndRangeNearby(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	ctx := context.Background()
	m, err := NewRedisMirror(ctx, RedisMirrorConfig{RedisURL: "redis://" + mr.Addr() + "/0"})
	require.NoError(t, err)
	defer m.Close()

	pairs := []Pair{
		{EvaluationID: 1, InterfaceID: "f", Variables: variables.Set{Continuous: []float64{1.0}}},
		{EvaluationID: 2, InterfaceID: "f", Variables: variables.Set{Continuous: []float64{5.0}}},
		{EvaluationID: 3, InterfaceID: "f", Variables: variables.Set{Continuous: []float64{9.0}}},
	}
	for _, p := range pairs {
		require.NoError(t, m.Publish(ctx, p))
	}

	ids, err := m.RangeNearby(ctx, 1.0, 0.5)
	require.NoError(t, err)
	assert.Equal(t, []string{"1"}, ids)

	ids, err = m.RangeNearby(ctx, 5.0, 5.0)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"1", "2", "3"}, ids)
}

func TestCacheSetMirrorPublishesOnInsert(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	ctx := context.Background()
	m, err := NewRedisMirror(ctx, RedisMirrorConfig{RedisURL: "redis://" + mr.Addr() + "/0", SetKey: "test:nearby"})
	require.NoError(t, err)
	defer m.Close()

	c := New(nil, nil)
	c.SetMirror(m)

	require.NoError(t, c.Insert(Pair{EvaluationID: 1, InterfaceID: "f", Variables: variables.Set{Continuous: []float64{2.5}}}))

	ids, err := m.RangeNearby(ctx, 2.5, 0.1)
	require.NoError(t, err)
	assert.Equal(t, []string{"1"}, ids)
}
