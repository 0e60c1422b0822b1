package cluster_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/yamt/toywasm-sub002/internal/cluster"
)

func TestAllocateTIDReusesReleasedIDsBeforeNewOnes(t *testing.T) {
	c := cluster.New(4)

	a, err := c.AllocateTID()
	require.NoError(t, err)
	b, err := c.AllocateTID()
	require.NoError(t, err)
	require.NotEqual(t, a, b)

	c.ReleaseTID(a)
	reused, err := c.AllocateTID()
	require.NoError(t, err)
	require.Equal(t, a, reused)
}

func TestReportTrapKeepsFirstTrap(t *testing.T) {
	c := cluster.New(4)
	require.False(t, c.Interrupted())

	first := errors.New("boom")
	second := errors.New("also boom")
	c.ReportTrap(first)
	c.ReportTrap(second)

	require.True(t, c.Interrupted())
	require.Equal(t, first, c.FirstTrap())
}

func TestThreadIDIsUniquePerSpawnedGoroutine(t *testing.T) {
	c := cluster.New(4)
	ids := make(chan uuid.UUID, 2)

	for i := 0; i < 2; i++ {
		err := c.Spawn(func(ctx context.Context) error {
			ids <- cluster.ThreadID(ctx)
			return nil
		})
		require.NoError(t, err)
	}
	require.NoError(t, c.Wait())
	close(ids)

	var got []uuid.UUID
	for id := range ids {
		require.NotEqual(t, uuid.UUID{}, id)
		got = append(got, id)
	}
	require.Len(t, got, 2)
	require.NotEqual(t, got[0], got[1])
}

func TestSpawnErrorSurfacesFromWaitAndReportsTrap(t *testing.T) {
	c := cluster.New(4)
	boom := errors.New("spawn failed")
	require.NoError(t, c.Spawn(func(ctx context.Context) error {
		return boom
	}))
	err := c.Wait()
	require.Error(t, err)
	require.True(t, c.Interrupted())
	require.Equal(t, boom, c.FirstTrap())
}
