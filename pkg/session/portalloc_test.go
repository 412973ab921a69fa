package session

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPortAllocatorExhaustion(t *testing.T) {
	a := NewPortAllocator(7000, 7001)

	p1, err := a.Allocate()
	require.NoError(t, err)
	p2, err := a.Allocate()
	require.NoError(t, err)
	require.NotEqual(t, p1, p2)
	require.Contains(t, []int{7000, 7001}, p1)
	require.Contains(t, []int{7000, 7001}, p2)

	_, err = a.Allocate()
	require.Error(t, err)
}

func TestPortAllocatorReleaseAndReuse(t *testing.T) {
	a := NewPortAllocator(9000, 9000)

	p1, err := a.Allocate()
	require.NoError(t, err)

	_, err = a.Allocate()
	require.Error(t, err)

	a.Release(p1)

	p2, err := a.Allocate()
	require.NoError(t, err)
	require.Equal(t, p1, p2)
}

func TestPortAllocatorPairRollsBackOnFailure(t *testing.T) {
	a := NewPortAllocator(1000, 1000)

	_, _, err := a.AllocatePair()
	require.Error(t, err)

	p, err := a.Allocate()
	require.NoError(t, err)
	require.Equal(t, 1000, p)
}
