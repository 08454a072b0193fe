package gateway

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRegistryParkAndTake(t *testing.T) {
	r := newRegistry(time.Minute)

	r.park("s1", parked{})

	_, ok := r.take("s1")
	require.True(t, ok)

	// Claimed exactly once.
	_, ok = r.take("s1")
	require.False(t, ok)
}

func TestRegistryExpiry(t *testing.T) {
	r := newRegistry(time.Minute)
	now := time.Unix(1000, 0)
	r.now = func() time.Time { return now }

	r.park("s1", parked{})
	now = now.Add(2 * time.Minute)

	_, ok := r.take("s1")
	require.False(t, ok)
}

func TestRegistrySweep(t *testing.T) {
	r := newRegistry(time.Minute)
	now := time.Unix(1000, 0)
	r.now = func() time.Time { return now }

	r.park("old", parked{})
	now = now.Add(2 * time.Minute)
	r.park("fresh", parked{})

	r.sweep()

	require.Equal(t, 1, r.len())
	_, ok := r.take("fresh")
	require.True(t, ok)
}
