/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package keeper

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/acronis/go-storekeeper/storage"
)

func TestTriggerExpirySweep(t *testing.T) {
	ctx := context.Background()
	cfg := NewDefaultConfig()
	cfg.ExcludeKeys = []string{"session:*"}
	backend := storage.NewMemory()
	for _, key := range []string{"fresh", "stale", "ghost", "session:abc"} {
		require.NoError(t, backend.Set(ctx, key, "v"))
	}
	k, clock := makeKeeper(t, cfg, backend)

	k.RecordAccess(ctx, "fresh", 10)
	k.RecordAccess(ctx, "stale", 10)
	clock.Advance(8 * 24 * time.Hour)
	k.RecordAccess(ctx, "fresh", 0)

	// "stale" aged out, "ghost" was written outside the engine's observation.
	removed := k.TriggerExpirySweep(ctx)
	require.ElementsMatch(t, []string{"stale", "ghost"}, removed)

	for _, key := range removed {
		_, found, err := backend.Get(ctx, key)
		require.NoError(t, err)
		require.False(t, found)
	}
	_, ok := k.Record("stale")
	require.False(t, ok)

	// Fresh, excluded and system keys are untouched.
	_, found, err := backend.Get(ctx, "fresh")
	require.NoError(t, err)
	require.True(t, found)
	_, found, err = backend.Get(ctx, "session:abc")
	require.NoError(t, err)
	require.True(t, found)

	require.EqualValues(t, 2, k.Stats().ExpiredKeys)
}

func TestTriggerExpirySweepNothingExpired(t *testing.T) {
	ctx := context.Background()
	backend := storage.NewMemory()
	require.NoError(t, backend.Set(ctx, "a", "v"))
	k, clock := makeKeeper(t, NewDefaultConfig(), backend)

	k.RecordAccess(ctx, "a", 10)
	clock.Advance(time.Hour)

	require.Empty(t, k.TriggerExpirySweep(ctx))
	require.Equal(t, 1, k.TrackedKeys())
}

func TestRecordAccessSweepsOnInsert(t *testing.T) {
	ctx := context.Background()
	cfg := NewDefaultConfig()
	cfg.TimeCleanup.Enabled = true
	cfg.TimeCleanup.SweepOnInsert = true
	backend := storage.NewMemory()
	require.NoError(t, backend.Set(ctx, "old", "v"))
	k, clock := makeKeeper(t, cfg, backend)

	k.RecordAccess(ctx, "old", 10)
	clock.Advance(8 * 24 * time.Hour)

	// Tracking a brand-new key triggers the sweep that sheds the expired one.
	k.RecordAccess(ctx, "new", 10)

	_, found, err := backend.Get(ctx, "old")
	require.NoError(t, err)
	require.False(t, found)
	_, ok := k.Record("old")
	require.False(t, ok)
	_, ok = k.Record("new")
	require.True(t, ok)
}
