/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package keeper

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAccessRecordWeight(t *testing.T) {
	tests := []struct {
		name       string
		rec        AccessRecord
		wantWeight int64
	}{
		{
			name:       "single access",
			rec:        AccessRecord{LastAccess: 1000, AccessCount: 1},
			wantWeight: 1000 + 60_000,
		},
		{
			name:       "each access is worth one minute of recency",
			rec:        AccessRecord{LastAccess: 1000, AccessCount: 5},
			wantWeight: 1000 + 5*60_000,
		},
		{
			name:       "frequent old record outweighs fresh rare one",
			rec:        AccessRecord{LastAccess: 0, AccessCount: 10},
			wantWeight: 600_000,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.wantWeight, tt.rec.Weight())
		})
	}
}

func TestAccessRecordIsLarge(t *testing.T) {
	require.False(t, AccessRecord{Size: 5 * 1024}.IsLarge())
	require.True(t, AccessRecord{Size: 5*1024 + 1}.IsLarge())
}

func TestLedgerTouch(t *testing.T) {
	l := newLedger()

	created, sizeDelta := l.touch("k1", 1000, 100)
	require.True(t, created)
	require.EqualValues(t, 100, sizeDelta)
	rec, ok := l.get("k1")
	require.True(t, ok)
	require.Equal(t, AccessRecord{LastAccess: 1000, AccessCount: 1, Size: 100}, rec)

	// Refresh moves last access forward and increments the counter.
	created, sizeDelta = l.touch("k1", 2000, 0)
	require.False(t, created)
	require.Zero(t, sizeDelta)
	rec, _ = l.get("k1")
	require.Equal(t, AccessRecord{LastAccess: 2000, AccessCount: 2, Size: 100}, rec)

	// A new size hint updates the known size and reports the delta.
	_, sizeDelta = l.touch("k1", 3000, 250)
	require.EqualValues(t, 150, sizeDelta)
	rec, _ = l.get("k1")
	require.Equal(t, AccessRecord{LastAccess: 3000, AccessCount: 3, Size: 250}, rec)
}

func TestLedgerRemoveIdempotent(t *testing.T) {
	l := newLedger()
	l.touch("k1", 1000, 0)
	require.Equal(t, 1, l.len())
	l.remove("k1")
	l.remove("k1")
	require.Equal(t, 0, l.len())
	_, ok := l.get("k1")
	require.False(t, ok)
}

func TestAccessRecordIsValid(t *testing.T) {
	require.True(t, AccessRecord{LastAccess: 1, AccessCount: 1}.isValid())
	require.False(t, AccessRecord{LastAccess: 0, AccessCount: 1}.isValid())
	require.False(t, AccessRecord{LastAccess: 1, AccessCount: 0}.isValid())
}
