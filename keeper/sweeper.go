/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package keeper

import (
	"context"

	"github.com/acronis/go-appkit/log"
)

// TriggerExpirySweep removes all expired keys from the medium and the ledger,
// regardless of whether time-based cleanup is enabled. A key is expired when
// its last access is older than the configured max age, or when it has no
// access record at all (written outside the engine's observation).
// The sweep consults only recency, never capacity. Returns the removed keys.
func (k *Keeper) TriggerExpirySweep(ctx context.Context) []string {
	removed, _ := k.sweepExpired(ctx)
	return removed
}

func (k *Keeper) sweepExpired(ctx context.Context) (removed []string, freed int64) {
	keys, err := k.backend.Keys(ctx)
	if err != nil {
		k.logger.Error("expiry sweep: failed to enumerate storage keys", log.Error(err))
		return nil, 0
	}

	maxAgeMs := k.cfg.TimeCleanup.MaxAge().Milliseconds()
	nowMs := k.now().UnixMilli()

	for _, key := range keys {
		if isSystemKey(key) || k.classifier.IsExcluded(key) {
			continue
		}
		k.mu.Lock()
		rec, tracked := k.led.get(key)
		k.mu.Unlock()
		if tracked && nowMs-rec.LastAccess <= maxAgeMs {
			continue
		}
		if removeErr := k.backend.Remove(ctx, key); removeErr != nil {
			// The key stays in the ledger so that the ledger and the medium do not diverge.
			k.logger.Warn("expiry sweep: failed to remove key",
				log.String("key", key), log.Error(removeErr))
			continue
		}
		k.mu.Lock()
		k.led.remove(key)
		k.mu.Unlock()
		removed = append(removed, key)
		if tracked {
			freed += rec.Size
		}
	}
	if len(removed) == 0 {
		return nil, 0
	}

	if freed != 0 {
		k.cachedTotalSize.Add(-freed)
	}
	k.expiredTotal.Add(int64(len(removed)))
	k.metrics.AddExpiredKeys(len(removed))
	k.metrics.SetTrackedKeysAmount(k.TrackedKeys())
	k.persist.Schedule()

	if k.cfg.Debug {
		k.logger.Debugf("expiry sweep removed %d keys", len(removed))
	}
	return removed, freed
}
