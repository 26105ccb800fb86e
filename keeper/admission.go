/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package keeper

// ShouldRejectInsertion reports whether a write of the key should be skipped
// entirely instead of performing a write-then-immediately-evict cycle.
// A write is rejected only when both hold: the key classifies as unimportant
// and the cached usage ratio exceeds the cleanup threshold.
//
// The check is cheap and synchronous: it reads only the engine's cached
// statistics and never touches the storage medium or triggers eviction.
func (k *Keeper) ShouldRejectInsertion(key string) bool {
	if k.classifier.IsExcluded(key) || isSystemKey(key) {
		return false
	}
	if !k.classifier.IsUnimportant(key) {
		return false
	}
	maxSize := int64(k.cfg.MaxStorageSize)
	if maxSize <= 0 {
		return false
	}
	usageRatio := float64(k.cachedTotalSize.Load()) / float64(maxSize)
	if usageRatio <= k.cfg.CleanupThreshold {
		return false
	}
	k.rejectedTotal.Inc()
	k.metrics.IncRejectedInsertions()
	if k.cfg.Debug {
		k.logger.Debugf("insertion of %q rejected (usage ratio %.2f above threshold %.2f)",
			key, usageRatio, k.cfg.CleanupThreshold)
	}
	return true
}
