/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package keeper

import (
	"context"
	"sort"

	"github.com/acronis/go-appkit/log"
)

type evictionCandidate struct {
	key  string
	rec  AccessRecord // zero value for untracked keys
	size int64
}

// SelectEvictionCandidates selects which keys to remove to relieve capacity pressure.
//
// keys is the full key enumeration of the medium, currentSize and maxSize its
// current and maximum size in bytes, requiredSpace the space needed for an
// in-flight write (0 if none). The returned keys are ordered by eviction
// priority; the caller is expected to delete them from the medium and then
// confirm with OnEvicted.
//
// Selection works in three tiers, stopping as soon as the accumulated item
// sizes cover the shortfall:
//
//  1. unimportant large keys, biggest first;
//  2. remaining unimportant keys, least recently used first;
//  3. important keys, least recently used first.
//
// Keys without an access record sort before all tracked keys within a tier:
// a key never accessed under the engine's watch is the most evictable.
// The medium is never cleaned below the retention fraction of its capacity,
// so no more keys are selected than necessary. The result may cover less than
// the shortfall when too few cleanable keys exist; this is not an error.
func (k *Keeper) SelectEvictionCandidates(
	ctx context.Context, keys []string, currentSize, maxSize, requiredSpace int64,
) []string {
	sweptKeys := make(map[string]struct{})
	if k.cfg.TimeCleanup.Enabled {
		removed, freed := k.sweepExpired(ctx)
		for _, key := range removed {
			sweptKeys[key] = struct{}{}
		}
		currentSize -= freed
	}

	cleanableKeys := make([]string, 0, len(keys))
	for _, key := range keys {
		if isSystemKey(key) || k.classifier.IsExcluded(key) {
			continue
		}
		if _, swept := sweptKeys[key]; swept {
			continue
		}
		cleanableKeys = append(cleanableKeys, key)
	}

	targetSize := int64(float64(maxSize) * retentionFraction)
	if withRequired := currentSize - requiredSpace; withRequired > targetSize {
		targetSize = withRequired
	}
	spaceToFree := currentSize - targetSize
	if spaceToFree <= 0 {
		return nil
	}

	candidates := make([]evictionCandidate, 0, len(cleanableKeys))
	k.mu.Lock()
	for _, key := range cleanableKeys {
		rec, _ := k.led.get(key)
		candidates = append(candidates, evictionCandidate{key: key, rec: rec, size: rec.Size})
	}
	k.mu.Unlock()
	for i := range candidates {
		if candidates[i].size <= 0 {
			candidates[i].size = k.estimateItemSize(ctx, candidates[i].key)
		}
	}

	var tierLarge, tierUnimportant, tierImportant []evictionCandidate
	for _, c := range candidates {
		switch {
		case k.classifier.IsUnimportant(c.key) && c.size > largeItemSizeBytes:
			tierLarge = append(tierLarge, c)
		case k.classifier.IsUnimportant(c.key):
			tierUnimportant = append(tierUnimportant, c)
		default:
			tierImportant = append(tierImportant, c)
		}
	}
	sort.Slice(tierLarge, func(i, j int) bool {
		if tierLarge[i].size != tierLarge[j].size {
			return tierLarge[i].size > tierLarge[j].size
		}
		return tierLarge[i].key < tierLarge[j].key
	})
	sortCandidatesLRU(tierUnimportant)
	sortCandidatesLRU(tierImportant)

	var selected []string
	var freedSpace int64
	takeFromTier := func(tier string, candidates []evictionCandidate) {
		taken := 0
		for _, c := range candidates {
			if freedSpace >= spaceToFree {
				break
			}
			selected = append(selected, c.key)
			freedSpace += c.size
			taken++
		}
		if taken > 0 {
			k.metrics.AddSelectedEvictions(tier, taken)
		}
	}
	takeFromTier(TierUnimportantLarge, tierLarge)
	takeFromTier(TierUnimportantLRU, tierUnimportant)
	takeFromTier(TierImportantLRU, tierImportant)

	if k.cfg.Debug {
		k.logger.Debug("eviction candidates selected",
			log.Int("candidates", len(selected)),
			log.Int64("space_to_free", spaceToFree),
			log.Int64("estimated_freed", freedSpace))
	}
	return selected
}

// sortCandidatesLRU orders candidates by ascending last access, breaking ties
// by ascending access count, then by key for determinism. Untracked keys carry
// a zero record and therefore sort first.
func sortCandidatesLRU(candidates []evictionCandidate) {
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.rec.LastAccess != b.rec.LastAccess {
			return a.rec.LastAccess < b.rec.LastAccess
		}
		if a.rec.AccessCount != b.rec.AccessCount {
			return a.rec.AccessCount < b.rec.AccessCount
		}
		return a.key < b.key
	})
}
