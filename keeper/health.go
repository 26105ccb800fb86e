/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package keeper

import (
	"context"
	"fmt"
	"time"

	"github.com/acronis/go-appkit/log"
)

// Synthetic records created for keys found in the medium without a ledger entry
// are backdated by one day: old enough to not starve newly written data of
// eviction priority, recent enough to not be purged instantly.
const initializeBackdate = 24 * time.Hour

// rebuildLookback is the window over which a ledger rebuild spreads the
// randomized last-access times, avoiding a synchronized mass eviction
// on the next capacity check.
const rebuildLookback = 7 * 24 * time.Hour

// HealthReport describes the divergence between the ledger and the storage medium.
type HealthReport struct {
	// TotalKeys is the number of cleanable keys present in the medium.
	TotalKeys int

	// TrackedKeys is the number of keys tracked in the ledger.
	TrackedKeys int

	// MissingRecords is the number of storage keys with no ledger entry.
	MissingRecords int

	// CorruptedRecords is the number of ledger entries failing structural validation.
	CorruptedRecords int

	// IsHealthy is true iff there are no missing and no corrupted records.
	IsHealthy bool
}

// String implements fmt.Stringer interface.
func (r HealthReport) String() string {
	return fmt.Sprintf("%d keys, %d tracked, %d missing, %d corrupted, healthy=%t",
		r.TotalKeys, r.TrackedKeys, r.MissingRecords, r.CorruptedRecords, r.IsHealthy)
}

// RepairAction is the action the repair decision tree chose to execute.
type RepairAction string

// Possible repair actions.
const (
	RepairActionNone       RepairAction = "none"
	RepairActionInitialize RepairAction = "initialize"
	RepairActionRebuild    RepairAction = "rebuild"
)

// CheckHealth compares the ledger against the medium's key enumeration and
// validates the structure of all tracked records.
func (k *Keeper) CheckHealth(ctx context.Context) (HealthReport, error) {
	keys, err := k.backend.Keys(ctx)
	if err != nil {
		return HealthReport{}, fmt.Errorf("enumerate storage keys: %w", err)
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	var report HealthReport
	for _, key := range keys {
		if isSystemKey(key) || k.classifier.IsExcluded(key) {
			continue
		}
		report.TotalKeys++
		if _, tracked := k.led.get(key); !tracked {
			report.MissingRecords++
		}
	}
	report.TrackedKeys = k.led.len()
	for _, rec := range k.led.records {
		if !rec.isValid() {
			report.CorruptedRecords++
		}
	}
	report.IsHealthy = report.MissingRecords == 0 && report.CorruptedRecords == 0
	return report, nil
}

// Repair runs the deterministic repair decision tree:
//
//   - any corrupted records, or more than half of the keys missing from the
//     ledger, discard the ledger and rebuild it from the medium's contents
//     with randomized recency spread over the lookback window;
//   - otherwise, when some records are missing, initialize synthetic backdated
//     records for the missing keys without touching existing ones;
//   - otherwise do nothing.
//
// Returns the executed action.
func (k *Keeper) Repair(ctx context.Context) (RepairAction, error) {
	report, err := k.CheckHealth(ctx)
	if err != nil {
		return RepairActionNone, err
	}

	var action RepairAction
	switch {
	case report.CorruptedRecords > 0 || report.MissingRecords*2 > report.TotalKeys:
		action = RepairActionRebuild
		err = k.rebuildLedger(ctx)
	case report.MissingRecords > 0:
		action = RepairActionInitialize
		err = k.initializeMissing(ctx)
	default:
		return RepairActionNone, nil
	}
	if err != nil {
		return action, err
	}

	k.metrics.IncRepairs(string(action))
	k.metrics.SetTrackedKeysAmount(k.TrackedKeys())
	k.persist.Schedule()
	k.logger.Info("ledger repaired",
		log.String("action", string(action)), log.String("health", report.String()))
	return action, nil
}

// InitializeFromExistingKeys creates synthetic access records for all keys
// present in the medium that are not tracked yet. It is meant to be called
// when the engine starts managing a medium that already holds data.
func (k *Keeper) InitializeFromExistingKeys(ctx context.Context) error {
	if err := k.initializeMissing(ctx); err != nil {
		return err
	}
	k.metrics.SetTrackedKeysAmount(k.TrackedKeys())
	k.persist.Schedule()
	return nil
}

func (k *Keeper) initializeMissing(ctx context.Context) error {
	keys, err := k.backend.Keys(ctx)
	if err != nil {
		return fmt.Errorf("enumerate storage keys: %w", err)
	}
	lastAccess := k.now().Add(-initializeBackdate).UnixMilli()

	for _, key := range keys {
		if isSystemKey(key) || k.classifier.IsExcluded(key) {
			continue
		}
		k.mu.Lock()
		_, tracked := k.led.get(key)
		k.mu.Unlock()
		if tracked {
			continue
		}
		size := k.estimateItemSize(ctx, key)
		k.mu.Lock()
		k.led.put(key, AccessRecord{LastAccess: lastAccess, AccessCount: 1, Size: size})
		k.mu.Unlock()
	}
	return nil
}

func (k *Keeper) rebuildLedger(ctx context.Context) error {
	keys, err := k.backend.Keys(ctx)
	if err != nil {
		return fmt.Errorf("enumerate storage keys: %w", err)
	}
	nowMs := k.now().UnixMilli()
	lookbackMs := rebuildLookback.Milliseconds()

	fresh := newLedger()
	for _, key := range keys {
		if isSystemKey(key) || k.classifier.IsExcluded(key) {
			continue
		}
		fresh.put(key, AccessRecord{
			LastAccess:  nowMs - k.rnd.Int63n(lookbackMs),
			AccessCount: uint32(1 + k.rnd.Intn(5)),
			Size:        k.estimateItemSize(ctx, key),
		})
	}

	k.mu.Lock()
	k.led = fresh
	k.mu.Unlock()
	return nil
}

// CleanupOrphaned deletes ledger entries whose keys no longer exist in the
// medium (removed by paths outside the engine's observation).
// Returns the number of dropped entries.
func (k *Keeper) CleanupOrphaned(ctx context.Context) (int, error) {
	keys, err := k.backend.Keys(ctx)
	if err != nil {
		return 0, fmt.Errorf("enumerate storage keys: %w", err)
	}
	present := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		present[key] = struct{}{}
	}

	k.mu.Lock()
	orphaned := 0
	for key := range k.led.records {
		if _, found := present[key]; !found {
			k.led.remove(key)
			orphaned++
		}
	}
	trackedKeys := k.led.len()
	k.mu.Unlock()

	if orphaned == 0 {
		return 0, nil
	}
	k.metrics.SetTrackedKeysAmount(trackedKeys)
	k.persist.Schedule()
	if k.cfg.Debug {
		k.logger.Debugf("dropped %d orphaned ledger entries", orphaned)
	}
	return orphaned, nil
}
