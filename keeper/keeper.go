/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package keeper

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"code.cloudfoundry.org/bytefmt"
	"github.com/cenkalti/backoff/v4"
	"github.com/rs/xid"
	"go.uber.org/atomic"

	"github.com/acronis/go-appkit/config"
	"github.com/acronis/go-appkit/log"
	"github.com/acronis/go-appkit/lrucache"
	"github.com/acronis/go-appkit/retry"

	"github.com/acronis/go-storekeeper/storage"
)

// reservedKeyPrefix marks system keys the engine stores for itself.
// Such keys are never tracked and never evicted.
const reservedKeyPrefix = "__storekeeper."

// SnapshotKey is the reserved storage key under which the ledger snapshot is persisted.
const SnapshotKey = reservedKeyPrefix + "snapshot"

const (
	// retentionFraction is how full the medium is allowed to stay after a cleanup:
	// eviction always cleans down to at least 80% of capacity.
	retentionFraction = 0.8

	// defaultEstimatedItemSizeBytes is the size assumed for an item
	// whose size cannot be determined from the medium.
	defaultEstimatedItemSizeBytes = 1024

	sizeCacheMaxEntries = 4096

	persistRetryInterval    = 100 * time.Millisecond
	persistRetryMaxAttempts = 2

	closeFlushTimeout = 2 * time.Second
)

func isSystemKey(key string) bool {
	return strings.HasPrefix(key, reservedKeyPrefix)
}

// Keeper maintains a size-bounded key/value storage medium by tracking per-key
// usage in a ledger and selecting the least valuable keys for eviction when the
// caller detects capacity pressure. It owns exactly one ledger; multiple
// independent engines (one per medium) can coexist.
//
// All exported methods are safe for concurrent use. Ledger persistence is
// debounced: mutations within the configured window coalesce into one snapshot
// write, and Flush forces a pending write synchronously.
type Keeper struct {
	cfg        *Config
	backend    storage.Backend
	logger     log.FieldLogger
	metrics    MetricsCollector
	classifier *keyClassifier
	sizeCache  *lrucache.LRUCache[string, int64]
	persist    *debouncer
	rnd        *rand.Rand
	now        func() time.Time

	mu     sync.Mutex
	led    *ledger
	closed bool

	cachedTotalSize atomic.Int64
	evictedTotal    atomic.Int64
	expiredTotal    atomic.Int64
	rejectedTotal   atomic.Int64
}

// Opts represents options for the keeper engine.
type Opts struct {
	// MetricsCollector is used to collect statistics about the engine's work.
	// It can be nil, in this case, metrics will be disabled.
	MetricsCollector MetricsCollector

	// NowProvider substitutes the time source, mainly for deterministic tests.
	NowProvider func() time.Time

	// Rand substitutes the randomness source used by ledger rebuilds,
	// mainly for deterministic tests.
	Rand *rand.Rand
}

// New creates a new keeper engine managing the provided storage backend.
func New(backend storage.Backend, cfg *Config, logger log.FieldLogger) (*Keeper, error) {
	return NewWithOpts(backend, cfg, logger, Opts{})
}

// NewWithOpts creates a new keeper engine with an ability to specify different optional parameters.
func NewWithOpts(backend storage.Backend, cfg *Config, logger log.FieldLogger, opts Opts) (*Keeper, error) {
	if backend == nil {
		return nil, fmt.Errorf("backend must not be nil")
	}
	if cfg == nil {
		cfg = NewDefaultConfig()
	}
	cfgCopy := *cfg
	if cfgCopy.MaxStorageSize == 0 {
		cfgCopy.MaxStorageSize = DefaultMaxStorageSize
	}
	if cfgCopy.CleanupThreshold == 0 {
		cfgCopy.CleanupThreshold = DefaultCleanupThreshold
	}
	if cfgCopy.CleanupThreshold < 0 || cfgCopy.CleanupThreshold > 1 {
		return nil, fmt.Errorf("cleanupThreshold must be in range (0, 1]")
	}
	if cfgCopy.MaxLedgerEntries == 0 {
		cfgCopy.MaxLedgerEntries = DefaultMaxLedgerEntries
	}
	if cfgCopy.MaxLedgerEntries < 0 {
		return nil, fmt.Errorf("maxLedgerEntries must be greater than 0")
	}
	if cfgCopy.PersistDebounce <= 0 {
		cfgCopy.PersistDebounce = config.TimeDuration(DefaultPersistDebounce)
	}
	if cfgCopy.TimeCleanup.MaxAgeDays == 0 {
		cfgCopy.TimeCleanup.MaxAgeDays = DefaultTimeCleanupMaxAgeDays
	}
	if cfgCopy.TimeCleanup.MaxAgeDays < 0 {
		return nil, fmt.Errorf("timeCleanup.maxAgeDays must be greater than 0")
	}
	if logger == nil {
		logger = log.NewDisabledLogger()
	}
	metricsCollector := opts.MetricsCollector
	if metricsCollector == nil {
		metricsCollector = disabledMetrics{}
	}
	nowProvider := opts.NowProvider
	if nowProvider == nil {
		nowProvider = time.Now
	}
	rnd := opts.Rand
	if rnd == nil {
		rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	sizeCache, err := lrucache.New[string, int64](sizeCacheMaxEntries, nil)
	if err != nil {
		return nil, fmt.Errorf("create item size cache: %w", err)
	}

	k := &Keeper{
		cfg:        &cfgCopy,
		backend:    backend,
		logger:     logger.With(log.String("instance_id", xid.New().String())),
		metrics:    metricsCollector,
		classifier: newKeyClassifier(cfgCopy.ExcludeKeys, cfgCopy.UnimportantKeys),
		sizeCache:  sizeCache,
		rnd:        rnd,
		now:        nowProvider,
		led:        newLedger(),
	}
	k.persist = newDebouncer(time.Duration(cfgCopy.PersistDebounce), func() {
		_ = k.persistNow(context.Background())
	})

	k.logger.Info("keeper engine created",
		log.String("storage_max_size", bytefmt.ByteSize(uint64(cfgCopy.MaxStorageSize))),
		log.Int("max_ledger_entries", cfgCopy.MaxLedgerEntries))
	return k, nil
}

// RecordAccess creates or refreshes the access record of the key and schedules
// a debounced snapshot persist. System and excluded keys are ignored.
// A positive sizeHint updates the known item size.
//
// When time-based cleanup is enabled with sweepOnInsert, a first-time access
// additionally triggers an expiry sweep.
func (k *Keeper) RecordAccess(ctx context.Context, key string, sizeHint int64) {
	if isSystemKey(key) || k.classifier.IsExcluded(key) {
		return
	}

	k.mu.Lock()
	if k.closed {
		k.mu.Unlock()
		return
	}
	created, sizeDelta := k.led.touch(key, k.now().UnixMilli(), sizeHint)
	trackedKeys := k.led.len()
	k.mu.Unlock()

	if sizeDelta != 0 {
		k.cachedTotalSize.Add(sizeDelta)
	}
	k.metrics.SetTrackedKeysAmount(trackedKeys)
	k.persist.Schedule()

	if created && k.cfg.TimeCleanup.Enabled && k.cfg.TimeCleanup.SweepOnInsert {
		k.sweepExpired(ctx)
	}
}

// Record returns the access record tracked for the key.
func (k *Keeper) Record(key string) (AccessRecord, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.led.get(key)
}

// TrackedKeys returns the number of keys tracked in the ledger.
func (k *Keeper) TrackedKeys() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.led.len()
}

// OnEvicted tells the engine that the caller deleted the keys from the medium.
// The corresponding access records are dropped; unknown keys are ignored.
func (k *Keeper) OnEvicted(keys []string) {
	k.mu.Lock()
	var freed int64
	removed := 0
	for _, key := range keys {
		if rec, ok := k.led.get(key); ok {
			freed += rec.Size
			k.led.remove(key)
			removed++
		}
	}
	trackedKeys := k.led.len()
	k.mu.Unlock()

	if removed == 0 {
		return
	}
	if freed != 0 {
		k.cachedTotalSize.Add(-freed)
	}
	k.evictedTotal.Add(int64(removed))
	k.metrics.SetTrackedKeysAmount(trackedKeys)
	k.persist.Schedule()
}

// Load populates the ledger from the persisted snapshot and refreshes the
// cached usage statistics. A missing, malformed or unknown-version snapshot
// is not an error: the repair decision tree reconstructs the ledger from the
// medium's current contents. Load is supposed to be called once at startup.
func (k *Keeper) Load(ctx context.Context) error {
	raw, found, err := k.backend.Get(ctx, SnapshotKey)
	if err != nil {
		k.logger.Error("failed to read ledger snapshot, starting empty", log.Error(err))
		found = false
	}
	if found {
		led, decodeErr := decodeLedger([]byte(raw))
		if decodeErr != nil {
			k.metrics.IncSnapshotLoadFailures()
			k.logger.Warn("ledger snapshot is malformed, ledger will be rebuilt", log.Error(decodeErr))
		} else {
			k.mu.Lock()
			k.led = led
			k.mu.Unlock()
		}
	}

	if totalSize, sizeErr := k.backend.TotalSize(ctx); sizeErr != nil {
		k.logger.Warn("failed to query storage total size", log.Error(sizeErr))
	} else {
		k.cachedTotalSize.Store(totalSize)
	}
	k.metrics.SetTrackedKeysAmount(k.TrackedKeys())

	action, repairErr := k.Repair(ctx)
	if repairErr != nil {
		return fmt.Errorf("repair ledger after load: %w", repairErr)
	}
	k.logger.Info("ledger snapshot loaded",
		log.Int("tracked_keys", k.TrackedKeys()), log.String("repair_action", string(action)))
	return nil
}

// Flush cancels any pending debounced persist and writes the snapshot synchronously.
// Callers should invoke it before teardown to not lose the most recent access updates.
func (k *Keeper) Flush(ctx context.Context) error {
	k.persist.Stop()
	return k.persistNow(ctx)
}

// Close flushes the ledger snapshot and stops accepting access records.
func (k *Keeper) Close() error {
	k.mu.Lock()
	if k.closed {
		k.mu.Unlock()
		return nil
	}
	k.closed = true
	k.mu.Unlock()

	k.persist.Stop()
	ctx, cancel := context.WithTimeout(context.Background(), closeFlushTimeout)
	defer cancel()
	return k.persistNow(ctx)
}

// Stats represents a snapshot of the engine's cached usage statistics.
// It is built from cached counters only and never touches the storage medium.
type Stats struct {
	TrackedKeys        int
	TotalSize          int64
	MaxStorageSize     int64
	UsageRatio         float64
	EvictedKeys        int64
	ExpiredKeys        int64
	RejectedInsertions int64
}

// String implements fmt.Stringer interface.
func (s Stats) String() string {
	return fmt.Sprintf("tracked %d keys, %s of %s used (%.0f%%), %d evicted, %d expired, %d rejected",
		s.TrackedKeys, bytefmt.ByteSize(uint64(maxInt64(s.TotalSize, 0))),
		bytefmt.ByteSize(uint64(maxInt64(s.MaxStorageSize, 0))),
		s.UsageRatio*100, s.EvictedKeys, s.ExpiredKeys, s.RejectedInsertions)
}

// Stats returns the engine's cached usage statistics.
func (k *Keeper) Stats() Stats {
	totalSize := k.cachedTotalSize.Load()
	maxSize := int64(k.cfg.MaxStorageSize)
	var usageRatio float64
	if maxSize > 0 {
		usageRatio = float64(totalSize) / float64(maxSize)
	}
	return Stats{
		TrackedKeys:        k.TrackedKeys(),
		TotalSize:          totalSize,
		MaxStorageSize:     maxSize,
		UsageRatio:         usageRatio,
		EvictedKeys:        k.evictedTotal.Load(),
		ExpiredKeys:        k.expiredTotal.Load(),
		RejectedInsertions: k.rejectedTotal.Load(),
	}
}

func (k *Keeper) persistNow(ctx context.Context) error {
	k.mu.Lock()
	data, err := encodeLedger(k.led, k.cfg.MaxLedgerEntries,
		time.Duration(k.cfg.MaxAccessAge).Milliseconds(), k.now().UnixMilli())
	k.mu.Unlock()
	if err != nil {
		k.logger.Error("failed to encode ledger snapshot", log.Error(err))
		return err
	}

	retryPolicy := retry.NewConstantBackoffPolicy(persistRetryInterval, persistRetryMaxAttempts)
	var notify backoff.Notify = func(retryErr error, delay time.Duration) {
		k.logger.Warn("retrying ledger snapshot persist",
			log.Error(retryErr), log.Duration("delay", delay))
	}
	err = retry.DoWithRetry(ctx, retryPolicy, nil, notify, func(ctx context.Context) error {
		return k.backend.Set(ctx, SnapshotKey, string(data))
	})
	if err != nil {
		// Best-effort persistence: the live ledger stays intact,
		// the next mutation schedules another attempt.
		k.logger.Error("failed to persist ledger snapshot", log.Error(err))
		return err
	}

	k.metrics.IncSnapshotSaves()
	if k.cfg.Debug {
		k.logger.Debugf("ledger snapshot persisted (%d bytes)", len(data))
	}
	return nil
}

// estimateItemSize determines the size of an item, preferring the medium's own
// accounting and falling back to a key+value estimate, then to a fixed default.
// Results are cached since eviction runs may re-examine the same keys.
func (k *Keeper) estimateItemSize(ctx context.Context, key string) int64 {
	if size, ok := k.sizeCache.Get(key); ok {
		return size
	}
	if size, found, err := k.backend.ItemSize(ctx, key); err == nil && found && size > 0 {
		k.sizeCache.Add(key, size)
		return size
	}
	if value, found, err := k.backend.Get(ctx, key); err == nil && found {
		size := storage.ItemSizeBytes(key, value)
		k.sizeCache.Add(key, size)
		return size
	}
	return defaultEstimatedItemSizeBytes
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
