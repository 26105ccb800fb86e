/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package keeper

// Each recorded access is worth one minute of simulated recency when
// deciding which records survive snapshot truncation.
const accessWeightMs = 60_000

// Items larger than this are eligible for the size-ordered eviction tier.
const largeItemSizeBytes = 5 * 1024

// AccessRecord holds the tracked usage metadata of a single key.
type AccessRecord struct {
	// LastAccess is the time of the last observed access, unix milliseconds.
	LastAccess int64

	// AccessCount is the number of observed accesses.
	AccessCount uint32

	// Size is the item size in bytes, 0 when not known yet.
	Size int64
}

// Weight combines recency and frequency into a single scalar.
// Records with the lowest weight are dropped first when the ledger
// is truncated at persistence time.
func (r AccessRecord) Weight() int64 {
	return r.LastAccess + int64(r.AccessCount)*accessWeightMs
}

// IsLarge reports whether the record's item crosses the large-item threshold.
func (r AccessRecord) IsLarge() bool {
	return r.Size > largeItemSizeBytes
}

func (r AccessRecord) isValid() bool {
	return r.LastAccess > 0 && r.AccessCount > 0
}

// ledger is the authoritative in-memory map from key to access metadata.
// It is not safe for concurrent use on its own; the engine serializes access to it.
type ledger struct {
	records map[string]AccessRecord
}

func newLedger() *ledger {
	return &ledger{records: make(map[string]AccessRecord)}
}

func (l *ledger) get(key string) (AccessRecord, bool) {
	rec, ok := l.records[key]
	return rec, ok
}

func (l *ledger) put(key string, rec AccessRecord) {
	l.records[key] = rec
}

func (l *ledger) remove(key string) {
	delete(l.records, key)
}

func (l *ledger) len() int {
	return len(l.records)
}

// touch creates or refreshes the record for the key and reports whether
// the key was seen for the first time. A zero sizeHint keeps the known size.
func (l *ledger) touch(key string, nowMs, sizeHint int64) (created bool, sizeDelta int64) {
	rec, ok := l.records[key]
	if !ok {
		rec = AccessRecord{LastAccess: nowMs, AccessCount: 1, Size: sizeHint}
		l.records[key] = rec
		return true, sizeHint
	}
	rec.LastAccess = nowMs
	rec.AccessCount++
	if sizeHint > 0 {
		sizeDelta = sizeHint - rec.Size
		rec.Size = sizeHint
	}
	l.records[key] = rec
	return false, sizeDelta
}
