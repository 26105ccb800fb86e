/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package keeper

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
)

// snapshotVersion is the current version of the persisted ledger snapshot.
const snapshotVersion = 2

// snapshotDocument is the compact wire representation of the ledger.
// Keys are replaced with sequential base-62 short ids assigned in
// descending-weight order, access times are stored as deltas from a
// shared time base so that hot entries encode as small numbers.
type snapshotDocument struct {
	Version  int                `json:"v"`
	TimeBase int64              `json:"t,omitempty"`
	Keys     map[string]string  `json:"k"`
	Data     map[string][]int64 `json:"d"`
}

// encodeLedger serializes the ledger, keeping at most maxEntries records
// ordered by descending weight. Records older than maxAgeMs are dropped
// (0 disables the age limit). The result is deterministic for identical
// ledger state: weight ties are broken by key.
func encodeLedger(l *ledger, maxEntries int, maxAgeMs, nowMs int64) ([]byte, error) {
	type keyedRecord struct {
		key string
		rec AccessRecord
	}

	kept := make([]keyedRecord, 0, l.len())
	for key, rec := range l.records {
		if maxAgeMs > 0 && nowMs-rec.LastAccess > maxAgeMs {
			continue
		}
		kept = append(kept, keyedRecord{key, rec})
	}
	sort.Slice(kept, func(i, j int) bool {
		wi, wj := kept[i].rec.Weight(), kept[j].rec.Weight()
		if wi != wj {
			return wi > wj
		}
		return kept[i].key < kept[j].key
	})
	if len(kept) > maxEntries {
		kept = kept[:maxEntries]
	}

	doc := snapshotDocument{
		Version: snapshotVersion,
		Keys:    make(map[string]string, len(kept)),
		Data:    make(map[string][]int64, len(kept)),
	}
	for i := range kept {
		if kept[i].rec.LastAccess > doc.TimeBase {
			doc.TimeBase = kept[i].rec.LastAccess
		}
	}
	for i := range kept {
		shortID := encodeBase62(i)
		doc.Keys[shortID] = kept[i].key
		doc.Data[shortID] = []int64{
			doc.TimeBase - kept[i].rec.LastAccess,
			int64(kept[i].rec.AccessCount),
			kept[i].rec.Size,
		}
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal ledger snapshot: %w", err)
	}
	return data, nil
}

// decodeLedger deserializes a ledger snapshot.
// Version 2 documents and the legacy unversioned representation
// (key -> [lastAccess, accessCount, size]) are both accepted.
// A document of any other version decodes to an empty ledger so that
// the caller's recovery path can rebuild it. Malformed entries are
// skipped rather than failing the whole decode.
func decodeLedger(data []byte) (*ledger, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("unmarshal ledger snapshot: %w", err)
	}

	rawVersion, versioned := raw["v"]
	if !versioned {
		return decodeLegacyLedger(raw), nil
	}

	var version int
	if err := json.Unmarshal(rawVersion, &version); err != nil {
		return nil, fmt.Errorf("unmarshal ledger snapshot version: %w", err)
	}
	if version != snapshotVersion {
		return newLedger(), nil
	}

	var timeBase int64
	if rawTimeBase, ok := raw["t"]; ok {
		if err := json.Unmarshal(rawTimeBase, &timeBase); err != nil {
			return nil, fmt.Errorf("unmarshal ledger snapshot time base: %w", err)
		}
	}
	var keys map[string]string
	if rawKeys, ok := raw["k"]; ok {
		if err := json.Unmarshal(rawKeys, &keys); err != nil {
			return nil, fmt.Errorf("unmarshal ledger snapshot keys: %w", err)
		}
	}
	var entries map[string]json.RawMessage
	if rawData, ok := raw["d"]; ok {
		if err := json.Unmarshal(rawData, &entries); err != nil {
			return nil, fmt.Errorf("unmarshal ledger snapshot data: %w", err)
		}
	}

	l := newLedger()
	for shortID, rawEntry := range entries {
		key, ok := keys[shortID]
		if !ok {
			continue
		}
		rec, ok := parseSnapshotEntry(rawEntry, timeBase)
		if !ok {
			continue
		}
		l.put(key, rec)
	}
	return l, nil
}

func decodeLegacyLedger(raw map[string]json.RawMessage) *ledger {
	l := newLedger()
	for key, rawEntry := range raw {
		rec, ok := parseSnapshotEntry(rawEntry, 0)
		if !ok {
			continue
		}
		l.put(key, rec)
	}
	return l
}

// parseSnapshotEntry parses a [first, accessCount, size] triple.
// With a non-zero timeBase the first element is a time delta,
// otherwise (legacy) it is the absolute last-access time.
func parseSnapshotEntry(rawEntry json.RawMessage, timeBase int64) (AccessRecord, bool) {
	var fields []int64
	if err := json.Unmarshal(rawEntry, &fields); err != nil {
		return AccessRecord{}, false
	}
	if len(fields) != 3 {
		return AccessRecord{}, false
	}
	lastAccess := fields[0]
	if timeBase != 0 {
		if fields[0] < 0 {
			return AccessRecord{}, false
		}
		lastAccess = timeBase - fields[0]
	}
	if lastAccess < 0 || fields[1] < 0 || fields[1] > math.MaxUint32 || fields[2] < 0 {
		return AccessRecord{}, false
	}
	return AccessRecord{
		LastAccess:  lastAccess,
		AccessCount: uint32(fields[1]),
		Size:        fields[2],
	}, true
}

const base62Digits = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

func encodeBase62(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [8]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = base62Digits[n%62]
		n /= 62
	}
	return string(buf[i:])
}
