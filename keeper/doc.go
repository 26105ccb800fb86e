/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

// Package keeper maintains a size-bounded key/value storage medium by tracking per-key usage
// and selecting the least valuable keys for eviction under capacity pressure.
//
// The engine does not hold values, only access metadata (the ledger). Every observed
// read or write is reported with Keeper.RecordAccess; when the caller detects capacity
// pressure it asks SelectEvictionCandidates for an ordered list of keys to remove and
// confirms the removal with OnEvicted. The ledger is persisted into the managed medium
// itself as a compact versioned snapshot on a debounced schedule, and reconstructed by
// the health and recovery subsystem when the snapshot is missing or damaged.
package keeper
