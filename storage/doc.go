/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

// Package storage defines the contract for key/value storage mediums managed by the keeper engine
// and provides an in-memory implementation with capacity enforcement.
//
// A Backend holds string values under string keys and reports its own size.
// Backends may be synchronous (in-memory, local file) or asynchronous (remote stores);
// the uniform context-taking interface covers both, a synchronous backend simply
// never blocks on the context.
package storage
