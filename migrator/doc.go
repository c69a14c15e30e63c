// Package migrator upgrades an on-disk SQLite store from the schema version
// it was written with to a target version of a schema catalog.
//
// A migration reads the catalog manifest, detects the store's version from
// the entity hashes embedded in the store, resolves a chain of declared
// mappings to the target, applies each step into scratch storage and
// finally swaps the result over the live store with a single rename. The
// live store is never written before that rename, so any failure leaves it
// byte-for-byte unchanged.
package migrator
