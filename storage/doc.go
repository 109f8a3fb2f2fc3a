// Package storage defines the persistent storage adapter consumed by the
// transfer core, together with a local filesystem implementation.
//
// The transfer session only ever touches storage through the Storage and
// Handle interfaces: existence checks, free-space queries, truncating
// write opens, read opens, removal, and flat listing. Everything below
// that line (block allocation, wear leveling, directory layout) belongs
// to the storage engine and is out of scope.
//
// Local is the standard implementation: a single rooted directory with a
// byte quota. Peer-supplied names are confined to the root; directory
// traversal is rejected outright.
package storage
