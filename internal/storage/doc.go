// Package storage is a small document store made of named collections.
//
// Each collection is either a map (key to JSON document) or a sequence
// (ordered JSON documents). Shapes come from a static Schema given to Open.
// Writes are atomic, and Transact serializes read-modify-write per
// collection: calls on different collections never block each other.
//
// Backends:
//   - "file": one <collection>.json per collection, replaced via a
//     fsynced temp sibling and rename
//   - "sqlite": one row per collection in a pure Go SQLite database
package storage
