// Package indexer holds the lookup structures behind the state cache:
// interned tables that map component and entity ids to dense indices, and
// a per-component bitmap index of the entities holding a value.
package indexer
