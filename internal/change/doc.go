// Package change defines the semantic change records produced from raw
// filesystem notifications and the per-watch deduplicator that converts one
// into the other.
//
// A single logical operation (copying a file, an editor saving) usually
// raises several raw notifications. The Deduplicator remembers the last
// record it saw for its watch and suppresses the extra ones, so downstream
// stages see one Record per operation.
package change
