// Package selection models the user's checked-item tree and resolves it into
// exportable items.
//
// The live tree is owned by the invoking surface and guarded by Tree; export
// jobs take one Snapshot and never touch the live nodes again. A Resolver walks
// the snapshot in document order, collapses repeated references to the same
// SOP instance, and mints presentation objects for series whose annotations
// should be exported. Nodes that carry nothing exportable are logged and
// skipped.
package selection
