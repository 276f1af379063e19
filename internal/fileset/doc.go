// Package fileset builds the FILE-INDEX written at the root of every exported
// disc.
//
// The index is a strict four-level tree of PATIENT, STUDY, SERIES and instance
// records (IMAGE, PRESENTATION or PRIVATE). Items without a study or series
// identity are kept as PRIVATE records at the root. Each series record may
// carry one 8-bit icon rendered from the middle instance of the series the
// first time the series is seen. The finished tree is written with CBOR Core
// Deterministic Encoding so the same selection always yields the same bytes.
package fileset
