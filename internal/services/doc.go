// Package services defines shared utilities consumed by the export pipeline.
//
// Key responsibilities:
//   - Context helpers that stamp job IDs and phase names for logging.
//   - Structured error markers plus the Wrap helper that separate per-item
//     skips from job-fatal failures.
//
// Use these helpers when wiring new pipeline code so failure classification
// and observability stay uniform across phases.
package services
