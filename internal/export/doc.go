// Package export runs export jobs: it resolves a selection snapshot, stages
// and indexes every item, optionally adds a viewer bundle, and hands the
// staging root to the archive builder.
//
// One job runs per Exporter on a single background goroutine. Items are
// processed strictly in resolution order so the index sees series in the
// order they were selected. Cancellation is observed before each item and
// before assembly; an item already in progress completes. The job's staging
// directory is removed on every exit.
package export
