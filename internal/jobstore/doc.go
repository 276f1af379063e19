// Package jobstore persists export job history and remembered user
// preferences in a SQLite database under the state directory.
//
// The schema is embedded and guarded by a version row; a mismatch fails Open
// with ErrSchemaMismatch instead of migrating. Jobs left non-terminal by a
// crashed process are moved to "interrupted" by MarkInterrupted at startup.
package jobstore
