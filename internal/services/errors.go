package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrResolutionSkip marks a selection node that produced no exportable item.
	ErrResolutionSkip = errors.New("resolution skipped")
	// ErrStagingSkip marks a per-item copy or encode failure; the job continues.
	ErrStagingSkip = errors.New("staging skipped")
	// ErrIndexInconsistency marks two identities that mapped to the same index entry.
	ErrIndexInconsistency = errors.New("index inconsistency")
	// ErrJobCancelled marks a job stopped at a cancellation checkpoint.
	ErrJobCancelled = errors.New("job cancelled")
	// ErrArchiveBuild marks a failure of the archive assembler.
	ErrArchiveBuild = errors.New("archive build failed")
	// ErrCleanup marks a staging removal failure; it never changes a job outcome.
	ErrCleanup = errors.New("cleanup failed")
	// ErrResource marks a failure to acquire the staging root or the index writer.
	ErrResource = errors.New("resource unavailable")
	// ErrJobInProgress is returned when a second job is submitted while one is running.
	ErrJobInProgress = errors.New("export job already running")
	// ErrConfiguration marks invalid user settings.
	ErrConfiguration = errors.New("configuration error")
	// ErrNotFound marks a missing job, preference, or file.
	ErrNotFound = errors.New("not found")
)

// Wrap builds an error message that includes phase context while tagging it with
// the provided marker for later classification. The marker should be one of the
// exported sentinel errors above.
func Wrap(marker error, phase, operation, message string, err error) error {
	detail := buildDetail(phase, operation, message)
	if marker == nil {
		marker = ErrStagingSkip
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// IsItemScoped reports whether err is a per-item failure the job tolerates.
func IsItemScoped(err error) bool {
	return errors.Is(err, ErrStagingSkip) || errors.Is(err, ErrResolutionSkip)
}

// Kind returns a short classification label for err, used in job records and logs.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrJobCancelled):
		return "cancelled"
	case errors.Is(err, ErrIndexInconsistency):
		return "index_inconsistency"
	case errors.Is(err, ErrArchiveBuild):
		return "archive_build"
	case errors.Is(err, ErrResource):
		return "resource"
	case errors.Is(err, ErrStagingSkip):
		return "staging_skip"
	case errors.Is(err, ErrResolutionSkip):
		return "resolution_skip"
	case errors.Is(err, ErrCleanup):
		return "cleanup"
	case errors.Is(err, ErrConfiguration):
		return "configuration"
	case errors.Is(err, ErrJobInProgress):
		return "in_progress"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	default:
		return "unknown"
	}
}

func buildDetail(phase, operation, message string) string {
	parts := make([]string, 0, 3)
	if phase = strings.TrimSpace(phase); phase != "" {
		parts = append(parts, phase)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "export failure"
	}
	return strings.Join(parts, ": ")
}
