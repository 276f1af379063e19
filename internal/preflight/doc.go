// Package preflight provides readiness checks for the filesystem paths and
// bundles that dicomdisc depends on.
//
// These checks run in two contexts:
//   - The exporter calls CheckFreeSpace before creating a job's staging
//     directory so a full disk fails the job before any copying starts.
//   - The CLI "dicomdisc check" command runs RunAll to display readiness.
//
// Each check is gated by its config toggle -- disabled features are skipped.
package preflight
