// Package main hosts the dicomdisc CLI entrypoint and command graph.
//
// The Cobra command tree scans a DICOM directory, resolves a selection, and
// runs one export job in-process, redrawing progress until the disc image is
// written. Interrupting the process cancels the job. The remaining commands
// inspect job history, edit the remembered export choices, sweep staging
// directories, print FILE-INDEX contents, and scaffold configuration.
//
// Keep this package lean: export behavior lives in internal/export and the
// packages beneath it; commands here only translate flags into options.
package main
