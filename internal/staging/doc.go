// Package staging materializes export items under a per-job staging root and
// maintains the staging directory between jobs.
//
// Layout maps every item to DICOM/<patient>/<study>/<series>/<instance> and,
// when renditions are enabled, to <folder>/<patient>/<study>/<series>/<n>.jpg.
// Writer performs the copies, encodes renditions and presentation objects, and
// reports each failure as a skip. Job directories are guarded by a lock file
// beside them; CleanStale and CleanOrphaned never touch a locked directory.
package staging
