// Package logs reads the daily dicomdisc log files for the CLI.
//
// Tail returns the last N matching lines of a file together with the byte
// offset to resume from; Follow polls from that offset until its context
// ends. A Filter narrows output to one export job, matching both the JSON
// job_id field and the short job prefix printed by the console handler.
package logs
