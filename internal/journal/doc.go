// Package journal keeps a SQLite history of tospatch runs.
//
// The journal is informational: it records when each run started, how it
// ended and where every archive stopped. Resumption never reads it; the
// completion ledger stays authoritative. Only the goroutine driving a run
// writes to the journal.
package journal
