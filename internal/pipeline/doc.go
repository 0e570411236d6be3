// Package pipeline drives .ipf archives through the unpack stages.
//
// Every archive is an Item whose stage moves strictly forward:
//
//	Gate -> Copy -> Decrypt -> Extract -> Remove -> Terminal
//
// or Gate -> Terminal when the file name fails the name pattern. Execute
// performs the current stage's work and Advance records completion in the
// ledger and moves to the successor. Copy, Decrypt and Extract consult the
// ledger first so a rerun after a crash skips work that already finished.
//
// The Orchestrator runs a bounded parallel phase that takes each item
// through Gate, Copy and Decrypt, then a sequential phase in path order for
// Extract and Remove. Cancellation is checked at every transition and
// interrupts blocked tool waits.
package pipeline
