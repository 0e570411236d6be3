// Command tospatch unpacks Tree of Savior .ipf archives through the external
// ipf_unpack tool.
//
// "tospatch run" discovers archives under the configured game directory (or
// takes them as arguments), stages a copy of each, decrypts and extracts it,
// and removes the staged copy. Progress is recorded as marker files in the
// run directory, so an interrupted run resumes where it stopped. The status,
// history and check commands inspect that state without processing anything;
// clean drops staged copies left by interrupted runs once their archive has
// been extracted, and logs tails the log file.
package main
