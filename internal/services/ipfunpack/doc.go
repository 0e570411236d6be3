// Package ipfunpack launches the external ipf_unpack tool that decrypts and
// extracts .ipf archives.
//
// A Gateway call returns as soon as the tool has been started. The caller
// receives a one-shot channel that delivers exactly one Completion when the
// process exits, whatever its exit code. New selects the process-backed
// Client when the configured tool path names the known binary and falls back
// to Noop otherwise, so runs without the tool still walk every stage.
package ipfunpack
