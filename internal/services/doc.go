// Package services defines shared utilities consumed by the pipeline stages
// and the external tool gateway.
//
// Key responsibilities:
//   - Context helpers that stamp run ids, archive names, and stage names for
//     logging.
//   - Structured error markers plus the Wrap helper so callers can tell I/O,
//     ledger, and tool failures apart from an orderly cancellation.
//
// The ipfunpack subpackage holds the gateway to the external unpacking tool.
package services
