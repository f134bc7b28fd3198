package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Storage backends and the ledger
// return these (optionally wrapped) so services can translate them into
// domain errors.
//
// These represent factual states about resources, not validation failures:
// - ErrNotFound: key or entry does not exist
// - ErrConflict: a compare-and-swap commit observed a newer version
// - ErrUnavailable: backend temporarily unavailable
// - ErrCorrupt: stored bytes failed an integrity check
//
// For validation errors (bad input, missing fields), use pkg/domain-errors directly.
var (
	ErrNotFound    = errors.New("not found")
	ErrConflict    = errors.New("conflict")
	ErrUnavailable = errors.New("unavailable")
	ErrCorrupt     = errors.New("corrupt")
)
