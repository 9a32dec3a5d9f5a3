// Package errors provides standardized error handling patterns for DSP components.
//
// # Overview
//
// The package implements a three-class error classification system for stream
// processing runtimes: Transient (temporary, retryable), Invalid (bad input,
// non-retryable), and Fatal (unrecoverable, stop processing).
//
// Classification enables components to make informed decisions about retries,
// load shedding, and shutdown without hardcoded error string matching.
//
// # Quick Start
//
// Return standard error variables for known conditions:
//
//	if queueDepth >= capacity {
//	    return errors.ErrQueueFull
//	}
//
// Wrap third-party errors with component context:
//
//	if err := producer.Send(ctx, msg); err != nil {
//	    return errors.WrapTransient(err, "Producer", "Send", "enqueue")
//	}
//
// Check classification for retry logic:
//
//	if errors.IsTransient(err) {
//	    // back off and retry
//	} else if errors.IsFatal(err) {
//	    // stop processing, escalate to operator
//	}
//
// # Error Wrapping Pattern
//
// All error wrapping follows the standardized format:
//
//	"component.method: action failed: %w"
//
// This format enables consistent log parsing across the runtime. The Wrap
// family of functions applies the pattern while preserving classification
// through the chain, and all types support errors.Is/As/Unwrap.
package errors
