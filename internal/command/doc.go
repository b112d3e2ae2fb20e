// Package command implements the dispatcher, the single entry point for
// the canonical operations.
//
// A dispatch validates the request, resolves the vendor adapter through the
// registry, invokes the matching adapter operation under the operation's
// timeout and returns either a result or a *model.Failure. Validation and
// resolution failures never reach an adapter. Adapter panics and stray
// errors are converted to INTERNAL_ERROR here, so callers always receive a
// normalized outcome. The dispatcher performs no retries.
package command
